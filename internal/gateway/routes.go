package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/shopgate/pkg/event"
)

// Service は転送先のバックエンドサービス。
type Service string

const (
	// ServiceClients はユーザー管理サービス。
	ServiceClients Service = "clients"
	// ServiceTickets はサポートチケットサービス。
	ServiceTickets Service = "tickets"
	// ServiceProducts は商品カタログサービス。
	ServiceProducts Service = "products"
)

// PayloadInput はイベントペイロードの組み立てに使う値。
type PayloadInput struct {
	// Params はパスパラメータ（ルート定義上の名前をキーとする）。
	Params map[string]string
	// Body はクライアントのリクエストボディ。無い場合はnil。
	Body []byte
	// Response はバックエンドのレスポンスボディ。
	Response json.RawMessage
	// Now はペイロードに刻む時刻。
	Now time.Time
}

// PayloadBuilder はリクエストとレスポンスからイベントペイロードを組み立てる。
type PayloadBuilder func(in PayloadInput) any

// RouteDescriptor はルートテーブルの1エントリ。起動時に一度だけ定義され、以後変更されない。
type RouteDescriptor struct {
	// Method はHTTPメソッド。
	Method string
	// Path はクライアント向けのパスパターン。":name" でパラメータを表す。
	Path string
	// Upstream は転送先サービス。
	Upstream Service
	// UpstreamPath は転送先のパステンプレート。Pathと同じ名前のパラメータを使う。
	UpstreamPath string
	// EventTopic は成功時に送信するイベントのトピック。空ならイベントは送信しない。
	EventTopic event.Topic
	// Payload はイベントペイロードを組み立てる関数。nilならタイムスタンプのみを送る。
	Payload PayloadBuilder
}

// payloadField はパスパラメータをペイロードのキーに対応付ける。
type payloadField struct {
	param string
	key   string
}

// param はパスパラメータparamをペイロードのkeyとして含める指定を返す。
func param(name, key string) payloadField {
	return payloadField{param: name, key: key}
}

// payload はタイムスタンプ、指定されたパスパラメータ、リクエストボディ（bodyKeyが空でなければ）
// からなるペイロードを組み立てるPayloadBuilderを返す。
func payload(bodyKey string, fields ...payloadField) PayloadBuilder {
	return func(in PayloadInput) any {
		p := map[string]any{
			"timestamp": in.Now.UTC().Format(time.RFC3339Nano),
		}
		for _, f := range fields {
			p[f.key] = in.Params[f.param]
		}
		if bodyKey != "" && len(in.Body) > 0 {
			if json.Valid(in.Body) {
				p[bodyKey] = json.RawMessage(in.Body)
			} else {
				p[bodyKey] = string(in.Body)
			}
		}
		return p
	}
}

// DefaultRoutes はGatewayが公開するルートの一覧を返す。
func DefaultRoutes() []RouteDescriptor {
	return []RouteDescriptor{
		// ユーザー
		{Method: http.MethodGet, Path: "/users", Upstream: ServiceClients, UpstreamPath: "/users",
			EventTopic: event.TopicUserList, Payload: payload("")},
		{Method: http.MethodGet, Path: "/users/:id", Upstream: ServiceClients, UpstreamPath: "/users/:id",
			EventTopic: event.TopicUserDetails, Payload: payload("", param("id", "userId"))},
		{Method: http.MethodPost, Path: "/users", Upstream: ServiceClients, UpstreamPath: "/users",
			EventTopic: event.TopicUserCreation, Payload: payload("user")},
		{Method: http.MethodPut, Path: "/users/:id", Upstream: ServiceClients, UpstreamPath: "/users/:id",
			EventTopic: event.TopicUserUpdate, Payload: payload("user", param("id", "userId"))},
		{Method: http.MethodDelete, Path: "/users/:id", Upstream: ServiceClients, UpstreamPath: "/users/:id",
			EventTopic: event.TopicUserDeletion, Payload: payload("", param("id", "userId"))},

		// チケット
		{Method: http.MethodPost, Path: "/tickets", Upstream: ServiceTickets, UpstreamPath: "/tickets",
			EventTopic: event.TopicUserTickets, Payload: payload("ticket")},
		{Method: http.MethodGet, Path: "/tickets/:id", Upstream: ServiceTickets, UpstreamPath: "/tickets/:id",
			EventTopic: event.TopicUserTickets, Payload: payload("", param("id", "ticketId"))},
		{Method: http.MethodGet, Path: "/users/:userId/tickets", Upstream: ServiceTickets, UpstreamPath: "/users/:userId/tickets",
			EventTopic: event.TopicUserTickets, Payload: payload("", param("userId", "userId"))},
		{Method: http.MethodGet, Path: "/products/:productId/tickets", Upstream: ServiceTickets, UpstreamPath: "/products/:productId/tickets",
			EventTopic: event.TopicProductTickets, Payload: payload("", param("productId", "productId"))},

		// 商品
		{Method: http.MethodGet, Path: "/products/:productId", Upstream: ServiceProducts, UpstreamPath: "/products/:productId",
			EventTopic: event.TopicProductDetails, Payload: payload("", param("productId", "productId"))},
		{Method: http.MethodGet, Path: "/products", Upstream: ServiceProducts, UpstreamPath: "/products",
			EventTopic: event.TopicProductList, Payload: payload("")},
		{Method: http.MethodGet, Path: "/products/category/:category", Upstream: ServiceProducts, UpstreamPath: "/products/category/:category",
			EventTopic: event.TopicProductCategory, Payload: payload("", param("category", "category"))},
		{Method: http.MethodPost, Path: "/products", Upstream: ServiceProducts, UpstreamPath: "/products",
			EventTopic: event.TopicProductCreation, Payload: payload("product")},
		{Method: http.MethodPut, Path: "/products/:id", Upstream: ServiceProducts, UpstreamPath: "/products/:id",
			EventTopic: event.TopicProductUpdate, Payload: payload("product", param("id", "productId"))},
	}
}

// route はルーターに登録可能な形にコンパイルされたRouteDescriptor。
type route struct {
	RouteDescriptor
	// ginPath はパラメータ名を位置ベースの名前（:p0, :p1 ...）に置き換えたパス。
	// 同じ位置のパラメータ名が異なるルート同士をGinの木で共存させるために使う。
	ginPath string
	// params はPath中のパラメータ名（出現順）。
	params []string
}

// RouteTable は静的なルートテーブル。(Method, Path) の組は一意。
type RouteTable struct {
	routes []route
}

// knownServices は転送先として有効なサービス。
var knownServices = map[Service]struct{}{
	ServiceClients:  {},
	ServiceTickets:  {},
	ServiceProducts: {},
}

// NewRouteTable はルート定義を検証してRouteTableを生成する。
// パラメータの位置だけが異なるパス（/users/:id と /users/:userId）は同じ形とみなし重複として扱う。
func NewRouteTable(descriptors []RouteDescriptor) (*RouteTable, error) {
	seen := make(map[string]string, len(descriptors))
	routes := make([]route, 0, len(descriptors))

	for _, d := range descriptors {
		if d.Method == "" {
			return nil, fmt.Errorf("ルート %s のメソッドが空です", d.Path)
		}
		if !strings.HasPrefix(d.Path, "/") || !strings.HasPrefix(d.UpstreamPath, "/") {
			return nil, fmt.Errorf("ルート %s %s のパスは / で始まる必要があります", d.Method, d.Path)
		}
		if _, ok := knownServices[d.Upstream]; !ok {
			return nil, fmt.Errorf("ルート %s %s の転送先 %q は未知のサービスです", d.Method, d.Path, d.Upstream)
		}

		ginPath, params, err := compilePath(d.Path)
		if err != nil {
			return nil, fmt.Errorf("ルート %s %s: %w", d.Method, d.Path, err)
		}
		if err := checkTemplate(d.UpstreamPath, params); err != nil {
			return nil, fmt.Errorf("ルート %s %s: %w", d.Method, d.Path, err)
		}

		key := d.Method + " " + ginPath
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("ルート %s %s は %s と重複しています", d.Method, d.Path, prev)
		}
		seen[key] = d.Path

		routes = append(routes, route{RouteDescriptor: d, ginPath: ginPath, params: params})
	}
	return &RouteTable{routes: routes}, nil
}

// Routes はテーブルに含まれるルート定義を返す。
func (t *RouteTable) Routes() []RouteDescriptor {
	out := make([]RouteDescriptor, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r.RouteDescriptor)
	}
	return out
}

// compilePath はパスパターンを位置ベースのGin用パスとパラメータ名の一覧に変換する。
func compilePath(path string) (string, []string, error) {
	segments := strings.Split(path, "/")
	var params []string
	seen := make(map[string]struct{})

	for i, seg := range segments {
		if strings.ContainsAny(seg, "*") {
			return "", nil, fmt.Errorf("ワイルドカードは使用できません: %q", seg)
		}
		name, ok := strings.CutPrefix(seg, ":")
		if !ok {
			continue
		}
		if name == "" {
			return "", nil, fmt.Errorf("パラメータ名が空です")
		}
		if _, dup := seen[name]; dup {
			return "", nil, fmt.Errorf("パラメータ %q が重複しています", name)
		}
		seen[name] = struct{}{}
		segments[i] = fmt.Sprintf(":p%d", len(params))
		params = append(params, name)
	}
	return strings.Join(segments, "/"), params, nil
}

// checkTemplate は転送先テンプレートのパラメータがすべてパスパターンに存在することを確認する。
func checkTemplate(template string, params []string) error {
	known := make(map[string]struct{}, len(params))
	for _, p := range params {
		known[p] = struct{}{}
	}
	for _, seg := range strings.Split(template, "/") {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			if _, ok := known[name]; !ok {
				return fmt.Errorf("転送先テンプレートのパラメータ %q がパスにありません", name)
			}
		}
	}
	return nil
}

// extractParams はGinが位置ベースで抽出したパラメータをルート定義上の名前に対応付ける。
func (r route) extractParams(c *gin.Context) map[string]string {
	values := make(map[string]string, len(r.params))
	for i, name := range r.params {
		values[name] = c.Param(fmt.Sprintf("p%d", i))
	}
	return values
}

// expandPath はテンプレートのパラメータを値でそのまま置き換える。再エンコードはしない。
func expandPath(template string, params map[string]string) string {
	segments := strings.Split(template, "/")
	for i, seg := range segments {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			segments[i] = params[name]
		}
	}
	return strings.Join(segments, "/")
}

// buildPayload はルートのイベントペイロードを組み立てる。
func (r route) buildPayload(in PayloadInput) any {
	if r.Payload == nil {
		return map[string]any{"timestamp": in.Now.UTC().Format(time.RFC3339Nano)}
	}
	return r.Payload(in)
}
