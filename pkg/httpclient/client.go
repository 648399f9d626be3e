package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// FallbackErrorMessage はバックエンドのエラーボディからメッセージを取り出せない場合に使用する。
	FallbackErrorMessage = "An error occurred"
	// TransportErrorMessage はバックエンドに到達できなかった場合に使用する。
	TransportErrorMessage = "Failed to reach upstream service"
	// InvalidResponseMessage は2xx応答のボディがJSONでない場合に使用する。
	InvalidResponseMessage = "Invalid JSON response from upstream"
)

// Client はバックエンドサービス呼び出し用のHTTPクライアント。
// リトライは行わない。タイムアウトはWithTimeoutで指定しない限り無制限。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
}

// Option はClientの生成オプション。
type Option func(*Client)

// WithTimeout はリクエスト全体のタイムアウトを設定する。0は無制限を表す。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithTransport は使用するRoundTripperを差し替える。トレーシング用のラップ等に使う。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.httpClient.Transport = rt
		}
	}
}

// New は新しいバックエンド呼び出し用HTTPクライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "http://localhost:3000"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL は接続先サービスのベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response はバックエンドの成功応答。
type Response struct {
	// StatusCode はバックエンドが返した2xxのステータスコード。
	StatusCode int
	// Body はJSONとして妥当なレスポンスボディ。空ボディの場合はnull。
	Body json.RawMessage
}

// Error はバックエンド呼び出しの失敗を表す。
// 非2xx応答と通信エラーの両方をこの型で表す。
type Error struct {
	// Message はクライアントに返すメッセージ。
	Message string
	// StatusCode はバックエンドのステータスコード。通信エラーの場合は0。
	StatusCode int
	// Body はバックエンドが返したJSONボディ。JSONでなかった場合はnil。
	Body json.RawMessage
	// Err は通信エラー等の元のエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status=%d)", e.Message, e.StatusCode)
	}
	return e.Message
}

// Unwrap は元のエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Do はバックエンドにリクエストを1回だけ送信する。
// bodyはそのままリクエストボディとして送られ、Content-Typeはapplication/jsonに固定される。
// 2xx以外の応答とJSONでない2xx応答は*Errorとして返す。
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, &Error{Message: TransportErrorMessage, Err: fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: TransportErrorMessage, Err: fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Message: TransportErrorMessage, StatusCode: resp.StatusCode, Err: fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstreamError(resp.StatusCode, respBody)
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return &Response{StatusCode: resp.StatusCode, Body: json.RawMessage("null")}, nil
	}
	if !json.Valid(respBody) {
		return nil, &Error{Message: InvalidResponseMessage, StatusCode: resp.StatusCode, Err: errors.New("レスポンスボディがJSONではありません")}
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// upstreamError は非2xx応答からErrorを組み立てる。
// ボディがJSONで文字列のmessageフィールドを持てばそれをメッセージに使う。
func upstreamError(status int, body []byte) *Error {
	e := &Error{Message: FallbackErrorMessage, StatusCode: status}
	if !json.Valid(body) {
		return e
	}
	e.Body = body

	var parsed struct {
		Message any `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return e
	}
	if msg, ok := parsed.Message.(string); ok && msg != "" {
		e.Message = msg
	}
	return e
}
