package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/shopgate/internal/metrics"
	"github.com/nao1215/shopgate/pkg/httpclient"
	"github.com/nao1215/shopgate/pkg/middleware"
)

// ErrorEnvelope はGatewayが返すエラーレスポンスの形式。
type ErrorEnvelope struct {
	// Error はクライアント向けのエラーメッセージ。
	Error string `json:"error"`
	// OriginalError はバックエンドが返したエラーボディ。
	OriginalError json.RawMessage `json:"originalError,omitempty"`
}

// handleForward はルート定義に従ってリクエストをバックエンドへ転送するハンドラを返す。
// 成功時はバックエンドのボディを200でそのまま返し、その後イベントを送信する。
func (s *Server) handleForward(r route) gin.HandlerFunc {
	client := s.upstreams[r.Upstream]

	return func(c *gin.Context) {
		params := r.extractParams(c)
		path := expandPath(r.UpstreamPath, params)
		if c.Request.URL.RawQuery != "" {
			path += "?" + c.Request.URL.RawQuery
		}

		var body []byte
		if c.Request.Body != nil {
			b, err := io.ReadAll(c.Request.Body)
			if err != nil {
				c.JSON(http.StatusBadRequest, ErrorEnvelope{Error: "Failed to read request body"})
				return
			}
			body = b
		}

		// クライアントの切断でバックエンド呼び出しを中断しない
		ctx := context.WithoutCancel(c.Request.Context())
		start := time.Now()
		resp, err := client.Do(ctx, r.Method, path, body)
		metrics.ObserveUpstream(string(r.Upstream), start, err)
		if err != nil {
			s.respondUpstreamError(c, r, err)
			return
		}

		c.Data(http.StatusOK, "application/json; charset=utf-8", resp.Body)

		if r.EventTopic == "" {
			return
		}
		s.publisher.Publish(r.EventTopic, r.buildPayload(PayloadInput{
			Params:   params,
			Body:     body,
			Response: resp.Body,
			Now:      s.now(),
		}))
	}
}

// respondUpstreamError はバックエンド呼び出しの失敗を500のエラーエンベロープに変換する。
// 通信エラーの詳細はクライアントに返さずログにのみ出力する。
func (s *Server) respondUpstreamError(c *gin.Context, r route, err error) {
	envelope := ErrorEnvelope{Error: httpclient.FallbackErrorMessage}

	var upErr *httpclient.Error
	if errors.As(err, &upErr) {
		envelope.Error = upErr.Message
		envelope.OriginalError = upErr.Body
	}

	s.logger.Warn("upstream call failed",
		slog.String("request_id", middleware.GetRequestID(c)),
		slog.String("service", string(r.Upstream)),
		slog.String("method", r.Method),
		slog.String("route", r.Path),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, envelope)
}
