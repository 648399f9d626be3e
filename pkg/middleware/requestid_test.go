package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TestRequestID はRequestIDミドルウェアを検証する。
func TestRequestID(t *testing.T) {
	t.Parallel()

	t.Run("UUID形式のリクエストIDがヘッダーとコンテキストに設定されること", func(t *testing.T) {
		t.Parallel()

		var fromContext string
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			fromContext = GetRequestID(c)
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		header := w.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(header); err != nil {
			t.Fatalf("X-Request-ID = %q はUUIDではない: %v", header, err)
		}
		if fromContext != header {
			t.Errorf("GetRequestID() = %q, want %q", fromContext, header)
		}
	})

	t.Run("クライアントが送ったX-Request-IDは使われないこと", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Request-ID", "client-supplied")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); got == "client-supplied" {
			t.Error("クライアントのX-Request-IDがそのまま返された")
		}
	})

	t.Run("ミドルウェア未適用の場合は空文字列が返ること", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		if got := GetRequestID(c); got != "" {
			t.Errorf("GetRequestID() = %q, want empty string", got)
		}
	})
}

// TestLogger はLoggerミドルウェアを検証する。
func TestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{name: "2xxはINFOで記録されること", status: http.StatusOK, wantLevel: "INFO"},
		{name: "4xxはWARNで記録されること", status: http.StatusUnauthorized, wantLevel: "WARN"},
		{name: "5xxはERRORで記録されること", status: http.StatusInternalServerError, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			router := gin.New()
			router.Use(RequestID(), Logger(slog.New(slog.NewJSONHandler(&buf, nil))))
			router.GET("/items/:id", func(c *gin.Context) { c.Status(tt.status) })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/7", nil))

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("ログのパースに失敗: %v (%s)", err, buf.String())
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %v", entry["level"], tt.wantLevel)
			}
			if entry["route"] != "/items/:id" {
				t.Errorf("route = %v, want %v", entry["route"], "/items/:id")
			}
			if entry["path"] != "/items/7" {
				t.Errorf("path = %v, want %v", entry["path"], "/items/7")
			}
			if int(entry["status"].(float64)) != tt.status {
				t.Errorf("status = %v, want %v", entry["status"], tt.status)
			}
			if entry["request_id"] != w.Header().Get("X-Request-ID") {
				t.Errorf("request_id = %v, want %v", entry["request_id"], w.Header().Get("X-Request-ID"))
			}
		})
	}
}
