package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsAllowedMethods はプリフライトで許可するメソッド。Gatewayが公開するルートのメソッドに揃える。
var corsAllowedMethods = strings.Join([]string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodOptions,
}, ", ")

// corsAllowedHeaders はクライアントが送信できるリクエストヘッダー。
const corsAllowedHeaders = "Authorization, Content-Type"

// corsMaxAge はプリフライト結果のキャッシュ秒数。
const corsMaxAge = "86400"

// originPolicy は許可するオリジンの集合。
type originPolicy struct {
	any     bool
	origins map[string]struct{}
}

// newOriginPolicy はオリジンの一覧から判定用の集合を作る。"*" は全オリジンの許可を表す。
func newOriginPolicy(allowedOrigins []string) originPolicy {
	p := originPolicy{origins: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		if o == "*" {
			p.any = true
			continue
		}
		p.origins[o] = struct{}{}
	}
	return p
}

// allows はoriginが許可されているかを返す。Originヘッダーの無いリクエストは対象外。
func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.any {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// allowedOriginsに "*" を含めると全オリジンを許可する。
// Access-Control-Request-Methodを伴うOPTIONSリクエストはプリフライトとして204で応答する。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	policy := newOriginPolicy(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		c.Writer.Header().Add("Vary", "Origin")

		if policy.allows(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", corsAllowedMethods)
			c.Header("Access-Control-Allow-Headers", corsAllowedHeaders)
			c.Header("Access-Control-Expose-Headers", headerKeyRequestID)
			c.Header("Access-Control-Max-Age", corsMaxAge)
		}

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
