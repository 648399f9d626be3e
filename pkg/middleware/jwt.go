package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// Email はログイン時に送信されたメールアドレス。
	Email string `json:"email"`
}

// tokenIssuer はGatewayが発行するトークンのiss クレーム。
const tokenIssuer = "shopgate"

// contextKeySubject はGinコンテキストに認証済みサブジェクトを格納するキー。
const contextKeySubject = "subject"

// AuthErrorKind は認証失敗の種類を表す。
type AuthErrorKind int

const (
	// AuthErrorMissing はAuthorizationヘッダーが存在しないことを表す。
	AuthErrorMissing AuthErrorKind = iota + 1
	// AuthErrorMalformed はヘッダーの形式が "Bearer <token>" でないことを表す。
	AuthErrorMalformed
	// AuthErrorInvalid は署名検証または有効期限の検証に失敗したことを表す。
	AuthErrorInvalid
)

// Message はクライアントに返すエラーメッセージを返す。
func (k AuthErrorKind) Message() string {
	switch k {
	case AuthErrorMissing:
		return "No token provided"
	case AuthErrorMalformed:
		return "Token malformatted"
	case AuthErrorInvalid:
		return "Token invalid"
	default:
		return "Unauthorized"
	}
}

// String はメトリクスのラベル等に使う短い名前を返す。
func (k AuthErrorKind) String() string {
	switch k {
	case AuthErrorMissing:
		return "missing"
	case AuthErrorMalformed:
		return "malformed"
	case AuthErrorInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// AuthError は認証ゲートで検出されたエラー。
type AuthError struct {
	// Kind は失敗の種類。
	Kind AuthErrorKind
	// Err は検証ライブラリが返した元のエラー。Invalidの場合のみ設定される。
	Err error
}

// Error はエラーメッセージを返す。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind.Message(), e.Err)
	}
	return e.Kind.Message()
}

// Unwrap は元のエラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// GenerateJWT はサブジェクトとメールアドレスから署名済みトークンを生成する。
// 有効期限は issuedAt + ttl となる。
func GenerateJWT(secret, subject, email string, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			Issuer:    tokenIssuer,
		},
		Email: email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// VerifyToken はトークンの署名と有効期限を検証し、クレームを返す。
// 検証は (token, secret, now) のみに依存する純粋な処理で、外部状態は参照しない。
func VerifyToken(tokenString, secret string, now time.Time) (*JWTClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	claims := &JWTClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, &AuthError{Kind: AuthErrorInvalid, Err: err}
	}
	if !token.Valid {
		return nil, &AuthError{Kind: AuthErrorInvalid, Err: errors.New("トークンが無効です")}
	}
	return claims, nil
}

// Authorize はAuthorizationヘッダーの値を検証する。
// ヘッダーは空白で区切られたちょうど2つの要素からなり、スキームは大文字小文字を区別せず "Bearer" でなければならない。
func Authorize(header, secret string, now time.Time) (*JWTClaims, error) {
	if header == "" {
		return nil, &AuthError{Kind: AuthErrorMissing}
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return nil, &AuthError{Kind: AuthErrorMalformed}
	}

	return VerifyToken(parts[1], secret, now)
}

// JWTAuth は認証ゲートとして動作するGinミドルウェアを返す。
// 検証に失敗した場合は401で処理を打ち切り、以降のハンドラは呼ばれない。
// onDenyがnilでなければ、拒否のたびに失敗の種類とともに呼び出される。
func JWTAuth(secret string, now func() time.Time, onDeny func(AuthErrorKind)) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		claims, err := Authorize(c.GetHeader("Authorization"), secret, now())
		if err != nil {
			kind := AuthErrorInvalid
			var authErr *AuthError
			if errors.As(err, &authErr) {
				kind = authErr.Kind
			}
			if onDeny != nil {
				onDeny(kind)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": kind.Message(),
			})
			return
		}

		c.Set(contextKeySubject, claims.Subject)
		c.Next()
	}
}

// GetSubject はGinコンテキストから認証済みサブジェクトを取得する。
// JWTAuthミドルウェアが事前に適用されていない場合は空文字列を返す。
func GetSubject(c *gin.Context) string {
	subject, _ := c.Get(contextKeySubject)
	if s, ok := subject.(string); ok {
		return s
	}
	return ""
}
