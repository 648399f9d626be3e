// Package metrics はGatewayのPrometheusメトリクスを定義する。
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "shopgate"
)

var (
	// RequestsTotal はルートとステータスごとのリクエスト数。
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the gateway",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration はリクエスト全体の処理時間。
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// UpstreamDuration はバックエンド呼び出しの所要時間。
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "duration_seconds",
			Help:      "Time spent waiting for upstream services",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "result"},
	)

	// AuthDenials は認証ゲートで拒否されたリクエスト数。
	AuthDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "denials_total",
			Help:      "Total number of requests rejected by the auth gate",
		},
		[]string{"reason"},
	)

	// TokensIssued はログインで発行されたトークン数。
	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "tokens_issued_total",
			Help:      "Total number of tokens issued by the login route",
		},
	)
)

// Upstream結果のラベル値。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// ObserveUpstream はバックエンド呼び出しの結果と所要時間を記録する。
func ObserveUpstream(service string, start time.Time, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	UpstreamDuration.WithLabelValues(service, result).Observe(time.Since(start).Seconds())
}

// Middleware はリクエスト数と処理時間を記録するGinミドルウェアを返す。
// 未登録のパスはrouteラベルを "unmatched" にまとめる。
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
