package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nao1215/shopgate/internal/config"
	"github.com/nao1215/shopgate/internal/metrics"
	"github.com/nao1215/shopgate/pkg/httpclient"
	"github.com/nao1215/shopgate/pkg/middleware"
	"github.com/nao1215/shopgate/pkg/publisher"
)

// serviceName はログやトレースに使うサービス名。
const serviceName = "gateway"

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はGatewayの設定。
	cfg *config.Config
	// logger は構造化ロガー。
	logger *slog.Logger
	// descriptors はルートテーブルの元になるルート定義。
	descriptors []RouteDescriptor
	// routes は転送ルートのテーブル。
	routes *RouteTable
	// upstreams はサービスごとのバックエンドクライアント。
	upstreams map[Service]*httpclient.Client
	// publisher はイベントの送信先。
	publisher publisher.Publisher
	// transport はバックエンド呼び出しに使うトランスポート。nilなら既定値。
	transport http.RoundTripper
	// now は現在時刻を返す関数。
	now func() time.Time
}

// Option はServerの生成オプション。
type Option func(*Server)

// WithPublisher はイベントの送信先を設定する。
func WithPublisher(p publisher.Publisher) Option {
	return func(s *Server) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock は現在時刻の取得関数を設定する。
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithUpstreamTransport はバックエンド呼び出しのトランスポートを設定する。
func WithUpstreamTransport(rt http.RoundTripper) Option {
	return func(s *Server) {
		s.transport = rt
	}
}

// WithRoutes は既定のルートテーブルの代わりに使うルート定義を設定する。
func WithRoutes(routes []RouteDescriptor) Option {
	return func(s *Server) {
		s.descriptors = routes
	}
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("設定がnilです")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		publisher: publisher.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.descriptors == nil {
		s.descriptors = DefaultRoutes()
	}
	table, err := NewRouteTable(s.descriptors)
	if err != nil {
		return nil, fmt.Errorf("ルートテーブルの構築に失敗: %w", err)
	}
	s.routes = table

	clientOpts := []httpclient.Option{
		httpclient.WithTimeout(cfg.Upstream.Timeout),
		httpclient.WithTransport(s.transport),
	}
	s.upstreams = map[Service]*httpclient.Client{
		ServiceClients:  httpclient.New(cfg.Upstream.Clients, clientOpts...),
		ServiceTickets:  httpclient.New(cfg.Upstream.Tickets, clientOpts...),
		ServiceProducts: httpclient.New(cfg.Upstream.Products, clientOpts...),
	}

	router := gin.New()
	// パスパラメータはデコードせずクライアントが送った値のまま扱う
	router.UseRawPath = true
	router.UnescapePathValues = false
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	s.router = router

	s.setupRoutes()
	return s, nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorEnvelope{Error: "Not found"})
	})

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	if s.cfg.Metrics.Enabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := s.router.Group("/")
	if s.cfg.Auth.Enabled {
		// ログイン（認証不要）
		s.router.POST("/login", s.handleLogin())

		api.Use(middleware.JWTAuth(s.cfg.Auth.Secret, s.now, func(kind middleware.AuthErrorKind) {
			metrics.AuthDenials.WithLabelValues(kind.String()).Inc()
		}))
	}

	for _, r := range s.routes.routes {
		api.Handle(r.Method, r.ginPath, s.handleForward(r))
	}
}

// Handler はサーバーのHTTPハンドラを返す。トレーシングが有効な場合は計装済みのハンドラを返す。
func (s *Server) Handler() http.Handler {
	if s.cfg.Tracing.Enabled {
		return otelhttp.NewHandler(s.router, serviceName)
	}
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルにシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("gateway shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}
