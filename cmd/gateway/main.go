// API Gatewayサービスのエントリポイント。
// ユーザー管理、サポートチケット、商品カタログの各サービスへのリクエスト転送と、
// トークン発行、監査イベントの送信を担当する。外部からアクセス可能な唯一のサービスであり、
// セキュリティの境界線となる。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nao1215/shopgate/internal/config"
	"github.com/nao1215/shopgate/internal/gateway"
	"github.com/nao1215/shopgate/internal/logging"
	"github.com/nao1215/shopgate/internal/telemetry"
	"github.com/nao1215/shopgate/pkg/publisher"
)

func main() {
	os.Exit(run())
}

// run はGatewayを起動し、終了コードを返す。
func run() int {
	// .env が無くても起動する
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("設定の読み込みに失敗", slog.String("error", err.Error()))
		return 1
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	if logging.ParseLevel(cfg.Log.Level) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []gateway.Option

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer("gateway", logger)
		if err != nil {
			logger.Error("トレーサーの初期化に失敗", slog.String("error", err.Error()))
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("トレーサーの停止に失敗", slog.String("error", err.Error()))
			}
		}()
		opts = append(opts, gateway.WithUpstreamTransport(otelhttp.NewTransport(http.DefaultTransport)))
	}

	var pub publisher.Publisher = publisher.Nop{}
	if cfg.Events.Enabled {
		sink, err := publisher.NewSink(cfg.Events.Broker, cfg.Events.URL)
		if err != nil {
			logger.Error("イベント送信先の生成に失敗", slog.String("error", err.Error()))
			return 1
		}
		pub = publisher.NewDispatcher(sink,
			publisher.WithBufferSize(cfg.Events.BufferSize),
			publisher.WithPublishTimeout(cfg.Events.PublishTimeout),
			publisher.WithLogger(logger),
		)
		logger.Info("event publishing enabled",
			slog.String("broker", cfg.Events.Broker),
			slog.Int("buffer_size", cfg.Events.BufferSize),
		)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := pub.Close(closeCtx); err != nil {
			logger.Warn("イベント送信の停止に失敗", slog.String("error", err.Error()))
		}
	}()
	opts = append(opts, gateway.WithPublisher(pub))

	server, err := gateway.NewServer(cfg, logger, opts...)
	if err != nil {
		logger.Error("Gatewayサーバーの初期化に失敗", slog.String("error", err.Error()))
		return 1
	}

	if !cfg.Auth.Enabled {
		logger.Warn("authentication is disabled; all routes are public")
	}

	if err := server.Run(ctx); err != nil {
		logger.Error("Gatewayサービスの実行に失敗", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("gateway stopped")
	return 0
}
