package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TestInitTracer はトレーサーの初期化と停止を検証する。
func TestInitTracer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := InitTracer("gateway-test", logger)
	if err != nil {
		t.Fatalf("InitTracer()でエラーが発生: %v", err)
	}

	if _, ok := otel.GetTextMapPropagator().(propagation.TraceContext); !ok {
		t.Errorf("propagator = %T, want propagation.TraceContext", otel.GetTextMapPropagator())
	}

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown()でエラーが発生: %v", err)
	}
}
