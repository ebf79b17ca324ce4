package tracing

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, cfg := range []domain.TracingConfig{
		{Enabled: false, Endpoint: "localhost:4317"},
		{Enabled: true},
	} {
		shutdown, err := Init(context.Background(), cfg, "test", logger)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	}
}

func TestInitEnabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// The gRPC exporter connects lazily, so no collector is needed.
	shutdown, err := Init(context.Background(), domain.TracingConfig{
		Enabled:     true,
		ServiceName: "kestrel-test",
		Endpoint:    "127.0.0.1:4317",
	}, "test", logger)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
}
