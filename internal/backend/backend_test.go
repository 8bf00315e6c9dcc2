package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"xferbench/internal/backend/httpapi"
	"xferbench/internal/backend/memory"
	"xferbench/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, &config.Config{
		Database: config.DatabaseConfig{Type: config.DatabaseMock},
		Mock:     config.MockConfig{LatencyMs: 2},
	}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Ledger{}, b)

	b, err = Open(ctx, &config.Config{
		Database: config.DatabaseConfig{Type: config.DatabaseHTTP},
		HTTP:     config.HTTPConfig{BaseURL: "http://localhost:9000/"},
		Workload: config.WorkloadConfig{Concurrency: 4, RequestTimeoutSecs: 1},
	}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &httpapi.Client{}, b)
	assert.Equal(t, "http://localhost:9000", b.(*httpapi.Client).BaseURL)

	_, err = Open(ctx, &config.Config{Database: config.DatabaseConfig{Type: "tape"}}, zap.NewNop())
	assert.Error(t, err)
}
