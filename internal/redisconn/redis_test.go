package redisconn

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
)

func TestConnect_NoAddressIsDisabled(t *testing.T) {
	client, err := Connect(context.Background(), Options{}, monitoring.NewLoggerWithWriter(io.Discard, "error"))
	require.NoError(t, err)

	assert.False(t, client.Enabled())
	assert.Nil(t, client.Redis())
	assert.Error(t, client.HealthCheck(context.Background()))
	assert.NoError(t, client.Close())
	assert.Equal(t, map[string]any{"enabled": false}, client.PoolStats())
}

func TestConnect_UnreachableServerDegrades(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, err := Connect(ctx, Options{Addr: "127.0.0.1:1"}, monitoring.NewLoggerWithWriter(io.Discard, "error"))
	assert.Error(t, err)
	require.NotNil(t, client)
	assert.False(t, client.Enabled())
}

func TestWrap_Nil(t *testing.T) {
	assert.False(t, Wrap(nil).Enabled())
}
