package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qc-validator-api/pkg/config"
)

func TestNewRedisDisabled(t *testing.T) {
	client, err := NewRedis(context.Background(), config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewRedisGivesUpOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, err := NewRedis(ctx, config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1})
	assert.Error(t, err)
	assert.Nil(t, client)
}
