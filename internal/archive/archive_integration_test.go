//go:build integration

package archive

import (
	"context"
	"testing"

	"github.com/cloo-solutions/taisearch/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_RedisStreamPublisher(t *testing.T) {
	ctx := context.Background()
	addr := testutil.Redis(ctx, t)

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	p := NewRedisStreamPublisher(client, "queries", 100)
	require.NoError(t, p.Publish(ctx, QueryEvent{ClassID: "c1", Query: "limits"}))
	require.NoError(t, p.Publish(ctx, QueryEvent{ClassID: "c1", Query: "derivatives"}))

	entries, err := client.XRange(ctx, "queries", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c1", entries[0].Values["class_id"])
	assert.Contains(t, entries[1].Values["event"], "derivatives")
}
