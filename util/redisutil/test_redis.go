// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package redisutil

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rollupcore/sequencer/util/testhelpers"
)

// CreateTestRedis Provides external redis url, this is only done in TEST_REDIS env,
// else creates a new miniredis and returns its url.
func CreateTestRedis(ctx context.Context, t *testing.T) string {
	redisUrl := os.Getenv("TEST_REDIS")
	if redisUrl != "" {
		return redisUrl
	}
	redisServer, err := miniredis.Run()
	testhelpers.RequireImpl(t, err)
	go func() {
		<-ctx.Done()
		redisServer.Close()
	}()
	t.Cleanup(redisServer.Close)

	return fmt.Sprintf("redis://%s/0", redisServer.Addr())
}

// CreateTestClient is CreateTestRedis followed by RedisClientFromURL.
func CreateTestClient(ctx context.Context, t *testing.T) redis.UniversalClient {
	t.Helper()
	client, err := RedisClientFromURL(CreateTestRedis(ctx, t))
	testhelpers.RequireImpl(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
