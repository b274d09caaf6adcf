// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package subsidy

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupcore/sequencer/rollup"
)

type RedisConfig struct {
	KeyPrefix string `koanf:"key-prefix"`
}

var DefaultRedisConfig = RedisConfig{
	KeyPrefix: "subsidy.",
}

func RedisConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".key-prefix", DefaultRedisConfig.KeyPrefix, "prefix of the redis keys holding bridge subsidies")
}

// RedisProvider keeps subsidies in redis so that several sequencers can
// share them. Claims are optimistic transactions on the subsidy key.
type RedisProvider struct {
	client redis.UniversalClient
	config RedisConfig
}

func NewRedisProvider(client redis.UniversalClient, config RedisConfig) (*RedisProvider, error) {
	if client == nil {
		return nil, errors.New("redis subsidy provider requires a redis client")
	}
	return &RedisProvider{client: client, config: config}, nil
}

func (p *RedisProvider) key(bridge rollup.BridgeCallData) string {
	return p.config.KeyPrefix + bridge.String()
}

func (p *RedisProvider) Fund(ctx context.Context, bridge rollup.BridgeCallData, amount uint64) error {
	if amount > 1<<63-1 {
		return fmt.Errorf("subsidy amount %d too large", amount)
	}
	return p.client.IncrBy(ctx, p.key(bridge), int64(amount)).Err()
}

func parseAmount(value string) (uint64, error) {
	amount, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subsidy amount %q: %w", value, err)
	}
	return amount, nil
}

func (p *RedisProvider) BridgeSubsidy(ctx context.Context, bridge rollup.BridgeCallData) (uint64, error) {
	value, err := p.client.Get(ctx, p.key(bridge)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseAmount(value)
}

// ClaimBridgeSubsidy returns false if there is nothing to claim or if the
// subsidy changed under us.
func (p *RedisProvider) ClaimBridgeSubsidy(ctx context.Context, bridge rollup.BridgeCallData) (bool, error) {
	key := p.key(bridge)
	claimed := false
	err := p.client.Watch(ctx, func(tx *redis.Tx) error {
		value, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		amount, err := parseAmount(value)
		if err != nil {
			return err
		}
		if amount == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if errors.Is(err, redis.TxFailedErr) {
			log.Info("lost race claiming bridge subsidy", "bridge", bridge)
			return nil
		}
		if err != nil {
			return err
		}
		claimed = true
		return nil
	}, key)
	if err != nil {
		return false, err
	}
	return claimed, nil
}
