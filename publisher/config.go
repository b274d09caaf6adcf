// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package publisher

import (
	"errors"
	"math/big"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/params"

	"github.com/rollupcore/sequencer/util/arbmath"
)

type Config struct {
	MaxFeePerGasGwei         float64       `koanf:"max-fee-per-gas-gwei" reload:"hot"`
	MaxPriorityFeePerGasGwei float64       `koanf:"max-priority-fee-per-gas-gwei" reload:"hot"`
	GasLimit                 uint64        `koanf:"gas-limit" reload:"hot"`
	RetryDelay               time.Duration `koanf:"retry-delay" reload:"hot"`
	PreconditionReverts      []string      `koanf:"precondition-reverts" reload:"hot"`
	AttemptCacheSize         int           `koanf:"attempt-cache-size"`
	RecordRetention          uint64        `koanf:"record-retention" reload:"hot"`
}

type ConfigFetcher func() *Config

func (c *Config) Validate() error {
	if c.MaxFeePerGasGwei <= 0 {
		return errors.New("max-fee-per-gas-gwei must be positive")
	}
	if c.MaxPriorityFeePerGasGwei < 0 || c.MaxPriorityFeePerGasGwei > c.MaxFeePerGasGwei {
		return errors.New("max-priority-fee-per-gas-gwei must be between zero and max-fee-per-gas-gwei")
	}
	if c.RetryDelay <= 0 {
		return errors.New("retry-delay must be positive")
	}
	if c.AttemptCacheSize <= 0 {
		return errors.New("attempt-cache-size must be positive")
	}
	return nil
}

func (c *Config) maxFeePerGas() *big.Int {
	return arbmath.FloatToBig(c.MaxFeePerGasGwei * params.GWei)
}

func (c *Config) maxPriorityFeePerGas() *big.Int {
	return arbmath.FloatToBig(c.MaxPriorityFeePerGasGwei * params.GWei)
}

func (c *Config) isPrecondition(reason string) bool {
	for _, name := range c.PreconditionReverts {
		if name == reason {
			return true
		}
	}
	return false
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Float64(prefix+".max-fee-per-gas-gwei", DefaultConfig.MaxFeePerGasGwei, "highest fee per gas the publisher will pay, and the fee cap of every rollup transaction")
	f.Float64(prefix+".max-priority-fee-per-gas-gwei", DefaultConfig.MaxPriorityFeePerGasGwei, "priority fee per gas of every rollup transaction")
	f.Uint64(prefix+".gas-limit", DefaultConfig.GasLimit, "gas limit of rollup transactions (0 = estimate)")
	f.Duration(prefix+".retry-delay", DefaultConfig.RetryDelay, "how long to wait before retrying a failed ledger call or an unfavourable gate check")
	f.StringSlice(prefix+".precondition-reverts", DefaultConfig.PreconditionReverts, "revert reasons meaning the rollup no longer extends the ledger's state")
	f.Int(prefix+".attempt-cache-size", DefaultConfig.AttemptCacheSize, "number of rollups whose publication attempts are remembered")
	f.Uint64(prefix+".record-retention", DefaultConfig.RecordRetention, "number of rollup records to keep once confirmed (0 = keep all)")
}

var DefaultPreconditionReverts = []string{
	"INCORRECT_STATE_HASH",
	"INCORRECT_DATA_START_INDEX",
	"INCORRECT_PREVIOUS_DEFI_INTERACTION_HASH",
}

var DefaultConfig = Config{
	MaxFeePerGasGwei:         250,
	MaxPriorityFeePerGasGwei: 2.5,
	GasLimit:                 12_000_000,
	RetryDelay:               time.Minute,
	PreconditionReverts:      DefaultPreconditionReverts,
	AttemptCacheSize:         64,
	RecordRetention:          0,
}

var TestConfig = Config{
	MaxFeePerGasGwei:         100,
	MaxPriorityFeePerGasGwei: 2,
	GasLimit:                 1_000_000,
	RetryDelay:               time.Second,
	PreconditionReverts:      DefaultPreconditionReverts,
	AttemptCacheSize:         8,
	RecordRetention:          0,
}
