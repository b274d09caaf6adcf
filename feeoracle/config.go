// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package feeoracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/rollupcore/sequencer/rollup"
)

// BridgeConfig prices one bridge contract. NumTxs is how many deposits are
// expected to share the interaction and Gas overrides the contract's own
// gas limit when non-zero.
type BridgeConfig struct {
	BridgeAddressID uint32 `json:"bridge-address-id"`
	NumTxs          uint64 `json:"num-txs"`
	Gas             uint64 `json:"gas"`
}

type Config struct {
	BaseVerificationGas  uint64 `koanf:"base-verification-gas" reload:"hot"`
	DepositGas           uint64 `koanf:"deposit-gas" reload:"hot"`
	TransferGas          uint64 `koanf:"transfer-gas" reload:"hot"`
	WithdrawToWalletGas  uint64 `koanf:"withdraw-to-wallet-gas" reload:"hot"`
	WithdrawHighGasGas   uint64 `koanf:"withdraw-high-gas-gas" reload:"hot"`
	AccountGas           uint64 `koanf:"account-gas" reload:"hot"`
	DefiDepositGas       uint64 `koanf:"defi-deposit-gas" reload:"hot"`
	DefiClaimGas         uint64 `koanf:"defi-claim-gas" reload:"hot"`
	AssetGasOverheads    string `koanf:"asset-gas-overheads" reload:"hot"`
	Bridges              string `koanf:"bridges" reload:"hot"`
	DefaultBridgeGas     uint64 `koanf:"default-bridge-gas" reload:"hot"`
	DefaultBridgeNumTxs  uint64 `koanf:"default-bridge-num-txs" reload:"hot"`
	ContractGasCacheSize int    `koanf:"contract-gas-cache-size"`
	SubsidyCacheSize     int    `koanf:"subsidy-cache-size"`

	txGas          map[rollup.TxType]uint64
	assetOverheads map[rollup.AssetID]uint64
	bridges        map[uint32]BridgeConfig
}

type ConfigFetcher func() *Config

// Validate checks the config and parses its JSON-valued fields. It must be
// called before the config is handed to an Oracle.
func (c *Config) Validate() error {
	if c.DefaultBridgeNumTxs == 0 {
		return errors.New("default-bridge-num-txs must be positive")
	}
	if c.ContractGasCacheSize <= 0 || c.SubsidyCacheSize <= 0 {
		return errors.New("cache sizes must be positive")
	}
	c.txGas = map[rollup.TxType]uint64{
		rollup.TxTypeDeposit:          c.DepositGas,
		rollup.TxTypeTransfer:         c.TransferGas,
		rollup.TxTypeWithdrawToWallet: c.WithdrawToWalletGas,
		rollup.TxTypeWithdrawHighGas:  c.WithdrawHighGasGas,
		rollup.TxTypeAccount:          c.AccountGas,
		rollup.TxTypeDefiDeposit:      c.DefiDepositGas,
		rollup.TxTypeDefiClaim:        c.DefiClaimGas,
	}
	for _, txType := range rollup.AllTxTypes() {
		if c.txGas[txType] == 0 {
			return fmt.Errorf("%v gas must be positive", txType)
		}
	}

	c.assetOverheads = make(map[rollup.AssetID]uint64)
	if c.AssetGasOverheads != "" {
		var raw map[string]uint64
		if err := json.Unmarshal([]byte(c.AssetGasOverheads), &raw); err != nil {
			return fmt.Errorf("error parsing asset-gas-overheads: %w", err)
		}
		for key, gas := range raw {
			id, err := strconv.ParseUint(key, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid asset id %q in asset-gas-overheads: %w", key, err)
			}
			c.assetOverheads[rollup.AssetID(id)] = gas
		}
	}

	c.bridges = make(map[uint32]BridgeConfig)
	if c.Bridges != "" {
		var bridges []BridgeConfig
		if err := json.Unmarshal([]byte(c.Bridges), &bridges); err != nil {
			return fmt.Errorf("error parsing bridges: %w", err)
		}
		for _, bridge := range bridges {
			if bridge.NumTxs == 0 {
				return fmt.Errorf("bridge %d must have a positive num-txs", bridge.BridgeAddressID)
			}
			if _, ok := c.bridges[bridge.BridgeAddressID]; ok {
				return fmt.Errorf("bridge %d configured twice", bridge.BridgeAddressID)
			}
			c.bridges[bridge.BridgeAddressID] = bridge
		}
	}
	return nil
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Uint64(prefix+".base-verification-gas", DefaultConfig.BaseVerificationGas, "gas charged to every transaction slot for proof verification")
	f.Uint64(prefix+".deposit-gas", DefaultConfig.DepositGas, "gas of a deposit transaction")
	f.Uint64(prefix+".transfer-gas", DefaultConfig.TransferGas, "gas of a transfer transaction")
	f.Uint64(prefix+".withdraw-to-wallet-gas", DefaultConfig.WithdrawToWalletGas, "gas of a withdrawal to a wallet")
	f.Uint64(prefix+".withdraw-high-gas-gas", DefaultConfig.WithdrawHighGasGas, "gas of a withdrawal to a contract")
	f.Uint64(prefix+".account-gas", DefaultConfig.AccountGas, "gas of an account transaction")
	f.Uint64(prefix+".defi-deposit-gas", DefaultConfig.DefiDepositGas, "gas of a bridge deposit transaction")
	f.Uint64(prefix+".defi-claim-gas", DefaultConfig.DefiClaimGas, "gas of a bridge claim transaction")
	f.String(prefix+".asset-gas-overheads", DefaultConfig.AssetGasOverheads, "JSON object of extra gas per fee asset id, e.g. {\"1\":5000}")
	f.String(prefix+".bridges", DefaultConfig.Bridges, "JSON list of bridge configs with bridge-address-id, num-txs and gas")
	f.Uint64(prefix+".default-bridge-gas", DefaultConfig.DefaultBridgeGas, "interaction gas for bridges neither configured nor readable from the rollup contract")
	f.Uint64(prefix+".default-bridge-num-txs", DefaultConfig.DefaultBridgeNumTxs, "deposits expected to share an interaction for unconfigured bridges")
	f.Int(prefix+".contract-gas-cache-size", DefaultConfig.ContractGasCacheSize, "number of contract bridge gas limits to cache")
	f.Int(prefix+".subsidy-cache-size", DefaultConfig.SubsidyCacheSize, "number of bridge subsidies to cache")
}

var DefaultConfig = Config{
	BaseVerificationGas:  500,
	DepositGas:           30_000,
	TransferGas:          500,
	WithdrawToWalletGas:  30_000,
	WithdrawHighGasGas:   60_000,
	AccountGas:           500,
	DefiDepositGas:       5_000,
	DefiClaimGas:         500,
	DefaultBridgeGas:     300_000,
	DefaultBridgeNumTxs:  10,
	ContractGasCacheSize: 256,
	SubsidyCacheSize:     256,
}

var TestConfig = Config{
	BaseVerificationGas:  100,
	DepositGas:           1_000,
	TransferGas:          100,
	WithdrawToWalletGas:  1_000,
	WithdrawHighGasGas:   2_000,
	AccountGas:           100,
	DefiDepositGas:       1_100,
	DefiClaimGas:         100,
	DefaultBridgeGas:     1_000,
	DefaultBridgeNumTxs:  4,
	ContractGasCacheSize: 8,
	SubsidyCacheSize:     8,
}
