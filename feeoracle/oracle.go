// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package feeoracle prices rollup transactions and bridge interactions in
// gas, from configuration and the rollup contract's own bridge gas limits.
package feeoracle

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupcore/sequencer/rollup"
	"github.com/rollupcore/sequencer/util/arbmath"
)

// Encoded size in bytes of each transaction type inside a rollup's
// broadcast data.
var txCallData = map[rollup.TxType]uint64{
	rollup.TxTypeDeposit:          145,
	rollup.TxTypeTransfer:         89,
	rollup.TxTypeWithdrawToWallet: 145,
	rollup.TxTypeWithdrawHighGas:  145,
	rollup.TxTypeAccount:          121,
	rollup.TxTypeDefiDeposit:      89,
	rollup.TxTypeDefiClaim:        25,
}

type ContractGasReader interface {
	BridgeGasLimit(ctx context.Context, bridgeAddressID uint32) (uint64, error)
}

type SubsidyReader interface {
	BridgeSubsidy(ctx context.Context, bridge rollup.BridgeCallData) (uint64, error)
}

// Oracle answers gas queries synchronously from configuration and from
// values cached by Refresh.
type Oracle struct {
	config    ConfigFetcher
	contract  ContractGasReader
	subsidies SubsidyReader

	contractGas  *lru.Cache[uint32, uint64]
	subsidyCache *lru.Cache[rollup.BridgeCallData, uint64]
}

// NewOracle builds an oracle. contract and subsidies may be nil, in which
// case only configured gas values are used and no subsidy is assumed.
func NewOracle(config ConfigFetcher, contract ContractGasReader, subsidies SubsidyReader) (*Oracle, error) {
	cfg := config()
	if cfg.txGas == nil {
		return nil, errors.New("fee oracle config has not been validated")
	}
	contractGas, err := lru.New[uint32, uint64](cfg.ContractGasCacheSize)
	if err != nil {
		return nil, err
	}
	subsidyCache, err := lru.New[rollup.BridgeCallData, uint64](cfg.SubsidyCacheSize)
	if err != nil {
		return nil, err
	}
	return &Oracle{
		config:       config,
		contract:     contract,
		subsidies:    subsidies,
		contractGas:  contractGas,
		subsidyCache: subsidyCache,
	}, nil
}

// Refresh reloads the contract gas limit and the available subsidy of every
// given bridge. A failure for one bridge leaves its previous values cached.
func (o *Oracle) Refresh(ctx context.Context, bridges []rollup.BridgeCallData) error {
	var errs []error
	for _, bridge := range bridges {
		if o.contract != nil {
			id := bridge.BridgeAddressID()
			gas, err := o.contract.BridgeGasLimit(ctx, id)
			if err != nil {
				errs = append(errs, fmt.Errorf("reading gas limit of bridge %d: %w", id, err))
			} else {
				o.contractGas.Add(id, gas)
			}
		}
		if o.subsidies != nil {
			subsidy, err := o.subsidies.BridgeSubsidy(ctx, bridge)
			if err != nil {
				errs = append(errs, fmt.Errorf("reading subsidy of bridge %v: %w", bridge, err))
			} else {
				o.subsidyCache.Add(bridge, subsidy)
			}
		}
	}
	if len(errs) > 0 {
		log.Warn("failed to refresh bridge gas", "bridges", len(bridges), "failures", len(errs))
	}
	return errors.Join(errs...)
}

func (o *Oracle) UnadjustedTxGas(asset rollup.AssetID, txType rollup.TxType) uint64 {
	config := o.config()
	return arbmath.SaturatingUAdd(config.txGas[txType], config.assetOverheads[asset])
}

func (o *Oracle) BaseVerificationGas() uint64 {
	return o.config().BaseVerificationGas
}

func (o *Oracle) TxCallData(txType rollup.TxType) uint64 {
	return txCallData[txType]
}

// FullBridgeGasFromContract prefers a configured gas override, then the
// rollup contract's limit, then the configured default.
func (o *Oracle) FullBridgeGasFromContract(bridge rollup.BridgeCallData) uint64 {
	config := o.config()
	id := bridge.BridgeAddressID()
	if b, ok := config.bridges[id]; ok && b.Gas != 0 {
		return b.Gas
	}
	if gas, ok := o.contractGas.Get(id); ok {
		return gas
	}
	return config.DefaultBridgeGas
}

func (o *Oracle) FullBridgeGas(bridge rollup.BridgeCallData) uint64 {
	subsidy, _ := o.subsidyCache.Get(bridge)
	return arbmath.SaturatingUSub(o.FullBridgeGasFromContract(bridge), subsidy)
}

// SingleBridgeTxGas is one deposit's share of the interaction when it is
// split between the expected number of deposits.
func (o *Oracle) SingleBridgeTxGas(bridge rollup.BridgeCallData) uint64 {
	config := o.config()
	numTxs := config.DefaultBridgeNumTxs
	if b, ok := config.bridges[bridge.BridgeAddressID()]; ok {
		numTxs = b.NumTxs
	}
	return arbmath.DivCeil(o.FullBridgeGasFromContract(bridge), numTxs)
}
