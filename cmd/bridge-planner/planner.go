// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"context"
	stdjson "encoding/json"
	"math/big"
	"os"

	"github.com/pkg/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/rollupcore/sequencer/bridgequeue"
	"github.com/rollupcore/sequencer/rollup"
)

type queuedTxFile struct {
	TxRef       common.Hash           `json:"txRef"`
	ExcessGas   uint64                `json:"excessGas"`
	FeeAsset    rollup.AssetID        `json:"feeAsset"`
	Fee         *math.HexOrDecimal256 `json:"fee"`
	Bridge      string                `json:"bridge"`
	SecondClass bool                  `json:"secondClass"`
}

func parseQueuedTxs(data []byte) ([]*rollup.QueuedTx, error) {
	var entries []queuedTxFile
	if err := stdjson.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "error parsing queued transactions")
	}
	txs := make([]*rollup.QueuedTx, 0, len(entries))
	for i, entry := range entries {
		bridge, err := rollup.ParseBridgeCallData(entry.Bridge)
		if err != nil {
			return nil, errors.Wrapf(err, "queued transaction %d", i)
		}
		fee := new(big.Int)
		if entry.Fee != nil {
			fee = (*big.Int)(entry.Fee)
		}
		txs = append(txs, &rollup.QueuedTx{
			TxRef:       entry.TxRef,
			ExcessGas:   entry.ExcessGas,
			Fee:         rollup.Fee{AssetID: entry.FeeAsset, Amount: fee},
			Bridge:      &bridge,
			SecondClass: entry.SecondClass,
		})
	}
	return txs, nil
}

func readQueuedTxs(path string) ([]*rollup.QueuedTx, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading queued transactions")
	}
	return parseQueuedTxs(data)
}

type bridgePlan struct {
	Stats    bridgequeue.QueueStats
	Admitted []*rollup.QueuedTx
	Gas      uint64
	CallData uint64
}

// plan schedules every queue in turn, as a batch assembler would, carrying
// the budgets and the batch's asset set from one queue to the next.
func plan(ctx context.Context, set *bridgequeue.Set, budget *BudgetConfig) []bridgePlan {
	assets := rollup.NewAssetSet()
	remainingTxs := budget.MaxTxCount
	remainingGas := budget.Gas
	remainingCallData := budget.CallData
	var plans []bridgePlan
	for _, queue := range set.Queues() {
		stats := queue.Stats()
		if remainingTxs <= 0 {
			plans = append(plans, bridgePlan{Stats: stats})
			continue
		}
		admitted, used := queue.Schedule(ctx, remainingTxs, assets, budget.MaxAssets, remainingGas, remainingCallData)
		if len(admitted) > 0 {
			assets = used.AssetIDs
			remainingTxs -= len(admitted)
			remainingGas -= used.GasUsed
			remainingCallData -= used.CallDataUsed
		}
		plans = append(plans, bridgePlan{
			Stats:    stats,
			Admitted: admitted,
			Gas:      used.GasUsed,
			CallData: used.CallDataUsed,
		})
	}
	return plans
}
