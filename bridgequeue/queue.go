// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package bridgequeue holds the per-target backlogs of bridge deposits and
// decides when a backlog has gathered enough gas to pay for its interaction.
package bridgequeue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/rollupcore/sequencer/rollup"
	"github.com/rollupcore/sequencer/util/arbmath"
)

var (
	admittedCounter         = metrics.NewRegisteredCounter("sequencer/bridgequeue/admitted", nil)
	flushCounter            = metrics.NewRegisteredCounter("sequencer/bridgequeue/flushed", nil)
	subsidyClaimedCounter   = metrics.NewRegisteredCounter("sequencer/bridgequeue/subsidy/claimed", nil)
	subsidyClaimFailCounter = metrics.NewRegisteredCounter("sequencer/bridgequeue/subsidy/claimfailed", nil)
)

var ErrWrongBridge = errors.New("transaction targets a different bridge")

// FeeResolver prices transactions and bridge interactions in gas.
type FeeResolver interface {
	UnadjustedTxGas(asset rollup.AssetID, txType rollup.TxType) uint64
	BaseVerificationGas() uint64
	SingleBridgeTxGas(bridge rollup.BridgeCallData) uint64
	// FullBridgeGas is the cost of the interaction net of any subsidy.
	FullBridgeGas(bridge rollup.BridgeCallData) uint64
	// FullBridgeGasFromContract is the unsubsidized cost the rollup contract
	// will charge.
	FullBridgeGasFromContract(bridge rollup.BridgeCallData) uint64
	TxCallData(txType rollup.TxType) uint64
}

type SubsidyProvider interface {
	BridgeSubsidy(ctx context.Context, bridge rollup.BridgeCallData) (uint64, error)
	// ClaimBridgeSubsidy may return false even after a non-zero
	// BridgeSubsidy if another claimant got there first.
	ClaimBridgeSubsidy(ctx context.Context, bridge rollup.BridgeCallData) (bool, error)
}

type ResourcesConsumed struct {
	GasUsed      uint64
	CallDataUsed uint64
	// AssetIDs is the caller's asset set extended with the fee assets of
	// the admitted transactions.
	AssetIDs rollup.AssetSet
	Bridges  []rollup.BridgeCallData
}

type QueueStats struct {
	Bridge      rollup.BridgeCallData
	QueuedCount int
	// AccruedGas is what the whole backlog would contribute towards the
	// interaction if it were admitted at once.
	AccruedGas uint64
}

// BridgeTxQueue is the backlog for a single bridge target, kept sorted by
// descending excess gas.
type BridgeTxQueue struct {
	bridge  rollup.BridgeCallData
	fees    FeeResolver
	subsidy SubsidyProvider

	mutex sync.Mutex
	txs   []*rollup.QueuedTx
}

func New(bridge rollup.BridgeCallData, fees FeeResolver, subsidy SubsidyProvider) *BridgeTxQueue {
	return &BridgeTxQueue{
		bridge:  bridge,
		fees:    fees,
		subsidy: subsidy,
	}
}

func (q *BridgeTxQueue) Bridge() rollup.BridgeCallData {
	return q.bridge
}

// Enqueue inserts tx after every entry with greater or equal excess gas.
func (q *BridgeTxQueue) Enqueue(tx *rollup.QueuedTx) error {
	if !tx.IsBridgeTx() || !tx.Bridge.Equal(q.bridge) {
		return fmt.Errorf("%w: queue %v, tx %v", ErrWrongBridge, q.bridge, tx.TxRef)
	}
	q.mutex.Lock()
	defer q.mutex.Unlock()
	idx := sort.Search(len(q.txs), func(i int) bool {
		return q.txs[i].ExcessGas < tx.ExcessGas
	})
	q.txs = append(q.txs, nil)
	copy(q.txs[idx+1:], q.txs[idx:])
	q.txs[idx] = tx
	return nil
}

func (q *BridgeTxQueue) contribution(tx *rollup.QueuedTx) uint64 {
	return arbmath.MinInt(
		arbmath.SaturatingUAdd(tx.ExcessGas, q.fees.SingleBridgeTxGas(q.bridge)),
		q.fees.FullBridgeGas(q.bridge),
	)
}

// Schedule picks the transactions to flush the interaction in the batch
// being built, or nothing at all. Admitted transactions leave the backlog;
// everything else stays for the next pass.
func (q *BridgeTxQueue) Schedule(
	ctx context.Context,
	maxTxCount int,
	currentAssets rollup.AssetSet,
	maxAssets int,
	remainingGas uint64,
	remainingCallData uint64,
) ([]*rollup.QueuedTx, ResourcesConsumed) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	fullCost := q.fees.FullBridgeGasFromContract(q.bridge)
	txCallData := q.fees.TxCallData(rollup.TxTypeDefiDeposit)
	baseGas := q.fees.BaseVerificationGas()

	assets := currentAssets.Clone()
	var admitted []*rollup.QueuedTx
	var admittedIdx []int
	var gasUsed, callDataUsed, contribution uint64
	for i, tx := range q.txs {
		if len(admitted) >= maxTxCount {
			break
		}
		txGas := arbmath.SaturatingUSub(q.fees.UnadjustedTxGas(tx.Fee.AssetID, rollup.TxTypeDefiDeposit), baseGas)
		if gasUsed+txGas > remainingGas || callDataUsed+txCallData > remainingCallData {
			break
		}
		if !tx.Fee.IsZero() && !assets.Has(tx.Fee.AssetID) && assets.Len() >= maxAssets {
			continue
		}
		if !tx.Fee.IsZero() {
			assets.Add(tx.Fee.AssetID)
		}
		admitted = append(admitted, tx)
		admittedIdx = append(admittedIdx, i)
		gasUsed += txGas
		callDataUsed += txCallData
		contribution = arbmath.SaturatingUAdd(contribution, q.contribution(tx))
		if contribution >= fullCost {
			break
		}
	}
	if len(admitted) == 0 {
		return nil, ResourcesConsumed{}
	}

	subsidy, err := q.subsidy.BridgeSubsidy(ctx, q.bridge)
	if err != nil {
		log.Warn("failed to read bridge subsidy, assuming none", "bridge", q.bridge, "err", err)
		subsidy = 0
	}
	if arbmath.SaturatingUAdd(contribution, subsidy) < fullCost {
		log.Debug(
			"bridge interaction not yet funded",
			"bridge", q.bridge,
			"candidates", len(admitted),
			"contribution", contribution,
			"subsidy", subsidy,
			"cost", fullCost,
		)
		return nil, ResourcesConsumed{}
	}

	q.removeIndices(admittedIdx)
	if subsidy > 0 {
		claimed, err := q.subsidy.ClaimBridgeSubsidy(ctx, q.bridge)
		if err != nil || !claimed {
			subsidyClaimFailCounter.Inc(1)
			log.Warn("bridge subsidy was available but could not be claimed", "bridge", q.bridge, "subsidy", subsidy, "err", err)
		} else {
			subsidyClaimedCounter.Inc(1)
		}
	}
	admittedCounter.Inc(int64(len(admitted)))
	flushCounter.Inc(1)
	log.Info(
		"admitting bridge interaction",
		"bridge", q.bridge,
		"txs", len(admitted),
		"contribution", contribution,
		"subsidy", subsidy,
		"cost", fullCost,
		"remaining", len(q.txs),
	)
	return admitted, ResourcesConsumed{
		GasUsed:      gasUsed,
		CallDataUsed: callDataUsed,
		AssetIDs:     assets,
		Bridges:      []rollup.BridgeCallData{q.bridge},
	}
}

// removeIndices drops the entries at the given ascending positions while
// keeping the order of everything else.
func (q *BridgeTxQueue) removeIndices(indices []int) {
	kept := q.txs[:0]
	next := 0
	for i, tx := range q.txs {
		if next < len(indices) && indices[next] == i {
			next++
			continue
		}
		kept = append(kept, tx)
	}
	for i := len(kept); i < len(q.txs); i++ {
		q.txs[i] = nil
	}
	q.txs = kept
}

func (q *BridgeTxQueue) Stats() QueueStats {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	stats := QueueStats{
		Bridge:      q.bridge,
		QueuedCount: len(q.txs),
	}
	for _, tx := range q.txs {
		stats.AccruedGas = arbmath.SaturatingUAdd(stats.AccruedGas, q.contribution(tx))
	}
	return stats
}

// Pending returns a snapshot of the backlog in scheduling order.
func (q *BridgeTxQueue) Pending() []*rollup.QueuedTx {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return append([]*rollup.QueuedTx(nil), q.txs...)
}
