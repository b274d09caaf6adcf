// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rollupcore/sequencer/bridgequeue"
	"github.com/rollupcore/sequencer/feeoracle"
	"github.com/rollupcore/sequencer/rollup"
	"github.com/rollupcore/sequencer/subsidy"
	"github.com/rollupcore/sequencer/util/redisutil"
	"github.com/rollupcore/sequencer/util/testhelpers"
)

func testBridge(t *testing.T, id uint32) rollup.BridgeCallData {
	t.Helper()
	bridge, err := rollup.NewBridgeCallData(rollup.BridgeCallDataFields{BridgeAddressID: id, OutputAssetA: 1})
	require.NoError(t, err)
	return bridge
}

func queuedTx(bridge rollup.BridgeCallData, asset rollup.AssetID) *rollup.QueuedTx {
	return &rollup.QueuedTx{
		TxRef:  testhelpers.RandomHash(),
		Fee:    rollup.Fee{AssetID: asset, Amount: big.NewInt(10)},
		Bridge: &bridge,
	}
}

func testFeesConfig(t *testing.T) *feeoracle.Config {
	t.Helper()
	config := feeoracle.TestConfig
	require.NoError(t, config.Validate())
	return &config
}

// With the test fee config every bridge costs 1000 gas and each deposit
// without excess gas contributes a quarter of it.
func newTestSet(t *testing.T, provider *subsidy.MemoryProvider, txs ...*rollup.QueuedTx) *bridgequeue.Set {
	t.Helper()
	config := testFeesConfig(t)
	oracle, err := feeoracle.NewOracle(func() *feeoracle.Config { return config }, nil, provider)
	require.NoError(t, err)
	set := bridgequeue.NewSet(oracle, provider)
	for _, tx := range txs {
		require.NoError(t, set.Enqueue(tx))
	}
	require.NoError(t, oracle.Refresh(context.Background(), set.Bridges()))
	return set
}

func admittedCounts(plans []bridgePlan) []int {
	var counts []int
	for _, p := range plans {
		counts = append(counts, len(p.Admitted))
	}
	return counts
}

func TestPlanFlushesFundedBridges(t *testing.T) {
	ctx := context.Background()
	full, partial, subsidized := testBridge(t, 1), testBridge(t, 2), testBridge(t, 3)
	provider := subsidy.NewMemoryProvider()
	require.NoError(t, provider.Fund(ctx, subsidized, 800))

	var txs []*rollup.QueuedTx
	for i := 0; i < 5; i++ {
		txs = append(txs, queuedTx(full, 1))
	}
	txs = append(txs, queuedTx(partial, 1), queuedTx(partial, 1), queuedTx(subsidized, 2))
	set := newTestSet(t, provider, txs...)

	budget := BudgetConfigDefault
	plans := plan(ctx, set, &budget)
	require.Equal(t, []int{4, 0, 1}, admittedCounts(plans))
	require.Equal(t, 5, plans[0].Stats.QueuedCount)
	require.Equal(t, full, plans[0].Stats.Bridge)
	require.Equal(t, uint64(4*1000), plans[0].Gas)
	require.Equal(t, uint64(1000), plans[2].Gas)

	// the subsidy was claimed and the leftover deposit stays queued
	remaining, err := provider.BridgeSubsidy(ctx, subsidized)
	require.NoError(t, err)
	require.Zero(t, remaining)
	require.Len(t, set.Queue(full).Pending(), 1)
	require.Len(t, set.Queue(partial).Pending(), 2)
}

func TestPlanCarriesBudgets(t *testing.T) {
	ctx := context.Background()
	first, second := testBridge(t, 1), testBridge(t, 2)
	var txs []*rollup.QueuedTx
	for i := 0; i < 4; i++ {
		txs = append(txs, queuedTx(first, 1), queuedTx(second, 2))
	}

	budget := BudgetConfigDefault
	budget.MaxTxCount = 6
	plans := plan(ctx, newTestSet(t, subsidy.NewMemoryProvider(), txs...), &budget)
	require.Equal(t, []int{4, 0}, admittedCounts(plans))

	budget = BudgetConfigDefault
	budget.MaxAssets = 1
	plans = plan(ctx, newTestSet(t, subsidy.NewMemoryProvider(), txs...), &budget)
	require.Equal(t, []int{4, 0}, admittedCounts(plans))

	budget = BudgetConfigDefault
	budget.Gas = 5 * 1000
	plans = plan(ctx, newTestSet(t, subsidy.NewMemoryProvider(), txs...), &budget)
	require.Equal(t, []int{4, 0}, admittedCounts(plans))

	budget = BudgetConfigDefault
	plans = plan(ctx, newTestSet(t, subsidy.NewMemoryProvider(), txs...), &budget)
	require.Equal(t, []int{4, 4}, admittedCounts(plans))
}

func TestParseQueuedTxs(t *testing.T) {
	bridge := testBridge(t, 1)
	ref := testhelpers.RandomHash()
	data := fmt.Sprintf(`[{"txRef": %q, "excessGas": 40, "feeAsset": 2, "fee": "0x10", "bridge": %q, "secondClass": true}]`, ref.Hex(), bridge.String())
	txs, err := parseQueuedTxs([]byte(data))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, ref, txs[0].TxRef)
	require.Equal(t, uint64(40), txs[0].ExcessGas)
	require.Equal(t, rollup.AssetID(2), txs[0].Fee.AssetID)
	require.Equal(t, 0, txs[0].Fee.Amount.Cmp(big.NewInt(16)))
	require.True(t, txs[0].Bridge.Equal(bridge))
	require.True(t, txs[0].SecondClass)

	_, err = parseQueuedTxs([]byte(`[{"bridge": "not a bridge"}]`))
	require.Error(t, err)
	_, err = parseQueuedTxs([]byte(`{}`))
	require.Error(t, err)
}

func TestParseBridgePlannerConfig(t *testing.T) {
	config, err := parseBridgePlannerConfig([]string{"--queue-file", "queue.json", "--budget.max-assets", "3"})
	require.NoError(t, err)
	require.Equal(t, 3, config.Budget.MaxAssets)
	require.False(t, config.Commit)

	for _, args := range [][]string{
		{},
		{"--fund-bridge", "0x1"},
		{"--queue-file", "queue.json", "--l1-url", "ws://localhost:8546"},
		{"--queue-file", "queue.json", "--fees.default-bridge-num-txs", "0"},
		{"--queue-file", "queue.json", "--log.file.enable", "--log.file.file", ""},
	} {
		_, err := parseBridgePlannerConfig(args)
		require.Error(t, err, args)
	}
}

func writeQueueFile(t *testing.T, txs ...*rollup.QueuedTx) string {
	t.Helper()
	var entries []string
	for _, tx := range txs {
		entries = append(entries, fmt.Sprintf(`{"txRef": %q, "feeAsset": %d, "fee": "%v", "bridge": %q}`, tx.TxRef.Hex(), tx.Fee.AssetID, tx.Fee.Amount, tx.Bridge.String()))
	}
	path := filepath.Join(t.TempDir(), "queue.json")
	require.NoError(t, os.WriteFile(path, []byte("["+strings.Join(entries, ",")+"]"), 0600))
	return path
}

func TestRunClaimsOnlyWhenCommitting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	redisURL := redisutil.CreateTestRedis(ctx, t)
	bridge := testBridge(t, 3)

	config := BridgePlannerConfigDefault
	config.Fees = *testFeesConfig(t)
	config.RedisURL = redisURL
	config.QueueFile = writeQueueFile(t, queuedTx(bridge, 1))
	config.FundBridge = bridge.String()
	config.FundAmount = 400
	require.NoError(t, config.Validate())

	shared, err := openSubsidies(&config)
	require.NoError(t, err)
	subsidyOf := func() uint64 {
		amount, err := shared.BridgeSubsidy(ctx, bridge)
		require.NoError(t, err)
		return amount
	}

	require.NoError(t, run(ctx, &config))
	require.Equal(t, uint64(400), subsidyOf())
	require.NoError(t, run(ctx, &config))
	require.Equal(t, uint64(800), subsidyOf())

	config.Commit = true
	config.FundAmount = 0
	require.NoError(t, run(ctx, &config))
	require.Zero(t, subsidyOf())
}
