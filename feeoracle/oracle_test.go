// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package feeoracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rollupcore/sequencer/rollup"
)

type fakeCaller struct {
	mutex sync.Mutex
	gas   map[uint64]int64
	err   error
	calls int
}

func (c *fakeCaller) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{1}, nil
}

func (c *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	method := bridgeGasLimitParsedABI.Methods["getBridgeGasLimit"]
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	id := args[0].(*big.Int).Uint64()
	return method.Outputs.Pack(big.NewInt(c.gas[id]))
}

type fakeSubsidies map[rollup.BridgeCallData]uint64

func (f fakeSubsidies) BridgeSubsidy(_ context.Context, bridge rollup.BridgeCallData) (uint64, error) {
	return f[bridge], nil
}

func testConfig(t *testing.T, mutate func(*Config)) ConfigFetcher {
	t.Helper()
	config := TestConfig
	if mutate != nil {
		mutate(&config)
	}
	require.NoError(t, config.Validate())
	return func() *Config { return &config }
}

func bridgeWithID(t *testing.T, id uint32) rollup.BridgeCallData {
	t.Helper()
	bridge, err := rollup.NewBridgeCallData(rollup.BridgeCallDataFields{BridgeAddressID: id, OutputAssetA: 1})
	require.NoError(t, err)
	return bridge
}

func TestValidateRejectsBadConfig(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"bad overheads": func(c *Config) { c.AssetGasOverheads = "{" },
		"bad asset id":  func(c *Config) { c.AssetGasOverheads = `{"eth":1}` },
		"bad bridges":   func(c *Config) { c.Bridges = "[" },
		"zero txs":      func(c *Config) { c.Bridges = `[{"bridge-address-id":1,"num-txs":0}]` },
		"duplicate": func(c *Config) {
			c.Bridges = `[{"bridge-address-id":1,"num-txs":1},{"bridge-address-id":1,"num-txs":2}]`
		},
		"default txs": func(c *Config) { c.DefaultBridgeNumTxs = 0 },
		"cache size":  func(c *Config) { c.SubsidyCacheSize = 0 },
		"claim gas":   func(c *Config) { c.DefiClaimGas = 0 },
	} {
		config := TestConfig
		mutate(&config)
		require.Error(t, config.Validate(), name)
	}
}

func TestNewOracleRequiresValidatedConfig(t *testing.T) {
	config := TestConfig
	_, err := NewOracle(func() *Config { return &config }, nil, nil)
	require.Error(t, err)
}

func TestOracleFromConfig(t *testing.T) {
	fetcher := testConfig(t, func(c *Config) {
		c.AssetGasOverheads = `{"2":50}`
		c.Bridges = `[{"bridge-address-id":7,"num-txs":3,"gas":100}]`
	})
	oracle, err := NewOracle(fetcher, nil, nil)
	require.NoError(t, err)

	require.Equal(t, uint64(1_100), oracle.UnadjustedTxGas(0, rollup.TxTypeDefiDeposit))
	require.Equal(t, uint64(1_150), oracle.UnadjustedTxGas(2, rollup.TxTypeDefiDeposit))
	require.Equal(t, uint64(100), oracle.BaseVerificationGas())
	require.Equal(t, uint64(89), oracle.TxCallData(rollup.TxTypeDefiDeposit))

	configured := bridgeWithID(t, 7)
	require.Equal(t, uint64(100), oracle.FullBridgeGasFromContract(configured))
	require.Equal(t, uint64(100), oracle.FullBridgeGas(configured))
	require.Equal(t, uint64(34), oracle.SingleBridgeTxGas(configured))

	other := bridgeWithID(t, 8)
	require.Equal(t, uint64(1_000), oracle.FullBridgeGasFromContract(other))
	require.Equal(t, uint64(250), oracle.SingleBridgeTxGas(other))
}

func TestOracleRefreshFromContractAndSubsidy(t *testing.T) {
	caller := &fakeCaller{gas: map[uint64]int64{3: 900}}
	a := bridgeWithID(t, 3)
	subsidies := fakeSubsidies{a: 400}
	oracle, err := NewOracle(testConfig(t, nil), NewContractReader(common.Address{1}, caller), subsidies)
	require.NoError(t, err)

	require.NoError(t, oracle.Refresh(context.Background(), []rollup.BridgeCallData{a}))
	require.Equal(t, uint64(900), oracle.FullBridgeGasFromContract(a))
	require.Equal(t, uint64(500), oracle.FullBridgeGas(a))
	require.Equal(t, uint64(225), oracle.SingleBridgeTxGas(a))

	// subsidy larger than the cost saturates at zero
	subsidies[a] = 5_000
	require.NoError(t, oracle.Refresh(context.Background(), []rollup.BridgeCallData{a}))
	require.Equal(t, uint64(0), oracle.FullBridgeGas(a))

	// a failed read keeps the cached limit
	caller.err = errors.New("rpc down")
	require.Error(t, oracle.Refresh(context.Background(), []rollup.BridgeCallData{a}))
	require.Equal(t, uint64(900), oracle.FullBridgeGasFromContract(a))
	require.Equal(t, 3, caller.calls)
}

func TestContractReader(t *testing.T) {
	caller := &fakeCaller{gas: map[uint64]int64{1: 123_456}}
	reader := NewContractReader(common.Address{2}, caller)
	gas, err := reader.BridgeGasLimit(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(123_456), gas)
}
