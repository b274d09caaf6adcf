// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type dataError struct {
	msg  string
	data interface{}
}

func (e *dataError) Error() string          { return e.msg }
func (e *dataError) ErrorData() interface{} { return e.data }

type fakeL1 struct {
	mutex      sync.Mutex
	chainID    *big.Int
	sent       map[common.Hash]*types.Transaction
	receipts   map[common.Hash]*types.Receipt
	mineAfter  map[common.Hash]int
	polls      map[common.Hash]int
	estimate   uint64
	callResult func(ethereum.CallMsg) error
	sendErr    error
}

func newFakeL1() *fakeL1 {
	return &fakeL1{
		chainID:   big.NewInt(1337),
		sent:      make(map[common.Hash]*types.Transaction),
		receipts:  make(map[common.Hash]*types.Receipt),
		mineAfter: make(map[common.Hash]int),
		polls:     make(map[common.Hash]int),
		estimate:  21_000,
	}
}

func (f *fakeL1) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeL1) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(7)}, nil
}

func (f *fakeL1) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(1e18), nil
}

func (f *fakeL1) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	return 3, nil
}

func (f *fakeL1) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, nil
}

func (f *fakeL1) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.sent[tx.Hash()] = tx
	return f.sendErr
}

func (f *fakeL1) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.polls[hash]++
	receipt, ok := f.receipts[hash]
	if !ok || f.polls[hash] <= f.mineAfter[hash] {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeL1) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	tx, ok := f.sent[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, true, nil
}

func (f *fakeL1) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callResult == nil {
		return nil, nil
	}
	return nil, f.callResult(msg)
}

func (f *fakeL1) mine(hash common.Hash, success bool, afterPolls int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	status := types.ReceiptStatusSuccessful
	if !success {
		status = types.ReceiptStatusFailed
	}
	f.receipts[hash] = &types.Receipt{Status: status, TxHash: hash, BlockNumber: big.NewInt(10), GasUsed: 50_000}
	f.mineAfter[hash] = afterPolls
}

func newTestClient(t *testing.T, l1 *fakeL1, clk clock.Clock) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth, err := bind.NewKeyedTransactorWithChainID(key, l1.chainID)
	require.NoError(t, err)
	config := TestConfig
	client, err := NewClient(context.Background(), l1, auth, func() *Config { return &config }, clk)
	require.NoError(t, err)
	return client
}

func TestSendTransactionSignsForRollup(t *testing.T) {
	l1 := newFakeL1()
	client := newTestClient(t, l1, clock.NewMock())
	ctx := context.Background()

	hash, err := client.SendTransaction(ctx, []byte{1, 2, 3}, SendOpts{
		Nonce:                5,
		GasLimit:             100_000,
		MaxFeePerGas:         big.NewInt(20),
		MaxPriorityFeePerGas: big.NewInt(2),
	})
	require.NoError(t, err)
	tx := l1.sent[hash]
	require.NotNil(t, tx)
	sender, err := types.Sender(types.LatestSignerForChainID(l1.chainID), tx)
	require.NoError(t, err)
	require.Equal(t, client.Sender(), sender)
	require.Equal(t, uint64(5), tx.Nonce())
	require.Equal(t, uint64(100_000), tx.Gas())
	require.Equal(t, big.NewInt(20), tx.GasFeeCap())
	require.Equal(t, big.NewInt(2), tx.GasTipCap())
	require.Equal(t, common.HexToAddress(TestConfig.RollupAddress), *tx.To())
	require.Equal(t, []byte{1, 2, 3}, tx.Data())

	hash, err = client.SendTransaction(ctx, []byte{4}, SendOpts{Nonce: 6, MaxFeePerGas: big.NewInt(20), MaxPriorityFeePerGas: big.NewInt(2)})
	require.NoError(t, err)
	require.Equal(t, l1.estimate, l1.sent[hash].Gas())

	baseFee, err := client.BaseFee(ctx)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(7), baseFee)
	nonce, err := client.TransactionCount(ctx, client.Sender())
	require.NoError(t, err)
	require.Equal(t, uint64(3), nonce)
}

func TestSendTransactionClassifiesErrors(t *testing.T) {
	l1 := newFakeL1()
	client := newTestClient(t, l1, clock.NewMock())
	opts := SendOpts{Nonce: 1, GasLimit: 30_000, MaxFeePerGas: big.NewInt(20), MaxPriorityFeePerGas: big.NewInt(2)}

	l1.sendErr = errors.New("already known")
	hash, err := client.SendTransaction(context.Background(), []byte{1}, opts)
	require.NoError(t, err)
	require.NotNil(t, l1.sent[hash])

	for _, msg := range []string{
		"nonce too low: address 0x00000000000000000000000000000000000000aa, tx: 1 state: 2",
		"replacement transaction underpriced",
	} {
		l1.sendErr = errors.New(msg)
		again, err := client.SendTransaction(context.Background(), []byte{1}, opts)
		require.ErrorIs(t, err, ErrNonceTaken)
		require.Equal(t, hash, again)
	}

	// the node may have taken the transaction before the connection failed
	l1.sendErr = errors.New("i/o timeout")
	again, err := client.SendTransaction(context.Background(), []byte{1}, opts)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNonceTaken)
	require.Equal(t, hash, again)
}

func TestReceiptUnknownTransaction(t *testing.T) {
	client := newTestClient(t, newFakeL1(), clock.NewMock())
	_, err := client.Receipt(context.Background(), common.Hash{9})
	require.ErrorIs(t, err, ErrTxNotFound)
}

func sendAndWait(t *testing.T, client *Client, l1 *fakeL1, mock *clock.Mock, mine func(common.Hash)) (*Receipt, error) {
	t.Helper()
	hash, err := client.SendTransaction(context.Background(), []byte{1}, SendOpts{GasLimit: 30_000, MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)})
	require.NoError(t, err)
	if mine != nil {
		mine(hash)
	}
	type result struct {
		receipt *Receipt
		err     error
	}
	done := make(chan result, 1)
	go func() {
		receipt, err := client.Receipt(context.Background(), hash)
		done <- result{receipt, err}
	}()
	for {
		select {
		case res := <-done:
			return res.receipt, res.err
		default:
			mock.Add(TestConfig.ReceiptPollInterval)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestReceiptWaitsForPending(t *testing.T) {
	l1 := newFakeL1()
	mock := clock.NewMock()
	client := newTestClient(t, l1, mock)
	receipt, err := sendAndWait(t, client, l1, mock, func(hash common.Hash) { l1.mine(hash, true, 3) })
	require.NoError(t, err)
	require.True(t, receipt.Status)
	require.Equal(t, uint64(10), receipt.BlockNumber)
	require.Empty(t, receipt.RevertReason)
}

func TestReceiptTimesOut(t *testing.T) {
	l1 := newFakeL1()
	mock := clock.NewMock()
	client := newTestClient(t, l1, mock)
	_, err := sendAndWait(t, client, l1, mock, nil)
	require.ErrorIs(t, err, ErrReceiptTimeout)
}

func TestReceiptRevertReasons(t *testing.T) {
	errorsABI, err := abi.JSON(strings.NewReader(RollupErrorsABI))
	require.NoError(t, err)
	stateErr := errorsABI.Errors["INCORRECT_STATE_HASH"]
	args, err := stateErr.Inputs.Pack(common.Hash{1}, common.Hash{2})
	require.NoError(t, err)
	customData := append(append([]byte{}, stateErr.ID[:4]...), args...)

	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packedReason, err := abi.Arguments{{Type: stringType}}.Pack("BOOM")
	require.NoError(t, err)
	errorStringData := append(crypto.Keccak256([]byte("Error(string)"))[:4], packedReason...)

	for name, tc := range map[string]struct {
		callResult func(ethereum.CallMsg) error
		want       string
	}{
		"custom error": {
			callResult: func(ethereum.CallMsg) error {
				return &dataError{msg: "execution reverted", data: hexutil.Encode(customData)}
			},
			want: "INCORRECT_STATE_HASH",
		},
		"error string": {
			callResult: func(ethereum.CallMsg) error {
				return &dataError{msg: "execution reverted: BOOM", data: hexutil.Encode(errorStringData)}
			},
			want: "BOOM",
		},
		"no data": {
			callResult: func(ethereum.CallMsg) error { return errors.New("execution reverted: SOMETHING") },
			want:       "SOMETHING",
		},
		"out of gas": {
			callResult: func(msg ethereum.CallMsg) error {
				if msg.Gas != 0 {
					return errors.New("out of gas")
				}
				return nil
			},
			want: "out of gas",
		},
	} {
		t.Run(name, func(t *testing.T) {
			l1 := newFakeL1()
			l1.callResult = tc.callResult
			mock := clock.NewMock()
			client := newTestClient(t, l1, mock)
			receipt, err := sendAndWait(t, client, l1, mock, func(hash common.Hash) { l1.mine(hash, false, 0) })
			require.NoError(t, err)
			require.False(t, receipt.Status)
			require.Equal(t, tc.want, receipt.RevertReason)
		})
	}
}
