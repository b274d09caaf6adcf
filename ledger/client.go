// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package ledger is the publisher's view of the settlement chain: fees,
// balances, nonces, sending signed rollup transactions and reading their
// receipts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/txpool"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupcore/sequencer/util/retry"
)

type Config struct {
	RollupAddress       string        `koanf:"rollup-address"`
	ReceiptPollInterval time.Duration `koanf:"receipt-poll-interval" reload:"hot"`
	ReceiptTimeout      time.Duration `koanf:"receipt-timeout" reload:"hot"`
	GasEstimateMargin   uint64        `koanf:"gas-estimate-margin-bips" reload:"hot"`
}

type ConfigFetcher func() *Config

func (c *Config) Validate() error {
	if !common.IsHexAddress(c.RollupAddress) {
		return fmt.Errorf("invalid rollup address %q", c.RollupAddress)
	}
	if c.ReceiptPollInterval <= 0 {
		return errors.New("receipt-poll-interval must be positive")
	}
	return nil
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".rollup-address", DefaultConfig.RollupAddress, "address of the rollup contract")
	f.Duration(prefix+".receipt-poll-interval", DefaultConfig.ReceiptPollInterval, "how often to poll for a pending transaction's receipt")
	f.Duration(prefix+".receipt-timeout", DefaultConfig.ReceiptTimeout, "how long to wait for a pending transaction to be mined before giving up on it (0 = forever)")
	f.Uint64(prefix+".gas-estimate-margin-bips", DefaultConfig.GasEstimateMargin, "extra gas added to estimates when no gas limit is given, in basis points")
}

var DefaultConfig = Config{
	RollupAddress:       "",
	ReceiptPollInterval: time.Second * 5,
	ReceiptTimeout:      time.Minute * 10,
	GasEstimateMargin:   1000,
}

var TestConfig = Config{
	RollupAddress:       "0x0000000000000000000000000000000000000100",
	ReceiptPollInterval: time.Millisecond * 10,
	ReceiptTimeout:      time.Second,
	GasEstimateMargin:   0,
}

var ErrReceiptTimeout = errors.New("timed out waiting for receipt")

// Client sends rollup transactions from a single signer to the rollup
// contract.
type Client struct {
	l1       L1Interface
	auth     *bind.TransactOpts
	chainID  *big.Int
	rollup   common.Address
	config   ConfigFetcher
	clock    clock.Clock
	reverted *RevertDecoder
}

func NewClient(ctx context.Context, l1 L1Interface, auth *bind.TransactOpts, config ConfigFetcher, clk clock.Clock) (*Client, error) {
	cfg := config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chainID, err := l1.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting chain id: %w", err)
	}
	decoder, err := NewRevertDecoder(RollupErrorsABI)
	if err != nil {
		return nil, err
	}
	return &Client{
		l1:       l1,
		auth:     auth,
		chainID:  chainID,
		rollup:   common.HexToAddress(cfg.RollupAddress),
		config:   config,
		clock:    clk,
		reverted: decoder,
	}, nil
}

func (c *Client) Sender() common.Address {
	return c.auth.From
}

func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	header, err := c.l1.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if header.BaseFee == nil {
		return nil, errors.New("latest header has no base fee")
	}
	return header.BaseFee, nil
}

func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.l1.BalanceAt(ctx, account, nil)
}

func (c *Client) TransactionCount(ctx context.Context, account common.Address) (uint64, error) {
	return c.l1.NonceAt(ctx, account, nil)
}

// SendTransaction signs payload as call data to the rollup contract and
// submits it. A zero gas limit is replaced by an estimate. Once signed, the
// hash is returned even if sending fails, since the node may have accepted
// the transaction anyway. Resending a transaction the node already has is
// not an error.
func (c *Client) SendTransaction(ctx context.Context, payload []byte, opts SendOpts) (common.Hash, error) {
	gasLimit := opts.GasLimit
	if gasLimit == 0 {
		estimate, err := c.l1.EstimateGas(ctx, ethereum.CallMsg{
			From:      c.auth.From,
			To:        &c.rollup,
			GasFeeCap: opts.MaxFeePerGas,
			GasTipCap: opts.MaxPriorityFeePerGas,
			Data:      payload,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimating gas: %w", err)
		}
		gasLimit = estimate + estimate*c.config().GasEstimateMargin/10000
	}
	inner := &types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     opts.Nonce,
		GasTipCap: opts.MaxPriorityFeePerGas,
		GasFeeCap: opts.MaxFeePerGas,
		Gas:       gasLimit,
		To:        &c.rollup,
		Value:     common.Big0,
		Data:      payload,
	}
	signed, err := c.auth.Signer(c.auth.From, types.NewTx(inner))
	if err != nil {
		return common.Hash{}, fmt.Errorf("signing transaction: %w", err)
	}
	if err := c.l1.SendTransaction(ctx, signed); err != nil {
		return signed.Hash(), classifySendError(err)
	}
	log.Debug("sent rollup transaction", "hash", signed.Hash(), "nonce", opts.Nonce, "gas", gasLimit, "size", len(payload))
	return signed.Hash(), nil
}

// Errors cross the RPC boundary as text, so they are matched by message.
func classifySendError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, txpool.ErrAlreadyKnown.Error()):
		return nil
	case strings.Contains(msg, core.ErrNonceTooLow.Error()),
		strings.Contains(msg, txpool.ErrReplaceUnderpriced.Error()):
		return fmt.Errorf("%w: %v", ErrNonceTaken, err)
	default:
		return err
	}
}

// Receipt waits until hash is mined. It returns ErrTxNotFound if the
// transaction is unknown, and ErrReceiptTimeout if it stays pending longer
// than the configured timeout.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	start := c.clock.Now()
	for {
		receipt, err := c.l1.TransactionReceipt(ctx, hash)
		if err == nil {
			return c.toReceipt(ctx, receipt)
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		_, _, err = c.l1.TransactionByHash(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: %v", ErrTxNotFound, hash)
		}
		if err != nil {
			return nil, err
		}
		config := c.config()
		if config.ReceiptTimeout > 0 && c.clock.Since(start) >= config.ReceiptTimeout {
			return nil, fmt.Errorf("%w: %v pending for %v", ErrReceiptTimeout, hash, c.clock.Since(start))
		}
		if err := retry.Sleep(ctx, c.clock, config.ReceiptPollInterval); err != nil {
			return nil, err
		}
	}
}

func (c *Client) toReceipt(ctx context.Context, receipt *types.Receipt) (*Receipt, error) {
	res := &Receipt{
		Status:  receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if !res.Status {
		reason, err := c.revertReason(ctx, receipt)
		if err != nil {
			log.Warn("failed to recover revert reason", "hash", receipt.TxHash, "err", err)
		}
		res.RevertReason = reason
	}
	return res, nil
}

// revertReason replays the failed transaction as a call at its block.
func (c *Client) revertReason(ctx context.Context, receipt *types.Receipt) (string, error) {
	tx, _, err := c.l1.TransactionByHash(ctx, receipt.TxHash)
	if err != nil {
		return "", err
	}
	msg := ethereum.CallMsg{
		From:      c.auth.From,
		To:        tx.To(),
		Gas:       tx.Gas(),
		GasFeeCap: tx.GasFeeCap(),
		GasTipCap: tx.GasTipCap(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	}
	if _, err = c.l1.CallContract(ctx, msg, receipt.BlockNumber); err == nil {
		return "", fmt.Errorf("tx %v failed but call succeeded", receipt.TxHash)
	}
	msg.Gas = 0
	if _, unlimitedErr := c.l1.CallContract(ctx, msg, receipt.BlockNumber); unlimitedErr == nil {
		return "out of gas", nil
	}
	return c.reverted.Decode(err), nil
}
