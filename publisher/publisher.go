// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package publisher commits rollups to the ledger. A rollup is published as
// a fixed sequence of transactions, broadcast data first and the proof last,
// and Publish only returns once all of them succeeded or the ledger has
// moved on so that the rollup can never be accepted.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/rollupcore/sequencer/ledger"
	"github.com/rollupcore/sequencer/publisher/slice"
	"github.com/rollupcore/sequencer/publisher/storage"
	"github.com/rollupcore/sequencer/rollup"
	"github.com/rollupcore/sequencer/util/arbmath"
	"github.com/rollupcore/sequencer/util/retry"
)

var (
	sentCounter      = metrics.NewRegisteredCounter("sequencer/publisher/sent", nil)
	gateWaitCounter  = metrics.NewRegisteredCounter("sequencer/publisher/gatewait", nil)
	revertedCounter  = metrics.NewRegisteredCounter("sequencer/publisher/reverted", nil)
	droppedCounter   = metrics.NewRegisteredCounter("sequencer/publisher/dropped", nil)
	staleCounter     = metrics.NewRegisteredCounter("sequencer/publisher/stale", nil)
	confirmedCounter = metrics.NewRegisteredCounter("sequencer/publisher/confirmed", nil)
)

type Ledger interface {
	BaseFee(ctx context.Context) (*big.Int, error)
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	TransactionCount(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, payload []byte, opts ledger.SendOpts) (common.Hash, error)
	Receipt(ctx context.Context, hash common.Hash) (*ledger.Receipt, error)
}

// QueueStorage is implemented by the slice, leveldb and redis backends.
type QueueStorage[Item any] interface {
	Get(ctx context.Context, index uint64) (*Item, error)
	GetContents(ctx context.Context, startingIndex uint64, maxResults uint64) ([]*Item, error)
	GetLast(ctx context.Context) (*Item, error)
	Prune(ctx context.Context, keepStartingAt uint64) error
	Put(ctx context.Context, index uint64, prevItem *Item, newItem *Item) error
	Length(ctx context.Context) (int, error)
	IsPersistent() bool
}

// RecordStorage holds one record per rollup, indexed by rollup id.
type RecordStorage = QueueStorage[storage.RollupRecord]

type subTxAttempt struct {
	hash    common.Hash
	nonce   uint64
	sent    bool
	success bool
	// failed is set once the sent transaction is known not to have succeeded
	// for a reason other than a stale rollup.
	failed bool
	// pending is set on a failed transaction that was still waiting to be
	// mined when its receipt wait timed out. It may yet land.
	pending bool
}

type attempt struct {
	txs       []subTxAttempt
	stale     bool
	confirmed bool
}

func (a *attempt) allSucceeded() bool {
	for _, tx := range a.txs {
		if !tx.success {
			return false
		}
	}
	return true
}

func (a *attempt) awaitingReceipts() bool {
	for _, tx := range a.txs {
		if tx.sent && !tx.success && !tx.failed {
			return true
		}
	}
	return false
}

func (a *attempt) anyFailed() bool {
	for _, tx := range a.txs {
		if tx.failed {
			return true
		}
	}
	return false
}

// recheckMined puts pending transactions whose nonce is below the signer's
// transaction count back to awaiting their receipt, since they may have
// been mined. It reports whether there were any.
func (a *attempt) recheckMined(count uint64) bool {
	found := false
	for i := range a.txs {
		tx := &a.txs[i]
		if tx.pending && tx.nonce < count {
			tx.failed = false
			tx.pending = false
			found = true
		}
	}
	return found
}

// recheckPending puts every pending transaction back to awaiting its
// receipt.
func (a *attempt) recheckPending() {
	for i := range a.txs {
		tx := &a.txs[i]
		if tx.pending {
			tx.failed = false
			tx.pending = false
		}
	}
}

func (a *attempt) hashes() []common.Hash {
	hashes := make([]common.Hash, 0, len(a.txs))
	for _, tx := range a.txs {
		hashes = append(hashes, tx.hash)
	}
	return hashes
}

type attemptKey struct {
	rollupID    uint64
	payloadHash common.Hash
}

func attemptKeyOf(subTxs []rollup.SubTx, rollupID uint64) attemptKey {
	payloadHashes := make([][]byte, 0, len(subTxs))
	for _, subTx := range subTxs {
		payloadHashes = append(payloadHashes, crypto.Keccak256(subTx.Payload))
	}
	return attemptKey{
		rollupID:    rollupID,
		payloadHash: crypto.Keccak256Hash(payloadHashes...),
	}
}

type Publisher struct {
	mutex    sync.Mutex
	ledger   Ledger
	signer   common.Address
	records  RecordStorage
	config   ConfigFetcher
	clock    clock.Clock
	attempts *lru.Cache[attemptKey, *attempt]
}

// NewPublisher creates a publisher sending from signer. A nil records
// storage keeps records in memory.
func NewPublisher(ledger Ledger, signer common.Address, records RecordStorage, config ConfigFetcher, clk clock.Clock) (*Publisher, error) {
	cfg := config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if records == nil {
		records = slice.NewStorage[storage.RollupRecord]()
	}
	attempts, err := lru.New[attemptKey, *attempt](cfg.AttemptCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating attempt cache: %w", err)
	}
	return &Publisher{
		ledger:   ledger,
		signer:   signer,
		records:  records,
		config:   config,
		clock:    clk,
		attempts: attempts,
	}, nil
}

// Publish sends every transaction of r that hasn't yet succeeded and waits
// for their receipts, resending failed ones until all succeed. It returns
// false if a transaction reverted because the ledger state no longer matches
// the rollup, in which case the rollup must be rebuilt. The only error
// returned is the context's.
func (p *Publisher) Publish(ctx context.Context, r *rollup.Rollup, estimatedGas uint64) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	subTxs := r.SubTransactions()
	key := attemptKeyOf(subTxs, r.ID)
	att, ok := p.attempts.Get(key)
	if !ok {
		att = &attempt{txs: make([]subTxAttempt, len(subTxs))}
		p.attempts.Add(key, att)
	}
	for {
		if att.stale {
			return false, nil
		}
		if att.allSucceeded() {
			if err := p.confirm(ctx, r, att); err != nil {
				return false, err
			}
			return true, nil
		}
		if att.awaitingReceipts() {
			if err := p.verify(ctx, r, subTxs, att); err != nil {
				return false, err
			}
			continue
		}
		if att.anyFailed() {
			delay := p.config().RetryDelay
			log.Info("resending rollup transactions", "rollup", r.ID, "delay", delay)
			if err := retry.Sleep(ctx, p.clock, delay); err != nil {
				return false, err
			}
		}
		if err := p.waitForGate(ctx, estimatedGas); err != nil {
			return false, err
		}
		if err := p.send(ctx, r, subTxs, att); err != nil {
			return false, err
		}
		if err := p.record(ctx, r, att); err != nil {
			return false, err
		}
	}
}

func (p *Publisher) waitForGate(ctx context.Context, estimatedGas uint64) error {
	for {
		cfg := p.config()
		open, err := p.gateOpen(ctx, cfg, estimatedGas)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Info("failed to check publishing conditions", "err", err)
		}
		if open {
			return nil
		}
		gateWaitCounter.Inc(1)
		if err := retry.Sleep(ctx, p.clock, cfg.RetryDelay); err != nil {
			return err
		}
	}
}

func (p *Publisher) gateOpen(ctx context.Context, cfg *Config, estimatedGas uint64) (bool, error) {
	maxFee := cfg.maxFeePerGas()
	baseFee, err := p.ledger.BaseFee(ctx)
	if err != nil {
		return false, fmt.Errorf("getting base fee: %w", err)
	}
	if arbmath.BigGreaterThan(arbmath.BigAdd(baseFee, cfg.maxPriorityFeePerGas()), maxFee) {
		log.Info("waiting for base fee to drop", "baseFee", baseFee, "maxFeePerGas", maxFee)
		return false, nil
	}
	balance, err := p.ledger.Balance(ctx, p.signer)
	if err != nil {
		return false, fmt.Errorf("getting signer balance: %w", err)
	}
	required := arbmath.BigMulByUint(maxFee, estimatedGas)
	if arbmath.BigLessThan(balance, required) {
		log.Warn("signer balance too low to publish", "signer", p.signer, "balance", balance, "required", required)
		return false, nil
	}
	return true, nil
}

// send submits every transaction that hasn't succeeded with consecutive
// nonces starting at the signer's current transaction count. A round ends
// early, leaving receipts to check, when a transaction that may still land
// could be holding one of those nonces.
func (p *Publisher) send(ctx context.Context, r *rollup.Rollup, subTxs []rollup.SubTx, att *attempt) error {
	cfg := p.config()
	nonce, err := retry.UntilSucceeds(ctx, p.clock, cfg.RetryDelay, "getting signer nonce", func() (uint64, error) {
		return p.ledger.TransactionCount(ctx, p.signer)
	})
	if err != nil {
		return err
	}
	if att.recheckMined(nonce) {
		log.Info("pending rollup transactions were mined, checking receipts", "rollup", r.ID, "nonce", nonce)
		return nil
	}
	for i, subTx := range subTxs {
		if att.txs[i].success {
			continue
		}
		opts := ledger.SendOpts{
			Nonce:                nonce,
			GasLimit:             cfg.GasLimit,
			MaxFeePerGas:         cfg.maxFeePerGas(),
			MaxPriorityFeePerGas: cfg.maxPriorityFeePerGas(),
		}
		payload := subTx.Payload
		var maybeAccepted common.Hash
		taken := false
		hash, err := retry.UntilSucceeds(ctx, p.clock, cfg.RetryDelay, "sending "+subTx.Name(), func() (common.Hash, error) {
			hash, err := p.ledger.SendTransaction(ctx, payload, opts)
			if errors.Is(err, ledger.ErrNonceTaken) {
				taken = true
				return common.Hash{}, nil
			}
			if err != nil && hash != (common.Hash{}) {
				maybeAccepted = hash
			}
			return hash, err
		})
		if err != nil {
			return err
		}
		if taken {
			log.Info("rollup transaction nonce already taken, checking receipts", "rollup", r.ID, "tx", subTx.Name(), "nonce", nonce)
			if maybeAccepted != (common.Hash{}) {
				att.txs[i] = subTxAttempt{hash: maybeAccepted, nonce: nonce, sent: true}
			} else if !att.txs[i].pending {
				att.txs[i].failed = true
			}
			att.recheckPending()
			return nil
		}
		att.txs[i] = subTxAttempt{hash: hash, nonce: nonce, sent: true}
		sentCounter.Inc(1)
		log.Info("sent rollup transaction", "rollup", r.ID, "tx", subTx.Name(), "hash", hash, "nonce", nonce)
		nonce++
	}
	return nil
}

// record persists the hashes of the current send round. The last one, the
// proof's, is the rollup's confirmation marker.
func (p *Publisher) record(ctx context.Context, r *rollup.Rollup, att *attempt) error {
	record := storage.NewRollupRecord(r.ID, att.hashes(), p.clock.Now())
	return p.putRecord(ctx, r.ID, func(*storage.RollupRecord) *storage.RollupRecord {
		return record
	})
}

func (p *Publisher) confirm(ctx context.Context, r *rollup.Rollup, att *attempt) error {
	if att.confirmed {
		return nil
	}
	err := p.putRecord(ctx, r.ID, func(prev *storage.RollupRecord) *storage.RollupRecord {
		var record storage.RollupRecord
		if prev != nil {
			record = *prev
		} else {
			record = *storage.NewRollupRecord(r.ID, att.hashes(), p.clock.Now())
		}
		record.Confirmed = true
		return &record
	})
	if err != nil {
		return err
	}
	att.confirmed = true
	confirmedCounter.Inc(1)
	log.Info("rollup published", "rollup", r.ID, "txs", len(att.txs))

	retention := p.config().RecordRetention
	if retention > 0 && r.ID+1 > retention {
		if err := p.records.Prune(ctx, r.ID+1-retention); err != nil {
			log.Warn("failed to prune rollup records", "rollup", r.ID, "err", err)
		}
	}
	return nil
}

func (p *Publisher) putRecord(ctx context.Context, rollupID uint64, update func(prev *storage.RollupRecord) *storage.RollupRecord) error {
	_, err := retry.UntilSucceeds(ctx, p.clock, p.config().RetryDelay, "storing rollup record", func() (struct{}, error) {
		prev, err := p.records.Get(ctx, rollupID)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, p.records.Put(ctx, rollupID, prev, update(prev))
	})
	return err
}

// verify waits for the receipt of every sent transaction whose outcome is
// unknown. It stops at the first transaction reverted because the rollup
// went stale.
func (p *Publisher) verify(ctx context.Context, r *rollup.Rollup, subTxs []rollup.SubTx, att *attempt) error {
	cfg := p.config()
	for i, subTx := range subTxs {
		tx := &att.txs[i]
		if !tx.sent || tx.success || tx.failed {
			continue
		}
		hash := tx.hash
		var missing error
		receipt, err := retry.UntilSucceeds(ctx, p.clock, cfg.RetryDelay, "getting receipt of "+subTx.Name(), func() (*ledger.Receipt, error) {
			receipt, err := p.ledger.Receipt(ctx, hash)
			missing = nil
			if errors.Is(err, ledger.ErrTxNotFound) || errors.Is(err, ledger.ErrReceiptTimeout) {
				missing = err
				return nil, nil
			}
			return receipt, err
		})
		if err != nil {
			return err
		}
		switch {
		case errors.Is(missing, ledger.ErrReceiptTimeout):
			log.Info("rollup transaction still pending", "rollup", r.ID, "tx", subTx.Name(), "hash", hash, "nonce", tx.nonce)
			tx.failed = true
			tx.pending = true
		case receipt == nil:
			log.Warn("rollup transaction was not mined", "rollup", r.ID, "tx", subTx.Name(), "hash", hash)
			droppedCounter.Inc(1)
			tx.failed = true
		case receipt.Status:
			tx.success = true
		case cfg.isPrecondition(receipt.RevertReason):
			log.Warn("rollup no longer matches ledger state", "rollup", r.ID, "tx", subTx.Name(), "hash", hash, "reason", receipt.RevertReason)
			staleCounter.Inc(1)
			att.stale = true
			return nil
		default:
			log.Warn("rollup transaction reverted", "rollup", r.ID, "tx", subTx.Name(), "hash", hash, "reason", receipt.RevertReason)
			revertedCounter.Inc(1)
			tx.failed = true
		}
	}
	return nil
}

// Records gives read access to the stored rollup records.
func (p *Publisher) Records() RecordStorage {
	return p.records
}

// Unconfirmed returns the stored records of rollups that were sent but never
// confirmed, oldest first. These are rollups that went stale or whose
// publication was abandoned.
func (p *Publisher) Unconfirmed(ctx context.Context) ([]*storage.RollupRecord, error) {
	length, err := p.records.Length(ctx)
	if err != nil {
		return nil, err
	}
	records, err := p.records.GetContents(ctx, 0, uint64(length))
	if err != nil {
		return nil, err
	}
	var unconfirmed []*storage.RollupRecord
	for _, record := range records {
		if !record.Confirmed {
			unconfirmed = append(unconfirmed, record)
		}
	}
	return unconfirmed, nil
}
