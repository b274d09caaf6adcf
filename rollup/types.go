// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

type TxType uint8

const (
	TxTypeDeposit TxType = iota
	TxTypeTransfer
	TxTypeWithdrawToWallet
	TxTypeWithdrawHighGas
	TxTypeAccount
	TxTypeDefiDeposit
	TxTypeDefiClaim
	numTxTypes
)

var txTypeNames = [numTxTypes]string{
	"deposit",
	"transfer",
	"withdraw-to-wallet",
	"withdraw-high-gas",
	"account",
	"defi-deposit",
	"defi-claim",
}

func (t TxType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
	return txTypeNames[t]
}

func (t TxType) Valid() bool {
	return t < numTxTypes
}

func AllTxTypes() []TxType {
	types := make([]TxType, 0, numTxTypes)
	for t := TxType(0); t < numTxTypes; t++ {
		types = append(types, t)
	}
	return types
}

type AssetID uint32

// AssetSet is the set of distinct fee-paying assets touched by a batch.
type AssetSet map[AssetID]struct{}

func NewAssetSet(ids ...AssetID) AssetSet {
	s := make(AssetSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s AssetSet) Has(id AssetID) bool {
	_, ok := s[id]
	return ok
}

func (s AssetSet) Add(id AssetID) {
	s[id] = struct{}{}
}

func (s AssetSet) Len() int {
	return len(s)
}

func (s AssetSet) Clone() AssetSet {
	c := make(AssetSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Sorted returns the ids in ascending order.
func (s AssetSet) Sorted() []AssetID {
	ids := make([]AssetID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type Fee struct {
	AssetID AssetID
	Amount  *big.Int
}

func (f Fee) IsZero() bool {
	return f.Amount == nil || f.Amount.Sign() == 0
}

// QueuedTx is a user transaction that has been accepted by the sequencer but
// not yet published in a rollup. It is never mutated after creation.
type QueuedTx struct {
	TxRef       common.Hash
	ExcessGas   uint64
	Fee         Fee
	Bridge      *BridgeCallData // nil for plain transactions
	SecondClass bool
}

func (tx *QueuedTx) IsBridgeTx() bool {
	return tx.Bridge != nil
}

// Rollup is the unit of publication: an encoded proof plus the broadcast data
// that has to be visible on the ledger no later than the proof.
type Rollup struct {
	ID            uint64
	Proof         []byte
	BroadcastData [][]byte
}

// CallDataSize is the total payload size of all sub-transactions.
func (r *Rollup) CallDataSize() uint64 {
	size := uint64(len(r.Proof))
	for _, data := range r.BroadcastData {
		size += uint64(len(data))
	}
	return size
}

type SubTxKind uint8

const (
	SubTxBroadcastData SubTxKind = iota
	SubTxProof
)

func (k SubTxKind) String() string {
	switch k {
	case SubTxBroadcastData:
		return "broadcast-data"
	case SubTxProof:
		return "proof"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

type SubTx struct {
	Kind    SubTxKind
	Index   int
	Payload []byte
}

func (s SubTx) Name() string {
	if s.Kind == SubTxProof {
		return s.Kind.String()
	}
	return fmt.Sprintf("%v-%d", s.Kind, s.Index)
}

// SubTransactions returns the ledger transactions that make up the rollup in
// the order they must be sent: broadcast data by index, then the proof.
func (r *Rollup) SubTransactions() []SubTx {
	txs := make([]SubTx, 0, len(r.BroadcastData)+1)
	for i, data := range r.BroadcastData {
		txs = append(txs, SubTx{Kind: SubTxBroadcastData, Index: i, Payload: data})
	}
	return append(txs, SubTx{Kind: SubTxProof, Payload: r.Proof})
}
