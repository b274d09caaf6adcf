// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package storage

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ErrStorageRace = errors.New("storage race error")

// RollupRecord is what the publisher persists about a rollup once all of
// its sub-transactions have been sent.
type RollupRecord struct {
	RollupID uint64
	TxHashes []common.Hash
	// ConfirmHash is the transaction whose receipt confirms the rollup: the
	// proof transaction, sent last.
	ConfirmHash common.Hash
	SentAt      RlpTime
	Confirmed   bool
}

func NewRollupRecord(rollupID uint64, txHashes []common.Hash, sentAt time.Time) *RollupRecord {
	record := &RollupRecord{
		RollupID: rollupID,
		TxHashes: txHashes,
		SentAt:   RlpTime(sentAt),
	}
	if len(txHashes) > 0 {
		record.ConfirmHash = txHashes[len(txHashes)-1]
	}
	return record
}
