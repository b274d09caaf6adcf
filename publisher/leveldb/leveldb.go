// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package leveldb

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"
)

// Storage implements ethdb based storage for rollup records.
type Storage[Item any] struct {
	// lock serializes read-modify-write cycles on the counters.
	lock sync.Mutex
	db   ethdb.KeyValueStore
}

var (
	// Keys that must never be pruned sort below the smallest index key "0",
	// hence the "." prefix.
	lastItemKey = []byte(".last_item_key")
	countKey    = []byte(".count_key")
)

func New[Item any](db ethdb.KeyValueStore) *Storage[Item] {
	return &Storage[Item]{db: db}
}

func (s *Storage[Item]) decodeItem(data []byte) (*Item, error) {
	var item Item
	if err := rlp.DecodeBytes(data, &item); err != nil {
		return nil, fmt.Errorf("decoding item: %w", err)
	}
	return &item, nil
}

func idxToKey(idx uint64) []byte {
	return []byte(fmt.Sprintf("%019d", idx))
}

func (s *Storage[Item]) Get(_ context.Context, index uint64) (*Item, error) {
	return s.itemAt(idxToKey(index))
}

// itemAt returns nil if there is no item at key.
func (s *Storage[Item]) itemAt(key []byte) (*Item, error) {
	has, err := s.db.Has(key)
	if err != nil || !has {
		return nil, err
	}
	val, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	return s.decodeItem(val)
}

func (s *Storage[Item]) GetContents(_ context.Context, startingIndex uint64, maxResults uint64) ([]*Item, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	var res []*Item
	it := s.db.NewIterator(nil, idxToKey(startingIndex))
	defer it.Release()
	for uint64(len(res)) < maxResults && it.Next() {
		item, err := s.decodeItem(it.Value())
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, it.Error()
}

func (s *Storage[Item]) GetLast(context.Context) (*Item, error) {
	return s.itemAt(lastItemKey)
}

// Prune deletes every item below keepStartingAt.
func (s *Storage[Item]) Prune(_ context.Context, keepStartingAt uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	cnt, err := s.length()
	if err != nil {
		return err
	}
	limit := idxToKey(keepStartingAt)
	it := s.db.NewIterator(nil, idxToKey(0))
	defer it.Release()
	b := s.db.NewBatch()
	for it.Next() && bytes.Compare(it.Key(), limit) < 0 {
		if err := b.Delete(it.Key()); err != nil {
			return fmt.Errorf("deleting key: %w", err)
		}
		cnt--
	}
	if err := b.Put(countKey, []byte(strconv.Itoa(cnt))); err != nil {
		return fmt.Errorf("updating length counter: %w", err)
	}
	rest := s.db.NewIterator(nil, limit)
	defer rest.Release()
	if !rest.Next() {
		if err := b.Delete(lastItemKey); err != nil {
			return fmt.Errorf("deleting last item: %w", err)
		}
	}
	return b.Write()
}

// valueAt returns the value at key, or the encoding of a nil item if there
// is none.
func (s *Storage[Item]) valueAt(key []byte) ([]byte, error) {
	has, err := s.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !has {
		return rlp.EncodeToBytes((*Item)(nil))
	}
	return s.db.Get(key)
}

func (s *Storage[Item]) Put(_ context.Context, index uint64, prev *Item, new *Item) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	key := idxToKey(index)
	stored, err := s.valueAt(key)
	if err != nil {
		return err
	}
	prevEnc, err := rlp.EncodeToBytes(prev)
	if err != nil {
		return fmt.Errorf("encoding previous item: %w", err)
	}
	if !bytes.Equal(stored, prevEnc) {
		return fmt.Errorf("replacing different item than expected at index %v", index)
	}
	newEnc, err := rlp.EncodeToBytes(new)
	if err != nil {
		return fmt.Errorf("encoding new item: %w", err)
	}
	cnt, err := s.length()
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	if err := b.Put(key, newEnc); err != nil {
		return fmt.Errorf("updating value at %v: %w", index, err)
	}
	if err := s.updateLast(b, index, newEnc); err != nil {
		return err
	}
	if prev == nil {
		if err := b.Put(countKey, []byte(strconv.Itoa(cnt+1))); err != nil {
			return fmt.Errorf("updating length counter: %w", err)
		}
	}
	return b.Write()
}

// updateLast points the last item key at index's value if index is the
// highest index stored.
func (s *Storage[Item]) updateLast(b ethdb.Batch, index uint64, enc []byte) error {
	it := s.db.NewIterator(nil, idxToKey(index+1))
	defer it.Release()
	if it.Next() {
		return nil
	}
	if err := b.Put(lastItemKey, enc); err != nil {
		return fmt.Errorf("updating last item: %w", err)
	}
	return nil
}

func (s *Storage[Item]) length() (int, error) {
	has, err := s.db.Has(countKey)
	if err != nil || !has {
		return 0, err
	}
	val, err := s.db.Get(countKey)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(val))
}

func (s *Storage[Item]) Length(context.Context) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.length()
}

func (s *Storage[Item]) IsPersistent() bool {
	return true
}
