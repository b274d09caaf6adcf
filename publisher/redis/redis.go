// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/rollupcore/sequencer/publisher/storage"
)

// Storage keeps items in a redis sorted set scored by index, so that a
// standby publisher can pick up where another left off. Encoded items must
// be distinct across indexes.
type Storage[Item any] struct {
	client redis.UniversalClient
	key    string
}

func NewStorage[Item any](client redis.UniversalClient, key string) (*Storage[Item], error) {
	if client == nil {
		return nil, errors.New("redis storage requires a redis client")
	}
	return &Storage[Item]{client: client, key: key}, nil
}

func (s *Storage[Item]) decodeItem(data []byte) (*Item, error) {
	var item Item
	if err := rlp.DecodeBytes(data, &item); err != nil {
		return nil, fmt.Errorf("decoding item: %w", err)
	}
	return &item, nil
}

func indexScore(index uint64) string {
	return strconv.FormatUint(index, 10)
}

type scoreRanger interface {
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
}

func (s *Storage[Item]) rawAt(ctx context.Context, client scoreRanger, index uint64) ([]byte, error) {
	members, err := client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min: indexScore(index),
		Max: indexScore(index),
	}).Result()
	if err != nil {
		return nil, err
	}
	switch len(members) {
	case 0:
		return nil, nil
	case 1:
		return []byte(members[0]), nil
	default:
		return nil, fmt.Errorf("%d items stored at index %v", len(members), index)
	}
}

func (s *Storage[Item]) Get(ctx context.Context, index uint64) (*Item, error) {
	raw, err := s.rawAt(ctx, s.client, index)
	if err != nil || raw == nil {
		return nil, err
	}
	return s.decodeItem(raw)
}

func (s *Storage[Item]) GetContents(ctx context.Context, startingIndex uint64, maxResults uint64) ([]*Item, error) {
	if maxResults == 0 {
		return nil, nil
	}
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   indexScore(startingIndex),
		Max:   "+inf",
		Count: int64(maxResults),
	}).Result()
	if err != nil {
		return nil, err
	}
	var res []*Item
	for _, member := range members {
		item, err := s.decodeItem([]byte(member))
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, nil
}

func (s *Storage[Item]) GetLast(ctx context.Context) (*Item, error) {
	members, err := s.client.ZRevRange(ctx, s.key, 0, 0).Result()
	if err != nil || len(members) == 0 {
		return nil, err
	}
	return s.decodeItem([]byte(members[0]))
}

// Prune deletes every item below keepStartingAt.
func (s *Storage[Item]) Prune(ctx context.Context, keepStartingAt uint64) error {
	if keepStartingAt == 0 {
		return nil
	}
	return s.client.ZRemRangeByScore(ctx, s.key, "-inf", "("+indexScore(keepStartingAt)).Err()
}

// Put replaces prev with new at index, failing with ErrStorageRace if the
// stored item changed concurrently.
func (s *Storage[Item]) Put(ctx context.Context, index uint64, prev *Item, new *Item) error {
	if new == nil {
		return fmt.Errorf("tried to insert nil item at index %v", index)
	}
	newEnc, err := rlp.EncodeToBytes(new)
	if err != nil {
		return fmt.Errorf("encoding new item: %w", err)
	}
	var prevEnc []byte
	if prev != nil {
		prevEnc, err = rlp.EncodeToBytes(prev)
		if err != nil {
			return fmt.Errorf("encoding previous item: %w", err)
		}
	}
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := s.rawAt(ctx, tx, index)
		if err != nil {
			return err
		}
		if !bytes.Equal(stored, prevEnc) {
			return fmt.Errorf("replacing different item than expected at index %v", index)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, s.key, indexScore(index), indexScore(index))
			pipe.ZAdd(ctx, s.key, redis.Z{Score: float64(index), Member: newEnc})
			return nil
		})
		return err
	}, s.key)
	if errors.Is(err, redis.TxFailedErr) {
		return storage.ErrStorageRace
	}
	return err
}

func (s *Storage[Item]) Length(ctx context.Context) (int, error) {
	count, err := s.client.ZCard(ctx, s.key).Result()
	return int(count), err
}

func (s *Storage[Item]) IsPersistent() bool {
	return true
}
