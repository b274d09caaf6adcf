// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package slice

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Storage keeps items in memory indexed from the first index ever put.
// Indexes skipped over hold nil.
type Storage[Item any] struct {
	mutex      sync.Mutex
	firstIndex uint64
	queue      []*Item
	count      int
}

func NewStorage[Item any]() *Storage[Item] {
	return &Storage[Item]{}
}

func (s *Storage[Item]) Get(_ context.Context, index uint64) (*Item, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.queue) == 0 || index < s.firstIndex || index >= s.firstIndex+uint64(len(s.queue)) {
		return nil, nil
	}
	return s.queue[index-s.firstIndex], nil
}

func (s *Storage[Item]) GetContents(_ context.Context, startingIndex uint64, maxResults uint64) ([]*Item, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var res []*Item
	if startingIndex < s.firstIndex {
		startingIndex = s.firstIndex
	}
	for i := startingIndex; i < s.firstIndex+uint64(len(s.queue)) && uint64(len(res)) < maxResults; i++ {
		if item := s.queue[i-s.firstIndex]; item != nil {
			res = append(res, item)
		}
	}
	return res, nil
}

func (s *Storage[Item]) GetLast(context.Context) (*Item, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.queue) == 0 {
		return nil, nil
	}
	return s.queue[len(s.queue)-1], nil
}

// Prune drops every item below keepStartingAt.
func (s *Storage[Item]) Prune(_ context.Context, keepStartingAt uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if keepStartingAt <= s.firstIndex {
		return nil
	}
	drop := keepStartingAt - s.firstIndex
	if drop >= uint64(len(s.queue)) {
		s.queue = nil
		s.count = 0
		return nil
	}
	for _, item := range s.queue[:drop] {
		if item != nil {
			s.count--
		}
	}
	s.queue = s.queue[drop:]
	s.firstIndex = keepStartingAt
	return nil
}

// Put stores newItem at index if the item currently there is prevItem.
func (s *Storage[Item]) Put(_ context.Context, index uint64, prevItem *Item, newItem *Item) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if newItem == nil {
		return fmt.Errorf("tried to insert nil item at index %v", index)
	}
	if len(s.queue) == 0 {
		if prevItem != nil {
			return errors.New("prevItem isn't nil but queue is empty")
		}
		s.queue = append(s.queue, newItem)
		s.firstIndex = index
		s.count = 1
		return nil
	}
	if index < s.firstIndex {
		return fmt.Errorf("attempted to set too low index %v in queue starting at %v", index, s.firstIndex)
	}
	queueIdx := index - s.firstIndex
	var current *Item
	if queueIdx < uint64(len(s.queue)) {
		current = s.queue[queueIdx]
	}
	if current != prevItem {
		return fmt.Errorf("item at index %v is not the expected previous item", index)
	}
	for uint64(len(s.queue)) <= queueIdx {
		s.queue = append(s.queue, nil)
	}
	if prevItem == nil {
		s.count++
	}
	s.queue[queueIdx] = newItem
	return nil
}

func (s *Storage[Item]) Length(context.Context) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.count, nil
}

func (s *Storage[Item]) IsPersistent() bool {
	return false
}
