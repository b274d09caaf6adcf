// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package bridgequeue

import (
	"errors"
	"sync"

	"github.com/rollupcore/sequencer/rollup"
)

// Set routes bridge deposits to one queue per target, creating queues on
// first use.
type Set struct {
	fees    FeeResolver
	subsidy SubsidyProvider

	mutex  sync.Mutex
	queues map[rollup.BridgeCallData]*BridgeTxQueue
	order  []rollup.BridgeCallData
}

func NewSet(fees FeeResolver, subsidy SubsidyProvider) *Set {
	return &Set{
		fees:    fees,
		subsidy: subsidy,
		queues:  make(map[rollup.BridgeCallData]*BridgeTxQueue),
	}
}

// Queue returns the queue for bridge, creating it if needed.
func (s *Set) Queue(bridge rollup.BridgeCallData) *BridgeTxQueue {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	q, ok := s.queues[bridge]
	if !ok {
		q = New(bridge, s.fees, s.subsidy)
		s.queues[bridge] = q
		s.order = append(s.order, bridge)
	}
	return q
}

func (s *Set) Enqueue(tx *rollup.QueuedTx) error {
	if !tx.IsBridgeTx() {
		return errors.New("cannot queue a transaction without a bridge target")
	}
	return s.Queue(*tx.Bridge).Enqueue(tx)
}

// Queues lists the queues in the order their targets were first seen.
func (s *Set) Queues() []*BridgeTxQueue {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	queues := make([]*BridgeTxQueue, 0, len(s.order))
	for _, bridge := range s.order {
		queues = append(queues, s.queues[bridge])
	}
	return queues
}

func (s *Set) Bridges() []rollup.BridgeCallData {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]rollup.BridgeCallData(nil), s.order...)
}

func (s *Set) Stats() []QueueStats {
	queues := s.Queues()
	stats := make([]QueueStats, 0, len(queues))
	for _, q := range queues {
		stats = append(stats, q.Stats())
	}
	return stats
}
