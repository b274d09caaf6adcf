// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package subsidy tracks separately funded gas credits per bridge target.
// A subsidy is claimed whole: a successful claim empties it.
package subsidy

import (
	"context"
	"sync"

	"github.com/rollupcore/sequencer/rollup"
	"github.com/rollupcore/sequencer/util/arbmath"
)

type MemoryProvider struct {
	mutex   sync.Mutex
	amounts map[rollup.BridgeCallData]uint64
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{amounts: make(map[rollup.BridgeCallData]uint64)}
}

func (p *MemoryProvider) Fund(_ context.Context, bridge rollup.BridgeCallData, amount uint64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.amounts[bridge] = arbmath.SaturatingUAdd(p.amounts[bridge], amount)
	return nil
}

func (p *MemoryProvider) BridgeSubsidy(_ context.Context, bridge rollup.BridgeCallData) (uint64, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.amounts[bridge], nil
}

func (p *MemoryProvider) ClaimBridgeSubsidy(_ context.Context, bridge rollup.BridgeCallData) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.amounts[bridge] == 0 {
		return false, nil
	}
	delete(p.amounts, bridge)
	return true, nil
}
