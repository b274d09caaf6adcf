// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func assetPtr(id AssetID) *AssetID {
	return &id
}

func TestBridgeCallDataRoundTrip(t *testing.T) {
	for _, fields := range []BridgeCallDataFields{
		{BridgeAddressID: 1, InputAssetA: 0, OutputAssetA: 1},
		{BridgeAddressID: 7, InputAssetA: 2, InputAssetB: assetPtr(3), OutputAssetA: 4, AuxData: 100},
		{BridgeAddressID: 1<<32 - 1, InputAssetA: MaxAssetID, InputAssetB: assetPtr(MaxAssetID), OutputAssetA: MaxAssetID, OutputAssetB: assetPtr(0), AuxData: 1<<64 - 1},
	} {
		bridge, err := NewBridgeCallData(fields)
		require.NoError(t, err)
		if diff := cmp.Diff(fields, bridge.Fields()); diff != "" {
			t.Fatalf("unexpected fields after packing: %s", diff)
		}
		parsed, err := ParseBridgeCallData(bridge.String())
		require.NoError(t, err)
		require.True(t, parsed.Equal(bridge))
		require.Equal(t, bridge, parsed)

		decimal, err := ParseBridgeCallData(bridge.Uint256().Dec())
		require.NoError(t, err)
		require.Equal(t, bridge, decimal)
	}
}

func TestBridgeCallDataAuxDataDistinguishesTargets(t *testing.T) {
	a, err := NewBridgeCallData(BridgeCallDataFields{BridgeAddressID: 3, OutputAssetA: 1, AuxData: 1})
	require.NoError(t, err)
	b, err := NewBridgeCallData(BridgeCallDataFields{BridgeAddressID: 3, OutputAssetA: 1, AuxData: 2})
	require.NoError(t, err)
	require.False(t, a.Equal(b))

	queues := map[BridgeCallData]int{a: 1, b: 2}
	require.Len(t, queues, 2)
}

func TestBridgeCallDataSecondAssetFlag(t *testing.T) {
	// asset 0 in the second slot is only meaningful when the bit config says so
	withZero, err := NewBridgeCallData(BridgeCallDataFields{BridgeAddressID: 1, InputAssetB: assetPtr(0)})
	require.NoError(t, err)
	without, err := NewBridgeCallData(BridgeCallDataFields{BridgeAddressID: 1})
	require.NoError(t, err)
	require.False(t, withZero.Equal(without))
	_, ok := without.InputAssetB()
	require.False(t, ok)
	id, ok := withZero.InputAssetB()
	require.True(t, ok)
	require.Equal(t, AssetID(0), id)
}

func TestBridgeCallDataRejectsInvalid(t *testing.T) {
	_, err := NewBridgeCallData(BridgeCallDataFields{InputAssetA: MaxAssetID + 1})
	require.Error(t, err)

	tooWide := new(uint256.Int).Lsh(uint256.NewInt(1), bridgeCallDataLen)
	_, err = BridgeCallDataFromUint256(tooWide)
	require.ErrorIs(t, err, ErrBridgeCallDataOverflow)

	_, err = ParseBridgeCallData("not a number")
	require.Error(t, err)

	zero, err := ParseBridgeCallData("0x0")
	require.NoError(t, err)
	require.Equal(t, BridgeCallData{}, zero)
}

func TestRollupSubTransactionOrder(t *testing.T) {
	r := &Rollup{
		ID:            5,
		Proof:         []byte{1, 2, 3},
		BroadcastData: [][]byte{{4}, {5, 6}},
	}
	subTxs := r.SubTransactions()
	require.Len(t, subTxs, 3)
	require.Equal(t, "broadcast-data-0", subTxs[0].Name())
	require.Equal(t, "broadcast-data-1", subTxs[1].Name())
	require.Equal(t, SubTxProof, subTxs[2].Kind)
	require.Equal(t, []byte{1, 2, 3}, subTxs[2].Payload)
	require.Equal(t, uint64(6), r.CallDataSize())
}
