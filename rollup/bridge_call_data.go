// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

const (
	bridgeAddressIDLen = 32
	assetIDLen         = 30
	bitConfigLen       = 32
	auxDataLen         = 64

	inputAssetAOffset  = bridgeAddressIDLen
	inputAssetBOffset  = inputAssetAOffset + assetIDLen
	outputAssetAOffset = inputAssetBOffset + assetIDLen
	outputAssetBOffset = outputAssetAOffset + assetIDLen
	bitConfigOffset    = outputAssetBOffset + assetIDLen
	auxDataOffset      = bitConfigOffset + bitConfigLen
	bridgeCallDataLen  = auxDataOffset + auxDataLen

	secondInputInUse  = 1 << 0
	secondOutputInUse = 1 << 1

	MaxAssetID = 1<<assetIDLen - 1
)

var ErrBridgeCallDataOverflow = errors.New("bridge call data uses bits beyond its layout")

// BridgeCallData identifies one external interaction target: the bridge
// contract, its input and output assets, and auxiliary data, packed into a
// single 256-bit word. Two values are the same target only if every bit
// matches; the type is comparable and can key a map.
type BridgeCallData struct {
	packed uint256.Int
}

type BridgeCallDataFields struct {
	BridgeAddressID uint32
	InputAssetA     AssetID
	InputAssetB     *AssetID
	OutputAssetA    AssetID
	OutputAssetB    *AssetID
	AuxData         uint64
}

func NewBridgeCallData(f BridgeCallDataFields) (BridgeCallData, error) {
	assets := []AssetID{f.InputAssetA, f.OutputAssetA}
	var bitConfig uint64
	var inputB, outputB AssetID
	if f.InputAssetB != nil {
		bitConfig |= secondInputInUse
		inputB = *f.InputAssetB
		assets = append(assets, inputB)
	}
	if f.OutputAssetB != nil {
		bitConfig |= secondOutputInUse
		outputB = *f.OutputAssetB
		assets = append(assets, outputB)
	}
	for _, id := range assets {
		if id > MaxAssetID {
			return BridgeCallData{}, fmt.Errorf("asset id %d exceeds %d bits", id, assetIDLen)
		}
	}
	var b BridgeCallData
	b.setField(0, uint64(f.BridgeAddressID))
	b.setField(inputAssetAOffset, uint64(f.InputAssetA))
	b.setField(inputAssetBOffset, uint64(inputB))
	b.setField(outputAssetAOffset, uint64(f.OutputAssetA))
	b.setField(outputAssetBOffset, uint64(outputB))
	b.setField(bitConfigOffset, bitConfig)
	b.setField(auxDataOffset, f.AuxData)
	return b, nil
}

// BridgeCallDataFromUint256 validates that no bits above the packed layout
// are set.
func BridgeCallDataFromUint256(v *uint256.Int) (BridgeCallData, error) {
	if v.BitLen() > bridgeCallDataLen {
		return BridgeCallData{}, ErrBridgeCallDataOverflow
	}
	return BridgeCallData{packed: *v}, nil
}

// ParseBridgeCallData accepts a 0x-prefixed hex string or a decimal string.
func ParseBridgeCallData(s string) (BridgeCallData, error) {
	s = strings.TrimSpace(s)
	var v *uint256.Int
	var err error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = uint256.FromHex("0x" + strings.TrimLeft(s[2:], "0"))
		if err != nil && strings.TrimLeft(s[2:], "0") == "" {
			v, err = new(uint256.Int), nil
		}
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return BridgeCallData{}, fmt.Errorf("parsing bridge call data %q: %w", s, err)
	}
	return BridgeCallDataFromUint256(v)
}

func (b *BridgeCallData) setField(offset uint, value uint64) {
	field := new(uint256.Int).Lsh(uint256.NewInt(value), offset)
	b.packed.Or(&b.packed, field)
}

func (b BridgeCallData) field(offset uint, length uint) uint64 {
	v := new(uint256.Int).Rsh(&b.packed, offset).Uint64()
	if length >= 64 {
		return v
	}
	return v & (1<<length - 1)
}

func (b BridgeCallData) BridgeAddressID() uint32 {
	return uint32(b.field(0, bridgeAddressIDLen))
}

func (b BridgeCallData) InputAssetA() AssetID {
	return AssetID(b.field(inputAssetAOffset, assetIDLen))
}

func (b BridgeCallData) InputAssetB() (AssetID, bool) {
	return AssetID(b.field(inputAssetBOffset, assetIDLen)), b.bitConfig()&secondInputInUse != 0
}

func (b BridgeCallData) OutputAssetA() AssetID {
	return AssetID(b.field(outputAssetAOffset, assetIDLen))
}

func (b BridgeCallData) OutputAssetB() (AssetID, bool) {
	return AssetID(b.field(outputAssetBOffset, assetIDLen)), b.bitConfig()&secondOutputInUse != 0
}

func (b BridgeCallData) AuxData() uint64 {
	return b.field(auxDataOffset, auxDataLen)
}

func (b BridgeCallData) bitConfig() uint64 {
	return b.field(bitConfigOffset, bitConfigLen)
}

func (b BridgeCallData) Fields() BridgeCallDataFields {
	f := BridgeCallDataFields{
		BridgeAddressID: b.BridgeAddressID(),
		InputAssetA:     b.InputAssetA(),
		OutputAssetA:    b.OutputAssetA(),
		AuxData:         b.AuxData(),
	}
	if id, ok := b.InputAssetB(); ok {
		f.InputAssetB = &id
	}
	if id, ok := b.OutputAssetB(); ok {
		f.OutputAssetB = &id
	}
	return f
}

func (b BridgeCallData) Uint256() *uint256.Int {
	return new(uint256.Int).Set(&b.packed)
}

func (b BridgeCallData) Bytes32() [32]byte {
	return b.packed.Bytes32()
}

func (b BridgeCallData) Equal(other BridgeCallData) bool {
	return b.packed.Eq(&other.packed)
}

func (b BridgeCallData) String() string {
	return b.packed.Hex()
}

// Key is a fixed-size form of the identifier for use outside Go maps.
func (b BridgeCallData) Key() [32]byte {
	return b.Bytes32()
}
