// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package arbmath

import (
	"math"
	"math/big"
	"testing"

	"github.com/rollupcore/sequencer/util/testhelpers"
)

func TestSaturatingArithmetic(t *testing.T) {
	if SaturatingUAdd(uint64(math.MaxUint64), 1) != math.MaxUint64 {
		Fail(t, "add did not saturate")
	}
	if SaturatingUAdd(uint64(3), 4) != 7 {
		Fail(t, "add is wrong")
	}
	if SaturatingUSub(uint64(3), 4) != 0 {
		Fail(t, "sub did not saturate")
	}
	if SaturatingUMul(uint64(math.MaxUint64/2), 3) != math.MaxUint64 {
		Fail(t, "mul did not saturate")
	}
	if SaturatingUMul(uint64(0), 3) != 0 {
		Fail(t, "mul by zero")
	}
}

func TestDivCeil(t *testing.T) {
	cases := [][3]uint64{{0, 3, 0}, {1, 3, 1}, {3, 3, 1}, {4, 3, 2}, {10, 0, 0}}
	for _, c := range cases {
		if got := DivCeil(c[0], c[1]); got != c[2] {
			Fail(t, "DivCeil", c[0], c[1], "expected", c[2], "got", got)
		}
	}
}

func TestBigToUintSaturating(t *testing.T) {
	if BigToUintSaturating(big.NewInt(-1)) != 0 {
		Fail(t, "negative")
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	if BigToUintSaturating(huge) != math.MaxUint64 {
		Fail(t, "overflow")
	}
	if BigToUintSaturating(BigMulByUint(big.NewInt(6), 7)) != 42 {
		Fail(t, "mul")
	}
	if MinInt(3, 2) != 2 || MaxInt(1, 5, 3) != 5 {
		Fail(t, "min/max")
	}
}

func Fail(t *testing.T, printables ...interface{}) {
	t.Helper()
	testhelpers.FailImpl(t, printables...)
}
