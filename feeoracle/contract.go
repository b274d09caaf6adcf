// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package feeoracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rollupcore/sequencer/util/arbmath"
)

const bridgeGasLimitABI = `[{"inputs":[{"internalType":"uint256","name":"bridgeAddressId","type":"uint256"}],"name":"getBridgeGasLimit","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var bridgeGasLimitParsedABI abi.ABI

func init() {
	var err error
	bridgeGasLimitParsedABI, err = abi.JSON(strings.NewReader(bridgeGasLimitABI))
	if err != nil {
		panic(err)
	}
}

// ContractReader reads bridge gas limits from the rollup contract.
type ContractReader struct {
	contract *bind.BoundContract
}

func NewContractReader(rollupAddress common.Address, caller bind.ContractCaller) *ContractReader {
	return &ContractReader{
		contract: bind.NewBoundContract(rollupAddress, bridgeGasLimitParsedABI, caller, nil, nil),
	}
}

func (r *ContractReader) BridgeGasLimit(ctx context.Context, bridgeAddressID uint32) (uint64, error) {
	var out []interface{}
	err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getBridgeGasLimit", new(big.Int).SetUint64(uint64(bridgeAddressID)))
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("getBridgeGasLimit returned %d values", len(out))
	}
	gas, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("getBridgeGasLimit returned %T", out[0])
	}
	return arbmath.BigToUintSaturating(gas), nil
}
