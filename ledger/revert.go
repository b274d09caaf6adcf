// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package ledger

import (
	"bytes"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// RollupErrorsABI declares the custom errors the rollup contract reverts
// with when a rollup does not extend the state it expects.
const RollupErrorsABI = `[
	{"inputs":[{"internalType":"bytes32","name":"oldStateHash","type":"bytes32"},{"internalType":"bytes32","name":"newStateHash","type":"bytes32"}],"name":"INCORRECT_STATE_HASH","type":"error"},
	{"inputs":[{"internalType":"uint256","name":"expected","type":"uint256"},{"internalType":"uint256","name":"actual","type":"uint256"}],"name":"INCORRECT_DATA_START_INDEX","type":"error"},
	{"inputs":[{"internalType":"bytes32","name":"providedDefiInteractionHash","type":"bytes32"},{"internalType":"bytes32","name":"expectedDefiInteractionHash","type":"bytes32"}],"name":"INCORRECT_PREVIOUS_DEFI_INTERACTION_HASH","type":"error"},
	{"inputs":[],"name":"INVALID_PROVIDER","type":"error"},
	{"inputs":[],"name":"PAUSED","type":"error"},
	{"inputs":[{"internalType":"uint256","name":"rollupId","type":"uint256"},{"internalType":"uint256","name":"expected","type":"uint256"}],"name":"ROLLUP_ID_MISMATCH","type":"error"}
]`

const executionRevertedPrefix = "execution reverted: "

// RevertDecoder names the reason a call reverted.
type RevertDecoder struct {
	errors abi.ABI
}

func NewRevertDecoder(errorsABI string) (*RevertDecoder, error) {
	parsed, err := abi.JSON(strings.NewReader(errorsABI))
	if err != nil {
		return nil, err
	}
	return &RevertDecoder{errors: parsed}, nil
}

// Decode returns the custom error name, the Error(string) message, or the
// raw error text when the call's error carries no revert data.
func (d *RevertDecoder) Decode(callErr error) string {
	if callErr == nil {
		return ""
	}
	var dataErr rpc.DataError
	if errors.As(callErr, &dataErr) {
		if data, ok := revertData(dataErr.ErrorData()); ok {
			if reason, ok := d.DecodeData(data); ok {
				return reason
			}
		}
	}
	return strings.TrimPrefix(callErr.Error(), executionRevertedPrefix)
}

func (d *RevertDecoder) DecodeData(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason, true
	}
	for name, customErr := range d.errors.Errors {
		if bytes.Equal(customErr.ID[:4], data[:4]) {
			return name, true
		}
	}
	return "", false
}

func revertData(errData interface{}) ([]byte, bool) {
	switch data := errData.(type) {
	case string:
		decoded, err := hexutil.Decode(data)
		return decoded, err == nil
	case []byte:
		return data, true
	default:
		return nil, false
	}
}
