package evmerrors

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchains-network/tx-simulator/internal/types"
)

func TestDecodeNilIsUnknown(t *testing.T) {
	d := Decode(nil)
	assert.Equal(t, types.ErrorKindAUnknown, d.Kind)
	assert.Equal(t, "Unknown error occurred", d.Message)
}

func TestDecodeRevertWithReason(t *testing.T) {
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack("insufficient funds")
	require.NoError(t, err)
	payload := "0x08c379a0" + hexutil.Encode(packed)[2:]

	raw := &RawRPCError{Data: mustJSON(t, payload)}
	d := Decode(raw)
	assert.Equal(t, types.ErrorKindARevert, d.Kind)
	assert.Equal(t, "insufficient funds", d.Message)
	assert.Equal(t, payload, d.Raw)
}

func TestDecodePanicKnownCode(t *testing.T) {
	// Panic(uint256) selector 0x4e487b71 followed by code 0x11 (overflow)
	payload := "0x4e487b71" + padHex("11")
	raw := &RawRPCError{Data: mustJSON(t, payload)}
	d := Decode(raw)
	assert.Equal(t, types.ErrorKindAPanic, d.Kind)
	assert.Equal(t, "Arithmetic operation overflowed outside of an unchecked block", d.Message)
	assert.Equal(t, "17", d.Code.String())
}

func TestDecodeCustomErrorInsufficientBalance(t *testing.T) {
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{{Type: addressType}, {Type: uint256Type}, {Type: uint256Type}}
	packed, err := args.Pack(common.HexToAddress("0x0000000000000000000000000000000000000001"), bigFromInt(100), bigFromInt(50))
	require.NoError(t, err)
	payload := "0xe450d38c" + hexutil.Encode(packed)[2:]

	raw := &RawRPCError{Data: mustJSON(t, payload)}
	d := Decode(raw)
	assert.Equal(t, types.ErrorKindACustom, d.Kind)
	assert.Equal(t, "InsufficientBalance", d.Name)
	require.Len(t, d.Args, 3)
}

func TestDecodeFallsBackToMessage(t *testing.T) {
	raw := &RawRPCError{Message: `Error: VM Exception while processing transaction: reverted with reason string "out of gas"`}
	d := Decode(raw)
	assert.Equal(t, types.ErrorKindAUnknown, d.Kind)
	assert.Equal(t, "out of gas", d.Message)
}

func TestDecodeMessageCleanupExecutionReverted(t *testing.T) {
	raw := &RawRPCError{Message: "execution reverted"}
	d := Decode(raw)
	assert.Equal(t, "Transaction reverted", d.Message)
}

func TestDecodeUnrecognizedSelectorFallsBackToMessage(t *testing.T) {
	raw := &RawRPCError{Data: mustJSON(t, "0xdeadbeef00"), Message: "some custom revert"}
	d := Decode(raw)
	assert.Equal(t, types.ErrorKindAUnknown, d.Kind)
	assert.Equal(t, "some custom revert", d.Message)
}

func mustJSON(t *testing.T, s string) json.RawMessage {
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return b
}

func padHex(hex string) string {
	for len(hex) < 64 {
		hex = "0" + hex
	}
	return hex
}

func bigFromInt(v int64) *big.Int {
	return big.NewInt(v)
}
