package httpapi

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchains-network/tx-simulator/internal/types"
)

func TestPalletCallInToDomainFlat(t *testing.T) {
	in := palletCallIn{Pallet: "balances", Method: "transfer", Args: []interface{}{"0xdest", "100"}}
	out := in.toDomain()
	assert.Equal(t, "balances", out.Pallet)
	require.Len(t, out.Args, 2)
	assert.Equal(t, "0xdest", out.Args[0])
}

func TestPalletCallInToDomainNested(t *testing.T) {
	in := palletCallIn{
		Pallet: "utility",
		Method: "batch",
		Args: []interface{}{
			[]interface{}{
				map[string]interface{}{"pallet": "balances", "method": "transfer", "args": []interface{}{"0xdest", "5"}},
			},
		},
	}
	out := in.toDomain()
	inner, ok := in.Args[0].([]interface{})
	require.True(t, ok)
	batchItem, ok := inner[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "balances", batchItem["pallet"])

	// top-level Args[0] is the raw slice (not itself matched as a pallet
	// call since it lacks a "pallet" key), round-tripped unchanged.
	assert.Equal(t, in.Args[0], out.Args[0])
}

func TestPalletCallInToDomainNestedCallArg(t *testing.T) {
	in := palletCallIn{
		Pallet: "proxy",
		Method: "proxy",
		Args: []interface{}{
			"0xdelegate",
			map[string]interface{}{"pallet": "balances", "method": "transfer", "args": []interface{}{"0xdest", "5"}},
		},
	}
	out := in.toDomain()
	require.Len(t, out.Args, 2)
	nested, ok := out.Args[1].(types.PalletCall)
	require.True(t, ok)
	assert.Equal(t, "balances", nested.Pallet)
	assert.Equal(t, "transfer", nested.Method)
}

func TestParseBigOrZero(t *testing.T) {
	assert.Equal(t, big.NewInt(0), parseBigOrZero(""))
	assert.Equal(t, big.NewInt(0), parseBigOrZero("not-a-number"))
	assert.Equal(t, big.NewInt(42), parseBigOrZero("42"))
}

func TestToResponseJSONSuccessShape(t *testing.T) {
	resp := types.SimulationResponse{
		Success: true,
		StateChanges: types.StateImpactReport{
			Sender: types.AddressState{
				Address: types.Address("0xsender"),
				Before:  []types.TokenBalance{{Token: types.NativeTokenID, Symbol: "ETH", Amount: big.NewInt(100)}},
				After:   []types.TokenBalance{{Token: types.NativeTokenID, Symbol: "ETH", Amount: big.NewInt(90)}},
				Changes: []types.BalanceChange{{Token: types.NativeTokenID, Symbol: "ETH", Delta: big.NewInt(-10)}},
			},
		},
		Gas: types.GasReport{A: &types.GasReportA{GasUsed: big.NewInt(21000), GasPrice: big.NewInt(1), TotalCostWei: big.NewInt(21000), TotalCostNative: "0.000021", NativeSymbol: "ETH"}},
	}
	out := toResponseJSON("req-1", resp)
	assert.Equal(t, "req-1", out.RequestID)
	assert.True(t, out.Success)
	assert.Equal(t, "100", out.StateChanges.Sender.Before[0].Amount)
	assert.Equal(t, "-10", out.StateChanges.Sender.Changes[0].Delta)
	require.NotNil(t, out.Gas.A)
	assert.Equal(t, "21000", out.Gas.A.GasUsed)
	assert.Nil(t, out.Gas.B)
}

func TestToResponseJSONErrorShape(t *testing.T) {
	resp := types.SimulationResponse{
		Success: false,
		ErrorA:  &types.DecodedErrorA{Kind: types.ErrorKindARevert, Message: "reverted"},
	}
	out := toResponseJSON("req-2", resp)
	assert.False(t, out.Success)
	require.NotNil(t, out.ErrorA)
	assert.Equal(t, "revert", out.ErrorA.Kind)
	assert.Equal(t, "", out.ErrorA.Code)
}

func TestBigStringHandlesNil(t *testing.T) {
	assert.Equal(t, "0", bigString(nil))
	assert.Equal(t, "", bigStringOrEmpty(nil))
}
