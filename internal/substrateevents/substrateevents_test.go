package substrateevents

import (
	"testing"

	gsrpctypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyExtrinsicPhase(idx uint32) gsrpctypes.Phase {
	var p gsrpctypes.Phase
	p.IsApplyExtrinsic = true
	p.AsApplyExtrinsic = idx
	return p
}

func finalizationPhase() gsrpctypes.Phase {
	var p gsrpctypes.Phase
	p.IsFinalization = true
	return p
}

func TestDecodeAllPreservesOrderAsOrdinal(t *testing.T) {
	events := []RawEvent{
		{Phase: applyExtrinsicPhase(0), Pallet: "balances", Method: "Transfer", FieldNames: []string{"from", "to", "amount"}, FieldValues: []interface{}{"0xa", "0xb", "100"}},
		{Phase: finalizationPhase(), Pallet: "system", Method: "ExtrinsicSuccess"},
	}
	records := DecodeAll(events)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(0), records[0].Event.Ordinal)
	assert.Equal(t, uint64(1), records[1].Event.Ordinal)
	assert.Equal(t, PhaseApplyExtrinsic, records[0].Phase)
	assert.Equal(t, uint32(0), records[0].ExtrinsicIdx)
	assert.Equal(t, PhaseFinalization, records[1].Phase)
}

func TestDecodeOneFieldNamesFallBackToArgN(t *testing.T) {
	events := []RawEvent{
		{Phase: applyExtrinsicPhase(2), Pallet: "assets", Method: "Transferred", FieldValues: []interface{}{"7", "0xfrom", "0xto", "50"}},
	}
	records := DecodeAll(events)
	require.Len(t, records, 1)
	require.Len(t, records[0].Event.Fields, 4)
	assert.Equal(t, "arg0", records[0].Event.Fields[0].Name)
	assert.Equal(t, "7", records[0].Event.Fields[0].Value)
}

func TestFormatValueRecursesIntoNestedShapes(t *testing.T) {
	assert.Equal(t, "[1,2]", formatValue([]interface{}{"1", "2"}))
	assert.Equal(t, "", formatValue(nil))
	assert.Equal(t, "plain", formatValue("plain"))
}

func TestFilterByExtrinsicOnlyMatchesPhaseAndIndex(t *testing.T) {
	events := []RawEvent{
		{Phase: applyExtrinsicPhase(0), Pallet: "balances", Method: "Transfer", FieldValues: []interface{}{"a", "b", "1"}},
		{Phase: applyExtrinsicPhase(1), Pallet: "balances", Method: "Transfer", FieldValues: []interface{}{"a", "b", "2"}},
		{Phase: finalizationPhase(), Pallet: "staking", Method: "Rewarded", FieldValues: []interface{}{"a", "3"}},
	}
	records := DecodeAll(events)
	filtered := FilterByExtrinsic(records, 1)
	require.Len(t, filtered, 1)
	assert.Equal(t, "balances.Transfer", filtered[0].Event.Origin)
	assert.Equal(t, "2", filtered[0].Event.Fields[2].Value)
}

func TestMaxApplyExtrinsicIndex(t *testing.T) {
	events := []RawEvent{
		{Phase: applyExtrinsicPhase(0)},
		{Phase: applyExtrinsicPhase(3)},
		{Phase: finalizationPhase()},
	}
	records := DecodeAll(events)
	idx, ok := MaxApplyExtrinsicIndex(records)
	require.True(t, ok)
	assert.Equal(t, uint32(3), idx)
}

func TestMaxApplyExtrinsicIndexNoneFound(t *testing.T) {
	records := DecodeAll([]RawEvent{{Phase: finalizationPhase()}})
	_, ok := MaxApplyExtrinsicIndex(records)
	assert.False(t, ok)
}

func TestIsRelevantByPalletOrMethod(t *testing.T) {
	assert.True(t, IsRelevant("Balances", "Transfer"))
	assert.True(t, IsRelevant("unknownpallet", "Withdraw")) // relevant by method even if pallet isn't
	assert.False(t, IsRelevant("staking", "Rewarded"))       // neither pallet nor method is in the relevance table
}

func TestFilterRelevantNarrowsToKnownPalletsAndMethods(t *testing.T) {
	events := []RawEvent{
		{Phase: applyExtrinsicPhase(0), Pallet: "balances", Method: "Transfer", FieldValues: []interface{}{"a", "b", "1"}},
		{Phase: applyExtrinsicPhase(0), Pallet: "staking", Method: "Rewarded", FieldValues: []interface{}{"a", "1"}},
	}
	records := DecodeAll(events)
	filtered := FilterRelevant(records)
	require.Len(t, filtered, 1)
	assert.Equal(t, "balances.Transfer", filtered[0].Event.Origin)
}
