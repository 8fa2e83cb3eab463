package impact

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchains-network/tx-simulator/internal/types"
)

func resolveFixed(symbols map[types.TokenID]string) MetadataResolver {
	return func(tok types.TokenID) types.TokenMeta {
		if s, ok := symbols[tok]; ok {
			return types.TokenMeta{Symbol: s, Decimals: 18}
		}
		return types.UnknownTokenMeta(tok, false)
	}
}

func snap(native int64, fungibles map[types.TokenID]int64) *types.BalanceSnapshot {
	s := types.NewBalanceSnapshot(false)
	s.NativeAccountModel = big.NewInt(native)
	for _, tok := range orderedKeys(fungibles) {
		s.SetFungible(tok, big.NewInt(fungibles[tok]))
	}
	return s
}

func orderedKeys(m map[types.TokenID]int64) []types.TokenID {
	out := make([]types.TokenID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestStateOfIncludesNativeFirstAlways(t *testing.T) {
	sender := types.Address("0xsender")
	before := map[types.Address]*types.BalanceSnapshot{sender: snap(100, nil)}
	after := map[types.Address]*types.BalanceSnapshot{sender: snap(90, nil)}

	st := StateOf(sender, before, after, "ETH", resolveFixed(nil))
	require.Len(t, st.Before, 1)
	assert.Equal(t, types.NativeTokenID, st.Before[0].Token)
	assert.Equal(t, "ETH", st.Before[0].Symbol)
	require.Len(t, st.Changes, 1)
	assert.Equal(t, big.NewInt(-10), st.Changes[0].Delta)
}

func TestStateOfOmitsZeroDeltaTokens(t *testing.T) {
	sender := types.Address("0xsender")
	usdc := types.TokenID("0xusdc")
	before := map[types.Address]*types.BalanceSnapshot{sender: snap(0, map[types.TokenID]int64{usdc: 50})}
	after := map[types.Address]*types.BalanceSnapshot{sender: snap(0, map[types.TokenID]int64{usdc: 50})}

	st := StateOf(sender, before, after, "ETH", resolveFixed(map[types.TokenID]string{usdc: "USDC"}))
	assert.Empty(t, st.Changes)
	require.Len(t, st.Before, 2)
	assert.Equal(t, usdc, st.Before[1].Token)
	assert.Equal(t, "USDC", st.Before[1].Symbol)
}

func TestStateOfUnobservedAddressIsAllZero(t *testing.T) {
	addr := types.Address("0xghost")
	st := StateOf(addr, map[types.Address]*types.BalanceSnapshot{}, map[types.Address]*types.BalanceSnapshot{}, "ETH", resolveFixed(nil))
	require.Len(t, st.Before, 1)
	assert.Equal(t, big.NewInt(0), st.Before[0].Amount)
	assert.Empty(t, st.Changes)
}

func TestAssembleExcludesSenderAndCounterpartyFromOtherAffected(t *testing.T) {
	sender := types.Address("0xsender")
	counterparty := types.Address("0xto")
	bystander := types.Address("0xbystander")
	untouched := types.Address("0xuntouched")

	before := map[types.Address]*types.BalanceSnapshot{
		sender:       snap(100, nil),
		counterparty: snap(0, nil),
		bystander:    snap(5, nil),
		untouched:    snap(9, nil),
	}
	after := map[types.Address]*types.BalanceSnapshot{
		sender:       snap(90, nil),
		counterparty: snap(10, nil),
		bystander:    snap(8, nil),
		untouched:    snap(9, nil),
	}

	tracked := []types.Address{sender, counterparty, bystander, untouched}
	report := Assemble(sender, &counterparty, tracked, before, after, "ETH", resolveFixed(nil))

	assert.Equal(t, sender, report.Sender.Address)
	require.NotNil(t, report.Counterparty)
	assert.Equal(t, counterparty, report.Counterparty.Address)

	require.Len(t, report.OtherAffected, 1)
	assert.Equal(t, bystander, report.OtherAffected[0].Address)
}

func TestAssembleCounterpartyNilWhenAbsent(t *testing.T) {
	sender := types.Address("0xsender")
	before := map[types.Address]*types.BalanceSnapshot{sender: snap(100, nil)}
	after := map[types.Address]*types.BalanceSnapshot{sender: snap(100, nil)}

	report := Assemble(sender, nil, []types.Address{sender}, before, after, "ETH", resolveFixed(nil))
	assert.Nil(t, report.Counterparty)
	assert.Empty(t, report.OtherAffected)
}

func TestAssembleDedupsTrackedAddresses(t *testing.T) {
	sender := types.Address("0xsender")
	dup := types.Address("0xdup")
	before := map[types.Address]*types.BalanceSnapshot{sender: snap(0, nil), dup: snap(1, nil)}
	after := map[types.Address]*types.BalanceSnapshot{sender: snap(0, nil), dup: snap(2, nil)}

	report := Assemble(sender, nil, []types.Address{dup, dup}, before, after, "ETH", resolveFixed(nil))
	require.Len(t, report.OtherAffected, 1)
}
