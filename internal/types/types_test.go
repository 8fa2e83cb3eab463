package types

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "account-model", KindAccountModel.String())
	assert.Equal(t, "runtime-module", KindRuntimeModule.String())
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestNativeTripleTotal(t *testing.T) {
	n := NativeTriple{Free: big.NewInt(10), Reserved: big.NewInt(5), Frozen: big.NewInt(2)}
	assert.Equal(t, big.NewInt(15), n.Total())
}

func TestNativeTripleTotalNilFields(t *testing.T) {
	assert.Equal(t, big.NewInt(0), NativeTriple{}.Total())
	n := NativeTriple{Free: big.NewInt(7)}
	assert.Equal(t, big.NewInt(7), n.Total())
}

func TestBalanceSnapshotNativeTotal(t *testing.T) {
	accountModel := NewBalanceSnapshot(false)
	accountModel.NativeAccountModel = big.NewInt(42)
	assert.Equal(t, big.NewInt(42), accountModel.NativeTotal())

	runtime := NewBalanceSnapshot(true)
	runtime.NativeRuntime = NativeTriple{Free: big.NewInt(3), Reserved: big.NewInt(4)}
	assert.Equal(t, big.NewInt(7), runtime.NativeTotal())

	var nilSnap *BalanceSnapshot
	assert.Equal(t, big.NewInt(0), nilSnap.NativeTotal())
}

func TestSetFungiblePreservesInsertionOrder(t *testing.T) {
	s := NewBalanceSnapshot(false)
	s.SetFungible(TokenID("usdc"), big.NewInt(1))
	s.SetFungible(TokenID("dai"), big.NewInt(2))
	s.SetFungible(TokenID("usdc"), big.NewInt(3)) // overwrite, not re-append

	require.Equal(t, []TokenID{"usdc", "dai"}, s.FungibleOrder)
	assert.Equal(t, big.NewInt(3), s.Fungibles[TokenID("usdc")])
}

func TestUnknownTokenMeta(t *testing.T) {
	tok := UnknownTokenMeta(TokenID("0xabc"), false)
	assert.Equal(t, "UNKNOWN", tok.Symbol)
	assert.Equal(t, uint8(18), tok.Decimals)

	asset := UnknownTokenMeta(TokenID("7"), true)
	assert.Equal(t, "Asset#7", asset.Symbol)
}
