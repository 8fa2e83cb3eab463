package snapshot

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/airchains-network/tx-simulator/internal/types"
)

type fakeAccountModelReader struct {
	native map[types.Address]*big.Int
	tokens map[types.Address]map[types.Address]*big.Int
	failNative map[types.Address]bool
}

func (f *fakeAccountModelReader) NativeBalance(ctx context.Context, addr types.Address) (*big.Int, error) {
	if f.failNative[addr] {
		return nil, errors.New("rpc down")
	}
	return f.native[addr], nil
}

func (f *fakeAccountModelReader) TokenBalance(ctx context.Context, token, holder types.Address) (*big.Int, error) {
	if m, ok := f.tokens[holder]; ok {
		if v, ok := m[token]; ok {
			return v, nil
		}
	}
	return nil, errors.New("no balance")
}

func TestCaptureAccountModelSwallowsNativeFailureAsZero(t *testing.T) {
	addr := types.Address("0xaddr")
	r := &fakeAccountModelReader{
		native:     map[types.Address]*big.Int{addr: big.NewInt(100)},
		failNative: map[types.Address]bool{addr: true},
	}
	out := CaptureAccountModel(context.Background(), r, []types.Address{addr}, nil, zap.NewNop())
	require.Contains(t, out, addr)
	assert.Equal(t, big.NewInt(0), out[addr].NativeAccountModel)
}

func TestCaptureAccountModelMissingTokenIsZero(t *testing.T) {
	addr := types.Address("0xaddr")
	tok := types.Address("0xtoken")
	r := &fakeAccountModelReader{native: map[types.Address]*big.Int{addr: big.NewInt(5)}}
	out := CaptureAccountModel(context.Background(), r, []types.Address{addr}, []types.Address{tok}, zap.NewNop())
	assert.Equal(t, big.NewInt(0), out[addr].Fungibles[types.TokenID(tok)])
}

type fakeRuntimeModuleReader struct {
	triples map[types.Address]types.NativeTriple
	failTriple map[types.Address]bool
}

func (f *fakeRuntimeModuleReader) NativeTriple(ctx context.Context, addr types.Address) (types.NativeTriple, error) {
	if f.failTriple[addr] {
		return types.NativeTriple{}, errors.New("rpc down")
	}
	return f.triples[addr], nil
}

func (f *fakeRuntimeModuleReader) AssetBalance(ctx context.Context, assetID uint64, holder types.Address) (*big.Int, error) {
	return nil, errors.New("not wired")
}

func TestCaptureRuntimeModuleDefaultsMissingFrozenToZero(t *testing.T) {
	addr := types.Address("0xaddr")
	r := &fakeRuntimeModuleReader{
		triples: map[types.Address]types.NativeTriple{addr: {Free: big.NewInt(10), Reserved: big.NewInt(1)}},
	}
	out := CaptureRuntimeModule(context.Background(), r, []types.Address{addr}, []uint64{7}, zap.NewNop())
	require.Contains(t, out, addr)
	assert.Equal(t, big.NewInt(0), out[addr].NativeRuntime.Frozen)
	assert.Equal(t, big.NewInt(0), out[addr].Fungibles[types.TokenID("7")])
}

func TestCaptureRuntimeModuleSwallowsTripleFailureAsZero(t *testing.T) {
	addr := types.Address("0xaddr")
	r := &fakeRuntimeModuleReader{failTriple: map[types.Address]bool{addr: true}}
	out := CaptureRuntimeModule(context.Background(), r, []types.Address{addr}, nil, zap.NewNop())
	triple := out[addr].NativeRuntime
	assert.Equal(t, big.NewInt(0), triple.Free)
	assert.Equal(t, big.NewInt(0), triple.Reserved)
	assert.Equal(t, big.NewInt(0), triple.Frozen)
}

func TestMergeIntoOverwritesOnCollision(t *testing.T) {
	addr := types.Address("0xaddr")
	dst := map[types.Address]*types.BalanceSnapshot{addr: types.NewBalanceSnapshot(false)}
	replacement := types.NewBalanceSnapshot(false)
	replacement.NativeAccountModel = big.NewInt(99)
	src := map[types.Address]*types.BalanceSnapshot{addr: replacement}

	MergeInto(dst, src)
	assert.Equal(t, big.NewInt(99), dst[addr].NativeAccountModel)
}
