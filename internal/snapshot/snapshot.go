// Package snapshot implements C5: reading native + selected fungible
// balances for a set of addresses from a fork backend, per spec.md §4.5.
package snapshot

import (
	"context"
	"math/big"

	"go.uber.org/zap"

	"github.com/airchains-network/tx-simulator/internal/types"
)

// AccountModelReader is the subset of C7 the snapshotter needs.
type AccountModelReader interface {
	NativeBalance(ctx context.Context, addr types.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, holder types.Address) (*big.Int, error)
}

// RuntimeModuleReader is the subset of C8 the snapshotter needs.
type RuntimeModuleReader interface {
	NativeTriple(ctx context.Context, addr types.Address) (types.NativeTriple, error)
	AssetBalance(ctx context.Context, assetID uint64, holder types.Address) (*big.Int, error)
}

// CaptureAccountModel reads a snapshot for every address in addrs, tracking
// every token in tokens, per §4.5's policy: a failed native read yields a
// zero snapshot plus one structured warning, never a fatal error; a failed
// or missing per-token read yields 0 for that token.
func CaptureAccountModel(ctx context.Context, r AccountModelReader, addrs []types.Address, tokens []types.Address, log *zap.Logger) map[types.Address]*types.BalanceSnapshot {
	out := make(map[types.Address]*types.BalanceSnapshot, len(addrs))
	for _, addr := range addrs {
		snap := types.NewBalanceSnapshot(false)
		bal, err := r.NativeBalance(ctx, addr)
		if err != nil {
			log.Warn("native balance read failed, reporting zero", zap.String("address", string(addr)), zap.Error(err))
			bal = big.NewInt(0)
		}
		snap.NativeAccountModel = bal
		for _, tok := range tokens {
			amt, err := r.TokenBalance(ctx, tok, addr)
			if err != nil || amt == nil {
				amt = big.NewInt(0)
			}
			snap.SetFungible(types.TokenID(tok), amt)
		}
		out[addr] = snap
	}
	return out
}

// CaptureRuntimeModule reads a snapshot for every address in addrs,
// tracking every asset in assetIDs, with the same swallow-and-zero policy
// as CaptureAccountModel.
func CaptureRuntimeModule(ctx context.Context, r RuntimeModuleReader, addrs []types.Address, assetIDs []uint64, log *zap.Logger) map[types.Address]*types.BalanceSnapshot {
	out := make(map[types.Address]*types.BalanceSnapshot, len(addrs))
	for _, addr := range addrs {
		snap := types.NewBalanceSnapshot(true)
		triple, err := r.NativeTriple(ctx, addr)
		if err != nil {
			log.Warn("native triple read failed, reporting zero", zap.String("address", string(addr)), zap.Error(err))
			triple = types.NativeTriple{Free: big.NewInt(0), Reserved: big.NewInt(0), Frozen: big.NewInt(0)}
		}
		if triple.Free == nil {
			triple.Free = big.NewInt(0)
		}
		if triple.Reserved == nil {
			triple.Reserved = big.NewInt(0)
		}
		if triple.Frozen == nil {
			triple.Frozen = big.NewInt(0) // §8: missing balances.frozen treated as 0
		}
		snap.NativeRuntime = triple
		for _, id := range assetIDs {
			amt, err := r.AssetBalance(ctx, id, addr)
			if err != nil || amt == nil {
				amt = big.NewInt(0)
			}
			snap.SetFungible(assetTokenID(id), amt)
		}
		out[addr] = snap
	}
	return out
}

func assetTokenID(id uint64) types.TokenID {
	return types.TokenID(big.NewInt(0).SetUint64(id).String())
}

// MergeInto copies every entry of src into dst, overwriting on key
// collision.
func MergeInto(dst, src map[types.Address]*types.BalanceSnapshot) {
	for k, v := range src {
		dst[k] = v
	}
}
