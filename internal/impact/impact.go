// Package impact implements C6: diffing two balance snapshots into the
// per-address AddressState/StateImpactReport shapes of spec.md §4.6.
package impact

import (
	"math/big"

	"github.com/airchains-network/tx-simulator/internal/types"
)

// MetadataResolver resolves a TokenID to its cached symbol/decimals, per
// §4.6 step 1 ("resolve metadata (cached)").
type MetadataResolver func(token types.TokenID) types.TokenMeta

// StateOf builds one address's AddressState: before[]/after[] (native
// first, then every token observed in either snapshot, in first-seen
// order) and changes[] (non-zero deltas only), per §4.6 step 2.
func StateOf(addr types.Address, before, after map[types.Address]*types.BalanceSnapshot, nativeSymbol string, resolve MetadataResolver) types.AddressState {
	b := before[addr]
	a := after[addr]

	state := types.AddressState{Address: addr}

	nativeBefore := zeroIfNil(snapNativeTotal(b))
	nativeAfter := zeroIfNil(snapNativeTotal(a))
	state.Before = append(state.Before, types.TokenBalance{Token: types.NativeTokenID, Symbol: nativeSymbol, Amount: nativeBefore})
	state.After = append(state.After, types.TokenBalance{Token: types.NativeTokenID, Symbol: nativeSymbol, Amount: nativeAfter})
	if delta := new(big.Int).Sub(nativeAfter, nativeBefore); delta.Sign() != 0 {
		state.Changes = append(state.Changes, types.BalanceChange{Token: types.NativeTokenID, Symbol: nativeSymbol, Delta: delta})
	}

	for _, tok := range unionTokenOrder(b, a) {
		meta := resolve(tok)
		tb := tokenAmount(b, tok)
		ta := tokenAmount(a, tok)
		state.Before = append(state.Before, types.TokenBalance{Token: tok, Symbol: meta.Symbol, Amount: tb})
		state.After = append(state.After, types.TokenBalance{Token: tok, Symbol: meta.Symbol, Amount: ta})
		if delta := new(big.Int).Sub(ta, tb); delta.Sign() != 0 {
			state.Changes = append(state.Changes, types.BalanceChange{Token: tok, Symbol: meta.Symbol, Delta: delta})
		}
	}

	return state
}

// Assemble builds the top-level report, per §4.6 step 3: the excluded set
// is {sender, counterparty}, compared exactly as passed in (Assemble does
// no canonicalisation of its own); otherAffected lists every other
// tracked address with at least one change. counterparty may be nil (the
// caller decides A's "always present" vs. B's "present only if non-zero"
// policy before calling Assemble).
func Assemble(sender types.Address, counterparty *types.Address, tracked []types.Address, before, after map[types.Address]*types.BalanceSnapshot, nativeSymbol string, resolve MetadataResolver) types.StateImpactReport {
	report := types.StateImpactReport{Sender: StateOf(sender, before, after, nativeSymbol, resolve)}

	excluded := map[types.Address]bool{sender: true}
	if counterparty != nil {
		excluded[*counterparty] = true
		cp := StateOf(*counterparty, before, after, nativeSymbol, resolve)
		report.Counterparty = &cp
	}

	seen := map[types.Address]bool{}
	for _, addr := range tracked {
		if excluded[addr] || seen[addr] {
			continue
		}
		seen[addr] = true
		st := StateOf(addr, before, after, nativeSymbol, resolve)
		if len(st.Changes) > 0 {
			report.OtherAffected = append(report.OtherAffected, st)
		}
	}
	return report
}

func snapNativeTotal(s *types.BalanceSnapshot) *big.Int {
	if s == nil {
		return nil
	}
	return s.NativeTotal()
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func tokenAmount(s *types.BalanceSnapshot, tok types.TokenID) *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	if amt, ok := s.Fungibles[tok]; ok && amt != nil {
		return amt
	}
	return big.NewInt(0)
}

// unionTokenOrder returns every TokenID observed in either snapshot, in
// first-seen order (before's order first, then any new ones from after).
func unionTokenOrder(b, a *types.BalanceSnapshot) []types.TokenID {
	seen := map[types.TokenID]bool{}
	var order []types.TokenID
	if b != nil {
		for _, t := range b.FungibleOrder {
			if !seen[t] {
				seen[t] = true
				order = append(order, t)
			}
		}
	}
	if a != nil {
		for _, t := range a.FungibleOrder {
			if !seen[t] {
				seen[t] = true
				order = append(order, t)
			}
		}
	}
	return order
}
