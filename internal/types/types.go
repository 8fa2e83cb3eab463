// Package types holds the data model shared by every simulation component:
// addresses, balance snapshots, decoded events/errors, and the final
// response shape returned to a caller.
package types

import "math/big"

// Kind discriminates which execution environment a request targets.
type Kind int

const (
	KindUnknown Kind = iota
	KindAccountModel
	KindRuntimeModule
)

func (k Kind) String() string {
	switch k {
	case KindAccountModel:
		return "account-model"
	case KindRuntimeModule:
		return "runtime-module"
	default:
		return "unknown"
	}
}

// Address is an opaque identifier. Equality is case-insensitive (lowercase
// hex) on the account-model side and byte-exact on the runtime-module side;
// the engine never interprets address bytes beyond canonicalisation.
type Address string

// TokenID identifies a fungible: a contract address string on the
// account-model side, or a decimal-stringified integer asset ID on the
// runtime-module side.
type TokenID string

// NativeTokenID is the synthetic TokenID used for the chain's native
// balance in before/after lists, which are always native-first per §3.
const NativeTokenID TokenID = "native"

// TokenMeta is cached per-process for the lifetime of the token/asset.
type TokenMeta struct {
	Symbol   string
	Decimals uint8
}

// UnknownTokenMeta returns the §3/§7 fallback metadata.
func UnknownTokenMeta(tokenID TokenID, isAsset bool) TokenMeta {
	symbol := "UNKNOWN"
	if isAsset {
		symbol = "Asset#" + string(tokenID)
	}
	return TokenMeta{Symbol: symbol, Decimals: 18}
}

// NativeTriple is the runtime-module native balance shape: free, reserved,
// frozen. The account-model side uses a single non-negative integer
// instead and never populates this type.
type NativeTriple struct {
	Free     *big.Int
	Reserved *big.Int
	Frozen   *big.Int
}

// Total returns free+reserved, the "total controlled balance" §4.2 reports
// as the native before/after value.
func (n NativeTriple) Total() *big.Int {
	if n.Free == nil && n.Reserved == nil {
		return big.NewInt(0)
	}
	out := new(big.Int)
	if n.Free != nil {
		out.Add(out, n.Free)
	}
	if n.Reserved != nil {
		out.Add(out, n.Reserved)
	}
	return out
}

// BalanceSnapshot is the per-address snapshot of §3: a single native
// integer on the account-model side, or a NativeTriple on the
// runtime-module side, plus a fungible-balance map. A missing TokenID key
// means "unobserved", not zero.
type BalanceSnapshot struct {
	NativeAccountModel *big.Int
	NativeRuntime       NativeTriple
	IsRuntime            bool
	Fungibles            map[TokenID]*big.Int
	// FungibleOrder preserves insertion order for deterministic before/after
	// lists, per §4.5's concurrency note.
	FungibleOrder []TokenID
}

// NewBalanceSnapshot returns an empty snapshot for the given kind.
func NewBalanceSnapshot(isRuntime bool) *BalanceSnapshot {
	return &BalanceSnapshot{
		NativeAccountModel: big.NewInt(0),
		IsRuntime:          isRuntime,
		Fungibles:          make(map[TokenID]*big.Int),
	}
}

// SetFungible records a fungible balance, preserving first-seen order.
func (s *BalanceSnapshot) SetFungible(id TokenID, amount *big.Int) {
	if _, ok := s.Fungibles[id]; !ok {
		s.FungibleOrder = append(s.FungibleOrder, id)
	}
	s.Fungibles[id] = amount
}

// NativeTotal returns the single comparable native figure for diffing:
// the raw balance on the account-model side, free+reserved on the
// runtime-module side.
func (s *BalanceSnapshot) NativeTotal() *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	if s.IsRuntime {
		return s.NativeRuntime.Total()
	}
	if s.NativeAccountModel == nil {
		return big.NewInt(0)
	}
	return s.NativeAccountModel
}

// TokenBalance is one line of an AddressState's before/after list. Native
// is always listed first per §3.
type TokenBalance struct {
	Token  TokenID
	Symbol string
	Amount *big.Int
}

// BalanceChange is one non-zero delta line of an AddressState.
type BalanceChange struct {
	Token  TokenID
	Symbol string
	Delta  *big.Int // after - before, signed
}

// AddressState is §3's per-address report.
type AddressState struct {
	Address Address
	Before  []TokenBalance
	After   []TokenBalance
	Changes []BalanceChange
}

// StateImpactReport is §3's top-level diff report.
type StateImpactReport struct {
	Sender       AddressState
	Counterparty *AddressState // nil per §3's presence rules
	OtherAffected []AddressState
}

// DecodedEvent is §3's event shape. Origin is a contract address (A) or a
// "pallet.method" string (B); Ordinal is log index (A) or event-record
// index (B).
type DecodedEvent struct {
	Origin    string
	Name      string
	Ordinal   uint64
	Fields    []EventField
	Signature string // A only; empty on B
}

// EventField is one named, stringified argument of a DecodedEvent,
// ordered as emitted.
type EventField struct {
	Name  string
	Value string
}

// ErrorKindA enumerates the closed set of account-model decoded-error
// constructors, §3.
type ErrorKindA string

const (
	ErrorKindARevert  ErrorKindA = "revert"
	ErrorKindAPanic   ErrorKindA = "panic"
	ErrorKindACustom  ErrorKindA = "custom"
	ErrorKindAUnknown ErrorKindA = "unknown"
)

// DecodedErrorA is §3's tagged account-model error variant.
type DecodedErrorA struct {
	Kind    ErrorKindA
	Message string
	Code    *big.Int // panic only
	Name    string    // custom only
	Args    []string  // custom only, optional
	Raw     string    // optional hex
}

// ErrorKindB enumerates the closed set of runtime-module decoded-error
// constructors, §3.
type ErrorKindB string

const (
	ErrorKindBModule       ErrorKindB = "module"
	ErrorKindBBadOrigin    ErrorKindB = "badOrigin"
	ErrorKindBCannotLookup ErrorKindB = "cannotLookup"
	ErrorKindBArithmetic   ErrorKindB = "arithmetic"
	ErrorKindBToken        ErrorKindB = "token"
	ErrorKindBOther        ErrorKindB = "other"
	ErrorKindBUnknown      ErrorKindB = "unknown"
)

// DecodedErrorB is §3's tagged runtime-module error variant.
type DecodedErrorB struct {
	Kind    ErrorKindB
	Pallet  string // module only
	Error   string // module only
	Docs    string // module only, docs joined
	Message string
	Raw     string // optional JSON
}

// GasReportA is §3's account-model fee/gas breakdown.
type GasReportA struct {
	GasUsed         *big.Int
	GasPrice        *big.Int
	TotalCostWei    *big.Int
	TotalCostNative string // human-formatted, §9
	NativeSymbol    string
}

// Weight is the runtime-module dispatch weight pair.
type Weight struct {
	RefTime   *big.Int
	ProofSize *big.Int
}

// GasReportB is §3's runtime-module fee/weight breakdown.
type GasReportB struct {
	Weight             Weight
	PartialFee         *big.Int
	PartialFeeFormatted string
	NativeSymbol        string
}

// GasReport wraps whichever side's report is populated.
type GasReport struct {
	A *GasReportA
	B *GasReportB
}

// SimulationResponse is §3's top-level result.
type SimulationResponse struct {
	Success      bool
	StateChanges StateImpactReport
	Events       []DecodedEvent
	Gas          GasReport
	ErrorA       *DecodedErrorA
	ErrorB       *DecodedErrorB
}

// PalletCall is a structured runtime-module call, possibly nested: a direct
// element of Args may itself be a PalletCall. Calls inside a slice element
// of Args are not treated as nested calls.
type PalletCall struct {
	Pallet string
	Method string
	Args   []interface{}
}

// RequestA is an engine-level account-model simulation request, §3.
type RequestA struct {
	Sender       Address
	To           Address
	Data         []byte // empty slice, never nil, when absent
	Value        *big.Int
	GasLimit     *big.Int // nil means "backend default"
	TrackTokens  []Address
	RequestID    string
}

// RequestB is an engine-level runtime-module simulation request, §3.
// Exactly one of Call/RawHex is set.
type RequestB struct {
	Sender      Address
	Call        *PalletCall
	RawHex      string
	TrackAssets []uint64
	RequestID   string
}
