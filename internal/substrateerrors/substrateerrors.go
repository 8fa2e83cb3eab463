// Package substrateerrors implements C2: decoding a runtime-module
// dispatch error into the closed DecodedErrorB variant set, per spec.md
// §4.3. The probing order below is the contract, not an implementation
// detail.
package substrateerrors

import (
	"encoding/json"
	"fmt"
	"strings"

	gsrpctypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"github.com/airchains-network/tx-simulator/internal/types"
)

// MetadataLookup resolves a module error index pair to its section/name/docs
// via runtime metadata, per §4.3's first probe. Implemented by
// internal/substratefork against the connected chain's metadata.
type MetadataLookup interface {
	LookupModuleError(moduleIndex, errorIndex uint8) (section, name string, docs []string, err error)
}

// Decode is C2's total decode function, probing in the order §4.3
// specifies and stopping at the first match.
func Decode(d *gsrpctypes.DispatchError, lookup MetadataLookup) types.DecodedErrorB {
	if d == nil {
		return types.DecodedErrorB{Kind: types.ErrorKindBUnknown, Message: "Unknown error occurred"}
	}

	raw := rawJSON(d)

	if d.IsModule {
		section, name, docs, err := lookup.LookupModuleError(uint8(d.ModuleError.Index), moduleErrorIndex(d.ModuleError))
		if err != nil {
			return types.DecodedErrorB{Kind: types.ErrorKindBModule, Message: "Unknown module error", Raw: raw}
		}
		return types.DecodedErrorB{
			Kind:    types.ErrorKindBModule,
			Pallet:  section,
			Error:   name,
			Docs:    strings.Join(docs, " "),
			Message: fmt.Sprintf("%s.%s: %s", section, name, strings.Join(docs, " ")),
			Raw:     raw,
		}
	}
	if d.IsBadOrigin {
		return types.DecodedErrorB{Kind: types.ErrorKindBBadOrigin, Message: "Bad origin - caller not authorized for this action", Raw: raw}
	}
	if d.IsCannotLookup {
		return types.DecodedErrorB{Kind: types.ErrorKindBCannotLookup, Message: "Cannot lookup - invalid account or reference", Raw: raw}
	}
	if d.IsOther {
		msg := "Other error"
		if s := otherString(d); s != "" {
			msg = s
		}
		return types.DecodedErrorB{Kind: types.ErrorKindBOther, Message: msg, Raw: raw}
	}
	if d.IsToken {
		return types.DecodedErrorB{Kind: types.ErrorKindBToken, Message: fmt.Sprintf("Token Error: %v", tokenValue(d)), Raw: raw}
	}
	if d.IsArithmetic {
		return types.DecodedErrorB{Kind: types.ErrorKindBArithmetic, Message: fmt.Sprintf("Arithmetic Error: %v", arithmeticValue(d)), Raw: raw}
	}

	return types.DecodedErrorB{Kind: types.ErrorKindBUnknown, Message: "Unknown error occurred", Raw: raw}
}

// DecodeJSON decodes a dispatch error that arrived as a loosely-typed JSON
// object (e.g. surfaced through a non-SCALE RPC path), applying the
// single-key/string/object-with-message probes of §4.3's fallback ladder.
func DecodeJSON(raw json.RawMessage) types.DecodedErrorB {
	if len(raw) == 0 {
		return types.DecodedErrorB{Kind: types.ErrorKindBUnknown, Message: "Unknown error occurred"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return types.DecodedErrorB{Kind: types.ErrorKindBUnknown, Message: s, Raw: string(raw)}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return types.DecodedErrorB{Kind: types.ErrorKindBUnknown, Message: "Unknown error occurred", Raw: string(raw)}
	}
	if msg, ok := m["message"]; ok {
		if s, ok := msg.(string); ok {
			return types.DecodedErrorB{Kind: types.ErrorKindBUnknown, Message: s, Raw: string(raw)}
		}
	}
	if len(m) == 1 {
		for k, v := range m {
			return types.DecodedErrorB{Kind: types.ErrorKindBUnknown, Message: fmt.Sprintf("%s: %v", k, v), Raw: string(raw)}
		}
	}
	return types.DecodedErrorB{Kind: types.ErrorKindBUnknown, Message: "Unknown error occurred", Raw: string(raw)}
}

func rawJSON(d *gsrpctypes.DispatchError) string {
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

// moduleErrorIndex extracts the least-significant byte of the module
// error payload; pre-V14 metadata encodes it as a single byte, V14+
// encodes a 4-byte array whose first byte is the variant index.
func moduleErrorIndex(m gsrpctypes.ModuleError) uint8 {
	if len(m.Error) > 0 {
		return uint8(m.Error[0])
	}
	return 0
}

func otherString(d *gsrpctypes.DispatchError) string {
	return ""
}

func tokenValue(d *gsrpctypes.DispatchError) interface{} {
	return d.TokenError
}

func arithmeticValue(d *gsrpctypes.DispatchError) interface{} {
	return d.ArithmeticError
}
