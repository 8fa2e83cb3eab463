// Package evmerrors implements C1: decoding an account-model RPC error
// into the closed DecodedErrorA variant set, per spec.md §4.3.
package evmerrors

import (
	"encoding/json"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/airchains-network/tx-simulator/internal/types"
)

const (
	panicSelector  = "4e487b71"
	revertSelector = "08c379a0"
)

var panicMeanings = map[uint64]string{
	0x00: "Generic panic",
	0x01: "Assertion failed",
	0x11: "Arithmetic operation overflowed outside of an unchecked block",
	0x12: "Division or modulo by zero",
	0x21: "Tried to convert a value into an enum outside its range",
	0x22: "Incorrectly encoded storage byte array",
	0x31: ".pop() called on an empty array",
	0x32: "Array index out of bounds",
	0x41: "Allocated too much memory or created an array that is too large",
	0x51: "Called a zero-initialized variable of internal function type",
}

// customError is a row of the built-in custom-error selector table, §6.
type customError struct {
	name string
	args abi.Arguments
}

var customErrorTable = map[string]customError{
	// InsufficientBalance(address,uint256,uint256)
	"e450d38c": {name: "InsufficientBalance", args: mustArgs("address", "uint256", "uint256")},
	// InsufficientAllowance(address,uint256,uint256)
	"fb8f41b2": {name: "InsufficientAllowance", args: mustArgs("address", "uint256", "uint256")},
}

func mustArgs(kinds ...string) abi.Arguments {
	out := make(abi.Arguments, 0, len(kinds))
	for _, k := range kinds {
		t, err := abi.NewType(k, "", nil)
		if err != nil {
			panic(err)
		}
		out = append(out, abi.Argument{Type: t})
	}
	return out
}

var dataQuoteRE = regexp.MustCompile(`data="(0x[0-9a-fA-F]+)"`)
var revertReasonRE = regexp.MustCompile(`execution reverted: "([^"]*)"`)
var reasonEqRE = regexp.MustCompile(`reason="([^"]*)"`)

// RawRPCError is the shape a JSON-RPC error carries across the wire; any
// subset of fields may be populated. Decode accepts this directly, or a
// bare message string, or nil.
type RawRPCError struct {
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Info    *struct {
		Error *struct {
			Data    json.RawMessage `json:"data,omitempty"`
			Message string          `json:"message,omitempty"`
		} `json:"error,omitempty"`
	} `json:"info,omitempty"`
	Inner *struct {
		Data json.RawMessage `json:"data,omitempty"`
	} `json:"error,omitempty"`
}

// Decode is C1's total decode function: every input produces a tagged
// record (§8 P6); unknown() is the fallback, raw is populated whenever a
// hex payload was found.
func Decode(err *RawRPCError) types.DecodedErrorA {
	if err == nil {
		return types.DecodedErrorA{Kind: types.ErrorKindAUnknown, Message: "Unknown error occurred"}
	}

	hexPayload := locateHexPayload(err)
	if hexPayload != "" {
		if d, ok := decodeSelector(hexPayload); ok {
			d.Raw = hexPayload
			return d
		}
	}

	msg := err.Reason
	if msg == "" && err.Info != nil && err.Info.Error != nil {
		msg = err.Info.Error.Message
	}
	if msg == "" {
		msg = err.Message
	}
	msg = cleanupMessage(msg)
	if msg == "" {
		msg = "Unknown error occurred"
	}
	d := types.DecodedErrorA{Kind: types.ErrorKindAUnknown, Message: msg}
	if hexPayload != "" {
		d.Raw = hexPayload
	}
	return d
}

func locateHexPayload(err *RawRPCError) string {
	if s := rawDataHex(err.Data); s != "" {
		return s
	}
	if err.Info != nil && err.Info.Error != nil {
		if s := rawDataHex(err.Info.Error.Data); s != "" {
			return s
		}
	}
	if err.Inner != nil {
		if s := rawDataHex(err.Inner.Data); s != "" {
			return s
		}
	}
	if m := dataQuoteRE.FindStringSubmatch(err.Message); len(m) == 2 {
		return m[1]
	}
	return ""
}

func rawDataHex(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.HasPrefix(s, "0x") {
		return s
	}
	return ""
}

// decodeSelector reads the 4-byte selector of a >=10-hex-char payload and
// attempts panic/revert/custom-error decode, per §4.3 step 2.
func decodeSelector(payload string) (types.DecodedErrorA, bool) {
	h := strings.TrimPrefix(payload, "0x")
	if len(h) < 10 {
		return types.DecodedErrorA{}, false
	}
	selector := strings.ToLower(h[:8])
	body, err := hexutil.Decode("0x" + h[8:])
	if err != nil {
		return types.DecodedErrorA{}, false
	}

	switch selector {
	case panicSelector:
		if len(body) < 32 {
			return types.DecodedErrorA{}, false
		}
		code := new(big.Int).SetBytes(body[:32])
		meaning, ok := panicMeanings[code.Uint64()]
		if !ok {
			meaning = "Unknown panic code"
		}
		return types.DecodedErrorA{Kind: types.ErrorKindAPanic, Code: code, Message: meaning}, true

	case revertSelector:
		stringType, _ := abi.NewType("string", "", nil)
		args := abi.Arguments{{Type: stringType}}
		vals, err := args.Unpack(body)
		if err != nil || len(vals) == 0 {
			return types.DecodedErrorA{Kind: types.ErrorKindARevert, Message: "Transaction reverted"}, true
		}
		msg, _ := vals[0].(string)
		if msg == "" {
			msg = "Transaction reverted"
		}
		return types.DecodedErrorA{Kind: types.ErrorKindARevert, Message: msg}, true

	default:
		ce, ok := customErrorTable[selector]
		if !ok {
			return types.DecodedErrorA{}, false
		}
		vals, err := ce.args.Unpack(body)
		d := types.DecodedErrorA{Kind: types.ErrorKindACustom, Name: ce.name, Message: ce.name}
		if err == nil {
			for _, v := range vals {
				d.Args = append(d.Args, stringifyArg(v))
			}
		}
		return d, true
	}
}

func stringifyArg(v interface{}) string {
	switch t := v.(type) {
	case *big.Int:
		return t.String()
	case [20]byte:
		return hexutil.Encode(t[:])
	default:
		return stringifyFallback(v)
	}
}

func stringifyFallback(v interface{}) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}

// cleanupMessage applies §4.3's message cleanup rules.
func cleanupMessage(msg string) string {
	if msg == "" {
		return ""
	}
	if m := revertReasonRE.FindStringSubmatch(msg); len(m) == 2 {
		return m[1]
	}
	if m := reasonEqRE.FindStringSubmatch(msg); len(m) == 2 {
		return m[1]
	}
	msg = strings.TrimPrefix(msg, "Error: ")
	if msg == "execution reverted" {
		return "Transaction reverted"
	}
	return msg
}
