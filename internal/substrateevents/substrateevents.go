// Package substrateevents implements C4: decoding runtime-module event
// records, attaching block phase, and filtering by extrinsic index or
// relevance, per spec.md §4.4.
package substrateevents

import (
	"fmt"
	"strings"

	gsrpctypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"github.com/airchains-network/tx-simulator/internal/types"
)

// RawEvent is one decoded-from-SCALE event record, already split out of
// system.events by the caller (internal/substratefork, using itering/scale.go's
// EventsDecoder), paired with its field metadata names where available.
type RawEvent struct {
	Phase      gsrpctypes.Phase
	Pallet     string
	Method     string
	FieldNames []string // parallel to FieldValues; "" entries get "argN"
	FieldValues []interface{}
}

// PhaseKind mirrors §4.4's "map phase to {type, value?}".
type PhaseKind string

const (
	PhaseApplyExtrinsic PhaseKind = "ApplyExtrinsic"
	PhaseInitialization PhaseKind = "Initialization"
	PhaseFinalization   PhaseKind = "Finalization"
	PhaseUnknown        PhaseKind = "unknown"
)

// DecodedEventRecord is a RawEvent after phase classification and field
// formatting.
type DecodedEventRecord struct {
	Phase        PhaseKind
	ExtrinsicIdx uint32 // valid only when Phase == PhaseApplyExtrinsic
	Event        types.DecodedEvent
}

// DecodeAll converts every RawEvent into a DecodedEventRecord, preserving
// input order (which is the record index used as Ordinal).
func DecodeAll(events []RawEvent) []DecodedEventRecord {
	out := make([]DecodedEventRecord, 0, len(events))
	for i, e := range events {
		out = append(out, decodeOne(uint64(i), e))
	}
	return out
}

func decodeOne(ordinal uint64, e RawEvent) DecodedEventRecord {
	kind, idx := classifyPhase(e.Phase)
	fields := make([]types.EventField, 0, len(e.FieldValues))
	for i, v := range e.FieldValues {
		name := ""
		if i < len(e.FieldNames) {
			name = e.FieldNames[i]
		}
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		fields = append(fields, types.EventField{Name: name, Value: formatValue(v)})
	}
	return DecodedEventRecord{
		Phase:        kind,
		ExtrinsicIdx: idx,
		Event: types.DecodedEvent{
			Origin:  e.Pallet + "." + e.Method,
			Name:    e.Method,
			Ordinal: ordinal,
			Fields:  fields,
		},
	}
}

func classifyPhase(p gsrpctypes.Phase) (PhaseKind, uint32) {
	if p.IsApplyExtrinsic {
		return PhaseApplyExtrinsic, uint32(p.AsApplyExtrinsic)
	}
	if p.IsInitialization {
		return PhaseInitialization, 0
	}
	if p.IsFinalization {
		return PhaseFinalization, 0
	}
	return PhaseUnknown, 0
}

// formatValue returns strings as-is, uses String() where the value has
// one, recurses into arrays/objects, and otherwise falls back to %v
// formatting; it does no JSON rendering.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case map[string]interface{}:
		parts := make([]string, 0, len(t))
		for k, val := range t {
			parts = append(parts, k+":"+formatValue(val))
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// FilterByExtrinsic returns only the records whose phase is
// ApplyExtrinsic(idx).
func FilterByExtrinsic(records []DecodedEventRecord, idx uint32) []DecodedEventRecord {
	out := make([]DecodedEventRecord, 0)
	for _, r := range records {
		if r.Phase == PhaseApplyExtrinsic && r.ExtrinsicIdx == idx {
			out = append(out, r)
		}
	}
	return out
}

// MaxApplyExtrinsicIndex returns the highest ApplyExtrinsic phase index
// seen, per §4.2 step 11 ("our injected extrinsic's index"). ok is false
// if no ApplyExtrinsic-phase record exists.
func MaxApplyExtrinsicIndex(records []DecodedEventRecord) (idx uint32, ok bool) {
	found := false
	var max uint32
	for _, r := range records {
		if r.Phase != PhaseApplyExtrinsic {
			continue
		}
		if !found || r.ExtrinsicIdx > max {
			max = r.ExtrinsicIdx
			found = true
		}
	}
	return max, found
}

var relevantPallets = map[string]bool{
	"balances":           true,
	"assets":              true,
	"tokens":               true,
	"system":                true,
	"transactionpayment": true,
}

var relevantMethods = map[string]bool{
	"transfer":          true,
	"deposit":            true,
	"withdraw":            true,
	"reserved":            true,
	"unreserved":          true,
	"extrinsicsuccess": true,
	"extrinsicfailed":   true,
}

// IsRelevant reports whether an event's pallet or method belongs to the
// §4.4 relevance filter used for the user-visible events list.
func IsRelevant(pallet, method string) bool {
	if relevantPallets[strings.ToLower(pallet)] {
		return true
	}
	return relevantMethods[strings.ToLower(method)]
}

// FilterRelevant narrows a record list to IsRelevant matches.
func FilterRelevant(records []DecodedEventRecord) []DecodedEventRecord {
	out := make([]DecodedEventRecord, 0, len(records))
	for _, r := range records {
		origin := r.Event.Origin
		pallet := origin
		if i := strings.LastIndex(origin, "."); i >= 0 {
			pallet = origin[:i]
		}
		if IsRelevant(pallet, r.Event.Name) {
			out = append(out, r)
		}
	}
	return out
}
