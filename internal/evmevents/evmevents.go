// Package evmevents implements C3: decoding account-model logs against a
// fixed catalogue of event signatures, with an optional custom-ABI
// extension, per spec.md §4.4.
package evmevents

import (
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/airchains-network/tx-simulator/internal/types"
)

// Log is the minimal log shape C3 decodes, matching go-ethereum's own
// types.Log field set.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
	Index   uint
}

// catalogueEntry is one signature in the built-in catalogue.
type catalogueEntry struct {
	name      string
	signature string
	event     abi.Event
}

var catalogue []catalogueEntry
var bySelector = map[common.Hash][]catalogueEntry{}

func register(name, signature string, indexed []bool, argTypes ...string) {
	args := make(abi.Arguments, len(argTypes))
	for i, t := range argTypes {
		ty, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Name: defaultArgName(i), Type: ty, Indexed: indexed[i]}
	}
	ev := abi.NewEvent(name, name, false, args)
	entry := catalogueEntry{name: name, signature: signature, event: ev}
	catalogue = append(catalogue, entry)
	bySelector[ev.ID] = append(bySelector[ev.ID], entry)
}

func defaultArgName(i int) string {
	names := []string{"arg0", "arg1", "arg2", "arg3"}
	if i < len(names) {
		return names[i]
	}
	return "argN"
}

func init() {
	register("Transfer", "Transfer(address,address,uint256)", []bool{true, true, false}, "address", "address", "uint256")
	register("Transfer", "Transfer(address,address,uint256,uint256)", []bool{true, true, true, false}, "address", "address", "uint256", "uint256")
	register("TransferSingle", "TransferSingle(address,address,address,uint256,uint256)", []bool{true, true, true, false, false}, "address", "address", "address", "uint256", "uint256")
	register("Approval", "Approval(address,address,uint256)", []bool{true, true, false}, "address", "address", "uint256")
	register("ApprovalForAll", "ApprovalForAll(address,address,bool)", []bool{true, true, false}, "address", "address", "bool")
	register("Swap", "Swap(address,uint256,uint256,uint256,uint256,address)", []bool{true, false, false, false, false, true}, "address", "uint256", "uint256", "uint256", "uint256", "address")
	register("Mint", "Mint(address,uint256,uint256)", []bool{true, false, false}, "address", "uint256", "uint256")
	register("Burn", "Burn(address,uint256,uint256,address)", []bool{true, false, false, true}, "address", "uint256", "uint256", "address")
	register("Sync", "Sync(uint112,uint112)", []bool{false, false}, "uint112", "uint112")
	register("OwnershipTransferred", "OwnershipTransferred(address,address)", []bool{true, true}, "address", "address")
	register("Upgraded", "Upgraded(address)", []bool{true}, "address")
}

// Decoder pairs the built-in catalogue with an optional caller-supplied
// custom ABI list, per §4.4's "optional extension."
type Decoder struct {
	custom []catalogueEntry
}

// NewDecoder returns a Decoder. customEvents may be nil.
func NewDecoder(customEvents []abi.Event) *Decoder {
	d := &Decoder{}
	for _, ev := range customEvents {
		sig := ev.Sig
		entry := catalogueEntry{name: ev.Name, signature: sig, event: ev}
		d.custom = append(d.custom, entry)
	}
	return d
}

// DecodeLogs decodes every log, sorted ascending by log index per §8 P5.
// Logs that match no known signature are silently skipped (the §4.4
// catalogue is closed; non-catalogued logs simply contribute nothing to
// the decoded event list).
func (d *Decoder) DecodeLogs(logs []Log) []types.DecodedEvent {
	out := make([]types.DecodedEvent, 0, len(logs))
	for _, l := range logs {
		if ev, ok := d.decodeOne(l); ok {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

func (d *Decoder) decodeOne(l Log) (types.DecodedEvent, bool) {
	if len(l.Topics) == 0 {
		return types.DecodedEvent{}, false
	}
	topic0 := l.Topics[0]

	if entry, fields, ok := tryDecode(d.custom, l); ok {
		return build(l, entry, fields), true
	}
	if candidates, ok := bySelector[topic0]; ok {
		for _, entry := range candidates {
			if fields, ok := decodeWith(entry.event, l); ok {
				return build(l, entry, fields), true
			}
		}
	}
	// Topic collision fallback: linearly try every catalogued interface,
	// per §4.4 ("on miss, linearly try all catalogued interfaces").
	if entry, fields, ok := tryDecode(catalogue, l); ok {
		return build(l, entry, fields), true
	}
	return types.DecodedEvent{}, false
}

func tryDecode(entries []catalogueEntry, l Log) (catalogueEntry, []types.EventField, bool) {
	for _, entry := range entries {
		if fields, ok := decodeWith(entry.event, l); ok {
			return entry, fields, true
		}
	}
	return catalogueEntry{}, nil, false
}

func decodeWith(ev abi.Event, l Log) ([]types.EventField, bool) {
	if ev.ID != l.Topics[0] {
		return nil, false
	}
	indexedCount := 0
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexedCount++
		}
	}
	if len(l.Topics) != indexedCount+1 {
		return nil, false
	}
	fields := make([]types.EventField, 0, len(ev.Inputs))
	topicIdx := 1
	var nonIndexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			continue
		}
		nonIndexed = append(nonIndexed, arg)
	}
	vals, err := nonIndexed.Unpack(l.Data)
	if err != nil {
		return nil, false
	}
	valIdx := 0
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			v, ok := decodeIndexedTopic(arg.Type, l.Topics[topicIdx])
			if !ok {
				return nil, false
			}
			fields = append(fields, types.EventField{Name: arg.Name, Value: v})
			topicIdx++
			continue
		}
		fields = append(fields, types.EventField{Name: arg.Name, Value: stringify(vals[valIdx])})
		valIdx++
	}
	return fields, true
}

func decodeIndexedTopic(t abi.Type, topic common.Hash) (string, bool) {
	switch t.T {
	case abi.AddressTy:
		return common.HexToAddress(topic.Hex()).Hex(), true
	case abi.UintTy, abi.IntTy:
		return new(big.Int).SetBytes(topic[:]).String(), true
	case abi.BoolTy:
		return boolString(topic), true
	default:
		return topic.Hex(), true
	}
}

func boolString(h common.Hash) string {
	for _, b := range h {
		if b != 0 {
			return "true"
		}
	}
	return "false"
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case *big.Int:
		return t.String()
	case common.Address:
		return t.Hex()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case [32]byte:
		return common.Hash(t).Hex()
	default:
		return ""
	}
}

func build(l Log, entry catalogueEntry, fields []types.EventField) types.DecodedEvent {
	return types.DecodedEvent{
		Origin:    strings.ToLower(l.Address.Hex()),
		Name:      entry.name,
		Ordinal:   uint64(l.Index),
		Fields:    fields,
		Signature: entry.signature,
	}
}
