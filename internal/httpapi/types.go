package httpapi

import (
	"math/big"

	"github.com/airchains-network/tx-simulator/internal/types"
)

// simulateRequest is the wire shape of POST /simulate, covering both
// sides; kind selects which of the two request shapes below is read.
type simulateRequest struct {
	Kind        string        `json:"kind"` // "account-model" or "runtime-module"
	RequestID   string        `json:"requestId"`
	Sender      string        `json:"sender"`
	To          string        `json:"to,omitempty"`
	Data        string        `json:"data,omitempty"` // 0x-prefixed
	Value       string        `json:"value,omitempty"`
	GasLimit    string        `json:"gasLimit,omitempty"`
	TrackTokens []string      `json:"trackTokens,omitempty"`
	Call        *palletCallIn `json:"call,omitempty"`
	RawHex      string        `json:"rawHex,omitempty"`
	TrackAssets []uint64      `json:"trackAssets,omitempty"`
}

// palletCallIn mirrors types.PalletCall for JSON decoding. toDomain turns
// a direct arg that is an object with a "pallet" key into a nested
// PalletCall; objects inside an array arg are passed through unconverted.
type palletCallIn struct {
	Pallet string        `json:"pallet"`
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
}

func (p palletCallIn) toDomain() types.PalletCall {
	args := make([]interface{}, 0, len(p.Args))
	for _, a := range p.Args {
		if m, ok := a.(map[string]interface{}); ok {
			if pallet, ok := m["pallet"].(string); ok {
				method, _ := m["method"].(string)
				rawArgs, _ := m["args"].([]interface{})
				nested := palletCallIn{Pallet: pallet, Method: method, Args: rawArgs}
				args = append(args, nested.toDomain())
				continue
			}
		}
		args = append(args, a)
	}
	return types.PalletCall{Pallet: p.Pallet, Method: p.Method, Args: args}
}

func parseBigOrZero(s string) *big.Int {
	if s == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

// simulateResponse is the wire shape of a successful or failed §3
// SimulationResponse.
type simulateResponse struct {
	RequestID    string                `json:"requestId,omitempty"`
	Success      bool                  `json:"success"`
	StateChanges stateImpactReportJSON `json:"stateChanges"`
	Events       []decodedEventJSON    `json:"events"`
	Gas          gasReportJSON         `json:"gas"`
	ErrorA       *decodedErrorAJSON    `json:"errorA,omitempty"`
	ErrorB       *decodedErrorBJSON    `json:"errorB,omitempty"`
}

type addressStateJSON struct {
	Address string               `json:"address"`
	Before  []tokenBalanceJSON   `json:"before"`
	After   []tokenBalanceJSON   `json:"after"`
	Changes []balanceChangeJSON  `json:"changes"`
}

type tokenBalanceJSON struct {
	Token  string `json:"token"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type balanceChangeJSON struct {
	Token  string `json:"token"`
	Symbol string `json:"symbol"`
	Delta  string `json:"delta"`
}

type stateImpactReportJSON struct {
	Sender        addressStateJSON   `json:"sender"`
	Counterparty  *addressStateJSON  `json:"counterparty,omitempty"`
	OtherAffected []addressStateJSON `json:"otherAffected,omitempty"`
}

type decodedEventJSON struct {
	Origin    string            `json:"origin"`
	Name      string            `json:"name"`
	Ordinal   uint64            `json:"ordinal"`
	Fields    []eventFieldJSON  `json:"fields"`
	Signature string            `json:"signature,omitempty"`
}

type eventFieldJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gasReportJSON struct {
	A *gasReportAJSON `json:"a,omitempty"`
	B *gasReportBJSON `json:"b,omitempty"`
}

type gasReportAJSON struct {
	GasUsed         string `json:"gasUsed"`
	GasPrice        string `json:"gasPrice"`
	TotalCostWei    string `json:"totalCostWei"`
	TotalCostNative string `json:"totalCostNative"`
	NativeSymbol    string `json:"nativeSymbol"`
}

type gasReportBJSON struct {
	RefTime             string `json:"refTime"`
	ProofSize           string `json:"proofSize"`
	PartialFee          string `json:"partialFee"`
	PartialFeeFormatted string `json:"partialFeeFormatted"`
	NativeSymbol        string `json:"nativeSymbol"`
}

type decodedErrorAJSON struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
	Name    string   `json:"name,omitempty"`
	Args    []string `json:"args,omitempty"`
	Raw     string   `json:"raw,omitempty"`
}

type decodedErrorBJSON struct {
	Kind    string `json:"kind"`
	Pallet  string `json:"pallet,omitempty"`
	Error   string `json:"error,omitempty"`
	Docs    string `json:"docs,omitempty"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}

func toAddressStateJSON(s types.AddressState) addressStateJSON {
	out := addressStateJSON{Address: string(s.Address)}
	for _, b := range s.Before {
		out.Before = append(out.Before, tokenBalanceJSON{Token: string(b.Token), Symbol: b.Symbol, Amount: bigString(b.Amount)})
	}
	for _, a := range s.After {
		out.After = append(out.After, tokenBalanceJSON{Token: string(a.Token), Symbol: a.Symbol, Amount: bigString(a.Amount)})
	}
	for _, c := range s.Changes {
		out.Changes = append(out.Changes, balanceChangeJSON{Token: string(c.Token), Symbol: c.Symbol, Delta: bigString(c.Delta)})
	}
	return out
}

func toResponseJSON(requestID string, resp types.SimulationResponse) simulateResponse {
	out := simulateResponse{
		RequestID: requestID,
		Success:   resp.Success,
		StateChanges: stateImpactReportJSON{
			Sender: toAddressStateJSON(resp.StateChanges.Sender),
		},
	}
	if resp.StateChanges.Counterparty != nil {
		cp := toAddressStateJSON(*resp.StateChanges.Counterparty)
		out.StateChanges.Counterparty = &cp
	}
	for _, other := range resp.StateChanges.OtherAffected {
		out.StateChanges.OtherAffected = append(out.StateChanges.OtherAffected, toAddressStateJSON(other))
	}
	for _, ev := range resp.Events {
		je := decodedEventJSON{Origin: ev.Origin, Name: ev.Name, Ordinal: ev.Ordinal, Signature: ev.Signature}
		for _, f := range ev.Fields {
			je.Fields = append(je.Fields, eventFieldJSON{Name: f.Name, Value: f.Value})
		}
		out.Events = append(out.Events, je)
	}
	if resp.Gas.A != nil {
		g := resp.Gas.A
		out.Gas.A = &gasReportAJSON{
			GasUsed:         bigString(g.GasUsed),
			GasPrice:        bigString(g.GasPrice),
			TotalCostWei:    bigString(g.TotalCostWei),
			TotalCostNative: g.TotalCostNative,
			NativeSymbol:    g.NativeSymbol,
		}
	}
	if resp.Gas.B != nil {
		g := resp.Gas.B
		out.Gas.B = &gasReportBJSON{
			RefTime:             bigString(g.Weight.RefTime),
			ProofSize:           bigString(g.Weight.ProofSize),
			PartialFee:          bigString(g.PartialFee),
			PartialFeeFormatted: g.PartialFeeFormatted,
			NativeSymbol:        g.NativeSymbol,
		}
	}
	if resp.ErrorA != nil {
		e := resp.ErrorA
		out.ErrorA = &decodedErrorAJSON{Kind: string(e.Kind), Message: e.Message, Code: bigStringOrEmpty(e.Code), Name: e.Name, Args: e.Args, Raw: e.Raw}
	}
	if resp.ErrorB != nil {
		e := resp.ErrorB
		out.ErrorB = &decodedErrorBJSON{Kind: string(e.Kind), Pallet: e.Pallet, Error: e.Error, Docs: e.Docs, Message: e.Message, Raw: e.Raw}
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigStringOrEmpty(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
