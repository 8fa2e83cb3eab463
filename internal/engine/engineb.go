package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/airchains-network/tx-simulator/internal/cache"
	"github.com/airchains-network/tx-simulator/internal/decimalfmt"
	"github.com/airchains-network/tx-simulator/internal/impact"
	"github.com/airchains-network/tx-simulator/internal/substrateerrors"
	"github.com/airchains-network/tx-simulator/internal/substrateevents"
	"github.com/airchains-network/tx-simulator/internal/substratefork"
	"github.com/airchains-network/tx-simulator/internal/types"
)

// EngineB drives runtime-module simulations. Exactly one Simulate call
// runs at a time per EngineB, per §5.
type EngineB struct {
	mu        *mutualExclusion
	fork      *substratefork.Client
	endpoint  string
	tokenMeta *tokenMetaResolver
	log       *zap.Logger
	faulted   atomic.Bool
}

// NewEngineB wires a connected fork client and an asset-metadata cache
// into one engine. endpoint is kept so a failed dev_setHead can fall back
// to a full reconnect, per §4.7.
func NewEngineB(fork *substratefork.Client, endpoint string, assetMeta cache.Store[types.TokenMeta], log *zap.Logger) *EngineB {
	e := &EngineB{mu: newMutualExclusion(), fork: fork, endpoint: endpoint, log: log}
	e.tokenMeta = &tokenMetaResolver{
		store: assetMeta,
		log:   log,
		fetch: func(ctx context.Context, token types.TokenID) (types.TokenMeta, error) {
			return types.TokenMeta{}, errors.New("runtime-module asset metadata has no on-chain symbol/decimals probe wired")
		},
	}
	return e
}

// Simulate runs the §4.2 algorithm: cache chain properties, build the
// extrinsic (raw hex as given, or a structured, possibly-nested call that
// is fake-signed with the sender's nonce), capture a pre-execution
// snapshot, read payment info, execute it in one produced block, decode
// that block's events,
// isolate the ones whose phase matches our extrinsic, and reduce those
// into balance deltas rather than re-querying storage (so unrelated
// block-level effects like staking rewards never leak into the reported
// state change).
func (e *EngineB) Simulate(ctx context.Context, req types.RequestB) (types.SimulationResponse, error) {
	if e.faulted.Load() {
		return types.SimulationResponse{}, &FatalRestoreError{Backend: "runtime-module", Cause: errors.New("backend latched after a prior fatal restore failure, refusing further requests")}
	}

	if err := e.mu.Acquire(ctx); err != nil {
		return types.SimulationResponse{}, err
	}
	defer e.mu.Release()

	ReportPhase(ctx, "chain-properties")
	nativeSymbol, nativeDecimals, err := e.fork.ChainProperties()
	if err != nil {
		return types.SimulationResponse{}, err
	}

	ReportPhase(ctx, "build-extrinsic")
	extrinsicHex, err := e.buildExtrinsicHex(ctx, req)
	if err != nil {
		return types.SimulationResponse{}, err
	}

	tracked := trackedAddressesB(req)
	ReportPhase(ctx, "capture-before")
	before := captureBeforeB(ctx, e.fork, tracked, req.TrackAssets, e.log)

	ReportPhase(ctx, "payment-info")
	payment, err := e.fork.GetPaymentInfo(ctx, extrinsicHex)
	if err != nil {
		e.log.Warn("payment_queryInfo failed, reporting zero fee", zap.Error(err))
		payment = substratefork.PaymentInfo{PartialFee: big.NewInt(0)}
	}

	if err := e.fork.DisableSignatureVerification(ctx); err != nil {
		return types.SimulationResponse{}, err
	}
	defer func() {
		if err := e.fork.EnableSignatureVerification(ctx); err != nil {
			e.log.Warn("re-enabling signature verification failed, continuing", zap.Error(err))
		}
	}()

	ReportPhase(ctx, "submit")
	if err := e.fork.ExecuteExtrinsic(ctx, extrinsicHex); err != nil {
		if restoreErr := e.restore(ctx); restoreErr != nil {
			return types.SimulationResponse{}, restoreErr
		}
		decoded := substrateerrors.DecodeJSON(json.RawMessage(`"` + err.Error() + `"`))
		return types.SimulationResponse{Success: false, ErrorB: &decoded}, nil
	}

	ReportPhase(ctx, "decode-events")
	blockHash, err := e.fork.LatestBlockHash(ctx)
	if err != nil {
		if restoreErr := e.restore(ctx); restoreErr != nil {
			return types.SimulationResponse{}, restoreErr
		}
		return types.SimulationResponse{}, err
	}
	raw, err := e.fork.EventsAtBlock(ctx, blockHash)
	if err != nil {
		if restoreErr := e.restore(ctx); restoreErr != nil {
			return types.SimulationResponse{}, restoreErr
		}
		return types.SimulationResponse{}, err
	}
	records := substrateevents.DecodeAll(raw)

	extIdx, ok := substrateevents.MaxApplyExtrinsicIndex(records)
	if !ok {
		if restoreErr := e.restore(ctx); restoreErr != nil {
			return types.SimulationResponse{}, restoreErr
		}
		decoded := types.DecodedErrorB{Kind: types.ErrorKindBUnknown, Message: "no extrinsic was applied in the produced block"}
		return types.SimulationResponse{Success: false, ErrorB: &decoded}, nil
	}

	ours := substrateevents.FilterByExtrinsic(records, extIdx)
	if failed, decoded := extractExtrinsicFailed(ours, e.fork); failed {
		if restoreErr := e.restore(ctx); restoreErr != nil {
			return types.SimulationResponse{}, restoreErr
		}
		return types.SimulationResponse{Success: false, ErrorB: decoded}, nil
	}

	ReportPhase(ctx, "reduce-deltas")
	deltas := reduceEventDeltas(ours)
	after := applyDeltas(before, deltas)

	ReportPhase(ctx, "assemble-impact")
	resolve := func(token types.TokenID) types.TokenMeta { return e.tokenMeta.resolve(ctx, token, true) }
	var counterparty *types.Address
	if cp, ok := primaryCounterparty(req, deltas); ok {
		counterparty = &cp
	}
	report := impact.Assemble(canonicalB(req.Sender), counterparty, unionAddresses(tracked, after), before, after, nativeSymbol, resolve)

	events := make([]types.DecodedEvent, 0, len(ours))
	for _, r := range substrateevents.FilterRelevant(ours) {
		events = append(events, r.Event)
	}

	gas := types.GasReportB{
		Weight:              payment.Weight,
		PartialFee:          payment.PartialFee,
		PartialFeeFormatted: decimalfmt.HumanFormat(payment.PartialFee, nativeDecimals),
		NativeSymbol:        nativeSymbol,
	}

	ReportPhase(ctx, "restore")
	if restoreErr := e.restore(ctx); restoreErr != nil {
		return types.SimulationResponse{}, restoreErr
	}
	ReportPhase(ctx, "done")

	return types.SimulationResponse{
		Success:      true,
		StateChanges: report,
		Events:       events,
		Gas:          types.GasReport{B: &gas},
	}, nil
}

func (e *EngineB) buildExtrinsicHex(ctx context.Context, req types.RequestB) (string, error) {
	if req.RawHex != "" {
		return req.RawHex, nil
	}
	if req.Call == nil {
		return "", errors.New("engine: runtime-module request has neither Call nor RawHex")
	}
	nonce, err := e.fork.AccountNonce(ctx, req.Sender)
	if err != nil {
		e.log.Warn("account nonce read failed, assuming 0", zap.Error(err))
		nonce = 0
	}
	call, err := e.fork.BuildCall(*req.Call)
	if err != nil {
		return "", err
	}
	return e.fork.BuildFakeSignedExtrinsic(call, req.Sender, nonce)
}

// restore resets the fork head back to the cached fork-origin hash. On
// failure, falling back to a full reconnect is the dev_setHead-and-retry
// path §4.7 describes; if that also fails it is a stratum-3 fatal
// condition per §7: the backend is latched so every subsequent Simulate
// call is refused until an operator restarts it, and the fatal error is
// returned so the caller raises it instead of completing the response
// already computed.
func (e *EngineB) restore(ctx context.Context) error {
	if err := e.fork.Reset(ctx, e.endpoint); err != nil {
		fatal := &FatalRestoreError{Backend: "runtime-module", Cause: err}
		e.log.Error("fork restore failed fatally", zap.Error(fatal))
		e.faulted.Store(true)
		return fatal
	}
	return nil
}

func trackedAddressesB(req types.RequestB) []types.Address {
	tracked := []types.Address{canonicalB(req.Sender)}
	if req.Call != nil {
		if recipient, ok := extractPalletRecipient(*req.Call); ok {
			tracked = append(tracked, canonicalB(recipient))
		}
	}
	return tracked
}

// extractPalletRecipient takes args[0] as the presumptive recipient for
// any call whose method name contains "transfer" (case-insensitive),
// regardless of pallet, the structured-call counterpart of enginea.go's
// calldata parsing. Only a non-empty string args[0] is taken: for
// balances.transfer(dest, value) that is the recipient, while for an
// assets.transfer(id, dest, value)-shaped call args[0] is the asset id.
func extractPalletRecipient(call types.PalletCall) (types.Address, bool) {
	if !strings.Contains(strings.ToLower(call.Method), "transfer") {
		return "", false
	}
	if len(call.Args) < 1 {
		return "", false
	}
	if addr, ok := call.Args[0].(string); ok && addr != "" {
		return types.Address(addr), true
	}
	return "", false
}

// canonicalB reduces addr to its 32-byte account id, hex-encoded, so
// SS58-encoded request addresses and the hex account ids decoded from
// chain events compare equal as map keys. Addresses that don't decode as
// either (e.g. opaque test fixtures) pass through unchanged.
func canonicalB(addr types.Address) types.Address {
	canon, err := substratefork.CanonicalAccountHex(string(addr))
	if err != nil {
		return addr
	}
	return types.Address(canon)
}

func captureBeforeB(ctx context.Context, fork *substratefork.Client, tracked []types.Address, assetIDs []uint64, log *zap.Logger) map[types.Address]*types.BalanceSnapshot {
	out := make(map[types.Address]*types.BalanceSnapshot, len(tracked))
	for _, addr := range tracked {
		snap := types.NewBalanceSnapshot(true)
		triple, err := fork.NativeTriple(ctx, addr)
		if err != nil {
			log.Warn("native triple read failed, reporting zero", zap.String("address", string(addr)), zap.Error(err))
			triple = types.NativeTriple{Free: big.NewInt(0), Reserved: big.NewInt(0), Frozen: big.NewInt(0)}
		}
		snap.NativeRuntime = triple
		for _, id := range assetIDs {
			amt, err := fork.AssetBalance(ctx, id, addr)
			if err != nil || amt == nil {
				amt = big.NewInt(0)
			}
			snap.SetFungible(types.TokenID(strconv.FormatUint(id, 10)), amt)
		}
		out[addr] = snap
	}
	return out
}

// balanceDelta is one address's computed native/fungible change, built
// purely from decoded events rather than a second storage read.
type balanceDelta struct {
	Native  *big.Int
	Tokens  map[types.TokenID]*big.Int
}

func newBalanceDelta() *balanceDelta {
	return &balanceDelta{Native: big.NewInt(0), Tokens: map[types.TokenID]*big.Int{}}
}

func (d *balanceDelta) addNative(v *big.Int) {
	d.Native.Add(d.Native, v)
}

func (d *balanceDelta) addToken(id types.TokenID, v *big.Int) {
	cur, ok := d.Tokens[id]
	if !ok {
		cur = big.NewInt(0)
	}
	d.Tokens[id] = new(big.Int).Add(cur, v)
}

// reduceEventDeltas reduces balances.{Transfer,Deposit,Withdraw} and
// assets.{Transferred,Deposited,Withdrawn} events (already filtered to our
// extrinsic's phase) into per-address deltas, per §4.2 step 12's "isolate
// effects from unrelated block-level events" requirement.
func reduceEventDeltas(records []substrateevents.DecodedEventRecord) map[types.Address]*balanceDelta {
	out := map[types.Address]*balanceDelta{}
	get := func(addr types.Address) *balanceDelta {
		d, ok := out[addr]
		if !ok {
			d = newBalanceDelta()
			out[addr] = d
		}
		return d
	}

	for _, r := range records {
		pallet, method := splitOrigin(r.Event.Origin)
		vals := fieldValues(r.Event.Fields)
		switch {
		case strings.EqualFold(pallet, "balances") && strings.EqualFold(method, "Transfer"):
			from, to, amount, ok := transferArgs(vals)
			if !ok {
				continue
			}
			get(canonicalB(from)).addNative(new(big.Int).Neg(amount))
			get(canonicalB(to)).addNative(amount)
		case strings.EqualFold(pallet, "balances") && strings.EqualFold(method, "Deposit"):
			who, amount, ok := twoArgAmount(vals)
			if !ok {
				continue
			}
			get(canonicalB(who)).addNative(amount)
		case strings.EqualFold(pallet, "balances") && strings.EqualFold(method, "Withdraw"):
			who, amount, ok := twoArgAmount(vals)
			if !ok {
				continue
			}
			get(canonicalB(who)).addNative(new(big.Int).Neg(amount))
		case strings.EqualFold(pallet, "assets") && strings.EqualFold(method, "Transferred"):
			assetID, from, to, amount, ok := assetTransferArgs(vals)
			if !ok {
				continue
			}
			tok := types.TokenID(assetID)
			get(canonicalB(from)).addToken(tok, new(big.Int).Neg(amount))
			get(canonicalB(to)).addToken(tok, amount)
		case strings.EqualFold(pallet, "assets") && strings.EqualFold(method, "Deposited"):
			assetID, who, amount, ok := assetTwoArgAmount(vals)
			if !ok {
				continue
			}
			get(canonicalB(who)).addToken(types.TokenID(assetID), amount)
		case strings.EqualFold(pallet, "assets") && strings.EqualFold(method, "Withdrawn"):
			assetID, who, amount, ok := assetTwoArgAmount(vals)
			if !ok {
				continue
			}
			get(canonicalB(who)).addToken(types.TokenID(assetID), new(big.Int).Neg(amount))
		}
	}
	return out
}

func splitOrigin(origin string) (pallet, method string) {
	i := strings.LastIndex(origin, ".")
	if i < 0 {
		return origin, ""
	}
	return origin[:i], origin[i+1:]
}

func fieldValues(fields []types.EventField) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Value
	}
	return out
}

func parseBig(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	return v, ok
}

// transferArgs reads a 3-field Transfer(from,to,amount), matching by
// position since metadata field names are not guaranteed uniform across
// runtimes.
func transferArgs(vals []string) (from, to types.Address, amount *big.Int, ok bool) {
	if len(vals) < 3 {
		return "", "", nil, false
	}
	amt, amtOk := parseBig(vals[2])
	if !amtOk {
		return "", "", nil, false
	}
	return types.Address(vals[0]), types.Address(vals[1]), amt, true
}

func twoArgAmount(vals []string) (who types.Address, amount *big.Int, ok bool) {
	if len(vals) < 2 {
		return "", nil, false
	}
	amt, amtOk := parseBig(vals[1])
	if !amtOk {
		return "", nil, false
	}
	return types.Address(vals[0]), amt, true
}

func assetTransferArgs(vals []string) (assetID string, from, to types.Address, amount *big.Int, ok bool) {
	if len(vals) < 4 {
		return "", "", "", nil, false
	}
	amt, amtOk := parseBig(vals[3])
	if !amtOk {
		return "", "", "", nil, false
	}
	return vals[0], types.Address(vals[1]), types.Address(vals[2]), amt, true
}

func assetTwoArgAmount(vals []string) (assetID string, who types.Address, amount *big.Int, ok bool) {
	if len(vals) < 3 {
		return "", "", nil, false
	}
	amt, amtOk := parseBig(vals[2])
	if !amtOk {
		return "", "", nil, false
	}
	return vals[0], types.Address(vals[1]), amt, true
}

func applyDeltas(before map[types.Address]*types.BalanceSnapshot, deltas map[types.Address]*balanceDelta) map[types.Address]*types.BalanceSnapshot {
	after := make(map[types.Address]*types.BalanceSnapshot, len(before))
	for addr, snap := range before {
		next := types.NewBalanceSnapshot(true)
		next.NativeRuntime = snap.NativeRuntime
		for _, tok := range snap.FungibleOrder {
			next.SetFungible(tok, snap.Fungibles[tok])
		}
		if d, ok := deltas[addr]; ok {
			free := new(big.Int).Add(next.NativeRuntime.Free, d.Native)
			next.NativeRuntime.Free = free
			for tok, delta := range d.Tokens {
				cur, ok := next.Fungibles[tok]
				if !ok {
					cur = big.NewInt(0)
				}
				next.SetFungible(tok, new(big.Int).Add(cur, delta))
			}
		}
		after[addr] = next
	}
	for addr, d := range deltas {
		if _, ok := after[addr]; ok {
			continue
		}
		snap := types.NewBalanceSnapshot(true)
		snap.NativeRuntime = types.NativeTriple{Free: d.Native, Reserved: big.NewInt(0), Frozen: big.NewInt(0)}
		for tok, delta := range d.Tokens {
			snap.SetFungible(tok, delta)
		}
		after[addr] = snap
	}
	return after
}

// primaryCounterparty returns the structured call's recipient if it ended
// up with a non-zero delta — runtime-module counterparty presence is
// "only if non-zero" per §3, unlike the account-model side.
func primaryCounterparty(req types.RequestB, deltas map[types.Address]*balanceDelta) (types.Address, bool) {
	if req.Call == nil {
		return "", false
	}
	recipient, ok := extractPalletRecipient(*req.Call)
	if !ok {
		return "", false
	}
	canonRecipient := canonicalB(recipient)
	d, ok := deltas[canonRecipient]
	if !ok {
		return "", false
	}
	if d.Native.Sign() == 0 && len(d.Tokens) == 0 {
		return "", false
	}
	return canonRecipient, true
}

// unionAddresses appends any address that newly appears in after (an
// address touched only by the event-delta reduction, never explicitly
// tracked) to the tracked list, so it surfaces in otherAffected.
func unionAddresses(tracked []types.Address, after map[types.Address]*types.BalanceSnapshot) []types.Address {
	seen := map[types.Address]bool{}
	out := make([]types.Address, 0, len(tracked))
	for _, t := range tracked {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for addr := range after {
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

func extractExtrinsicFailed(records []substrateevents.DecodedEventRecord, fork *substratefork.Client) (bool, *types.DecodedErrorB) {
	for _, r := range records {
		if !strings.EqualFold(r.Event.Origin, "system.ExtrinsicFailed") {
			continue
		}
		raw := json.RawMessage("{}")
		if len(r.Event.Fields) > 0 {
			raw = json.RawMessage(`"` + r.Event.Fields[0].Value + `"`)
		}
		decoded := substrateerrors.DecodeJSON(raw)
		return true, &decoded
	}
	return false, nil
}
