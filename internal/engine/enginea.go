package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/airchains-network/tx-simulator/internal/cache"
	"github.com/airchains-network/tx-simulator/internal/decimalfmt"
	"github.com/airchains-network/tx-simulator/internal/evmerrors"
	"github.com/airchains-network/tx-simulator/internal/evmevents"
	"github.com/airchains-network/tx-simulator/internal/evmfork"
	"github.com/airchains-network/tx-simulator/internal/impact"
	"github.com/airchains-network/tx-simulator/internal/snapshot"
	"github.com/airchains-network/tx-simulator/internal/types"
)

// transferSelector / transferFromSelector are the two calldata shapes §4.1
// step 2 inspects to discover a transfer recipient hidden behind a
// contract call, so that recipient's balance is tracked from the start
// instead of only being picked up by the post-hoc address-expansion pass.
const (
	transferSelector     = "a9059cbb" // transfer(address,uint256)
	transferFromSelector = "23b872dd" // transferFrom(address,address,uint256)
)

const nativeDecimalsA = 18

// EngineA drives account-model simulations against a single fork backend.
// Exactly one Simulate call runs at a time per EngineA, per §5.
type EngineA struct {
	mu           *mutualExclusion
	fork         *evmfork.Client
	decoder      *evmevents.Decoder
	tokenMeta    *tokenMetaResolver
	nativeSymbol string
	log          *zap.Logger
	faulted      atomic.Bool
}

// NewEngineA wires a fork client, event decoder, and metadata cache into
// one engine. nativeSymbol is read once at startup (the account-model side
// has no on-chain "chain properties" call the way the runtime-module side
// does).
func NewEngineA(fork *evmfork.Client, decoder *evmevents.Decoder, tokenMeta cache.Store[types.TokenMeta], nativeSymbol string, log *zap.Logger) *EngineA {
	e := &EngineA{
		mu:           newMutualExclusion(),
		fork:         fork,
		decoder:      decoder,
		nativeSymbol: nativeSymbol,
		log:          log,
	}
	e.tokenMeta = &tokenMetaResolver{
		store: tokenMeta,
		log:   log,
		fetch: func(ctx context.Context, token types.TokenID) (types.TokenMeta, error) {
			symbol, decimals, err := fork.TokenMeta(ctx, types.Address(token))
			if err != nil {
				return types.TokenMeta{}, err
			}
			return types.TokenMeta{Symbol: symbol, Decimals: decimals}, nil
		},
	}
	return e
}

// Simulate runs the full §4.1 algorithm: snapshot, capture BEFORE,
// impersonate and send, decode events, expand the tracked-address set from
// discovered Transfer participants (re-running under a fresh snapshot when
// that expansion changes who needs a historical BEFORE), capture AFTER,
// assemble the impact report and gas report, then restore the fork.
func (e *EngineA) Simulate(ctx context.Context, req types.RequestA) (types.SimulationResponse, error) {
	if e.faulted.Load() {
		return types.SimulationResponse{}, &FatalRestoreError{Backend: "account-model", Cause: errors.New("backend latched after a prior fatal restore failure, refusing further requests")}
	}

	if err := e.mu.Acquire(ctx); err != nil {
		return types.SimulationResponse{}, err
	}
	defer e.mu.Release()

	ReportPhase(ctx, "snapshot")
	snapID, err := e.fork.Snapshot(ctx)
	if err != nil {
		return types.SimulationResponse{}, err
	}

	tracked := initialTrackedSet(req)
	calldataRecipient, hasCalldataRecipient := extractCalldataRecipient(req.Data)
	ReportPhase(ctx, "capture-before")
	before := snapshot.CaptureAccountModel(ctx, e.fork, tracked, req.TrackTokens, e.log)

	ReportPhase(ctx, "send")
	receipt, sendErr := e.runOnce(ctx, req)
	if sendErr != nil {
		if restoreErr := e.restore(ctx, snapID); restoreErr != nil {
			return types.SimulationResponse{}, restoreErr
		}
		decoded := evmerrors.Decode(toRawRPCError(sendErr))
		return types.SimulationResponse{Success: false, ErrorA: &decoded}, nil
	}

	ReportPhase(ctx, "decode-events")
	events := e.decoder.DecodeLogs(toEvmLogs(receipt.Logs))
	discovered := discoverAddresses(events, tracked)

	if len(discovered) > 0 {
		ReportPhase(ctx, "expand-addresses")
		if _, revErr := e.fork.Revert(ctx, snapID); revErr != nil {
			e.log.Warn("revert for address-expansion re-run failed, proceeding with reset", zap.Error(revErr))
			_ = e.fork.Reset(ctx)
		}
		snapID, err = e.fork.Snapshot(ctx)
		if err != nil {
			return types.SimulationResponse{}, err
		}
		tracked = append(tracked, discovered...)
		before = snapshot.CaptureAccountModel(ctx, e.fork, tracked, req.TrackTokens, e.log)

		receipt, sendErr = e.runOnce(ctx, req)
		if sendErr != nil {
			if restoreErr := e.restore(ctx, snapID); restoreErr != nil {
				return types.SimulationResponse{}, restoreErr
			}
			decoded := evmerrors.Decode(toRawRPCError(sendErr))
			return types.SimulationResponse{Success: false, ErrorA: &decoded}, nil
		}
		events = e.decoder.DecodeLogs(toEvmLogs(receipt.Logs))
	}

	ReportPhase(ctx, "capture-after")
	after := snapshot.CaptureAccountModel(ctx, e.fork, tracked, req.TrackTokens, e.log)

	ReportPhase(ctx, "assemble-impact")
	resolve := func(token types.TokenID) types.TokenMeta { return e.tokenMeta.resolve(ctx, token, false) }
	counterparty := req.To
	if hasCalldataRecipient {
		counterparty = calldataRecipient
	}
	report := impact.Assemble(req.Sender, &counterparty, tracked, before, after, e.nativeSymbol, resolve)

	gas := e.buildGasReport(ctx, receipt)

	ReportPhase(ctx, "restore")
	if restoreErr := e.restore(ctx, snapID); restoreErr != nil {
		return types.SimulationResponse{}, restoreErr
	}
	ReportPhase(ctx, "done")

	return types.SimulationResponse{
		Success:      true,
		StateChanges: report,
		Events:       events,
		Gas:          types.GasReport{A: &gas},
	}, nil
}

func (e *EngineA) runOnce(ctx context.Context, req types.RequestA) (*gethtypes.Receipt, error) {
	if err := e.fork.Impersonate(ctx, req.Sender); err != nil {
		return nil, err
	}
	defer func() {
		if stopErr := e.fork.StopImpersonating(ctx, req.Sender); stopErr != nil {
			e.log.Warn("stop impersonating failed, continuing", zap.String("address", string(req.Sender)), zap.Error(stopErr))
		}
	}()

	data := req.Data
	if data == nil {
		data = []byte{}
	}
	return e.fork.SendAsSender(ctx, req.Sender, req.To, data, req.Value, req.GasLimit)
}

func (e *EngineA) buildGasReport(ctx context.Context, receipt *gethtypes.Receipt) types.GasReportA {
	gasUsed := new(big.Int).SetUint64(receipt.GasUsed)
	gasPrice := receipt.EffectiveGasPrice
	if gasPrice == nil {
		var err error
		gasPrice, err = e.fork.FeeData(ctx)
		if err != nil || gasPrice == nil {
			gasPrice = big.NewInt(0)
		}
	}
	totalWei := new(big.Int).Mul(gasUsed, gasPrice)
	return types.GasReportA{
		GasUsed:         gasUsed,
		GasPrice:        gasPrice,
		TotalCostWei:    totalWei,
		TotalCostNative: decimalfmt.HumanFormat(totalWei, nativeDecimalsA),
		NativeSymbol:    e.nativeSymbol,
	}
}

// restore reverts to snapID; on failure it falls back to a full reset. If
// that also fails, this is a stratum-3 fatal condition per §7: the backend
// is latched so every subsequent Simulate call is refused until an
// operator restarts it, and the fatal error is returned so the caller
// raises it instead of completing the response already computed.
func (e *EngineA) restore(ctx context.Context, snapID string) error {
	ok, err := e.fork.Revert(ctx, snapID)
	if err == nil && ok {
		return nil
	}
	if resetErr := e.fork.Reset(ctx); resetErr != nil {
		fatal := &FatalRestoreError{Backend: "account-model", Cause: errors.Join(err, resetErr)}
		e.log.Error("fork restore failed fatally", zap.Error(fatal))
		e.faulted.Store(true)
		return fatal
	}
	e.log.Warn("snapshot revert failed, recovered via full reset", zap.Error(err))
	return nil
}

func initialTrackedSet(req types.RequestA) []types.Address {
	seen := map[types.Address]bool{req.Sender: true}
	tracked := []types.Address{req.Sender}
	if !seen[req.To] {
		seen[req.To] = true
		tracked = append(tracked, req.To)
	}
	if recipient, ok := extractCalldataRecipient(req.Data); ok && !seen[recipient] {
		seen[recipient] = true
		tracked = append(tracked, recipient)
	}
	return tracked
}

// extractCalldataRecipient parses transfer/transferFrom calldata to find a
// recipient hidden behind a contract call, per §4.1 step 2.
func extractCalldataRecipient(data []byte) (types.Address, bool) {
	if len(data) < 4 {
		return "", false
	}
	selector := strings.ToLower(hexEncode(data[:4]))
	switch selector {
	case transferSelector:
		if len(data) < 4+32 {
			return "", false
		}
		return types.Address("0x" + hexEncode(data[4+12:4+32])), true
	case transferFromSelector:
		if len(data) < 4+64 {
			return "", false
		}
		return types.Address("0x" + hexEncode(data[4+32+12:4+64])), true
	default:
		return "", false
	}
}

func discoverAddresses(events []types.DecodedEvent, tracked []types.Address) []types.Address {
	known := map[types.Address]bool{}
	for _, a := range tracked {
		known[canonicalA(a)] = true
	}
	var discovered []types.Address
	for _, ev := range events {
		if ev.Name != "Transfer" && ev.Name != "TransferSingle" {
			continue
		}
		for _, f := range ev.Fields {
			if f.Name != "arg0" && f.Name != "arg1" && f.Name != "arg2" {
				continue
			}
			if !strings.HasPrefix(f.Value, "0x") || len(f.Value) != 42 {
				continue
			}
			addr := canonicalA(types.Address(f.Value))
			if !known[addr] {
				known[addr] = true
				discovered = append(discovered, addr)
			}
		}
	}
	return discovered
}

func canonicalA(a types.Address) types.Address {
	return types.Address(strings.ToLower(string(a)))
}

func toEvmLogs(logs []*gethtypes.Log) []evmevents.Log {
	out := make([]evmevents.Log, 0, len(logs))
	for _, l := range logs {
		out = append(out, evmevents.Log{Address: l.Address, Topics: l.Topics, Data: l.Data, Index: l.Index})
	}
	return out
}

func hexEncode(b []byte) string {
	const table = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = table[c>>4]
		out[i*2+1] = table[c&0x0f]
	}
	return string(out)
}

// toRawRPCError best-effort-unwraps a go-ethereum RPC error into the shape
// evmerrors.Decode expects. rpc.DataError-shaped errors (the usual case for
// anvil's "execution reverted" responses) carry structured Data; anything
// else degrades to a bare Message.
func toRawRPCError(err error) *evmerrors.RawRPCError {
	if err == nil {
		return nil
	}
	raw := &evmerrors.RawRPCError{Message: err.Error()}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if b, marshalErr := json.Marshal(dataErr.ErrorData()); marshalErr == nil {
			raw.Data = b
		}
	}
	return raw
}
