// Package engine implements C9: the two simulation algorithms of
// spec.md §4.1/§4.2, wiring together the fork backends, decoders, and
// impact assembler into one request/response cycle per side.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/airchains-network/tx-simulator/internal/cache"
	"github.com/airchains-network/tx-simulator/internal/types"
)

// FatalRestoreError marks a stratum-3 failure, per §7: the backend could
// not be returned to a clean post-simulation state after its fallback
// restore attempt either, and callers should stop routing further
// requests to this backend until an operator intervenes.
type FatalRestoreError struct {
	Backend string
	Cause   error
}

func (e *FatalRestoreError) Error() string {
	return fmt.Sprintf("engine: %s backend restore failed fatally: %v", e.Backend, e.Cause)
}

func (e *FatalRestoreError) Unwrap() error { return e.Cause }

// tokenMetaResolver wraps a cache.Store with a fetch function, giving both
// engines the same "cached, write-through on miss" metadata lookup
// described in §3/§5.
type tokenMetaResolver struct {
	store cache.Store[types.TokenMeta]
	fetch func(ctx context.Context, token types.TokenID) (types.TokenMeta, error)
	log   *zap.Logger
}

func (r *tokenMetaResolver) resolve(ctx context.Context, token types.TokenID, isAsset bool) types.TokenMeta {
	if meta, ok := r.store.Get(string(token)); ok {
		return meta
	}
	meta, err := r.fetch(ctx, token)
	if err != nil {
		r.log.Warn("token metadata fetch failed, using unknown placeholder", zap.String("token", string(token)), zap.Error(err))
		return types.UnknownTokenMeta(token, isAsset)
	}
	if meta.Symbol == "" {
		meta = types.UnknownTokenMeta(token, isAsset)
	}
	return r.store.PutIfAbsent(string(token), meta)
}

// PhaseReporter receives a short phase name as Simulate moves through the
// §4.1/§4.2 algorithm, the hook the httpapi package's /ws streaming uses.
type PhaseReporter func(phase string)

type phaseReporterKey struct{}

// WithPhaseReporter attaches a PhaseReporter to ctx. A nil reporter is
// valid and makes ReportPhase a no-op.
func WithPhaseReporter(ctx context.Context, reporter PhaseReporter) context.Context {
	return context.WithValue(ctx, phaseReporterKey{}, reporter)
}

// ReportPhase calls the reporter attached to ctx, if any.
func ReportPhase(ctx context.Context, phase string) {
	if reporter, ok := ctx.Value(phaseReporterKey{}).(PhaseReporter); ok && reporter != nil {
		reporter(phase)
	}
}

// mutualExclusion is the per-backend critical-section guard of §5: one
// in-flight simulation per backend at a time. Engines embed this rather
// than a bare sync.Mutex so Acquire/Release stay paired even when a
// request is cancelled mid-flight.
type mutualExclusion struct {
	sem chan struct{}
}

func newMutualExclusion() *mutualExclusion {
	return &mutualExclusion{sem: make(chan struct{}, 1)}
}

func (m *mutualExclusion) Acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mutualExclusion) Release() {
	select {
	case <-m.sem:
	default:
	}
}
