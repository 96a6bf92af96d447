// Package runtime executes batches of extrinsics against the ledger state.
//
// The Runtime is the only writer. Batches run one at a time, and within a
// batch every extrinsic runs in its own transaction: it either commits all of
// its writes or none of them. Events are delivered after the commit that
// produced them.
package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kitties/pkg/errors"
	"kitties/pkg/events"
	"kitties/pkg/kitties"
	"kitties/pkg/metrics"
	"kitties/pkg/randomness"
	"kitties/pkg/staterepository"
	"kitties/pkg/types"
)

// Extrinsic is one call submitted to the ledger together with its origin.
type Extrinsic struct {
	Origin kitties.Origin
	Call   kitties.Call
}

// ExtrinsicResult is the outcome of one extrinsic. Err is nil or a protocol error.
type ExtrinsicResult struct {
	Index  uint32
	Call   string
	Events []events.Event
	Err    error
}

// BatchResult is the outcome of one batch, one result per extrinsic applied.
type BatchResult struct {
	Number  uint64
	Seed    [32]byte
	Results []ExtrinsicResult
}

// Runtime applies extrinsics to the ledger state, one batch at a time.
type Runtime struct {
	mu      sync.Mutex
	repo    *staterepository.PebbleStateRepository
	pallet  *kitties.Pallet
	source  randomness.Source
	emitter events.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures the Runtime.
type Option func(*Runtime)

// WithEmitter sets where committed events are delivered.
func WithEmitter(e events.Emitter) Option {
	return func(r *Runtime) {
		r.emitter = e
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// WithLogger sets a logger for the runtime and its pallet.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// New creates a Runtime over repo that draws batch seeds from source.
func New(repo *staterepository.PebbleStateRepository, source randomness.Source, opts ...Option) *Runtime {
	r := &Runtime{
		repo:   repo,
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.pallet = kitties.NewPallet(r.logger)
	r.logger = r.logger.With("component", "runtime")
	return r
}

// Apply runs a single extrinsic as a batch of one.
func (r *Runtime) Apply(ctx context.Context, xt Extrinsic) (ExtrinsicResult, error) {
	res, err := r.ApplyBatch(ctx, []Extrinsic{xt})
	if len(res.Results) == 0 {
		return ExtrinsicResult{}, err
	}
	return res.Results[0], err
}

// ApplyBatch runs xts in order; the position of each extrinsic is its
// extrinsic index. A rejected extrinsic is reported in its result and does
// not stop the batch. A storage failure stops the batch and is returned
// alongside the results gathered so far.
func (r *Runtime) ApplyBatch(ctx context.Context, xts []Extrinsic) (BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	number, err := staterepository.GetBatchNumber(r.repo)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to load batch number: %w", err)
	}
	parent, err := staterepository.GetRandomSeed(r.repo)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to load parent seed: %w", err)
	}

	seed := r.source.Seed(randomness.BatchContext{Number: number, ParentSeed: parent})
	adapter := randomness.NewAdapter(seed, number)
	result := BatchResult{Number: number, Seed: seed}

	var applyErr error
	for i, xt := range xts {
		res, err := r.applyExtrinsic(ctx, number, uint32(i), adapter, xt)
		if err != nil {
			applyErr = err
			break
		}
		result.Results = append(result.Results, res)
	}

	// The batch number advances even after a storage failure so that the
	// event keys of extrinsics that did commit are never reused.
	if err := r.finalize(number, seed); err != nil {
		return result, stderrors.Join(applyErr, err)
	}
	if applyErr != nil {
		return result, applyErr
	}

	r.metrics.IncrementBatches()
	r.logger.Info("batch applied", "batch", number, "extrinsics", len(xts))
	return result, nil
}

func (r *Runtime) applyExtrinsic(ctx context.Context, batch uint64, index uint32, adapter *randomness.Adapter, xt Extrinsic) (ExtrinsicResult, error) {
	started := time.Now()
	res := ExtrinsicResult{Index: index, Call: xt.Call.Name()}

	tx := r.repo.Begin()
	defer tx.Close()

	evs, err := r.pallet.Dispatch(tx, kitties.Context{
		Origin:         xt.Origin,
		ExtrinsicIndex: index,
		Randomness:     adapter,
	}, xt.Call)
	if err != nil {
		if !errors.IsProtocolError(err) {
			r.metrics.ObserveExtrinsic(res.Call, "failed", started)
			return res, fmt.Errorf("extrinsic %d (%s): %w", index, res.Call, err)
		}
		r.metrics.ObserveExtrinsic(res.Call, errors.CodeOf(err).String(), started)
		r.logger.Debug("extrinsic rejected", "batch", batch, "extrinsic", index, "call", res.Call, "origin", xt.Origin.String(), "error", err)
		res.Err = err
		return res, nil
	}

	for n, ev := range evs {
		if err := staterepository.PutEvent(tx, batch, index, uint8(n), events.Encode(ev)); err != nil {
			return res, fmt.Errorf("extrinsic %d (%s): failed to store event: %w", index, res.Call, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("extrinsic %d (%s): failed to commit: %w", index, res.Call, err)
	}
	r.metrics.ObserveExtrinsic(res.Call, "ok", started)
	res.Events = evs

	if next, err := staterepository.GetNextKittyID(r.repo); err == nil {
		r.metrics.SetNextKittyID(uint32(next))
	}

	if r.emitter != nil {
		for _, ev := range evs {
			rec := events.Record{Batch: batch, Extrinsic: index, Event: ev}
			if err := r.emitter.Emit(ctx, rec); err != nil {
				// The transition is committed; delivery is the bus's problem.
				r.logger.Warn("failed to emit event", "batch", batch, "extrinsic", index, "event", ev.Kind().String(), "error", err)
			}
		}
	}
	return res, nil
}

func (r *Runtime) finalize(number uint64, seed [32]byte) error {
	tx := r.repo.Begin()
	defer tx.Close()
	if err := staterepository.SetBatchMeta(tx, number, seed); err != nil {
		return fmt.Errorf("failed to store batch meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch meta: %w", err)
	}
	return nil
}

// Kitty returns the genome of a committed kitty.
func (r *Runtime) Kitty(id types.KittyIndex) (types.Kitty, bool, error) {
	return staterepository.GetKitty(r.repo, id)
}

// Owner returns the committed owner of a kitty.
func (r *Runtime) Owner(id types.KittyIndex) (types.AccountID, bool, error) {
	return staterepository.GetKittyOwner(r.repo, id)
}

// NextKittyID is the id the next created or bred kitty will get.
func (r *Runtime) NextKittyID() (types.KittyIndex, error) {
	return staterepository.GetNextKittyID(r.repo)
}

// KittiesOwnedBy lists the ids owned by owner in ascending order.
func (r *Runtime) KittiesOwnedBy(owner types.AccountID) ([]types.KittyIndex, error) {
	return staterepository.KittiesOwnedBy(r.repo, owner)
}

// BatchNumber is the number the next batch will run as.
func (r *Runtime) BatchNumber() (uint64, error) {
	return staterepository.GetBatchNumber(r.repo)
}

// Events returns the events a batch deposited, in order.
func (r *Runtime) Events(batch uint64) ([]events.Record, error) {
	stored, err := staterepository.GetEvents(r.repo, batch)
	if err != nil {
		return nil, err
	}
	records := make([]events.Record, 0, len(stored))
	for _, s := range stored {
		ev, err := events.Decode(s.Data)
		if err != nil {
			return nil, fmt.Errorf("batch %d extrinsic %d: %w", batch, s.Extrinsic, err)
		}
		records = append(records, events.Record{Batch: batch, Extrinsic: s.Extrinsic, Event: ev})
	}
	return records, nil
}
