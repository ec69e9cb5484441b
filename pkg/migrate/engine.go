// Package migrate rewrites or removes every usage of a range value across the
// entry collection, tolerating partial failure and never leaving a document
// half-edited.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/mkalland/liftcurator/pkg/lift"
	"github.com/mkalland/liftcurator/pkg/ranges"
	"github.com/mkalland/liftcurator/pkg/store"
	"github.com/mkalland/liftcurator/pkg/usage"
)

// Mode selects between counting and committing.
type Mode int

const (
	// DryRun counts affected entries and mutates nothing.
	DryRun Mode = iota
	// Execute rewrites and writes back every affected entry.
	Execute
)

// ErrLiveUsages blocks deletion of a range or element that entries still
// reference and no migration directive or force flag covers.
var ErrLiveUsages = errors.New("value still has live usages")

// EntryError is one failed entry in a best-effort batch.
type EntryError struct {
	EntryID string
	Err     error
}

// Report is the combined outcome of one run.
type Report struct {
	State           State
	EntriesAffected int
	FieldsUpdated   int
	Succeeded       []string
	Failed          []EntryError
	// AbortedIDs are entries the scan found but the run never dispatched,
	// because of cancellation or a strict-mode abort.
	AbortedIDs []string
	// Diffs holds per-entry previews of the rewrite, keyed by entry id.
	// Populated only on dry runs when the engine's Diff flag is set.
	Diffs map[string]string
}

// PartialFailure returns the taxonomy error describing a partially failed
// batch, or nil when nothing failed.
func (r *Report) PartialFailure() *lift.PartialFailureError {
	if len(r.Failed) == 0 {
		return nil
	}
	failed := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		failed[i] = f.EntryID
	}
	sort.Strings(failed)
	return &lift.PartialFailureError{Succeeded: append([]string(nil), r.Succeeded...), Failed: failed}
}

// Engine orchestrates a migration: one fresh usage scan, then per-entry
// parse → mutate → serialize → replace, fanned out over a bounded worker
// pool. Each entry is written back as one unit; a failure on one entry never
// leaves it half-modified and never stops a best-effort batch.
type Engine struct {
	Store store.Store
	// Workers bounds per-entry rewrite concurrency.
	Workers int
	// Strict aborts the whole batch on the first entry failure. Nothing
	// already committed is rolled back; store transactions are the
	// collaborator's concern.
	Strict bool
	// Diff enables per-entry rewrite previews on dry runs.
	Diff   bool
	Logger zerolog.Logger

	// PoolFactory allows tests to inject custom worker pool implementations.
	PoolFactory func(workers, queue int) Pool
}

// NewEngine creates an engine over the given store with default concurrency.
func NewEngine(s store.Store) *Engine {
	return &Engine{Store: s, Workers: 4, Logger: zerolog.Nop()}
}

// Run executes the plan in the given mode. The scan is always taken fresh at
// the start of the run, so re-running a completed plan's parameters finds
// nothing and is a no-op. Run returns an error only when the run could not
// proceed at all (bad state, scan failure); per-entry failures live in the
// report.
func (en *Engine) Run(ctx context.Context, p *Plan, mode Mode) (*Report, error) {
	if err := p.begin(mode == Execute); err != nil {
		return nil, err
	}
	rangeID, oldValue, action, newValue := p.target()

	analyzer := usage.NewAnalyzer(en.Store)
	cur, err := analyzer.Scan(ctx, rangeID, oldValue)
	if err != nil {
		p.finish(Aborted)
		return nil, err
	}
	defer cur.Close()

	report := &Report{}
	if mode == DryRun {
		err = en.dryRun(ctx, cur, rangeID, oldValue, action, newValue, report)
	} else {
		err = en.execute(ctx, cur, rangeID, oldValue, action, newValue, report)
	}
	if err != nil {
		p.finish(Aborted)
		report.State = Aborted
		return report, err
	}

	switch {
	case len(report.AbortedIDs) > 0:
		report.State = Aborted
	case len(report.Failed) > 0:
		report.State = PartiallyFailed
	default:
		report.State = Completed
	}
	p.finish(report.State)
	en.Logger.Info().
		Str("range", rangeID).Str("value", oldValue).Str("action", action.String()).
		Int("entries", report.EntriesAffected).Int("fields", report.FieldsUpdated).
		Str("state", report.State.String()).Msg("migration finished")
	return report, nil
}

// dryRun drains the cursor counting distinct entries. Nothing is written;
// FieldsUpdated stays zero because no field was updated.
func (en *Engine) dryRun(ctx context.Context, cur *usage.Cursor, rangeID, oldValue string, action Action, newValue string, report *Report) error {
	last := ""
	for cur.Next() {
		u := cur.Usage()
		if u.EntryID == last {
			continue
		}
		last = u.EntryID
		report.EntriesAffected++
		if en.Diff {
			preview, err := en.preview(ctx, u.EntryID, rangeID, oldValue, action, newValue)
			if err != nil {
				report.Failed = append(report.Failed, EntryError{EntryID: u.EntryID, Err: err})
				continue
			}
			if report.Diffs == nil {
				report.Diffs = make(map[string]string)
			}
			report.Diffs[u.EntryID] = preview
		}
	}
	return cur.Err()
}

// preview renders what the rewrite would do to one entry.
func (en *Engine) preview(ctx context.Context, id, rangeID, oldValue string, action Action, newValue string) (string, error) {
	raw, err := en.Store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	e, err := lift.ParseEntry(raw)
	if err != nil {
		return "", err
	}
	usage.Rewrite(e, rangeID, oldValue, dispositionValue(action, newValue))
	after, err := lift.SerializeEntry(e)
	if err != nil {
		return "", err
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(raw), string(after), false)
	return dmp.DiffPrettyText(dmp.DiffCleanupSemantic(diffs)), nil
}

type entryResult struct {
	id     string
	fields int
	err    error
}

// execute dispatches one rewrite job per distinct entry id as the scan
// streams them. In strict mode the first failure stops dispatch; a canceled
// context does the same. Entries scanned but never dispatched, and jobs
// still queued when the stop lands, are reported as aborted — every entry
// the scan counted ends up in exactly one of Succeeded, Failed, AbortedIDs.
func (en *Engine) execute(ctx context.Context, cur *usage.Cursor, rangeID, oldValue string, action Action, newValue string, report *Report) error {
	workers := en.Workers
	if workers <= 0 {
		workers = 1
	}
	factory := en.PoolFactory
	if factory == nil {
		factory = func(w, q int) Pool { return NewWorkerPool(w, q) }
	}
	pool := factory(workers, workers*2)
	pool.Start(ctx)

	var (
		mu      sync.Mutex
		results []entryResult
		aborted []string
		failed  bool
	)

	stopped := false
	last := ""
	for cur.Next() {
		u := cur.Usage()
		if u.EntryID == last {
			continue
		}
		last = u.EntryID
		id := u.EntryID
		report.EntriesAffected++

		if stopped {
			report.AbortedIDs = append(report.AbortedIDs, id)
			continue
		}
		mu.Lock()
		abort := en.Strict && failed
		mu.Unlock()
		if abort || ctx.Err() != nil {
			stopped = true
			report.AbortedIDs = append(report.AbortedIDs, id)
			continue
		}

		job := func(ctx context.Context) error {
			mu.Lock()
			skip := ctx.Err() != nil || (en.Strict && failed)
			if skip {
				aborted = append(aborted, id)
				mu.Unlock()
				return nil
			}
			mu.Unlock()
			// A write that starts completes, even if cancellation lands
			// while it is in flight.
			fields, err := en.migrateOne(context.WithoutCancel(ctx), id, rangeID, oldValue, action, newValue)
			mu.Lock()
			results = append(results, entryResult{id: id, fields: fields, err: err})
			if err != nil {
				failed = true
			}
			mu.Unlock()
			return err
		}
		if err := pool.SubmitCtx(ctx, job); err != nil {
			// Cancellation or pool shutdown: stop dispatching, the
			// entry was never attempted.
			stopped = true
			report.AbortedIDs = append(report.AbortedIDs, id)
		}
	}
	scanErr := cur.Err()
	pool.Close()

	// Workers are done; no lock needed past this point.
	report.AbortedIDs = append(report.AbortedIDs, aborted...)
	sort.Strings(report.AbortedIDs)
	sort.Slice(results, func(i, j int) bool { return results[i].id < results[j].id })
	for _, r := range results {
		if r.err != nil {
			en.Logger.Warn().Str("entry", r.id).Err(r.err).Msg("entry migration failed")
			report.Failed = append(report.Failed, EntryError{EntryID: r.id, Err: r.err})
			continue
		}
		report.Succeeded = append(report.Succeeded, r.id)
		report.FieldsUpdated += r.fields
	}
	return scanErr
}

// dispositionValue maps an action to the Rewrite argument: nil removes,
// non-nil replaces.
func dispositionValue(action Action, newValue string) *string {
	if action == Remove {
		return nil
	}
	return &newValue
}

// migrateOne is the per-entry unit of work: re-parse into the model, mutate,
// fully re-serialize, write back. Never a raw text substring edit. A zero
// rewrite count means someone already resolved this entry; that is a no-op
// success, which is what makes re-running a completed migration idempotent.
func (en *Engine) migrateOne(ctx context.Context, id, rangeID, oldValue string, action Action, newValue string) (int, error) {
	raw, err := en.Store.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	e, err := lift.ParseEntry(raw)
	if err != nil {
		return 0, fmt.Errorf("entry %s: %w", id, err)
	}
	fields := usage.Rewrite(e, rangeID, oldValue, dispositionValue(action, newValue))
	if fields == 0 {
		return 0, nil
	}
	e.Touch(time.Now())
	out, err := lift.SerializeEntry(e)
	if err != nil {
		return 0, fmt.Errorf("entry %s: %w", id, err)
	}
	if err := en.Store.Replace(ctx, id, out); err != nil {
		return 0, err
	}
	return fields, nil
}

// DeleteElement removes a range element only after confirming no entry still
// references it; force overrides the check. The registry stays untouched
// when the guard rejects.
func (en *Engine) DeleteElement(ctx context.Context, reg *ranges.Registry, rangeID, elementID string, force bool) error {
	if !force {
		entries, _, err := usage.NewAnalyzer(en.Store).Count(ctx, rangeID, elementID)
		if err != nil {
			return err
		}
		if entries > 0 {
			return fmt.Errorf("delete %s/%s: %d entries still reference it: %w", rangeID, elementID, entries, ErrLiveUsages)
		}
	}
	return reg.DeleteElement(rangeID, elementID)
}

// DeleteRange removes an entire range under the same guard; any usage of any
// of its values blocks the deletion.
func (en *Engine) DeleteRange(ctx context.Context, reg *ranges.Registry, rangeID string, force bool) error {
	if !force {
		entries, _, err := usage.NewAnalyzer(en.Store).Count(ctx, rangeID, "")
		if err != nil {
			return err
		}
		if entries > 0 {
			return fmt.Errorf("delete range %s: %d entries still reference it: %w", rangeID, entries, ErrLiveUsages)
		}
	}
	return reg.DeleteRange(rangeID)
}
