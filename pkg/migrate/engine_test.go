package migrate

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkalland/liftcurator/pkg/lift"
	"github.com/mkalland/liftcurator/pkg/ranges"
	"github.com/mkalland/liftcurator/pkg/store"
	"github.com/mkalland/liftcurator/pkg/usage"
)

func setupStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, store.InitStore(db))
	t.Cleanup(func() { db.Close() })
	return store.NewSQLiteStore(db)
}

func putEntry(t *testing.T, s store.Store, e *lift.Entry) {
	t.Helper()
	doc, err := lift.SerializeEntry(e)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), e.ID, doc))
}

func entryWithTrait(id, name, value string) *lift.Entry {
	e := lift.NewEntry(id)
	e.LexicalUnit.Set("en", "headword "+id)
	e.Traits = append(e.Traits, lift.Trait{Name: name, Value: value})
	return e
}

func scanIDs(t *testing.T, s store.Store, rangeID, elementID string) []string {
	t.Helper()
	cur, err := usage.NewAnalyzer(s).Scan(context.Background(), rangeID, elementID)
	require.NoError(t, err)
	defer cur.Close()
	var ids []string
	last := ""
	for cur.Next() {
		if cur.Usage().EntryID != last {
			last = cur.Usage().EntryID
			ids = append(ids, last)
		}
	}
	require.NoError(t, cur.Err())
	return ids
}

// The end-to-end replace scenario: two entries carrying usage-type=archaic,
// dry run counts without touching them, execute rewrites both, after which
// the old value has no usages and both entries sit under the new value.
func TestReplaceScenario(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	putEntry(t, s, entryWithTrait("E1", "usage-type", "archaic"))
	putEntry(t, s, entryWithTrait("E2", "usage-type", "archaic"))

	assert.Equal(t, []string{"E1", "E2"}, scanIDs(t, s, "usage-type", "archaic"))

	en := NewEngine(s)

	// Dry run: correct count, zero mutation.
	report, err := en.Run(ctx, NewPlan("usage-type", "archaic", ReplaceWith, "dated"), DryRun)
	require.NoError(t, err)
	assert.Equal(t, Completed, report.State)
	assert.Equal(t, 2, report.EntriesAffected)
	assert.Equal(t, 0, report.FieldsUpdated)
	assert.Equal(t, []string{"E1", "E2"}, scanIDs(t, s, "usage-type", "archaic"))

	// Execute for real.
	p := NewPlan("usage-type", "archaic", ReplaceWith, "dated")
	report, err = en.Run(ctx, p, Execute)
	require.NoError(t, err)
	assert.Equal(t, Completed, report.State)
	assert.Equal(t, Completed, p.State())
	assert.Equal(t, 2, report.EntriesAffected)
	assert.Equal(t, 2, report.FieldsUpdated)
	assert.Equal(t, []string{"E1", "E2"}, report.Succeeded)

	assert.Empty(t, scanIDs(t, s, "usage-type", "archaic"))
	assert.Subset(t, scanIDs(t, s, "usage-type", "dated"), []string{"E1", "E2"})

	// Idempotence: re-running the same parameters finds nothing.
	report, err = en.Run(ctx, NewPlan("usage-type", "archaic", ReplaceWith, "dated"), Execute)
	require.NoError(t, err)
	assert.Equal(t, Completed, report.State)
	assert.Equal(t, 0, report.EntriesAffected)
}

func TestRemoveScenario(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	putEntry(t, s, entryWithTrait("E1", "usage-type", "archaic"))
	putEntry(t, s, entryWithTrait("E2", "usage-type", "dated"))

	en := NewEngine(s)
	report, err := en.Run(ctx, NewPlan("usage-type", "archaic", Remove, ""), Execute)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EntriesAffected)
	assert.Equal(t, 1, report.FieldsUpdated)

	assert.Empty(t, scanIDs(t, s, "usage-type", "archaic"))
	assert.Equal(t, []string{"E2"}, scanIDs(t, s, "usage-type", ""), "other values untouched")

	// Removing from an already-clean collection is a no-op.
	report, err = en.Run(ctx, NewPlan("usage-type", "archaic", Remove, ""), Execute)
	require.NoError(t, err)
	assert.Equal(t, 0, report.EntriesAffected)
}

// Migration rewrites the whole document through the codec, so untouched
// structure (guid, senses, other traits) survives byte-level edits would risk.
func TestMigrationPreservesUnrelatedContent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	e := entryWithTrait("E1", "usage-type", "archaic")
	e.Traits = append(e.Traits, lift.Trait{Name: "morph-type", Value: "stem"})
	sense := lift.NewSense()
	sense.Glosses = lift.NewMultitext()
	sense.Glosses.Set("fr", "chien")
	e.Senses = append(e.Senses, sense)
	guid := e.GUID
	putEntry(t, s, e)

	en := NewEngine(s)
	_, err := en.Run(ctx, NewPlan("usage-type", "archaic", ReplaceWith, "dated"), Execute)
	require.NoError(t, err)

	raw, err := s.GetByID(ctx, "E1")
	require.NoError(t, err)
	got, err := lift.ParseEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, guid, got.GUID, "guid is immutable across edits")
	assert.NotEmpty(t, got.DateModified)
	v, _ := lift.TraitValue(got.Traits, "morph-type")
	assert.Equal(t, "stem", v)
	fr, _ := got.Senses[0].Glosses.Get("fr")
	assert.Equal(t, "chien", fr)
}

func TestPlanFrozenOnceRunning(t *testing.T) {
	s := setupStore(t)
	p := NewPlan("usage-type", "archaic", Remove, "")
	require.NoError(t, p.SetScope("usage-type", "obsolete"))
	require.NoError(t, p.SetAction(ReplaceWith, "dated"))

	_, err := NewEngine(s).Run(context.Background(), p, Execute)
	require.NoError(t, err)

	assert.ErrorIs(t, p.SetScope("x", "y"), ErrPlanFrozen)
	assert.ErrorIs(t, p.SetAction(Remove, ""), ErrPlanFrozen)

	// A finished plan cannot be run again.
	_, err = NewEngine(s).Run(context.Background(), p, Execute)
	require.Error(t, err)
}

// brokenReplaceStore fails Replace for chosen ids.
type brokenReplaceStore struct {
	store.Store
	failIDs map[string]bool
}

func (b *brokenReplaceStore) Replace(ctx context.Context, id string, doc []byte) error {
	if b.failIDs[id] {
		return lift.ErrStoreUnavailable
	}
	return b.Store.Replace(ctx, id, doc)
}

func TestBestEffortPartialFailure(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	putEntry(t, s, entryWithTrait("E1", "usage-type", "archaic"))
	putEntry(t, s, entryWithTrait("E2", "usage-type", "archaic"))
	putEntry(t, s, entryWithTrait("E3", "usage-type", "archaic"))

	en := NewEngine(&brokenReplaceStore{Store: s, failIDs: map[string]bool{"E2": true}})
	p := NewPlan("usage-type", "archaic", ReplaceWith, "dated")
	report, err := en.Run(ctx, p, Execute)
	require.NoError(t, err, "per-entry failures live in the report, not the run error")

	assert.Equal(t, PartiallyFailed, report.State)
	assert.Equal(t, PartiallyFailed, p.State())
	assert.Equal(t, []string{"E1", "E3"}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "E2", report.Failed[0].EntryID)

	pf := report.PartialFailure()
	require.NotNil(t, pf)
	assert.Contains(t, pf.Error(), "2 succeeded, 1 failed")
	assert.Contains(t, pf.Error(), "E2")

	// The failed entry is untouched and a re-run picks up only it.
	assert.Equal(t, []string{"E2"}, scanIDs(t, s, "usage-type", "archaic"))
}

func TestStrictModeAbortsOnFirstFailure(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	for _, id := range []string{"E1", "E2", "E3", "E4", "E5"} {
		putEntry(t, s, entryWithTrait(id, "usage-type", "archaic"))
	}

	en := NewEngine(&brokenReplaceStore{Store: s, failIDs: map[string]bool{"E1": true}})
	en.Strict = true
	en.Workers = 1
	report, err := en.Run(ctx, NewPlan("usage-type", "archaic", ReplaceWith, "dated"), Execute)
	require.NoError(t, err)

	assert.Equal(t, Aborted, report.State)
	require.Len(t, report.Failed, 1)
	assert.NotEmpty(t, report.AbortedIDs, "entries after the failure are never dispatched")
	// Nothing is rolled back: whatever committed before the abort stays.
	total := len(report.Succeeded) + len(report.Failed) + len(report.AbortedIDs)
	assert.Equal(t, 5, total)
}

func TestCancellationMarksUndispatchedAborted(t *testing.T) {
	s := setupStore(t)
	putEntry(t, s, entryWithTrait("E1", "usage-type", "archaic"))
	putEntry(t, s, entryWithTrait("E2", "usage-type", "archaic"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	en := NewEngine(s)
	p := NewPlan("usage-type", "archaic", ReplaceWith, "dated")
	report, err := en.Run(ctx, p, Execute)
	// Depending on where the canceled context is first observed the run
	// either fails outright or finishes with an aborted report; both end
	// in the Aborted state with nothing committed.
	assert.Equal(t, Aborted, p.State())
	if err == nil {
		assert.Equal(t, Aborted, report.State)
		assert.Empty(t, report.Succeeded)
	}
	assert.Equal(t, []string{"E1", "E2"}, scanIDs(t, s, "usage-type", "archaic"), "nothing was rewritten")
}

// cancelingReplaceStore cancels the run's context from inside the first
// Replace, simulating a shutdown landing mid-batch.
type cancelingReplaceStore struct {
	store.Store
	cancel context.CancelFunc
}

func (c *cancelingReplaceStore) Replace(ctx context.Context, id string, doc []byte) error {
	c.cancel()
	return c.Store.Replace(ctx, id, doc)
}

// Cancellation mid-batch must not lose entries: everything the scan counted
// ends up in exactly one of Succeeded, Failed, or AbortedIDs, and a write
// already in flight completes.
func TestCancellationAccountsEveryEntry(t *testing.T) {
	s := setupStore(t)
	for _, id := range []string{"E1", "E2", "E3", "E4", "E5"} {
		putEntry(t, s, entryWithTrait(id, "usage-type", "archaic"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	en := NewEngine(&cancelingReplaceStore{Store: s, cancel: cancel})
	en.Workers = 1
	p := NewPlan("usage-type", "archaic", ReplaceWith, "dated")
	report, err := en.Run(ctx, p, Execute)
	// The scan may observe the cancellation and end the run with an error;
	// either way the report accounts for every counted entry.
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, Aborted, report.State)
	assert.Equal(t, Aborted, p.State())
	total := len(report.Succeeded) + len(report.Failed) + len(report.AbortedIDs)
	assert.Equal(t, report.EntriesAffected, total, "no entry may vanish from the report")
	assert.Contains(t, report.Succeeded, "E1", "the in-flight write completes")
	assert.NotEmpty(t, report.AbortedIDs)

	// E1's rewrite was committed despite the cancellation.
	assert.NotContains(t, scanIDs(t, s, "usage-type", "archaic"), "E1")
}

func TestWorkerPoolCompletesQueuedJobsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewWorkerPool(1, 4)
	p.Start(ctx)

	gate := make(chan struct{})
	ran := make(chan int, 4)
	require.NoError(t, p.SubmitCtx(ctx, func(ctx context.Context) error {
		<-gate
		ran <- 0
		return nil
	}))
	// Queue three more behind the blocked worker, then cancel.
	for i := 1; i < 4; i++ {
		i := i
		require.NoError(t, p.SubmitCtx(ctx, func(ctx context.Context) error {
			ran <- i
			return nil
		}))
	}
	cancel()
	close(gate)
	p.Close()
	close(ran)

	n := 0
	for range ran {
		n++
	}
	assert.Equal(t, 4, n, "every accepted job runs, even those queued at cancellation")
}

func TestDryRunDiffPreview(t *testing.T) {
	s := setupStore(t)
	putEntry(t, s, entryWithTrait("E1", "usage-type", "archaic"))

	en := NewEngine(s)
	en.Diff = true
	report, err := en.Run(context.Background(), NewPlan("usage-type", "archaic", ReplaceWith, "dated"), DryRun)
	require.NoError(t, err)
	require.Contains(t, report.Diffs, "E1")
	assert.Contains(t, report.Diffs["E1"], "dated")
}

// failingPool rejects every submission; the engine must report the entries
// as aborted rather than hang or panic.
type failingPool struct{}

func (f *failingPool) Start(ctx context.Context) {}
func (f *failingPool) SubmitCtx(ctx context.Context, job Job) error {
	return ErrPoolClosed
}
func (f *failingPool) Close() {}

func TestPoolFailureAborts(t *testing.T) {
	s := setupStore(t)
	putEntry(t, s, entryWithTrait("E1", "usage-type", "archaic"))

	en := NewEngine(s)
	en.PoolFactory = func(workers, queue int) Pool { return &failingPool{} }
	report, err := en.Run(context.Background(), NewPlan("usage-type", "archaic", Remove, ""), Execute)
	require.NoError(t, err)
	assert.Equal(t, Aborted, report.State)
	assert.Equal(t, []string{"E1"}, report.AbortedIDs)
}

func TestDeleteElementGuardedByUsages(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	putEntry(t, s, entryWithTrait("E1", "usage-type", "archaic"))

	reg := ranges.NewRegistry()
	_, err := reg.CreateRange("usage-type", nil)
	require.NoError(t, err)
	_, err = reg.CreateElement("usage-type", "archaic", "", nil)
	require.NoError(t, err)
	genBefore := reg.Generation()
	countBefore, err := s.Count(ctx)
	require.NoError(t, err)
	docBefore, err := s.GetByID(ctx, "E1")
	require.NoError(t, err)

	en := NewEngine(s)
	err = en.DeleteElement(ctx, reg, "usage-type", "archaic", false)
	require.ErrorIs(t, err, ErrLiveUsages)

	// Neither the registry nor the store moved.
	assert.Equal(t, genBefore, reg.Generation())
	assert.NotNil(t, reg.Range("usage-type").Element("archaic"))
	countAfter, _ := s.Count(ctx)
	assert.Equal(t, countBefore, countAfter)
	docAfter, _ := s.GetByID(ctx, "E1")
	assert.Equal(t, string(docBefore), string(docAfter))

	// Resolve the usages, then deletion goes through.
	_, err = en.Run(ctx, NewPlan("usage-type", "archaic", Remove, ""), Execute)
	require.NoError(t, err)
	require.NoError(t, en.DeleteElement(ctx, reg, "usage-type", "archaic", false))
	assert.Nil(t, reg.Range("usage-type").Element("archaic"))
}

func TestDeleteRangeGuardAndForce(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	putEntry(t, s, entryWithTrait("E1", "usage-type", "dated"))

	reg := ranges.NewRegistry()
	_, err := reg.CreateRange("usage-type", nil)
	require.NoError(t, err)

	en := NewEngine(s)
	err = en.DeleteRange(ctx, reg, "usage-type", false)
	require.ErrorIs(t, err, ErrLiveUsages)
	assert.NotNil(t, reg.Range("usage-type"))

	// An explicit force overrides the guard.
	require.NoError(t, en.DeleteRange(ctx, reg, "usage-type", true))
	assert.Nil(t, reg.Range("usage-type"))
}

func TestWorkerPoolRunsJobs(t *testing.T) {
	ctx := context.Background()
	p := NewWorkerPool(3, 6)
	p.Start(ctx)

	results := make(chan int, 10)
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, p.SubmitCtx(ctx, func(ctx context.Context) error {
			results <- i
			return nil
		}))
	}
	p.Close()
	close(results)

	n := 0
	for range results {
		n++
	}
	assert.Equal(t, 10, n)

	err := p.SubmitCtx(ctx, func(ctx context.Context) error { return nil })
	assert.True(t, errors.Is(err, ErrPoolClosed))
}

func TestWorkerPoolSubmitCtxCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewWorkerPool(1, 1)
	// Fill the queue so the next submit must block, then expect the
	// canceled context to release it.
	require.NoError(t, p.SubmitCtx(context.Background(), func(ctx context.Context) error { return nil }))
	err := p.SubmitCtx(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	p.Start(context.Background())
	p.Close()
}
