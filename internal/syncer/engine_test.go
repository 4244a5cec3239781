package syncer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/auth"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/eventlog"
	"github.com/roach88/grove/internal/pending"
	"github.com/roach88/grove/internal/remote"
	"github.com/roach88/grove/internal/state"
	"github.com/roach88/grove/internal/status"
	"github.com/roach88/grove/internal/store"
	"github.com/roach88/grove/internal/testutil"
)

var (
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
	epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

type device struct {
	e   *Engine
	log *eventlog.Log
	kv  *store.Memory
}

func newDevice(t *testing.T, rem remote.Store, clk *testutil.FakeClock, opts ...Option) *device {
	t.Helper()
	ctx := context.Background()
	kv := store.NewMemory()

	log, err := eventlog.Open(ctx, kv, eventlog.WithLogger(quiet), eventlog.WithPersistDelay(0))
	require.NoError(t, err)
	tracker, err := pending.Open(ctx, kv, pending.WithLogger(quiet), pending.WithPersistDelay(0))
	require.NoError(t, err)

	base := []Option{
		WithIdentity(auth.Static("user-1")),
		WithClock(clk),
		WithLogger(quiet),
		WithTimeout(50 * time.Millisecond),
		WithBackoff(BackoffConfig{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 10}),
	}
	if rem != nil {
		base = append(base, WithRemote(rem))
	}
	e := New(log, tracker, kv, append(base, opts...)...)
	require.NoError(t, e.Load(ctx))
	return &device{e: e, log: log, kv: kv}
}

func (d *device) state() *state.State {
	return state.Derive(d.log.All(), state.DefaultRules())
}

func planted(id string, cost float64) event.Event {
	return event.Event{Type: event.TypeEntityCreated, EntityID: id, Title: id, Cost: cost}
}

func TestPush_Online(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)

	ev, err := d.e.Push(ctx, planted("a", 5))
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ClientID)
	assert.Equal(t, event.FormatTime(epoch), ev.Timestamp)
	assert.Zero(t, d.e.Pending().Len())
	assert.Len(t, rem.Rows("user-1"), 1)
	assert.InDelta(t, 5, d.state().Soil().Available, 1e-9)
}

func TestPush_NotConfiguredStaysPending(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	d := newDevice(t, nil, clk)

	ev, err := d.e.Push(context.Background(), planted("a", 5))

	require.NoError(t, err)
	assert.True(t, d.e.Pending().Has(ev.ClientID))
	assert.Equal(t, 1, d.log.Len())

	_, err = d.e.Sync(context.Background())
	assert.True(t, IsNotConfigured(err))
}

func TestPush_NotAuthenticated(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk, WithIdentity(auth.Static("")))

	ev, err := d.e.Push(context.Background(), planted("a", 5))

	assert.True(t, IsNotAuthenticated(err))
	assert.True(t, d.e.Pending().Has(ev.ClientID), "optimistic append is kept")
	assert.Equal(t, 1, d.log.Len())
	assert.Zero(t, rem.Calls(testutil.OpInsert))
}

func TestPush_InvalidEventRejected(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	d := newDevice(t, testutil.NewMemoryRemote(clk.Now), clk)

	_, err := d.e.Push(context.Background(), event.Event{Type: event.TypeEntityCompleted, EntityID: "a"})

	assert.True(t, IsCode(err, CodeValidation))
	assert.Zero(t, d.log.Len())
	assert.Zero(t, d.e.Pending().Len())
}

func TestPush_TimeoutThenRetryAfterBackoff(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)

	rem.SetHang(true)
	ev, err := d.e.Push(ctx, planted("a", 5))
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeTimeout))
	assert.Equal(t, 1, d.e.Pending().Len())

	// Still unreachable: the pass fails and arms the backoff gate.
	res, err := d.e.RetryPending(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, res.Failed)

	rem.SetHang(false)
	res, err = d.e.RetryPending(ctx)
	require.NoError(t, err)
	assert.True(t, res.Gated)
	assert.Equal(t, 1, d.e.Pending().Len())

	clk.Advance(31 * time.Second)
	res, err = d.e.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Zero(t, d.e.Pending().Len())

	s := d.state()
	assert.Len(t, s.Active(), 1)
	assert.Len(t, rem.Rows("user-1"), 1)
	_, ok := d.log.Lookup(ev.ClientID)
	assert.True(t, ok)
}

func TestPush_IdempotentAfterLostResponse(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)

	rem.LoseNextInsertResponse()
	ev, err := d.e.Push(ctx, planted("a", 5))
	require.Error(t, err)
	require.True(t, d.e.Pending().Has(ev.ClientID))

	before, err := d.state().Digest()
	require.NoError(t, err)

	// The retried request lands on a row that already exists.
	again, err := d.e.Push(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ev, again)
	assert.False(t, d.e.Pending().Has(ev.ClientID))

	after, err := d.state().Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, d.log.Len())
	assert.Len(t, rem.Rows("user-1"), 1)

	// Once confirmed, pushing again does not touch the remote.
	calls := rem.Calls(testutil.OpInsert)
	_, err = d.e.Push(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, calls, rem.Calls(testutil.OpInsert))
}

func TestRetry_ConvergesAndStopsRetrying(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)

	rem.SetOffline(true)
	for _, id := range []string{"a", "b", "c"} {
		_, err := d.e.Push(ctx, planted(id, 1))
		require.Error(t, err)
	}
	require.Equal(t, 3, d.e.Pending().Len())
	rem.SetOffline(false)

	// One of the three already reached the remote by another route.
	ids := d.e.Pending().IDs()
	ev, _ := d.log.Lookup(ids[0])
	row, err := remote.RowFromEvent("user-1", ev)
	require.NoError(t, err)
	require.NoError(t, rem.Insert(ctx, "user-1", row))

	res, err := d.e.RetryNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Confirmed)
	assert.Zero(t, d.e.Pending().Len())

	calls := rem.Calls(testutil.OpInsert)
	res, err = d.e.RetryNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Equal(t, calls, rem.Calls(testutil.OpInsert))
}

func TestRetry_DropsStalePendingID(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)
	require.True(t, d.e.Pending().Add("ghost"))

	res, err := d.e.RetryNow(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Zero(t, d.e.Pending().Len())
	assert.Zero(t, rem.Calls(testutil.OpInsert))
}

func TestRetry_PartialSuccessResetsBackoff(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)

	rem.SetOffline(true)
	_, _ = d.e.Push(ctx, planted("a", 1))
	_, _ = d.e.Push(ctx, planted("b", 1))
	_, err := d.e.RetryNow(ctx)
	require.Error(t, err)
	attempts, _ := d.e.gate.State()
	require.Equal(t, 1, attempts)
	rem.SetOffline(false)

	rem.FailNext(testutil.OpInsert, remote.ErrUnavailable)
	res, err := d.e.RetryNow(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, 1, res.Failed)

	attempts, next := d.e.gate.State()
	assert.Zero(t, attempts)
	assert.True(t, next.IsZero())
}

func TestSync_FirstSyncIsFullThenIncremental(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	a := newDevice(t, rem, clk)
	b := newDevice(t, rem, clk)

	_, err := a.e.Push(ctx, planted("a", 2))
	require.NoError(t, err)

	res, err := b.e.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 1, b.log.Len())

	clk.Advance(time.Minute)
	_, err = a.e.Push(ctx, planted("b", 2))
	require.NoError(t, err)

	res, err = b.e.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, res.Mode)
	assert.Equal(t, 1, res.Pull.Fetched)
	assert.Equal(t, 1, res.Pull.Applied)
	assert.Equal(t, 2, b.log.Len())

	cursor, err := b.kv.Get(ctx, store.KeyLastSyncCursor)
	require.NoError(t, err)
	rows := rem.Rows("user-1")
	assert.Equal(t, rows[len(rows)-1].CreatedAt.Format(time.RFC3339Nano), string(cursor))
}

func TestSync_TwoOfflineDevicesConverge(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	a := newDevice(t, rem, clk)
	b := newDevice(t, rem, clk)
	_, err := a.e.Sync(ctx)
	require.NoError(t, err)
	_, err = b.e.Sync(ctx)
	require.NoError(t, err)

	rem.SetOffline(true)
	_, err = a.e.Push(ctx, planted("from-a", 5))
	require.Error(t, err)
	_, err = b.e.Push(ctx, planted("from-b", 5))
	require.Error(t, err)
	rem.SetOffline(false)

	clk.Advance(time.Minute)
	_, err = a.e.Sync(ctx)
	require.NoError(t, err)
	_, err = b.e.Sync(ctx)
	require.NoError(t, err)
	_, err = a.e.Sync(ctx)
	require.NoError(t, err)

	for _, d := range []*device{a, b} {
		s := d.state()
		assert.Len(t, s.Active(), 2)
		assert.InDelta(t, 0, s.Soil().Available, 1e-9)
		assert.Zero(t, d.e.Pending().Len())
	}
	da, _ := a.state().Digest()
	db, _ := b.state().Digest()
	assert.Equal(t, da, db)
}

func TestSync_FullFetchFailureLeavesLogUntouched(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)
	_, err := d.e.Push(ctx, planted("a", 1))
	require.NoError(t, err)
	_, err = d.e.Push(ctx, planted("b", 1))
	require.NoError(t, err)
	before := d.log.All()

	rem.FailNext(testutil.OpFetch, remote.ErrUnavailable)
	res, err := d.e.Sync(ctx)

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeNetwork))
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, before, d.log.All())
	_, err = d.kv.Get(ctx, store.KeyCacheVersion)
	assert.ErrorIs(t, err, store.ErrNotFound, "version only written after a successful replace")
}

func TestSync_FullFetchPreservesPendingEvents(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	other := newDevice(t, rem, clk)
	d := newDevice(t, rem, clk)

	_, err := other.e.Push(ctx, planted("remote", 1))
	require.NoError(t, err)

	rem.SetOffline(true)
	local, err := d.e.Push(ctx, planted("local", 1))
	require.Error(t, err)
	rem.SetOffline(false)

	// The retry pass fails again, so the full fetch must merge the event.
	rem.FailNext(testutil.OpInsert, remote.ErrUnavailable)
	res, err := d.e.Sync(ctx)
	require.Error(t, err, "leftover retry failure is reported")
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 1, res.Pull.Preserved)

	_, ok := d.log.Lookup(local.ClientID)
	assert.True(t, ok)
	assert.Equal(t, 2, d.log.Len())
	assert.True(t, d.e.Pending().Has(local.ClientID))

	clk.Advance(time.Minute)
	_, err = d.e.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, d.e.Pending().Len())
	assert.Len(t, rem.Rows("user-1"), 2)
}

func TestForceFullSync_ObservesRemoteDeletion(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)
	gone, err := d.e.Push(ctx, planted("a", 1))
	require.NoError(t, err)
	_, err = d.e.Push(ctx, planted("b", 1))
	require.NoError(t, err)
	_, err = d.e.Sync(ctx)
	require.NoError(t, err)

	require.True(t, rem.Delete(gone.ClientID))

	res, err := d.e.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, res.Mode)
	assert.Equal(t, 2, d.log.Len())

	res, err = d.e.ForceFullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 1, d.log.Len())
}

func TestSync_LegacyRowsDeduplicatedByFingerprint(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)
	_, err := d.e.Sync(ctx)
	require.NoError(t, err)

	legacy := event.Event{Type: event.TypeReflectionLogged, Timestamp: "2025-12-01T08:00:00Z", Text: "old"}
	require.True(t, d.log.Append(legacy))

	// The same legacy fact arrives twice: once column-only, once re-keyed.
	require.NoError(t, rem.Insert(ctx, "user-1", remote.Row{Type: "reflection_logged", ClientTimestamp: legacy.Timestamp, Payload: []byte(`{"text":"old"}`)}))
	require.NoError(t, rem.Insert(ctx, "user-1", remote.Row{ClientID: "late-id", Payload: []byte(`{"type":"reflection_logged","timestamp":"2025-12-01T08:00:00Z","text":"old"}`)}))

	res, err := d.e.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, res.Mode)
	assert.Equal(t, 2, res.Pull.Fetched)
	assert.Zero(t, res.Pull.Applied)
	assert.Len(t, d.state().Reflections(), 1)
}

func TestSync_InvalidRemoteRowsSkipped(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)
	require.NoError(t, rem.Insert(ctx, "user-1", remote.Row{ClientID: "bad", Payload: []byte(`{"type":"entity_progressed","timestamp":"2026-03-01T09:00:00Z"}`)}))
	require.NoError(t, rem.Insert(ctx, "user-1", remote.Row{ClientID: "worse", Payload: []byte(`{"type":`)}))
	require.NoError(t, rem.Insert(ctx, "user-1", remote.Row{ClientID: "ok", Payload: []byte(`{"type":"reflection_logged","timestamp":"2026-03-01T09:00:00Z","text":"hi"}`)}))

	res, err := d.e.Sync(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Pull.Invalid)
	assert.Equal(t, 1, d.log.Len())
}

func TestSync_ConcurrentCallersShareOnePass(t *testing.T) {
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk, WithTimeout(300*time.Millisecond))
	rem.SetHang(true)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	run := func(i int) {
		defer wg.Done()
		results[i], _ = d.e.Sync(context.Background())
	}

	wg.Add(1)
	go run(0)
	require.Eventually(t, func() bool { return rem.Calls(testutil.OpFetch) == 1 }, time.Second, time.Millisecond)
	wg.Add(1)
	go run(1)
	wg.Wait()

	assert.Equal(t, 1, rem.Calls(testutil.OpFetch))
	assert.True(t, results[0].Shared)
	assert.True(t, results[1].Shared)
}

func TestSync_FailuresTracked(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)
	ind := status.NewIndicator(d.e)

	var phases []Phase
	d.e.Subscribe(func(p Phase, _ error) { phases = append(phases, p) })

	rem.SetOffline(true)
	for i := 0; i < 3; i++ {
		_, err := d.e.Sync(ctx)
		require.Error(t, err)
	}

	report := ind.Report()
	assert.Equal(t, status.Offline, report.Status)
	assert.True(t, report.Warn)
	assert.Equal(t, 3, d.e.Meta().ConsecutiveFailures)
	assert.Equal(t, CodeNetwork, d.e.Meta().LastErrorCode)

	rem.SetOffline(false)
	_, err := d.e.Sync(ctx)
	require.NoError(t, err)

	report = ind.Report()
	assert.Equal(t, status.Synced, report.Status)
	assert.False(t, report.Warn)
	assert.Equal(t, PhaseSuccess, d.e.Phase())
	assert.Equal(t, []Phase{
		PhaseSyncing, PhaseError,
		PhaseSyncing, PhaseError,
		PhaseSyncing, PhaseError,
		PhaseSyncing, PhaseSuccess,
	}, phases)

	// Local writes keep working through all of it.
	rem.SetOffline(true)
	_, err = d.e.Push(ctx, planted("a", 1))
	require.Error(t, err)
	assert.Equal(t, status.PendingUpload, status.Evaluate(d.e.StatusSnapshot()))
}

func TestSync_MetaSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)
	rem.SetOffline(true)
	_, err := d.e.Sync(ctx)
	require.Error(t, err)

	log, err := eventlog.Open(ctx, d.kv, eventlog.WithLogger(quiet))
	require.NoError(t, err)
	tracker, err := pending.Open(ctx, d.kv, pending.WithLogger(quiet))
	require.NoError(t, err)
	restarted := New(log, tracker, d.kv, WithLogger(quiet))
	assert.False(t, restarted.StatusSnapshot().Loaded)
	require.NoError(t, restarted.Load(ctx))

	assert.True(t, restarted.StatusSnapshot().Loaded)
	assert.Equal(t, 1, restarted.Meta().ConsecutiveFailures)
}

func TestErase_ClearsEverything(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)
	_, err := d.e.Push(ctx, planted("a", 1))
	require.NoError(t, err)
	_, err = d.e.Sync(ctx)
	require.NoError(t, err)
	rem.SetOffline(true)
	_, _ = d.e.Push(ctx, planted("b", 1))

	require.NoError(t, d.e.Erase(ctx))

	assert.Zero(t, d.log.Len())
	assert.Zero(t, d.e.Pending().Len())
	for _, key := range []string{store.KeyCacheVersion, store.KeyLastSyncCursor, store.KeySyncMeta} {
		_, err := d.kv.Get(ctx, key)
		assert.ErrorIs(t, err, store.ErrNotFound, key)
	}
	assert.Equal(t, Meta{}, d.e.Meta())
}

func TestStatusSnapshot_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	kv := store.NewMemoryWithQuota(32)
	log, err := eventlog.Open(ctx, kv, eventlog.WithLogger(quiet), eventlog.WithPersistDelay(0))
	require.NoError(t, err)
	tracker, err := pending.Open(ctx, kv, pending.WithLogger(quiet), pending.WithPersistDelay(0))
	require.NoError(t, err)
	e := New(log, tracker, kv, WithClock(clk), WithLogger(quiet))
	require.NoError(t, e.Load(ctx))

	_, err = e.Push(ctx, planted("a", 1))
	require.NoError(t, err, "the write itself is local-first and succeeds in memory")

	assert.True(t, e.StatusSnapshot().QuotaExceeded)
	assert.True(t, status.NewIndicator(e).Report().BackupPrompt)
	assert.True(t, IsQuotaExceeded(e.Flush()))
}

func TestImport_MarksEventsPendingAndUploads(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)
	existing, err := d.e.Push(ctx, planted("old", 1))
	require.NoError(t, err)

	backup := []event.Event{
		existing,
		{Type: event.TypeEntityCreated, Timestamp: "2026-02-01T09:00:00Z", ClientID: "b1", EntityID: "x", Title: "x", Cost: 1},
		{Type: event.TypeReflectionLogged, Timestamp: "2026-02-01T10:00:00Z", Text: "no id"},
		{Type: event.TypeEntityProgressed, Timestamp: "2026-02-01T11:00:00Z"},
	}

	n, err := d.e.Import(ctx, backup)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []string{"b1", existing.ClientID}, d.e.Pending().IDs())

	res, err := d.e.RetryNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Confirmed)
	assert.Len(t, rem.Rows("user-1"), 2)
}

func TestPush_LegacyFingerprintRefused(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(epoch)
	rem := testutil.NewMemoryRemote(clk.Now)
	d := newDevice(t, rem, clk)

	legacy := event.Event{Type: event.TypeReflectionLogged, Timestamp: event.FormatTime(epoch), Text: "old"}
	require.True(t, d.log.Append(legacy))

	_, err := d.e.Push(ctx, event.Event{Type: event.TypeReflectionLogged, Timestamp: legacy.Timestamp, Text: "new"})

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeValidation))
	assert.ErrorIs(t, err, ErrDuplicateEvent)
	assert.Equal(t, 1, d.log.Len())
	assert.Zero(t, d.e.Pending().Len())
	assert.Zero(t, rem.Calls(testutil.OpInsert))
}

// stalledRemote answers its first FetchSince with the rows present when the
// call arrived, after holding it until release is closed.
type stalledRemote struct {
	*testutil.MemoryRemote
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *stalledRemote) FetchSince(ctx context.Context, userID string, since time.Time) ([]remote.Row, error) {
	rows, err := r.MemoryRemote.FetchSince(ctx, userID, since)
	stall := false
	r.once.Do(func() { stall = true })
	if !stall {
		return rows, err
	}
	close(r.entered)
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return rows, err
}

func TestSync_PushDuringFullFetchSurvivesMerge(t *testing.T) {
	tests := []struct {
		name        string
		failInsert  bool
		wantPending int
	}{
		{name: "upload succeeds", wantPending: 0},
		{name: "upload fails", failInsert: true, wantPending: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clk := testutil.NewFakeClock(epoch)
			rem := &stalledRemote{
				MemoryRemote: testutil.NewMemoryRemote(clk.Now),
				entered:      make(chan struct{}),
				release:      make(chan struct{}),
			}
			other := newDevice(t, rem.MemoryRemote, clk)
			_, err := other.e.Push(ctx, planted("remote", 1))
			require.NoError(t, err)

			d := newDevice(t, rem, clk, WithTimeout(5*time.Second))

			type outcome struct {
				res Result
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				res, err := d.e.Sync(ctx)
				done <- outcome{res, err}
			}()

			select {
			case <-rem.entered:
			case <-time.After(2 * time.Second):
				t.Fatal("full fetch never reached the remote")
			}

			if tt.failInsert {
				rem.FailNext(testutil.OpInsert, remote.ErrUnavailable)
			}
			mid, err := d.e.Push(ctx, planted("mid", 1))
			if tt.failInsert {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			close(rem.release)

			var got outcome
			select {
			case got = <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("sync did not finish")
			}
			require.NoError(t, got.err)
			assert.Equal(t, ModeFull, got.res.Mode)

			_, ok := d.log.Lookup(mid.ClientID)
			assert.True(t, ok, "event pushed during the fetch was lost")
			assert.Equal(t, 2, d.log.Len())
			assert.Equal(t, tt.wantPending, d.e.Pending().Len())
			assert.Equal(t, tt.failInsert, d.e.Pending().Has(mid.ClientID))
		})
	}
}
