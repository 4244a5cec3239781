package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/actions"
	"github.com/roach88/grove/internal/remote"
	"github.com/roach88/grove/internal/syncer"
	"github.com/roach88/grove/internal/testutil"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	scenario, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return scenario
}

func requirePass(t *testing.T, result *Result) {
	t.Helper()
	require.True(t, result.Pass, "scenario failed:\n%s", strings.Join(result.Errors, "\n"))
}

func TestRun_TestdataScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			scenario, err := LoadScenario(f)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			requirePass(t, result)
			assert.Len(t, result.Trace, len(scenario.Steps))
			assert.Len(t, result.Devices, len(scenario.Devices))
		})
	}
}

func TestRun_SingleDevice(t *testing.T) {
	scenario := mustParse(t, `
name: single
description: plant and water on one device
devices: [a]
steps:
  - {device: a, do: plant, args: {title: basil, cost: 1.5, as: basil}, expect: ok}
  - {device: a, do: water, args: {entity: basil, note: morning}, expect: ok}
assertions:
  - {type: soil, device: a, available: 8.55, capacity: 10}
  - {type: entity, device: a, ref: basil, state: active, watered: 1}
  - {type: pending, device: a, count: 0}
  - {type: remote_rows, count: 2}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	requirePass(t, result)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, TraceEvent{
		Seq: 1, Device: "a", Step: StepPlant, Outcome: "ok",
		EventType: "entity_created", Pending: 0, RemoteRows: 1,
	}, result.Trace[0])
	assert.Equal(t, "entity_progressed", result.Trace[1].EventType)

	sum := result.Devices["a"]
	assert.Equal(t, 2, sum.Events)
	assert.Equal(t, 1, sum.Active)
	assert.NotEmpty(t, sum.Digest)
}

func TestRun_LeafLabels(t *testing.T) {
	scenario := mustParse(t, `
name: leaves
description: entities filed under a leaf
devices: [a]
steps:
  - {device: a, do: plant, args: {title: beds, cost: 1, as: beds}, expect: ok}
  - {device: a, do: leaf, args: {parent: beds, name: north bed, as: north}, expect: ok}
  - {device: a, do: plant, args: {title: chard, cost: 1, leaf: north, as: chard}, expect: ok}
  - {device: a, do: plant, args: {title: leeks, cost: 1, leaf: south}, expect: unknown_leaf}
  - {device: a, do: leaf, args: {parent: beds, name: "   "}, expect: empty_name}
assertions:
  - {type: entity, device: a, ref: chard, state: active}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	requirePass(t, result)
	assert.Equal(t, "child_entity_created", result.Trace[1].EventType)
	assert.Empty(t, result.Trace[3].EventType)
}

func TestRun_ExpectMismatch(t *testing.T) {
	scenario := mustParse(t, `
name: mismatch
description: a step does not produce the expected outcome
devices: [a]
steps:
  - {device: a, do: plant, args: {title: beans, cost: 1}, expect: no_water}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 1 (a plant): expected no_water, got ok")
}

func TestRun_AssertionFailure(t *testing.T) {
	scenario := mustParse(t, `
name: wrong_count
description: an assertion that does not hold
devices: [a]
steps:
  - {device: a, do: offline}
  - {device: a, do: reflect, args: {text: quiet day}}
assertions:
  - {type: pending, device: a, count: 0}
  - {type: reflections, device: a, count: 1}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "assertion 0")
	assert.Contains(t, result.Errors[0], "a pending = 0")
	assert.Equal(t, "network", result.Trace[1].Outcome)
}

func TestRun_MalformedStep(t *testing.T) {
	scenario := mustParse(t, `
name: malformed
description: advance without a duration
devices: [a]
steps:
  - {device: a, do: advance}
`)
	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 (a advance)")
	assert.Contains(t, err.Error(), "by is required")
}

func TestRun_EraseClearsDevice(t *testing.T) {
	scenario := mustParse(t, `
name: erase
description: erase drops local events but not remote ones
devices: [a, b]
steps:
  - {device: a, do: plant, args: {title: figs, cost: 2}, expect: ok}
  - {device: a, do: erase, expect: ok}
  - {device: b, do: full_sync, expect: ok}
assertions:
  - {type: soil, device: a, available: 10}
  - {type: soil, device: b, available: 8}
  - {type: remote_rows, count: 1}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	requirePass(t, result)
	assert.Equal(t, 0, result.Devices["a"].Events)
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("water x: %w", actions.ErrNoWater), "no_water"},
		{fmt.Errorf("plant: %w", actions.ErrInsufficientSoil), "insufficient_soil"},
		{actions.ErrInvalidResult, "invalid_result"},
		{syncer.Classify("push", remote.ErrUnavailable), "network"},
		{syncer.Classify("push", remote.ErrDuplicateKey), "duplicate_key"},
		{syncer.Classify("push", context.DeadlineExceeded), "timeout"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeOf(tt.err))
		})
	}
}

func TestLink_Offline(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	shared := testutil.NewMemoryRemote(clk.Now)
	l := &link{Store: shared}

	row := remote.Row{ClientID: "c1", Type: "reflection_logged", Payload: []byte(`{}`)}

	l.setOffline(true)
	assert.ErrorIs(t, l.Insert(ctx, UserID, row), remote.ErrUnavailable)
	_, err := l.FetchSince(ctx, UserID, time.Time{})
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	_, err = l.Subscribe(ctx, UserID)
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	assert.Empty(t, shared.Rows(UserID))

	l.setOffline(false)
	require.NoError(t, l.Insert(ctx, UserID, row))
	rows, err := l.FetchSince(ctx, UserID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSequence(t *testing.T) {
	s := &sequence{prefix: "a-e"}
	assert.Equal(t, "a-e1", s.Generate())
	assert.Equal(t, "a-e2", s.Generate())
}

func TestStepArgs(t *testing.T) {
	args := stepArgs{"title": "kale", "cost": 2, "ratio": 0.5, "result": 4.0, "by": "90s"}

	assert.Equal(t, "kale", args.str("title"))
	assert.Empty(t, args.str("cost"))
	assert.Equal(t, 2.0, args.num("cost"))
	assert.Equal(t, 0.5, args.num("ratio"))
	assert.Equal(t, 4, args.whole("result"))
	assert.Equal(t, 0, args.whole("missing"))

	d, err := args.duration("by")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = args.duration("missing")
	assert.Error(t, err)
}
