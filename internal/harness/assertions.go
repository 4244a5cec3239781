package harness

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/grove/internal/state"
)

// floatTolerance absorbs rounding in soil arithmetic.
const floatTolerance = 1e-9

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s (pending=%d remote=%d)\n",
				ev.Seq, ev.Device, ev.Step, ev.Outcome, ev.Pending, ev.RemoteRows)
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the devices and the result.
type AssertionContext struct {
	Harness *Harness
	Result  *Result
}

// EvaluateAssertions runs every assertion and returns the failure messages.
// Evaluation continues past a failure so all of them are reported.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertSoil:
		return assertSoil(a, actx)
	case AssertEntity:
		return assertEntity(a, actx)
	case AssertPending:
		return assertCount(a, actx, "pending", actx.Result.Devices[a.Device].Pending)
	case AssertReflections:
		return assertCount(a, actx, "reflections", actx.Result.Devices[a.Device].Reflections)
	case AssertRemoteRows:
		return assertCount(a, actx, "remote rows", len(actx.Harness.remote.Rows(UserID)))
	case AssertConverged:
		return assertConverged(a, actx)
	case AssertTraceCount:
		return assertTraceCount(a, actx.Result.Trace)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertSoil(a Assertion, actx *AssertionContext) error {
	soil := actx.Result.Devices[a.Device].Soil
	if a.Available != nil && math.Abs(soil.Available-*a.Available) > floatTolerance {
		return &AssertionError{
			Type:     AssertSoil,
			Expected: fmt.Sprintf("%s available %.4f", a.Device, *a.Available),
			Actual:   fmt.Sprintf("%.4f", soil.Available),
			Trace:    actx.Result.Trace,
		}
	}
	if a.Capacity != nil && math.Abs(soil.Capacity-*a.Capacity) > floatTolerance {
		return &AssertionError{
			Type:     AssertSoil,
			Expected: fmt.Sprintf("%s capacity %.4f", a.Device, *a.Capacity),
			Actual:   fmt.Sprintf("%.4f", soil.Capacity),
			Trace:    actx.Result.Trace,
		}
	}
	return nil
}

func assertEntity(a Assertion, actx *AssertionContext) error {
	id, ok := actx.Harness.refs[a.Ref]
	if !ok {
		id = a.Ref
	}
	st := actx.Harness.devices[a.Device].cache.State()

	ent, found := st.Entity(id)
	if !found {
		for _, ab := range st.Abandoned() {
			if ab.ID == id {
				ent, found = ab, true
				break
			}
		}
	}
	if !found {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s has entity %s (%s)", a.Device, a.Ref, id),
			Actual:   "not found",
			Trace:    actx.Result.Trace,
		}
	}
	if a.State != "" && ent.State != state.Lifecycle(a.State) {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s state %s", a.Ref, a.State),
			Actual:   string(ent.State),
			Trace:    actx.Result.Trace,
		}
	}
	if a.Watered != nil && len(ent.Progress) != *a.Watered {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s watered %d time(s)", a.Ref, *a.Watered),
			Actual:   fmt.Sprintf("%d", len(ent.Progress)),
			Trace:    actx.Result.Trace,
		}
	}
	return nil
}

func assertCount(a Assertion, actx *AssertionContext, what string, got int) error {
	if got == a.Count {
		return nil
	}
	subject := what
	if a.Device != "" {
		subject = a.Device + " " + what
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s = %d", subject, a.Count),
		Actual:   fmt.Sprintf("%d", got),
		Trace:    actx.Result.Trace,
	}
}

// assertConverged checks that the devices derive identical state.
func assertConverged(a Assertion, actx *AssertionContext) error {
	names := a.Devices
	if len(names) == 0 {
		names = actx.Harness.order
	}
	if len(names) < 2 {
		return nil
	}

	first := actx.Result.Devices[names[0]]
	for _, name := range names[1:] {
		other := actx.Result.Devices[name]
		if other.Digest != first.Digest {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s and %s derive the same state", names[0], name),
				Actual: fmt.Sprintf("%s: %d events, soil %.2f/%.2f; %s: %d events, soil %.2f/%.2f",
					names[0], first.Events, first.Soil.Available, first.Soil.Capacity,
					name, other.Events, other.Soil.Available, other.Soil.Capacity),
				Trace: actx.Result.Trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks how many steps of a kind ran, optionally with a
// given outcome.
func assertTraceCount(a Assertion, trace []TraceEvent) error {
	count := 0
	for _, ev := range trace {
		if ev.Step != a.Step {
			continue
		}
		if a.Outcome != "" && ev.Outcome != a.Outcome {
			continue
		}
		count++
	}
	if count == a.Count {
		return nil
	}
	what := a.Step
	if a.Outcome != "" {
		what += " -> " + a.Outcome
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s exactly %d time(s)", what, a.Count),
		Actual:   fmt.Sprintf("found %d time(s)", count),
		Trace:    trace,
	}
}
