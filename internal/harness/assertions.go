package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/spendsync/internal/engine"
	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
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

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		switch event.Type {
		case EventStep:
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", event.Seq, event.Action, event.Kind, event.ID)
		case EventCall:
			fmt.Fprintf(&buf, "  [%d] -> %s %s\n", event.Seq, event.Method, event.Endpoint)
		case EventDrain:
			fmt.Fprintf(&buf, "  [%d] drain %v\n", event.Seq, event.Report)
		}
	}

	return buf.String()
}

// calls lists the traced remote calls as "METHOD endpoint".
func calls(trace []TraceEvent) []string {
	out := []string{}
	for _, event := range trace {
		if event.Type == EventCall {
			out = append(out, event.Method+" "+event.Endpoint)
		}
	}
	return out
}

// assertCalls checks the exact sequence of remote calls.
func assertCalls(trace []TraceEvent, assertion Assertion) error {
	expected := assertion.Calls
	if expected == nil {
		expected = []string{}
	}
	actual := calls(trace)
	if !slices.Equal(expected, actual) {
		return &AssertionError{
			Type:     AssertCalls,
			Expected: fmt.Sprintf("%q", expected),
			Actual:   fmt.Sprintf("%q", actual),
			Trace:    trace,
		}
	}
	return nil
}

// assertCallCount checks the number of remote calls.
func assertCallCount(trace []TraceEvent, assertion Assertion) error {
	if n := len(calls(trace)); n != *assertion.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%d calls", *assertion.Count),
			Actual:   fmt.Sprintf("%d calls", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertEntity checks that an entity holds the expected fields (subset
// match), or that it is gone.
func assertEntity(ctx context.Context, r *runner, assertion Assertion) error {
	kind, err := ir.ParseKind(assertion.Kind)
	if err != nil {
		return err
	}
	id, err := r.resolve(ctx, assertion.Ref)
	if err != nil {
		return err
	}

	ent, err := r.eng.Entity(ctx, kind, id)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, engine.ErrEntityNotFound) {
		if assertion.Absent {
			return nil
		}
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s %s present", kind, id),
			Actual:   "not found",
			Trace:    r.result.Trace,
		}
	}
	if err != nil {
		return err
	}
	if assertion.Absent {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s %s absent", kind, id),
			Actual:   fmt.Sprintf("found %v", ent.Fields),
			Trace:    r.result.Trace,
		}
	}

	for field, want := range assertion.Expect {
		got, ok := ent.Fields[field]
		if !ok || !valuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("%s %s %s=%v", kind, id, field, want),
				Actual:   fmt.Sprintf("%s=%v (fields %v)", field, got, ent.Fields),
				Trace:    r.result.Trace,
			}
		}
	}
	return nil
}

// assertEntityCount checks how many entities of a kind are stored.
func assertEntityCount(ctx context.Context, r *runner, assertion Assertion) error {
	kind, err := ir.ParseKind(assertion.Kind)
	if err != nil {
		return err
	}
	ents, err := r.eng.Entities(ctx, kind)
	if err != nil {
		return err
	}
	if len(ents) != *assertion.Count {
		ids := make([]string, len(ents))
		for i, e := range ents {
			ids[i] = e.ID
		}
		return &AssertionError{
			Type:     AssertEntityCount,
			Expected: fmt.Sprintf("%d %s entities", *assertion.Count, kind),
			Actual:   fmt.Sprintf("%d: %v", len(ents), ids),
			Trace:    r.result.Trace,
		}
	}
	return nil
}

// assertQueue checks the final queue's size, statuses and methods in order.
func assertQueue(result *Result, assertion Assertion) error {
	var statuses, methods []string
	for _, op := range result.Queue {
		statuses = append(statuses, op.Status)
		methods = append(methods, op.Method)
	}

	fail := func(expected, actual string) error {
		return &AssertionError{
			Type:     AssertQueue,
			Expected: expected,
			Actual:   actual,
			Trace:    result.Trace,
		}
	}
	if assertion.Count != nil && len(result.Queue) != *assertion.Count {
		return fail(fmt.Sprintf("%d queued operations", *assertion.Count), fmt.Sprintf("%d", len(result.Queue)))
	}
	if assertion.Statuses != nil && !slices.Equal(assertion.Statuses, statuses) {
		return fail(fmt.Sprintf("statuses %q", assertion.Statuses), fmt.Sprintf("%q", statuses))
	}
	if assertion.Methods != nil && !slices.Equal(assertion.Methods, methods) {
		return fail(fmt.Sprintf("methods %q", assertion.Methods), fmt.Sprintf("%q", methods))
	}
	return nil
}

// assertSyncErrors checks how many queued operations carry an error.
func assertSyncErrors(result *Result, assertion Assertion) error {
	n := 0
	for _, op := range result.Queue {
		if op.Error != "" {
			n++
		}
	}
	if n != *assertion.Count {
		return &AssertionError{
			Type:     AssertSyncErrors,
			Expected: fmt.Sprintf("%d sync errors", *assertion.Count),
			Actual:   fmt.Sprintf("%d", n),
			Trace:    result.Trace,
		}
	}
	return nil
}

// valuesEqual compares an expected YAML value with a stored field.
// Canonical JSON decides for structured values. Scalars also match on
// their printed form, so a server id 1 matches both 1 and "1".
func valuesEqual(want, got any) bool {
	wantJSON, werr := ir.MarshalCanonical(want)
	gotJSON, gerr := ir.MarshalCanonical(got)
	if werr == nil && gerr == nil && string(wantJSON) == string(gotJSON) {
		return true
	}
	if isScalar(want) && isScalar(got) {
		return fmt.Sprint(want) == fmt.Sprint(got)
	}
	return false
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, ir.Payload, []any:
		return false
	default:
		return true
	}
}

// evaluateAssertions runs every assertion and records failures on the result.
func evaluateAssertions(ctx context.Context, r *runner, assertions []Assertion) {
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertCalls:
			err = assertCalls(r.result.Trace, assertion)
		case AssertCallCount:
			err = assertCallCount(r.result.Trace, assertion)
		case AssertEntity:
			err = assertEntity(ctx, r, assertion)
		case AssertEntityCount:
			err = assertEntityCount(ctx, r, assertion)
		case AssertQueue:
			err = assertQueue(r.result, assertion)
		case AssertSyncErrors:
			err = assertSyncErrors(r.result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}
		if err != nil {
			r.result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
}
