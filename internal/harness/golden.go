package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/spendsync/internal/ir"
)

// TraceSnapshot captures the trace and final queue of a scenario run.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Queue        []OperationSummary
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles payload types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":  event.Seq,
			"type": event.Type,
		}
		for key, value := range map[string]string{
			"action":   event.Action,
			"kind":     event.Kind,
			"id":       event.ID,
			"error":    event.Error,
			"method":   event.Method,
			"endpoint": event.Endpoint,
		} {
			if value != "" {
				eventMap[key] = value
			}
		}
		if event.Report != nil {
			eventMap["report"] = event.Report
		}
		traceList[i] = eventMap
	}

	queueList := make([]any, len(s.Queue))
	for i, op := range s.Queue {
		opMap := map[string]any{
			"id":          op.ID,
			"method":      op.Method,
			"endpoint":    op.Endpoint,
			"status":      op.Status,
			"retry_count": op.RetryCount,
		}
		if op.Error != "" {
			opMap["error"] = op.Error
		}
		queueList[i] = opMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"queue":         queueList,
	}
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass and Errors.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Queue:        result.Queue,
	}
	data, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
