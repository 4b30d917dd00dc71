package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: EventStep, Action: StepCreate, Kind: "expense", ID: "f_e-abcdefghij"},
		{Seq: 2, Type: EventCall, Method: "CREATE", Endpoint: "main/expense"},
		{Seq: 3, Type: EventDrain, Report: map[string]any{"attempted": 1}},
		{Seq: 4, Type: EventCall, Method: "DELETE", Endpoint: "main/expense/1"},
	}
}

func TestAssertCalls(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertCalls(trace, Assertion{Calls: []string{"CREATE main/expense", "DELETE main/expense/1"}}))

	err := assertCalls(trace, Assertion{Calls: []string{"DELETE main/expense/1", "CREATE main/expense"}})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertCalls, ae.Type)

	assert.Error(t, assertCalls(trace, Assertion{}), "no calls expected")
	assert.NoError(t, assertCalls(nil, Assertion{}))
}

func TestAssertCallCount(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertCallCount(trace, Assertion{Count: intPtr(2)}))

	err := assertCallCount(trace, Assertion{Count: intPtr(3)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 3 calls")
	assert.Contains(t, err.Error(), "Actual: 2 calls")
}

func TestAssertQueue(t *testing.T) {
	result := NewResult()
	result.Queue = []OperationSummary{
		{ID: "op-1", Method: "CREATE", Status: "failed", Error: "quota exceeded"},
		{ID: "op-2", Method: "DELETE", Status: "pending"},
	}

	assert.NoError(t, assertQueue(result, Assertion{Count: intPtr(2)}))
	assert.NoError(t, assertQueue(result, Assertion{
		Statuses: []string{"failed", "pending"},
		Methods:  []string{"CREATE", "DELETE"},
	}))
	assert.Error(t, assertQueue(result, Assertion{Count: intPtr(1)}))
	assert.Error(t, assertQueue(result, Assertion{Statuses: []string{"pending", "failed"}}))
	assert.Error(t, assertQueue(result, Assertion{Methods: []string{"CREATE"}}))

	assert.NoError(t, assertSyncErrors(result, Assertion{Count: intPtr(1)}))
	assert.Error(t, assertSyncErrors(result, Assertion{Count: intPtr(0)}))
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"both_nil", nil, nil, true},
		{"actual_nil", "value", nil, false},
		{"strings_equal", "hello", "hello", true},
		{"strings_different", "hello", "world", false},
		{"int_matches_server_id", 42, json.Number("42"), true},
		{"string_matches_server_id", "42", json.Number("42"), true},
		{"amount_strings_exact", "12.50", "12.5", false},
		{"bools_equal", true, true, true},
		{"arrays_equal", []any{"a", "b"}, []any{"a", "b"}, true},
		{"arrays_different", []any{"a", "b"}, []any{"a", "c"}, false},
		{"maps_equal", map[string]any{"key": "value"}, map[string]any{"key": "value"}, true},
		{"maps_different", map[string]any{"key": "value1"}, map[string]any{"key": "value2"}, false},
		{"map_vs_scalar", map[string]any{"key": "value"}, "value", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertCalls,
		Expected: `["CREATE main/expense"]`,
		Actual:   `[]`,
		Trace:    sampleTrace(),
	}

	errorStr := err.Error()
	assert.Contains(t, errorStr, "Assertion failed: calls")
	assert.Contains(t, errorStr, `Expected: ["CREATE main/expense"]`)
	assert.Contains(t, errorStr, "Actual: []")
	assert.Contains(t, errorStr, "Full trace:")
	assert.Contains(t, errorStr, "[1] create expense f_e-abcdefghij")
	assert.Contains(t, errorStr, "[2] -> CREATE main/expense")
	assert.Contains(t, errorStr, "[3] drain map[attempted:1]")
}
