package harness

// Trace event types.
const (
	EventStep  = "step"
	EventCall  = "call"
	EventDrain = "drain"
)

// TraceEvent is one entry in a scenario trace.
// Steps, remote calls and drain reports are interleaved in the order they
// happened, which is what the golden snapshot compares.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"` // "step", "call" or "drain"

	// Step events
	Action string `json:"action,omitempty"`
	Kind   string `json:"kind,omitempty"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`

	// Call events
	Method   string `json:"method,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`

	// Drain events
	Report map[string]any `json:"report,omitempty"`
}

// OperationSummary is the stable part of a queued operation.
type OperationSummary struct {
	ID         string `json:"id"`
	Method     string `json:"method"`
	Endpoint   string `json:"endpoint"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step behaved and every assertion matched.
	Pass bool `json:"pass"`

	// Trace contains steps, calls and drains in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Queue is the final queue in order.
	Queue []OperationSummary `json:"queue"`

	// Aliases maps each create alias to the entity's final id.
	Aliases map[string]string `json:"aliases,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Queue:   []OperationSummary{},
		Aliases: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// add appends an event with the next sequence number.
func (r *Result) add(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
