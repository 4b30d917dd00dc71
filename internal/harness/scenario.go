package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a sync flow test.
// A scenario runs a sequence of local mutations and sync passes against a
// scripted remote, then asserts on the calls made and the final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the LocalStore: "sqlite" (default) or "bolt".
	Backend string `yaml:"backend,omitempty"`

	// Options tunes the engine and the scripted remote.
	Options Options `yaml:"options,omitempty"`

	// Flow contains the steps to execute in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the calls made and the final state.
	// Supported types: calls, call_count, entity, entity_count, queue, sync_errors
	Assertions []Assertion `yaml:"assertions"`
}

// Options tunes one scenario run.
type Options struct {
	// MaxRetries overrides the engine default when set.
	MaxRetries *int `yaml:"max_retries,omitempty"`

	// RetryDelay overrides the fixed retry delay when non-zero.
	RetryDelay time.Duration `yaml:"retry_delay,omitempty"`

	// Rollback restores pre-images when an operation fails terminally.
	Rollback bool `yaml:"rollback_on_failure,omitempty"`

	// Validate checks payloads against the entity schema.
	Validate bool `yaml:"validate,omitempty"`

	// FirstServerID is the id the remote assigns to its first create. Default 1.
	FirstServerID int64 `yaml:"first_server_id,omitempty"`
}

// Step is one flow action.
//
// Entity steps (create, update, delete) name their target with Ref, which
// is either an alias bound by an earlier create's As or a literal id.
type Step struct {
	// Action is one of the Step* constants.
	Action string `yaml:"action"`

	Kind string         `yaml:"kind,omitempty"`
	Ref  string         `yaml:"ref,omitempty"`
	As   string         `yaml:"as,omitempty"`
	Data map[string]any `yaml:"data,omitempty"`

	// Full makes update replace the entity instead of merging (update).
	Full bool `yaml:"full,omitempty"`

	// Method, Endpoint, Response and Error script one remote reply (reply).
	// Endpoint may reference aliases as {alias}.
	Method   string         `yaml:"method,omitempty"`
	Endpoint string         `yaml:"endpoint,omitempty"`
	Response map[string]any `yaml:"response,omitempty"`
	Error    string         `yaml:"error,omitempty"`

	// Duration moves the clock forward (advance).
	Duration time.Duration `yaml:"duration,omitempty"`

	// ExpectError makes the step pass only if it fails with an error
	// containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step actions.
const (
	StepCreate      = "create"
	StepUpdate      = "update"
	StepDelete      = "delete"
	StepDrain       = "drain"
	StepOffline     = "offline"
	StepOnline      = "online"
	StepReply       = "reply"
	StepAdvance     = "advance"
	StepRestart     = "restart"
	StepRetryFailed = "retry_failed"
)

// Assertion validates calls or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "calls": the remote saw exactly Calls, as "METHOD endpoint", in order
	// - "call_count": the remote saw exactly Count calls
	// - "entity": the entity Ref of Kind has the Expect fields, or is Absent
	// - "entity_count": Kind holds exactly Count entities
	// - "queue": the queue holds Count operations, with Statuses and Methods in order
	// - "sync_errors": exactly Count operations carry an error
	Type string `yaml:"type"`

	Kind   string         `yaml:"kind,omitempty"`
	Ref    string         `yaml:"ref,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Absent bool           `yaml:"absent,omitempty"`

	Calls    []string `yaml:"calls,omitempty"`
	Count    *int     `yaml:"count,omitempty"`
	Statuses []string `yaml:"statuses,omitempty"`
	Methods  []string `yaml:"methods,omitempty"`
}

// Assertion type constants.
const (
	AssertCalls       = "calls"
	AssertCallCount   = "call_count"
	AssertEntity      = "entity"
	AssertEntityCount = "entity_count"
	AssertQueue       = "queue"
	AssertSyncErrors  = "sync_errors"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Backend {
	case "", "sqlite", "bolt":
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single step based on its action.
func validateStep(index int, s *Step) error {
	switch s.Action {
	case StepCreate:
		if s.Kind == "" {
			return fmt.Errorf("flow[%d]: kind is required for create", index)
		}
	case StepUpdate, StepDelete:
		if s.Kind == "" || s.Ref == "" {
			return fmt.Errorf("flow[%d]: kind and ref are required for %s", index, s.Action)
		}
		if s.Action == StepUpdate && len(s.Data) == 0 {
			return fmt.Errorf("flow[%d]: data is required for update", index)
		}
	case StepReply:
		if s.Method == "" || s.Endpoint == "" {
			return fmt.Errorf("flow[%d]: method and endpoint are required for reply", index)
		}
	case StepAdvance:
		if s.Duration <= 0 {
			return fmt.Errorf("flow[%d]: positive duration is required for advance", index)
		}
	case StepDrain, StepOffline, StepOnline, StepRestart, StepRetryFailed:
	case "":
		return fmt.Errorf("flow[%d]: action is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown action %q", index, s.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCalls:
		// An empty list asserts that nothing was sent.
	case AssertCallCount, AssertSyncErrors:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
	case AssertEntity:
		if a.Kind == "" || a.Ref == "" {
			return fmt.Errorf("assertions[%d]: kind and ref are required for entity", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for entity", index)
		}
	case AssertEntityCount:
		if a.Kind == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: kind and count are required for entity_count", index)
		}
	case AssertQueue:
		if a.Count == nil && a.Statuses == nil && a.Methods == nil {
			return fmt.Errorf("assertions[%d]: count, statuses or methods is required for queue", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
