package ir

import (
	"slices"
	"strings"
	"time"
)

// Payload is a JSON object sent to or received from the remote API.
type Payload map[string]any

// Clone returns a shallow copy of p. Nested values are shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p with every field of patch written over it.
func (p Payload) Merge(patch Payload) Payload {
	out := make(Payload, len(p)+len(patch))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Operation is one queued mutation against the remote API.
type Operation struct {
	ID          string     `json:"id"`
	Kind        EntityKind `json:"kind"`
	Path        []string   `json:"path"`
	Method      Method     `json:"method"`
	Data        Payload    `json:"data,omitempty"`
	FrontendID  string     `json:"frontendId"`
	Callback    Callback   `json:"callback"`
	Status      Status     `json:"status"`
	RetryCount  int        `json:"retryCount"`
	Timestamp   time.Time  `json:"timestamp"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`

	// Previous is the entity as it was before the first unsent mutation.
	// Nil for creates.
	Previous   Payload `json:"previous,omitempty"`
	RolledBack bool    `json:"rolledBack,omitempty"`
}

// Endpoint returns the path joined with "/".
func (op Operation) Endpoint() string {
	return JoinPath(op.Path)
}

// Eligible reports whether the dispatcher may send op at now.
func (op Operation) Eligible(now time.Time) bool {
	if op.Status == StatusFailed || op.Status == StatusProcessing {
		return false
	}
	if op.NextRetryAt != nil && op.NextRetryAt.After(now) {
		return false
	}
	return !op.Blocked()
}

// Blocked reports whether op targets an entity that has no server id yet.
// Such operations wait for the CREATE to reconcile.
func (op Operation) Blocked() bool {
	return op.Method != MethodCreate && IsFrontendID(op.FrontendID)
}

// References reports whether op targets the entity (kind, id).
func (op Operation) References(kind EntityKind, id string) bool {
	return op.Kind == kind && op.FrontendID == id
}

// OperationInput is the caller-supplied part of an Operation.
type OperationInput struct {
	Kind       EntityKind
	Path       []string
	Method     Method
	Data       Payload
	FrontendID string
	Callback   Callback
	Previous   Payload
}

// SyncState is the observable state of the sync subsystem.
type SyncState struct {
	PendingOperations []Operation       `json:"pendingOperations"`
	IsSyncing         bool              `json:"isSyncing"`
	LastSyncTimestamp *time.Time        `json:"lastSyncTimestamp,omitempty"`
	SyncErrors        map[string]string `json:"syncErrors"`
	ShouldReload      bool              `json:"shouldReload"`
}

// Failed returns the operations in StatusFailed.
func (s SyncState) Failed() []Operation {
	var out []Operation
	for _, op := range s.PendingOperations {
		if op.Status == StatusFailed {
			out = append(out, op)
		}
	}
	return out
}

// JoinPath joins path segments with "/".
func JoinPath(path []string) string {
	return strings.Join(path, "/")
}

// ReplacePathSegment returns a copy of path with every segment equal to old replaced.
func ReplacePathSegment(path []string, old, replacement string) []string {
	out := slices.Clone(path)
	for i, seg := range out {
		if seg == old {
			out[i] = replacement
		}
	}
	return out
}
