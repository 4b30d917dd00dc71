package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/tiendc/go-deepcopy"

	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/store"
)

// Queue is the ordered list of operations waiting for the remote API.
//
// Queue is a plain state container. It is not safe for concurrent use on its
// own; the Engine serializes access and mutates a clone that replaces the
// live queue only after the LocalStore transaction commits.
//
// INVARIANT: at most one unsent (pending, retrying or failed) operation
// exists per (kind, frontendId). Enqueue coalesces into the existing one.
type Queue struct {
	ops    []ir.Operation
	errors map[string]string
	ids    OperationIDGenerator
	clock  Clock
	dirty  bool
}

// NewQueue creates an empty queue.
func NewQueue(ids OperationIDGenerator, clock Clock) *Queue {
	return &Queue{
		errors: make(map[string]string),
		ids:    ids,
		clock:  clock,
	}
}

// Enqueue records a new operation and returns it.
//
// When an unsent operation already targets the same (kind, frontendId) it is
// replaced in place, keeping its queue position:
//   - CREATE followed by REPLACE_PARTIAL stays a CREATE with merged data
//   - CREATE followed by REPLACE_FULL stays a CREATE with the new data
//   - REPLACE_FULL or REPLACE_PARTIAL followed by REPLACE_PARTIAL keeps the
//     earlier method with merged data
//   - anything else takes the new method and data
//
// The replacement has a fresh id, status pending and retryCount 0, and the
// replaced operation's error entry is dropped. An operation that is
// processing is never replaced; the new one is appended behind it.
func (q *Queue) Enqueue(in ir.OperationInput) (ir.Operation, error) {
	if !in.Kind.Valid() {
		return ir.Operation{}, fmt.Errorf("enqueue: unknown entity kind %q", in.Kind)
	}
	if !in.Method.Valid() {
		return ir.Operation{}, fmt.Errorf("enqueue: unknown method %q", in.Method)
	}
	if in.FrontendID == "" {
		return ir.Operation{}, errors.New("enqueue: frontendId is required")
	}

	op := ir.Operation{
		ID:         q.ids.Generate(),
		Kind:       in.Kind,
		Path:       slices.Clone(in.Path),
		Method:     in.Method,
		Data:       clonePayload(in.Data),
		FrontendID: in.FrontendID,
		Callback:   in.Callback,
		Status:     ir.StatusPending,
		Timestamp:  q.clock.Now(),
		Previous:   clonePayload(in.Previous),
	}

	if idx := q.unsentIndex(in.Kind, in.FrontendID, -1); idx >= 0 {
		prior := q.ops[idx]
		op = coalesce(prior, op)
		delete(q.errors, prior.ID)
		q.ops[idx] = op
	} else {
		q.ops = append(q.ops, op)
	}
	q.dirty = true

	return cloneOperation(op), nil
}

// coalesce folds next into prior. The result carries next's identity and
// lifecycle fields, and prior's position and earliest pre-image.
func coalesce(prior, next ir.Operation) ir.Operation {
	out := next
	if prior.Previous != nil || prior.Method == ir.MethodCreate {
		out.Previous = prior.Previous
	}

	switch {
	case prior.Method == ir.MethodCreate && next.Method == ir.MethodReplacePartial:
		out.Method = ir.MethodCreate
		out.Path = prior.Path
		out.Callback = prior.Callback
		out.Data = prior.Data.Merge(next.Data)
	case prior.Method == ir.MethodCreate && next.Method == ir.MethodReplaceFull:
		out.Method = ir.MethodCreate
		out.Path = prior.Path
		out.Callback = prior.Callback
	case next.Method == ir.MethodReplacePartial &&
		(prior.Method == ir.MethodReplaceFull || prior.Method == ir.MethodReplacePartial):
		out.Method = prior.Method
		out.Data = prior.Data.Merge(next.Data)
	}
	return out
}

// Dequeue removes the operation and its error entry.
// Removing an absent id is a no-op.
func (q *Queue) Dequeue(id string) {
	if idx := q.index(id); idx >= 0 {
		q.ops = slices.Delete(q.ops, idx, idx+1)
		q.dirty = true
	}
	if _, ok := q.errors[id]; ok {
		delete(q.errors, id)
		q.dirty = true
	}
}

// ListPending returns a deep copy of every queued operation in insertion order.
func (q *Queue) ListPending() []ir.Operation {
	out := make([]ir.Operation, len(q.ops))
	for i, op := range q.ops {
		out[i] = cloneOperation(op)
	}
	return out
}

// IDs returns the queued operation ids in order.
func (q *Queue) IDs() []string {
	ids := make([]string, len(q.ops))
	for i, op := range q.ops {
		ids[i] = op.ID
	}
	return ids
}

// Get returns a copy of the operation with the given id.
func (q *Queue) Get(id string) (ir.Operation, bool) {
	idx := q.index(id)
	if idx < 0 {
		return ir.Operation{}, false
	}
	return cloneOperation(q.ops[idx]), true
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	return len(q.ops)
}

// MarkStatus moves an operation to a new status.
// Entering processing stamps lastAttempt.
func (q *Queue) MarkStatus(id string, status ir.Status) error {
	idx := q.index(id)
	if idx < 0 {
		return fmt.Errorf("mark %s: %w", id, ErrOperationNotFound)
	}
	if err := transition(&q.ops[idx], status, q.clock.Now()); err != nil {
		return err
	}
	q.dirty = true
	return nil
}

// Modify applies fn to the stored operation. fn must not change the id.
func (q *Queue) Modify(id string, fn func(op *ir.Operation)) error {
	idx := q.index(id)
	if idx < 0 {
		return fmt.Errorf("modify %s: %w", id, ErrOperationNotFound)
	}
	fn(&q.ops[idx])
	q.ops[idx].ID = id
	q.dirty = true
	return nil
}

// Errors returns a copy of the operation id to last error message map.
func (q *Queue) Errors() map[string]string {
	return maps.Clone(q.errors)
}

// SetError records the last error message for an operation.
func (q *Queue) SetError(id, message string) {
	q.errors[id] = message
	q.dirty = true
}

// ClearError removes an operation's error entry.
func (q *Queue) ClearError(id string) {
	if _, ok := q.errors[id]; ok {
		delete(q.errors, id)
		q.dirty = true
	}
}

// Unsent returns the unsent operation targeting (kind, frontendID), if any.
func (q *Queue) Unsent(kind ir.EntityKind, frontendID string) (ir.Operation, bool) {
	idx := q.unsentIndex(kind, frontendID, -1)
	if idx < 0 {
		return ir.Operation{}, false
	}
	return cloneOperation(q.ops[idx]), true
}

// InFlight returns the processing operation targeting (kind, frontendID), if any.
func (q *Queue) InFlight(kind ir.EntityKind, frontendID string) (ir.Operation, bool) {
	for _, op := range q.ops {
		if op.References(kind, frontendID) && op.Status == ir.StatusProcessing {
			return cloneOperation(op), true
		}
	}
	return ir.Operation{}, false
}

// RemoveFor drops every unsent operation targeting (kind, frontendID) and
// returns what it removed. Used when a delete supersedes them.
func (q *Queue) RemoveFor(kind ir.EntityKind, frontendID string) []ir.Operation {
	var removed []ir.Operation
	q.ops = slices.DeleteFunc(q.ops, func(op ir.Operation) bool {
		if op.References(kind, frontendID) && op.Status.Unsent() {
			removed = append(removed, op)
			return true
		}
		return false
	})
	for _, op := range removed {
		delete(q.errors, op.ID)
	}
	if len(removed) > 0 {
		q.dirty = true
	}
	return removed
}

// Rekey points every operation targeting (kind, oldID) at newID, patching
// both frontendId and path. Returns the number of operations patched.
func (q *Queue) Rekey(kind ir.EntityKind, oldID, newID string) int {
	n := 0
	for i := range q.ops {
		if !q.ops[i].References(kind, oldID) {
			continue
		}
		q.ops[i].FrontendID = newID
		q.ops[i].Path = ir.ReplacePathSegment(q.ops[i].Path, oldID, newID)
		n++
	}
	if n > 0 {
		q.dirty = true
	}
	return n
}

// Settle restores the one-unsent-operation rule for (kind, frontendID) after
// an in-flight operation has come back unsent. Operations queued behind it
// are folded into it in order and it keeps its id, status and retry
// schedule. A CREATE followed by a DELETE cancels out and both are removed.
// Returns the operations that left the queue.
func (q *Queue) Settle(kind ir.EntityKind, frontendID string) []ir.Operation {
	var removed []ir.Operation
	for {
		first := q.unsentIndex(kind, frontendID, -1)
		if first < 0 {
			return removed
		}
		next := q.unsentIndex(kind, frontendID, first)
		if next < 0 {
			return removed
		}

		prior, later := q.ops[first], q.ops[next]
		if prior.Method == ir.MethodCreate && later.Method == ir.MethodDelete {
			removed = append(removed, prior, later)
			delete(q.errors, prior.ID)
			delete(q.errors, later.ID)
			q.ops = slices.Delete(q.ops, next, next+1)
			q.ops = slices.Delete(q.ops, first, first+1)
			q.dirty = true
			continue
		}

		removed = append(removed, later)
		delete(q.errors, later.ID)
		q.ops[first] = settle(prior, later)
		q.ops = slices.Delete(q.ops, next, next+1)
		q.dirty = true
	}
}

// settle folds later into prior after prior came back from the remote.
// prior keeps its identity, schedule and error entry so a recorded
// failure stays visible and its retry delay still applies.
func settle(prior, later ir.Operation) ir.Operation {
	out := coalesce(prior, later)
	out.ID = prior.ID
	out.Status = prior.Status
	out.RetryCount = prior.RetryCount
	out.Timestamp = prior.Timestamp
	out.LastAttempt = prior.LastAttempt
	out.NextRetryAt = prior.NextRetryAt
	out.RolledBack = prior.RolledBack
	return out
}

// RemoveBehind drops the unsent operations targeting (kind, frontendID)
// queued after the operation id and returns them.
func (q *Queue) RemoveBehind(kind ir.EntityKind, frontendID, id string) []ir.Operation {
	idx := q.index(id)
	if idx < 0 {
		return nil
	}
	var removed []ir.Operation
	tail := slices.DeleteFunc(slices.Clone(q.ops[idx+1:]), func(op ir.Operation) bool {
		if op.References(kind, frontendID) && op.Status.Unsent() {
			removed = append(removed, op)
			return true
		}
		return false
	})
	if len(removed) == 0 {
		return nil
	}
	for _, op := range removed {
		delete(q.errors, op.ID)
	}
	q.ops = append(q.ops[:idx+1], tail...)
	q.dirty = true
	return removed
}

// index returns the position of the operation with the given id, or -1.
func (q *Queue) index(id string) int {
	return slices.IndexFunc(q.ops, func(op ir.Operation) bool { return op.ID == id })
}

// unsentIndex returns the first unsent operation for (kind, frontendID)
// positioned after `after`, or -1. Rolled back operations are never sent
// again and are skipped.
func (q *Queue) unsentIndex(kind ir.EntityKind, frontendID string, after int) int {
	for i := after + 1; i < len(q.ops); i++ {
		op := q.ops[i]
		if op.References(kind, frontendID) && op.Status.Unsent() && !op.RolledBack {
			return i
		}
	}
	return -1
}

// clone returns an independent copy sharing only the generator and clock.
func (q *Queue) clone() *Queue {
	c := &Queue{
		ops:    make([]ir.Operation, len(q.ops)),
		errors: maps.Clone(q.errors),
		ids:    q.ids,
		clock:  q.clock,
	}
	if c.errors == nil {
		c.errors = make(map[string]string)
	}
	for i, op := range q.ops {
		c.ops[i] = cloneOperation(op)
	}
	return c
}

// save writes the queue and error map when they changed.
func (q *Queue) save(tx store.Tx) error {
	if !q.dirty {
		return nil
	}
	ops := q.ops
	if ops == nil {
		ops = []ir.Operation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	if err := tx.Put(store.BucketSync, store.KeyPendingOperations, data); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}

	errData, err := json.Marshal(q.errors)
	if err != nil {
		return fmt.Errorf("save sync errors: %w", err)
	}
	if err := tx.Put(store.BucketSync, store.KeySyncErrors, errData); err != nil {
		return fmt.Errorf("save sync errors: %w", err)
	}
	return nil
}

// loadQueue reads the persisted queue and error map.
// Missing keys yield an empty queue.
func loadQueue(tx store.Tx, ids OperationIDGenerator, clock Clock) (*Queue, error) {
	q := NewQueue(ids, clock)

	data, err := tx.Get(store.BucketSync, store.KeyPendingOperations)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load queue: %w", err)
	default:
		if err := decodeJSON(data, &q.ops); err != nil {
			return nil, fmt.Errorf("load queue: %w", err)
		}
	}

	data, err = tx.Get(store.BucketSync, store.KeySyncErrors)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load sync errors: %w", err)
	default:
		if err := decodeJSON(data, &q.errors); err != nil {
			return nil, fmt.Errorf("load sync errors: %w", err)
		}
	}
	if q.errors == nil {
		q.errors = make(map[string]string)
	}
	return q, nil
}

// cloneOperation deep-copies the mutable parts of an operation.
func cloneOperation(op ir.Operation) ir.Operation {
	out := op
	out.Path = slices.Clone(op.Path)
	out.Data = clonePayload(op.Data)
	out.Previous = clonePayload(op.Previous)
	if op.LastAttempt != nil {
		at := *op.LastAttempt
		out.LastAttempt = &at
	}
	if op.NextRetryAt != nil {
		at := *op.NextRetryAt
		out.NextRetryAt = &at
	}
	return out
}

// clonePayload deep-copies nested maps and slices inside a payload.
func clonePayload(p ir.Payload) ir.Payload {
	if p == nil {
		return nil
	}
	var out ir.Payload
	if err := deepcopy.Copy(&out, p); err != nil {
		// Payloads only hold JSON values; fall back to a shallow copy.
		return p.Clone()
	}
	return out
}
