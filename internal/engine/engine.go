package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/store"
)

// RemoteCaller sends one operation to the remote API.
//
// A nil error means the server accepted the mutation; the returned payload
// is its response body (may be nil). Network failures and application-level
// rejections are both reported as errors and retried alike.
type RemoteCaller interface {
	Call(ctx context.Context, path []string, method ir.Method, data ir.Payload) (ir.Payload, error)
}

// Validator checks a payload before it is applied.
// The schema package provides the CUE-backed implementation.
type Validator interface {
	Validate(kind ir.EntityKind, method ir.Method, data ir.Payload) error
}

// Engine owns the LocalStore, the mutation queue and the sync metadata.
//
// Thread-safety model:
//   - Create/Update/Delete, Retry, Discard: safe from any goroutine
//   - Drain: safe from any goroutine; concurrent calls get ErrSyncInProgress
//   - Run: call from one goroutine
//   - State, Pending, Entities: safe from any goroutine
//
// INVARIANTS:
//   - every queue and LocalStore mutation holds mu for its whole transaction
//   - the live queue only ever reflects committed state
//   - remote calls never hold mu
type Engine struct {
	kv     store.KV
	remote RemoteCaller

	clock     Clock
	ids       OperationIDGenerator
	alloc     *Allocator
	policy    RetryPolicy
	notifier  Notifier
	validator Validator
	recorder  Recorder

	maxRetries   int
	rollback     bool
	resumeFailed bool

	mu    sync.RWMutex
	queue *Queue
	meta  syncMeta

	syncing  atomic.Bool
	triggers chan TriggerReason
	reload   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithOperationIDs sets the operation id generator.
func WithOperationIDs(g OperationIDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithAllocator sets the temporary id allocator.
func WithAllocator(a *Allocator) Option {
	return func(e *Engine) { e.alloc = a }
}

// WithRetryPolicy sets the retry policy.
//
// Default: FixedDelay{DefaultRetryDelay}.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMaxRetries sets the number of failed attempts after which an
// operation is marked failed.
//
// Default: 5 (DefaultMaxRetries).
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithRollbackOnFailure restores an entity's pre-image when its operation
// fails terminally. Off by default: the optimistic state is kept and the
// failure is surfaced through syncErrors.
func WithRollbackOnFailure(enabled bool) Option {
	return func(e *Engine) { e.rollback = enabled }
}

// WithResumeFailed re-arms failed operations when the engine starts.
func WithResumeFailed(enabled bool) Option {
	return func(e *Engine) { e.resumeFailed = enabled }
}

// WithNotifier sets the user-facing notice hook. Default: slog.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithValidator sets the payload validator. Nil disables validation.
func WithValidator(v Validator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an Engine over kv and loads its persisted state.
//
// Operations left in processing by a crash are moved to retrying, since
// their outcome is unknown. isSyncing always starts false.
func New(ctx context.Context, kv store.KV, remote RemoteCaller, opts ...Option) (*Engine, error) {
	e := &Engine{
		kv:         kv,
		remote:     remote,
		clock:      SystemClock{},
		ids:        UUIDv7Generator{},
		policy:     FixedDelay{Delay: DefaultRetryDelay},
		notifier:   logNotifier{},
		recorder:   nopRecorder{},
		maxRetries: DefaultMaxRetries,
		triggers:   make(chan TriggerReason, 1),
		reload:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.alloc == nil {
		e.alloc = NewAllocator()
	}
	if e.notifier == nil {
		e.notifier = logNotifier{}
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}

	if err := e.load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// load reads the queue and metadata, then applies restart recovery.
func (e *Engine) load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.kv.View(ctx, func(tx store.Tx) error {
		q, err := loadQueue(tx, e.ids, e.clock)
		if err != nil {
			return err
		}
		meta, err := loadMeta(tx)
		if err != nil {
			return err
		}
		e.queue, e.meta = q, meta
		return nil
	})
	if err != nil {
		return fmt.Errorf("load engine state: %w", err)
	}

	recovered, resumed := 0, 0
	err = e.mutateLocked(ctx, func(_ store.Tx, q *Queue, _ *syncMeta) error {
		for _, op := range q.ListPending() {
			switch {
			case op.Status == ir.StatusProcessing:
				if err := q.MarkStatus(op.ID, ir.StatusRetrying); err != nil {
					return err
				}
				if err := q.Modify(op.ID, func(o *ir.Operation) { o.NextRetryAt = nil }); err != nil {
					return err
				}
				recovered++
			case op.Status == ir.StatusFailed && e.resumeFailed && !op.RolledBack:
				if err := rearm(q, op.ID); err != nil {
					return err
				}
				resumed++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recover engine state: %w", err)
	}

	slog.Info("engine state loaded",
		"pending", e.queue.Len(),
		"recovered", recovered,
		"resumed", resumed,
	)
	e.recorder.QueueDepth(e.queue.Len())
	return nil
}

// mutate runs fn against a working copy of the queue and metadata inside one
// LocalStore transaction, then swaps the copy in.
func (e *Engine) mutate(ctx context.Context, fn func(tx store.Tx, q *Queue, meta *syncMeta) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mutateLocked(ctx, fn)
}

func (e *Engine) mutateLocked(ctx context.Context, fn func(tx store.Tx, q *Queue, meta *syncMeta) error) error {
	q := e.queue.clone()
	meta := e.meta

	err := e.kv.Update(ctx, func(tx store.Tx) error {
		if err := fn(tx, q, &meta); err != nil {
			return err
		}
		if err := q.save(tx); err != nil {
			return err
		}
		if meta != e.meta {
			return saveMeta(tx, meta)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.queue = q
	e.meta = meta
	e.recorder.QueueDepth(q.Len())
	return nil
}

// rearm moves a failed operation back to pending with a fresh retry budget.
func rearm(q *Queue, id string) error {
	if err := q.MarkStatus(id, ir.StatusPending); err != nil {
		return err
	}
	q.ClearError(id)
	return q.Modify(id, func(op *ir.Operation) {
		op.RetryCount = 0
		op.NextRetryAt = nil
	})
}

// Retry re-arms a failed operation: failed -> pending, retryCount reset.
func (e *Engine) Retry(ctx context.Context, id string) error {
	err := e.mutate(ctx, func(_ store.Tx, q *Queue, _ *syncMeta) error {
		op, ok := q.Get(id)
		if !ok {
			return fmt.Errorf("retry %s: %w", id, ErrOperationNotFound)
		}
		if op.RolledBack {
			return fmt.Errorf("retry %s: %w", id, ErrRolledBack)
		}
		return rearm(q, id)
	})
	if err != nil {
		return err
	}
	slog.Info("operation re-armed", "op", id)
	e.Trigger(TriggerExplicit)
	return nil
}

// RetryFailed re-arms every failed operation that was not rolled back.
// Returns the number of operations re-armed.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	n := 0
	err := e.mutate(ctx, func(_ store.Tx, q *Queue, _ *syncMeta) error {
		n = 0
		for _, op := range q.ListPending() {
			if op.Status != ir.StatusFailed || op.RolledBack {
				continue
			}
			if err := rearm(q, op.ID); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("failed operations re-armed", "count", n)
		e.Trigger(TriggerExplicit)
	}
	return n, nil
}

// Discard drops an operation without sending it. The local optimistic state
// is left as is. In-flight operations cannot be discarded.
func (e *Engine) Discard(ctx context.Context, id string) error {
	return e.mutate(ctx, func(_ store.Tx, q *Queue, _ *syncMeta) error {
		op, ok := q.Get(id)
		if !ok {
			return fmt.Errorf("discard %s: %w", id, ErrOperationNotFound)
		}
		if op.Status == ir.StatusProcessing {
			return fmt.Errorf("discard %s: %w: operation is in flight", id, ErrInvalidTransition)
		}
		q.Dequeue(id)
		slog.Info("operation discarded", "op", id, "kind", op.Kind, "method", op.Method)
		return nil
	})
}

// State returns a snapshot of the sync state.
func (e *Engine) State() ir.SyncState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := ir.SyncState{
		PendingOperations: e.queue.ListPending(),
		IsSyncing:         e.syncing.Load(),
		SyncErrors:        e.queue.Errors(),
		ShouldReload:      e.meta.ShouldReload,
	}
	if e.meta.LastSyncTimestamp != nil {
		at := *e.meta.LastSyncTimestamp
		s.LastSyncTimestamp = &at
	}
	return s
}

// Pending returns the queued operations in order.
func (e *Engine) Pending() []ir.Operation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.queue.ListPending()
}

// Entities lists every entity of a kind. Server ids come first in numeric
// order, then temporary ids in lexical order.
func (e *Engine) Entities(ctx context.Context, kind ir.EntityKind) ([]ir.Entity, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("list: unknown entity kind %q", kind)
	}
	var out []ir.Entity
	err := e.kv.View(ctx, func(tx store.Tx) error {
		return tx.ForEach(kind.Bucket(), func(key string, value []byte) error {
			ent, err := ir.DecodeEntity(kind, key, value)
			if err != nil {
				return err
			}
			out = append(out, ent)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	slices.SortStableFunc(out, func(a, b ir.Entity) int { return compareIDs(a.ID, b.ID) })
	return out, nil
}

// compareIDs orders numeric ids by value ahead of all other ids.
func compareIDs(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if c := cmp.Compare(na, nb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// Entity returns one entity. A reconciled temporary id resolves to the
// entity's server id.
func (e *Engine) Entity(ctx context.Context, kind ir.EntityKind, id string) (ir.Entity, error) {
	var ent ir.Entity
	err := e.kv.View(ctx, func(tx store.Tx) error {
		resolved, err := resolveID(tx, id)
		if err != nil {
			return err
		}
		ent, err = getEntity(tx, kind, resolved)
		return err
	})
	return ent, err
}

// ResolveID maps a reconciled temporary id to its server id.
// Unknown and server ids are returned unchanged.
func (e *Engine) ResolveID(ctx context.Context, id string) (string, error) {
	var resolved string
	err := e.kv.View(ctx, func(tx store.Tx) error {
		var err error
		resolved, err = resolveID(tx, id)
		return err
	})
	return resolved, err
}

// NextRetryAt returns the earliest scheduled retry, or nil.
func (e *Engine) NextRetryAt() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var next *time.Time
	for _, op := range e.queue.ops {
		if op.Status != ir.StatusRetrying || op.NextRetryAt == nil {
			continue
		}
		if next == nil || op.NextRetryAt.Before(*next) {
			at := *op.NextRetryAt
			next = &at
		}
	}
	return next
}
