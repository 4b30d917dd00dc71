package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/store"
)

// TriggerReason says why a drain pass was requested.
type TriggerReason string

const (
	TriggerStartup      TriggerReason = "startup"
	TriggerTimer        TriggerReason = "timer"
	TriggerRetry        TriggerReason = "retry"
	TriggerConnectivity TriggerReason = "connectivity"
	TriggerForeground   TriggerReason = "foreground"
	TriggerExplicit     TriggerReason = "explicit"
)

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int

	// Failures has one entry per failed attempt, in dispatch order.
	Failures []*SyncError
}

// Drain runs one drain pass over the queue.
//
// Operations are sent one at a time in queue order. Each is re-read before
// sending, and skipped when it is gone, failed, scheduled for later, or
// blocked behind its entity's CREATE. A failure never stops the pass.
//
// A concurrent call returns ErrSyncInProgress immediately.
func (e *Engine) Drain(ctx context.Context) (DrainReport, error) {
	var report DrainReport
	if !e.syncing.CompareAndSwap(false, true) {
		e.recorder.DrainSkipped()
		slog.Debug("drain skipped: sync in progress")
		return report, ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	start := time.Now()
	defer func() { e.recorder.DrainCompleted(time.Since(start)) }()

	e.mu.RLock()
	order := e.queue.IDs()
	e.mu.RUnlock()

	slog.Debug("drain starting", "queued", len(order))

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		op, ok, err := e.claim(ctx, id)
		if err != nil {
			return report, fmt.Errorf("drain: claim %s: %w", id, err)
		}
		if !ok {
			report.Skipped++
			continue
		}
		report.Attempted++

		payload, callErr := e.remote.Call(ctx, op.Path, op.Method, op.Data)
		if callErr != nil && ctx.Err() != nil {
			// Cancelled mid-call: hand the operation back untouched.
			if err := e.release(context.WithoutCancel(ctx), op); err != nil {
				slog.Error("release cancelled operation", "op", op.ID, "error", err)
			}
			return report, ctx.Err()
		}

		if callErr == nil {
			callErr = e.complete(ctx, op, payload)
			if callErr == nil {
				report.Succeeded++
				e.recorder.Dispatched(op.Kind, op.Method, ResultSuccess)
				continue
			}
			callErr = &SyncError{
				Code:        ErrCodeReconcileFailed,
				OperationID: op.ID,
				Message:     callErr.Error(),
				Err:         callErr,
			}
		}

		syncErr, err := e.fail(ctx, op, callErr)
		if err != nil {
			return report, fmt.Errorf("drain: record failure of %s: %w", op.ID, err)
		}
		report.Failed++
		if syncErr != nil {
			report.Failures = append(report.Failures, syncErr)
		}
	}

	slog.Info("drain complete",
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, nil
}

// claim re-reads an operation and marks it processing if it may be sent now.
func (e *Engine) claim(ctx context.Context, id string) (ir.Operation, bool, error) {
	var op ir.Operation
	claimed := false
	err := e.mutate(ctx, func(_ store.Tx, q *Queue, _ *syncMeta) error {
		cur, ok := q.Get(id)
		if !ok || !cur.Eligible(e.clock.Now()) {
			return nil
		}
		if err := q.MarkStatus(id, ir.StatusProcessing); err != nil {
			return err
		}
		op, _ = q.Get(id)
		claimed = true
		return nil
	})
	return op, claimed, err
}

// release returns an in-flight operation to pending without spending a retry.
func (e *Engine) release(ctx context.Context, op ir.Operation) error {
	return e.mutate(ctx, func(_ store.Tx, q *Queue, _ *syncMeta) error {
		if _, ok := q.Get(op.ID); !ok {
			return nil
		}
		if err := q.MarkStatus(op.ID, ir.StatusPending); err != nil {
			return err
		}
		q.Settle(op.Kind, op.FrontendID)
		return nil
	})
}

// complete reconciles a successful response and dequeues the operation,
// all in one transaction.
func (e *Engine) complete(ctx context.Context, op ir.Operation, payload ir.Payload) error {
	return e.mutate(ctx, func(tx store.Tx, q *Queue, meta *syncMeta) error {
		if err := Reconcile(tx, q, op.Callback, op.Kind, op.FrontendID, payload); err != nil {
			return err
		}
		q.Dequeue(op.ID)
		now := e.clock.Now()
		meta.LastSyncTimestamp = &now
		slog.Debug("operation synced", "op", op.ID, "kind", op.Kind, "method", op.Method)
		return nil
	})
}

// fail records a failed attempt and schedules the next one per RetryPolicy.
func (e *Engine) fail(ctx context.Context, op ir.Operation, cause error) (*SyncError, error) {
	var syncErr *SyncError
	var rolledBack bool
	var decision RetryDecision

	err := e.mutate(ctx, func(tx store.Tx, q *Queue, meta *syncMeta) error {
		cur, ok := q.Get(op.ID)
		if !ok {
			return nil // discarded while in flight
		}

		retryCount := cur.RetryCount + 1
		decision = e.policy.Next(retryCount, e.maxRetries, e.clock.Now())
		if err := q.MarkStatus(op.ID, decision.Status); err != nil {
			return err
		}
		if err := q.Modify(op.ID, func(o *ir.Operation) {
			o.RetryCount = retryCount
			o.NextRetryAt = decision.NextRetryAt
		}); err != nil {
			return err
		}

		code, message := ErrCodeRemoteFailed, cause.Error()
		var se *SyncError
		if errors.As(cause, &se) {
			code, message = se.Code, se.Message
		}
		q.SetError(op.ID, message)
		meta.ShouldReload = !meta.ShouldReload

		if decision.Status == ir.StatusFailed {
			code = ErrCodeRetriesExhausted
			if e.rollback {
				if err := rollbackOperation(tx, cur); err != nil {
					return err
				}
				if err := q.Modify(op.ID, func(o *ir.Operation) { o.RolledBack = true }); err != nil {
					return err
				}
				rolledBack = true
			}
		}

		if rolledBack {
			// Later operations built on the rolled back state.
			if dropped := q.RemoveBehind(op.Kind, op.FrontendID, op.ID); len(dropped) > 0 {
				slog.Debug("queued operations dropped after rollback",
					"op", op.ID,
					"dropped", len(dropped),
				)
			}
		} else if removed := q.Settle(op.Kind, op.FrontendID); len(removed) > 0 {
			slog.Debug("queued operations folded after failure",
				"op", op.ID,
				"folded", len(removed),
			)
		}

		syncErr = &SyncError{
			Code:        code,
			OperationID: op.ID,
			Message:     message,
			RetryCount:  retryCount,
			Err:         cause,
		}
		return nil
	})
	if err != nil || syncErr == nil {
		return nil, err
	}

	result := ResultRetry
	if decision.Status == ir.StatusFailed {
		result = ResultFailed
	}
	e.recorder.Dispatched(op.Kind, op.Method, result)
	e.signalReload()

	if decision.Status == ir.StatusFailed {
		slog.Error("operation failed permanently",
			"op", op.ID,
			"kind", op.Kind,
			"method", op.Method,
			"retries", syncErr.RetryCount,
			"rolled_back", rolledBack,
			"error", cause,
		)
		e.notifier.Notify(Notice{
			Level:    NoticeError,
			Action:   "sync",
			Kind:     op.Kind,
			EntityID: op.FrontendID,
			Message:  fmt.Sprintf("%s could not be synced", op.Kind),
			Err:      syncErr,
		})
	} else {
		slog.Warn("operation failed, will retry",
			"op", op.ID,
			"kind", op.Kind,
			"method", op.Method,
			"retries", syncErr.RetryCount,
			"next_retry_at", decision.NextRetryAt,
			"error", cause,
		)
	}
	return syncErr, nil
}

// rollbackOperation restores the entity as it was before the operation.
func rollbackOperation(tx store.Tx, op ir.Operation) error {
	if op.Method == ir.MethodCreate {
		if err := tx.Delete(op.Kind.Bucket(), op.FrontendID); err != nil {
			return fmt.Errorf("rollback %s: %w", op.ID, err)
		}
		return nil
	}
	if op.Previous == nil {
		return nil
	}
	prev := ir.Entity{Kind: op.Kind, ID: op.FrontendID, Fields: op.Previous.Clone()}
	if err := putEntity(tx, prev); err != nil {
		return fmt.Errorf("rollback %s: %w", op.ID, err)
	}
	return nil
}

// Trigger requests a drain pass from Run. It never blocks; requests made
// while one is already pending are merged.
func (e *Engine) Trigger(reason TriggerReason) {
	select {
	case e.triggers <- reason:
	default:
	}
}

// signalReload wakes Run so it reschedules its retry timer.
func (e *Engine) signalReload() {
	select {
	case e.reload <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled.
//
// A pass runs at startup, every interval, on Trigger, and when the earliest
// scheduled retry comes due. Failures flip shouldReload, which makes Run
// recompute the retry timer without draining again.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	slog.Info("sync loop starting", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	retryTimer := time.NewTimer(time.Hour)
	retryTimer.Stop()
	defer retryTimer.Stop()

	reason := TriggerStartup
	for {
		e.drainLogged(ctx, reason)
		e.scheduleRetry(retryTimer)

		var err error
		reason, err = e.waitForTrigger(ctx, ticker, retryTimer)
		if err != nil {
			slog.Info("sync loop stopping: context cancelled")
			return err
		}
	}
}

// waitForTrigger blocks until the next drain is due.
func (e *Engine) waitForTrigger(ctx context.Context, ticker *time.Ticker, retryTimer *time.Timer) (TriggerReason, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			return TriggerTimer, nil
		case <-retryTimer.C:
			return TriggerRetry, nil
		case reason := <-e.triggers:
			return reason, nil
		case <-e.reload:
			e.scheduleRetry(retryTimer)
		}
	}
}

func (e *Engine) drainLogged(ctx context.Context, reason TriggerReason) {
	slog.Debug("drain triggered", "reason", reason)
	if _, err := e.Drain(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) && ctx.Err() == nil {
		slog.Error("drain failed", "reason", reason, "error", err)
	}
}

// scheduleRetry arms timer for the earliest nextRetryAt.
func (e *Engine) scheduleRetry(timer *time.Timer) {
	timer.Stop()
	next := e.NextRetryAt()
	if next == nil {
		return
	}
	d := next.Sub(e.clock.Now())
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}
