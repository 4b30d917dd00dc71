package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/store"
)

// Create inserts a new entity under a temporary id and queues its CREATE.
// The entity and the operation are written in one transaction.
func (e *Engine) Create(ctx context.Context, kind ir.EntityKind, data ir.Payload) (ir.Entity, error) {
	data = withoutID(data)
	if err := e.check(kind, ir.MethodCreate, data); err != nil {
		e.notifyFailure("create", kind, "", err)
		return ir.Entity{}, err
	}

	var ent ir.Entity
	var op ir.Operation
	err := e.mutate(ctx, func(tx store.Tx, q *Queue, _ *syncMeta) error {
		id := e.alloc.Next(kind.TempPrefix(), entityExists(tx, kind))
		ent = ir.NewEntity(kind, id, data)
		if err := putEntity(tx, ent); err != nil {
			return err
		}
		var err error
		op, err = q.Enqueue(ir.OperationInput{
			Kind:       kind,
			Path:       kind.CollectionPath(),
			Method:     ir.MethodCreate,
			Data:       data,
			FrontendID: id,
			Callback:   ir.CallbackReplaceID,
		})
		return err
	})
	if err != nil {
		err = fmt.Errorf("create %s: %w", kind, err)
		e.notifyFailure("create", kind, "", err)
		return ir.Entity{}, err
	}

	e.recorder.Enqueued(kind, op.Method)
	slog.Debug("entity created", "kind", kind, "id", ent.ID, "op", op.ID)
	e.notifier.Notify(Notice{
		Level:    NoticeInfo,
		Action:   "create",
		Kind:     kind,
		EntityID: ent.ID,
		Message:  fmt.Sprintf("%s saved", kind),
	})
	return ent, nil
}

// Update changes an entity's fields in place and queues the change.
//
// With partial set the fields are merged over the current ones; otherwise
// they replace them. The id never changes. A temporary id that has since
// been reconciled resolves to the server id.
func (e *Engine) Update(ctx context.Context, kind ir.EntityKind, id string, data ir.Payload, partial bool) (ir.Entity, error) {
	method := ir.MethodReplaceFull
	if partial {
		method = ir.MethodReplacePartial
	}
	data = withoutID(data)
	if err := e.check(kind, method, data); err != nil {
		e.notifyFailure("update", kind, id, err)
		return ir.Entity{}, err
	}

	var ent ir.Entity
	var op ir.Operation
	err := e.mutate(ctx, func(tx store.Tx, q *Queue, _ *syncMeta) error {
		resolved, err := resolveID(tx, id)
		if err != nil {
			return err
		}
		cur, err := getEntity(tx, kind, resolved)
		if err != nil {
			return err
		}

		fields := data.Clone()
		if partial {
			fields = cur.Fields.Merge(data)
		}
		fields["id"] = cur.Fields["id"]
		ent = ir.Entity{Kind: kind, ID: resolved, Fields: fields}
		if err := putEntity(tx, ent); err != nil {
			return err
		}

		op, err = q.Enqueue(ir.OperationInput{
			Kind:       kind,
			Path:       kind.ResourcePath(resolved),
			Method:     method,
			Data:       data,
			FrontendID: resolved,
			Callback:   ir.CallbackMergeFields,
			Previous:   cur.Fields,
		})
		return err
	})
	if err != nil {
		err = fmt.Errorf("update %s %s: %w", kind, id, err)
		e.notifyFailure("update", kind, id, err)
		return ir.Entity{}, err
	}

	e.recorder.Enqueued(kind, op.Method)
	slog.Debug("entity updated", "kind", kind, "id", ent.ID, "op", op.ID, "method", op.Method)
	e.notifier.Notify(Notice{
		Level:    NoticeInfo,
		Action:   "update",
		Kind:     kind,
		EntityID: ent.ID,
		Message:  fmt.Sprintf("%s updated", kind),
	})
	return ent, nil
}

// Delete removes an entity immediately.
//
// For a temporary id whose CREATE has not been sent, every queued operation
// for it is dropped and nothing is sent. If the CREATE is in flight a DELETE
// is queued; it waits for reconciliation to give it the server id. A server
// id always queues a DELETE, coalescing any unsent update.
func (e *Engine) Delete(ctx context.Context, kind ir.EntityKind, id string) error {
	var superseded []ir.Operation
	var queued *ir.Operation
	err := e.mutate(ctx, func(tx store.Tx, q *Queue, _ *syncMeta) error {
		resolved, err := resolveID(tx, id)
		if err != nil {
			return err
		}
		cur, err := getEntity(tx, kind, resolved)
		if err != nil {
			return err
		}
		if err := tx.Delete(kind.Bucket(), resolved); err != nil {
			return fmt.Errorf("delete %s %s: %w", kind, resolved, err)
		}

		if ir.IsFrontendID(resolved) {
			if _, inFlight := q.InFlight(kind, resolved); !inFlight {
				superseded = q.RemoveFor(kind, resolved)
				return nil
			}
		}

		op, err := q.Enqueue(ir.OperationInput{
			Kind:       kind,
			Path:       kind.ResourcePath(resolved),
			Method:     ir.MethodDelete,
			FrontendID: resolved,
			Callback:   ir.CallbackConfirmDelete,
			Previous:   cur.Fields,
		})
		if err != nil {
			return err
		}
		queued = &op
		return nil
	})
	if err != nil {
		err = fmt.Errorf("delete %s %s: %w", kind, id, err)
		e.notifyFailure("delete", kind, id, err)
		return err
	}

	if queued != nil {
		e.recorder.Enqueued(kind, queued.Method)
		slog.Debug("entity deleted", "kind", kind, "id", id, "op", queued.ID)
	} else {
		slog.Debug("entity deleted before sync, operations superseded",
			"kind", kind,
			"id", id,
			"superseded", len(superseded),
		)
	}
	e.notifier.Notify(Notice{
		Level:    NoticeInfo,
		Action:   "delete",
		Kind:     kind,
		EntityID: id,
		Message:  fmt.Sprintf("%s deleted", kind),
	})
	return nil
}

// check validates kind and payload before anything is written.
func (e *Engine) check(kind ir.EntityKind, method ir.Method, data ir.Payload) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown entity kind %q", ErrInvalidPayload, kind)
	}
	if e.validator == nil {
		return nil
	}
	if err := e.validator.Validate(kind, method, data); err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (e *Engine) notifyFailure(action string, kind ir.EntityKind, id string, err error) {
	e.notifier.Notify(Notice{
		Level:    NoticeError,
		Action:   action,
		Kind:     kind,
		EntityID: id,
		Message:  fmt.Sprintf("%s %s failed", action, kind),
		Err:      err,
	})
}

// withoutID drops a caller-supplied "id"; ids are owned by the engine.
func withoutID(data ir.Payload) ir.Payload {
	out := data.Clone()
	if out == nil {
		return ir.Payload{}
	}
	delete(out, "id")
	return out
}
