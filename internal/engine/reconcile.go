package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/store"
)

// reconcileFunc merges a server response into the LocalStore.
// frontendID is the id the operation targeted when it was sent.
type reconcileFunc func(tx store.Tx, q *Queue, kind ir.EntityKind, frontendID string, payload ir.Payload) error

// reconcilers is indexed by ir.Callback. Every callback needs an entry; a
// missing one is reported by Reconcile as an unknown callback.
var reconcilers = [ir.CallbackCount]reconcileFunc{
	ir.CallbackNone:          reconcileNone,
	ir.CallbackReplaceID:     reconcileReplaceID,
	ir.CallbackMergeFields:   reconcileMergeFields,
	ir.CallbackConfirmDelete: reconcileConfirmDelete,
}

// Reconcile applies a successful server response for (kind, frontendID)
// using the routine selected by cb. It runs inside the caller's transaction
// so the re-key is atomic for readers.
func Reconcile(tx store.Tx, q *Queue, cb ir.Callback, kind ir.EntityKind, frontendID string, payload ir.Payload) error {
	if int(cb) >= len(reconcilers) || reconcilers[cb] == nil {
		return fmt.Errorf("reconcile: unknown callback %d", uint8(cb))
	}
	return reconcilers[cb](tx, q, kind, frontendID, payload)
}

func reconcileNone(store.Tx, *Queue, ir.EntityKind, string, ir.Payload) error {
	return nil
}

// reconcileReplaceID re-keys a created entity from its temporary id to the
// server id and patches every queued operation that still names the old id.
// A locally deleted entity is not recreated, but the queue is still patched
// so a DELETE queued during the create reaches the server.
func reconcileReplaceID(tx store.Tx, q *Queue, kind ir.EntityKind, frontendID string, payload ir.Payload) error {
	serverID, ok := ir.IDString(payload["id"])
	if !ok {
		return fmt.Errorf("reconcile %s %s: %w", kind, frontendID, ErrMissingServerID)
	}
	if serverID == frontendID {
		return reconcileMergeFields(tx, q, kind, frontendID, payload)
	}

	cur, err := getEntity(tx, kind, frontendID)
	switch {
	case errors.Is(err, ErrEntityNotFound):
		slog.Debug("reconcile target gone, skipping entity re-key",
			"kind", kind,
			"frontend_id", frontendID,
			"server_id", serverID,
		)
	case err != nil:
		return fmt.Errorf("reconcile %s %s: %w", kind, frontendID, err)
	default:
		merged := ir.Entity{Kind: kind, ID: serverID, Fields: cur.Fields.Merge(payload)}
		if err := putEntity(tx, merged); err != nil {
			return fmt.Errorf("reconcile %s %s: %w", kind, frontendID, err)
		}
		if err := tx.Delete(kind.Bucket(), frontendID); err != nil {
			return fmt.Errorf("reconcile %s %s: %w", kind, frontendID, err)
		}
	}

	patched := q.Rekey(kind, frontendID, serverID)
	if err := recordAlias(tx, frontendID, serverID); err != nil {
		return fmt.Errorf("reconcile %s %s: %w", kind, frontendID, err)
	}

	slog.Info("entity reconciled",
		"kind", kind,
		"frontend_id", frontendID,
		"server_id", serverID,
		"patched_operations", patched,
	)
	return nil
}

// reconcileMergeFields writes the server's view of an updated entity.
func reconcileMergeFields(tx store.Tx, _ *Queue, kind ir.EntityKind, id string, payload ir.Payload) error {
	if len(payload) == 0 {
		return nil
	}
	cur, err := getEntity(tx, kind, id)
	if errors.Is(err, ErrEntityNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile %s %s: %w", kind, id, err)
	}
	fields := cur.Fields.Merge(payload)
	fields["id"] = cur.Fields["id"]
	return putEntity(tx, ir.Entity{Kind: kind, ID: id, Fields: fields})
}

// reconcileConfirmDelete makes sure a deleted entity stays gone.
func reconcileConfirmDelete(tx store.Tx, _ *Queue, kind ir.EntityKind, id string, _ ir.Payload) error {
	if err := tx.Delete(kind.Bucket(), id); err != nil {
		return fmt.Errorf("reconcile %s %s: %w", kind, id, err)
	}
	return nil
}
