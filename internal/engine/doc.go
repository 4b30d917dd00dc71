// Package engine implements the offline mutation queue and sync engine.
//
// The engine keeps a household finance ledger usable without a network.
// Every local mutation is applied to the LocalStore immediately and recorded
// as an Operation in a durable queue. A dispatcher later replays the queue
// against the remote API and reconciles the server's answer back into the
// LocalStore.
//
// ARCHITECTURE:
//
// Owned State Container:
// The queue, the sync metadata and every entity write go through Engine
// methods. Each mutation runs against a working copy of the queue inside one
// LocalStore transaction. The working copy replaces the live queue only after
// the transaction commits, so a failed write never leaves memory and disk out
// of step.
//
// Mutation Flow:
//  1. Create/Update/Delete validate the payload and apply it to the LocalStore
//  2. The matching Operation is enqueued in the same transaction
//  3. Drain sends eligible operations in queue order, one at a time
//  4. Success runs the reconciliation callback and dequeues the operation
//  5. Failure consults the RetryPolicy and keeps the operation queued
//
// Identifiers:
// Entities created offline get a temporary id ("f_b-xxxxxxxxxx"). On a
// successful CREATE the entity is re-keyed to the server id, every queued
// operation that still names the temporary id is patched, and the alias is
// remembered so late callers holding the old id still resolve.
//
// CRITICAL PATTERNS:
//
// Single Drain:
// At most one drain pass runs at a time. A second caller gets
// ErrSyncInProgress immediately and never waits.
//
// Coalescing:
// At most one unsent operation exists per (kind, entity id). A newer
// mutation replaces the older one in place.
//
// Remote calls never run under the engine lock.
package engine
