// Package store provides the durable key-value LocalStore behind spendsync.
//
// The sync engine treats persistence as a black box: named buckets of
// byte values addressed by string keys, read and written inside
// transactions. Two interchangeable backends implement KV:
//   - SQLite (Open): a single kv table, the default
//   - bbolt (OpenBolt): one bolt bucket per logical bucket
//
// # Persisted Layout
//
//   - main.expenses, main.incomes, main.budgets, main.categories,
//     main.categoryGroups: entity fields as JSON, keyed by entity id
//   - sync/pendingOperations: the mutation queue as a JSON array, in order
//   - sync/syncErrors: operation id -> last error message
//   - sync/meta: lastSyncTimestamp and shouldReload
//   - sync/idMap: frontend id -> server id aliases
//
// # Critical Patterns
//
// Update is all-or-nothing. Reconciliation re-keys an entity and patches
// the queue in one Update, so no reader observes an entity under neither
// id or under both.
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
