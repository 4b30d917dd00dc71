package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/store"
	"github.com/roach88/spendsync/internal/testutil"
)

// newTestKV opens a SQLite store in a temp directory.
func newTestKV(t *testing.T) store.KV {
	t.Helper()
	kv, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

// newTestBoltKV opens a bbolt store in a temp directory.
func newTestBoltKV(t *testing.T) store.KV {
	t.Helper()
	kv, err := store.OpenBolt(filepath.Join(t.TempDir(), "engine.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

// putRaw stores a raw persisted queue.
func putRaw(t *testing.T, kv store.KV, queue []byte) {
	t.Helper()
	require.NoError(t, kv.Update(context.Background(), func(tx store.Tx) error {
		return tx.Put(store.BucketSync, store.KeyPendingOperations, queue)
	}))
}

// fixture wires an Engine to deterministic collaborators.
type fixture struct {
	t      *testing.T
	kv     store.KV
	remote *testutil.ScriptedRemote
	clock  *testutil.ManualClock
	ids    *SequenceGenerator
	alloc  *Allocator
	notes  *noticeLog
	opts   []Option
	eng    *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureOn(t, newTestKV(t), opts...)
}

func newFixtureOn(t *testing.T, kv store.KV, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		kv:     kv,
		remote: testutil.NewScriptedRemote(1),
		clock:  testutil.NewManualClock(time.Time{}),
		ids:    NewSequenceGenerator("op"),
		alloc:  NewAllocator(WithEntropy(&testutil.SequentialEntropy{})),
		notes:  &noticeLog{},
		opts:   opts,
	}
	f.eng = f.open(opts...)
	return f
}

// open builds an engine over the fixture's store. Later options win.
func (f *fixture) open(extra ...Option) *Engine {
	f.t.Helper()
	opts := append([]Option{
		WithClock(f.clock),
		WithOperationIDs(f.ids),
		WithAllocator(f.alloc),
		WithNotifier(f.notes),
	}, extra...)
	eng, err := New(context.Background(), f.kv, f.remote, opts...)
	require.NoError(f.t, err)
	return eng
}

// reopen simulates a process restart.
func (f *fixture) reopen(extra ...Option) *Engine {
	f.t.Helper()
	f.eng = f.open(append(append([]Option{}, f.opts...), extra...)...)
	return f.eng
}

func (f *fixture) entities(kind ir.EntityKind) []ir.Entity {
	f.t.Helper()
	list, err := f.eng.Entities(context.Background(), kind)
	require.NoError(f.t, err)
	return list
}

func (f *fixture) drain() DrainReport {
	f.t.Helper()
	report, err := f.eng.Drain(context.Background())
	require.NoError(f.t, err)
	return report
}

// create adds an entity and returns its temporary id.
func (f *fixture) create(kind ir.EntityKind, data ir.Payload) string {
	f.t.Helper()
	ent, err := f.eng.Create(context.Background(), kind, data)
	require.NoError(f.t, err)
	return ent.ID
}

// noticeLog collects notices.
type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) Notify(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) all() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notice(nil), l.notices...)
}

// validatorFunc adapts a function to Validator.
type validatorFunc func(kind ir.EntityKind, method ir.Method, data ir.Payload) error

func (f validatorFunc) Validate(kind ir.EntityKind, method ir.Method, data ir.Payload) error {
	return f(kind, method, data)
}
