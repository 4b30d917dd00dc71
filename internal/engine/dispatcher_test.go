package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/testutil"
)

func TestDrain_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	report := f.drain()
	assert.Equal(t, DrainReport{}, report)
	assert.Nil(t, f.eng.State().LastSyncTimestamp)
}

func TestDrain_RetryUntilTerminal(t *testing.T) {
	f := newFixture(t, WithMaxRetries(3))
	f.remote.SetOffline(testutil.ErrOffline)
	f.create(ir.KindExpense, ir.Payload{"amount": "12.50"})

	report := f.drain()
	require.Equal(t, 1, report.Failed)
	op := f.eng.Pending()[0]
	assert.Equal(t, ir.StatusRetrying, op.Status)
	assert.Equal(t, 1, op.RetryCount)
	require.NotNil(t, op.NextRetryAt)
	assert.Equal(t, f.clock.Now().Add(DefaultRetryDelay), *op.NextRetryAt)
	assert.Equal(t, "network unreachable", f.eng.State().SyncErrors[op.ID])

	// Not due yet.
	report = f.drain()
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Attempted)
	assert.Len(t, f.remote.Calls(), 1)

	f.clock.Advance(DefaultRetryDelay)
	report = f.drain()
	require.Equal(t, 1, report.Failed)
	assert.False(t, IsRetriesExhausted(report.Failures[0]))
	assert.Equal(t, 2, f.eng.Pending()[0].RetryCount)

	f.clock.Advance(DefaultRetryDelay)
	report = f.drain()
	require.Len(t, report.Failures, 1)
	assert.True(t, IsRetriesExhausted(report.Failures[0]))
	assert.Equal(t, 3, report.Failures[0].RetryCount)
	assert.ErrorIs(t, report.Failures[0], testutil.ErrOffline)

	op = f.eng.Pending()[0]
	assert.Equal(t, ir.StatusFailed, op.Status)
	assert.Equal(t, 3, op.RetryCount)
	assert.Nil(t, op.NextRetryAt)

	// Failed operations are never sent again without a retry.
	f.remote.SetOffline(nil)
	f.clock.Advance(time.Hour)
	report = f.drain()
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, f.remote.Calls(), 3)

	state := f.eng.State()
	assert.True(t, state.ShouldReload, "three failures leave the flag flipped")
	assert.Contains(t, state.SyncErrors, op.ID)

	var syncNotices int
	for _, n := range f.notes.all() {
		if n.Action == "sync" {
			syncNotices++
			assert.Equal(t, NoticeError, n.Level)
		}
	}
	assert.Equal(t, 1, syncNotices, "only terminal failures are surfaced")
}

func TestDrain_CustomRetryPolicy(t *testing.T) {
	f := newFixture(t, WithRetryPolicy(FixedDelay{Delay: time.Minute}))
	f.remote.SetOffline(testutil.ErrOffline)
	f.create(ir.KindIncome, ir.Payload{"amount": "1"})

	f.drain()
	next := f.eng.NextRetryAt()
	require.NotNil(t, next)
	assert.Equal(t, f.clock.Now().Add(time.Minute), *next)
}

func TestDrain_ShouldReloadToggles(t *testing.T) {
	f := newFixture(t)
	f.remote.SetOffline(testutil.ErrOffline)
	f.create(ir.KindExpense, ir.Payload{"amount": "1"})

	f.drain()
	assert.True(t, f.eng.State().ShouldReload)

	f.clock.Advance(DefaultRetryDelay)
	f.drain()
	assert.False(t, f.eng.State().ShouldReload)
}

func TestDrain_FailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.remote.Reply(ir.MethodCreate, "main/expense", testutil.Reply{Err: errors.New("500 internal")})

	f.create(ir.KindExpense, ir.Payload{"amount": "1"})
	f.create(ir.KindBudget, ir.Payload{"amount": "2"})

	report := f.drain()
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Succeeded)

	pending := f.eng.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, ir.KindExpense, pending[0].Kind)

	budgets := f.entities(ir.KindBudget)
	require.Len(t, budgets, 1)
	assert.Equal(t, "1", budgets[0].ID)
}

func TestDrain_MutualExclusion(t *testing.T) {
	f := newFixture(t)
	f.create(ir.KindCategory, ir.Payload{"name": "Fun"})

	entered := make(chan struct{})
	release := make(chan struct{})
	f.remote.OnCall(func(ctx context.Context, _ testutil.RemoteCall) {
		close(entered)
		<-release
	})

	var g errgroup.Group
	g.Go(func() error {
		_, err := f.eng.Drain(context.Background())
		return err
	})

	<-entered
	assert.True(t, f.eng.State().IsSyncing)
	assert.Equal(t, ir.StatusProcessing, f.eng.Pending()[0].Status)

	_, err := f.eng.Drain(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	err = f.eng.Discard(context.Background(), f.eng.Pending()[0].ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	close(release)
	require.NoError(t, g.Wait())
	assert.False(t, f.eng.State().IsSyncing)
	assert.Empty(t, f.eng.Pending())
	assert.Len(t, f.remote.Calls(), 1)
}

// onFirstCall runs fn once, during the first remote call.
func onFirstCall(f *fixture, fn func(ctx context.Context)) {
	var done atomic.Bool
	f.remote.OnCall(func(ctx context.Context, _ testutil.RemoteCall) {
		if done.CompareAndSwap(false, true) {
			fn(ctx)
		}
	})
}

func TestDrain_UpdateDuringInFlightCreate(t *testing.T) {
	f := newFixture(t)
	id := f.create(ir.KindBudget, ir.Payload{"amount": "5"})

	onFirstCall(f, func(ctx context.Context) {
		_, err := f.eng.Update(ctx, ir.KindBudget, id, ir.Payload{"amount": "7"}, true)
		assert.NoError(t, err)
	})

	report := f.drain()
	assert.Equal(t, 1, report.Succeeded)

	pending := f.eng.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, ir.MethodReplacePartial, pending[0].Method)
	assert.Equal(t, "1", pending[0].FrontendID)
	assert.Equal(t, []string{"main", "budget", "1"}, pending[0].Path)
	assert.Equal(t, ir.StatusPending, pending[0].Status)

	report = f.drain()
	assert.Equal(t, 1, report.Succeeded)
	assert.Empty(t, f.eng.Pending())

	calls := f.remote.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "main/budget/1", calls[1].Endpoint())
	assert.Equal(t, ir.Payload{"amount": "7"}, calls[1].Data)

	budgets := f.entities(ir.KindBudget)
	require.Len(t, budgets, 1)
	assert.Equal(t, "7", budgets[0].Fields["amount"])
}

func TestDrain_DeleteDuringInFlightCreate(t *testing.T) {
	f := newFixture(t)
	id := f.create(ir.KindBudget, ir.Payload{"amount": "5"})

	onFirstCall(f, func(ctx context.Context) {
		assert.NoError(t, f.eng.Delete(ctx, ir.KindBudget, id))
	})

	f.drain()
	assert.Empty(t, f.entities(ir.KindBudget), "reconciliation must not recreate a deleted entity")

	pending := f.eng.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, ir.MethodDelete, pending[0].Method)
	assert.Equal(t, []string{"main", "budget", "1"}, pending[0].Path)

	f.drain()
	assert.Empty(t, f.eng.Pending())
	calls := f.remote.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ir.MethodDelete, calls[1].Method)
	assert.Equal(t, "main/budget/1", calls[1].Endpoint())
	assert.Empty(t, f.entities(ir.KindBudget))
}

func TestDrain_FailedCreateWithQueuedDeleteCancels(t *testing.T) {
	f := newFixture(t)
	id := f.create(ir.KindBudget, ir.Payload{"amount": "5"})
	f.remote.Reply(ir.MethodCreate, "main/budget", testutil.Reply{Err: errors.New("503 unavailable")})

	onFirstCall(f, func(ctx context.Context) {
		assert.NoError(t, f.eng.Delete(ctx, ir.KindBudget, id))
	})

	report := f.drain()
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, f.eng.Pending())
	assert.Empty(t, f.eng.State().SyncErrors)
	assert.Empty(t, f.entities(ir.KindBudget))
}

func TestDrain_TerminalFailureSurvivesQueuedUpdate(t *testing.T) {
	f := newFixture(t, WithMaxRetries(1))
	id := f.create(ir.KindBudget, ir.Payload{"amount": "5"})
	f.remote.Reply(ir.MethodCreate, "main/budget", testutil.Reply{Err: errors.New("422 unprocessable")})

	onFirstCall(f, func(ctx context.Context) {
		_, err := f.eng.Update(ctx, ir.KindBudget, id, ir.Payload{"amount": "7"}, true)
		assert.NoError(t, err)
	})

	report := f.drain()
	assert.Equal(t, 1, report.Failed)

	pending := f.eng.Pending()
	require.Len(t, pending, 1)
	op := pending[0]
	assert.Equal(t, "op-1", op.ID, "the failed operation keeps its id")
	assert.Equal(t, ir.MethodCreate, op.Method)
	assert.Equal(t, ir.StatusFailed, op.Status)
	assert.Equal(t, 1, op.RetryCount)
	assert.Equal(t, "7", op.Data["amount"])
	assert.Contains(t, f.eng.State().SyncErrors["op-1"], "422 unprocessable")

	report = f.drain()
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, f.remote.Calls(), 1, "a failed operation is not sent again")
}

func TestDrain_RetryDelaySurvivesQueuedUpdate(t *testing.T) {
	f := newFixture(t)
	id := f.create(ir.KindBudget, ir.Payload{"amount": "5"})
	f.remote.Reply(ir.MethodCreate, "main/budget", testutil.Reply{Err: errors.New("503 unavailable")})

	onFirstCall(f, func(ctx context.Context) {
		_, err := f.eng.Update(ctx, ir.KindBudget, id, ir.Payload{"amount": "7"}, true)
		assert.NoError(t, err)
	})

	f.drain()

	pending := f.eng.Pending()
	require.Len(t, pending, 1)
	op := pending[0]
	assert.Equal(t, "op-1", op.ID)
	assert.Equal(t, ir.StatusRetrying, op.Status)
	assert.Equal(t, 1, op.RetryCount)
	require.NotNil(t, op.NextRetryAt)
	assert.Equal(t, f.clock.Now().Add(DefaultRetryDelay), *op.NextRetryAt)
	assert.Contains(t, f.eng.State().SyncErrors["op-1"], "503 unavailable")

	report := f.drain()
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, f.remote.Calls(), 1, "not resent before the retry delay")

	f.clock.Advance(DefaultRetryDelay)
	report = f.drain()
	assert.Equal(t, 1, report.Succeeded)
	assert.Empty(t, f.eng.Pending())
	assert.Empty(t, f.eng.State().SyncErrors)

	calls := f.remote.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ir.MethodCreate, calls[1].Method)
	assert.Equal(t, "7", calls[1].Data["amount"])
}

func TestDrain_RollbackDropsQueuedUpdate(t *testing.T) {
	f := newFixture(t, WithMaxRetries(1), WithRollbackOnFailure(true))
	id := f.create(ir.KindBudget, ir.Payload{"amount": "5"})
	f.remote.Reply(ir.MethodCreate, "main/budget", testutil.Reply{Err: errors.New("503 unavailable")})

	onFirstCall(f, func(ctx context.Context) {
		_, err := f.eng.Update(ctx, ir.KindBudget, id, ir.Payload{"amount": "7"}, true)
		assert.NoError(t, err)
	})

	f.drain()
	assert.Empty(t, f.entities(ir.KindBudget))

	pending := f.eng.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "op-1", pending[0].ID)
	assert.Equal(t, ir.StatusFailed, pending[0].Status)
	assert.True(t, pending[0].RolledBack)
	assert.Contains(t, f.eng.State().SyncErrors["op-1"], "503 unavailable")

	f.clock.Advance(time.Hour)
	f.drain()
	assert.Len(t, f.remote.Calls(), 1, "nothing rolled back reaches the server")
	assert.Empty(t, f.entities(ir.KindBudget))
}

func TestDrain_EditAfterRollbackStartsFresh(t *testing.T) {
	f := newFixture(t, WithMaxRetries(1), WithRollbackOnFailure(true))
	ctx := context.Background()

	f.create(ir.KindBudget, ir.Payload{"amount": "900", "name": "Food"})
	f.drain()

	_, err := f.eng.Update(ctx, ir.KindBudget, "1", ir.Payload{"amount": "100"}, true)
	require.NoError(t, err)
	f.remote.SetOffline(testutil.ErrOffline)
	f.drain()
	f.remote.SetOffline(nil)

	_, err = f.eng.Update(ctx, ir.KindBudget, "1", ir.Payload{"name": "Groceries"}, true)
	require.NoError(t, err)

	pending := f.eng.Pending()
	require.Len(t, pending, 2)
	assert.True(t, pending[0].RolledBack)
	assert.Equal(t, ir.StatusPending, pending[1].Status)
	assert.Equal(t, ir.Payload{"name": "Groceries"}, pending[1].Data, "rolled back fields are not resent")

	f.drain()
	calls := f.remote.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "main/budget/1", last.Endpoint())
	assert.Equal(t, ir.Payload{"name": "Groceries"}, last.Data)
}

func TestDrain_MissingServerID(t *testing.T) {
	f := newFixture(t)
	id := f.create(ir.KindBudget, ir.Payload{"amount": "5"})
	f.remote.Reply(ir.MethodCreate, "main/budget", testutil.Reply{Payload: ir.Payload{"amount": "5"}})

	report := f.drain()
	require.Len(t, report.Failures, 1)
	assert.True(t, IsReconcileError(report.Failures[0]))
	assert.ErrorIs(t, report.Failures[0], ErrMissingServerID)

	op := f.eng.Pending()[0]
	assert.Equal(t, ir.StatusRetrying, op.Status)
	assert.Equal(t, id, op.FrontendID)

	budgets := f.entities(ir.KindBudget)
	require.Len(t, budgets, 1)
	assert.Equal(t, id, budgets[0].ID, "entity keeps its temporary id")
}

func TestDrain_CancelReleasesOperation(t *testing.T) {
	f := newFixture(t)
	f.create(ir.KindExpense, ir.Payload{"amount": "1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.remote.OnCall(func(context.Context, testutil.RemoteCall) { cancel() })

	_, err := f.eng.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	op := f.eng.Pending()[0]
	assert.Equal(t, ir.StatusPending, op.Status)
	assert.Equal(t, 0, op.RetryCount, "cancellation does not spend a retry")
	assert.Empty(t, f.eng.State().SyncErrors)
	assert.False(t, f.eng.State().IsSyncing)
}

func TestDrain_RollbackOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		rollback bool
		want     string
	}{
		{name: "rollback restores pre-image", rollback: true, want: "900"},
		{name: "default keeps optimistic state", rollback: false, want: "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithMaxRetries(1), WithRollbackOnFailure(tt.rollback))
			ctx := context.Background()

			f.create(ir.KindBudget, ir.Payload{"amount": "900"})
			f.drain()

			_, err := f.eng.Update(ctx, ir.KindBudget, "1", ir.Payload{"amount": "100"}, true)
			require.NoError(t, err)

			f.remote.SetOffline(testutil.ErrOffline)
			f.drain()

			ent, err := f.eng.Entity(ctx, ir.KindBudget, "1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ent.Fields["amount"])

			op := f.eng.Pending()[0]
			assert.Equal(t, tt.rollback, op.RolledBack)

			err = f.eng.Retry(ctx, op.ID)
			if tt.rollback {
				assert.ErrorIs(t, err, ErrRolledBack)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDrain_RollbackRemovesCreatedEntity(t *testing.T) {
	f := newFixture(t, WithMaxRetries(1), WithRollbackOnFailure(true))
	f.remote.SetOffline(testutil.ErrOffline)

	f.create(ir.KindCategory, ir.Payload{"name": "Gone"})
	f.drain()

	assert.Empty(t, f.entities(ir.KindCategory))
	n, err := f.eng.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "rolled back operations are not re-armed")
}

func TestRun_DrainsOnStartupAndTrigger(t *testing.T) {
	f := newFixture(t)
	f.create(ir.KindExpense, ir.Payload{"amount": "1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.eng.Run(ctx, time.Hour) }()

	assert.Eventually(t, func() bool { return len(f.eng.Pending()) == 0 },
		2*time.Second, 10*time.Millisecond, "startup pass")

	f.create(ir.KindExpense, ir.Payload{"amount": "2"})
	f.eng.Trigger(TriggerConnectivity)

	assert.Eventually(t, func() bool { return len(f.eng.Pending()) == 0 },
		2*time.Second, 10*time.Millisecond, "triggered pass")
	assert.Len(t, f.entities(ir.KindExpense), 2)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestTrigger_NeverBlocks(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.eng.Trigger(TriggerForeground)
	}
	assert.Len(t, f.eng.triggers, 1)
}
