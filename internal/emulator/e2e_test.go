package emulator_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/spendsync/internal/emulator"
	"github.com/roach88/spendsync/internal/engine"
	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/remote"
	"github.com/roach88/spendsync/internal/schema"
	"github.com/roach88/spendsync/internal/store"
	"github.com/roach88/spendsync/internal/testutil"
)

func TestEndToEnd_OfflineThenOnline(t *testing.T) {
	ctx := context.Background()

	serverKV, err := store.Open(":memory:")
	require.NoError(t, err)
	defer serverKV.Close()
	srv := emulator.New(serverKV, emulator.WithToken("tok"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	localKV, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	defer localKV.Close()

	clock := testutil.NewManualClock(testutil.DefaultEpoch)
	eng, err := engine.New(ctx, localKV, remote.New(ts.URL, remote.WithToken("tok")),
		engine.WithClock(clock),
		engine.WithValidator(schema.MustNew()),
	)
	require.NoError(t, err)

	groupEnt, err := eng.Create(ctx, ir.KindCategoryGroup, ir.Payload{"name": "Home"})
	require.NoError(t, err)
	budget, err := eng.Create(ctx, ir.KindBudget, ir.Payload{"name": "Food", "amount": "400"})
	require.NoError(t, err)
	_, err = eng.Update(ctx, ir.KindBudget, budget.ID, ir.Payload{"period": "weekly"}, true)
	require.NoError(t, err)
	require.Len(t, eng.Pending(), 2)

	// The server is down for the first attempt.
	srv.FailNext(2, http.StatusServiceUnavailable, "maintenance")
	report, err := eng.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)

	clock.Advance(engine.DefaultRetryDelay)
	report, err = eng.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Empty(t, eng.Pending())

	budgets, err := eng.Entities(ctx, ir.KindBudget)
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, "1", budgets[0].ID)
	assert.Equal(t, "400.00", budgets[0].Fields["amount"], "server normalization is reconciled")
	assert.Equal(t, "weekly", budgets[0].Fields["period"])

	resolved, err := eng.ResolveID(ctx, groupEnt.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", resolved)

	// Delete a synced entity and push it.
	require.NoError(t, eng.Delete(ctx, ir.KindBudget, "1"))
	report, err = eng.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	_, err = remote.New(ts.URL, remote.WithToken("tok")).
		Call(ctx, []string{"main", "budget", "1"}, ir.MethodReplacePartial, ir.Payload{"name": "x"})
	assert.True(t, remote.IsRejected(err), "budget is gone on the server")
}

func TestEndToEnd_SchemaRejectsBeforeQueueing(t *testing.T) {
	ctx := context.Background()
	kv, err := store.Open(":memory:")
	require.NoError(t, err)
	defer kv.Close()

	eng, err := engine.New(ctx, kv, remote.New("http://127.0.0.1:1"),
		engine.WithValidator(schema.MustNew()))
	require.NoError(t, err)

	_, err = eng.Create(ctx, ir.KindExpense, ir.Payload{"note": "missing amount"})
	assert.ErrorIs(t, err, engine.ErrInvalidPayload)
	assert.Empty(t, eng.Pending())
}
