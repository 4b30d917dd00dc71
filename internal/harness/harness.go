package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/spendsync/internal/engine"
	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/schema"
	"github.com/roach88/spendsync/internal/store"
	"github.com/roach88/spendsync/internal/testutil"
)

// runner holds the collaborators of one scenario run.
// Every source of nondeterminism is pinned: the clock is manual, operation
// ids come from a sequence and temporary ids from sequential entropy.
type runner struct {
	scenario *Scenario
	kv       store.KV
	remote   *testutil.ScriptedRemote
	clock    *testutil.ManualClock
	opts     []engine.Option
	eng      *engine.Engine
	aliases  map[string]string
	result   *Result
}

// Run executes a scenario against a fresh store and a scripted remote.
//
// The returned error covers setup problems only. Step failures and
// assertion mismatches are reported through Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	kv, cleanup, err := openStore(scenario.Backend)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	firstID := scenario.Options.FirstServerID
	if firstID == 0 {
		firstID = 1
	}

	r := &runner{
		scenario: scenario,
		kv:       kv,
		remote:   testutil.NewScriptedRemote(firstID),
		clock:    testutil.NewManualClock(testutil.DefaultEpoch),
		aliases:  make(map[string]string),
		result:   NewResult(),
	}
	r.opts = r.engineOptions()
	r.remote.OnCall(func(_ context.Context, call testutil.RemoteCall) {
		r.result.add(TraceEvent{
			Type:     EventCall,
			Method:   string(call.Method),
			Endpoint: call.Endpoint(),
		})
	})

	if err := r.open(ctx); err != nil {
		return nil, err
	}

	for i, step := range scenario.Flow {
		if !r.execute(ctx, i, step) {
			break
		}
	}

	if err := r.snapshot(ctx); err != nil {
		return nil, err
	}

	if r.result.Pass {
		evaluateAssertions(ctx, r, scenario.Assertions)
	}
	return r.result, nil
}

// openStore opens a throwaway store for the backend.
func openStore(backend string) (store.KV, func(), error) {
	if backend == "bolt" {
		dir, err := os.MkdirTemp("", "spendsync-harness-*")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		kv, err := store.OpenBolt(filepath.Join(dir, "harness.bolt"))
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, fmt.Errorf("failed to create store: %w", err)
		}
		return kv, func() {
			kv.Close()
			os.RemoveAll(dir)
		}, nil
	}

	kv, err := store.Open(":memory:")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}
	return kv, func() { kv.Close() }, nil
}

func (r *runner) engineOptions() []engine.Option {
	o := r.scenario.Options
	opts := []engine.Option{
		engine.WithClock(r.clock),
		engine.WithOperationIDs(engine.NewSequenceGenerator("op")),
		engine.WithAllocator(engine.NewAllocator(engine.WithEntropy(&testutil.SequentialEntropy{}))),
		engine.WithNotifier(engine.NotifierFunc(func(engine.Notice) {})),
		engine.WithRollbackOnFailure(o.Rollback),
	}
	if o.MaxRetries != nil {
		opts = append(opts, engine.WithMaxRetries(*o.MaxRetries))
	}
	if o.RetryDelay > 0 {
		opts = append(opts, engine.WithRetryPolicy(engine.FixedDelay{Delay: o.RetryDelay}))
	}
	if o.Validate {
		opts = append(opts, engine.WithValidator(schema.MustNew()))
	}
	return opts
}

// open builds an engine over the runner's store, reloading persisted state.
func (r *runner) open(ctx context.Context) error {
	eng, err := engine.New(ctx, r.kv, r.remote, r.opts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	r.eng = eng
	return nil
}

// execute runs one step and reports whether the flow should continue.
func (r *runner) execute(ctx context.Context, index int, step Step) bool {
	ev := TraceEvent{Type: EventStep, Action: step.Action, Kind: step.Kind}
	var drained *engine.DrainReport

	err := func() error {
		kind, err := r.kind(step)
		if err != nil {
			return err
		}

		switch step.Action {
		case StepCreate:
			ent, err := r.eng.Create(ctx, kind, toPayload(step.Data))
			if err != nil {
				return err
			}
			ev.ID = ent.ID
			if step.As != "" {
				r.aliases[step.As] = ent.ID
			}

		case StepUpdate:
			ev.ID = r.ref(step.Ref)
			ent, err := r.eng.Update(ctx, kind, ev.ID, toPayload(step.Data), !step.Full)
			if err != nil {
				return err
			}
			ev.ID = ent.ID

		case StepDelete:
			ev.ID, err = r.eng.ResolveID(ctx, r.ref(step.Ref))
			if err != nil {
				return err
			}
			return r.eng.Delete(ctx, kind, ev.ID)

		case StepDrain:
			report, err := r.eng.Drain(ctx)
			drained = &report
			return err

		case StepOffline:
			r.remote.SetOffline(testutil.ErrOffline)

		case StepOnline:
			r.remote.SetOffline(nil)

		case StepReply:
			endpoint, err := r.expandEndpoint(ctx, step.Endpoint)
			if err != nil {
				return err
			}
			reply := testutil.Reply{Payload: toPayload(step.Response)}
			if step.Error != "" {
				reply.Err = errors.New(step.Error)
			}
			r.remote.Reply(ir.Method(step.Method), endpoint, reply)
			ev.Method, ev.Endpoint = step.Method, endpoint

		case StepAdvance:
			r.clock.Advance(step.Duration)

		case StepRestart:
			return r.open(ctx)

		case StepRetryFailed:
			n, err := r.eng.RetryFailed(ctx)
			if err != nil {
				return err
			}
			ev.Report = map[string]any{"rearmed": n}
		}
		return nil
	}()

	if step.ExpectError != "" {
		switch {
		case err == nil:
			r.result.AddError(fmt.Sprintf("flow[%d] %s: expected error containing %q, got none", index, step.Action, step.ExpectError))
			return false
		case !strings.Contains(err.Error(), step.ExpectError):
			r.result.AddError(fmt.Sprintf("flow[%d] %s: expected error containing %q, got %q", index, step.Action, step.ExpectError, err.Error()))
			return false
		}
		ev.Error = step.ExpectError
		err = nil
	}
	if err != nil {
		r.result.AddError(fmt.Sprintf("flow[%d] %s: %v", index, step.Action, err))
		return false
	}

	// A drain is traced by its report, after the calls it made.
	if drained != nil {
		r.result.add(TraceEvent{
			Type: EventDrain,
			Report: map[string]any{
				"attempted": drained.Attempted,
				"succeeded": drained.Succeeded,
				"failed":    drained.Failed,
				"skipped":   drained.Skipped,
			},
		})
		return true
	}
	r.result.add(ev)
	return true
}

// kind parses the step's kind when the action needs one.
func (r *runner) kind(step Step) (ir.EntityKind, error) {
	if step.Kind == "" {
		return "", nil
	}
	return ir.ParseKind(step.Kind)
}

// ref maps an alias to its entity id. Anything else is a literal id.
func (r *runner) ref(ref string) string {
	if id, ok := r.aliases[ref]; ok {
		return id
	}
	return ref
}

// resolve maps a ref to the entity's current id, following reconciliation.
func (r *runner) resolve(ctx context.Context, ref string) (string, error) {
	return r.eng.ResolveID(ctx, r.ref(ref))
}

// expandEndpoint replaces {alias} segments with current entity ids.
func (r *runner) expandEndpoint(ctx context.Context, endpoint string) (string, error) {
	segments := strings.Split(endpoint, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			id, err := r.resolve(ctx, seg[1:len(seg)-1])
			if err != nil {
				return "", fmt.Errorf("endpoint %q: %w", endpoint, err)
			}
			segments[i] = id
		}
	}
	return strings.Join(segments, "/"), nil
}

// snapshot records the final queue and alias resolution.
func (r *runner) snapshot(ctx context.Context) error {
	state := r.eng.State()
	for _, op := range state.PendingOperations {
		r.result.Queue = append(r.result.Queue, OperationSummary{
			ID:         op.ID,
			Method:     string(op.Method),
			Endpoint:   op.Endpoint(),
			Status:     string(op.Status),
			RetryCount: op.RetryCount,
			Error:      state.SyncErrors[op.ID],
		})
	}
	for alias := range r.aliases {
		id, err := r.resolve(ctx, alias)
		if err != nil {
			return fmt.Errorf("failed to resolve alias %q: %w", alias, err)
		}
		r.result.Aliases[alias] = id
	}
	return nil
}

// toPayload converts YAML-decoded data into a payload.
func toPayload(data map[string]any) ir.Payload {
	if data == nil {
		return nil
	}
	return ir.Payload(data).Clone()
}
