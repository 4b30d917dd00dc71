package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"sync"

	"github.com/roach88/spendsync/internal/ir"
)

// ErrOffline is returned by ScriptedRemote while it is offline.
var ErrOffline = errors.New("network unreachable")

// Reply is one scripted response.
type Reply struct {
	Payload ir.Payload
	Err     error
}

// RemoteCall is one recorded call.
type RemoteCall struct {
	Path   []string
	Method ir.Method
	Data   ir.Payload
}

// Endpoint returns the call's path joined with "/".
func (c RemoteCall) Endpoint() string {
	return ir.JoinPath(c.Path)
}

// ScriptedRemote is an in-memory stand-in for the remote API.
//
// Without a script it behaves like a well-mannered server: a CREATE echoes
// its data with the next numeric id, REPLACE calls echo their data, and a
// DELETE returns nothing. Reply queues per-endpoint responses that take
// precedence, and SetOffline fails every call.
//
// It satisfies engine.RemoteCaller.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedRemote struct {
	mu      sync.Mutex
	nextID  int64
	offline error
	replies map[string][]Reply
	calls   []RemoteCall
	onCall  func(ctx context.Context, call RemoteCall)
}

// NewScriptedRemote creates a remote whose first created entity gets firstID.
func NewScriptedRemote(firstID int64) *ScriptedRemote {
	return &ScriptedRemote{
		nextID:  firstID,
		replies: make(map[string][]Reply),
	}
}

func replyKey(method ir.Method, endpoint string) string {
	return string(method) + " " + endpoint
}

// Reply queues responses for method on endpoint, consumed in order.
func (r *ScriptedRemote) Reply(method ir.Method, endpoint string, replies ...Reply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := replyKey(method, endpoint)
	r.replies[key] = append(r.replies[key], replies...)
}

// SetOffline makes every call fail with err. Nil goes back online.
func (r *ScriptedRemote) SetOffline(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = err
}

// OnCall installs a hook run at the start of every call, outside the lock.
// A hook may block to hold a call in flight.
func (r *ScriptedRemote) OnCall(fn func(ctx context.Context, call RemoteCall)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCall = fn
}

// Calls returns every call made so far.
func (r *ScriptedRemote) Calls() []RemoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Call implements engine.RemoteCaller.
func (r *ScriptedRemote) Call(ctx context.Context, path []string, method ir.Method, data ir.Payload) (ir.Payload, error) {
	call := RemoteCall{Path: slices.Clone(path), Method: method, Data: data.Clone()}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	hook := r.onCall
	r.mu.Unlock()

	if hook != nil {
		hook(ctx, call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.offline != nil {
		return nil, r.offline
	}

	key := replyKey(method, call.Endpoint())
	if queued := r.replies[key]; len(queued) > 0 {
		reply := queued[0]
		r.replies[key] = queued[1:]
		return reply.Payload.Clone(), reply.Err
	}

	switch method {
	case ir.MethodCreate:
		out := data.Clone()
		if out == nil {
			out = ir.Payload{}
		}
		out["id"] = json.Number(strconv.FormatInt(r.nextID, 10))
		r.nextID++
		return out, nil
	case ir.MethodDelete:
		return nil, nil
	default:
		return data.Clone(), nil
	}
}
