package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/roach88/spendsync/internal/ir"
)

// Lifecycle events, one per destination status.
const (
	eventStart = "start" // -> processing
	eventDefer = "defer" // -> retrying
	eventFail  = "fail"  // -> failed
	eventReset = "reset" // -> pending
)

// operationTransitions is the operation lifecycle.
//
//	pending ----start----> processing ---defer---> retrying
//	retrying ---start----> processing ---fail----> failed
//	failed -----start----> processing ---reset---> pending
//	failed -----reset----> pending
var operationTransitions = fsm.Events{
	{
		Name: eventStart,
		Src:  []string{string(ir.StatusPending), string(ir.StatusRetrying), string(ir.StatusFailed)},
		Dst:  string(ir.StatusProcessing),
	},
	{Name: eventDefer, Src: []string{string(ir.StatusProcessing)}, Dst: string(ir.StatusRetrying)},
	{Name: eventFail, Src: []string{string(ir.StatusProcessing)}, Dst: string(ir.StatusFailed)},
	{
		Name: eventReset,
		Src:  []string{string(ir.StatusProcessing), string(ir.StatusFailed)},
		Dst:  string(ir.StatusPending),
	},
}

var transitionEvents = map[ir.Status]string{
	ir.StatusProcessing: eventStart,
	ir.StatusRetrying:   eventDefer,
	ir.StatusFailed:     eventFail,
	ir.StatusPending:    eventReset,
}

// transition moves op to status `to`, stamping lastAttempt on entry to processing.
// op is left untouched when the move is not allowed.
func transition(op *ir.Operation, to ir.Status, now time.Time) error {
	event, ok := transitionEvents[to]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	machine := fsm.NewFSM(
		string(op.Status),
		operationTransitions,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if e.Dst == string(ir.StatusProcessing) {
					at := now
					op.LastAttempt = &at
				}
			},
		},
	)

	if err := machine.Event(context.Background(), event); err != nil {
		return fmt.Errorf("%w: %s %s -> %s: %v", ErrInvalidTransition, op.ID, op.Status, to, err)
	}
	op.Status = ir.Status(machine.Current())
	return nil
}
