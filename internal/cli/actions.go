package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/spendsync/internal/engine"
)

// RetryOptions holds flags for the retry command.
type RetryOptions struct {
	*RootOptions
	All bool
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RetryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "retry [<op-id>]",
		Short: "Re-arm failed operations",
		Long: `Move a failed operation back to pending with its retry count reset.
With --all every failed operation is re-armed. The next sync sends them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.All == (len(args) == 1) {
				return NewExitError(ExitCommandError, "pass an operation id or --all")
			}
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runRetry(cmd, opts, id)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "re-arm every failed operation")
	return cmd
}

func runRetry(cmd *cobra.Command, opts *RetryOptions, id string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	n := 1
	if opts.All {
		n, err = a.engine.RetryFailed(ctx)
	} else {
		err = a.engine.Retry(ctx, id)
	}
	if err != nil {
		return actionError("retry", err)
	}

	out := map[string]int{"rearmed": n}
	return formatter(cmd, opts.RootOptions).Success(out, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Re-armed %d operations\n", n)
		return err
	})
}

// NewDiscardCommand creates the discard command.
func NewDiscardCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discard <op-id>",
		Short: "Drop a queued operation",
		Long: `Remove an operation from the queue without sending it. The local
store keeps the change; use this for operations the server will never
accept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscard(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func runDiscard(cmd *cobra.Command, opts *RootOptions, id string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Discard(ctx, id); err != nil {
		return actionError("discard", err)
	}

	out := map[string]string{"discarded": id}
	return formatter(cmd, opts).Success(out, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Discarded %s\n", id)
		return err
	})
}

// actionError maps explicit-action errors onto exit codes.
func actionError(action string, err error) error {
	switch {
	case errors.Is(err, engine.ErrOperationNotFound),
		errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrRolledBack):
		return WrapExitError(ExitCommandError, action+" rejected", err)
	default:
		return WrapExitError(ExitFailure, action+" failed", err)
	}
}
