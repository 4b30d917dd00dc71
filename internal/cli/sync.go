package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/spendsync/internal/engine"
)

// SyncResult is the JSON shape of a drain pass.
type SyncResult struct {
	Attempted int               `json:"attempted"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Send queued changes to the server once",
		Long: `Run one drain pass over the mutation queue.

Operations are sent in the order they were queued. A failed operation is
scheduled for retry and the pass moves on. Exits 1 when any operation
failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts)
		},
	}
	return cmd
}

func runSync(cmd *cobra.Command, opts *RootOptions) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.Drain(ctx)
	if errors.Is(err, engine.ErrSyncInProgress) {
		return WrapExitError(ExitFailure, "sync skipped", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	result := SyncResult{
		Attempted: report.Attempted,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
	}
	if len(report.Failures) > 0 {
		result.Errors = make(map[string]string, len(report.Failures))
		for _, f := range report.Failures {
			result.Errors[f.OperationID] = f.Message
		}
	}

	f := formatter(cmd, opts)
	f.VerboseLog("drain: attempted=%d succeeded=%d failed=%d skipped=%d",
		report.Attempted, report.Succeeded, report.Failed, report.Skipped)

	if err := f.Success(result, func(w io.Writer) error {
		fmt.Fprintf(w, "Sent %d of %d operations (%d failed, %d skipped)\n",
			result.Succeeded, result.Attempted, result.Failed, result.Skipped)
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  %s: %s\n", f.OperationID, f.Message)
		}
		return nil
	}); err != nil {
		return err
	}

	if report.Failed > 0 {
		exitErr := NewExitError(ExitFailure, fmt.Sprintf("%d operations failed", report.Failed))
		exitErr.Reported = true
		return exitErr.WithErrCode(CodeSync)
	}
	return nil
}
