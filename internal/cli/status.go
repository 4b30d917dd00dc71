package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/spendsync/internal/ir"
)

// StatusOperation is one queued operation as shown by status.
type StatusOperation struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Method      string     `json:"method"`
	Endpoint    string     `json:"endpoint"`
	EntityID    string     `json:"entityId"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retryCount"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
	RolledBack  bool       `json:"rolledBack,omitempty"`
	Fingerprint string     `json:"fingerprint"`
	Error       string     `json:"error,omitempty"`
}

// StatusResult is the JSON shape of the status command.
type StatusResult struct {
	Queued            int               `json:"queued"`
	Failed            int               `json:"failed"`
	IsSyncing         bool              `json:"isSyncing"`
	ShouldReload      bool              `json:"shouldReload"`
	LastSyncTimestamp *time.Time        `json:"lastSyncTimestamp,omitempty"`
	Operations        []StatusOperation `json:"operations"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the mutation queue and sync errors",
		Long: `Show every queued operation with its status, retry count and last
error. JSON output includes each operation's payload fingerprint; two
operations with the same fingerprint would send identical requests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts)
		},
	}
	return cmd
}

func runStatus(cmd *cobra.Command, opts *RootOptions) error {
	a, err := openApp(commandContext(cmd), opts)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := buildStatus(a.engine.State())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build status", err)
	}

	return formatter(cmd, opts).Success(result, func(w io.Writer) error {
		return printStatus(w, result)
	})
}

// buildStatus flattens the sync state for output.
func buildStatus(state ir.SyncState) (StatusResult, error) {
	result := StatusResult{
		Queued:            len(state.PendingOperations),
		Failed:            len(state.Failed()),
		IsSyncing:         state.IsSyncing,
		ShouldReload:      state.ShouldReload,
		LastSyncTimestamp: state.LastSyncTimestamp,
		Operations:        make([]StatusOperation, 0, len(state.PendingOperations)),
	}
	for _, op := range state.PendingOperations {
		fp, err := ir.Fingerprint(op.Method, op.Path, op.Data)
		if err != nil {
			return StatusResult{}, fmt.Errorf("operation %s: %w", op.ID, err)
		}
		result.Operations = append(result.Operations, StatusOperation{
			ID:          op.ID,
			Kind:        string(op.Kind),
			Method:      string(op.Method),
			Endpoint:    op.Endpoint(),
			EntityID:    op.FrontendID,
			Status:      string(op.Status),
			RetryCount:  op.RetryCount,
			NextRetryAt: op.NextRetryAt,
			RolledBack:  op.RolledBack,
			Fingerprint: fp,
			Error:       state.SyncErrors[op.ID],
		})
	}
	return result, nil
}

func printStatus(w io.Writer, s StatusResult) error {
	last := "never"
	if s.LastSyncTimestamp != nil {
		last = s.LastSyncTimestamp.Local().Format(time.DateTime)
	}
	fmt.Fprintf(w, "Queued: %d  Failed: %d  Last sync: %s\n", s.Queued, s.Failed, last)
	if len(s.Operations) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(s.Operations))
	for _, op := range s.Operations {
		next := "-"
		if op.NextRetryAt != nil {
			next = op.NextRetryAt.Local().Format(time.TimeOnly)
		}
		rows = append(rows, []string{
			op.ID, op.Method, op.Endpoint, op.Status,
			strconv.Itoa(op.RetryCount), next, op.Error,
		})
	}
	fmt.Fprintln(w)
	return table(w, []string{"OPERATION", "METHOD", "ENDPOINT", "STATUS", "RETRIES", "NEXT", "ERROR"}, rows)
}
