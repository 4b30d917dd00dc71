package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides db_path from config when set
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the spendsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

// Execute runs the CLI and returns the process exit code. Failures are
// reported in the selected output format.
func Execute() int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	reportError(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, err)
	return GetExitCode(err)
}

// reportError writes err as a JSON error response or as a plain line on
// stderr. Errors whose command already wrote JSON output are not repeated.
func reportError(stdout, stderr io.Writer, opts *RootOptions, err error) {
	if opts.Format != "json" {
		fmt.Fprintln(stderr, "Error:", err)
		return
	}
	if reported(err) {
		return
	}
	f := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr, Verbose: opts.Verbose}
	if werr := f.Error(ErrorCode(err), err.Error(), nil); werr != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spendsync",
		Short: "spendsync - offline-first finance tracker sync",
		Long: `Record expenses, incomes, budgets and categories locally and keep them
in sync with the finance backend.

Every change is applied to the local store immediately and queued. The
queue is sent to the server whenever it is reachable, in order, and
temporary ids are replaced by server ids as creates are confirmed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			setupLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file (default $SPENDSYNC_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the local database (overrides db_path)")

	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRetryCommand(opts))
	cmd.AddCommand(NewDiscardCommand(opts))
	cmd.AddCommand(NewEmulateCommand(opts))

	return cmd
}

// setupLogging installs a text handler on w, at debug level when verbose.
func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
