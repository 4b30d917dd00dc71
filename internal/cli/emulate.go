package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/spendsync/internal/emulator"
)

// EmulateOptions holds flags for the emulate command.
type EmulateOptions struct {
	*RootOptions
	Addr       string
	EmulatorDB string
}

// NewEmulateCommand creates the emulate command.
func NewEmulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Run a local fake of the finance backend",
		Long: `Serve a minimal finance REST backend for trying spendsync offline.

Records are kept in their own database, separate from the client's local
store. The configured token, when set, is required as a bearer token.

Example:
  spendsync emulate --addr 127.0.0.1:8080 --emulator-db ./server.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmulate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&opts.EmulatorDB, "emulator-db", "spendsync-emulator.db", "path to the emulator database")

	return cmd
}

func runEmulate(cmd *cobra.Command, opts *EmulateOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err).WithErrCode(CodeConfig)
	}

	kv, err := openKV(cfg.Backend, opts.EmulatorDB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open emulator database", err).WithErrCode(CodeStore)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			slog.Error("error closing emulator database", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := emulator.New(kv, emulator.WithToken(cfg.Token))
	fmt.Fprintf(cmd.OutOrStdout(), "Emulator listening on http://%s. Press Ctrl-C to stop.\n", opts.Addr)

	if err := srv.ListenAndServe(ctx, opts.Addr); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "emulator failed", err)
	}
	return nil
}
