package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/spendsync/internal/config"
	"github.com/roach88/spendsync/internal/engine"
	"github.com/roach88/spendsync/internal/metrics"
	"github.com/roach88/spendsync/internal/remote"
	"github.com/roach88/spendsync/internal/schema"
	"github.com/roach88/spendsync/internal/store"
)

// DefaultConfigFile is read from the working directory when no config
// path is given.
const DefaultConfigFile = "spendsync.yaml"

// app bundles what a command needs to talk to the engine.
type app struct {
	cfg      *config.Config
	kv       store.KV
	client   *remote.Client
	engine   *engine.Engine
	recorder *metrics.Recorder
}

// loadConfig resolves configuration for the global flags.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = os.Getenv("SPENDSYNC_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", DefaultConfigFile, err)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	return cfg, nil
}

// openKV opens the configured LocalStore backend at path.
func openKV(backend, path string) (store.KV, error) {
	switch backend {
	case config.BackendBolt:
		s, err := store.OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSQLite:
		s, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// retryPolicy builds the configured retry policy.
func retryPolicy(cfg *config.Config) engine.RetryPolicy {
	if cfg.RetryPolicy == config.PolicyExponential {
		return engine.NewExponentialBackoff(cfg.RetryDelay, cfg.MaxRetryDelay)
	}
	return engine.FixedDelay{Delay: cfg.RetryDelay}
}

// engineOptions maps configuration onto engine options.
func engineOptions(cfg *config.Config, validator engine.Validator, rec engine.Recorder) []engine.Option {
	return []engine.Option{
		engine.WithMaxRetries(cfg.MaxRetries),
		engine.WithRetryPolicy(retryPolicy(cfg)),
		engine.WithRollbackOnFailure(cfg.RollbackOnFailure),
		engine.WithResumeFailed(cfg.ResumeFailedOnStart),
		engine.WithValidator(validator),
		engine.WithRecorder(rec),
	}
}

// openApp loads configuration, opens the store and starts the engine.
// Callers must Close the returned app.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err).WithErrCode(CodeConfig)
	}

	validator, err := schema.New()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load payload schema", err)
	}

	slog.Debug("opening database", "path", cfg.DBPath, "backend", cfg.Backend)
	kv, err := openKV(cfg.Backend, cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err).WithErrCode(CodeStore)
	}

	rec := metrics.New()
	client := remote.New(cfg.BaseURL, remote.WithToken(cfg.Token))
	eng, err := engine.New(ctx, kv, client, engineOptions(cfg, validator, rec)...)
	if err != nil {
		_ = kv.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load sync state", err).WithErrCode(CodeStore)
	}

	return &app{cfg: cfg, kv: kv, client: client, engine: eng, recorder: rec}, nil
}

// Close releases the database.
func (a *app) Close() {
	if err := a.kv.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// commandContext returns the command's context, or Background when unset.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// formatter returns an OutputFormatter writing to the command's streams.
func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
