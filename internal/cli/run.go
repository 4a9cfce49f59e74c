package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parley-proto/parley/internal/engine"
	"github.com/parley-proto/parley/internal/store"
	"github.com/parley-proto/parley/internal/transport"
	"github.com/parley-proto/parley/internal/wire"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Start a handshake node",
		Long: `Start a handshake node from a YAML configuration file.

The node opens its SQLite database (creating it if it doesn't exist),
binds the QUIC listener, and starts the single-writer handshake loop:
inbound envelopes between sweep ticks, one outbound sweep per tick.

Example config:
  self_id: node-a
  listen_addr: 127.0.0.1:7100
  database: ./parley.db
  bootstrap:
    - 127.0.0.1:7101
    - 127.0.0.1:7102

Example:
  parley run ./node-a.yaml
  parley run ./node-a.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runNode(opts *RootOptions, configPath string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	cfg, err := LoadNodeConfig(configPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, cfg.SelfID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// The transport hands envelopes to the engine; the engine sends through
	// the transport. Deliver is safe before Run starts, so wiring the
	// listener first is fine.
	var eng *engine.Engine
	qt := transport.NewQUIC(cfg.ListenAddr, cfg.Bootstrap, func(env wire.Envelope, addr string) {
		eng.Deliver(env, addr)
	})

	engOpts := []engine.Option{}
	if cfg.Limits != nil {
		engOpts = append(engOpts, engine.WithLimits(*cfg.Limits))
	}
	if cfg.Tick > 0 {
		engOpts = append(engOpts, engine.WithTickInterval(cfg.Tick))
	}
	eng = engine.New(st, engine.UUIDGenerator{}, qt, engOpts...)

	// Setup signal handling for graceful shutdown.
	// Use command's context if available (for testing), otherwise create one.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := qt.Listen(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start transport", err)
	}
	defer qt.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Node %s listening on %s.\n", cfg.SelfID, cfg.ListenAddr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := eng.Run(ctx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("node stopped gracefully")
	return nil
}
