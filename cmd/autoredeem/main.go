// Package main is the entry point for the autoredeem runner.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"autoredeem/internal/api"
	"autoredeem/internal/config"
	"autoredeem/internal/core"
	"autoredeem/internal/logging"
	"autoredeem/internal/metrics"
	"autoredeem/internal/notify"
	"autoredeem/internal/preflight"
	"autoredeem/internal/prompt"
	"autoredeem/internal/store"
)

// Set by release ldflags.
var (
	version = "dev"
	commit  = "none"
)

// errReported marks failures whose message has already been printed.
var errReported = errors.New("reported")

// promptPassword reads the credential when it is not in the environment.
var promptPassword = prompt.Password

func main() {
	if err := rootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Printf("[ERROR] %v\n", err)
		}
		os.Exit(1)
	}
}

const examples = `  # One-time redemption
  autoredeem --once

  # One-time check (no redemption)
  autoredeem --check

  # Automatic redemption every 15 minutes
  autoredeem --interval 15

  # Automatic redemption at the top of every hour
  autoredeem --cron "0 * * * *"

Setup:
  Before first use, run: npx tsx src/redeem.ts --setup
  This securely stores your wallet credentials with encryption.`

func rootCmd() *cobra.Command {
	flags := &config.Flags{}
	root := &cobra.Command{
		Use:           "autoredeem",
		Short:         "Run the gasless redemption script once or on a schedule",
		Example:       examples,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), flags)
			if err != nil {
				if errors.Is(err, config.ErrInvalidInterval) {
					fmt.Println("[ERROR] Interval must be at least 1 minute")
					return errReported
				}
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	flags.Register(root.Flags())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("autoredeem %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.New(cfg.LogLevel, nil)

	checks := preflight.Checks{
		KeyMarker:     filepath.Join(cfg.Dir, cfg.KeyMarker),
		RuntimeBinary: cfg.NodeBinary,
		Entry:         cfg.Invoker.EntryPath(),
	}
	if err := preflight.Run(ctx, checks); err != nil {
		logger.Debug("preflight failed", "err", err)
		fmt.Printf("[ERROR] %v\n", err)
		if hint := preflight.Hint(err); hint != "" {
			fmt.Printf("\n%s\n", hint)
		}
		return errReported
	}

	credential, err := config.ResolveCredential(cfg.Invoker.CredentialEnv, func() (string, error) {
		return promptPassword("Enter encryption password: ")
	})
	if err != nil {
		if errors.Is(err, prompt.ErrCancelled) {
			fmt.Println("\nCancelled.")
			return errReported
		}
		return err
	}
	cfg.Run.Credential = credential

	collector := metrics.New()
	observers := []core.RunObserver{collector}

	var history *store.Store
	if cfg.History.Enabled {
		history, err = store.Open(ctx, cfg.History.StateDir, cfg.History.Keep)
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		defer history.Close()
		observers = append(observers, history)
	}

	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			return err
		}
		observers = append(observers, &notify.FailureObserver{Notifier: notify.NewMultiNotifier(bark)})
	}

	invoker := core.NewInvoker(cfg.Invoker, os.Stdout, logger)
	scheduler := core.NewScheduler(invoker, logger,
		core.WithObservers(observers...),
		core.WithLocation(cfg.Location()),
	)
	ctrl := core.NewController(scheduler, cfg.Run, os.Stdout, logger)

	var server *api.Server
	if cfg.Status.Addr != "" {
		opts := api.Options{
			Addr:      cfg.Status.Addr,
			AuthToken: cfg.Status.AuthToken,
			RunConfig: cfg.Run,
			Status:    scheduler,
			Metrics:   collector.Handler(),
			Location:  cfg.Location(),
			Logger:    logger,
		}
		if history != nil {
			opts.Runs = history
		}
		server = api.NewServer(opts)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server", "err", err)
			}
		}()
	}

	stopped := watchSignals(ctrl, logger)
	err = ctrl.Start(ctx)
	stopped()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown", "err", err)
		}
	}
	return err
}

// watchSignals stops ctrl on SIGINT or SIGTERM. A second signal exits at once.
// The returned func releases the watcher and waits for a pending stop to finish.
func watchSignals(ctrl *core.Controller, logger *slog.Logger) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	finished := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigs:
			logger.Info("received signal", "signal", sig.String())
			fmt.Println("\nStopping...")
			go func() {
				<-sigs
				logger.Warn("second signal, exiting without waiting")
				os.Exit(130)
			}()
			ctrl.Stop()
		case <-finished:
		}
	}()

	return func() {
		close(finished)
		<-done
		signal.Stop(sigs)
	}
}
