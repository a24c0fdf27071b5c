package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/finchwork/finch/internal/admin"
	"github.com/finchwork/finch/internal/config"
	"github.com/finchwork/finch/internal/orchestrator"
)

var (
	runVerbose bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the agent daemon",
		RunE:  runDaemon,
	}
)

func init() {
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable debug logging")
	runCmd.Flags().Bool("dry-run", false, "Simulate side effects instead of performing them")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		cfg.Safety.DryRun = true
	}

	level := slog.LevelInfo
	if runVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	orch := orchestrator.New(cfg, logger)

	// A panic anywhere in the daemon still runs teardown and exits
	// non-zero so supervisors restart us.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in daemon", "panic", r)
			_ = orch.Stop()
			os.Exit(1)
		}
	}()

	if err := orch.Init(cmd.Context()); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := orch.Start(cmd.Context()); err != nil {
		_ = orch.Stop()
		return fmt.Errorf("start: %w", err)
	}

	api := admin.New(cfg.Admin, orch, logger)
	api.Start()

	fmt.Printf("🐦 finch %s running (admin api on %s:%d, Ctrl-C to stop)\n",
		version, cfg.Admin.Host, cfg.Admin.Port)

	<-orch.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin api shutdown", "error", err)
	}
	return nil
}
