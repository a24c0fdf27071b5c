package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/finchwork/finch/internal/capability"
	"github.com/finchwork/finch/internal/config"
	"github.com/finchwork/finch/internal/orchestrator"
)

var (
	tasksLogLimit int

	tasksCmd = &cobra.Command{
		Use:   "tasks",
		Short: "Run actions and inspect the action log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	tasksRunCmd = &cobra.Command{
		Use:   "run <module> <action>",
		Short: "Run one capability action immediately",
		Args:  cobra.ExactArgs(2),
		RunE:  runTasksRun,
	}

	tasksLogCmd = &cobra.Command{
		Use:   "log",
		Short: "Show recent action log entries",
		RunE:  runTasksLog,
	}
)

func init() {
	tasksLogCmd.Flags().IntVar(&tasksLogLimit, "limit", 20, "Number of entries to show")
	tasksCmd.AddCommand(tasksRunCmd, tasksLogCmd)
	rootCmd.AddCommand(tasksCmd)
}

// runTasksRun brings up a short-lived orchestrator, dispatches once, and
// tears it down. The scheduler stays off so only the requested action runs.
func runTasksRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Scheduler.Enabled = false

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	orch := orchestrator.New(cfg, logger)
	if err := orch.Init(cmd.Context()); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer orch.Stop()
	if err := orch.Start(cmd.Context()); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	module, action := args[0], args[1]
	fmt.Printf("▶️  Running %s.%s...\n", module, action)
	result, err := orch.RunTask(cmd.Context(), module, action)
	switch {
	case err == nil:
		color.Green("✅ %s.%s completed", module, action)
		if s := fmt.Sprintf("%v", result); result != nil && s != "" {
			fmt.Printf("   %s\n", s)
		}
		return nil
	case errors.Is(err, capability.ErrModuleDisabled):
		color.Yellow("⏭️  %s is disabled, task skipped (re-enable with 'finch modules enable %s')", module, module)
		return nil
	default:
		return err
	}
}

func runTasksLog(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.ListActionLog(cmd.Context(), tasksLogLimit)
	if err != nil {
		return err
	}

	printHeader("📜 Action Log")
	if len(entries) == 0 {
		fmt.Println("No actions recorded yet.")
		return nil
	}
	for _, e := range entries {
		mark := color.GreenString("✓")
		detail := e.Result
		if !e.Success {
			mark = color.RedString("✗")
			detail = e.ErrorText
		}
		fmt.Printf("%s %s  %s.%s  %dms  %s\n",
			mark, e.CreatedAt.Local().Format("01-02 15:04"), e.Module, e.Action, e.DurationMs, detail)
	}
	return nil
}
