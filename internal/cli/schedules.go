package cli

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	schedulesCmd = &cobra.Command{
		Use:   "schedules",
		Short: "Inspect and toggle schedule definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	schedulesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List schedule definitions",
		RunE:  runSchedulesList,
	}

	schedulesEnableCmd = &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a schedule definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setScheduleEnabled(cmd, args[0], true)
		},
	}

	schedulesDisableCmd = &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a schedule definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setScheduleEnabled(cmd, args[0], false)
		},
	}
)

func init() {
	schedulesCmd.AddCommand(schedulesListCmd, schedulesEnableCmd, schedulesDisableCmd)
	rootCmd.AddCommand(schedulesCmd)
}

func runSchedulesList(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.ListScheduledTasks(cmd.Context())
	if err != nil {
		return err
	}

	printHeader("🗓️ Schedules")
	if len(tasks) == 0 {
		fmt.Println("No schedule definitions. The daemon seeds defaults on first run.")
		return nil
	}
	for _, t := range tasks {
		state := color.GreenString("on ")
		if !t.Enabled {
			state = color.RedString("off")
		}
		when := t.CronExpr
		if when == "" && t.RunIntervalSecs > 0 {
			when = fmt.Sprintf("every %ds", t.RunIntervalSecs)
		}
		next := "-"
		if t.NextRunAt != nil {
			next = t.NextRunAt.Local().Format("01-02 15:04")
		}
		fmt.Printf("%3d  %s  %-28s %-16s next %-12s runs %d (%s)\n",
			t.ID, state, t.Module+"."+t.Action, when, next, t.RunCount, t.LastStatus)
	}
	return nil
}

func setScheduleEnabled(cmd *cobra.Command, rawID string, enabled bool) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid schedule id %q", rawID)
	}

	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetScheduledTaskEnabled(cmd.Context(), id, enabled); err != nil {
		return err
	}
	if enabled {
		color.Green("✅ Schedule %d enabled", id)
	} else {
		color.Yellow("⏸️  Schedule %d disabled", id)
	}
	return nil
}
