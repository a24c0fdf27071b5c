package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/finchwork/finch/internal/config"
	"github.com/finchwork/finch/internal/orchestrator"
)

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			printHeader("🏷️ Finch Version")
			fmt.Printf("Version: %s\n", version)
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show daemon health",
		RunE:  runStatus,
	}

	modulesCmd = &cobra.Command{
		Use:   "modules",
		Short: "Manage capability modules on the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	modulesEnableCmd = &cobra.Command{
		Use:   "enable <name>",
		Short: "Re-enable a module disabled by its circuit breaker",
		Args:  cobra.ExactArgs(1),
		RunE:  runModulesEnable,
	}
)

func init() {
	modulesCmd.AddCommand(modulesEnableCmd)
	rootCmd.AddCommand(versionCmd, statusCmd, modulesCmd)
}

func adminURL(cfg *config.Config, path string) string {
	return fmt.Sprintf("http://%s:%d%s", cfg.Admin.Host, cfg.Admin.Port, path)
}

func runStatus(cmd *cobra.Command, args []string) error {
	printHeader("📊 Finch Status")
	fmt.Printf("Version: %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if path, err := config.ConfigPath(); err == nil {
		if _, err := os.Stat(path); err == nil {
			fmt.Println("Config:  ✓ Found (" + path + ")")
		} else {
			fmt.Println("Config:  ✗ Not found (using defaults)")
		}
	}
	if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: ✓ Found")
	} else {
		fmt.Println("API Key: ✗ Not found (content generation disabled)")
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(adminURL(cfg, "/api/v1/health"))
	if err != nil {
		fmt.Println("Daemon:  ✗ Not reachable (start with 'finch run')")
		return nil
	}
	defer resp.Body.Close()

	var h orchestrator.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("parse health response: %w", err)
	}

	if h.Status == "ok" {
		fmt.Printf("Daemon:  %s (state %s)\n", color.GreenString("✓ healthy"), h.State)
	} else {
		fmt.Printf("Daemon:  %s (state %s)\n", color.YellowString("⚠ degraded"), h.State)
	}
	for name, mh := range h.Modules {
		if mh.Disabled {
			fmt.Printf("Module:  %s %s (%d failures)\n", color.RedString("✗"), name, mh.Failures)
		} else {
			fmt.Printf("Module:  ✓ %s\n", name)
		}
	}
	return nil
}

func runModulesEnable(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Post(adminURL(cfg, "/api/v1/modules/"+args[0]+"/enable"), "application/json", nil)
	if err != nil {
		return fmt.Errorf("daemon not reachable (start with 'finch run'): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("enable failed: %s", string(body))
	}
	color.Green("✅ Module %s enabled", args[0])
	return nil
}
