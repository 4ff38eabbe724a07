package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/tml_hook/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage tmlctl configuration",
	Long:  `Manage tmlctl configuration settings.`,
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the effective configuration",
	Long:  `Display the configuration commands run with, after environment, config file and flags are applied. Secrets are not shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewConfig(cmd.OutOrStdout(), loadConfig(), viper.ConfigFileUsed(), outputJSON)
	},
}

func viewConfig(w io.Writer, cfg config.Config, file string, asJSON bool) error {
	view := map[string]any{
		"store_driver": cfg.DB.Driver,
		"sqlite_path":  cfg.DB.SQLitePath,
		"db_host":      cfg.DB.Host,
		"db_name":      cfg.DB.Name,
		"redis_addr":   cfg.Redis.Addr,
		"tml_mode":     cfg.API.Mode,
		"tml_base_url": cfg.Resolver().BaseURL(),
		"max_attempts": cfg.Policy().MaxAttempts,
		"sweep_limit":  cfg.Outbox.SweepLimit,
		"sweep_lock":   cfg.Outbox.SweepLockKey,
		"timeout":      timeout.String(),
		"config_file":  file,
	}
	if asJSON {
		return printJSON(w, view)
	}

	fmt.Fprintln(w, "Current configuration:")
	fmt.Fprintf(w, "  Store: %s", cfg.DB.Driver)
	if cfg.DB.Driver == "sqlite" {
		fmt.Fprintf(w, " (%s)\n", cfg.DB.SQLitePath)
	} else {
		fmt.Fprintf(w, " (%s/%s)\n", cfg.DB.Host, cfg.DB.Name)
	}
	fmt.Fprintf(w, "  Redis: %s\n", cfg.Redis.Addr)
	fmt.Fprintf(w, "  TML API: %s (%s)\n", cfg.Resolver().BaseURL(), cfg.API.Mode)
	fmt.Fprintf(w, "  Retry policy: max %d attempts, backoff %v\n", cfg.Policy().MaxAttempts, cfg.Policy().Backoff)
	fmt.Fprintf(w, "  Timeout: %s\n", timeout)
	if file != "" {
		fmt.Fprintf(w, "  Config file: %s\n", file)
	} else {
		fmt.Fprintln(w, "  Config file: none (using defaults)")
	}
	return nil
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a default configuration file in the home directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		force, _ := cmd.Flags().GetBool("force")
		path, err := writeDefaultConfig(filepath.Join(home, ".tmlctl.yaml"), force)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", path)
		return nil
	},
}

func writeDefaultConfig(path string, force bool) (string, error) {
	// Check if config file already exists
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("store_driver", "postgres")
	v.Set("db_host", "localhost")
	v.Set("db_name", "tml_hook")
	v.Set("redis_addr", "localhost:6379")
	v.Set("tml_mode", "production")
	v.Set("timeout", "2m")
	v.Set("json", false)
	v.Set("pretty", false)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("failed to create config file: %w", err)
	}
	return path, nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configInitCmd)

	// Flags for init command
	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}
