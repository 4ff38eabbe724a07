package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/austindbirch/tml_hook/internal/app"
	"github.com/austindbirch/tml_hook/internal/config"
	"github.com/austindbirch/tml_hook/internal/logging"
)

var (
	cfgFile    string
	timeout    time.Duration
	outputJSON bool
	prettyJSON bool
	verbose    bool
)

// overrides maps viper keys onto the service configuration. Keys match the
// services' environment variables, so AutomaticEnv picks them up as well.
var overrides = []struct {
	key   string
	flag  string
	usage string
	apply func(*config.Config, string)
}{
	{"store_driver", "driver", "outbox store driver (postgres or sqlite)", func(c *config.Config, v string) { c.DB.Driver = v }},
	{"sqlite_path", "sqlite-path", "sqlite database file", func(c *config.Config, v string) { c.DB.SQLitePath = v }},
	{"db_host", "db-host", "postgres host", func(c *config.Config, v string) { c.DB.Host = v }},
	{"db_name", "db-name", "postgres database", func(c *config.Config, v string) { c.DB.Name = v }},
	{"redis_addr", "redis-addr", "redis address for the sweep lock and tenant cache", func(c *config.Config, v string) { c.Redis.Addr = v }},
	{"tml_mode", "mode", "TML API mode (production or development)", func(c *config.Config, v string) { c.API.Mode = v }},
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tmlctl",
	Short: "TML Hook CLI - operate the TML webhook outbox",
	Long: `TML Hook CLI (tmlctl) is a command line tool for operating the TML
shipping webhook outbox.

You can use it to retry due deliveries, inspect outbox rows, quote
shipping rates and enable or disable tenants.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tmlctl.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "command timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&prettyJSON, "pretty", false, "use jq for pretty JSON formatting (requires jq)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "write service logs to stderr")

	for _, o := range overrides {
		rootCmd.PersistentFlags().String(o.flag, "", o.usage)
		_ = viper.BindPFlag(o.key, rootCmd.PersistentFlags().Lookup(o.flag))
	}

	// Bind flags to viper
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tmlctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Override global variables with config values if flags weren't explicitly set
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
	if !rootCmd.PersistentFlags().Changed("pretty") {
		prettyJSON = viper.GetBool("pretty")
	}
}

// loadConfig is the services' environment configuration with config file
// and flag overrides applied.
func loadConfig() config.Config {
	cfg := config.FromEnv()
	for _, o := range overrides {
		if v := viper.GetString(o.key); v != "" {
			o.apply(&cfg, v)
		}
	}
	return cfg
}

func newLogger() *logging.Logger {
	if verbose {
		return logging.New("tmlctl")
	}
	return logging.NewWithZap("tmlctl", zap.NewNop())
}

// openApp connects the configured store; callers must Close it.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, loadConfig(), newLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return a, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

// checkJQAvailable checks if jq is available in PATH
func checkJQAvailable() bool {
	_, err := exec.LookPath("jq")
	return err == nil
}

// formatWithJQ formats JSON using jq for pretty printing
func formatWithJQ(jsonData []byte) (string, error) {
	if !checkJQAvailable() {
		return "", fmt.Errorf("jq not found in PATH")
	}

	cmd := exec.Command("jq", ".")
	cmd.Stdin = bytes.NewReader(jsonData)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("jq formatting failed: %s", stderr.String())
	}

	return out.String(), nil
}

// printJSON writes v as indented JSON, through jq when --pretty is set.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	if prettyJSON {
		formatted, jqErr := formatWithJQ(data)
		if jqErr == nil {
			_, err = fmt.Fprint(w, formatted)
			return err
		}
		// Fall back to standard pretty printing if jq fails
		fmt.Fprintf(os.Stderr, "Warning: %v, falling back to standard formatting\n", jqErr)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
