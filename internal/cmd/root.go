package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"wpsnapshots/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "wpsnapshots",
	Short: "Share WordPress databases and wp-content between environments",
	Long: `WP Snapshots captures a WordPress install's database and wp-content into a
snapshot, pushes it to a repository (S3 + DynamoDB, or an S3-compatible
store) and pulls it into another install, renaming table prefixes and
rewriting URLs along the way.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initConfig()
		level := viper.GetString("log-level")
		if viper.GetBool("verbose") {
			level = "debug"
		}
		logger.Init(level, viper.GetString("log-format"))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose output (same as --log-level debug)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "answer yes to confirmations and take defaults for prompts")
	for _, name := range []string{"verbose", "log-level", "log-format", "yes"} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	// A missing .env is fine; variables can come from the shell.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
	}
}

// initConfig wires WPSNAPSHOTS_* environment variables to settings:
// WPSNAPSHOTS_LOG_LEVEL sets log-level, WPSNAPSHOTS_DB_HOST sets db-host.
func initConfig() {
	viper.SetEnvPrefix("wpsnapshots")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
