// Package cmd wires the kaiwa CLI: the long-running gateway plus the
// one-shot inspection and maintenance commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kaiwahq/kaiwa/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/kaiwahq/kaiwa/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "kaiwa",
	Short: "kaiwa — conversation log gateway",
	Long: "kaiwa serves the local coding-assistant conversation corpus: " +
		"thread-grouped conversation queries with date and keyword filters, " +
		"live file-change push to connected viewers, hook notifications, " +
		"and token-usage accounting against subscription limits.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $KAIWA_CONFIG or ~/.kaiwa/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(usageCmd())
	rootCmd.AddCommand(tailCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kaiwa %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("KAIWA_CONFIG"); v != "" {
		return v
	}
	return config.ExpandHome("~/.kaiwa/config.json")
}

// loadConfig loads and validates the configuration, exiting on failure.
func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
