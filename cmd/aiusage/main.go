// Command aiusage runs the AI usage tracker server and its maintenance tasks.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML config file; CONFIG_PATH is used when empty.
	configPath string
	// version is set at build time with -ldflags.
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aiusage",
	Short: "AI usage tracker",
	Long: `aiusage collects how teams use AI tools, turns reported impacts into
annualized savings and serves the dashboard.

Run "aiusage serve" to start the HTTP server. The other commands work
directly against the configured database.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, importConfigCmd, exportCmd, importResponsesCmd)
}
