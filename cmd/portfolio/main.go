// Command portfolio runs the portfolio site API and its content admin.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"portfolio-cms/internal/config"
	"portfolio-cms/internal/logging"
)

var (
	cfgFile string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Portfolio site API and content admin",
	Long: `portfolio serves the public portfolio API and the admin back office that
edits its content.

Examples:
  portfolio serve                        Start the HTTP server
  portfolio migrate                      Create or update collection tables
  portfolio seed --file content.yaml     Load content from a YAML file
  portfolio create-admin --email a@b.c   Add an admin account`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		logger = logging.New(cfg.Log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default app.yaml)")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, createAdminCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
