// Command syncd keeps a local working set of CRM contacts in sync with the
// push transport and serves it to dashboards and agents.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pipeboard/contact-sync/internal/conf"
	"github.com/pipeboard/contact-sync/internal/logger"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "syncd",
		Short:         "Real-time contact synchronization daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(envFile); err != nil {
				logger.L.Debug("no env file found, using environment variables", "path", envFile)
			}
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(newRunCommand(), newMCPCommand(), newSnapshotCommand())
	return root
}

// loadConfig reads the configuration and initializes the global logger
func loadConfig() *conf.Config {
	cfg := conf.LoadFromEnv()
	logger.Init(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return cfg
}
