package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pipeboard/contact-sync/internal/logger"
	"github.com/pipeboard/contact-sync/internal/mcp"
)

func newMCPCommand() *cobra.Command {
	var apiURL string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the synchronized contacts as MCP tools over stdio",
		Long: `Serve MCP tools over stdin/stdout. The tools read from and write through
the HTTP API of a running "syncd run".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if apiURL == "" {
				apiURL = cfg.HTTP.LocalURL()
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.For("mcp").Info("serving MCP over stdio", "api", apiURL)
			return mcp.NewServer(mcp.NewClient(apiURL), version).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", "", "base URL of the syncd HTTP API (default from HTTP_ADDR)")
	return cmd
}
