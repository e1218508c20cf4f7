package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipeboard/contact-sync/internal/api"
	"github.com/pipeboard/contact-sync/internal/biz"
	"github.com/pipeboard/contact-sync/internal/biz/usecase"
	"github.com/pipeboard/contact-sync/internal/conf"
	"github.com/pipeboard/contact-sync/internal/data"
	"github.com/pipeboard/contact-sync/internal/infra/feishu"
	"github.com/pipeboard/contact-sync/internal/infra/socket"
	"github.com/pipeboard/contact-sync/internal/logger"
	"github.com/pipeboard/contact-sync/internal/metrics"
	"github.com/pipeboard/contact-sync/internal/server"
	"github.com/pipeboard/contact-sync/internal/service"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the CRM and keep the contact working set in sync",
		Long: `Connect to the CRM push transport, warm the store from the local snapshot,
fetch the line's contacts and apply pushed changes as they arrive.

The local HTTP API serves the working set to dashboards and to "syncd mcp".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}
}

func runDaemon(parent context.Context, cfg *conf.Config) error {
	log := logger.For("syncd")
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Initialize repository layer
	var feishuClient *feishu.Client
	if cfg.Feishu.AlertsEnabled() {
		feishuClient = feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
		log.Info("feishu alerts enabled", "chat_id", cfg.Feishu.AlertChatID)
	}
	repos, err := data.NewRepositories(data.Options{
		API: data.APIConfig{
			BaseURL:   cfg.API.BaseURL,
			Token:     cfg.API.Token,
			Timeout:   cfg.API.Timeout,
			RateLimit: cfg.API.RateLimit,
			Burst:     cfg.API.Burst,
		},
		SnapshotDBPath: cfg.Snapshot.DBPath,
		FeishuClient:   feishuClient,
		AlertChatID:    cfg.Feishu.AlertChatID,
		AlertInterval:  cfg.Feishu.AlertInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to create repositories: %w", err)
	}
	defer repos.Close()
	log.Info("snapshot cache ready", "path", cfg.Snapshot.DBPath)

	// Open the push connection
	creds := cfg.Credentials()
	connections := socket.NewManager(cfg.ToSocketOptions())
	defer connections.Close()
	conn, err := connections.Acquire(ctx, creds)
	if err != nil {
		return fmt.Errorf("failed to open push connection: %w", err)
	}
	defer connections.Release(creds)

	// Initialize usecase layer
	dispatcher := service.NewDispatcher(0)
	store := usecase.NewContactStore(cfg.Sync.HistoryLimit)
	uc := &biz.Usecases{
		Store:      store,
		Reconcile:  usecase.NewReconcileUsecase(store, usecase.ReconcileConfig{LineID: cfg.Account.LineID, DedupWindow: cfg.Sync.DedupWindow}),
		Optimistic: usecase.NewOptimisticUsecase(store, repos.API, conn, dispatcher, cfg.Account.LineID),
	}

	// Initialize service layer
	syncSvc := service.NewSyncService(uc, repos.API, repos.Snapshot, repos.Notifier, dispatcher, conn, m, service.SyncConfig{
		LineID:      cfg.Account.LineID,
		WorkspaceID: cfg.Account.WorkspaceID,
		AlertAfter:  cfg.Sync.AlertAfter,
	})
	syncSvc.Register()
	defer syncSvc.Close()

	views := service.NewViews(conn, cfg.Account.WorkspaceID, store, dispatcher, m)
	defer views.CloseAll()
	analytics := service.NewAnalyticsView(store, dispatcher)
	defer analytics.Close()

	// Fetch results are applied on the event loop, so it must run before Bootstrap
	scheduler := service.NewSnapshotScheduler(syncSvc, cfg.Snapshot.Interval)
	srv := server.NewSocketServer(conn, dispatcher, scheduler)
	srv.Start(ctx)
	defer srv.Stop()

	if err := syncSvc.Bootstrap(ctx); err != nil {
		log.Warn("initial fetch failed, serving snapshot", "error", err)
	}

	// Initialize HTTP API server
	apiServer := api.NewServer(syncSvc, views, analytics, m, cfg.HTTP.Addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()
	log.Info("contact sync started", "line_id", cfg.Account.LineID, "api", cfg.HTTP.LocalURL())

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown failed", "error", err)
	}
	return nil
}
