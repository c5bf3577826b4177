package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/api"
	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/conn"
	"github.com/skeinhq/skein/internal/creds"
	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/logger"
	"github.com/skeinhq/skein/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "skein",
		Short: "skein — resilient client for remote coding sessions",
		Long:  "Keeps a local view of your remote coding session in sync: one live channel, automatic reconnection, and a transcript that survives restarts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd)
		},
	}
	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(
		loginCmd(),
		logoutCmd(),
		statusCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		dir, err := config.DefaultDir()
		if err != nil {
			return nil, err
		}
		path = config.ConfigPath(dir)
	}
	return config.Load(path)
}

// buildClient assembles the shared store, broadcast hub, and HTTP client.
func buildClient(cfg *config.Config) (*api.Client, *creds.Store, *creds.Broadcast) {
	credStore := creds.NewStore(cfg.Storage.CredentialsPath)
	hub := creds.NewBroadcast()
	client := api.New(cfg.Server.BaseURL, credStore, hub, creds.CoordinatorConfig{
		LockTTL:       cfg.Auth.LockTTL.Std(),
		BroadcastWait: cfg.Auth.BroadcastWait.Std(),
		RetryWait:     cfg.Auth.RetryWait.Std(),
	}, logger.Log)
	client.RefreshEarly = cfg.Auth.RefreshEarly.Std()
	return client, credStore, hub
}

func runClient(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return err
	}

	client, credStore, _ := buildClient(cfg)
	if client.Coordinator().Current().AccessToken == "" {
		return fmt.Errorf("not logged in; run `skein login` first")
	}

	db, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open local cache: %w", err)
	}
	defer db.Close()

	eng := engine.New(engine.Options{
		API:    client,
		Cache:  db,
		Logger: logger.Log,
	})

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// shutdown ends the run loop on terminal conditions, not just signals:
	// a rejected refresh token means logged out, so reconnecting is futile.
	ctx, shutdown := context.WithCancel(sigCtx)
	defer shutdown()

	mgr := conn.NewManager(conn.Options{
		URL: cfg.Server.ChannelURL,
		Token: func() string {
			tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			tok, err := client.Token(tctx)
			if err != nil {
				if errors.Is(err, creds.ErrLoggedOut) {
					logger.Error("session logged out; run `skein login` again")
					shutdown()
					return ""
				}
				logger.Warn("token unavailable for channel auth", "err", err)
				return ""
			}
			return tok
		},
		ActiveWorktree: eng.ActiveScope,
		Handler:        eng,
		OnState: func(state conn.State, err error) {
			if err != nil {
				logger.Warn("channel state", "state", state, "err", err)
				return
			}
			logger.Info("channel state", "state", state)
		},
		OnResync: func() {
			rctx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if err := eng.Resync(rctx); err != nil {
				if errors.Is(err, creds.ErrLoggedOut) {
					logger.Error("session logged out; run `skein login` again")
					shutdown()
					return
				}
				logger.Warn("resync failed", "err", err)
			}
		},
		Timings: conn.Timings{
			HeartbeatInterval: cfg.Conn.HeartbeatInterval.Std(),
			HeartbeatGrace:    cfg.Conn.HeartbeatGrace.Std(),
			BackoffBase:       cfg.Conn.BackoffBase.Std(),
			BackoffCap:        cfg.Conn.BackoffCap.Std(),
			BackoffJitter:     cfg.Conn.BackoffJitter.Std(),
			BackoffMaxAttempt: cfg.Conn.BackoffMaxAttempt,
		},
		SendRate:  cfg.Conn.SendRate,
		SendBurst: cfg.Conn.SendBurst,
		Logger:    logger.Log,
	})
	eng.Attach(mgr)

	// Sibling processes rotate tokens through the shared file; watch it so
	// this process adopts them without its own refresh.
	watcher := creds.NewWatcher(credStore, func(st creds.State) {
		client.Coordinator().Adopt(st.Credentials())
	}, logger.Log)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("credential watcher stopped", "err", err)
		}
	}()

	// SIGUSR1 backgrounds the session (heartbeats pause), SIGUSR2 brings
	// it back to the foreground and triggers recovery.
	visibility := make(chan os.Signal, 4)
	signal.Notify(visibility, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range visibility {
			mgr.SetVisible(sig == syscall.SIGUSR2)
		}
	}()

	mgr.Start(ctx)
	logger.Info("session client running", "channel", cfg.Server.ChannelURL)

	<-ctx.Done()
	signal.Stop(visibility)
	close(visibility)
	mgr.Stop()
	logger.Info("shut down")
	return nil
}
