package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/hookdispatch/internal/api"
	"github.com/shohag/hookdispatch/internal/config"
	"github.com/shohag/hookdispatch/internal/delivery"
	"github.com/shohag/hookdispatch/internal/metrics"
	"github.com/shohag/hookdispatch/internal/models"
	"github.com/shohag/hookdispatch/internal/storage"
	"github.com/shohag/hookdispatch/internal/urlguard"
)

var version = "0.1.0"

func main() {
	delivery.UserAgent = "hookdispatch/" + version

	rootCmd := &cobra.Command{
		Use:          "hookdispatch",
		Short:        "HookDispatch: outbound webhook delivery engine",
		SilenceUsage: true,
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(webhookCmd(&configPath))
	rootCmd.AddCommand(dispatchCmd(&configPath))
	rootCmd.AddCommand(attemptsCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and dispatch queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			if cfg.Metrics.Enabled {
				metrics.Register()
			}

			dispatcher := delivery.NewDispatcher(cfg.Delivery, store, store, log)
			queue := delivery.NewQueue(cfg.Delivery, dispatcher, log)
			queue.Start(context.Background())

			server := api.NewServer(cfg.Server, cfg.Metrics, store, queue, log)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Delivery.Workers).
				Int("queue_workers", cfg.Delivery.QueueWorkers).
				Str("storage", cfg.Storage.Driver).
				Msg("HookDispatch is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			queue.Stop()

			log.Info().Msg("HookDispatch stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func webhookCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage webhook configurations",
	}

	// webhook add
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a webhook for a creator",
		RunE: func(cmd *cobra.Command, args []string) error {
			creatorID, _ := cmd.Flags().GetString("creator")
			rawURL, _ := cmd.Flags().GetString("url")
			rawEvents, _ := cmd.Flags().GetStringSlice("events")
			secret, _ := cmd.Flags().GetString("secret")
			generate, _ := cmd.Flags().GetBool("generate-secret")

			if creatorID == "" || rawURL == "" || len(rawEvents) == 0 {
				return fmt.Errorf("--creator, --url and --events are required")
			}
			if err := urlguard.Validate(rawURL); err != nil {
				return err
			}
			events, err := models.ParseEventTypes(rawEvents)
			if err != nil {
				return err
			}
			if secret == "" && generate {
				secret = models.NewSecret()
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().UTC()
			wh := &models.WebhookConfig{
				ID:        models.NewID("wh"),
				CreatorID: creatorID,
				URL:       rawURL,
				Secret:    secret,
				Events:    events,
				Active:    true,
				CreatedAt: now,
				UpdatedAt: now,
			}

			if err := store.CreateWebhook(context.Background(), wh); err != nil {
				return fmt.Errorf("failed to create webhook: %w", err)
			}

			return printJSON(wh)
		},
	}
	addCmd.Flags().String("creator", "", "creator id")
	addCmd.Flags().String("url", "", "target URL")
	addCmd.Flags().StringSlice("events", nil, "event types to subscribe to (comma separated)")
	addCmd.Flags().String("secret", "", "shared signing secret")
	addCmd.Flags().Bool("generate-secret", false, "generate a signing secret")

	// webhook list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List webhooks of a creator",
		RunE: func(cmd *cobra.Command, args []string) error {
			creatorID, _ := cmd.Flags().GetString("creator")
			if creatorID == "" {
				return fmt.Errorf("--creator is required")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			whs, err := store.ListWebhooks(context.Background(), creatorID)
			if err != nil {
				return fmt.Errorf("failed to list webhooks: %w", err)
			}

			if len(whs) == 0 {
				fmt.Println("No webhooks found.")
				return nil
			}

			for _, wh := range whs {
				state := "active"
				if !wh.Active {
					state = "inactive"
				}
				if !urlguard.IsSafe(wh.URL) {
					state += ",blocked"
				}
				fmt.Printf("  %s  %s  %s  %v\n", wh.ID, state, wh.URL, wh.Events)
			}
			return nil
		},
	}
	listCmd.Flags().String("creator", "", "creator id")

	// webhook toggle
	toggleCmd := &cobra.Command{
		Use:   "toggle <webhook_id>",
		Short: "Flip a webhook between active and inactive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			wh, err := store.GetWebhook(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get webhook: %w", err)
			}
			if err := store.ToggleWebhook(ctx, wh.ID, !wh.Active); err != nil {
				return fmt.Errorf("failed to toggle webhook: %w", err)
			}
			wh.Active = !wh.Active
			return printJSON(wh)
		},
	}

	// webhook remove
	removeCmd := &cobra.Command{
		Use:   "remove <webhook_id>",
		Short: "Delete a webhook and its attempt log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.DeleteWebhook(context.Background(), args[0]); err != nil {
				return fmt.Errorf("failed to remove webhook: %w", err)
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd, toggleCmd, removeCmd)
	return cmd
}

func dispatchCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Deliver one event synchronously and print the outcome per webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			creatorID, _ := cmd.Flags().GetString("creator")
			rawEvent, _ := cmd.Flags().GetString("event")
			rawData, _ := cmd.Flags().GetString("data")

			if creatorID == "" || rawEvent == "" {
				return fmt.Errorf("--creator and --event are required")
			}
			eventType, err := models.ParseEventType(rawEvent)
			if err != nil {
				return err
			}
			data, err := models.ParseEventData([]byte(rawData))
			if err != nil {
				return fmt.Errorf("invalid --data: %w", err)
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dispatcher := delivery.NewDispatcher(cfg.Delivery, store, store, log)
			results, err := dispatcher.Deliver(ctx, creatorID, models.DeliveryEvent{Type: eventType, Data: data})
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No active webhook subscribed to this event.")
				return nil
			}
			return printJSON(results)
		},
	}
	cmd.Flags().String("creator", "", "creator id")
	cmd.Flags().String("event", "", "event type")
	cmd.Flags().String("data", "{}", "event data as a JSON object")
	return cmd
}

func attemptsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts <webhook_id>",
		Short: "Show the delivery attempt log of a webhook, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			attempts, err := store.ListAttempts(context.Background(), args[0], limit)
			if err != nil {
				return fmt.Errorf("failed to list attempts: %w", err)
			}

			if len(attempts) == 0 {
				fmt.Println("No attempts recorded.")
				return nil
			}

			for _, a := range attempts {
				fmt.Printf("  %s  #%d  %-20s  status=%d  success=%t  %dms\n",
					a.CreatedAt.Format(time.RFC3339), a.AttemptNumber, a.EventType, a.StatusCode, a.Success, a.LatencyMs)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum records to show")
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <creator_id>",
		Short: "Show delivery stats for a creator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			return printJSON(stats)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("HookDispatch v%s\n", version)
		},
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	case "postgres":
		log.Info().Msg("using Postgres storage")
		return storage.NewPostgres(cfg.Postgres.DSN)
	case "memory":
		log.Warn().Msg("using in-memory storage, nothing will be persisted")
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
