package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/cf-ai-aether-go/internal/gate"
	"github.com/cf-ai-aether-go/internal/handlers"
	"github.com/cf-ai-aether-go/internal/i18n"
	"github.com/cf-ai-aether-go/internal/middleware"
	"github.com/cf-ai-aether-go/internal/services/ai"
	"github.com/cf-ai-aether-go/internal/services/cache"
	"github.com/cf-ai-aether-go/internal/services/chat"
	"github.com/cf-ai-aether-go/internal/services/reasoning"
	"github.com/cf-ai-aether-go/internal/services/storage"
	"github.com/cf-ai-aether-go/pkg/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// How often cache sizes are published
const gaugeInterval = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and, when enabled, the Telegram bot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the --config file when it exists and falls back to
// defaults and the environment otherwise
func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func serve(cfg *config.Config) error {
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.WithFields(logrus.Fields{
		"model":   cfg.Model.Name,
		"storage": cfg.Storage.Type,
	}).Info("Starting Aether...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := middleware.NewMetrics()

	store, err := storage.NewManager(&cfg.Storage, metrics, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	caches := cache.NewRegistry(&cfg.Cache)
	limiters := middleware.NewLimiters(&cfg.RateLimit, log)
	go limiters.Run(ctx)

	pipeline := reasoning.NewPipeline(ai.NewClient(&cfg.Model, log), metrics, log)
	g := gate.New(store, caches, limiters, metrics, log)
	security := middleware.NewSecurityMiddleware(cfg.Server.MaxPromptBytes, log)
	chatService := chat.NewService(store, g, pipeline, cache.NewResponseCache(&cfg.Cache.Responses, log), security, log)

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		return fmt.Errorf("failed to initialize i18n: %w", err)
	}

	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	go publishCacheSizes(ctx, caches, metrics)

	if cfg.Telegram.Enabled {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return fmt.Errorf("failed to create bot: %w", err)
		}
		bot.Debug = cfg.Logging.Level == "debug"
		log.WithField("username", bot.Self.UserName).Info("Bot authorized")

		telegram := handlers.NewTelegramHandler(bot, bot.Self, &cfg.Telegram, chatService, g, localizer, metrics, log)
		go telegram.Run(ctx, bot, cfg.Telegram.UpdateTimeout)
	}

	api := handlers.NewAPIHandler(chatService, g, security, localizer, log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handlers.NewRouter(api, metrics),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-sigChan:
		log.Info("Shutdown signal received")
	case serveErr = <-errCh:
		log.WithError(serveErr).Error("API server failed")
	}

	// Stop background loops before draining requests
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shut down API server")
	}

	log.Info("Aether stopped")
	if serveErr != nil {
		return fmt.Errorf("API server failed: %w", serveErr)
	}
	return nil
}

// publishCacheSizes updates the cache entry gauges until ctx is done
func publishCacheSizes(ctx context.Context, caches *cache.Registry, metrics *middleware.Metrics) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetCacheEntries(caches.Sizes())
		}
	}
}
