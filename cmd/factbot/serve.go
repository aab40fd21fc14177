package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"factbot/internal/channel"
	"factbot/internal/config"
)

// setup loads the config and replaces the bootstrap logger with the
// configured one.
func setup() (*config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, closer, err := newLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	logger = log
	slog.SetDefault(log)
	return cfg, func() { closer.Close() }, nil
}

func serveCmd() *cobra.Command {
	var register bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive updates through the webhook server",
		Long: `Starts the webhook server and the worker. Telegram must be able to reach
webhook.publicUrl; with --register the webhook is (re)registered at startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Webhook.SecretToken == "" {
				logger.Warn("webhook.secretToken is empty, requests are not authenticated")
			}
			if register {
				url := cfg.Webhook.URL()
				if url == "" {
					return fmt.Errorf("--register needs webhook.publicUrl (or WEBHOOK_PUBLIC_URL)")
				}
				if err := a.telegram.SetWebhook(url, cfg.Webhook.SecretToken, cfg.Webhook.DropPendingUpdates); err != nil {
					return err
				}
				logger.Info("webhook registered", "url", url)
			}

			metricsPath := ""
			if cfg.Metrics.Enabled {
				metricsPath = cfg.Metrics.Endpoint
			}
			server := channel.NewWebhook(channel.WebhookConfig{
				Host:        cfg.Webhook.Host,
				Port:        cfg.Webhook.Port,
				Path:        cfg.Webhook.Path,
				SecretToken: cfg.Webhook.SecretToken,
				Handler:     a.telegram,
				Dedup:       a.dedup,
				MetricsPath: metricsPath,
				Logger:      logger,
			})

			logger.Info("factbot serving", "version", version, "bot", a.telegram.Username(), "addr", server.Addr())
			return a.Run(ctx, server.Start)
		},
	}
	cmd.Flags().BoolVar(&register, "register", false, "register webhook.publicUrl with Telegram before serving")
	return cmd
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Receive updates by long polling (no public URL needed)",
		Long:  "Removes any registered webhook, then polls getUpdates and runs the worker. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			logger.Info("factbot polling", "version", version, "bot", a.telegram.Username())
			return a.Run(ctx, a.telegram.Poll)
		},
	}
}
