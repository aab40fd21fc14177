package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"factbot/internal/channel"
	"factbot/internal/config"
)

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}

	var dropPending bool
	set := &cobra.Command{
		Use:   "set [url]",
		Short: "Register the webhook (default: webhook.publicUrl + webhook.path)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tg, err := connectTelegram()
			if err != nil {
				return err
			}
			url := cfg.Webhook.URL()
			if len(args) == 1 {
				url = args[0]
			}
			if url == "" {
				return errors.New("no webhook URL: pass one or set webhook.publicUrl")
			}
			if cfg.Webhook.SecretToken == "" {
				logger.Warn("registering without a secret token")
			}
			if err := tg.SetWebhook(url, cfg.Webhook.SecretToken, dropPending || cfg.Webhook.DropPendingUpdates); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook set: %s\n", url)
			return nil
		},
	}
	set.Flags().BoolVar(&dropPending, "drop-pending", false, "discard updates queued while no webhook was set")

	info := &cobra.Command{
		Use:   "info",
		Short: "Show the registered webhook and compare it with the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tg, err := connectTelegram()
			if err != nil {
				return err
			}
			wi, err := tg.WebhookInfo()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Bot:              @%s\n", tg.Username())
			fmt.Fprintf(out, "Registered URL:   %s\n", orNone(wi.URL))
			fmt.Fprintf(out, "Pending updates:  %d\n", wi.PendingUpdateCount)
			if wi.LastErrorMessage != "" {
				fmt.Fprintf(out, "Last error:       %s\n", wi.LastErrorMessage)
			}

			want := cfg.Webhook.URL()
			switch {
			case want == "":
				fmt.Fprintln(out, "Configured URL:   (none, webhook.publicUrl is empty)")
			case wi.URL == want:
				fmt.Fprintf(out, "Configured URL:   %s [match]\n", want)
			default:
				fmt.Fprintf(out, "Configured URL:   %s [MISMATCH]\n", want)
				return fmt.Errorf("registered webhook %q does not match %q; run 'factbot webhook set'", wi.URL, want)
			}
			return nil
		},
	}

	var dropOnDelete bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook (required before polling elsewhere)",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tg, err := connectTelegram()
			if err != nil {
				return err
			}
			if err := tg.DeleteWebhook(dropOnDelete); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Webhook deleted")
			return nil
		},
	}
	del.Flags().BoolVar(&dropOnDelete, "drop-pending", false, "discard pending updates")

	cmd.AddCommand(set, info, del)
	return cmd
}

func connectTelegram() (*config.Config, *channel.Telegram, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Telegram.Token == "" {
		return nil, nil, errors.New("missing telegram.token (or TELEGRAM_BOT_TOKEN)")
	}
	tg, err := newTelegram(cfg, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := tg.Connect(context.Background()); err != nil {
		return nil, nil, err
	}
	return cfg, tg, nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
