package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"factbot/internal/config"
	"factbot/internal/history"
)

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your factbot installation",
		Long: `Verifies the configuration, the Telegram token, the assessor credentials,
the history database and the webhook setup. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("factbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
			r := &doctorReport{}

			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			doctorTelegram(ctx, r, cfg)
			doctorAssessor(r, cfg)
			doctorHistory(ctx, r, cfg)

			if cfg.Dedup.Enabled && cfg.Dedup.Backend == "redis" {
				f, err := newDedup(ctx, cfg.Dedup)
				if err != nil {
					r.fail("Dedup (redis)", err.Error())
				} else {
					r.pass("Dedup (redis)", "reachable")
					if c, ok := f.(interface{ Close() error }); ok {
						c.Close()
					}
				}
			}

			if err := checkPort(cfg.Webhook.Host, cfg.Webhook.Port); err != nil {
				r.warn("Webhook port", fmt.Sprintf("%d may be in use: %v", cfg.Webhook.Port, err))
			} else {
				r.pass("Webhook port", fmt.Sprintf(":%d available", cfg.Webhook.Port))
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.summary()
		},
	}
}

func doctorTelegram(ctx context.Context, r *doctorReport, cfg *config.Config) {
	if cfg.Telegram.Token == "" {
		r.fail("Telegram token", "not set (telegram.token or TELEGRAM_BOT_TOKEN)")
		return
	}
	tg, err := newTelegram(cfg, nil, logger)
	if err != nil {
		r.fail("Telegram token", err.Error())
		return
	}
	if err := tg.Connect(ctx); err != nil {
		r.fail("Telegram token", err.Error())
		return
	}
	r.pass("Telegram token", "@"+tg.Username())

	want := cfg.Webhook.URL()
	wi, err := tg.WebhookInfo()
	switch {
	case err != nil:
		r.warn("Webhook", err.Error())
	case want == "" && wi.URL == "":
		r.pass("Webhook", "none registered (polling mode)")
	case want == "":
		r.warn("Webhook", fmt.Sprintf("registered %s but webhook.publicUrl is empty; 'factbot poll' will remove it", wi.URL))
	case wi.URL != want:
		r.fail("Webhook", fmt.Sprintf("registered %q, configured %q", wi.URL, want))
	case wi.LastErrorMessage != "":
		r.warn("Webhook", "last delivery error: "+wi.LastErrorMessage)
	default:
		r.pass("Webhook", fmt.Sprintf("%s (%d pending)", wi.URL, wi.PendingUpdateCount))
	}
}

func doctorAssessor(r *doctorReport, cfg *config.Config) {
	if cfg.Assessor.APIKey == "" {
		r.fail("Assessor API key", "not set (assessor.apiKey or PERPLEXITY_API_KEY)")
	} else {
		r.pass("Assessor API key", "configured")
	}
	p, err := assessProfile(cfg.Assessor)
	if err != nil {
		r.fail("Assessor profile", err.Error())
		return
	}
	r.pass("Assessor profile", fmt.Sprintf("%s (%s, timeout %s)", p.Name, p.Model, p.Timeout))
}

func doctorHistory(ctx context.Context, r *doctorReport, cfg *config.Config) {
	if !cfg.History.Enabled && !cfg.Subscriptions.Enabled {
		r.warn("History", "disabled")
		return
	}
	store, err := history.NewSQLiteStore(cfg.History.DBPath, logger)
	if err != nil {
		r.fail("History", err.Error())
		return
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		r.fail("History", err.Error())
		return
	}
	r.pass("History", cfg.History.DBPath)

	if !cfg.Subscriptions.Enabled {
		return
	}
	subs, err := store.Subscriptions(ctx)
	if err != nil {
		r.fail("Subscriptions", err.Error())
		return
	}
	active := 0
	for _, s := range subs {
		if s.Active(time.Now()) {
			active++
		}
	}
	r.pass("Subscriptions", fmt.Sprintf("%d active, %d admin(s), sweep every %s",
		active, len(cfg.Telegram.AdminIDs), cfg.Subscriptions.SweepInterval()))
}

func (r *doctorReport) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running factbot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nfactbot should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! factbot is ready to run.\n")
	}
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
