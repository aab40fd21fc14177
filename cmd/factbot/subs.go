package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"factbot/internal/access"
	"factbot/internal/domain"
	"factbot/internal/history"
)

// subsCmd manages subscriptions offline. Users are not notified; use the
// bot's /grant and /revoke for that.
func subsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subs",
		Short: "List, grant and revoke subscriptions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List subscriptions, latest expiry first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSubscriptions(func(ctx context.Context, store *history.SQLiteStore) error {
				subs, err := store.Subscriptions(ctx)
				if err != nil {
					return err
				}
				printSubscriptions(cmd, subs, time.Now())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "grant <user_id> <period>",
		Short: "Grant or extend a subscription (period: 1m, 1d, 1M, 6M, 1y)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user ID %q", args[0])
			}
			period, err := access.ParseDuration(args[1])
			if err != nil {
				return err
			}
			return withSubscriptions(func(ctx context.Context, store *history.SQLiteStore) error {
				expires := time.Now().Add(period)
				if err := store.Grant(ctx, userID, "", expires); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Granted %d for %s, until %s\n",
					userID, access.FormatDuration(args[1]), expires.Local().Format(time.DateTime))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <user_id>",
		Short: "Revoke a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user ID %q", args[0])
			}
			return withSubscriptions(func(ctx context.Context, store *history.SQLiteStore) error {
				found, err := store.Revoke(ctx, userID)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no subscription for %d", userID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked %d\n", userID)
				return nil
			})
		},
	})

	return cmd
}

func withSubscriptions(fn func(ctx context.Context, store *history.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Subscriptions.Enabled {
		return errors.New("subscriptions are disabled (subscriptions.enabled = false)")
	}
	store, err := history.NewSQLiteStore(cfg.History.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), store)
}

func printSubscriptions(cmd *cobra.Command, subs []domain.Subscription, now time.Time) {
	if len(subs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions.")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tUSERNAME\tCREATED\tEXPIRES\tSTATUS")
	for _, s := range subs {
		status := "active"
		if !s.Active(now) {
			status = "expired"
		}
		username := "-"
		if s.Username != "" {
			username = "@" + s.Username
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.UserID, username,
			s.CreatedAt.Local().Format(time.DateTime), s.ExpiresAt.Local().Format(time.DateTime), status)
	}
	tw.Flush()
}
