package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"factbot/internal/domain"
	"factbot/internal/history"
)

func historyCmd() *cobra.Command {
	var (
		limit  int
		chatID int64
		since  time.Duration
		prune  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent fact-check runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return errors.New("history is disabled (history.enabled = false)")
			}
			store, err := history.NewSQLiteStore(cfg.History.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			out := cmd.OutOrStdout()

			if prune {
				cutoff := time.Now().AddDate(0, 0, -cfg.History.RetentionDays)
				n, err := store.Prune(ctx, cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d run(s) older than %s\n", n, cutoff.Format(time.DateOnly))
				return nil
			}

			var runs []domain.RunRecord
			if chatID != 0 {
				runs, err = store.RecentForChat(ctx, chatID, limit)
			} else {
				runs, err = store.Recent(ctx, limit)
			}
			if err != nil {
				return err
			}
			printRuns(cmd, runs)

			st, err := store.Stats(ctx, time.Now().Add(-since))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nLast %s: %d runs, %d delivered, %d failed, avg %dms\n",
				since, st.Runs, st.Sent, st.Failed, st.AvgDurationMS)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().Int64Var(&chatID, "chat", 0, "only runs for this chat ID")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "window for the summary line")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete runs older than history.retentionDays and exit")
	return cmd
}

func printRuns(cmd *cobra.Command, runs []domain.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCHAT\tSOURCE\tVERDICT\tCHUNKS\tSTATUS\tDURATION")
	for _, r := range runs {
		status := "sent"
		if !r.Sent {
			status = "failed"
			if r.Error != "" {
				status = "failed: " + truncate(r.Error, 60)
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d/%d\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.ChatID, r.SourceLen, r.VerdictLen,
			r.ChunksSent, r.ChunksTotal, status, r.Duration.Round(time.Millisecond))
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
