package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"factbot/internal/delivery"
	"factbot/internal/domain"
	"factbot/internal/segment"
)

func checkCmd() *cobra.Command {
	var chatID int64
	cmd := &cobra.Command{
		Use:   "check [claim...]",
		Short: "Check one claim and print the verdict",
		Long: `Runs the assessor once and prints the verdict split into the chunks the bot
would send. The claim is read from stdin when no arguments are given. With
--chat the verdict is also delivered to that Telegram chat.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			claim := strings.Join(args, " ")
			if claim == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				claim = string(data)
			}
			claim = strings.TrimSpace(claim)
			if claim == "" {
				return domain.ErrInvalidRequest
			}
			if cfg.Assessor.APIKey == "" {
				return errors.New("missing assessor.apiKey (or PERPLEXITY_API_KEY)")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			assessor, err := newAssessor(cfg, logger)
			if err != nil {
				return err
			}
			verdict, err := assessor.Assess(ctx, claim)
			if err != nil {
				return err
			}

			chunks := segment.Segment(verdict, cfg.Delivery.MaxChunkSize)
			out := cmd.OutOrStdout()
			for i, c := range chunks {
				fmt.Fprintf(out, "--- chunk %d/%d (%d chars) ---\n%s\n", i+1, len(chunks), len([]rune(c)), c)
			}

			if chatID == 0 {
				return nil
			}
			if cfg.Telegram.Token == "" {
				return errors.New("missing telegram.token (or TELEGRAM_BOT_TOKEN)")
			}
			tg, err := newTelegram(cfg, nil, logger)
			if err != nil {
				return err
			}
			if err := tg.Connect(ctx); err != nil {
				return err
			}
			pipeline := delivery.NewPipeline(delivery.PipelineConfig{
				Messenger:    tg,
				MaxChunkSize: cfg.Delivery.MaxChunkSize,
				ChunkDelay:   cfg.Delivery.ChunkDelay(),
				ChunkRetries: cfg.Delivery.ChunkRetries,
				Logger:       logger,
			})
			outcome := pipeline.Deliver(ctx, domain.AssessmentResult{VerdictText: verdict, ChatID: chatID})
			if !outcome.Sent {
				return fmt.Errorf("delivered %d of %d chunks: %w", outcome.ChunksSent, outcome.ChunksTotal, outcome.Err)
			}
			logger.Info("verdict delivered", "chat_id", chatID, "chunks", outcome.ChunksTotal)
			return nil
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat", 0, "also deliver the verdict to this chat ID")
	return cmd
}
