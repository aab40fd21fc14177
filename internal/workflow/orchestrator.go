// Package workflow runs the two-stage fact-check: assess the claim, then hand
// the verdict to the delivery pipeline.
package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"factbot/internal/domain"
	"factbot/internal/metrics"
)

// Deliverer is the second stage.
type Deliverer interface {
	Deliver(ctx context.Context, res domain.AssessmentResult) domain.DeliveryOutcome
}

// Recorder persists a summary of each run. Optional.
type Recorder interface {
	Record(ctx context.Context, rec domain.RunRecord) error
}

// Orchestrator sequences assessment and delivery for one inbound request.
type Orchestrator struct {
	assessor  domain.Assessor
	deliverer Deliverer
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// OrchestratorConfig holds the dependencies of an Orchestrator.
type OrchestratorConfig struct {
	Assessor  domain.Assessor
	Deliverer Deliverer
	Recorder  Recorder // nil disables run history
	Logger    *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		assessor:  cfg.Assessor,
		deliverer: cfg.Deliverer,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Run executes one invocation. An assessment failure is returned as
// *domain.AssessmentError and nothing is delivered. Delivery failures are not
// errors of Run: they are reported through the returned outcome.
func (o *Orchestrator) Run(ctx context.Context, req domain.InboundRequest) (domain.DeliveryOutcome, error) {
	if strings.TrimSpace(req.SourceText) == "" {
		return domain.DeliveryOutcome{}, domain.ErrInvalidRequest
	}

	runID := uuid.NewString()
	log := o.logger.With("run_id", runID, "chat_id", req.ChatID, "update_id", req.UpdateID)
	started := o.now()
	rec := domain.RunRecord{
		ID:        runID,
		ChatID:    req.ChatID,
		UpdateID:  req.UpdateID,
		SourceLen: utf8.RuneCountInString(req.SourceText),
		StartedAt: started,
	}

	metrics.WorkflowRuns.Inc()
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	log.Info("assessment started", "source_len", rec.SourceLen)
	verdict, err := o.assessor.Assess(ctx, req.SourceText)
	metrics.AssessmentLatency.ObserveSince(started)
	if err != nil {
		aerr := domain.NewAssessmentError(err)
		metrics.AssessmentFailures.Inc()
		metrics.WorkflowFailures.Inc()
		log.Error("assessment failed", "err", aerr)
		rec.Error = aerr.Error()
		o.record(ctx, log, rec)
		return domain.DeliveryOutcome{}, aerr
	}
	rec.VerdictLen = utf8.RuneCountInString(verdict)
	log.Info("assessment finished", "verdict_len", rec.VerdictLen, "elapsed", o.now().Sub(started))

	out := o.deliverer.Deliver(ctx, domain.AssessmentResult{
		VerdictText: verdict,
		ChatID:      req.ChatID,
		IndicatorID: req.IndicatorID,
	})
	rec.ChunksTotal = out.ChunksTotal
	rec.ChunksSent = out.ChunksSent
	rec.Sent = out.Sent
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	if !out.Sent {
		metrics.WorkflowFailures.Inc()
	}
	o.record(ctx, log, rec)

	log.Info("workflow finished", "sent", out.Sent, "chunks", out.ChunksTotal, "elapsed", o.now().Sub(started))
	return out, nil
}

func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, rec domain.RunRecord) {
	if o.recorder == nil {
		return
	}
	rec.Duration = o.now().Sub(rec.StartedAt)
	// The run has already happened; history must not change its result.
	if err := o.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("run history not recorded", "err", err)
	}
}
