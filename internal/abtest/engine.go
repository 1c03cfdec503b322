package abtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeylabbb/newsletter-hq/internal/metrics"
	"github.com/jeylabbb/newsletter-hq/internal/models"
	"github.com/jeylabbb/newsletter-hq/internal/repository"
)

// WaveSender sends one wave of a campaign and finalizes the campaign once
// all rows are terminal. Implemented by the campaign lifecycle.
type WaveSender interface {
	SendWave(ctx context.Context, campaign *models.Campaign, rows []models.Recipient, subject string) error
	FinalizeCampaign(campaignID string) error
}

// Engine evaluates claimed A/B tests and commits the remainder wave to the
// winning subject.
type Engine struct {
	campaigns  *repository.CampaignRepository
	recipients *repository.RecipientRepository
	sender     WaveSender
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewEngine(
	campaigns *repository.CampaignRepository,
	recipients *repository.RecipientRepository,
	sender WaveSender,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		campaigns:  campaigns,
		recipients: recipients,
		sender:     sender,
		metrics:    m,
		logger:     logger.With("component", "abtest"),
		now:        time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

// Evaluate picks the winner for a claimed evaluation and sends the
// remainder wave. The caller must have claimed the evaluation first; a
// campaign not in the claimed state is skipped, which makes re-running a
// completed evaluation a no-op.
func (e *Engine) Evaluate(ctx context.Context, campaignID string) error {
	campaign, err := e.campaigns.GetByID(campaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	if campaign == nil {
		return nil
	}
	if campaign.ABState != models.ABStateEvaluating {
		e.logger.Debug("evaluation skipped", "campaign_id", campaignID, "ab_state", campaign.ABState)
		return nil
	}

	// Counts are read once, at claim time. In-flight opens or clicks that
	// land later do not reopen the verdict.
	stats, err := e.recipients.CohortStats(campaignID)
	if err != nil {
		return fmt.Errorf("failed to read cohort stats: %w", err)
	}
	statsA := stats[models.CohortA]
	statsB := stats[models.CohortB]

	winner := PickWinner(campaign.ABWinnerCriteria, statsA, statsB)
	evaluatedAt := e.now().UTC()

	// The verdict is stamped before the remainder send and never rolled
	// back, even if the remainder wave partially fails.
	if err := e.campaigns.FinishEvaluation(campaignID, winner, evaluatedAt); err != nil {
		return fmt.Errorf("failed to stamp verdict: %w", err)
	}

	e.metrics.ABEvaluationsTotal.WithLabelValues(winner).Inc()
	e.logger.Info("A/B test evaluated",
		"campaign_id", campaignID,
		"criteria", campaign.ABWinnerCriteria,
		"winner", winner,
		"a_opens", statsA.Opens, "a_clicks", statsA.Clicks,
		"b_opens", statsB.Opens, "b_clicks", statsB.Clicks,
	)

	remainder, err := e.recipients.PendingByCohort(campaignID, models.CohortRemainder)
	if err != nil {
		return fmt.Errorf("failed to load remainder cohort: %w", err)
	}

	if len(remainder) > 0 {
		if err := e.sender.SendWave(ctx, campaign, remainder, campaign.SubjectFor(winner)); err != nil {
			return fmt.Errorf("failed to send remainder wave: %w", err)
		}
	}

	return e.sender.FinalizeCampaign(campaignID)
}
