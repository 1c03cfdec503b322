// Package lifecycle owns the Campaign state machine: creation, dispatch,
// per-recipient delivery and terminal bookkeeping.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeylabbb/newsletter-hq/internal/abtest"
	"github.com/jeylabbb/newsletter-hq/internal/config"
	"github.com/jeylabbb/newsletter-hq/internal/mailer"
	"github.com/jeylabbb/newsletter-hq/internal/metrics"
	"github.com/jeylabbb/newsletter-hq/internal/models"
	"github.com/jeylabbb/newsletter-hq/internal/repository"
	"github.com/jeylabbb/newsletter-hq/internal/resolver"
	"github.com/jeylabbb/newsletter-hq/internal/schedule"
)

var (
	// ErrValidation marks malformed input surfaced synchronously to the
	// caller. No side effect has been performed.
	ErrValidation = errors.New("validation error")

	// ErrNoRecipients is recorded on a campaign whose addressing spec
	// resolved to an empty set. No partial send is attempted.
	ErrNoRecipients = errors.New("no recipients after resolution")
)

type Lifecycle struct {
	campaigns  *repository.CampaignRepository
	recipients *repository.RecipientRepository
	resolver   *resolver.Resolver
	mailer     mailer.Mailer
	metrics    *metrics.Metrics
	logger     *slog.Logger

	dispatchHour  int
	cohortModulus int
	concurrency   int
	fromAddress   string
	fromName      string

	now func() time.Time
}

func New(
	campaigns *repository.CampaignRepository,
	recipients *repository.RecipientRepository,
	res *resolver.Resolver,
	m mailer.Mailer,
	met *metrics.Metrics,
	cfg *config.Config,
	logger *slog.Logger,
) *Lifecycle {
	return &Lifecycle{
		campaigns:     campaigns,
		recipients:    recipients,
		resolver:      res,
		mailer:        m,
		metrics:       met,
		logger:        logger.With("component", "lifecycle"),
		dispatchHour:  cfg.Scheduler.DispatchHourUTC,
		cohortModulus: cfg.ABTest.CohortModulus,
		concurrency:   cfg.Scheduler.Concurrency,
		fromAddress:   cfg.SMTP.FromAddress,
		fromName:      cfg.SMTP.FromName,
		now:           time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (l *Lifecycle) SetNow(now func() time.Time) {
	l.now = now
}

// Create validates and persists a new campaign. Scheduled campaigns have
// scheduled_for snapped to the dispatch hour of the requested UTC day.
func (l *Lifecycle) Create(c *models.Campaign) error {
	if err := l.validate(c); err != nil {
		return err
	}

	switch c.SendMode {
	case models.SendModeDraft:
		c.Status = models.CampaignStatusDraft
	case models.SendModeImmediate:
		c.Status = models.CampaignStatusPending
	case models.SendModeScheduled:
		snapped := schedule.AtDispatchHour(*c.ScheduledFor, l.dispatchHour)
		c.ScheduledFor = &snapped
		c.Status = models.CampaignStatusScheduled
	}

	if err := l.campaigns.Create(c); err != nil {
		return err
	}

	l.logger.Info("campaign created",
		"campaign_id", c.ID,
		"send_mode", c.SendMode,
		"status", c.Status,
		"ab_enabled", c.ABEnabled,
	)
	return nil
}

func (l *Lifecycle) validate(c *models.Campaign) error {
	if c.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if c.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if c.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}

	switch c.SendMode {
	case models.SendModeDraft, models.SendModeImmediate:
	case models.SendModeScheduled:
		if c.ScheduledFor == nil {
			return fmt.Errorf("%w: scheduled_for is required for scheduled campaigns", ErrValidation)
		}
		if !c.ScheduledFor.After(l.now()) {
			return fmt.Errorf("%w: scheduled_for must be in the future", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown send mode %q", ErrValidation, c.SendMode)
	}

	if c.ABEnabled {
		if c.SubjectB == "" {
			return fmt.Errorf("%w: subject_b is required for A/B tests", ErrValidation)
		}
		if c.ABTestDuration < 1 {
			return fmt.Errorf("%w: test duration must be at least one day", ErrValidation)
		}
		switch c.ABWinnerCriteria {
		case models.CriteriaOpens, models.CriteriaClicks, models.CriteriaCTR, models.CriteriaCombined:
		case "":
			c.ABWinnerCriteria = models.CriteriaOpens
		default:
			return fmt.Errorf("%w: unknown winner criteria %q", ErrValidation, c.ABWinnerCriteria)
		}
	}

	return nil
}

// Dispatch resolves recipients and sends the campaign's first wave. The
// campaign must already be claimed into 'sending'; dispatch is idempotent
// over recipient rows, so a crashed dispatch can be re-run without
// duplicating rows or re-assigning cohorts.
func (l *Lifecycle) Dispatch(ctx context.Context, campaignID string) error {
	campaign, err := l.campaigns.GetByID(campaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	if campaign == nil {
		return nil
	}
	if campaign.Status != models.CampaignStatusSending {
		l.logger.Debug("dispatch skipped", "campaign_id", campaignID, "status", campaign.Status)
		return nil
	}

	resolved, err := l.resolver.Resolve(resolver.AddressingSpec{
		GroupIDs:       campaign.GroupIDs,
		ExplicitEmails: campaign.ExplicitEmails,
		ManualEmails:   campaign.ManualEmails,
	})
	if err != nil {
		return l.failCampaign(campaignID, fmt.Errorf("recipient resolution failed: %w", err))
	}
	if len(resolved) == 0 {
		return l.failCampaign(campaignID, ErrNoRecipients)
	}

	rows := make([]models.Recipient, len(resolved))
	var cohorts map[string]string
	if campaign.ABEnabled {
		cohorts = abtest.AssignCohorts(campaign.ID, resolved, l.cohortModulus)
	}
	for i, email := range resolved {
		rows[i] = models.Recipient{
			CampaignID: campaign.ID,
			Email:      email,
			Cohort:     cohorts[email],
		}
	}
	if err := l.recipients.CreateBatch(rows); err != nil {
		return fmt.Errorf("failed to create recipient rows: %w", err)
	}

	l.metrics.CampaignsDispatchedTotal.Inc()
	l.logger.Info("campaign dispatched",
		"campaign_id", campaign.ID,
		"recipients", len(resolved),
		"ab_enabled", campaign.ABEnabled,
	)

	if campaign.ABEnabled {
		return l.dispatchTestWaves(ctx, campaign)
	}

	pending, err := l.recipients.PendingByCohort(campaign.ID, "")
	if err != nil {
		return err
	}
	if err := l.SendWave(ctx, campaign, pending, campaign.Subject); err != nil {
		return err
	}
	return l.FinalizeCampaign(campaign.ID)
}

// dispatchTestWaves sends cohorts A and B and parks the campaign until the
// evaluation is due. The remainder cohort stays pending.
func (l *Lifecycle) dispatchTestWaves(ctx context.Context, campaign *models.Campaign) error {
	for _, cohort := range []string{models.CohortA, models.CohortB} {
		rows, err := l.recipients.PendingByCohort(campaign.ID, cohort)
		if err != nil {
			return err
		}
		if err := l.SendWave(ctx, campaign, rows, campaign.SubjectFor(cohort)); err != nil {
			return err
		}
	}

	evaluateAt := schedule.NextBoundary(
		l.now().UTC().Add(time.Duration(campaign.ABTestDuration)*24*time.Hour),
		l.dispatchHour,
	)
	if err := l.campaigns.StartTest(campaign.ID, evaluateAt); err != nil {
		return fmt.Errorf("failed to start test: %w", err)
	}

	l.logger.Info("A/B test waves sent",
		"campaign_id", campaign.ID,
		"evaluate_at", evaluateAt,
	)
	return nil
}

// SendWave sends one message per pending row. A single per-address failure
// does not abort the batch: the outcome lands on the row and the wave
// continues.
func (l *Lifecycle) SendWave(ctx context.Context, campaign *models.Campaign, rows []models.Recipient, subject string) error {
	sem := make(chan struct{}, l.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	sent := 0

	for _, row := range rows {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(row models.Recipient) {
			defer func() {
				<-sem
				wg.Done()
			}()

			msg := &mailer.Message{
				From:      l.fromAddress,
				FromName:  l.fromName,
				To:        row.Email,
				Subject:   subject,
				Body:      campaign.Body,
				Preheader: campaign.Preheader,
			}

			if err := l.mailer.Send(ctx, msg); err != nil {
				l.metrics.RecipientsFailedTotal.Inc()
				if uerr := l.recipients.MarkFailed(row.ID, err.Error()); uerr != nil {
					l.logger.Error("failed to record delivery failure", "recipient_id", row.ID, "error", uerr)
				}
				l.logger.Debug("delivery failed", "campaign_id", campaign.ID, "email", row.Email, "error", err)
				return
			}

			l.metrics.RecipientsSentTotal.Inc()
			if uerr := l.recipients.MarkSent(row.ID, l.now().UTC()); uerr != nil {
				l.logger.Error("failed to record delivery", "recipient_id", row.ID, "error", uerr)
				return
			}
			mu.Lock()
			sent++
			mu.Unlock()
		}(row)
	}

	wg.Wait()

	if sent > 0 {
		if err := l.campaigns.AddSent(campaign.ID, sent); err != nil {
			l.logger.Error("failed to update sent counter", "campaign_id", campaign.ID, "error", err)
		}
	}
	return nil
}

// FinalizeCampaign moves a campaign to its terminal status once every
// recipient row is terminal. The campaign fails only when nothing was
// delivered at all; scattered per-row failures still count as sent.
func (l *Lifecycle) FinalizeCampaign(campaignID string) error {
	counts, err := l.recipients.StatusCounts(campaignID)
	if err != nil {
		return err
	}
	if counts[models.RecipientStatusPending] > 0 {
		return nil
	}

	sent := counts[models.RecipientStatusSent]
	failed := counts[models.RecipientStatusFailed] + counts[models.RecipientStatusBounced]

	status := models.CampaignStatusSent
	reason := ""
	if sent == 0 && failed > 0 {
		status = models.CampaignStatusFailed
		reason = "transport failure for entire batch"
	}

	if err := l.campaigns.SetStatus(campaignID, status, reason); err != nil {
		return err
	}

	l.logger.Info("campaign finalized",
		"campaign_id", campaignID,
		"status", status,
		"sent", sent,
		"failed", failed,
	)
	return nil
}

func (l *Lifecycle) failCampaign(campaignID string, cause error) error {
	if err := l.campaigns.SetStatus(campaignID, models.CampaignStatusFailed, cause.Error()); err != nil {
		return err
	}
	l.logger.Warn("campaign failed", "campaign_id", campaignID, "reason", cause)
	return nil
}

// MarkExcluded toggles tracking exclusion. Stats are left untouched.
func (l *Lifecycle) MarkExcluded(campaignID string, excluded bool) error {
	return l.campaigns.SetExcluded(campaignID, excluded)
}

// Delete removes a campaign and, by cascade, its recipient rows. A deleted
// scheduled campaign can no longer be claimed, so its due tick never fires.
func (l *Lifecycle) Delete(campaignID string) error {
	return l.campaigns.Delete(campaignID)
}

// SendOneOff delivers a single message outside any campaign, used by
// workflow steps that mail the triggering contact.
func (l *Lifecycle) SendOneOff(ctx context.Context, to, subject, body string) error {
	msg := &mailer.Message{
		From:     l.fromAddress,
		FromName: l.fromName,
		To:       to,
		Subject:  subject,
		Body:     body,
	}
	return l.mailer.Send(ctx, msg)
}
