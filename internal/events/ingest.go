package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeylabbb/newsletter-hq/internal/metrics"
	"github.com/jeylabbb/newsletter-hq/internal/repository"
)

// ErrUnknownKind is returned for an event kind outside open/click/bounce.
var ErrUnknownKind = errors.New("unknown event kind")

// Ingestor applies engagement events: every event is appended to the log,
// then folded into recipient rows and campaign counters. Opens and clicks
// count once per recipient; repeats only land in the log.
type Ingestor struct {
	store      *Store
	campaigns  *repository.CampaignRepository
	recipients *repository.RecipientRepository
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewIngestor(
	store *Store,
	campaigns *repository.CampaignRepository,
	recipients *repository.RecipientRepository,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		store:      store,
		campaigns:  campaigns,
		recipients: recipients,
		metrics:    m,
		logger:     logger.With("component", "events"),
		now:        time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (in *Ingestor) SetNow(now func() time.Time) {
	in.now = now
}

// Ingest logs and applies one event. Events for unknown campaigns or
// recipients are logged but change nothing; a tracking pixel can outlive
// its campaign.
func (in *Ingestor) Ingest(ctx context.Context, e *Event) error {
	switch e.Kind {
	case KindOpen, KindClick, KindBounce:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}

	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = in.now().UTC()
	}
	if err := in.store.Append(ctx, e); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	in.metrics.EventsIngestedTotal.WithLabelValues(e.Kind).Inc()

	campaign, err := in.campaigns.GetByID(e.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	if campaign == nil {
		in.logger.Debug("event for unknown campaign", "campaign_id", e.CampaignID, "kind", e.Kind)
		return nil
	}

	switch e.Kind {
	case KindOpen:
		if campaign.ExcludedFromTracking {
			return nil
		}
		first, err := in.recipients.MarkOpened(e.CampaignID, e.Email, e.ReceivedAt)
		if err != nil {
			return fmt.Errorf("failed to mark opened: %w", err)
		}
		if first {
			if err := in.campaigns.AddOpened(e.CampaignID); err != nil {
				return fmt.Errorf("failed to bump opened count: %w", err)
			}
		}

	case KindClick:
		if campaign.ExcludedFromTracking {
			return nil
		}
		first, err := in.recipients.MarkClicked(e.CampaignID, e.Email, e.ReceivedAt)
		if err != nil {
			return fmt.Errorf("failed to mark clicked: %w", err)
		}
		if first {
			if err := in.campaigns.AddClicked(e.CampaignID); err != nil {
				return fmt.Errorf("failed to bump clicked count: %w", err)
			}
		}

	case KindBounce:
		if err := in.recipients.MarkBounced(e.CampaignID, e.Email); err != nil {
			return fmt.Errorf("failed to mark bounced: %w", err)
		}
	}

	return nil
}
