package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeylabbb/newsletter-hq/internal/db"
	"github.com/jeylabbb/newsletter-hq/internal/metrics"
	"github.com/jeylabbb/newsletter-hq/internal/models"
	"github.com/jeylabbb/newsletter-hq/internal/repository"
)

type testEnv struct {
	ingestor   *Ingestor
	store      *Store
	campaigns  *repository.CampaignRepository
	recipients *repository.RecipientRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	campaigns := repository.NewCampaignRepository(database.DB)
	recipients := repository.NewRecipientRepository(database.DB)
	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &testEnv{
		ingestor:   NewIngestor(store, campaigns, recipients, m, logger),
		store:      store,
		campaigns:  campaigns,
		recipients: recipients,
	}
}

func (env *testEnv) seedCampaign(t *testing.T, emails ...string) *models.Campaign {
	t.Helper()

	c := &models.Campaign{
		Title:    "digest",
		Subject:  "Digest",
		Body:     "hello",
		SendMode: models.SendModeImmediate,
		Status:   models.CampaignStatusSending,
	}
	if err := env.campaigns.Create(c); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	rows := make([]models.Recipient, len(emails))
	for i, email := range emails {
		rows[i] = models.Recipient{CampaignID: c.ID, Email: email}
	}
	if err := env.recipients.CreateBatch(rows); err != nil {
		t.Fatalf("create recipients: %v", err)
	}
	return c
}

func TestOpenCountsOncePerRecipient(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedCampaign(t, "alice@example.com")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := env.ingestor.Ingest(ctx, &Event{CampaignID: c.ID, Email: "alice@example.com", Kind: KindOpen})
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	got, err := env.campaigns.GetByID(c.ID)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if got.OpenedCount != 1 {
		t.Errorf("opened_count = %d, want 1", got.OpenedCount)
	}

	// Every raw event still lands in the log.
	logged, err := env.store.ListByCampaign(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(logged) != 3 {
		t.Errorf("logged %d events, want 3", len(logged))
	}
}

func TestClickAndOpenTrackedIndependently(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedCampaign(t, "bob@example.com")

	ctx := context.Background()
	if err := env.ingestor.Ingest(ctx, &Event{CampaignID: c.ID, Email: "bob@example.com", Kind: KindClick}); err != nil {
		t.Fatalf("ingest click: %v", err)
	}

	got, err := env.campaigns.GetByID(c.ID)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if got.ClickedCount != 1 {
		t.Errorf("clicked_count = %d, want 1", got.ClickedCount)
	}
	if got.OpenedCount != 0 {
		t.Errorf("opened_count = %d, want 0; a click is not an open", got.OpenedCount)
	}
}

func TestBounceMarksRecipientTerminal(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedCampaign(t, "carol@example.com")

	ctx := context.Background()
	if err := env.ingestor.Ingest(ctx, &Event{CampaignID: c.ID, Email: "carol@example.com", Kind: KindBounce}); err != nil {
		t.Fatalf("ingest bounce: %v", err)
	}

	rows, err := env.recipients.ListByCampaign(c.ID)
	if err != nil {
		t.Fatalf("list recipients: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != models.RecipientStatusBounced {
		t.Fatalf("recipient not bounced: %+v", rows)
	}
}

func TestExcludedCampaignKeepsLogButNoCounters(t *testing.T) {
	env := newTestEnv(t)
	c := env.seedCampaign(t, "dave@example.com")
	if err := env.campaigns.SetExcluded(c.ID, true); err != nil {
		t.Fatalf("set excluded: %v", err)
	}

	ctx := context.Background()
	if err := env.ingestor.Ingest(ctx, &Event{CampaignID: c.ID, Email: "dave@example.com", Kind: KindOpen}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got, err := env.campaigns.GetByID(c.ID)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if got.OpenedCount != 0 {
		t.Errorf("opened_count = %d, want 0 for excluded campaign", got.OpenedCount)
	}

	logged, err := env.store.ListByCampaign(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(logged) != 1 {
		t.Errorf("logged %d events, want 1", len(logged))
	}
}

func TestUnknownKindRejected(t *testing.T) {
	env := newTestEnv(t)

	err := env.ingestor.Ingest(context.Background(), &Event{CampaignID: "x", Email: "y", Kind: "forward"})
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestEventForUnknownCampaignIsLoggedOnly(t *testing.T) {
	env := newTestEnv(t)

	ctx := context.Background()
	err := env.ingestor.Ingest(ctx, &Event{CampaignID: "gone", Email: "erin@example.com", Kind: KindOpen})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	logged, err := env.store.ListByCampaign(ctx, "gone", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(logged) != 1 {
		t.Errorf("logged %d events, want 1", len(logged))
	}
}

func TestAppendOrdersByTime(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 2; i >= 0; i-- {
		e := &Event{
			CampaignID: "c1",
			Email:      "a@example.com",
			Kind:       KindOpen,
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	logged, err := store.ListByCampaign(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logged) != 3 {
		t.Fatalf("logged %d events, want 3", len(logged))
	}
	for i := 1; i < len(logged); i++ {
		if logged[i].ReceivedAt.Before(logged[i-1].ReceivedAt) {
			t.Errorf("events out of order at %d", i)
		}
	}
}
