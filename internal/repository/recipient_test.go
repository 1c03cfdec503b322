package repository

import (
	"testing"
	"time"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

func TestCreateBatchIdempotent(t *testing.T) {
	database := setupTestDB(t)
	campaigns := NewCampaignRepository(database.DB)
	recipients := NewRecipientRepository(database.DB)

	c := seedCampaign(t, campaigns, nil)
	rows := []models.Recipient{
		{CampaignID: c.ID, Email: "a@example.com", Cohort: models.CohortA},
		{CampaignID: c.ID, Email: "b@example.com", Cohort: models.CohortB},
	}

	for i := 0; i < 2; i++ {
		if err := recipients.CreateBatch(rows); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
	}

	got, err := recipients.ListByCampaign(c.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2 after repeated batches", len(got))
	}

	// The original cohort survives a re-run, even if reassignment differs.
	relabeled := []models.Recipient{
		{CampaignID: c.ID, Email: "a@example.com", Cohort: models.CohortRemainder},
	}
	if err := recipients.CreateBatch(relabeled); err != nil {
		t.Fatalf("relabel batch: %v", err)
	}
	got, err = recipients.ListByCampaign(c.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, row := range got {
		if row.Email == "a@example.com" && row.Cohort != models.CohortA {
			t.Errorf("cohort = %s, want original A", row.Cohort)
		}
	}
}

func TestStatusCountsAndFinalization(t *testing.T) {
	database := setupTestDB(t)
	campaigns := NewCampaignRepository(database.DB)
	recipients := NewRecipientRepository(database.DB)

	c := seedCampaign(t, campaigns, nil)
	rows := []models.Recipient{
		{CampaignID: c.ID, Email: "a@example.com"},
		{CampaignID: c.ID, Email: "b@example.com"},
		{CampaignID: c.ID, Email: "c@example.com"},
	}
	if err := recipients.CreateBatch(rows); err != nil {
		t.Fatalf("batch: %v", err)
	}

	got, err := recipients.ListByCampaign(c.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	now := time.Now().UTC()
	if err := recipients.MarkSent(got[0].ID, now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := recipients.MarkFailed(got[1].ID, "550 rejected"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	counts, err := recipients.StatusCounts(c.ID)
	if err != nil {
		t.Fatalf("status counts: %v", err)
	}
	if counts[models.RecipientStatusSent] != 1 ||
		counts[models.RecipientStatusFailed] != 1 ||
		counts[models.RecipientStatusPending] != 1 {
		t.Errorf("counts = %v", counts)
	}

	n, err := recipients.CountNonTerminal(c.ID)
	if err != nil {
		t.Fatalf("count non-terminal: %v", err)
	}
	if n != 1 {
		t.Errorf("non-terminal = %d, want 1", n)
	}
}

func TestCohortStatsCountsEngagement(t *testing.T) {
	database := setupTestDB(t)
	campaigns := NewCampaignRepository(database.DB)
	recipients := NewRecipientRepository(database.DB)

	c := seedCampaign(t, campaigns, nil)
	rows := []models.Recipient{
		{CampaignID: c.ID, Email: "a1@example.com", Cohort: models.CohortA},
		{CampaignID: c.ID, Email: "a2@example.com", Cohort: models.CohortA},
		{CampaignID: c.ID, Email: "b1@example.com", Cohort: models.CohortB},
	}
	if err := recipients.CreateBatch(rows); err != nil {
		t.Fatalf("batch: %v", err)
	}

	at := time.Now().UTC()
	if _, err := recipients.MarkOpened(c.ID, "a1@example.com", at); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := recipients.MarkOpened(c.ID, "b1@example.com", at); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := recipients.MarkClicked(c.ID, "b1@example.com", at); err != nil {
		t.Fatalf("click: %v", err)
	}

	stats, err := recipients.CohortStats(c.ID)
	if err != nil {
		t.Fatalf("cohort stats: %v", err)
	}
	if stats[models.CohortA].Opens != 1 || stats[models.CohortA].Clicks != 0 {
		t.Errorf("cohort A = %+v", stats[models.CohortA])
	}
	if stats[models.CohortB].Opens != 1 || stats[models.CohortB].Clicks != 1 {
		t.Errorf("cohort B = %+v", stats[models.CohortB])
	}
}

func TestFirstTouchOnly(t *testing.T) {
	database := setupTestDB(t)
	campaigns := NewCampaignRepository(database.DB)
	recipients := NewRecipientRepository(database.DB)

	c := seedCampaign(t, campaigns, nil)
	if err := recipients.CreateBatch([]models.Recipient{{CampaignID: c.ID, Email: "a@example.com"}}); err != nil {
		t.Fatalf("batch: %v", err)
	}

	at := time.Now().UTC()
	first, err := recipients.MarkOpened(c.ID, "a@example.com", at)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !first {
		t.Error("first open should report true")
	}

	again, err := recipients.MarkOpened(c.ID, "a@example.com", at.Add(time.Minute))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if again {
		t.Error("repeat open must not report first touch")
	}
}
