// Package events ingests engagement events (opens, clicks, bounces) and
// keeps an append-only log of everything received.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketEvents = []byte("events")

// Event kinds
const (
	KindOpen   = "open"
	KindClick  = "click"
	KindBounce = "bounce"
)

// Event is one raw engagement signal as received. The log keeps every
// event, including repeats that did not change any counter.
type Event struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Email      string    `json:"email"`
	Kind       string    `json:"kind"`
	ReceivedAt time.Time `json:"received_at"`
}

// Store is an append-only event log backed by BoltDB.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the event log at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open events db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes an event to the log. The event's ID and ReceivedAt are
// assigned here if unset.
func (s *Store) Append(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		return bucket.Put(makeIndexKey(e.ReceivedAt, e.ID), data)
	})
}

// ListByCampaign returns logged events for a campaign, oldest first.
func (s *Store) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]Event, error) {
	var events []Event

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		c := bucket.Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Event
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if e.CampaignID != campaignID {
				continue
			}

			events = append(events, e)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
		return nil
	})

	return events, err
}

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.Format(time.RFC3339Nano) + ":" + id)
}
