package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

// GroupRepository is the default implementation of the engine's group store.
// Membership mutations are idempotent: adding a present member or removing
// an absent one is a no-op success.
type GroupRepository struct {
	db *sql.DB
}

func NewGroupRepository(db *sql.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create creates a new group
func (r *GroupRepository) Create(g *models.Group) error {
	g.ID = uuid.New().String()
	g.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(`
		INSERT INTO groups (id, name, description, created_at)
		VALUES (?, ?, ?, ?)`,
		g.ID, g.Name, g.Description, g.CreatedAt,
	)
	return err
}

// GetByID returns a group with its derived member count, or nil if not found.
func (r *GroupRepository) GetByID(id string) (*models.Group, error) {
	g := &models.Group{}
	err := r.db.QueryRow(`
		SELECT g.id, g.name, g.description, g.created_at,
			(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id) as member_count
		FROM groups g WHERE g.id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt, &g.MemberCount)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// List returns all groups with derived member counts.
func (r *GroupRepository) List() ([]models.Group, error) {
	rows, err := r.db.Query(`
		SELECT g.id, g.name, g.description, g.created_at,
			(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id) as member_count
		FROM groups g ORDER BY g.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []models.Group{}
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt, &g.MemberCount); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Delete deletes a group. Membership rows cascade.
func (r *GroupRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM groups WHERE id = ?", id)
	return err
}

// Members returns the member emails of a group, read at call time so that
// membership changes between campaign creation and send are honored.
func (r *GroupRepository) Members(groupID string) ([]string, error) {
	rows, err := r.db.Query(`SELECT email FROM group_members WHERE group_id = ? ORDER BY email`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// AddMember adds an email to a group. Adding an existing member is a no-op.
func (r *GroupRepository) AddMember(groupID, email string) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO group_members (group_id, email, added_at)
		VALUES (?, ?, ?)`,
		groupID, strings.ToLower(strings.TrimSpace(email)), time.Now().UTC(),
	)
	return err
}

// RemoveMember removes an email from a group. Removing an absent member is
// a no-op.
func (r *GroupRepository) RemoveMember(groupID, email string) error {
	_, err := r.db.Exec(`DELETE FROM group_members WHERE group_id = ? AND email = ?`,
		groupID, strings.ToLower(strings.TrimSpace(email)))
	return err
}

// IsMember reports whether an email belongs to a group.
func (r *GroupRepository) IsMember(groupID, email string) (bool, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM group_members WHERE group_id = ? AND email = ?`,
		groupID, strings.ToLower(strings.TrimSpace(email))).Scan(&n)
	return n > 0, err
}
