package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Create creates a contact. The email is normalized before storage.
func (r *ContactRepository) Create(c *models.Contact) error {
	c.ID = uuid.New().String()
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(`
		INSERT INTO contacts (id, email, name, created_at)
		VALUES (?, ?, ?, ?)`,
		c.ID, c.Email, c.Name, c.CreatedAt,
	)
	return err
}

func (r *ContactRepository) GetByEmail(email string) (*models.Contact, error) {
	c := &models.Contact{}
	err := r.db.QueryRow(`
		SELECT id, email, name, created_at FROM contacts WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&c.ID, &c.Email, &c.Name, &c.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ContactRepository) List() ([]models.Contact, error) {
	rows, err := r.db.Query(`SELECT id, email, name, created_at FROM contacts ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []models.Contact{}
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.Email, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
