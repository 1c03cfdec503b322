package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

type SavedMailRepository struct {
	db *sql.DB
}

func NewSavedMailRepository(db *sql.DB) *SavedMailRepository {
	return &SavedMailRepository{db: db}
}

func (r *SavedMailRepository) Create(m *models.SavedMail) error {
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(`
		INSERT INTO saved_mails (id, name, subject, body, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Subject, m.Body, m.CreatedAt,
	)
	return err
}

func (r *SavedMailRepository) GetByID(id string) (*models.SavedMail, error) {
	m := &models.SavedMail{}
	err := r.db.QueryRow(`
		SELECT id, name, subject, body, created_at
		FROM saved_mails WHERE id = ?`, id,
	).Scan(&m.ID, &m.Name, &m.Subject, &m.Body, &m.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *SavedMailRepository) List() ([]models.SavedMail, error) {
	rows, err := r.db.Query(`SELECT id, name, subject, body, created_at FROM saved_mails ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mails := []models.SavedMail{}
	for rows.Next() {
		var m models.SavedMail
		if err := rows.Scan(&m.ID, &m.Name, &m.Subject, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		mails = append(mails, m)
	}
	return mails, rows.Err()
}
