package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foxzi/prospector/internal/models"
	"github.com/foxzi/prospector/internal/phone"
	"github.com/google/uuid"
)

type ContactRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db, now: utcNow}
}

// Create creates a new contact. The phone is stored in canonical form so
// webhook lookups by sender match it.
func (r *ContactRepository) Create(ctx context.Context, c *models.Contact) error {
	c.Phone = phone.Canonical(c.Phone)
	if c.Phone == "" {
		return fmt.Errorf("contact %q has no phone digits", c.Name)
	}
	c.ID = uuid.New().String()
	c.CreatedAt = r.now()
	if c.Categories == nil {
		c.Categories = []string{}
	}
	categories, err := json.Marshal(c.Categories)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO contacts (id, user_id, name, phone, categories, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Phone, string(categories), c.Notes, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// GetByID returns a contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	c := &models.Contact{}
	var categories string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, phone, COALESCE(categories, '[]'), notes, created_at
		FROM contacts WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &categories, &c.Notes, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(categories), &c.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return c, nil
}
