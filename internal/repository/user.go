package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/prospector/internal/models"
	"github.com/google/uuid"
)

type UserRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, now: utcNow}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	u.ID = uuid.New().String()
	u.CreatedAt = r.now()

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO users (id, name, instance_name, created_at) VALUES (?, ?, ?, ?)",
		u.ID, u.Name, u.InstanceName, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID returns a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.get(ctx, "id", id)
}

// GetByInstance returns the user owning a gateway instance
func (r *UserRepository) GetByInstance(ctx context.Context, instance string) (*models.User, error) {
	return r.get(ctx, "instance_name", instance)
}

func (r *UserRepository) get(ctx context.Context, column, value string) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, instance_name, created_at FROM users WHERE "+column+" = ?", value,
	).Scan(&u.ID, &u.Name, &u.InstanceName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

type PersonaRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPersonaRepository(db *sql.DB) *PersonaRepository {
	return &PersonaRepository{db: db, now: utcNow}
}

// Create creates a new persona
func (r *PersonaRepository) Create(ctx context.Context, p *models.Persona) error {
	p.ID = uuid.New().String()
	p.CreatedAt = r.now()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO personas (id, user_id, name, instructions, context, opening_hint, reply_hint, followup_hint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Instructions, p.Context, p.OpeningHint, p.ReplyHint, p.FollowupHint, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create persona: %w", err)
	}
	return nil
}

// GetByID returns a persona by ID
func (r *PersonaRepository) GetByID(ctx context.Context, id string) (*models.Persona, error) {
	p := &models.Persona{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, instructions, context, opening_hint, reply_hint, followup_hint, created_at
		FROM personas WHERE id = ?`, id,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.Instructions, &p.Context, &p.OpeningHint, &p.ReplyHint, &p.FollowupHint, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
