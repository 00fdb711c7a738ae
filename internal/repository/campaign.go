package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/prospector/internal/models"
	"github.com/google/uuid"
)

// ErrCampaignRunning is returned for mutations forbidden while a campaign runs
var ErrCampaignRunning = errors.New("campaign is running")

// ErrNotFound is returned by updates that matched no row
var ErrNotFound = errors.New("not found")

type CampaignRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db, now: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

const campaignColumns = `id, name, user_id, status, COALESCE(persona_id, ''), followup_interval_seconds,
	initial_interval_seconds, log, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*models.Campaign, error) {
	c := &models.Campaign{}
	var followup, initial int64
	err := row.Scan(&c.ID, &c.Name, &c.UserID, &c.Status, &c.PersonaID, &followup, &initial,
		&c.Log, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.FollowupInterval = time.Duration(followup) * time.Second
	c.InitialMessageInterval = time.Duration(initial) * time.Second
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create creates a new campaign
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.CreatedAt = r.now()
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = models.CampaignPending
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, user_id, status, persona_id, followup_interval_seconds,
			initial_interval_seconds, log, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.UserID, c.Status, nullString(c.PersonaID),
		int64(c.FollowupInterval/time.Second), int64(c.InitialMessageInterval/time.Second),
		c.Log, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		"SELECT "+campaignColumns+" FROM campaigns WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetActive returns all running campaigns
func (r *CampaignRepository) GetActive(ctx context.Context) ([]models.Campaign, error) {
	return r.list(ctx, "WHERE status = ? ORDER BY created_at", models.CampaignRunning)
}

// List returns campaigns of a user, newest first
func (r *CampaignRepository) List(ctx context.Context, userID string) ([]models.Campaign, error) {
	return r.list(ctx, "WHERE user_id = ? ORDER BY created_at DESC", userID)
}

func (r *CampaignRepository) list(ctx context.Context, where string, args ...any) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+campaignColumns+" FROM campaigns "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// SetStatus changes the campaign status
func (r *CampaignRepository) SetStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, "UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?",
		status, r.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	return expectOne(res, "campaign", id)
}

// AppendLog appends a timestamped line to the campaign activity log and
// optionally changes the status in the same write.
func (r *CampaignRepository) AppendLog(ctx context.Context, id, line string, newStatus *models.CampaignStatus) error {
	now := r.now()
	entry := fmt.Sprintf("[%s] %s\n", now.Format("2006-01-02 15:04:05"), line)

	var err error
	if newStatus != nil {
		_, err = r.db.ExecContext(ctx,
			"UPDATE campaigns SET log = log || ?, status = ?, updated_at = ? WHERE id = ?",
			entry, *newStatus, now, id)
	} else {
		_, err = r.db.ExecContext(ctx,
			"UPDATE campaigns SET log = log || ?, updated_at = ? WHERE id = ?",
			entry, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to append campaign log: %w", err)
	}
	return nil
}

// TransitionFromRunning appends a log line and moves the campaign to
// status only if it is still running, so a concurrent operator pause or
// stop is never overwritten. The line is appended either way.
func (r *CampaignRepository) TransitionFromRunning(ctx context.Context, id, line string, status models.CampaignStatus) error {
	now := r.now()
	entry := fmt.Sprintf("[%s] %s\n", now.Format("2006-01-02 15:04:05"), line)

	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET log = log || ?,
			status = CASE WHEN status = ? THEN ? ELSE status END,
			updated_at = ?
		WHERE id = ?`,
		entry, models.CampaignRunning, status, now, id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	return nil
}

// Delete deletes a campaign and its links. Running campaigns are refused.
func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM campaigns WHERE id = ? AND status != ?",
		id, models.CampaignRunning)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		c, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if c != nil {
			return ErrCampaignRunning
		}
	}
	return nil
}

// Stats counts the campaign links per status
func (r *CampaignRepository) Stats(ctx context.Context, id string) (models.CampaignStats, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT situacao, COUNT(*) FROM campaign_contacts WHERE campaign_id = ? GROUP BY situacao", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := models.CampaignStats{}
	for rows.Next() {
		var st models.Situacao
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		stats[st] = n
	}
	return stats, rows.Err()
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
