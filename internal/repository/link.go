package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/foxzi/prospector/internal/models"
	"github.com/google/uuid"
)

// LinkRepository stores campaign contact links
type LinkRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewLinkRepository(db *sql.DB) *LinkRepository {
	return &LinkRepository{db: db, now: utcNow}
}

// Outcome is the result of one orchestrator cycle for a link.
// Nil fields are left unchanged.
type Outcome struct {
	Situacao     models.Situacao
	Conversation *models.Conversation
	Observations *string
}

const linkWithContactColumns = `l.id, l.campaign_id, l.contact_id, l.situacao, l.conversation, l.observations,
	l.pending_media_type, l.created_at, l.updated_at,
	c.id, c.user_id, c.name, c.phone, COALESCE(c.categories, '[]'), c.notes, c.created_at`

func scanLinkWithContact(row interface{ Scan(...any) error }) (*models.LinkWithContact, error) {
	l := &models.LinkWithContact{}
	var categories string
	err := row.Scan(
		&l.ID, &l.CampaignID, &l.ContactID, &l.Situacao, &l.Conversation, &l.Observations,
		&l.PendingMediaType, &l.CreatedAt, &l.UpdatedAt,
		&l.Contact.ID, &l.Contact.UserID, &l.Contact.Name, &l.Contact.Phone, &categories,
		&l.Contact.Notes, &l.Contact.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(categories), &l.Contact.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return l, nil
}

// AddContacts links contacts to a campaign in AwaitingStart.
// Contacts already linked are skipped.
func (r *LinkRepository) AddContacts(ctx context.Context, campaignID string, contactIDs []string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	for i, contactID := range contactIDs {
		// Distinct timestamps keep creation order stable for the initial tier.
		ts := r.now().Add(time.Duration(i) * time.Microsecond)
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO campaign_contacts (id, campaign_id, contact_id, situacao, conversation,
				observations, pending_media_type, created_at, updated_at)
			VALUES (?, ?, ?, ?, '[]', '', '', ?, ?)`,
			uuid.New().String(), campaignID, contactID, models.SituacaoAwaitingStart, ts, ts,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to link contact %s: %w", contactID, err)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// GetByID returns a link with its contact
func (r *LinkRepository) GetByID(ctx context.Context, id string) (*models.LinkWithContact, error) {
	return r.one(ctx, "WHERE l.id = ?", id)
}

// ListByCampaign returns all links of a campaign in creation order
func (r *LinkRepository) ListByCampaign(ctx context.Context, campaignID string) ([]models.LinkWithContact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+linkWithContactColumns+`
		FROM campaign_contacts l JOIN contacts c ON c.id = l.contact_id
		WHERE l.campaign_id = ?
		ORDER BY l.created_at, l.rowid`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := []models.LinkWithContact{}
	for rows.Next() {
		l, err := scanLinkWithContact(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

func (r *LinkRepository) one(ctx context.Context, where string, args ...any) (*models.LinkWithContact, error) {
	l, err := scanLinkWithContact(r.db.QueryRowContext(ctx, `
		SELECT `+linkWithContactColumns+`
		FROM campaign_contacts l JOIN contacts c ON c.id = l.contact_id
		`+where, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// NextReply returns the reply with the oldest update
func (r *LinkRepository) NextReply(ctx context.Context, campaignID string) (*models.LinkWithContact, error) {
	return r.one(ctx, `WHERE l.campaign_id = ? AND l.situacao = ?
		ORDER BY l.updated_at, l.rowid LIMIT 1`,
		campaignID, models.SituacaoReplyReceived)
}

// NextFollowup returns the link idle since before olderThan with the oldest
// update, skipping the excluded statuses.
func (r *LinkRepository) NextFollowup(ctx context.Context, campaignID string, olderThan time.Time, exclude []models.Situacao) (*models.LinkWithContact, error) {
	where := "WHERE l.campaign_id = ? AND l.updated_at < ?"
	args := []any{campaignID, olderThan.UTC()}
	if len(exclude) > 0 {
		where += " AND l.situacao NOT IN (" + placeholders(len(exclude)) + ")"
		for _, s := range exclude {
			args = append(args, s)
		}
	}
	where += " ORDER BY l.updated_at, l.rowid LIMIT 1"
	return r.one(ctx, where, args...)
}

// NextInitial returns the first link still awaiting its opening message
func (r *LinkRepository) NextInitial(ctx context.Context, campaignID string) (*models.LinkWithContact, error) {
	return r.one(ctx, `WHERE l.campaign_id = ? AND l.situacao = ?
		ORDER BY l.created_at, l.rowid LIMIT 1`,
		campaignID, models.SituacaoAwaitingStart)
}

// SetProcessing marks a link as being worked on by an orchestrator cycle
func (r *LinkRepository) SetProcessing(ctx context.Context, id string) error {
	return r.setSituacao(ctx, id, models.SituacaoProcessing)
}

func (r *LinkRepository) setSituacao(ctx context.Context, id string, s models.Situacao) error {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_contacts
		SET situacao = ?, updated_at = CASE WHEN updated_at > ? THEN updated_at ELSE ? END
		WHERE id = ?`, s, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update link status: %w", err)
	}
	return expectOne(res, "link", id)
}

// ApplyOutcome persists the result of a cycle. A reply recorded by the
// webhook while the link was processing is kept so it gets handled next.
func (r *LinkRepository) ApplyOutcome(ctx context.Context, id string, o Outcome) error {
	if !o.Situacao.Valid() {
		return fmt.Errorf("invalid outcome situacao %q", o.Situacao)
	}

	now := r.now()
	sets := []string{
		"situacao = CASE WHEN situacao = ? THEN situacao ELSE ? END",
		"updated_at = CASE WHEN updated_at > ? THEN updated_at ELSE ? END",
	}
	args := []any{models.SituacaoReplyReceived, o.Situacao, now, now}

	if o.Conversation != nil {
		sets = append(sets, "conversation = ?")
		args = append(args, *o.Conversation)
	}
	if o.Observations != nil {
		sets = append(sets, "observations = ?")
		args = append(args, *o.Observations)
	}
	args = append(args, id)

	res, err := r.db.ExecContext(ctx,
		"UPDATE campaign_contacts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to apply outcome: %w", err)
	}
	return expectOne(res, "link", id)
}

// SaveConversation replaces the conversation log after a sync and clears
// the pending media marker.
func (r *LinkRepository) SaveConversation(ctx context.Context, id string, conv models.Conversation) error {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_contacts
		SET conversation = ?, pending_media_type = '',
			updated_at = CASE WHEN updated_at > ? THEN updated_at ELSE ? END
		WHERE id = ?`, conv, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return expectOne(res, "link", id)
}

// RecordInbound flags a link as having a reply pending and appends the
// inbound entry unless it is already present. Links in a terminal status
// are left untouched; the returned bool reports whether anything changed.
func (r *LinkRepository) RecordInbound(ctx context.Context, id string, msg models.Message, pendingMedia string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var st models.Situacao
	var conv models.Conversation
	err = tx.QueryRowContext(ctx,
		"SELECT situacao, conversation FROM campaign_contacts WHERE id = ?", id,
	).Scan(&st, &conv)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if st.Terminal() {
		return false, nil
	}

	if !conv.Contains(msg.ID) {
		conv = append(conv, msg)
	}

	now := r.now()
	_, err = tx.ExecContext(ctx, `
		UPDATE campaign_contacts
		SET situacao = ?, conversation = ?,
			pending_media_type = CASE WHEN ? != '' THEN ? ELSE pending_media_type END,
			updated_at = CASE WHEN updated_at > ? THEN updated_at ELSE ? END
		WHERE id = ?`,
		models.SituacaoReplyReceived, conv, pendingMedia, pendingMedia, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to record inbound message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// FindLatestByPhones returns the most recently created link of the user
// whose contact phone matches one of the given variants.
func (r *LinkRepository) FindLatestByPhones(ctx context.Context, userID string, phones []string) (*models.LinkWithContact, error) {
	if len(phones) == 0 {
		return nil, nil
	}
	args := []any{userID}
	for _, p := range phones {
		args = append(args, p)
	}
	return r.one(ctx, `
		JOIN campaigns cp ON cp.id = l.campaign_id
		WHERE cp.user_id = ? AND c.phone IN (`+placeholders(len(phones))+`)
		ORDER BY l.created_at DESC, l.rowid DESC LIMIT 1`, args...)
}

// ResetProcessing moves links left in Processing by a previous process
// back to AwaitingResponse and returns how many were reset.
func (r *LinkRepository) ResetProcessing(ctx context.Context) (int, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_contacts
		SET situacao = ?, updated_at = CASE WHEN updated_at > ? THEN updated_at ELSE ? END
		WHERE situacao = ?`,
		models.SituacaoAwaitingResponse, now, now, models.SituacaoProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing links: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountOpen counts links of a campaign that still need work
func (r *LinkRepository) CountOpen(ctx context.Context, campaignID string) (int, error) {
	var closed []any
	for _, s := range models.AllSituacoes {
		if s.Closed() {
			closed = append(closed, s)
		}
	}
	args := append([]any{campaignID}, closed...)

	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM campaign_contacts WHERE campaign_id = ? AND situacao NOT IN ("+placeholders(len(closed))+")",
		args...,
	).Scan(&n)
	return n, err
}

// Remove deletes a link from a campaign that is not running
func (r *LinkRepository) Remove(ctx context.Context, campaignID, linkID string) error {
	var status models.CampaignStatus
	err := r.db.QueryRowContext(ctx, "SELECT status FROM campaigns WHERE id = ?", campaignID).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if status == models.CampaignRunning {
		return ErrCampaignRunning
	}

	res, err := r.db.ExecContext(ctx,
		"DELETE FROM campaign_contacts WHERE id = ? AND campaign_id = ?", linkID, campaignID)
	if err != nil {
		return fmt.Errorf("failed to remove link: %w", err)
	}
	return expectOne(res, "link", linkID)
}

// CountBySituacao counts links of all campaigns per status
func (r *LinkRepository) CountBySituacao(ctx context.Context) (map[models.Situacao]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT situacao, COUNT(*) FROM campaign_contacts GROUP BY situacao")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Situacao]int)
	for rows.Next() {
		var st models.Situacao
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
