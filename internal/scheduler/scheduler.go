// Package scheduler picks the next contact link a campaign should act on.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/foxzi/prospector/internal/models"
)

// DefaultFollowupExclude are the statuses never eligible for a follow-up
var DefaultFollowupExclude = []models.Situacao{
	models.SituacaoNotInterested,
	models.SituacaoCompleted,
	models.SituacaoSendFailed,
	models.SituacaoReplyReceived,
	models.SituacaoAwaitingStart,
}

// Store queries candidate links
type Store interface {
	NextReply(ctx context.Context, campaignID string) (*models.LinkWithContact, error)
	NextFollowup(ctx context.Context, campaignID string, olderThan time.Time, exclude []models.Situacao) (*models.LinkWithContact, error)
	NextInitial(ctx context.Context, campaignID string) (*models.LinkWithContact, error)
}

// Cooldown tells when the campaign last sent an opening message
type Cooldown interface {
	LastInitial(ctx context.Context, campaignID string) (time.Time, error)
}

// Task is one unit of work
type Task struct {
	Link *models.LinkWithContact
	Mode models.Mode
}

// Result is what the scheduler found. A nil Task means idle; Wait is then
// the time left before an opening message is allowed, or zero when there
// is nothing waiting at all.
type Result struct {
	Task *Task
	Wait time.Duration
}

// Idle reports whether there is nothing to do now
func (r Result) Idle() bool {
	return r.Task == nil
}

// Scheduler applies the tier order: replies, then follow-ups, then new
// contacts subject to the opening cooldown.
type Scheduler struct {
	store    Store
	cooldown Cooldown
	exclude  []models.Situacao
	now      func() time.Time
}

// New creates a new scheduler. A nil exclude uses DefaultFollowupExclude.
func New(store Store, cooldown Cooldown, exclude []models.Situacao) *Scheduler {
	if exclude == nil {
		exclude = DefaultFollowupExclude
	}
	return &Scheduler{
		store:    store,
		cooldown: cooldown,
		exclude:  exclude,
		now:      time.Now,
	}
}

// Next evaluates the tiers afresh for campaign
func (s *Scheduler) Next(ctx context.Context, campaign *models.Campaign) (Result, error) {
	link, err := s.store.NextReply(ctx, campaign.ID)
	if err != nil {
		return Result{}, fmt.Errorf("next reply: %w", err)
	}
	if link != nil {
		return Result{Task: &Task{Link: link, Mode: models.ModeReply}}, nil
	}

	now := s.now().UTC()

	if campaign.FollowupInterval > 0 {
		link, err = s.store.NextFollowup(ctx, campaign.ID, now.Add(-campaign.FollowupInterval), s.exclude)
		if err != nil {
			return Result{}, fmt.Errorf("next followup: %w", err)
		}
		if link != nil {
			return Result{Task: &Task{Link: link, Mode: models.ModeFollowup}}, nil
		}
	}

	link, err = s.store.NextInitial(ctx, campaign.ID)
	if err != nil {
		return Result{}, fmt.Errorf("next initial: %w", err)
	}
	if link == nil {
		return Result{}, nil
	}

	last, err := s.cooldown.LastInitial(ctx, campaign.ID)
	if err != nil {
		return Result{}, fmt.Errorf("read cooldown: %w", err)
	}
	if !last.IsZero() {
		ready := last.Add(campaign.InitialMessageInterval)
		if now.Before(ready) {
			return Result{Wait: ready.Sub(now)}, nil
		}
	}
	return Result{Task: &Task{Link: link, Mode: models.ModeInitial}}, nil
}
