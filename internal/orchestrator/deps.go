// Package orchestrator runs one sequential processing loop per running
// campaign.
package orchestrator

import (
	"context"
	"time"

	"github.com/foxzi/prospector/internal/decision"
	"github.com/foxzi/prospector/internal/dispatch"
	"github.com/foxzi/prospector/internal/models"
	"github.com/foxzi/prospector/internal/ratelimit"
	"github.com/foxzi/prospector/internal/repository"
	"github.com/foxzi/prospector/internal/scheduler"
)

// CampaignStore reads and updates campaigns
type CampaignStore interface {
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	GetActive(ctx context.Context) ([]models.Campaign, error)
	SetStatus(ctx context.Context, id string, status models.CampaignStatus) error
	AppendLog(ctx context.Context, id, line string, newStatus *models.CampaignStatus) error
	TransitionFromRunning(ctx context.Context, id, line string, status models.CampaignStatus) error
}

// LinkStore updates contact links
type LinkStore interface {
	SetProcessing(ctx context.Context, id string) error
	ApplyOutcome(ctx context.Context, id string, o repository.Outcome) error
	CountOpen(ctx context.Context, campaignID string) (int, error)
	ResetProcessing(ctx context.Context) (int, error)
}

// PersonaStore loads personas
type PersonaStore interface {
	GetByID(ctx context.Context, id string) (*models.Persona, error)
}

// UserStore loads campaign owners
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Scheduler picks the next task
type Scheduler interface {
	Next(ctx context.Context, campaign *models.Campaign) (scheduler.Result, error)
}

// Synchronizer merges remote history into a link
type Synchronizer interface {
	Sync(ctx context.Context, instance string, link *models.LinkWithContact, background string) (models.Conversation, error)
}

// Decider asks the decision service for the next action
type Decider interface {
	Decide(ctx context.Context, persona *models.Persona, contact *models.Contact, history models.Conversation, mode models.Mode) (*decision.Decision, error)
}

// Dispatcher delivers messages
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) *dispatch.Result
}

// NumberChecker tells which numbers exist on the channel
type NumberChecker interface {
	CheckNumbers(ctx context.Context, instance string, numbers []string) (map[string]bool, error)
}

// OpeningQuota caps new conversations per channel
type OpeningQuota interface {
	Allow(ctx context.Context, channel string) (*ratelimit.Result, error)
}

// Observer is notified about processed links
type Observer interface {
	LinkProcessed(mode models.Mode, situacao models.Situacao, duration time.Duration)
	ActiveCampaigns(n int)
}

type nopObserver struct{}

func (nopObserver) LinkProcessed(models.Mode, models.Situacao, time.Duration) {}
func (nopObserver) ActiveCampaigns(int)                                       {}
