// Package events publishes contact link outcomes for downstream consumers
// such as CRM sync jobs.
package events

import (
	"context"
	"time"
)

// Outcome is emitted after every processed contact link
type Outcome struct {
	CampaignID   string    `json:"campaign_id"`
	LinkID       string    `json:"link_id"`
	ContactID    string    `json:"contact_id"`
	Phone        string    `json:"phone"`
	Mode         string    `json:"mode"`
	Situacao     string    `json:"situacao"`
	Observation  string    `json:"observation,omitempty"`
	MessagesSent int       `json:"messages_sent"`
	At           time.Time `json:"at"`
}

// RoutingKey is the topic the outcome is published under
func (o *Outcome) RoutingKey() string {
	return "link." + o.Situacao
}

// Publisher delivers outcomes
type Publisher interface {
	Publish(ctx context.Context, o *Outcome) error
	Close() error
}

// Nop discards every outcome
type Nop struct{}

func (Nop) Publish(context.Context, *Outcome) error { return nil }
func (Nop) Close() error                            { return nil }
