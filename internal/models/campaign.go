package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignPending   CampaignStatus = "pending"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCompleted CampaignStatus = "completed"
)

// Valid reports whether s is a known campaign status
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignPending, CampaignRunning, CampaignPaused, CampaignFailed, CampaignCompleted:
		return true
	}
	return false
}

// Scan implements sql.Scanner
func (s *CampaignStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", src)
	}
	st := CampaignStatus(raw)
	if !st.Valid() {
		return fmt.Errorf("invalid campaign status in storage: %q", raw)
	}
	*s = st
	return nil
}

// Value implements driver.Valuer
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid campaign status: %q", string(s))
	}
	return string(s), nil
}

// Campaign is an outreach effort against a set of contacts
type Campaign struct {
	ID                     string         `json:"id"`
	Name                   string         `json:"name"`
	UserID                 string         `json:"user_id"`
	Status                 CampaignStatus `json:"status"`
	PersonaID              string         `json:"persona_id,omitempty"`
	FollowupInterval       time.Duration  `json:"followup_interval"`        // 0 disables follow-ups
	InitialMessageInterval time.Duration  `json:"initial_message_interval"` // min spacing between opening messages
	Log                    string         `json:"log"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// Running reports whether the orchestrator should keep working on the campaign
func (c *Campaign) Running() bool {
	return c.Status == CampaignRunning
}

// CampaignStats is a per-status count of a campaign's links
type CampaignStats map[Situacao]int

// User owns campaigns and contacts and maps to one gateway channel
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	InstanceName string    `json:"instance_name"`
	CreatedAt    time.Time `json:"created_at"`
}
