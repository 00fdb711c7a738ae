package models

import (
	"strings"
	"time"
)

// Contact is a person that can be targeted by campaigns
type Contact struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"` // canonical digits
	Categories []string  `json:"categories"`
	Notes      string    `json:"notes"`
	CreatedAt  time.Time `json:"created_at"`
}

// FirstName returns the first word of the contact name
func (c *Contact) FirstName() string {
	fields := strings.Fields(c.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ContactLink tracks the conversation with one contact inside one campaign
type ContactLink struct {
	ID               string       `json:"id"`
	CampaignID       string       `json:"campaign_id"`
	ContactID        string       `json:"contact_id"`
	Situacao         Situacao     `json:"situacao"`
	Conversation     Conversation `json:"conversation"`
	Observations     string       `json:"observations"`
	PendingMediaType string       `json:"pending_media_type,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// LinkWithContact is a link joined with its contact
type LinkWithContact struct {
	ContactLink
	Contact Contact `json:"contact"`
}
