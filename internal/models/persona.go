package models

import "time"

// Persona is the decision configuration bound to a campaign.
// Text fields may carry {{variable}} placeholders resolved per contact.
type Persona struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	Context      string    `json:"context"`
	OpeningHint  string    `json:"opening_hint"`
	ReplyHint    string    `json:"reply_hint"`
	FollowupHint string    `json:"followup_hint"`
	CreatedAt    time.Time `json:"created_at"`
}

// Hint returns the task hint configured for mode
func (p *Persona) Hint(mode Mode) string {
	switch mode {
	case ModeInitial:
		return p.OpeningHint
	case ModeReply:
		return p.ReplyHint
	case ModeFollowup:
		return p.FollowupHint
	}
	return ""
}
