package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is the author of a conversation entry
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Synthetic id prefixes. Sent and internal entries are dropped before a
// sync rebuilds the log from remote history. Media placeholders are real
// inbound messages and stay until the remote copy replaces them.
const (
	sentPrefix     = "sent_"
	internalPrefix = "internal_"
	mediaPrefix    = "media_"
)

// Message is one entry of a conversation log
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewSentID returns an id for a message we sent but the gateway has not confirmed yet
func NewSentID() string {
	return sentPrefix + uuid.New().String()
}

// NewInternalID returns an id for an internal no-op marker
func NewInternalID() string {
	return internalPrefix + uuid.New().String()
}

// MediaPlaceholderID returns the id of a placeholder for inbound media awaiting analysis
func MediaPlaceholderID(gatewayID string) string {
	return mediaPrefix + gatewayID
}

// PlaceholderGatewayID returns the gateway id behind a media placeholder id
func PlaceholderGatewayID(id string) (string, bool) {
	if !strings.HasPrefix(id, mediaPrefix) {
		return "", false
	}
	return strings.TrimPrefix(id, mediaPrefix), true
}

// IsSyntheticID reports whether id was generated locally
func IsSyntheticID(id string) bool {
	return strings.HasPrefix(id, sentPrefix) ||
		strings.HasPrefix(id, internalPrefix) ||
		strings.HasPrefix(id, mediaPrefix)
}

// Conversation is the ordered log of a contact link
type Conversation []Message

// WithoutSynthetic returns a copy without sent and internal entries. Media
// placeholders are kept.
func (c Conversation) WithoutSynthetic() Conversation {
	out := make(Conversation, 0, len(c))
	for _, m := range c {
		if strings.HasPrefix(m.ID, sentPrefix) || strings.HasPrefix(m.ID, internalPrefix) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Contains reports whether an entry with the given id exists
func (c Conversation) Contains(id string) bool {
	for _, m := range c {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Last returns the last entry, or nil if the log is empty
func (c Conversation) Last() *Message {
	if len(c) == 0 {
		return nil
	}
	m := c[len(c)-1]
	return &m
}

// Equal compares two logs entry by entry
func (c Conversation) Equal(other Conversation) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// Scan implements sql.Scanner for the JSON blob column
func (c *Conversation) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = Conversation{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into Conversation", src)
	}
	if len(data) == 0 {
		*c = Conversation{}
		return nil
	}
	var out Conversation
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode conversation: %w", err)
	}
	if out == nil {
		out = Conversation{}
	}
	*c = out
	return nil
}

// Value implements driver.Valuer
func (c Conversation) Value() (driver.Value, error) {
	if c == nil {
		c = Conversation{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode conversation: %w", err)
	}
	return string(data), nil
}
