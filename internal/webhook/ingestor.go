// Package webhook receives inbound message notifications from the gateway
// and flags the matching contact links for a reply.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/foxzi/prospector/internal/gateway"
	"github.com/foxzi/prospector/internal/models"
	"github.com/foxzi/prospector/internal/phone"
)

// EventMessagesUpsert is the only event acted upon
const EventMessagesUpsert = "messages.upsert"

// Result is how an event was handled
type Result string

const (
	ResultRecorded        Result = "recorded"
	ResultIgnoredEvent    Result = "ignored_event"
	ResultFromMe          Result = "from_me"
	ResultGroup           Result = "group"
	ResultUnknownInstance Result = "unknown_instance"
	ResultUnknownContact  Result = "unknown_contact"
	ResultTerminal        Result = "terminal"
	ResultMalformed       Result = "malformed"
	ResultError           Result = "error"
)

// Users resolves the owner of a gateway instance
type Users interface {
	GetByInstance(ctx context.Context, instance string) (*models.User, error)
}

// Links finds and updates contact links
type Links interface {
	FindLatestByPhones(ctx context.Context, userID string, phones []string) (*models.LinkWithContact, error)
	RecordInbound(ctx context.Context, id string, msg models.Message, pendingMedia string) (bool, error)
}

// Envelope is the webhook body
type Envelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// records decodes data, which is a single record or a list of them
func (e *Envelope) records() ([]gateway.Record, error) {
	if len(e.Data) == 0 {
		return nil, fmt.Errorf("missing data")
	}
	if e.Data[0] == '[' {
		var rs []gateway.Record
		if err := json.Unmarshal(e.Data, &rs); err != nil {
			return nil, err
		}
		return rs, nil
	}
	var r gateway.Record
	if err := json.Unmarshal(e.Data, &r); err != nil {
		return nil, err
	}
	return []gateway.Record{r}, nil
}

// Ingestor applies inbound messages to contact links
type Ingestor struct {
	users  Users
	links  Links
	logger *slog.Logger
}

// NewIngestor creates a new ingestor
func NewIngestor(users Users, links Links, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		users:  users,
		links:  links,
		logger: logger.With("component", "webhook"),
	}
}

// Ingest handles one envelope and returns the result of each record
func (i *Ingestor) Ingest(ctx context.Context, env *Envelope) []Result {
	if env.Event != EventMessagesUpsert {
		return []Result{ResultIgnoredEvent}
	}

	recs, err := env.records()
	if err != nil {
		i.logger.Warn("malformed webhook data", "instance", env.Instance, "error", err)
		return []Result{ResultMalformed}
	}

	results := make([]Result, 0, len(recs))
	for _, rec := range recs {
		results = append(results, i.ingestRecord(ctx, env.Instance, rec))
	}
	return results
}

func (i *Ingestor) ingestRecord(ctx context.Context, instance string, rec gateway.Record) Result {
	logger := i.logger.With("instance", instance, "message_id", rec.Key.ID)

	if rec.Key.FromMe {
		return ResultFromMe
	}
	if phone.IsGroupJID(rec.Key.RemoteJID) {
		return ResultGroup
	}
	if rec.Key.ID == "" || rec.Key.RemoteJID == "" {
		logger.Warn("webhook record without key")
		return ResultMalformed
	}

	user, err := i.users.GetByInstance(ctx, instance)
	if err != nil {
		logger.Error("failed to resolve instance", "error", err)
		return ResultError
	}
	if user == nil {
		logger.Warn("webhook for unknown instance")
		return ResultUnknownInstance
	}

	sender := phone.FromJID(rec.Key.RemoteJID)
	link, err := i.links.FindLatestByPhones(ctx, user.ID, phone.CanonicalVariants(sender))
	if err != nil {
		logger.Error("failed to find contact link", "error", err)
		return ResultError
	}
	if link == nil {
		logger.Debug("message from unknown contact", "sender", sender)
		return ResultUnknownContact
	}
	logger = logger.With("link_id", link.ID, "campaign_id", link.CampaignID)

	if link.Situacao.Terminal() {
		logger.Info("reply on closed conversation ignored", "situacao", link.Situacao)
		return ResultTerminal
	}

	msg, pendingMedia := inboundMessage(rec.Remote())
	changed, err := i.links.RecordInbound(ctx, link.ID, msg, pendingMedia)
	if err != nil {
		logger.Error("failed to record inbound message", "error", err)
		return ResultError
	}
	if !changed {
		// became terminal between the lookup and the update
		return ResultTerminal
	}

	logger.Info("reply received", "media", pendingMedia)
	return ResultRecorded
}

// inboundMessage builds the log entry for an inbound message. Attachments
// get a placeholder that the next history sync replaces with its analysis.
func inboundMessage(m gateway.RemoteMessage) (models.Message, string) {
	if m.IsMedia() {
		content := fmt.Sprintf("[%s recebido, aguardando análise]", m.MediaKind)
		if m.Caption != "" {
			content += " " + m.Caption
		}
		return models.Message{
			ID:      models.MediaPlaceholderID(m.ID),
			Role:    models.RoleUser,
			Content: content,
		}, string(m.MediaKind)
	}
	return models.Message{ID: m.ID, Role: models.RoleUser, Content: m.Text}, ""
}
