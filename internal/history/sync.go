// Package history reconciles the stored conversation of a contact link with
// the messages the gateway actually holds.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/foxzi/prospector/internal/ai"
	"github.com/foxzi/prospector/internal/gateway"
	"github.com/foxzi/prospector/internal/models"
	"github.com/foxzi/prospector/internal/phone"
)

const (
	audioPrefix   = "[Áudio transcrito]: "
	mediaPrefix   = "[Análise de Mídia]: "
	captionPrefix = "\n[Legenda da Mídia]: "
	mediaFailed   = "[Falha ao processar mídia]"
)

// Gateway is the part of the messaging gateway the synchronizer needs
type Gateway interface {
	FetchHistory(ctx context.Context, instance, jid string, limit int) ([]gateway.RemoteMessage, error)
	FetchMedia(ctx context.Context, instance, messageID string) (*gateway.Media, error)
}

// Analyzer turns attachments into text
type Analyzer interface {
	Transcribe(ctx context.Context, audio ai.Blob) (string, error)
	Summarize(ctx context.Context, file ai.Blob, history models.Conversation, background string) (string, error)
}

// Store persists a merged conversation
type Store interface {
	SaveConversation(ctx context.Context, linkID string, conv models.Conversation) error
}

// Synchronizer merges remote history into stored conversations
type Synchronizer struct {
	gw       Gateway
	analyzer Analyzer
	store    Store
	limit    int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSynchronizer creates a new synchronizer. limit is the number of remote
// messages fetched per contact.
func NewSynchronizer(gw Gateway, analyzer Analyzer, store Store, limit int, timeout time.Duration, logger *slog.Logger) *Synchronizer {
	if limit <= 0 {
		limit = 32
	}
	return &Synchronizer{
		gw:       gw,
		analyzer: analyzer,
		store:    store,
		limit:    limit,
		timeout:  timeout,
		logger:   logger.With("component", "history"),
	}
}

// Sync returns the conversation of link merged with the gateway history.
// background is the persona knowledge used when summarizing attachments.
// Entries the gateway knows follow its timestamp order; local entries it
// does not know stay right after the entry they followed. When the gateway
// has nothing, the stored log without sent and internal entries is returned
// and nothing is persisted.
func (s *Synchronizer) Sync(ctx context.Context, instance string, link *models.LinkWithContact, background string) (models.Conversation, error) {
	logger := s.logger.With("link_id", link.ID, "contact_id", link.ContactID)

	cleaned := link.Conversation.WithoutSynthetic()

	remote, err := s.fetch(ctx, instance, link.Contact.Phone)
	if err != nil {
		logger.Warn("failed to fetch remote history", "error", err)
		return cleaned, nil
	}
	if len(remote) == 0 {
		logger.Debug("no remote history")
		return cleaned, nil
	}
	sort.SliceStable(remote, func(i, j int) bool {
		return remote[i].Timestamp.Before(remote[j].Timestamp)
	})

	known := make(map[string]bool, len(remote))
	for _, rm := range remote {
		known[rm.ID] = true
	}

	// split the local log into entries the gateway confirms and the
	// local-only runs that follow each of them
	var head models.Conversation
	confirmed := make(map[string]models.Message)
	following := make(map[string]models.Conversation)
	anchor := ""
	for _, m := range cleaned {
		if gid, ok := models.PlaceholderGatewayID(m.ID); ok && known[gid] {
			// replaced by the analysed remote copy
			anchor = gid
			continue
		}
		if known[m.ID] {
			confirmed[m.ID] = m
			anchor = m.ID
			continue
		}
		if anchor == "" {
			head = append(head, m)
		} else {
			following[anchor] = append(following[anchor], m)
		}
	}

	merged := make(models.Conversation, 0, len(cleaned)+len(remote))
	merged = append(merged, head...)

	added := 0
	seen := make(map[string]bool, len(remote))
	for _, rm := range remote {
		if seen[rm.ID] {
			continue
		}
		seen[rm.ID] = true

		if m, ok := confirmed[rm.ID]; ok {
			merged = append(merged, m)
		} else if content := s.render(ctx, instance, rm, merged, background, logger); content != "" {
			merged = append(merged, models.Message{
				ID:      rm.ID,
				Role:    roleOf(rm),
				Content: content,
			})
			added++
		}
		merged = append(merged, following[rm.ID]...)
	}

	if merged.Equal(link.Conversation) {
		return merged, nil
	}

	if err := s.store.SaveConversation(ctx, link.ID, merged); err != nil {
		return merged, fmt.Errorf("save conversation: %w", err)
	}
	logger.Info("conversation synchronized",
		"added", added,
		"dropped_synthetic", len(link.Conversation)-len(cleaned),
		"total", len(merged),
	)
	return merged, nil
}

// fetch tries each spelling of the number until one has messages
func (s *Synchronizer) fetch(ctx context.Context, instance, number string) ([]gateway.RemoteMessage, error) {
	var lastErr error
	for _, v := range phone.CanonicalVariants(number) {
		callCtx, cancel := s.callContext(ctx)
		msgs, err := s.gw.FetchHistory(callCtx, instance, phone.JID(v), s.limit)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
	}
	return nil, lastErr
}

func (s *Synchronizer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func roleOf(m gateway.RemoteMessage) models.Role {
	if m.FromMe {
		return models.RoleAssistant
	}
	return models.RoleUser
}

// render returns the log content for a remote message
func (s *Synchronizer) render(ctx context.Context, instance string, m gateway.RemoteMessage, sofar models.Conversation, background string, logger *slog.Logger) string {
	if !m.IsMedia() {
		return m.Text
	}

	callCtx, cancel := s.callContext(ctx)
	media, err := s.gw.FetchMedia(callCtx, instance, m.ID)
	cancel()
	if err != nil {
		logger.Warn("failed to download media", "message_id", m.ID, "kind", m.MediaKind, "error", err)
		return mediaFailed
	}

	mime := media.MimeType
	if mime == "" {
		mime = m.MimeType
	}
	blob := ai.Blob{MimeType: mime, Data: media.Data}

	switch m.MediaKind {
	case gateway.MediaAudio:
		text, err := s.analyzer.Transcribe(ctx, blob)
		if err != nil {
			logger.Warn("failed to transcribe audio", "message_id", m.ID, "error", err)
			return mediaFailed
		}
		return audioPrefix + text
	case gateway.MediaImage, gateway.MediaDocument, gateway.MediaVideo:
		text, err := s.analyzer.Summarize(ctx, blob, sofar, background)
		if err != nil {
			logger.Warn("failed to analyze media", "message_id", m.ID, "kind", m.MediaKind, "error", err)
			return mediaFailed
		}
		content := mediaPrefix + text
		if m.Caption != "" {
			content += captionPrefix + m.Caption
		}
		return content
	case gateway.MediaNone:
	}
	return m.Text
}
