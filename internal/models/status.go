package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Situacao is the status of a contact link inside a campaign
type Situacao string

const (
	SituacaoAwaitingStart       Situacao = "awaiting_start"
	SituacaoAwaitingResponse    Situacao = "awaiting_response"
	SituacaoReplyReceived       Situacao = "reply_received"
	SituacaoProcessing          Situacao = "processing"
	SituacaoCompleted           Situacao = "completed"
	SituacaoQualified           Situacao = "qualified"
	SituacaoNotInterested       Situacao = "not_interested"
	SituacaoSendFailed          Situacao = "send_failed"
	SituacaoAIError             Situacao = "ai_error"
	SituacaoMissingPersonaError Situacao = "missing_persona_error"
	SituacaoNoWhatsApp          Situacao = "no_whatsapp"
)

// AllSituacoes lists the closed set of link statuses
var AllSituacoes = []Situacao{
	SituacaoAwaitingStart,
	SituacaoAwaitingResponse,
	SituacaoReplyReceived,
	SituacaoProcessing,
	SituacaoCompleted,
	SituacaoQualified,
	SituacaoNotInterested,
	SituacaoSendFailed,
	SituacaoAIError,
	SituacaoMissingPersonaError,
	SituacaoNoWhatsApp,
}

// labels are the human readable names operators see in the campaign log.
// They are also accepted when parsing decision service output.
var labels = map[Situacao]string{
	SituacaoAwaitingStart:       "Aguardando Início",
	SituacaoAwaitingResponse:    "Aguardando Resposta",
	SituacaoReplyReceived:       "Resposta Recebida",
	SituacaoProcessing:          "Processando",
	SituacaoCompleted:           "Concluído",
	SituacaoQualified:           "Lead Qualificado",
	SituacaoNotInterested:       "Não Interessado",
	SituacaoSendFailed:          "Falha no Envio",
	SituacaoAIError:             "Erro IA",
	SituacaoMissingPersonaError: "Erro: Persona não encontrada",
	SituacaoNoWhatsApp:          "Sem Whatsapp",
}

// ParseSituacao parses a status code or its label
func ParseSituacao(s string) (Situacao, error) {
	s = strings.TrimSpace(s)
	for _, st := range AllSituacoes {
		if string(st) == s || strings.EqualFold(labels[st], s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown situacao %q", s)
}

// Valid reports whether s belongs to the closed status set
func (s Situacao) Valid() bool {
	_, ok := labels[s]
	return ok
}

// Label returns the operator facing name
func (s Situacao) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// Terminal reports whether inbound traffic must no longer reopen the link
func (s Situacao) Terminal() bool {
	switch s {
	case SituacaoNotInterested, SituacaoCompleted, SituacaoSendFailed:
		return true
	case SituacaoAwaitingStart, SituacaoAwaitingResponse, SituacaoReplyReceived,
		SituacaoProcessing, SituacaoQualified, SituacaoAIError,
		SituacaoMissingPersonaError, SituacaoNoWhatsApp:
		return false
	}
	return false
}

// Closed reports whether the link needs no further work from the campaign.
// A campaign whose links are all closed is complete.
func (s Situacao) Closed() bool {
	switch s {
	case SituacaoCompleted, SituacaoQualified, SituacaoNotInterested,
		SituacaoSendFailed, SituacaoNoWhatsApp, SituacaoMissingPersonaError:
		return true
	case SituacaoAwaitingStart, SituacaoAwaitingResponse, SituacaoReplyReceived,
		SituacaoProcessing, SituacaoAIError:
		return false
	}
	return false
}

// Decidable reports whether the decision service may set this status
func (s Situacao) Decidable() bool {
	switch s {
	case SituacaoAwaitingResponse, SituacaoCompleted, SituacaoQualified, SituacaoNotInterested:
		return true
	case SituacaoAwaitingStart, SituacaoReplyReceived, SituacaoProcessing,
		SituacaoSendFailed, SituacaoAIError, SituacaoMissingPersonaError, SituacaoNoWhatsApp:
		return false
	}
	return false
}

// Scan implements sql.Scanner and rejects values outside the closed set
func (s *Situacao) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Situacao", src)
	}
	st := Situacao(raw)
	if !st.Valid() {
		return fmt.Errorf("invalid situacao in storage: %q", raw)
	}
	*s = st
	return nil
}

// Value implements driver.Valuer
func (s Situacao) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid situacao: %q", string(s))
	}
	return string(s), nil
}

// Mode is the kind of action the orchestrator asks the decision service for
type Mode string

const (
	ModeInitial  Mode = "initial"
	ModeReply    Mode = "reply"
	ModeFollowup Mode = "followup"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	switch m {
	case ModeInitial, ModeReply, ModeFollowup:
		return true
	}
	return false
}

// AllowsEmptyMessage reports whether the decision may legitimately produce no message
func (m Mode) AllowsEmptyMessage() bool {
	switch m {
	case ModeFollowup:
		return true
	case ModeInitial, ModeReply:
		return false
	}
	return false
}
