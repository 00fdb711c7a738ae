// Package decision asks the generative service what to do next in a
// conversation and validates its answer.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxzi/prospector/internal/ai"
	"github.com/foxzi/prospector/internal/models"
	"github.com/foxzi/prospector/internal/retry"
)

// Decision is the validated answer of the decision service
type Decision struct {
	Message     *string
	Status      models.Situacao
	Observation string
}

// HasMessage reports whether there is something to send
func (d *Decision) HasMessage() bool {
	return d.Message != nil && strings.TrimSpace(*d.Message) != ""
}

// Config configures the engine
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

// Engine builds prompts, calls the generator and validates answers
type Engine struct {
	gen     ai.Generator
	policy  retry.Policy
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates a new decision engine
func NewEngine(gen ai.Generator, cfg Config, logger *slog.Logger) *Engine {
	e := &Engine{
		gen:     gen,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "decision"),
		now:     time.Now,
	}
	e.policy = retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    30 * time.Second,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			e.logger.Warn("decision attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", cfg.MaxAttempts,
				"error", err,
				"wait", wait,
			)
		},
	}
	return e
}

var defaultTasks = map[models.Mode]string{
	models.ModeInitial:  "Gerar a primeira mensagem de prospecção para iniciar a conversa. Seja breve e direto.",
	models.ModeReply:    "Analisar a última mensagem do contato e formular a PRÓXIMA resposta para avançar na conversa, usando o contexto disponível.",
	models.ModeFollowup: "Analisar as mensagens e decidir entre continuar o fluxo, fazer um follow-up ou, se não for necessário mais nada, retornar null no campo message.",
}

type responseFormat struct {
	Description string            `json:"descricao"`
	Keys        map[string]string `json:"chaves"`
	Rule        string            `json:"regra_importante_variaveis"`
}

type conversationData struct {
	Name         string        `json:"contato_nome"`
	Phone        string        `json:"contato_numero"`
	Observations string        `json:"contato_observacoes"`
	Task         string        `json:"tarefa_imediata"`
	History      []historyLine `json:"historico_conversa"`
}

type historyLine struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

type prompt struct {
	Instructions string           `json:"instrucao_geral"`
	Format       responseFormat   `json:"formato_resposta_obrigatorio"`
	Knowledge    string           `json:"contexto_conhecimento"`
	Conversation conversationData `json:"dados_atuais_conversa"`
}

var statusChoices = fmt.Sprintf("Um dos seguintes: %q, %q, %q, %q.",
	models.SituacaoAwaitingResponse.Label(),
	models.SituacaoQualified.Label(),
	models.SituacaoNotInterested.Label(),
	models.SituacaoCompleted.Label(),
)

// BuildPrompt renders the prompt document for one decision
func BuildPrompt(p models.Persona, contact *models.Contact, history models.Conversation, mode models.Mode) (string, error) {
	task := p.Hint(mode)
	if task == "" {
		task = defaultTasks[mode]
	}

	lines := make([]historyLine, 0, len(history))
	for _, m := range history {
		lines = append(lines, historyLine{Role: m.Role, Content: m.Content})
	}

	doc := prompt{
		Instructions: p.Instructions,
		Format: responseFormat{
			Description: "Sua resposta DEVE ser um único objeto JSON válido, sem texto fora dele.",
			Keys: map[string]string{
				"message":     "O texto a enviar ao contato, ou null se nada deve ser enviado. Separe mensagens distintas com uma linha em branco.",
				"new_status":  statusChoices,
				"observation": "Um resumo objetivo da interação para registro interno.",
			},
			Rule: "CRÍTICO: NUNCA inclua placeholders como {{nome_contato}} na resposta final.",
		},
		Knowledge: p.Context,
		Conversation: conversationData{
			Name:         contact.Name,
			Phone:        contact.Phone,
			Observations: contact.Notes,
			Task:         task,
			History:      lines,
		},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}
	return string(data), nil
}

// answer accepts both the English keys and the Portuguese ones older
// personas were written against.
type answer struct {
	Message      *string `json:"message"`
	NewStatus    string  `json:"new_status"`
	Observation  string  `json:"observation"`
	Mensagem     *string `json:"mensagem_para_enviar"`
	NovaSituacao string  `json:"nova_situacao"`
	Observacoes  string  `json:"observacoes"`
}

func (a *answer) normalize() {
	if a.Message == nil {
		a.Message = a.Mensagem
	}
	if a.NewStatus == "" {
		a.NewStatus = a.NovaSituacao
	}
	if a.Observation == "" {
		a.Observation = a.Observacoes
	}
}

// MapStatus maps a status proposed by the decision service onto the
// statuses it is allowed to set. Anything else becomes AwaitingResponse.
func MapStatus(s string) (models.Situacao, bool) {
	st, err := models.ParseSituacao(s)
	if err != nil || !st.Decidable() {
		return models.SituacaoAwaitingResponse, false
	}
	return st, true
}

// Parse validates a raw answer for mode
func Parse(text string, mode models.Mode) (*Decision, error) {
	var a answer
	if err := ai.DecodeJSON(text, &a); err != nil {
		return nil, retry.Retryable(err)
	}
	a.normalize()

	msg := a.Message
	if msg != nil && strings.TrimSpace(*msg) == "" {
		msg = nil
	}
	if msg == nil && !mode.AllowsEmptyMessage() {
		return nil, retry.Retryable(fmt.Errorf("empty message in %s mode", mode))
	}
	if msg != nil {
		trimmed := strings.TrimSpace(*msg)
		if HasPlaceholder(trimmed) {
			return nil, retry.Retryable(errors.New("message still contains template placeholders"))
		}
		msg = &trimmed
	}

	status, _ := MapStatus(a.NewStatus)
	return &Decision{
		Message:     msg,
		Status:      status,
		Observation: strings.TrimSpace(a.Observation),
	}, nil
}

// Decide asks the decision service what to do for contact in mode
func (e *Engine) Decide(ctx context.Context, persona *models.Persona, contact *models.Contact, history models.Conversation, mode models.Mode) (*Decision, error) {
	if persona == nil {
		return nil, errors.New("decision: persona is required")
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("decision: unknown mode %q", mode)
	}

	resolved := Resolve(persona, NewVars(contact, contact.Notes, e.now()))
	text, err := BuildPrompt(resolved, contact, history, mode)
	if err != nil {
		return nil, err
	}

	var d *Decision
	res := retry.Do(ctx, e.policy, func(ctx context.Context, attempt int) error {
		callCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}

		out, err := e.gen.Generate(callCtx, ai.Request{Prompt: text, JSON: true})
		if err != nil {
			return err
		}
		d, err = Parse(out, mode)
		return err
	})
	if !res.OK() {
		return nil, fmt.Errorf("decision failed after %d attempts: %w", res.Attempts, res.Err)
	}

	e.logger.Debug("decision received",
		"mode", mode,
		"status", d.Status,
		"has_message", d.HasMessage(),
		"attempts", res.Attempts,
	)
	return d, nil
}
