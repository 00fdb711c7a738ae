// Package media turns inbound attachments into text the decision service
// can read.
package media

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

const transcribePrompt = "Transcreva este áudio de forma literal. Retorne apenas o texto transcrito, sem nenhuma palavra ou formatação adicional."

const summarizePrompt = `Você é um especialista em extração de dados de documentos e imagens. Analise o arquivo enviado e extraia as informações relevantes. O resultado será usado como contexto para outra IA e não deve ter o tom de uma persona.

Regras:
1. Priorize EXTRAIR os dados importantes do arquivo. Use o histórico da conversa e o contexto para entender o que é relevante.
2. Não converse nem cumprimente. Responda apenas com a informação extraída.
3. Responda APENAS com um objeto JSON no formato {"analise": "<texto da extração>"}.

Contexto: %s

Histórico da conversa: %s

Analise o arquivo a seguir e retorne a extração no formato JSON especificado.`

// Analyzer transcribes audio and summarizes images and documents
type Analyzer struct {
	gen    ai.Generator
	policy retry.Policy
	logger *slog.Logger
}

// NewAnalyzer creates a new analyzer. attempts bounds retries of empty or
// failed transcriptions.
func NewAnalyzer(gen ai.Generator, attempts int, logger *slog.Logger) *Analyzer {
	a := &Analyzer{
		gen:    gen,
		logger: logger.With("component", "media"),
	}
	a.policy = retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			a.logger.Warn("media analysis failed, retrying", "attempt", attempt, "error", err, "wait", wait)
		},
	}
	return a
}

// Transcribe returns the literal transcription of an audio note
func (a *Analyzer) Transcribe(ctx context.Context, audio ai.Blob) (string, error) {
	var text string
	res := retry.Do(ctx, a.policy, func(ctx context.Context, attempt int) error {
		out, err := a.gen.Generate(ctx, ai.Request{Prompt: transcribePrompt, Media: &audio})
		if err != nil {
			return err
		}
		text = strings.TrimSpace(out)
		if text == "" {
			return retry.Retryable(errors.New("empty transcription"))
		}
		return nil
	})
	if !res.OK() {
		return "", fmt.Errorf("transcribe after %d attempts: %w", res.Attempts, res.Err)
	}
	return text, nil
}

type analysis struct {
	Analise string `json:"analise"`
}

// Summarize extracts the relevant content of an image or document, using
// the conversation so far and the persona context to decide what matters.
func (a *Analyzer) Summarize(ctx context.Context, file ai.Blob, history models.Conversation, background string) (string, error) {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("marshal history: %w", err)
	}
	if background == "" {
		background = "Nenhum contexto adicional."
	}
	prompt := fmt.Sprintf(summarizePrompt, background, historyJSON)

	var text string
	res := retry.Do(ctx, a.policy, func(ctx context.Context, attempt int) error {
		out, err := a.gen.Generate(ctx, ai.Request{Prompt: prompt, Media: &file, JSON: true})
		if err != nil {
			return err
		}
		var v analysis
		if err := ai.DecodeJSON(out, &v); err != nil {
			return retry.Retryable(err)
		}
		text = strings.TrimSpace(v.Analise)
		if text == "" {
			return retry.Retryable(errors.New("empty analysis"))
		}
		return nil
	})
	if !res.OK() {
		return "", fmt.Errorf("summarize after %d attempts: %w", res.Attempts, res.Err)
	}
	return text, nil
}
