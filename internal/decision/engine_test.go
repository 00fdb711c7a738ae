package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/prospector/internal/ai"
	"github.com/foxzi/prospector/internal/models"
)

type mockGenerator struct {
	answers []string
	err     error
	prompts []string
}

func (m *mockGenerator) Generate(ctx context.Context, req ai.Request) (string, error) {
	m.prompts = append(m.prompts, req.Prompt)
	if m.err != nil {
		return "", m.err
	}
	i := len(m.prompts) - 1
	if i >= len(m.answers) {
		i = len(m.answers) - 1
	}
	return m.answers[i], nil
}

func newTestEngine(gen ai.Generator) *Engine {
	e := NewEngine(gen, Config{MaxAttempts: 3}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC) }
	return e
}

var (
	testPersona = &models.Persona{
		Instructions: "Você é a Ana e fala com {{nome_contato}}.",
		Context:      "Planos a partir de R$ 99.",
		OpeningHint:  "Apresente-se numa {{dia_semana}}.",
	}
	testContact = &models.Contact{Name: "Carlos Souza", Phone: "5511987654321", Notes: "indicado"}
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   models.Situacao
		mapped bool
	}{
		{"qualified", models.SituacaoQualified, true},
		{"Lead Qualificado", models.SituacaoQualified, true},
		{"não interessado", models.SituacaoNotInterested, true},
		{"Concluído", models.SituacaoCompleted, true},
		{"awaiting_response", models.SituacaoAwaitingResponse, true},
		{"send_failed", models.SituacaoAwaitingResponse, false},
		{"Processando", models.SituacaoAwaitingResponse, false},
		{"whatever", models.SituacaoAwaitingResponse, false},
		{"", models.SituacaoAwaitingResponse, false},
	}

	for _, tt := range tests {
		got, ok := MapStatus(tt.in)
		if got != tt.want || ok != tt.mapped {
			t.Errorf("MapStatus(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.mapped)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		mode    models.Mode
		wantErr bool
		wantMsg string
		noMsg   bool
	}{
		{"plain", `{"message":"Oi Carlos","new_status":"awaiting_response","observation":"abriu"}`, models.ModeInitial, false, "Oi Carlos", false},
		{"fenced", "```json\n{\"message\":\" Oi \",\"new_status\":\"x\"}\n```", models.ModeReply, false, "Oi", false},
		{"portuguese keys", `{"mensagem_para_enviar":"Olá","nova_situacao":"Lead Qualificado"}`, models.ModeReply, false, "Olá", false},
		{"null in initial", `{"message":null,"new_status":"completed"}`, models.ModeInitial, true, "", false},
		{"blank in reply", `{"message":"  ","new_status":"completed"}`, models.ModeReply, true, "", false},
		{"null in followup", `{"message":null,"new_status":"completed"}`, models.ModeFollowup, false, "", true},
		{"placeholder", `{"message":"Oi {{nome_contato}}","new_status":"x"}`, models.ModeInitial, true, "", false},
		{"prose", `Claro! Aqui está a mensagem.`, models.ModeInitial, true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.text, tt.mode)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tt.noMsg {
				if d.HasMessage() {
					t.Errorf("Parse() message = %q, want none", *d.Message)
				}
				return
			}
			if !d.HasMessage() || *d.Message != tt.wantMsg {
				t.Errorf("Parse() message = %v, want %q", d.Message, tt.wantMsg)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	gen := &mockGenerator{answers: []string{
		`{"message":null,"new_status":"awaiting_response"}`,
		`{"message":"Oi Carlos, tudo bem?","new_status":"Aguardando Resposta","observation":"primeiro contato"}`,
	}}
	e := newTestEngine(gen)

	d, err := e.Decide(context.Background(), testPersona, testContact, nil, models.ModeInitial)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if *d.Message != "Oi Carlos, tudo bem?" || d.Status != models.SituacaoAwaitingResponse || d.Observation != "primeiro contato" {
		t.Errorf("Decide() = %+v", d)
	}
	if len(gen.prompts) != 2 {
		t.Errorf("calls = %d, want 2 (empty initial retried)", len(gen.prompts))
	}

	prompt := gen.prompts[0]
	for _, want := range []string{"Você é a Ana e fala com Carlos.", "Apresente-se numa Sexta-feira.", "Planos a partir de R$ 99.", "indicado"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt lacks %q", want)
		}
	}
	if strings.Contains(prompt, "{{dia_semana}}") {
		t.Error("prompt still has unresolved persona variables")
	}
}

func TestDecideExhausted(t *testing.T) {
	gen := &mockGenerator{answers: []string{"not json"}}
	e := newTestEngine(gen)

	_, err := e.Decide(context.Background(), testPersona, testContact, nil, models.ModeReply)
	if err == nil {
		t.Fatal("Decide() should fail")
	}
	if len(gen.prompts) != 3 {
		t.Errorf("calls = %d, want 3", len(gen.prompts))
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("error = %v", err)
	}
}

func TestDecideFatalStops(t *testing.T) {
	gen := &mockGenerator{err: &ai.Error{Code: 403, Err: errors.New("permission denied")}}
	e := newTestEngine(gen)

	if _, err := e.Decide(context.Background(), testPersona, testContact, nil, models.ModeReply); err == nil {
		t.Fatal("Decide() should fail")
	}
	if len(gen.prompts) != 1 {
		t.Errorf("calls = %d, want 1", len(gen.prompts))
	}
}

func TestDecideRequiresPersona(t *testing.T) {
	e := newTestEngine(&mockGenerator{answers: []string{"{}"}})
	if _, err := e.Decide(context.Background(), nil, testContact, nil, models.ModeReply); err == nil {
		t.Error("Decide() without persona should fail")
	}
}
