// Package ai wraps the Gemini generative API used for decisions and media
// analysis.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// Blob is inline binary input such as an audio note or an image
type Blob struct {
	MimeType string
	Data     []byte
}

// Request is one generation call
type Request struct {
	Prompt string
	Media  *Blob
	// JSON asks the model for a JSON document
	JSON bool
}

// Generator produces text from a prompt
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Error is a failed generation
type Error struct {
	Code int // HTTP status, 0 when the request never got an answer
	Err  error
}

func (e *Error) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("ai: %v", e.Err)
	}
	return fmt.Sprintf("ai: HTTP %d: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether the call may succeed if repeated
func (e *Error) Temporary() bool {
	switch {
	case e.Code == 0:
		return true
	case e.Code == http.StatusTooManyRequests, e.Code == http.StatusRequestTimeout:
		return true
	case e.Code >= 500:
		return true
	}
	return false
}

// ErrEmptyResponse is returned when the model answered with no text
var ErrEmptyResponse = errors.New("empty response")

// Options configures the client
type Options struct {
	APIKeys     []string
	Model       string
	Temperature float32
}

// Client calls Gemini, moving on to the next API key when the current one
// runs out of quota.
type Client struct {
	model       string
	temperature float32
	keys        []string
	logger      *slog.Logger

	mu      sync.Mutex
	current int
	clients map[int]*genai.Client

	call func(ctx context.Context, key int, req Request) (string, error)
}

// NewClient creates a new client
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	keys := make([]string, 0, len(opts.APIKeys))
	for _, k := range opts.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one AI API key is required")
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	c := &Client{
		model:       model,
		temperature: opts.Temperature,
		keys:        keys,
		logger:      logger.With("component", "ai"),
		clients:     make(map[int]*genai.Client),
	}
	c.call = c.generateContent
	return c, nil
}

// Generate runs req, rotating keys on quota errors until every key has
// been tried once.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	start := c.current
	c.mu.Unlock()

	var lastErr error
	for i := 0; i < len(c.keys); i++ {
		key := (start + i) % len(c.keys)

		text, err := c.call(ctx, key, req)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				return "", &Error{Err: ErrEmptyResponse}
			}
			return text, nil
		}

		lastErr = err
		if !quotaExhausted(err) {
			return "", wrap(err)
		}

		next := (key + 1) % len(c.keys)
		c.logger.Warn("API key quota exhausted, rotating",
			"key_index", key,
			"next_key_index", next,
		)
		c.mu.Lock()
		c.current = next
		c.mu.Unlock()
	}

	return "", wrap(fmt.Errorf("all %d API keys exhausted: %w", len(c.keys), lastErr))
}

func (c *Client) client(ctx context.Context, key int) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[key]; ok {
		return cl, nil
	}
	cl, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.keys[key],
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	c.clients[key] = cl
	return cl, nil
}

func (c *Client) generateContent(ctx context.Context, key int, req Request) (string, error) {
	cl, err := c.client(ctx, key)
	if err != nil {
		return "", err
	}

	parts := make([]*genai.Part, 0, 2)
	if req.Media != nil {
		parts = append(parts, genai.NewPartFromBytes(req.Media.Data, req.Media.MimeType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := cl.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		cfg,
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func apiCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	var own *Error
	if errors.As(err, &own) {
		return own.Code
	}
	return 0
}

func quotaExhausted(err error) bool {
	return apiCode(err) == http.StatusTooManyRequests
}

func wrap(err error) error {
	var own *Error
	if errors.As(err, &own) {
		return err
	}
	return &Error{Code: apiCode(err), Err: err}
}
