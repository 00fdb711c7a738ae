// Package gateway is a client for the Evolution WhatsApp HTTP API.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/foxzi/prospector/internal/phone"
)

// APIError is a non-2xx answer from the gateway
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the call may succeed if repeated
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// DecodeError is a 2xx answer whose body could not be read. The gateway
// already acted on the request, so repeating it is never safe.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "gateway: decode response: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Temporary always reports false
func (e *DecodeError) Temporary() bool { return false }

// Options configures the client
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// SendDelay and Presence are passed to sendText so the channel shows typing
	SendDelay time.Duration
	Presence  string
}

// Client is an Evolution API client
type Client struct {
	baseURL    string
	apiKey     string
	sendDelay  time.Duration
	presence   string
	httpClient *http.Client
}

// NewClient creates a new gateway client
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		sendDelay: opts.SendDelay,
		presence:  opts.Presence,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// request performs an HTTP request to the gateway
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &DecodeError{Err: err}
		}
	}

	return nil
}

func instancePath(prefix, instance string) string {
	return prefix + url.PathEscape(instance)
}

type sendTextOptions struct {
	Delay    int    `json:"delay,omitempty"`
	Presence string `json:"presence,omitempty"`
}

type sendTextRequest struct {
	Number  string          `json:"number"`
	Text    string          `json:"text"`
	Options sendTextOptions `json:"options"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// SendText sends a text message and returns the gateway message id when
// the gateway reports one. An accepted send with an unreadable body is a
// success without an id.
func (c *Client) SendText(ctx context.Context, instance, number, text string) (string, error) {
	req := sendTextRequest{
		Number: phone.Digits(number),
		Text:   text,
		Options: sendTextOptions{
			Delay:    int(c.sendDelay / time.Millisecond),
			Presence: c.presence,
		},
	}
	var resp sendTextResponse
	if err := c.request(ctx, http.MethodPost, instancePath("/message/sendText/", instance), req, &resp); err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			return "", nil
		}
		return "", err
	}
	return resp.Key.ID, nil
}

// FetchHistory returns up to limit messages exchanged with jid, oldest first
func (c *Client) FetchHistory(ctx context.Context, instance, jid string, limit int) ([]RemoteMessage, error) {
	req := map[string]any{
		"page":   1,
		"offset": limit,
		"where": map[string]any{
			"key": map[string]any{"remoteJid": jid},
		},
	}

	var resp findMessagesResponse
	if err := c.request(ctx, http.MethodPost, instancePath("/chat/findMessages/", instance), req, &resp); err != nil {
		return nil, err
	}

	msgs := make([]RemoteMessage, 0, len(resp.Messages.Records))
	for _, r := range resp.Messages.Records {
		if r.Key.ID == "" {
			continue
		}
		msgs = append(msgs, r.Remote())
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

type numberCheck struct {
	Exists bool   `json:"exists"`
	JID    string `json:"jid"`
	Number string `json:"number"`
}

// CheckNumbers reports, per requested number, whether it is registered on
// the channel. Numbers the gateway leaves out of its answer are absent from
// the map.
func (c *Client) CheckNumbers(ctx context.Context, instance string, numbers []string) (map[string]bool, error) {
	digits := make([]string, 0, len(numbers))
	for _, n := range numbers {
		digits = append(digits, phone.Digits(n))
	}

	var resp []numberCheck
	req := map[string]any{"numbers": digits}
	if err := c.request(ctx, http.MethodPost, instancePath("/chat/whatsappNumbers/", instance), req, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(resp))
	for _, r := range resp {
		n := r.Number
		if n == "" {
			n = phone.FromJID(r.JID)
		}
		out[phone.Digits(n)] = r.Exists
	}
	return out, nil
}

type mediaResponse struct {
	Base64   string `json:"base64"`
	MimeType string `json:"mimetype"`
}

// FetchMedia downloads the content of a media message
func (c *Client) FetchMedia(ctx context.Context, instance, messageID string) (*Media, error) {
	req := map[string]any{
		"message":      map[string]any{"key": map[string]any{"id": messageID}},
		"convertToMp4": false,
	}

	var resp mediaResponse
	if err := c.request(ctx, http.MethodPost, instancePath("/chat/getBase64FromMediaMessage/", instance), req, &resp); err != nil {
		return nil, err
	}
	if resp.Base64 == "" {
		return nil, fmt.Errorf("gateway: empty media for message %s", messageID)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Base64)
	if err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	return &Media{MimeType: resp.MimeType, Data: data}, nil
}
