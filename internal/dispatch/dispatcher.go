// Package dispatch delivers decided messages through the gateway, part by
// part, with bounded retries.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/foxzi/prospector/internal/models"
	"github.com/foxzi/prospector/internal/retry"
)

// Sender sends one text message
type Sender interface {
	SendText(ctx context.Context, instance, number, text string) (string, error)
}

// CooldownWriter records when a campaign sent an opening message
type CooldownWriter interface {
	SetLastInitial(ctx context.Context, campaignID string, t time.Time) error
}

// Config configures the dispatcher
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	PauseMin      time.Duration
	PauseMax      time.Duration
	InitialJitter time.Duration
	Timeout       time.Duration
}

// Request is one message to deliver
type Request struct {
	CampaignID string
	Instance   string
	Number     string
	Text       string
	Mode       models.Mode
}

// Result reports what was delivered. Sent holds one assistant entry per
// delivered part, in order, also when a later part failed.
type Result struct {
	Sent  []models.Message
	Parts int
	Err   error
}

// OK reports whether every part was delivered
func (r *Result) OK() bool {
	return r.Err == nil
}

// Observer is notified about delivery events
type Observer interface {
	PartSent(mode models.Mode)
	PartFailed(mode models.Mode)
	Retried()
}

type nopObserver struct{}

func (nopObserver) PartSent(models.Mode)   {}
func (nopObserver) PartFailed(models.Mode) {}
func (nopObserver) Retried()               {}

// Dispatcher sends messages
type Dispatcher struct {
	sender   Sender
	cooldown CooldownWriter
	cfg      Config
	observer Observer
	logger   *slog.Logger

	now   func() time.Time
	randN func(n int64) int64
}

// New creates a new dispatcher
func New(sender Sender, cooldown CooldownWriter, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Dispatcher{
		sender:   sender,
		cooldown: cooldown,
		cfg:      cfg,
		observer: nopObserver{},
		logger:   logger.With("component", "dispatch"),
		now:      time.Now,
		randN:    rand.Int64N,
	}
}

// SetObserver sets the delivery observer
func (d *Dispatcher) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	d.observer = o
}

var blankLines = regexp.MustCompile(`\n[ \t\r]*\n`)

// Split breaks text into parts at blank lines, dropping empty parts
func Split(text string) []string {
	chunks := blankLines.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1)
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			parts = append(parts, c)
		}
	}
	return parts
}

// between returns a uniformly random duration in [lo, hi]
func (d *Dispatcher) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(d.randN(int64(hi-lo)+1))
}

// Dispatch sends every part of req.Text. A part that still fails after the
// retry bound, or fails fatally, aborts the remaining parts.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Result {
	parts := Split(req.Text)
	res := &Result{Parts: len(parts)}
	logger := d.logger.With("campaign_id", req.CampaignID, "mode", req.Mode)

	if len(parts) == 0 {
		res.Err = fmt.Errorf("nothing to send")
		return res
	}

	policy := retry.Policy{
		MaxAttempts: d.cfg.MaxAttempts,
		BaseDelay:   d.cfg.BaseDelay,
		MaxDelay:    d.cfg.MaxDelay,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			d.observer.Retried()
			logger.Warn("send failed, retrying",
				"attempt", attempt,
				"max_attempts", d.cfg.MaxAttempts,
				"error", err,
				"wait", wait,
			)
		},
	}

	for i, part := range parts {
		if i > 0 {
			if err := retry.Sleep(ctx, d.between(d.cfg.PauseMin, d.cfg.PauseMax)); err != nil {
				res.Err = fmt.Errorf("interrupted before part %d of %d: %w", i+1, len(parts), err)
				return res
			}
		}

		var messageID string
		r := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
			callCtx := ctx
			if d.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
				defer cancel()
			}
			id, err := d.sender.SendText(callCtx, req.Instance, req.Number, part)
			messageID = id
			return err
		})
		if !r.OK() {
			d.observer.PartFailed(req.Mode)
			res.Err = fmt.Errorf("part %d of %d failed after %d attempts (%s): %w", i+1, len(parts), r.Attempts, r.Kind, r.Err)
			logger.Error("message delivery aborted",
				"part", i+1,
				"parts", len(parts),
				"sent", len(res.Sent),
				"error", r.Err,
			)
			return res
		}

		d.observer.PartSent(req.Mode)
		// the gateway id lets history sync recognise our copy of the part
		if messageID == "" {
			messageID = models.NewSentID()
		}
		res.Sent = append(res.Sent, models.Message{
			ID:      messageID,
			Role:    models.RoleAssistant,
			Content: part,
		})
	}

	if req.Mode == models.ModeInitial && d.cooldown != nil {
		stamp := d.now().UTC().Add(d.between(0, d.cfg.InitialJitter))
		if err := d.cooldown.SetLastInitial(ctx, req.CampaignID, stamp); err != nil {
			logger.Error("failed to record opening message time", "error", err)
		}
	}

	logger.Debug("message delivered", "parts", len(parts))
	return res
}
