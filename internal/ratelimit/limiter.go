// Package ratelimit caps how many new conversations the campaigns may open
// per hour and per day, globally and per WhatsApp channel. Counters live in
// bbolt so a restart keeps the budget already spent.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketOpeningQuota = []byte("opening_quota")

// Level represents the level of rate limiting
type Level string

const (
	LevelGlobal  Level = "global"
	LevelChannel Level = "channel"
)

// Config contains rate limit configuration
type Config struct {
	// Global limits across every channel
	Global *LimitConfig

	// Limits applied to each channel
	PerChannel *LimitConfig

	// Persistence settings
	FlushInterval time.Duration
}

// LimitConfig contains rate limit values. Zero disables a window.
type LimitConfig struct {
	PerHour int `json:"per_hour"`
	PerDay  int `json:"per_day"`
}

// Counter tracks rate limit counters
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Result contains the rate limit check result
type Result struct {
	Allowed    bool
	DeniedBy   Level
	RetryAfter time.Duration
}

// Stats contains rate limit statistics
type Stats struct {
	Level       Level
	Key         string
	HourlyCount int
	DailyCount  int
}

// Limiter counts opening messages
type Limiter struct {
	db       *bolt.DB
	config   Config
	counters map[string]*Counter
	mu       sync.Mutex
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLimiter creates a new rate limiter
func NewLimiter(db *bolt.DB, cfg Config) (*Limiter, error) {
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOpeningQuota)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quota bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	l.wg.Add(1)
	go l.persistLoop()

	return l, nil
}

// Allow reports whether channel may open one more conversation and, if so,
// counts it
func (l *Limiter) Allow(ctx context.Context, channel string) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.getChecks(channel)

	for _, check := range checks {
		counter := l.getOrCreateCounter(check.key, now)
		resetExpired(counter, now)

		if check.limit.PerHour > 0 && counter.HourlyCount >= check.limit.PerHour {
			return &Result{DeniedBy: check.level, RetryAfter: counter.HourStart.Add(time.Hour).Sub(now)}, nil
		}
		if check.limit.PerDay > 0 && counter.DailyCount >= check.limit.PerDay {
			return &Result{DeniedBy: check.level, RetryAfter: counter.DayStart.Add(24 * time.Hour).Sub(now)}, nil
		}
	}

	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount++
		counter.DailyCount++
	}

	return &Result{Allowed: true}, nil
}

// GetStats returns the current counts for a level and key
func (l *Limiter) GetStats(level Level, key string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{Level: level, Key: key}
	counter, ok := l.counters[makeKey(level, key)]
	if !ok {
		return stats
	}

	now := l.now()
	if now.Sub(counter.HourStart) < time.Hour {
		stats.HourlyCount = counter.HourlyCount
	}
	if now.Sub(counter.DayStart) < 24*time.Hour {
		stats.DailyCount = counter.DailyCount
	}
	return stats
}

// Stop stops the background flush and persists counters
func (l *Limiter) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
	return l.persistCounters()
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) getChecks(channel string) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{
			level: LevelGlobal,
			key:   makeKey(LevelGlobal, "global"),
			limit: l.config.Global,
		})
	}

	if channel != "" && l.config.PerChannel != nil {
		checks = append(checks, limitCheck{
			level: LevelChannel,
			key:   makeKey(LevelChannel, channel),
			limit: l.config.PerChannel,
		})
	}

	return checks
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *Counter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &Counter{
			HourStart: now,
			DayStart:  now,
		}
		l.counters[key] = counter
	}
	return counter
}

func resetExpired(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOpeningQuota)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.Lock()
	snapshot := make(map[string][]byte, len(l.counters))
	for key, counter := range l.counters {
		data, err := json.Marshal(counter)
		if err != nil {
			continue
		}
		snapshot[key] = data
	}
	l.mu.Unlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOpeningQuota)
		if bucket == nil {
			return nil
		}
		for key, data := range snapshot {
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
