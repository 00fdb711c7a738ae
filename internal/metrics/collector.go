package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/prospector/internal/models"
)

// LinkStatsProvider counts contact links per status
type LinkStatsProvider interface {
	CountBySituacao(ctx context.Context) (map[models.Situacao]int, error)
}

var bucketMetrics = []byte("metrics")

// ShadowCounters stores counter values for persistence
type ShadowCounters struct {
	MessagesSent   map[string]float64 `json:"messages_sent"`
	MessagesFailed map[string]float64 `json:"messages_failed"`
	SendRetries    float64            `json:"send_retries"`
	LinksProcessed map[string]float64 `json:"links_processed"`
	WebhookEvents  map[string]float64 `json:"webhook_events"`
	APIRequests    map[string]float64 `json:"api_requests"`
	APIErrors      map[string]float64 `json:"api_errors"`
}

// Collector keeps counters across restarts and refreshes the gauges. It
// implements the observer interfaces of the dispatcher, the webhook and
// the orchestrator.
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	linkStats     LinkStatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	shadow ShadowCounters
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(db *bolt.DB, m *Metrics, linkStats LinkStatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		linkStats:     linkStats,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		shadow: ShadowCounters{
			MessagesSent:   make(map[string]float64),
			MessagesFailed: make(map[string]float64),
			LinksProcessed: make(map[string]float64),
			WebhookEvents:  make(map[string]float64),
			APIRequests:    make(map[string]float64),
			APIErrors:      make(map[string]float64),
		},
		stopCh: make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Metrics returns the metrics the collector feeds
func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters restores persisted counter values
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetrics).Get([]byte("counters"))
		if data == nil {
			return nil
		}

		var shadow ShadowCounters
		if err := json.Unmarshal(data, &shadow); err != nil {
			return nil // Skip invalid data
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		for k, v := range shadow.MessagesSent {
			c.shadow.MessagesSent[k] = v
			c.metrics.MessagesSentTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.MessagesFailed {
			c.shadow.MessagesFailed[k] = v
			c.metrics.MessagesFailedTotal.WithLabelValues(k).Add(v)
		}
		c.shadow.SendRetries = shadow.SendRetries
		c.metrics.SendRetriesTotal.Add(shadow.SendRetries)

		for k, v := range shadow.LinksProcessed {
			labels := splitLabelKey(k, 2)
			c.shadow.LinksProcessed[k] = v
			c.metrics.LinksProcessedTotal.WithLabelValues(labels...).Add(v)
		}
		for k, v := range shadow.WebhookEvents {
			c.shadow.WebhookEvents[k] = v
			c.metrics.WebhookEventsTotal.WithLabelValues(k).Add(v)
		}

		for k, v := range shadow.APIRequests {
			labels := splitLabelKey(k, 3)
			c.shadow.APIRequests[k] = v
			c.metrics.APIRequestsTotal.WithLabelValues(labels...).Add(v)
		}
		for k, v := range shadow.APIErrors {
			c.shadow.APIErrors[k] = v
			c.metrics.APIErrorsTotal.WithLabelValues(k).Add(v)
		}

		return nil
	})
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	c.mu.Lock()
	data, err := json.Marshal(c.shadow)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).Put([]byte("counters"), data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.linkStats != nil {
		counts, err := c.linkStats.CountBySituacao(ctx)
		if err == nil {
			for _, s := range models.AllSituacoes {
				c.metrics.Links.WithLabelValues(string(s)).Set(float64(counts[s]))
			}
		}
	}
}

// PartSent tracks a message part accepted by the gateway
func (c *Collector) PartSent(mode models.Mode) {
	c.mu.Lock()
	c.shadow.MessagesSent[string(mode)]++
	c.mu.Unlock()
	c.metrics.MessagesSentTotal.WithLabelValues(string(mode)).Inc()
}

// PartFailed tracks a message part that could not be delivered
func (c *Collector) PartFailed(mode models.Mode) {
	c.mu.Lock()
	c.shadow.MessagesFailed[string(mode)]++
	c.mu.Unlock()
	c.metrics.MessagesFailedTotal.WithLabelValues(string(mode)).Inc()
}

// Retried tracks a send attempt retried after a temporary failure
func (c *Collector) Retried() {
	c.mu.Lock()
	c.shadow.SendRetries++
	c.mu.Unlock()
	c.metrics.SendRetriesTotal.Inc()
}

// WebhookEvent tracks one ingested webhook record
func (c *Collector) WebhookEvent(result string) {
	c.mu.Lock()
	c.shadow.WebhookEvents[result]++
	c.mu.Unlock()
	c.metrics.WebhookEventsTotal.WithLabelValues(result).Inc()
}

// LinkProcessed tracks one orchestrator cycle
func (c *Collector) LinkProcessed(mode models.Mode, situacao models.Situacao, duration time.Duration) {
	key := makeLabelKey(string(mode), string(situacao))
	c.mu.Lock()
	c.shadow.LinksProcessed[key]++
	c.mu.Unlock()
	c.metrics.LinksProcessedTotal.WithLabelValues(string(mode), string(situacao)).Inc()
	c.metrics.LinkProcessingSeconds.WithLabelValues(string(mode)).Observe(duration.Seconds())
}

// ActiveCampaigns sets the number of running campaign loops
func (c *Collector) ActiveCampaigns(n int) {
	c.metrics.ActiveCampaigns.Set(float64(n))
}

// TrackAPIRequest tracks an API request and updates shadow counter
func (c *Collector) TrackAPIRequest(method, path, status string) {
	key := makeLabelKey(method, path, status)
	c.mu.Lock()
	c.shadow.APIRequests[key]++
	c.mu.Unlock()
	c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// TrackAPIError tracks an API error and updates shadow counter
func (c *Collector) TrackAPIError(errorType string) {
	c.mu.Lock()
	c.shadow.APIErrors[errorType]++
	c.mu.Unlock()
	c.metrics.APIErrorsTotal.WithLabelValues(errorType).Inc()
}

func makeLabelKey(values ...string) string {
	return strings.Join(values, "|")
}

// splitLabelKey returns exactly n label values. Paths never contain '|'
// so only the last separators matter.
func splitLabelKey(key string, n int) []string {
	parts := strings.Split(key, "|")
	for len(parts) < n {
		parts = append(parts, "")
	}
	if len(parts) > n {
		head := strings.Join(parts[:len(parts)-n+1], "|")
		parts = append([]string{head}, parts[len(parts)-n+1:]...)
	}
	return parts
}
