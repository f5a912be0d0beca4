package usage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kestrelai/conductor/internal/storageport"
)

// ProviderModelStats summarizes usage for a single model within a period.
type ProviderModelStats struct {
	Model    string `json:"model"`
	Requests int    `json:"requests"`
	Usage    Usage  `json:"usage"`
}

// Stats aggregates usage over a period, optionally scoped to one provider.
type Stats struct {
	Provider     string               `json:"provider,omitempty"`
	Period       time.Duration        `json:"period"`
	Requests     int                  `json:"requests"`
	Usage        Usage                `json:"usage"`
	AvgLatencyMs float64              `json:"avg_latency_ms"`
	ByModel      []ProviderModelStats `json:"by_model"`
	PrimaryModel string               `json:"primary_model,omitempty"`
}

// Metric is one exported measurement tuple.
type Metric struct {
	Name  string            `json:"name"`
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// Store adds append-only persistence and retention-windowed querying on top
// of Tracker's in-memory aggregation, matching the durable usage log that
// every restart reloads from.
type Store struct {
	tracker   *Tracker
	backend   storageport.Port
	dir       string
	retention time.Duration
	logger    *slog.Logger
}

// StoreConfig configures a persisted usage store.
type StoreConfig struct {
	// Dir is the storage-port path under which one file per
	// provider/day is appended.
	Dir string
	// Retention is how long records are kept before eviction. Default 30 days.
	Retention time.Duration
	// Disabled makes Record a no-op and Load skip I/O entirely.
	Disabled bool
}

// NewStore wraps tracker with append-only persistence backed by port.
func NewStore(tracker *Tracker, backend storageport.Port, cfg StoreConfig, logger *slog.Logger) *Store {
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.Dir == "" {
		cfg.Dir = "usage"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		tracker:   tracker,
		backend:   backend,
		dir:       cfg.Dir,
		retention: cfg.Retention,
		logger:    logger.With("component", "usage_store"),
	}
}

func (s *Store) logPath(r Record) string {
	day := r.Timestamp.UTC().Format("2006-01-02")
	provider := r.Provider
	if provider == "" {
		provider = "unknown"
	}
	return fmt.Sprintf("%s/%s-%s.jsonl", s.dir, provider, day)
}

// Record records r in the in-memory tracker and appends it to its
// provider/day log file. Persistence failures are logged, not returned —
// per the error-handling contract a failed usage write must never fail a
// turn.
func (s *Store) Record(ctx context.Context, r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	s.tracker.Record(r)

	if s.backend == nil {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		s.logger.Warn("marshal usage record", "error", err)
		return
	}
	if err := s.backend.AppendText(ctx, s.logPath(r), string(data)+"\n"); err != nil {
		s.logger.Warn("persist usage record", "error", err)
	}
}

// Load replays persisted usage files under dir into the in-memory tracker,
// skipping records older than the retention horizon. It tolerates legacy
// JSON-array files, a single JSON object per file, and newline-delimited
// JSON, matching whatever format a prior process version wrote.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	names, err := s.backend.List(ctx, s.dir)
	if err != nil {
		return fmt.Errorf("usage: list %s: %w", s.dir, err)
	}
	cutoff := time.Now().Add(-s.retention)
	for _, name := range names {
		if !strings.HasSuffix(name, ".jsonl") && !strings.HasSuffix(name, ".json") {
			continue
		}
		path := s.dir + "/" + name
		content, err := s.backend.GetText(ctx, path)
		if err != nil {
			s.logger.Debug("read usage file", "path", path, "error", err)
			continue
		}
		for _, r := range parseUsageFile(content, s.logger) {
			if r.Timestamp.Before(cutoff) {
				continue
			}
			s.tracker.Record(r)
		}
	}
	return nil
}

func parseUsageFile(content string, logger *slog.Logger) []Record {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}

	// Legacy JSON array of records.
	if strings.HasPrefix(trimmed, "[") {
		var records []Record
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			logger.Debug("skip malformed usage array", "error", err)
			return nil
		}
		return records
	}

	// Single JSON object (one record, no trailing newline framing).
	if strings.HasPrefix(trimmed, "{") && !strings.Contains(trimmed, "\n") {
		var r Record
		if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
			logger.Debug("skip malformed usage object", "error", err)
			return nil
		}
		return []Record{r}
	}

	// Newline-delimited JSON, the steady-state append format.
	var records []Record
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			logger.Debug("skip malformed usage line", "error", err)
			continue
		}
		records = append(records, r)
	}
	return records
}

// StatsForPeriod aggregates records for provider within the trailing period.
// An empty provider aggregates across all providers.
func (s *Store) StatsForPeriod(provider string, period time.Duration) Stats {
	cutoff := time.Now().Add(-period)
	byModel := make(map[string]*ProviderModelStats)

	var total Usage
	var requests int
	var latencySum time.Duration
	var latencyCount int

	for _, r := range s.tracker.GetRecentRecords(0) {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		if provider != "" && r.Provider != provider {
			continue
		}
		requests++
		total.Add(&r.Usage)
		if r.Latency > 0 {
			latencySum += r.Latency
			latencyCount++
		}
		ms := byModel[r.Model]
		if ms == nil {
			ms = &ProviderModelStats{Model: r.Model}
			byModel[r.Model] = ms
		}
		ms.Requests++
		ms.Usage.Add(&r.Usage)
	}

	stats := Stats{
		Provider: provider,
		Period:   period,
		Requests: requests,
		Usage:    total,
	}
	if latencyCount > 0 {
		stats.AvgLatencyMs = float64(latencySum.Milliseconds()) / float64(latencyCount)
	}

	models := make([]ProviderModelStats, 0, len(byModel))
	for _, ms := range byModel {
		models = append(models, *ms)
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Requests != models[j].Requests {
			return models[i].Requests > models[j].Requests
		}
		return models[i].Model < models[j].Model
	})
	stats.ByModel = models
	if len(models) > 0 {
		stats.PrimaryModel = models[0].Model
	}
	return stats
}

// StatsAll aggregates across every provider for the trailing period.
func (s *Store) StatsAll(period time.Duration) Stats {
	return s.StatsForPeriod("", period)
}

// ExportMetrics renders the current totals as a flat metric list suitable
// for a Prometheus-style exporter.
func (s *Store) ExportMetrics(period time.Duration) []Metric {
	all := s.StatsAll(period)
	metrics := []Metric{
		{Name: "requests.total", Value: float64(all.Requests)},
		{Name: "tokens.input", Value: float64(all.Usage.InputTokens)},
		{Name: "tokens.output", Value: float64(all.Usage.OutputTokens)},
		{Name: "tokens.total", Value: float64(all.Usage.Total())},
		{Name: "latency.avg_ms", Value: all.AvgLatencyMs},
	}
	for _, m := range all.ByModel {
		metrics = append(metrics,
			Metric{Name: "requests.total", Value: float64(m.Requests), Tags: map[string]string{"model": m.Model}},
			Metric{Name: "tokens.total", Value: float64(m.Usage.Total()), Tags: map[string]string{"model": m.Model}},
		)
	}
	return metrics
}

// StartEvictionSweeper runs pruneOld once an hour until ctx is cancelled,
// matching the tracker's own retention horizon.
func (s *Store) StartEvictionSweeper(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tracker.mu.Lock()
				s.tracker.pruneOld()
				s.tracker.mu.Unlock()
			}
		}
	}()
}
