// Package health implements the source health monitor (component F):
// a rolling record of download attempts per source, with a status
// classification derived from recent success rate and consecutive failures.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/blockforge/compiler/internal/store"
)

var (
	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filter_source_attempts_total",
		Help: "Total download attempts per filter source, labeled by outcome.",
	}, []string{"source", "outcome"})

	statusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "filter_source_status",
		Help: "Current health status per filter source (1 = the reported status, else 0).",
	}, []string{"source", "status"})
)

func init() {
	prometheus.MustRegister(attemptsTotal, statusGauge)
}

// Status classifies a source's recent reliability (§3).
type Status string

const (
	Healthy   Status = "Healthy"
	Degraded  Status = "Degraded"
	Unhealthy Status = "Unhealthy"
	Unknown   Status = "Unknown"
)

// DefaultRecentLimit bounds how many recent attempts are retained and
// reported (N in §3's SourceHealth.recent_attempts).
const DefaultRecentLimit = 10

// Thresholds for status classification, applied to the rolling window of
// the most recent attempts (not all-time totals, so health recovers once
// a source starts succeeding again).
const (
	degradedBelowRate  = 0.95
	unhealthyBelowRate = 0.50
	unhealthyStreak    = 3
)

// Attempt is one recorded download attempt for a source.
type Attempt struct {
	Timestamp int64 `json:"timestamp"`
	Success   bool  `json:"success"`
	DurationMS int64 `json:"duration_ms"`
	RuleCount  int   `json:"rule_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SourceHealth is the full rolling record for one source (§3).
type SourceHealth struct {
	Source              string    `json:"source"`
	Status              Status    `json:"status"`
	TotalAttempts       int64     `json:"total_attempts"`
	SuccessfulAttempts  int64     `json:"successful_attempts"`
	FailedAttempts      int64     `json:"failed_attempts"`
	SuccessRate         float64   `json:"success_rate"`
	AverageDurationMS   float64   `json:"average_duration_ms"`
	LastAttempt         *Attempt  `json:"last_attempt,omitempty"`
	LastSuccess         *Attempt  `json:"last_success,omitempty"`
	LastFailure         *Attempt  `json:"last_failure,omitempty"`
	RecentAttempts      []Attempt `json:"recent_attempts"`
	AverageRuleCount    float64   `json:"average_rule_count,omitempty"`
	IsCurrentlyFailing  bool      `json:"is_currently_failing"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

func healthKey(source string) store.Key {
	return store.Key{"health", "sources", source}
}

// Monitor tracks per-source health. Counters use lock-free atomics so
// concurrent fan-out across sources (component I's worker pool) never
// contends on a mutex; the read-modify-write against the store itself is
// last-write-wins per §9, acceptable for statistical data.
type Monitor struct {
	adapter     store.Adapter
	recentLimit int

	totalAttempts atomic.Int64
	totalFailures atomic.Int64
}

// New constructs a Monitor backed by adapter. recentLimit <= 0 uses
// DefaultRecentLimit.
func New(adapter store.Adapter, recentLimit int) *Monitor {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &Monitor{adapter: adapter, recentLimit: recentLimit}
}

// RecordAttempt appends a to source's rolling history and recomputes its
// status classification.
func (m *Monitor) RecordAttempt(ctx context.Context, source string, a Attempt) (SourceHealth, error) {
	m.totalAttempts.Inc()
	if !a.Success {
		m.totalFailures.Inc()
	}

	var h SourceHealth
	_, ok, err := m.adapter.Get(ctx, healthKey(source), &h)
	if err != nil {
		return SourceHealth{}, fmt.Errorf("health: loading %q: %w", source, err)
	}
	if !ok {
		h = SourceHealth{Source: source, Status: Unknown}
	}

	h.TotalAttempts++
	if a.Success {
		h.SuccessfulAttempts++
		h.ConsecutiveFailures = 0
	} else {
		h.FailedAttempts++
		h.ConsecutiveFailures++
	}
	h.LastAttempt = &a
	if a.Success {
		h.LastSuccess = &a
	} else {
		h.LastFailure = &a
	}

	h.RecentAttempts = append([]Attempt{a}, h.RecentAttempts...)
	if len(h.RecentAttempts) > m.recentLimit {
		h.RecentAttempts = h.RecentAttempts[:m.recentLimit]
	}

	h.SuccessRate = rollingSuccessRate(h.RecentAttempts)
	h.AverageDurationMS = rollingAverageDuration(h.RecentAttempts)
	h.AverageRuleCount = rollingAverageRuleCount(h.RecentAttempts)
	h.IsCurrentlyFailing = !a.Success
	h.Status = classify(h.SuccessRate, h.ConsecutiveFailures, len(h.RecentAttempts))

	if err := m.adapter.Set(ctx, healthKey(source), h, 0); err != nil {
		return SourceHealth{}, fmt.Errorf("health: storing %q: %w", source, err)
	}

	outcome := "success"
	if !a.Success {
		outcome = "failure"
	}
	attemptsTotal.WithLabelValues(source, outcome).Inc()
	for _, s := range []Status{Healthy, Degraded, Unhealthy, Unknown} {
		v := 0.0
		if s == h.Status {
			v = 1.0
		}
		statusGauge.WithLabelValues(source, string(s)).Set(v)
	}
	return h, nil
}

// Get returns the current health record for source, or Unknown if none
// has been recorded yet.
func (m *Monitor) Get(ctx context.Context, source string) (SourceHealth, error) {
	var h SourceHealth
	_, ok, err := m.adapter.Get(ctx, healthKey(source), &h)
	if err != nil {
		return SourceHealth{}, err
	}
	if !ok {
		return SourceHealth{Source: source, Status: Unknown}, nil
	}
	return h, nil
}

func classify(successRate float64, consecutiveFailures, sampleSize int) Status {
	if sampleSize == 0 {
		return Unknown
	}
	if consecutiveFailures >= unhealthyStreak {
		return Unhealthy
	}
	switch {
	case successRate < unhealthyBelowRate:
		return Unhealthy
	case successRate < degradedBelowRate:
		return Degraded
	default:
		return Healthy
	}
}

func rollingSuccessRate(attempts []Attempt) float64 {
	if len(attempts) == 0 {
		return 0
	}
	ok := 0
	for _, a := range attempts {
		if a.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(attempts))
}

func rollingAverageDuration(attempts []Attempt) float64 {
	if len(attempts) == 0 {
		return 0
	}
	var sum int64
	for _, a := range attempts {
		sum += a.DurationMS
	}
	return float64(sum) / float64(len(attempts))
}

func rollingAverageRuleCount(attempts []Attempt) float64 {
	n := 0
	var sum int
	for _, a := range attempts {
		if a.Success {
			sum += a.RuleCount
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func nowAttempt(success bool, d time.Duration, ruleCount int, errMsg string) Attempt {
	return Attempt{
		Timestamp:  time.Now().UnixMilli(),
		Success:    success,
		DurationMS: d.Milliseconds(),
		RuleCount:  ruleCount,
		Error:      errMsg,
	}
}

// NewAttempt builds an Attempt for RecordAttempt from a download outcome.
func NewAttempt(success bool, duration time.Duration, ruleCount int, err error) Attempt {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return nowAttempt(success, duration, ruleCount, msg)
}
