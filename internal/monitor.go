package internal

import (
	"log/slog"
	"time"

	"github.com/radle-project/radle-go/pkg/store"
	"github.com/radle-project/radle-go/pkg/types"
)

// MonitorConfig carries the rate-limit monitor tunables. The window gap and
// breach threshold are heuristics inferred from observed Reddit behavior,
// not a documented contract, so both stay configurable.
type MonitorConfig struct {
	// Enabled gates all recording. Default on.
	Enabled bool
	// BreachThreshold marks a sample as a breach when used exceeds it.
	// Reddit's apparent ceiling is ~100 calls per window. Default 90.
	BreachThreshold float64
	// WindowGapSeconds starts a new quota window when a sample arrives this
	// long after the current window's start. Default 600.
	WindowGapSeconds int64
	// Retention prunes samples older than this on every write. Default 30 days.
	Retention time.Duration
}

func (c *MonitorConfig) applyDefaults() {
	if c.BreachThreshold <= 0 {
		c.BreachThreshold = 90
	}
	if c.WindowGapSeconds <= 0 {
		c.WindowGapSeconds = 600
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
}

// Monitor records per-call quota usage and aggregates it into fixed-size
// time buckets for dashboarding. Recording is best-effort: storage failures
// are logged and never fail the API call being observed.
type Monitor struct {
	samples store.SampleStore
	cfg     MonitorConfig
	logger  *slog.Logger
	now     func() time.Time

	// onRecord, when set, observes each recorded sample (metrics hook).
	onRecord func(endpoint string, isFailure, breach bool)
}

// NewMonitor creates a rate-limit monitor over the given sample store.
func NewMonitor(samples store.SampleStore, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		samples: samples,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetRecordObserver registers a callback invoked for each recorded sample.
func (m *Monitor) SetRecordObserver(fn func(endpoint string, isFailure, breach bool)) {
	m.onRecord = fn
}

// SetClock replaces the time source. Test hook.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Record appends one sample for an outbound API call and prunes samples
// past the retention horizon. No-op when monitoring is disabled.
func (m *Monitor) Record(used, remaining, reset float64, isFailure bool, endpoint, payload string) {
	if !m.cfg.Enabled {
		return
	}

	now := m.now()
	sample := types.Sample{
		Timestamp: now.Unix(),
		Used:      used,
		Remaining: remaining,
		Reset:     reset,
		IsFailure: isFailure,
		Endpoint:  endpoint,
		Payload:   payload,
	}

	if err := m.samples.Append(sample); err != nil {
		m.logger.Warn("failed to record rate-limit sample", "endpoint", endpoint, "error", err)
		return
	}
	if err := m.samples.Prune(now.Add(-m.cfg.Retention).Unix()); err != nil {
		m.logger.Warn("failed to prune rate-limit samples", "error", err)
	}

	if m.onRecord != nil {
		m.onRecord(endpoint, isFailure, used > m.cfg.BreachThreshold)
	}
}

// Data aggregates the stored samples for the requested period into
// zero-filled buckets ordered by time slot.
//
// Reddit reports used as a cumulative counter within its quota window, so
// summing it naively double-counts. The aggregation tracks the window end
// from the reset countdown (ts + reset), opens a new window when a sample
// lands past it or after a long gap, and credits each sample with the
// increment over the window's previous used value.
func (m *Monitor) Data(period types.Period) ([]types.Bucket, error) {
	window, width, err := period.Span()
	if err != nil {
		return nil, err
	}

	now := m.now().Unix()
	start := now - window
	count := int(window / width)
	buckets := make([]types.Bucket, count)

	samples, err := m.samples.Since(start)
	if err != nil {
		return nil, err
	}

	var windowEnd, lastSeen int64
	var windowUsed float64
	haveWindow := false

	for _, s := range samples {
		if !haveWindow || s.Timestamp >= windowEnd || s.Timestamp-lastSeen >= m.cfg.WindowGapSeconds {
			windowEnd = s.Timestamp + int64(s.Reset)
			windowUsed = 0
			haveWindow = true
		}
		lastSeen = s.Timestamp

		newCalls := s.Used - windowUsed
		if newCalls < 0 {
			newCalls = 0
		}
		if s.Used > windowUsed {
			windowUsed = s.Used
		}

		idx := int((s.Timestamp - start) / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= count {
			idx = count - 1
		}

		buckets[idx].Calls += newCalls
		if s.Used > m.cfg.BreachThreshold {
			buckets[idx].Breaches++
		}
		if s.IsFailure {
			buckets[idx].Failures++
		}
	}

	return buckets, nil
}

// DeleteAll clears the entire sample history.
func (m *Monitor) DeleteAll() error {
	return m.samples.DeleteAll()
}
