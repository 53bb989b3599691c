// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package heartbeat

import (
	"sync"
	"time"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Default thresholds.
const (
	DefaultInterval            = 10 * time.Second
	DefaultStallThreshold      = 30 * time.Second
	DefaultEarlyWarning        = 60 * time.Second
	DefaultTimeout             = 300 * time.Second
	DefaultTimeoutWarnFraction = 0.7
	DefaultJoinTimeout         = 2 * time.Second
)

// Config holds monitor thresholds.
type Config struct {
	// Interval is the progress period and the minimum gap between repeats
	// of the same warning. The loop ticks at Interval/4.
	Interval time.Duration

	// StallThreshold is the allowed gap between tokens once streaming started.
	StallThreshold time.Duration

	// EarlyWarning is how long to wait for the first token before warning.
	EarlyWarning time.Duration

	// Timeout is the overall call timeout the monitor compares against.
	Timeout time.Duration

	// TimeoutWarnFraction of Timeout at which EventTimeoutApproaching fires.
	TimeoutWarnFraction float64

	// JoinTimeout bounds how long Stop waits for the loop to exit.
	JoinTimeout time.Duration

	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Interval:            DefaultInterval,
		StallThreshold:      DefaultStallThreshold,
		EarlyWarning:        DefaultEarlyWarning,
		Timeout:             DefaultTimeout,
		TimeoutWarnFraction: DefaultTimeoutWarnFraction,
		JoinTimeout:         DefaultJoinTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.TimeoutWarnFraction <= 0 || c.TimeoutWarnFraction > 1 {
		c.TimeoutWarnFraction = DefaultTimeoutWarnFraction
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// =============================================================================
// STATE
// =============================================================================

// State is a point-in-time copy of what the monitor has observed.
// Zero times mean "not yet".
type State struct {
	Start          time.Time
	FirstToken     time.Time
	LastToken      time.Time
	TokenCount     int
	EstimatedTotal int
}

// HasTokens reports whether any token has arrived.
func (s State) HasTokens() bool {
	return !s.FirstToken.IsZero()
}

// FirstTokenLatency is the time from Start to the first token, zero if none.
func (s State) FirstTokenLatency() time.Duration {
	if s.FirstToken.IsZero() {
		return 0
	}
	return s.FirstToken.Sub(s.Start)
}

// =============================================================================
// MONITOR
// =============================================================================

// Monitor is the watchdog for one streaming call.
type Monitor struct {
	cfg  Config
	sink Sink

	mu           sync.Mutex
	state        State
	lastEmit     map[EventKind]time.Time
	lastProgress time.Time
	running      bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a monitor. A nil sink discards events.
func New(cfg Config, sink Sink) *Monitor {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	return &Monitor{
		cfg:      cfg,
		sink:     sink,
		state:    State{Start: cfg.Now()},
		lastEmit: make(map[EventKind]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start records the start time and launches the loop. Calling Start twice,
// or after Stop, does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	select {
	case <-m.stopCh:
		m.mu.Unlock()
		return
	default:
	}
	m.running = true
	if !m.state.HasTokens() {
		m.state.Start = m.cfg.Now()
	}
	m.mu.Unlock()

	go m.loop()
}

// OnToken records n newly arrived tokens (or fragments).
func (m *Monitor) OnToken(n int) {
	if n <= 0 {
		n = 1
	}
	now := m.cfg.Now()

	m.mu.Lock()
	if now.Before(m.state.LastToken) {
		now = m.state.LastToken
	}
	first := false
	if m.state.FirstToken.IsZero() {
		first = true
		m.state.FirstToken = now
		m.lastProgress = now
	}
	m.state.LastToken = now
	m.state.TokenCount += n
	snapshot := m.state
	m.mu.Unlock()

	if first {
		m.sink.Handle(Event{
			Kind:       EventFirstToken,
			At:         now,
			Elapsed:    now.Sub(snapshot.Start),
			TokenCount: snapshot.TokenCount,
		})
	}
}

// SetEstimatedTotal supplies the expected token total used for ETA.
func (m *Monitor) SetEstimatedTotal(n int) {
	m.mu.Lock()
	m.state.EstimatedTotal = n
	m.mu.Unlock()
}

// State returns a copy of the observed state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stop signals the loop and waits up to JoinTimeout for it to exit.
// Safe to call more than once, without Start, or when no token arrived.
// Reports whether the loop was joined (true when it never ran).
func (m *Monitor) Stop() bool {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})

	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return true
	}

	select {
	case <-m.doneCh:
		return true
	case <-time.After(m.cfg.JoinTimeout):
		return false
	}
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	period := m.cfg.Interval / 4
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick(m.cfg.Now())
		}
	}
}

// tick evaluates every condition once at now and emits what is due.
func (m *Monitor) tick(now time.Time) {
	events := m.check(now)
	for _, ev := range events {
		m.sink.Handle(ev)
	}
}

func (m *Monitor) check(now time.Time) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state
	elapsed := now.Sub(s.Start)
	base := Event{At: now, Elapsed: elapsed, TokenCount: s.TokenCount}

	var events []Event

	if !s.HasTokens() && m.cfg.EarlyWarning > 0 && elapsed > m.cfg.EarlyWarning && m.due(EventEarlyWarning, now) {
		ev := base
		ev.Kind = EventEarlyWarning
		events = append(events, ev)
	}

	if s.HasTokens() && m.cfg.StallThreshold > 0 {
		gap := now.Sub(s.LastToken)
		if gap > m.cfg.StallThreshold && m.due(EventStall, now) {
			ev := base
			ev.Kind = EventStall
			ev.SinceLastToken = gap
			events = append(events, ev)
		}
	}

	if m.cfg.Timeout > 0 {
		limit := time.Duration(float64(m.cfg.Timeout) * m.cfg.TimeoutWarnFraction)
		if elapsed > limit && m.due(EventTimeoutApproaching, now) {
			ev := base
			ev.Kind = EventTimeoutApproaching
			ev.Remaining = m.cfg.Timeout - elapsed
			events = append(events, ev)
		}
	}

	if s.HasTokens() && now.Sub(m.lastProgress) >= m.cfg.Interval {
		m.lastProgress = now
		ev := base
		ev.Kind = EventProgress
		ev.SinceLastToken = now.Sub(s.LastToken)
		if streamed := now.Sub(s.FirstToken).Seconds(); streamed > 0 {
			ev.TokensPerSecond = float64(s.TokenCount) / streamed
		}
		if s.EstimatedTotal > s.TokenCount && ev.TokensPerSecond > 0 {
			remaining := float64(s.EstimatedTotal-s.TokenCount) / ev.TokensPerSecond
			ev.ETA = time.Duration(remaining * float64(time.Second))
		}
		events = append(events, ev)
	}

	return events
}

// due reports whether kind may fire at now and records it if so.
// Caller holds mu.
func (m *Monitor) due(kind EventKind, now time.Time) bool {
	if last, ok := m.lastEmit[kind]; ok && now.Sub(last) < m.cfg.Interval {
		return false
	}
	m.lastEmit[kind] = now
	return true
}
