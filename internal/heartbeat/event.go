// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package heartbeat

import (
	"time"

	"github.com/sirupsen/logrus"
)

// EventKind identifies a monitor signal.
type EventKind int

const (
	EventFirstToken EventKind = iota + 1
	EventEarlyWarning
	EventStall
	EventTimeoutApproaching
	EventProgress
)

// String returns a short name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventFirstToken:
		return "first_token"
	case EventEarlyWarning:
		return "early_warning"
	case EventStall:
		return "stall"
	case EventTimeoutApproaching:
		return "timeout_approaching"
	case EventProgress:
		return "progress"
	default:
		return "unknown"
	}
}

// IsWarning reports whether the kind signals a problem.
func (k EventKind) IsWarning() bool {
	return k == EventEarlyWarning || k == EventStall || k == EventTimeoutApproaching
}

// Event is one signal from the monitor. Fields that do not apply to the kind
// are zero.
type Event struct {
	Kind       EventKind
	At         time.Time
	Elapsed    time.Duration
	TokenCount int

	SinceLastToken  time.Duration // stall, progress
	Remaining       time.Duration // timeout_approaching
	TokensPerSecond float64       // progress
	ETA             time.Duration // progress, when a total was estimated
}

// Sink receives monitor events. Handle is called from the monitor goroutine
// (or from OnToken for the first-token event) and must not block for long.
type Sink interface {
	Handle(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Handle calls f(ev).
func (f SinkFunc) Handle(ev Event) { f(ev) }

// LogSink writes events to a logrus logger.
type LogSink struct {
	Log logrus.FieldLogger
}

// NewLogSink returns a sink logging through log, with fields attached to
// every entry (model, task, ...).
func NewLogSink(log logrus.FieldLogger, fields logrus.Fields) *LogSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogSink{Log: log.WithFields(fields)}
}

// Handle logs ev at a level matching its kind.
func (s *LogSink) Handle(ev Event) {
	entry := s.Log.WithFields(logrus.Fields{
		"event":   ev.Kind.String(),
		"elapsed": ev.Elapsed.Round(time.Millisecond).String(),
		"tokens":  ev.TokenCount,
	})

	switch ev.Kind {
	case EventFirstToken:
		entry.Info("First token received")
	case EventEarlyWarning:
		entry.Warn("No tokens yet; model may still be loading")
	case EventStall:
		entry.WithField("since_last_token", ev.SinceLastToken.Round(time.Millisecond).String()).
			Warn("Stream stalled")
	case EventTimeoutApproaching:
		entry.WithField("remaining", ev.Remaining.Round(time.Second).String()).
			Warn("Request approaching timeout")
	case EventProgress:
		fields := logrus.Fields{"tokens_per_sec": roundTenth(ev.TokensPerSecond)}
		if ev.ETA > 0 {
			fields["eta"] = ev.ETA.Round(time.Second).String()
		}
		entry.WithFields(fields).Info("Streaming")
	}
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
