// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package heartbeat watches token arrival on an in-flight streaming call.
//
// A Monitor runs one background goroutine per stream. The producer calls
// OnToken for each fragment; the loop wakes every quarter of the heartbeat
// interval and reports three distinct bad outcomes so they can be told apart
// from logs alone:
//
//   - EventEarlyWarning: nothing has arrived yet and the call is taking long
//   - EventStall: tokens were arriving and then stopped
//   - EventTimeoutApproaching: the call is near its overall deadline
//
// Once tokens flow it also emits EventProgress with throughput and, when a
// total has been estimated, an ETA. The monitor only observes; it never
// cancels the call it watches.
package heartbeat
