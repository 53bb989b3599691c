// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package review drives one review task to an accepted or degraded result.
//
// Each attempt generates text through the LLM client, runs the validator,
// and either accepts the text or retries with a prompt reinforced for the
// categories that failed. When the attempt budget runs out the attempt with
// the fewest issues is returned, tagged degraded, alongside the full history.
//
// Task states:
//
//	pending -> attempted -> accepted
//	                     -> retrying -> attempted ...
//	                     -> degraded   (budget exhausted)
//	                     -> failed     (client error)
package review
