// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package validate holds the quality gate for generated review text.
//
// Every check is a pure function of its input. Bad text is the expected case,
// so checks report Issues instead of returning errors. A Profile describes
// what a good answer looks like (required headers, section minimums,
// conversational patterns, domain terms) and can be loaded from YAML.
package validate
