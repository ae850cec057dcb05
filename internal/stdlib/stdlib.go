// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

// Package stdlib holds the herd script sources shipped with the runtime.
package stdlib

import _ "embed"

// Prelude is compiled before any host document unless the host disables it.
// Its root runs first for every object.
//
//go:embed prelude.herd
var Prelude string
