// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package herd

import "nickandperla.net/herd/internal/stdlib"

// DefaultPrelude is compiled before any host document unless WithNoPrelude
// is given.
var DefaultPrelude = stdlib.Prelude

// PreludeDocument names the library document that replaces the prelude.
const PreludeDocument = "__prelude__"
