// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

//go:build js && wasm

package store

// No SQLite driver is linked into js/wasm builds; use the memory library.
const driverName = ""
