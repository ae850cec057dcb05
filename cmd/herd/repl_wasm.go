// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

//go:build js && wasm

package main

import (
	"io"

	"nickandperla.net/herd/internal/config"
	"nickandperla.net/herd/pkg/herd"
)

func runREPL(runtime *herd.Runtime, cfg *config.Config, out io.Writer) {
	// No interactive REPL in WASM mode
	log.Warningf("no REPL in this build")
}
