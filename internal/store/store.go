// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

// Package store provides persistence for herd script documents. Every Put of
// changed source creates a new version; older versions stay queryable.
package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Require when a named document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is the latest version of a stored script.
type Document struct {
	Name    string `cbor:"1,keyasint"`
	Source  string `cbor:"2,keyasint"`
	Version int    `cbor:"3,keyasint"`
	Ts      string `cbor:"4,keyasint"`
}

// VersionEntry represents a single version of a stored document.
type VersionEntry struct {
	Version int
	Source  string
	Ts      string
}

// Store is the interface for script document persistence.
type Store interface {
	// Get retrieves the latest version of a document. Returns nil if not found.
	Get(name string) (*Document, error)
	// Put stores source under name and returns its version. Source equal to
	// the latest version is not stored again.
	Put(name, source string) (int, error)
	// Delete removes a document and its history.
	Delete(name string) error
	// List returns the stored document names in order.
	List() ([]string, error)
	// Close releases resources.
	Close() error
}

// HistoryStore extends Store with version history queries.
type HistoryStore interface {
	Store
	// GetHistory returns up to limit versions, newest first. A limit of zero
	// or less returns every version.
	GetHistory(name string, limit int) ([]VersionEntry, error)
}

// MetadataStore is implemented by stores that keep string settings beside
// the documents.
type MetadataStore interface {
	GetMetadata(key string) (string, error)
	SetMetadata(key, value string) error
}

var (
	_ HistoryStore  = (*Memory)(nil)
	_ HistoryStore  = (*SQLite)(nil)
	_ MetadataStore = (*Memory)(nil)
	_ MetadataStore = (*SQLite)(nil)
)

// Require is Get that reports a missing document as ErrNotFound.
func Require(s Store, name string) (*Document, error) {
	d, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return d, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
