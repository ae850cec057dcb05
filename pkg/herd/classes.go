// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package herd

import (
	"slices"
	"sort"
	"sync"

	"nickandperla.net/herd/internal/script"
)

// ClassInfo describes a class declaration seen at run time.
type ClassInfo struct {
	ID    ClassID
	Name  string
	Roots []script.BlockID
	// Declared counts how many times the declaring statement has run.
	Declared int
}

// Classes is a thread-safe registry of the classes scripts have declared.
// The runtime registers it as the "classes" service unless the host
// provides its own.
type Classes struct {
	mu     sync.RWMutex
	byName map[string]ClassInfo
}

// NewClasses creates an empty class registry.
func NewClasses() *Classes {
	return &Classes{
		byName: make(map[string]ClassInfo),
	}
}

// RecordClass stores the roots of a declared class.
func (c *Classes) RecordClass(id ClassID, name string, roots []script.BlockID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.byName[name]
	info.ID = id
	info.Name = name
	info.Roots = slices.Clone(roots)
	info.Declared++
	c.byName[name] = info
}

// Get retrieves a class by name.
func (c *Classes) Get(name string) (ClassInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.byName[name]
	if ok {
		info.Roots = slices.Clone(info.Roots)
	}
	return info, ok
}

// Names returns the recorded class names in sorted order.
func (c *Classes) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
