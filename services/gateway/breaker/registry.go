// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import "sync"

// Registry holds one breaker cell per analyzer. Cells are created
// lazily on first use so a newly-configured analyzer needs no restart
// coordination, and all cells share one Config.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	config Config

	mu    sync.RWMutex
	cells map[string]*Breaker
}

// NewRegistry creates a registry with cells pre-created for the given
// analyzer names.
func NewRegistry(config Config, names ...string) *Registry {
	r := &Registry{
		config: config.normalized(),
		cells:  make(map[string]*Breaker, len(names)),
	}
	for _, name := range names {
		r.cells[name] = New(name, r.config)
	}
	return r
}

// Admit asks the named analyzer's cell for permission to issue a call.
// On success the returned ticket carries the analyzer name and must be
// handed back to Record exactly once.
func (r *Registry) Admit(name string) (Ticket, error) {
	t, err := r.cell(name).Admit()
	if err != nil {
		return Ticket{}, err
	}
	t.name = name
	return t, nil
}

// Record reports a call completion against the cell that issued the ticket.
func (r *Registry) Record(t Ticket, success bool) {
	r.cell(t.name).Record(t, success)
}

// Discard hands back a ticket without recording a completion.
func (r *Registry) Discard(t Ticket) {
	r.cell(t.name).Discard(t)
}

// State returns the named cell's current state.
func (r *Registry) State(name string) State {
	return r.cell(name).State()
}

// Snapshot returns the state of every cell, keyed by analyzer name.
// Used by the health endpoint.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.cells))
	for name, cell := range r.cells {
		out[name] = cell.State().String()
	}
	return out
}

// cell returns the breaker for name, creating it if needed.
func (r *Registry) cell(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.cells[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.cells[name]; ok {
		return b
	}
	b = New(name, r.config)
	r.cells[name] = b
	return b
}
