// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/blinklabs-io/devote/internal/errs"
)

// Entry describes a backend available to the registry
type Entry struct {
	Name           string
	Description    string
	NewFactoryFunc func() (Factory, error)
}

// Registry maps network identifiers to backend entries. It is populated
// once at startup and read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	options map[string]map[string]any
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger, entries ...Entry) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r := &Registry{
		entries: make(map[string]Entry),
		options: make(map[string]map[string]any),
		logger:  logger.With("component", "backend"),
	}
	for _, entry := range entries {
		r.Register(entry)
	}
	return r
}

// Register adds or replaces a backend entry
func (r *Registry) Register(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[normalizeName(entry.Name)] = entry
}

// SetOptions stores the configuration section for a backend. It is handed
// to every operation of that backend through Config.Options.
func (r *Registry) SetOptions(name string, options map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options[normalizeName(name)] = maps.Clone(options)
}

// Entries returns the registered backends sorted by name
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]Entry, 0, len(r.entries))
	for _, name := range slices.Sorted(maps.Keys(r.entries)) {
		ret = append(ret, r.entries[name])
	}
	return ret
}

// Resolve returns the factory registered for networkID. Every failure mode
// is reported as errs.ErrBackendNotFound.
func (r *Registry) Resolve(networkID string) (Factory, error) {
	r.mu.RLock()
	entry, ok := r.entries[normalizeName(networkID)]
	r.mu.RUnlock()
	if !ok || entry.NewFactoryFunc == nil {
		return nil, notFound(networkID)
	}
	factory, err := newFactory(entry)
	if err != nil {
		r.logger.Debug(
			"backend construction failed",
			"network", networkID,
			"error", err,
		)
		return nil, notFound(networkID)
	}
	if factory == nil {
		return nil, notFound(networkID)
	}
	return factory, nil
}

// Open resolves networkID and returns its initialized operations
func (r *Registry) Open(networkID string, useTestnet bool) (*Ops, error) {
	factory, err := r.Resolve(networkID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	opts := r.options[normalizeName(networkID)]
	r.mu.RUnlock()
	ops, err := NewOps(
		factory,
		Config{
			Options:    opts,
			UseTestnet: useTestnet,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", networkID, err)
	}
	return ops, nil
}

func newFactory(entry Entry) (factory Factory, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			factory = nil
			err = fmt.Errorf("panic constructing backend: %v", rec)
		}
	}()
	return entry.NewFactoryFunc()
}

func notFound(networkID string) error {
	return fmt.Errorf("%w: %q", errs.ErrBackendNotFound, networkID)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
