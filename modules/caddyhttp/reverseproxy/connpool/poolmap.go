// Copyright 2015 Matthew Holt and The Caddy Authors
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

package connpool

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Map is a keyed container that lazily builds and owns one pool per
// distinct key. It is not thread-safe, on purpose: every public method
// is expected to run on a single, cooperative goroutine (for example,
// the goroutine owning the upstream connections being pooled), the same
// way the rest of a single worker's state in a shared-nothing design
// would be confined to one goroutine. Calling any method of Map from
// more than one goroutine at a time, or reentrantly from within a
// callback fired by one of Map's own pools, is a programming error that
// Map detects and panics on; see the reentry guard note on each method.
//
// The zero value is not usable; construct with NewMap.
type Map[K comparable, P Pool] struct {
	dispatcher Dispatcher
	limit      int
	logger     *zap.Logger

	entries   map[K]P
	callbacks []func()
	entered   bool
}

// NewMap returns a Map that hands evicted and cleared pools to
// dispatcher for deferred destruction. A limit of 0 or less means
// unbounded: GetOrCreate never evicts to make room.
func NewMap[K comparable, P Pool](dispatcher Dispatcher, limit int) *Map[K, P] {
	return &Map[K, P]{
		dispatcher: dispatcher,
		limit:      limit,
		logger:     zap.NewNop(),
		entries:    make(map[K]P),
	}
}

// SetLogger attaches a logger used for routine lifecycle messages (pool
// created, pool evicted, drain requested). A nil logger is ignored.
func (m *Map[K, P]) SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	m.logger = logger
}

// GetOrCreate returns the pool registered under key, creating it with
// factory if key is not yet present.
//
// If key is already present, the existing pool is returned and factory
// is not invoked. Otherwise, if a capacity limit is set and already
// reached, one idle pool is evicted to make room (see the package-level
// eviction notes below); if no idle pool can be found, GetOrCreate
// returns ok=false, err=nil and factory is not invoked. Otherwise
// factory is invoked exactly once: if it returns an error, that error is
// returned unchanged and no entry is inserted; otherwise every
// previously buffered drained callback is registered on the new pool,
// the new entry is inserted, and the pool is returned with ok=true.
func (m *Map[K, P]) GetOrCreate(key K, factory Factory[P]) (pool P, ok bool, err error) {
	m.enter()
	defer m.leave()

	if existing, found := m.entries[key]; found {
		return existing, true, nil
	}

	if m.limit > 0 && len(m.entries) >= m.limit {
		if !m.evictOne() {
			var zero P
			return zero, false, nil
		}
	}

	newPool, err := factory()
	if err != nil {
		var zero P
		return zero, false, err
	}

	for _, cb := range m.callbacks {
		newPool.AddDrainedCallback(cb)
	}
	m.entries[key] = newPool

	m.logger.Debug("pool created", zap.Int("size", len(m.entries)))

	return newPool, true, nil
}

// evictOne frees exactly one slot by destroying one pool that reports
// no active connections, chosen in Go's native (unspecified) map
// iteration order. Any idle pool is equally recoverable, since the
// factory will rebuild on demand. It reports whether a slot was freed.
func (m *Map[K, P]) evictOne() bool {
	for key, p := range m.entries {
		if p.HasActiveConnections() {
			continue
		}
		delete(m.entries, key)
		m.destroy(p)
		m.logger.Debug("pool evicted", zap.Int("size", len(m.entries)))
		return true
	}
	return false
}

// destroy hands p to the dispatcher for deferred destruction. If p also
// implements io.Closer, Close is called as part of that deferred job;
// Map does not otherwise know how to tear a pool down, by design (the
// Pool contract only names the three capabilities it needs).
func (m *Map[K, P]) destroy(p P) {
	m.dispatcher.Defer(func() {
		if closer, ok := any(p).(io.Closer); ok {
			_ = closer.Close()
		}
	})
}

// Clear transfers ownership of every currently-held pool to the
// dispatcher for deferred destruction, then empties the map. It is a
// no-op on an empty map. The buffered drained-callback list is
// retained: pools created by later GetOrCreate calls still receive
// those callbacks, because Clear resets the map's contents, not its
// subscriptions.
func (m *Map[K, P]) Clear() {
	m.enter()
	defer m.leave()

	for _, p := range m.entries {
		m.destroy(p)
	}
	m.entries = make(map[K]P)

	m.logger.Debug("pool map cleared")
}

// Size reports the number of entries currently owned by the map. Pools
// handed to the dispatcher for destruction but not yet destroyed do not
// count.
func (m *Map[K, P]) Size() int {
	m.enter()
	defer m.leave()

	return len(m.entries)
}

// DrainConnections invokes DrainConnections on every currently-held
// pool, in iteration order. It is a no-op when the map is empty. Map
// keeps ownership of its pools; drained notifications are expected to
// arrive later, asynchronously, through the registered callbacks.
func (m *Map[K, P]) DrainConnections() {
	m.enter()
	defer m.leave()

	for _, p := range m.entries {
		p.DrainConnections()
	}

	m.logger.Debug("drain requested", zap.Int("size", len(m.entries)))
}

// AddDrainedCallback appends cb to the buffered callback list, then
// registers it on every currently-held pool. Every pool created by a
// later GetOrCreate call also receives cb. Each (callback, pool) pair
// fires independently; Map does not deduplicate invocations, so a
// subscriber watching N pools should expect up to N invocations of cb.
func (m *Map[K, P]) AddDrainedCallback(cb func()) {
	m.enter()
	defer m.leave()

	m.callbacks = append(m.callbacks, cb)
	for _, p := range m.entries {
		p.AddDrainedCallback(cb)
	}
}

// enter acquires the reentry guard. It panics if the guard is already
// held, which can only happen if a pool fired a callback synchronously
// from within one of Map's own methods and that callback called back
// into Map. That is forbidden: Map's methods iterate over their own
// storage, and a reentrant mutation would invalidate that iteration.
func (m *Map[K, P]) enter() {
	if m.entered {
		panic(fmt.Sprintf("connpool: reentrant call into Map (%T); a resource should only be entered once", m))
	}
	m.entered = true
}

// leave releases the reentry guard. It is always called via defer so
// that it runs on every exit path, including a panic unwinding through
// factory() or a pool method.
func (m *Map[K, P]) leave() {
	m.entered = false
}
