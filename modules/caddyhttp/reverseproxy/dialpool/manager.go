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

package dialpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/caddyserver/caddy/v2/modules/caddyhttp/reverseproxy/connpool"
)

var poolsDestroyed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: metricsSubsystem,
	Name:      "pools_destroyed_total",
	Help:      "Total number of dial pools handed to the dispatcher for deferred destruction, whether by eviction or by Clear.",
})

// Manager owns one connpool.Map keyed by upstream destination, giving
// the reverse proxy's upstream subsystem a single place to look up (or
// lazily build) the dial pool for a destination.
type Manager struct {
	dispatcher connpool.Dispatcher
	pools      *connpool.Map[Key, *Pool]
}

// NewManager returns a Manager whose pools are destroyed through
// dispatcher when evicted or cleared, never admitting more than limit
// concurrent pools (0 or less means unbounded). The same dispatcher is
// handed to every Pool it builds, so a Pool's already-drained callback
// fire (see Pool.AddDrainedCallback) defers through it too.
func NewManager(dispatcher connpool.Dispatcher, limit int, logger *zap.Logger) *Manager {
	pools := connpool.NewMap[Key, *Pool](countingDispatcher{Dispatcher: dispatcher}, limit)
	pools.SetLogger(logger)
	return &Manager{dispatcher: dispatcher, pools: pools}
}

// GetOrDial returns the pool for cfg.Key, building it with cfg if it
// doesn't exist yet. ok is false only when the manager's capacity limit
// has been reached and no idle pool could be evicted to make room. If
// cfg.Dispatcher is nil, the manager's own dispatcher is used.
func (m *Manager) GetOrDial(cfg Config) (pool *Pool, ok bool, err error) {
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = m.dispatcher
	}
	return m.pools.GetOrCreate(cfg.Key, func() (*Pool, error) {
		return New(cfg), nil
	})
}

// DrainAll requests that every pool the manager owns drain its
// connections, for example as part of a graceful configuration reload.
func (m *Manager) DrainAll() {
	m.pools.DrainConnections()
}

// Size reports the number of distinct destinations the manager
// currently holds a pool for.
func (m *Manager) Size() int {
	return m.pools.Size()
}

// countingDispatcher wraps a connpool.Dispatcher to count deferred
// destructions in the pools_destroyed_total metric, without requiring
// connpool itself to take on a Prometheus dependency.
type countingDispatcher struct {
	connpool.Dispatcher
}

func (c countingDispatcher) Defer(fn func()) {
	poolsDestroyed.Inc()
	c.Dispatcher.Defer(fn)
}
