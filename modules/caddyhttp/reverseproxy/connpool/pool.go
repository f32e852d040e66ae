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

// Package connpool provides a keyed container of connection pools for
// the reverse proxy's upstream subsystem. For each distinct key it
// lazily constructs and owns exactly one pool; repeat lookups with an
// equal key return the same pool. It also fans drain requests out to
// every pool it owns, fans drained notifications back in to any number
// of subscribers, and, when given a capacity bound, evicts idle pools
// to admit new ones.
//
// connpool treats pools as opaque: it knows nothing about what a Pool
// does with its connections, only the three capabilities in the Pool
// interface below.
package connpool

// Pool is the capability set connpool.Map requires from a managed pool.
// Implementations are expected to be connection pools for some upstream
// destination, but connpool never assumes anything about the protocol.
type Pool interface {
	// HasActiveConnections reports whether the pool currently holds
	// traffic-bearing state. It must be a cheap, side-effect-free query;
	// Map calls it during eviction for every candidate pool.
	HasActiveConnections() bool

	// DrainConnections requests that the pool close its idle connections
	// and finish its active ones. It must be idempotent: calling it
	// more than once has the same observable effect as calling it once.
	DrainConnections()

	// AddDrainedCallback registers cb to be invoked once the pool has no
	// further active or pending connections. A pool may invoke a given
	// cb at most once. Implementations must not invoke cb synchronously
	// from within AddDrainedCallback itself, since Map forbids reentrant
	// calls into its own public methods (see Map's doc comment).
	AddDrainedCallback(cb func())
}

// Factory produces a new, owned pool. Map calls a Factory at most once
// per GetOrCreate call, and only when a new entry must be created.
type Factory[P Pool] func() (P, error)

// Dispatcher accepts ownership of a value for deferred destruction. Map
// uses it so that a pool's destruction never runs synchronously inside
// one of Map's public methods, which would risk reentrancy if the
// pool's teardown touches anything Map is still iterating over.
type Dispatcher interface {
	// Defer schedules fn to run after the current call stack unwinds.
	// Defer itself must never block.
	Defer(fn func())
}
