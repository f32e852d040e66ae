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

// Package dialpool is a concrete connpool.Pool for the reverse proxy's
// upstream subsystem: it dials real TCP (optionally TLS) connections to
// a single upstream destination and hands them back out for reuse,
// giving connpool.Map's otherwise-opaque Pool contract a genuine body.
package dialpool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/caddyserver/caddy/v2/modules/caddyhttp/reverseproxy/connpool"
)

const (
	metricsNamespace = "caddy"
	metricsSubsystem = "dialpool"
)

var (
	activeConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "active_connections",
		Help:      "Number of connections currently checked out of a dial pool.",
	}, []string{"network", "address"})

	idleConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "idle_connections",
		Help:      "Number of idle connections currently held by a dial pool.",
	}, []string{"network", "address"})
)

// Key identifies a dial pool. Upstream destinations that share a network
// and address but differ in negotiated protocol (the "protocol variant"
// dimension spec.md names as a motivating example) get distinct pools,
// since a connection negotiated for one protocol generally cannot be
// reused for another.
type Key struct {
	Network  string
	Address  string
	Protocol string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Network, k.Address, k.Protocol)
}

// Config configures a Pool.
type Config struct {
	Key

	// TLSConfig, if non-nil, causes Dial to perform a TLS handshake
	// after the raw connection is established. A nil TLSConfig means
	// plaintext.
	//
	// If TLSFingerprint is also set, TLSConfig is only consulted the
	// first time that fingerprint is acquired; every later Pool built
	// with the same fingerprint reuses the already-built *tls.Config
	// (see acquireTLSConfig) and may leave TLSConfig nil.
	TLSConfig *tls.Config

	// TLSFingerprint identifies a *tls.Config worth sharing across
	// destinations, for example a hash of the CA bundle and server
	// name that every upstream in a cluster trusts alike. Leave it
	// empty to give each Pool its own independent TLSConfig.
	TLSFingerprint string

	// DialTimeout bounds how long a single dial may take. Zero means no
	// explicit timeout beyond ctx's own deadline, if any.
	DialTimeout time.Duration

	// Dispatcher, if set, is used to defer the already-drained fire in
	// AddDrainedCallback so it never runs on the caller's own stack
	// frame. Manager passes the same dispatcher it gives the owning
	// connpool.Map. A nil Dispatcher falls back to a bare goroutine.
	Dispatcher connpool.Dispatcher
}

// Pool dials and reuses connections to a single upstream destination. It
// implements connpool.Pool so a connpool.Map can own a keyed collection
// of Pools, one per upstream destination.
type Pool struct {
	cfg        Config
	tlsConfig  *tls.Config
	dispatcher connpool.Dispatcher

	mu           sync.Mutex
	idle         []net.Conn
	active       int
	draining     bool
	drainedFired bool
	callbacks    []func()
}

// New returns a Pool for cfg. No connections are dialed until Dial is
// called. If cfg.TLSFingerprint is set, New acquires (and Close later
// releases) a shared *tls.Config for that fingerprint instead of using
// cfg.TLSConfig directly.
func New(cfg Config) *Pool {
	tlsConfig := cfg.TLSConfig
	if cfg.TLSFingerprint != "" {
		tlsConfig = acquireTLSConfig(cfg.TLSFingerprint, cfg.TLSConfig)
	}
	return &Pool{cfg: cfg, tlsConfig: tlsConfig, dispatcher: cfg.Dispatcher}
}

// Dial returns a connection to the pool's destination, reusing an idle
// one if available. The returned net.Conn's Close method returns the
// connection to the pool instead of closing the underlying socket,
// unless the pool is draining, in which case it is closed for real.
func (p *Pool) Dial(ctx context.Context) (net.Conn, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.active++
		p.mu.Unlock()
		p.updateGauges()
		return &pooledConn{Conn: conn, pool: p}, nil
	}
	p.active++
	p.mu.Unlock()
	p.updateGauges()

	conn, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		p.updateGauges()
		return nil, fmt.Errorf("dialpool: dial %s: %w", p.cfg.Key, err)
	}

	return &pooledConn{Conn: conn, pool: p}, nil
}

func (p *Pool) dial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: p.cfg.DialTimeout}
	if p.tlsConfig == nil {
		return d.DialContext(ctx, p.cfg.Network, p.cfg.Address)
	}
	tlsDialer := &tls.Dialer{NetDialer: d, Config: p.tlsConfig}
	return tlsDialer.DialContext(ctx, p.cfg.Network, p.cfg.Address)
}

// HasActiveConnections reports whether any connection dialed by this
// pool is currently checked out.
func (p *Pool) HasActiveConnections() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active > 0
}

// DrainConnections closes every idle connection immediately and marks
// the pool as draining, so that the next release of an active
// connection that brings the active count to zero fires every
// registered drained callback exactly once. Calling DrainConnections
// again while already draining is a no-op, matching the idempotence
// spec.md requires of Pool.DrainConnections.
func (p *Pool) DrainConnections() {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	idle := p.idle
	p.idle = nil

	var toFire []func()
	if p.active == 0 && !p.drainedFired {
		p.drainedFired = true
		toFire = p.callbacks
	}
	p.mu.Unlock()
	p.updateGauges()

	for _, c := range idle {
		_ = c.Close()
	}
	for _, cb := range toFire {
		cb()
	}
}

// AddDrainedCallback registers cb to run once the pool has been told to
// drain and has no active connections left. If that condition already
// holds, cb still never runs synchronously from this call: per
// connpool.Pool's documented contract, AddDrainedCallback must not
// invoke cb on the caller's own stack frame (a caller reached through
// one of Map's own methods could otherwise trip Map's reentry guard),
// so the already-drained fire is deferred the same way a newly-drained
// fire is: through deferCallback.
func (p *Pool) AddDrainedCallback(cb func()) {
	p.mu.Lock()
	alreadyDrained := p.draining && p.active == 0 && p.drainedFired
	if !alreadyDrained {
		p.callbacks = append(p.callbacks, cb)
	}
	p.mu.Unlock()

	if alreadyDrained {
		p.deferCallback(cb)
	}
}

// deferCallback runs cb off the caller's own stack frame, preferring
// the pool's dispatcher (so it shares the same deferred-execution path
// as connpool.Map's destructions) and falling back to a bare goroutine
// when no dispatcher was configured.
func (p *Pool) deferCallback(cb func()) {
	if p.dispatcher != nil {
		p.dispatcher.Defer(cb)
		return
	}
	go cb()
}

// Close closes every idle connection held by the pool and releases its
// reference to any shared TLS config it acquired. It implements
// io.Closer so that connpool.Map's deferred-destruction step picks it
// up automatically when the pool is evicted or the map is cleared.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	p.updateGauges()

	for _, c := range idle {
		_ = c.Close()
	}
	if p.cfg.TLSFingerprint != "" {
		releaseTLSConfig(p.cfg.TLSFingerprint)
	}
	return nil
}

func (p *Pool) updateGauges() {
	p.mu.Lock()
	active, idle := p.active, len(p.idle)
	p.mu.Unlock()

	activeConnections.WithLabelValues(p.cfg.Network, p.cfg.Address).Set(float64(active))
	idleConnections.WithLabelValues(p.cfg.Network, p.cfg.Address).Set(float64(idle))
}

// release returns conn to the idle set, unless the pool is draining, in
// which case conn is closed for real. It fires drained callbacks if
// this release is what brings the active count to zero on a draining
// pool.
func (p *Pool) release(conn net.Conn) {
	p.mu.Lock()
	p.active--

	var closeForReal bool
	var toFire []func()
	if p.draining {
		closeForReal = true
		if p.active == 0 && !p.drainedFired {
			p.drainedFired = true
			toFire = p.callbacks
		}
	} else {
		p.idle = append(p.idle, conn)
	}
	p.mu.Unlock()
	p.updateGauges()

	if closeForReal {
		_ = conn.Close()
	}
	for _, cb := range toFire {
		cb()
	}
}

// pooledConn wraps a dialed net.Conn so that Close returns it to the
// owning Pool instead of tearing down the socket.
type pooledConn struct {
	net.Conn
	pool *Pool
}

func (c *pooledConn) Close() error {
	c.pool.release(c.Conn)
	return nil
}
