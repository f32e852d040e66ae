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
	"crypto/tls"

	"github.com/caddyserver/caddy/v2"
)

// sharedTLSConfigs deduplicates *tls.Config values across dial pools
// that present the same fingerprint, the same way listeners.go and
// logging.go share listeners and log writers through a UsagePool: many
// upstream destinations behind the same cluster commonly trust the
// same CA bundle and negotiate the same server name, so there is no
// reason for every dialpool.Pool dialing that cluster to hold (and
// have validated) its own independent copy.
var sharedTLSConfigs = caddy.NewUsagePool()

// tlsConfigKey identifies a reusable *tls.Config by a caller-supplied
// fingerprint rather than by its field values, since *tls.Config
// embeds function values and comparing one directly isn't possible.
type tlsConfigKey string

// tlsConfigHandle adapts a *tls.Config to caddy.Destructor. A
// tls.Config owns no resources of its own to release; Destruct is a
// no-op, kept only so the shared value satisfies the interface
// UsagePool checks for when the last reference is deleted.
type tlsConfigHandle struct {
	config *tls.Config
}

func (tlsConfigHandle) Destruct() error { return nil }

// acquireTLSConfig returns the *tls.Config shared under fingerprint,
// registering cfg as that shared value the first time fingerprint is
// seen. Every successful acquireTLSConfig must be matched by a later
// releaseTLSConfig once the acquiring Pool is closed.
func acquireTLSConfig(fingerprint string, cfg *tls.Config) *tls.Config {
	val, _, _ := sharedTLSConfigs.LoadOrNew(tlsConfigKey(fingerprint), func() (caddy.Destructor, error) {
		return tlsConfigHandle{config: cfg}, nil
	})
	return val.(tlsConfigHandle).config
}

// releaseTLSConfig drops one reference to the shared config registered
// under fingerprint, destructing it once the last reference is gone.
func releaseTLSConfig(fingerprint string) {
	_, _ = sharedTLSConfigs.Delete(tlsConfigKey(fingerprint))
}
