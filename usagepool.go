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

package caddy

import "sync"

// Destructor is a type that can clean itself up when it's no longer
// needed.
type Destructor interface {
	Destruct() error
}

// UsagePool is a thread-safe data structure for managing values whose
// use is shared across an application. A used value is wrapped in a
// reference count, and when the last reference is deleted, the value is
// destructed (if it implements Destructor). This is useful for sharing
// values between modules that each need their own reference to it (for
// example, a storage backend or a TLS config that multiple modules
// consume), without duplicating the underlying resource.
//
// An empty UsagePool is NOT valid; use NewUsagePool() to get one.
type UsagePool struct {
	sync.RWMutex
	pool map[any]*usagePoolVal
}

// usagePoolVal is a value in a UsagePool.
type usagePoolVal struct {
	value any
	refs  int32 // atomically updated
}

// NewUsagePool returns a new, ready-to-use UsagePool.
func NewUsagePool() *UsagePool {
	return &UsagePool{pool: make(map[any]*usagePoolVal)}
}

// LoadOrNew loads the value associated with key from the pool if it
// already exists, adding a reference to it and returning loaded=true.
// Otherwise, construct calls construct() to obtain a new value,
// associates it with key with a single reference, and returns
// loaded=false. If construct() returns an error, nothing is added to
// the pool and the error is returned.
func (up *UsagePool) LoadOrNew(key any, construct func() (Destructor, error)) (value any, loaded bool, err error) {
	up.Lock()
	defer up.Unlock()

	if upv, ok := up.pool[key]; ok {
		upv.refs++
		return upv.value, true, nil
	}

	val, err := construct()
	if err != nil {
		return nil, false, err
	}

	up.pool[key] = &usagePoolVal{value: val, refs: 1}

	return val, false, nil
}

// LoadOrStore loads the value associated with key from the pool, adding
// a reference to it and returning loaded=true, if it already exists.
// Otherwise, it stores value, associates it with key with a single
// reference, and returns loaded=false.
func (up *UsagePool) LoadOrStore(key, value any) (actual any, loaded bool) {
	up.Lock()
	defer up.Unlock()

	if upv, ok := up.pool[key]; ok {
		upv.refs++
		return upv.value, true
	}

	up.pool[key] = &usagePoolVal{value: value, refs: 1}

	return value, false
}

// References returns the number of references to key currently in the
// pool, and whether key exists at all.
func (up *UsagePool) References(key any) (count int32, exists bool) {
	up.RLock()
	defer up.RUnlock()
	upv, exists := up.pool[key]
	if !exists {
		return 0, false
	}
	return upv.refs, true
}

// Delete decrements the reference count for key. If that brings the
// reference count to 0, the value is removed from the pool and, if it
// implements Destructor, Destruct() is called on it; deleted reports
// whether that happened. err carries the result of Destruct(), if it
// was called. Deleting a key that doesn't exist in the pool is a no-op.
func (up *UsagePool) Delete(key any) (deleted bool, err error) {
	up.Lock()
	upv, ok := up.pool[key]
	if !ok {
		up.Unlock()
		return false, nil
	}

	upv.refs--
	if upv.refs > 0 {
		up.Unlock()
		return false, nil
	}

	delete(up.pool, key)
	up.Unlock()

	if upv.refs < 0 {
		panic("Delete: reference count went below zero")
	}

	if destructor, ok := upv.value.(Destructor); ok {
		err = destructor.Destruct()
	}

	return true, err
}

// Range iterates the pool, calling f for every key/value pair. Ranging
// stops early if f returns false. Range does not skip values that
// failed construction (those were never added to the pool, so there is
// nothing to range over for them in the first place).
func (up *UsagePool) Range(f func(key, value any) bool) {
	up.RLock()
	defer up.RUnlock()
	for key, upv := range up.pool {
		if !f(key, upv.value) {
			break
		}
	}
}
