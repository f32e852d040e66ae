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

import "sync"

// QueueDispatcher is a Dispatcher backed by a single worker goroutine
// that runs deferred jobs in submission order. It is the Go stand-in for
// the per-thread event loop this package's design assumes: Go has no
// built-in cooperative dispatcher, so QueueDispatcher models "destroyed
// after the current stack unwinds and the loop regains control" with a
// goroutine draining a growable, mutex-guarded job queue.
//
// Defer never blocks the caller. The zero value is not usable; call
// NewQueueDispatcher.
type QueueDispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []func()
	closing bool
	done    chan struct{}
}

// NewQueueDispatcher starts a QueueDispatcher's worker goroutine and
// returns it. Call Close to stop the worker once the dispatcher is no
// longer needed; any jobs submitted before Close is called are still
// run before the worker exits.
func NewQueueDispatcher() *QueueDispatcher {
	d := &QueueDispatcher{
		done: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// Defer appends fn to the queue and wakes the worker. It never blocks.
func (d *QueueDispatcher) Defer(fn func()) {
	d.mu.Lock()
	d.jobs = append(d.jobs, fn)
	d.mu.Unlock()
	d.cond.Signal()
}

// Close stops the worker after it finishes draining any jobs already
// queued. It does not wait for in-flight jobs submitted concurrently
// with Close to be picked up.
func (d *QueueDispatcher) Close() {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()
	d.cond.Signal()
	<-d.done
}

func (d *QueueDispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.jobs) == 0 && !d.closing {
			d.cond.Wait()
		}
		if len(d.jobs) == 0 && d.closing {
			d.mu.Unlock()
			return
		}
		job := d.jobs[0]
		d.jobs = d.jobs[1:]
		d.mu.Unlock()

		job()
	}
}

// Interface guard.
var _ Dispatcher = (*QueueDispatcher)(nil)
