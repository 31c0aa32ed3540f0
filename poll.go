/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package junction

import "sync"

// readyEvent is one readiness notification transformed out of whatever
// shape the platform backend returned it in (a kevent, or an epoll_event
// off one of the two epoll fds). Junction's begin_cycle phase 7 reads
// these to set X.transfer/X.terminate on the right Channel.
type readyEvent struct {
	channel   *Channel
	transfer  bool
	terminate bool
	errno     int
}

// readiness is the platform-specific readiness facility a Junction owns:
// kqueue on BSD/Darwin, two epoll instances plus an eventfd on Linux. It
// is deliberately narrow — install/remove one polarity's subscription,
// collect a batch of events, and the self-wakeup primitive force() rides
// on.
type readiness interface {
	subscribe(pol Polarity, ch *Channel) error
	unsubscribe(pol Polarity, ch *Channel) error
	// collect blocks (if block is true and nothing is already pending)
	// until at least one event is ready or force() is called, appending
	// results to buf. more reports whether the backend believes
	// additional events may already be queued (the "possible
	// continuation" of phase 8) and collect should be called again
	// without blocking.
	collect(buf []readyEvent, block bool) (n int, more bool, err error)
	// force triggers the self-wakeup primitive. Safe from any goroutine.
	force()
	close() error
}

// fdRegistry maps a raw descriptor to the Channel currently subscribed
// for one polarity on one readiness backend. Kernel event structures
// only round-trip a small fixed-width token (an fd, not a pointer) back
// to userspace, so this is how a collected event finds its Channel
// without trusting the kernel to hand back a live Go pointer.
type fdRegistry struct {
	mu sync.Mutex
	m  map[int]*Channel
}

func newFDRegistry() *fdRegistry {
	return &fdRegistry{m: make(map[int]*Channel)}
}

func (r *fdRegistry) set(fd int, ch *Channel) {
	r.mu.Lock()
	r.m[fd] = ch
	r.mu.Unlock()
}

func (r *fdRegistry) delete(fd int) {
	r.mu.Lock()
	delete(r.m, fd)
	r.mu.Unlock()
}

func (r *fdRegistry) get(fd int) *Channel {
	r.mu.Lock()
	ch := r.m[fd]
	r.mu.Unlock()
	return ch
}

// openReadiness builds the platform-appropriate backend. Implemented in
// poll_linux.go and poll_bsd.go.
