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

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Channel is one polarized endpoint of data flow over a Port. A Channel
// is either standalone (detached, junction == nil) or admitted to exactly
// one Junction's ring; which state it's in governs whether Channel
// methods take the Channel's own mutex or must go through the Junction's
// exclusive access token (see junction.go).
type Channel struct {
	polarity Polarity
	port     *Port
	freight  Freight
	funcs    unitFuncs

	junction *Junction
	handle   ringHandle

	// mu guards everything below while the Channel is detached. Once
	// attached, the Junction's exclusive token takes over and mu is not
	// used for state/window/resource — only delta stays safe to touch
	// from any goroutine, which is why it's a separate atomic word.
	mu       sync.Mutex
	resource Resource
	start    int
	stop     int
	state    qualify
	ev       events
	ctl      control
	link     interface{}

	delta atomic.Uint32 // low byte is the delta bits; rest unused

	onTransferList bool
	nextTransfer   *Channel
}

// newChannel builds a detached Channel over port. If the Port recorded an
// error (descriptor == -1), the Channel is born with X.terminate already
// set, per the lifecycle rule that a bad Port yields exactly one
// terminate event on first acquisition.
func newChannel(pol Polarity, port *Port) *Channel {
	c := &Channel{polarity: pol, port: port, freight: port.Freight(), funcs: funcsFor(port.Freight())}
	if port.Descriptor() < 0 {
		c.state.setXTerminate(true)
	}
	return c
}

func (c *Channel) lock() {
	if c.junction != nil {
		c.junction.lockExclusive()
		return
	}
	c.mu.Lock()
}

func (c *Channel) unlock() {
	if c.junction != nil {
		c.junction.unlockExclusive()
		return
	}
	c.mu.Unlock()
}

// Polarity returns the direction the Channel was created for.
func (c *Channel) Polarity() Polarity { return c.polarity }

// Port returns the shared kernel-resource handle.
func (c *Channel) Port() *Port { return c.port }

// Junction returns the Junction the Channel is currently admitted to, or
// nil if detached.
func (c *Channel) Junction() *Junction {
	c.lock()
	defer c.unlock()
	return c.junction
}

// Link returns the caller's opaque tag, untouched by the engine.
func (c *Channel) Link() interface{} {
	c.lock()
	defer c.unlock()
	return c.link
}

// SetLink sets the caller's opaque tag.
func (c *Channel) SetLink(v interface{}) {
	c.lock()
	c.link = v
	c.unlock()
}

// Resource returns the currently borrowed buffer, or nil if none.
func (c *Channel) Resource() Resource {
	c.lock()
	defer c.unlock()
	return c.resource
}

// Terminated reports whether the Channel has committed termination: no
// Junction, no resource, and its polarity no longer latched on the Port.
func (c *Channel) Terminated() bool {
	c.lock()
	defer c.unlock()
	return c.terminatedLocked()
}

func (c *Channel) terminatedLocked() bool {
	return c.junction == nil && c.resource == nil && !c.port.Latched(c.polarity)
}

// Exhausted reports whether the Channel holds no resource because its
// last one ran out without being replaced — distinct from termination,
// the Channel is still perfectly usable.
func (c *Channel) Exhausted() bool {
	c.lock()
	defer c.unlock()
	return c.resource == nil && c.junction != nil
}

// Acquire borrows resource's memory for transfer. See §4.1: replacing a
// resource before the previous one has exhausted is a ResourceError;
// acquiring into a terminating Channel is a silent no-op.
func (c *Channel) Acquire(resource Resource) error {
	c.lock()
	defer c.unlock()

	if c.state.shouldTerminate() || delta(c.delta.Load()).terminate() {
		return nil
	}
	if c.state.iTransfer() {
		return newResourceError("acquire", "resource not exhausted")
	}

	c.resource = resource
	c.start, c.stop = 0, 0

	if c.junction == nil {
		c.state.setITransfer(true)
		return nil
	}
	c.publishDelta(func(d *delta) { d.setTransfer() })
	c.junction.Force()
	return nil
}

// Force arranges for the next cycle to synthesize a zero-length transfer
// event on this Channel, so the caller can observe its current readiness
// without having new data to move.
func (c *Channel) Force() {
	c.lock()
	c.ctl.set(ctrlForce)
	j := c.junction
	c.unlock()
	if j != nil {
		j.Force()
	}
}

// Transfer returns the slice of the resource moved this cycle (the
// resource's byte view over the window's start and stop offsets), or nil
// if no transfer event fired. Valid only between a Junction's begin_cycle
// and end_cycle.
func (c *Channel) Transfer() []byte {
	c.lock()
	defer c.unlock()
	if !c.ev.transfer() || c.resource == nil {
		return nil
	}
	b := c.resource.Bytes()
	lo, hi := c.start, c.stop
	if hi > len(b) {
		hi = len(b)
	}
	if lo > hi {
		lo = hi
	}
	return b[lo:hi]
}

// Slice returns the current window regardless of whether an event fired.
func (c *Channel) Slice() (start, stop int) {
	c.lock()
	defer c.unlock()
	return c.start, c.stop
}

// SizeofTransfer returns stop-start in bytes if a transfer event fired
// this cycle, else 0.
func (c *Channel) SizeofTransfer() int {
	c.lock()
	defer c.unlock()
	if !c.ev.transfer() {
		return 0
	}
	return c.stop - c.start
}

// Terminate ends the Channel. Detached Channels terminate synchronously;
// attached ones publish the terminate delta for the worker to pick up on
// the next delta flush.
func (c *Channel) Terminate() {
	c.lock()
	if c.junction == nil {
		c.commitTerminationLocked()
		c.unlock()
		return
	}
	c.publishDelta(func(d *delta) { d.setTerminate() })
	j := c.junction
	c.unlock()
	j.Force()
}

// commitTerminationLocked releases the resource/link, unlatches the
// port for this polarity, and clears lattice state. Caller must hold the
// Channel's lock (or the Junction's exclusive token if attached).
func (c *Channel) commitTerminationLocked() {
	c.resource = nil
	c.link = nil
	c.state = 0
	c.ctl = 0
	_ = c.port.Unlatch(c.polarity)
}

func (c *Channel) publishDelta(mutate func(*delta)) {
	for {
		old := c.delta.Load()
		d := delta(old)
		mutate(&d)
		if c.delta.CompareAndSwap(old, uint32(d)) {
			return
		}
	}
}

// Endpoint queries the kernel for this Channel's address: the locally
// bound address for an Input Channel, the remote peer for an Output one.
// Anonymous local sockets report peer credentials instead of an address.
func (c *Channel) Endpoint() (Endpoint, error) {
	fd := c.port.Descriptor()
	if fd < 0 {
		return Endpoint{}, newResourceError("endpoint", "port is closed")
	}
	var sa unix.Sockaddr
	var err error
	if c.polarity == Input {
		sa, err = unix.Getsockname(fd)
	} else {
		sa, err = unix.Getpeername(fd)
	}
	if err != nil {
		if uid, gid, perr := localPeerCredentials(fd); perr == nil {
			return Endpoint{Domain: DomainLocal, HasPair: true, UID: uid, GID: gid}, nil
		}
		return Endpoint{}, err
	}
	ep, err := endpointFromSockaddr(sa)
	if err != nil {
		return Endpoint{}, err
	}
	if ep.Domain == DomainLocal {
		if uid, gid, perr := localPeerCredentials(fd); perr == nil {
			ep.HasPair = true
			ep.UID, ep.GID = uid, gid
		}
	}
	return ep, nil
}

// ResizeExoresource adjusts the kernel-side buffer backing this Channel:
// SO_SNDBUF/SO_RCVBUF for a stream socket, the listen backlog for a
// sockets-freight listener, a no-op for everything else.
func (c *Channel) ResizeExoresource(n int) error {
	fd := c.port.Descriptor()
	if fd < 0 {
		return newResourceError("resize_exoresource", "port is closed")
	}
	switch c.freight {
	case FreightSockets:
		err := unix.Listen(fd, n)
		if err != nil {
			c.port.RecordError(CallListen, errnoOf(err))
		}
		return err
	case FreightOctets:
		opt := unix.SO_RCVBUF
		if c.polarity == Output {
			opt = unix.SO_SNDBUF
		}
		err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, opt, n)
		if err != nil {
			c.port.RecordError(CallSetsockopt, errnoOf(err))
		}
		return err
	default:
		return nil
	}
}
