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
)

const defaultMaxEvents = 128

// collectAttempts bounds the "possible continuation" retries of phase 8:
// keep re-collecting without blocking while the backend signals more may
// already be queued, rather than waiting for a whole new cycle to drain
// a burst.
const collectAttempts = 3

// Junction owns a readiness facility and the ring of Channels attached
// to it, and drives the cycle engine: delta flush, subscription install,
// kernel collect, event transform, transfer dispatch, drain.
//
// Exactly one worker runs a Junction's I/O phase at a time; excl is the
// exclusive access token callers and the worker serialize on outside
// that phase (§5). There is no separate "host-provided" token in this
// port — the mutex plays that role directly.
type Junction struct {
	excl sync.Mutex

	ring  *ring
	ready readiness

	maxEvents int
	eventBuf  []readyEvent

	transferHead *Channel
	transferTail *Channel

	inCycle     bool
	willWait    bool
	terminating bool

	waiting atomic.Bool
}

// NewJunction opens the platform readiness facility and returns an empty
// Junction ready to Acquire Channels.
func NewJunction() (*Junction, error) {
	ready, err := openReadiness()
	if err != nil {
		return nil, err
	}
	return &Junction{
		ring:      newRing(),
		ready:     ready,
		maxEvents: defaultMaxEvents,
		eventBuf:  make([]readyEvent, defaultMaxEvents),
	}, nil
}

func (j *Junction) lockExclusive()   { j.excl.Lock() }
func (j *Junction) unlockExclusive() { j.excl.Unlock() }

// Len reports how many Channels are currently admitted to the ring.
func (j *Junction) Len() int { return j.ring.Len() }

// Acquire admits channel to the Junction's ring, taking ownership of its
// back-reference and scheduling a kernel subscription for the next
// cycle. Acquiring a Channel already owned by a different Junction is a
// ResourceError; acquiring into the same Junction twice, or acquiring a
// terminated Channel, is idempotent per §8's testable property.
func (j *Junction) Acquire(ch *Channel) error {
	ch.mu.Lock()
	if ch.junction != nil {
		owner := ch.junction
		ch.mu.Unlock()
		if owner == j {
			return nil
		}
		return newResourceError("acquire", "channel belongs to a different junction")
	}

	j.lockExclusive()
	ch.junction = j
	ch.ctl.set(ctrlConnect)
	ch.handle = j.ring.insert(ch)
	j.unlockExclusive()
	ch.mu.Unlock()
	return nil
}

// Force triggers the readiness facility's self-wakeup primitive and
// reports whether the Junction was blocked in collect when it fired —
// the caller's signal that the wakeup actually mattered.
func (j *Junction) Force() bool {
	was := j.waiting.Load()
	if j.ready != nil {
		j.ready.force()
	}
	return was
}

// Void is the destructive, event-less teardown used after fork: every
// ring member is disclaimed without delivering a terminate event and
// without closing the underlying descriptor, and the readiness object
// itself is torn down (a forked child's copy of the parent's kqueue/epoll
// fds is not usable).
func (j *Junction) Void() {
	j.lockExclusive()
	defer j.unlockExclusive()

	j.ring.each(func(ch *Channel) {
		ch.mu.Lock()
		ch.state = 0
		ch.ev = 0
		ch.ctl.set(ctrlVoided)
		ch.delta.Store(0)
		ch.port.RecordError(CallVoided, 0)
		ch.port.Leak()
		ch.resource = nil
		ch.link = nil
		ch.junction = nil
		ch.mu.Unlock()
	})
	j.ring = newRing()
	if j.ready != nil {
		j.ready.close()
		j.ready = nil
	}
}

// Terminate schedules every ring member for termination; the cycle
// engine drains them over one or more subsequent cycles.
func (j *Junction) Terminate() {
	j.lockExclusive()
	j.terminating = true
	j.unlockExclusive()
	j.Force()
}

// ResizeExoresource changes the kernel-event buffer capacity the collect
// phase reads into. Resizing mid-cycle is a protocol error.
func (j *Junction) ResizeExoresource(maxEvents int) error {
	j.lockExclusive()
	defer j.unlockExclusive()
	if j.inCycle {
		return newRuntimeError("resize_exoresource", "cannot resize while a cycle is running")
	}
	if maxEvents < 1 {
		maxEvents = 1
	}
	j.maxEvents = maxEvents
	j.eventBuf = make([]readyEvent, maxEvents)
	return nil
}

// BeginCycle runs phases 1-9 of §4.2.1: delta flush, subscription
// install, kernel collect, event transform, and transfer dispatch. It
// must be paired with exactly one EndCycle before the next BeginCycle.
func (j *Junction) BeginCycle() error {
	j.lockExclusive()
	if j.inCycle {
		j.unlockExclusive()
		return newRuntimeError("begin_cycle", "cycle already in progress")
	}
	j.inCycle = true
	j.transferHead, j.transferTail = nil, nil

	if j.terminating {
		j.ring.each(func(ch *Channel) {
			ch.publishDelta(func(d *delta) { d.setTerminate() })
		})
	}
	if j.ready == nil {
		ready, err := openReadiness()
		if err != nil {
			j.inCycle = false
			j.unlockExclusive()
			return err
		}
		j.ready = ready
		j.ring.each(func(ch *Channel) { ch.ctl.set(ctrlConnect) })
	}

	pending := j.flushDeltasLocked()
	j.willWait = !pending
	j.unlockExclusive()

	j.applySubscriptions()
	j.collectReadiness()
	j.runTransfers()
	return nil
}

// flushDeltasLocked is phase 2: merge every ring member's pending delta
// into state and prepend it to the transfer list. A member with no delta
// but a pending subscription (connect set) is prepended too, so phase 5
// installs it. Caller holds excl.
func (j *Junction) flushDeltasLocked() (pending bool) {
	j.ring.each(func(ch *Channel) {
		d := delta(ch.delta.Load())
		if d.isZero() {
			if ch.ctl.has(ctrlConnect) {
				j.transferPrepend(ch)
				pending = true
			}
			return
		}
		ch.delta.Store(0)
		if d.transfer() {
			ch.state.setITransfer(true)
		}
		if d.terminate() {
			ch.state.setITerminate(true)
		}
		j.transferPrepend(ch)
		pending = true
	})
	return pending
}

func (j *Junction) transferPrepend(ch *Channel) {
	if ch.onTransferList {
		return
	}
	ch.onTransferList = true
	ch.nextTransfer = j.transferHead
	j.transferHead = ch
	if j.transferTail == nil {
		j.transferTail = ch
	}
}

func (j *Junction) transferAppend(ch *Channel) {
	if ch.onTransferList {
		return
	}
	ch.onTransferList = true
	ch.nextTransfer = nil
	if j.transferTail == nil {
		j.transferHead, j.transferTail = ch, ch
		return
	}
	j.transferTail.nextTransfer = ch
	j.transferTail = ch
}

// spliceTransferList rebuilds the list keeping only Channels for which
// keep returns true, preserving relative order.
func (j *Junction) spliceTransferList(keep func(*Channel) bool) {
	var head, tail *Channel
	for ch := j.transferHead; ch != nil; {
		next := ch.nextTransfer
		if keep(ch) {
			ch.nextTransfer = nil
			if tail == nil {
				head = ch
			} else {
				tail.nextTransfer = ch
			}
			tail = ch
		} else {
			ch.onTransferList = false
			ch.nextTransfer = nil
		}
		ch = next
	}
	j.transferHead, j.transferTail = head, tail
}

// applySubscriptions is phase 5: install/clear the connect and force
// control latches, then drop any Channel from the list that no longer
// has a live event.
func (j *Junction) applySubscriptions() {
	for ch := j.transferHead; ch != nil; ch = ch.nextTransfer {
		if ch.ctl.has(ctrlConnect) {
			if ch.port.Descriptor() < 0 || !ch.port.Latched(ch.polarity) {
				ch.state.setXTerminate(true)
			} else if !ch.ctl.has(ctrlRequeue) {
				if err := j.ready.subscribe(ch.polarity, ch); err != nil {
					ch.port.RecordError(CallNone, errnoOf(err))
					ch.state.setXTerminate(true)
				}
			}
			ch.ctl.clear(ctrlConnect)
		}
		if ch.ctl.has(ctrlForce) {
			ch.ctl.clear(ctrlForce)
			ch.state.setXTransfer(true)
		}
	}
	j.spliceTransferList(func(ch *Channel) bool {
		return ch.state.transferReady() || ch.state.shouldTerminate()
	})
}

// collectReadiness is phases 6-8: block or poll the kernel, transform
// returned events into X qualifications, and re-collect without blocking
// while the backend reports more may already be queued.
func (j *Junction) collectReadiness() {
	block := j.willWait
	for attempt := 0; attempt < collectAttempts; attempt++ {
		if block {
			j.waiting.Store(true)
		}
		n, more, err := j.ready.collect(j.eventBuf, block)
		j.waiting.Store(false)
		block = false
		if err != nil {
			return
		}
		for i := 0; i < n; i++ {
			ev := j.eventBuf[i]
			ch := ev.channel
			if ch == nil {
				continue
			}
			if ev.terminate {
				ch.state.setXTerminate(true)
				if ev.errno != 0 {
					ch.port.RecordError(CallNone, ev.errno)
				}
				j.transferAppend(ch)
				continue
			}
			if ev.transfer {
				ch.state.setXTransfer(true)
				if ch.state.iTransfer() {
					j.transferAppend(ch)
				}
			}
		}
		if !more {
			break
		}
	}
}

// runTransfers is phase 9: dispatch the polarity's transfer function for
// every Channel whose qualification lattice says it's ready, or record a
// terminate event for every Channel whose lattice says it should stop.
func (j *Junction) runTransfers() {
	for ch := j.transferHead; ch != nil; ch = ch.nextTransfer {
		if ch.state.shouldTerminate() {
			if !ch.ctl.has(ctrlRequeue) {
				j.ready.unsubscribe(ch.polarity, ch)
			}
			ch.ev.setTerminate()
			continue
		}
		if ch.state.transferReady() {
			j.runOneTransfer(ch)
		}
	}
}

func (j *Junction) runOneTransfer(ch *Channel) {
	if ch.resource == nil {
		ch.state.setITransfer(false)
		return
	}

	var n int
	var status Status
	var errno int

	if ch.freight == FreightDatagrams {
		arr, ok := ch.resource.(*DatagramArray)
		if !ok {
			ch.state.setITransfer(false)
			return
		}
		if ch.polarity == Input {
			n, status, errno = datagramsRecv(ch.port.Descriptor(), arr, ch.stop, arr.Len())
		} else {
			n, status, errno = datagramsSend(ch.port.Descriptor(), arr, ch.stop, arr.Len())
		}
	} else {
		fn := ch.funcs.funcFor(ch.polarity)
		if fn == nil {
			ch.state.setITransfer(false)
			return
		}
		unit := ch.funcs.unit
		if unit == 0 {
			unit = 1
		}
		b := ch.resource.Bytes()
		lo := ch.stop
		if lo > len(b) {
			lo = len(b)
		}
		units, status2, errno2 := fn(ch.port.Descriptor(), b[lo:])
		n, status, errno = units, status2, errno2
	}

	if n > 0 {
		ch.stop += n
		ch.ev.setTransfer()
	}

	switch status {
	case Flow:
		ch.state.setITransfer(false)
	case Stop:
		ch.state.setXTransfer(false)
	case Terminate:
		ch.state.setXTerminate(true)
		ch.ev.setTerminate()
		if errno != 0 {
			ch.port.RecordError(callFor(ch.freight, ch.polarity), errno)
		}
		if !ch.ctl.has(ctrlRequeue) {
			j.ready.unsubscribe(ch.polarity, ch)
		}
	}
}

func callFor(f Freight, pol Polarity) Call {
	switch f {
	case FreightSockets:
		return CallAccept
	case FreightPorts:
		if pol == Input {
			return CallRecvmsg
		}
		return CallSendmsg
	case FreightDatagrams:
		if pol == Input {
			return CallRecvmmsg
		}
		return CallSendmmsg
	default:
		if pol == Input {
			return CallRead
		}
		return CallWrite
	}
}

// EndCycle is §4.2.2's drain: collapse each transferred Channel's window,
// commit termination or resource release, clear per-cycle events, and
// reset the transfer list.
func (j *Junction) EndCycle() error {
	j.lockExclusive()
	defer j.unlockExclusive()

	if !j.inCycle {
		return newRuntimeError("end_cycle", "no cycle in progress")
	}

	for ch := j.transferHead; ch != nil; {
		next := ch.nextTransfer
		ch.start = ch.stop

		if ch.ev.terminate() {
			j.ring.remove(ch.handle)
			ch.commitTerminationLocked()
			ch.junction = nil
		} else if !ch.state.iTransfer() && !delta(ch.delta.Load()).transfer() {
			ch.resource = nil
		}

		ch.ev = 0
		ch.onTransferList = false
		ch.nextTransfer = nil
		ch = next
	}

	j.transferHead, j.transferTail = nil, nil
	j.inCycle = false
	return nil
}

// Transfer returns a single-use iterator over this cycle's events. It
// must only be used between BeginCycle and EndCycle.
func (j *Junction) Transfer() *TransferIterator {
	return newTransferIterator(j)
}
