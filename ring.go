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

// ringBlockSize is how many slots the arena grows by at a time, mirroring
// the block-allocation growth policy of a slab cache: amortize the
// allocation cost instead of growing one slot per Channel.
const ringBlockSize = 256

const ringNil int32 = -1

// ringHandle is the stable identity a Channel gets back from Junction's
// ring. It never changes for the life of the Channel and is cheap enough
// to copy by value; staleness after termination is caught by comparing
// generation against the slot's current one rather than by chasing a
// freed pointer.
type ringHandle struct {
	index      int32
	generation uint32
}

func (h ringHandle) valid() bool { return h.index != ringNil }

// ringSlot is one arena cell. Free slots only ever touch generation and
// the freelist; occupied slots carry the ring's doubly-linked membership
// and a back-reference to the Channel occupying the slot.
type ringSlot struct {
	generation uint32
	occupied   bool
	next, prev int32
	channel    *Channel
}

// ring is the generational-index arena backing Junction's Channel
// membership. It plays the role the teacher's pollCache plays for
// *fdOperator — a slab of pre-sized cells plus a freelist — reshaped so
// that what callers hold is a small value handle instead of a raw
// pointer, and so that a handle outliving its Channel's termination is
// detectable instead of a dangling reference.
type ring struct {
	mu       sync.Mutex
	slots    []ringSlot
	freelist []int32
	head     int32
	size     int
}

func newRing() *ring {
	return &ring{head: ringNil}
}

// grow appends one more block of free slots to the arena.
func (r *ring) grow() {
	base := int32(len(r.slots))
	for i := int32(0); i < ringBlockSize; i++ {
		r.slots = append(r.slots, ringSlot{next: ringNil, prev: ringNil})
		r.freelist = append(r.freelist, base+i)
	}
}

// insert admits ch into the ring, returning the handle it's now known by.
// The Channel is linked at the tail so iteration order (each) matches
// admission order.
func (r *ring) insert(ch *Channel) ringHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.freelist) == 0 {
		r.grow()
	}
	idx := r.freelist[len(r.freelist)-1]
	r.freelist = r.freelist[:len(r.freelist)-1]

	slot := &r.slots[idx]
	slot.occupied = true
	slot.channel = ch
	slot.next = ringNil
	slot.prev = ringNil

	if r.head == ringNil {
		r.head = idx
		slot.next = idx
		slot.prev = idx
	} else {
		tail := r.slots[r.head].prev
		slot.prev = tail
		slot.next = r.head
		r.slots[tail].next = idx
		r.slots[r.head].prev = idx
	}
	r.size++

	return ringHandle{index: idx, generation: slot.generation}
}

// remove evicts the Channel at h from the ring and bumps the slot's
// generation so any handle copy still referencing it is now stale.
func (r *ring) remove(h ringHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.validLocked(h) {
		return
	}
	slot := &r.slots[h.index]

	if slot.next == h.index {
		r.head = ringNil
	} else {
		r.slots[slot.prev].next = slot.next
		r.slots[slot.next].prev = slot.prev
		if r.head == h.index {
			r.head = slot.next
		}
	}

	slot.occupied = false
	slot.channel = nil
	slot.next = ringNil
	slot.prev = ringNil
	slot.generation++
	r.size--

	r.freelist = append(r.freelist, h.index)
}

func (r *ring) validLocked(h ringHandle) bool {
	if h.index < 0 || int(h.index) >= len(r.slots) {
		return false
	}
	slot := &r.slots[h.index]
	return slot.occupied && slot.generation == h.generation
}

// channel resolves a handle back to its Channel, or nil if the handle is
// stale (the slot was freed and possibly reused by another Channel).
func (r *ring) channel(h ringHandle) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.validLocked(h) {
		return nil
	}
	return r.slots[h.index].channel
}

// Len returns the number of Channels currently admitted to the ring.
func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// each calls fn once per admitted Channel, in ring order, starting from
// head. It snapshots the membership under the lock before calling out so
// fn is free to mutate the ring (terminate other Channels) without
// deadlocking or corrupting iteration.
func (r *ring) each(fn func(*Channel)) {
	r.mu.Lock()
	snapshot := make([]*Channel, 0, r.size)
	if r.head != ringNil {
		idx := r.head
		for {
			snapshot = append(snapshot, r.slots[idx].channel)
			idx = r.slots[idx].next
			if idx == r.head {
				break
			}
		}
	}
	r.mu.Unlock()

	for _, ch := range snapshot {
		fn(ch)
	}
}
