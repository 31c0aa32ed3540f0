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

// TransferIterator is the single-use, forward-only view over the
// Channels that produced an event during the cycle that just ran. It
// holds the cursor into the Junction's transfer list directly rather
// than copying it, so mutation the caller triggers mid-iteration (e.g.
// terminating a sibling Channel) is visible, matching §4.3.
type TransferIterator struct {
	junction *Junction
	cursor   *Channel
	started  bool
}

func newTransferIterator(j *Junction) *TransferIterator {
	return &TransferIterator{junction: j}
}

// Next advances the iterator and returns the next Channel with a
// non-zero events word, or ok == false when exhausted. Calling Next
// while no cycle is running is a RuntimeError; an iterator kept from an
// earlier cycle is not detected once a later cycle has begun.
func (it *TransferIterator) Next() (*Channel, bool, error) {
	if !it.junction.inCycle {
		return nil, false, newRuntimeError("transfer", "iterator used outside its cycle")
	}
	if !it.started {
		it.cursor = it.junction.transferHead
		it.started = true
	} else if it.cursor != nil {
		it.cursor = it.cursor.nextTransfer
	}
	for it.cursor != nil && it.cursor.ev.isZero() {
		it.cursor = it.cursor.nextTransfer
	}
	if it.cursor == nil {
		return nil, false, nil
	}
	return it.cursor, true, nil
}

// Each drains the iterator, calling fn once per Channel with a live
// event. It's a convenience wrapper for the common "observe everything
// this cycle produced" loop.
func (it *TransferIterator) Each(fn func(*Channel)) error {
	for {
		ch, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fn(ch)
	}
}
