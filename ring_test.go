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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingInsertRemove(t *testing.T) {
	r := newRing()
	a := &Channel{}
	b := &Channel{}

	ha := r.insert(a)
	hb := r.insert(b)
	require.Equal(t, 2, r.Len())
	require.Same(t, a, r.channel(ha))
	require.Same(t, b, r.channel(hb))

	r.remove(ha)
	require.Equal(t, 1, r.Len())
	require.Nil(t, r.channel(ha))
	require.Same(t, b, r.channel(hb))
}

func TestRingHandleStaleAfterReuse(t *testing.T) {
	r := newRing()
	a := &Channel{}
	ha := r.insert(a)
	r.remove(ha)

	b := &Channel{}
	hb := r.insert(b)
	require.Equal(t, ha.index, hb.index, "slot should be recycled from the freelist")
	require.NotEqual(t, ha.generation, hb.generation)
	require.Nil(t, r.channel(ha), "stale handle must not resolve to the new occupant")
	require.Same(t, b, r.channel(hb))
}

func TestRingGrowsPastBlockSize(t *testing.T) {
	r := newRing()
	handles := make([]ringHandle, 0, ringBlockSize+5)
	for i := 0; i < ringBlockSize+5; i++ {
		handles = append(handles, r.insert(&Channel{}))
	}
	require.Equal(t, ringBlockSize+5, r.Len())
	for _, h := range handles {
		require.NotNil(t, r.channel(h))
	}
}

func TestRingEachVisitsAllAndSnapshotsMembership(t *testing.T) {
	r := newRing()
	var chans []*Channel
	for i := 0; i < 5; i++ {
		ch := &Channel{}
		chans = append(chans, ch)
		r.insert(ch)
	}

	var seen []*Channel
	r.each(func(ch *Channel) {
		seen = append(seen, ch)
		// mutate membership mid-iteration; each snapshotted before calling out
		if len(seen) == 1 {
			r.insert(&Channel{})
		}
	})
	require.Len(t, seen, 5)
}

func TestRingEachEmpty(t *testing.T) {
	r := newRing()
	called := false
	r.each(func(*Channel) { called = true })
	require.False(t, called)
	require.Equal(t, 0, r.Len())
}
