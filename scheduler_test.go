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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsCyclesUntilStop(t *testing.T) {
	j := newTestJunction(t)
	chans, err := Rallocate([]string{"octets", "spawn", "unidirectional"}, nil)
	require.NoError(t, err)
	require.NoError(t, j.Acquire(chans[0]))
	require.NoError(t, j.Acquire(chans[1]))

	var cycles atomic.Int64
	sched := NewScheduler(j, func(*Junction, *TransferIterator) {
		cycles.Add(1)
	})
	sched.Start()

	require.Eventually(t, func() bool {
		return cycles.Load() > 0
	}, 2*time.Second, 10*time.Millisecond, "scheduler must run at least one cycle")

	sched.Stop()
}

func TestSchedulerStopWakesBlockedCycle(t *testing.T) {
	j := newTestJunction(t)

	sched := NewScheduler(j, nil)
	sched.Start()

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return — Force failed to wake a cycle blocked in collect")
	}
}
