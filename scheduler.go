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
	"context"
	"log"

	"github.com/nodalio/junction/concurrency/gopool"
)

// Scheduler is the engine's side of the "contract with the host's
// cooperative scheduler" (§4, §5): exactly one worker runs a Junction's
// cycle at a time, driven from a dedicated goroutine rather than
// borrowing whatever goroutine happened to call Start. It's a thin
// convenience on top of gopool.GoPool, not part of the cycle engine
// itself — callers who want to drive BeginCycle/EndCycle from their own
// loop (e.g. to interleave it with other work) don't need this type.
type Scheduler struct {
	junction *Junction
	observe  func(*Junction, *TransferIterator)

	pool *gopool.GoPool
	stop chan struct{}
	done chan struct{}
}

// NewScheduler builds a Scheduler that repeatedly runs cycles on j,
// calling observe with the cycle's transfer iterator between BeginCycle
// and EndCycle. observe must not retain the iterator past its call.
func NewScheduler(j *Junction, observe func(*Junction, *TransferIterator)) *Scheduler {
	pool := gopool.NewGoPool("junction-scheduler", nil)
	pool.SetPanicHandler(func(ctx context.Context, r interface{}) {
		log.Printf("junction: scheduler cycle panicked: %v", r)
	})
	return &Scheduler{
		junction: j,
		observe:  observe,
		pool:     pool,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the cycle loop on a pool worker. It returns
// immediately; call Stop to end the loop.
func (s *Scheduler) Start() {
	s.pool.Go(s.run)
}

// Stop signals the loop to exit after its current cycle and blocks until
// it has. A blocked collect phase is woken via Junction.Force so Stop
// doesn't have to wait for kernel readiness.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.junction.Force()
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.junction.BeginCycle(); err != nil {
			log.Printf("junction: scheduler begin_cycle: %v", err)
			return
		}
		if s.observe != nil {
			s.observe(s.junction, s.junction.Transfer())
		}
		if err := s.junction.EndCycle(); err != nil {
			log.Printf("junction: scheduler end_cycle: %v", err)
			return
		}
	}
}
