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

// Polarity is the direction of data flow a Channel was created for.
// It never changes after construction.
type Polarity int8

const (
	// Input channels move data from the kernel into a caller buffer.
	Input Polarity = 1
	// Output channels move data from a caller buffer to the kernel.
	Output Polarity = -1
)

func (p Polarity) String() string {
	if p == Input {
		return "input"
	}
	return "output"
}

// qualify is the 8-bit state word of the transfer/terminate lattice,
// holding both the I and the X dimension. The D dimension and the
// per-cycle tev_* bits live in the separate delta and events types.
type qualify uint8

const (
	qTransfer  qualify = 1 << 0
	qTerminate qualify = 1 << 1

	// qXTransfer / qXTerminate let state pack both I and X into one byte:
	// bits 0-1 are I, bits 2-3 are X.
	qXShift = 2
)

func (q qualify) iTransfer() bool  { return q&qTransfer != 0 }
func (q qualify) iTerminate() bool { return q&qTerminate != 0 }
func (q qualify) xTransfer() bool  { return q&(qTransfer<<qXShift) != 0 }
func (q qualify) xTerminate() bool { return q&(qTerminate<<qXShift) != 0 }

func (q *qualify) setITransfer(v bool)  { q.set(qTransfer, v) }
func (q *qualify) setITerminate(v bool) { q.set(qTerminate, v) }
func (q *qualify) setXTransfer(v bool)  { q.set(qTransfer<<qXShift, v) }
func (q *qualify) setXTerminate(v bool) { q.set(qTerminate<<qXShift, v) }

func (q *qualify) set(bit qualify, v bool) {
	if v {
		*q |= bit
	} else {
		*q &^= bit
	}
}

// transferReady is I.transfer AND X.transfer.
func (q qualify) transferReady() bool { return q.iTransfer() && q.xTransfer() }

// shouldTerminate is I.terminate OR X.terminate.
func (q qualify) shouldTerminate() bool { return q.iTerminate() || q.xTerminate() }

// delta publishes a pending transition that hasn't been merged into state
// yet. Only I.transfer/I.terminate have a delta dimension — the kernel (X)
// is never deltaed, it's observed directly by the worker.
type delta uint8

func (d delta) transfer() bool  { return d&delta(qTransfer) != 0 }
func (d delta) terminate() bool { return d&delta(qTerminate) != 0 }
func (d delta) isZero() bool    { return d == 0 }

func (d *delta) setTransfer()  { *d |= delta(qTransfer) }
func (d *delta) setTerminate() { *d |= delta(qTerminate) }
func (d *delta) clear()        { *d = 0 }

// events records which event(s) actually fired in the cycle just run. It is
// cleared by end_cycle.
type events uint8

const (
	evTransfer  events = 1 << 0
	evTerminate events = 1 << 1
)

func (e events) transfer() bool  { return e&evTransfer != 0 }
func (e events) terminate() bool { return e&evTerminate != 0 }
func (e events) isZero() bool    { return e == 0 }

func (e *events) setTransfer()  { *e |= evTransfer }
func (e *events) setTerminate() { *e |= evTerminate }

// control holds the flags that are not part of the I/X/D lattice:
// whether a kernel subscription still needs installing, whether the next
// cycle should synthesize an empty transfer, whether the channel should
// stay subscribed past EOF, and whether it has been disclaimed by void().
type control uint8

const (
	ctrlConnect control = 1 << 0
	ctrlForce   control = 1 << 1
	ctrlRequeue control = 1 << 2
	ctrlVoided  control = 1 << 3
)

func (c control) has(bit control) bool { return c&bit != 0 }
func (c *control) set(bit control)     { *c |= bit }
func (c *control) clear(bit control)   { *c &^= bit }
