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
	"fmt"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/nodalio/junction/hash/xfnv"
)

// ResourceKind tags what a Port's descriptor was opened as.
type ResourceKind uint8

const (
	KindUnknown ResourceKind = iota
	KindSocket
	KindPipe
	KindFIFO
	KindTTY
	KindDevice
	KindFile
	KindReadiness
	KindBad
)

// Freight is what flows over a Channel's Port.
type Freight uint8

const (
	FreightUnknown Freight = iota
	FreightOctets
	FreightSockets
	FreightPorts
	FreightDatagrams
	FreightTransits
)

func (f Freight) String() string {
	switch f {
	case FreightOctets:
		return "octets"
	case FreightSockets:
		return "sockets"
	case FreightPorts:
		return "ports"
	case FreightDatagrams:
		return "datagrams"
	case FreightTransits:
		return "transits"
	default:
		return "unknown"
	}
}

// Call names the syscall that last recorded an error on a Port.
type Call uint8

const (
	CallNone Call = iota
	CallRead
	CallWrite
	CallRecvmsg
	CallSendmsg
	CallRecvmmsg
	CallSendmmsg
	CallAccept
	CallConnect
	CallBind
	CallListen
	CallOpen
	CallPipe
	CallSocketpair
	CallClose
	CallGetsockopt
	CallSetsockopt
	CallVoided
)

func (c Call) String() string {
	switch c {
	case CallRead:
		return "read"
	case CallWrite:
		return "write"
	case CallRecvmsg:
		return "recvmsg"
	case CallSendmsg:
		return "sendmsg"
	case CallRecvmmsg:
		return "recvmmsg"
	case CallSendmmsg:
		return "sendmmsg"
	case CallAccept:
		return "accept"
	case CallConnect:
		return "connect"
	case CallBind:
		return "bind"
	case CallListen:
		return "listen"
	case CallOpen:
		return "open"
	case CallPipe:
		return "pipe"
	case CallSocketpair:
		return "socketpair"
	case CallClose:
		return "close"
	case CallGetsockopt:
		return "getsockopt"
	case CallSetsockopt:
		return "setsockopt"
	case CallVoided:
		return "voided"
	default:
		return "none"
	}
}

// latch nibbles: low nibble is the input side, high nibble is the output
// side. Only one bit of each nibble is actually used; the rest is spec
// fidelity to the "nibble" wording rather than a packing requirement.
const (
	latchInputMask  = 0x0F
	latchOutputMask = 0xF0
)

// Port is a handle to a single kernel resource, jointly owned by up to two
// sibling Channels (one per polarity). The descriptor is only ever closed
// once both polarities have unlatched.
type Port struct {
	mu         sync.Mutex
	descriptor int
	kind       ResourceKind
	freight    Freight
	lastErrno  int
	lastCall   Call
	latches    uint8
	tag        uint64
}

// tagFor derives a process-local correlation tag from a Port's identity at
// creation time, so log lines can refer to "port 0x..." even after the
// descriptor itself has been closed and its number reused by the kernel.
func tagFor(fd int, kind ResourceKind, freight Freight) uint64 {
	return xfnv.HashStr(fmt.Sprintf("%d:%d:%d", fd, kind, freight))
}

// NewPort wraps an already-open descriptor. Both polarities start
// unlatched; callers must Latch each polarity they intend to use.
func NewPort(fd int, kind ResourceKind, freight Freight) *Port {
	return &Port{descriptor: fd, kind: kind, freight: freight, tag: tagFor(fd, kind, freight)}
}

// NewBadPort builds a Port that was never successfully opened. descriptor
// stays -1 and the recorded error/call explain why; the Channel created on
// top of it is born terminated.
func NewBadPort(kind ResourceKind, freight Freight, call Call, errno int) *Port {
	return &Port{
		descriptor: -1, kind: kind, freight: freight, lastCall: call, lastErrno: errno,
		tag: tagFor(-1, kind, freight),
	}
}

// Tag is a process-local correlation identifier for diagnostics, stable for
// the Port's lifetime even after the descriptor closes. Not meaningful
// across processes or restarts.
func (p *Port) Tag() uint64 { return p.tag }

func (p *Port) Descriptor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.descriptor
}

func (p *Port) Kind() ResourceKind { return p.kind }
func (p *Port) Freight() Freight   { return p.freight }

func (p *Port) LastError() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErrno
}

func (p *Port) LastCall() Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCall
}

// Err returns the syscall.Errno corresponding to the last recorded error,
// or nil if none was ever recorded. It's the Go counterpart of asking a
// descriptor to turn its latched OS error into something callers can
// compare with errors.Is.
func (p *Port) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastErrno == 0 {
		return nil
	}
	return syscall.Errno(p.lastErrno)
}

// RecordError latches last_call/last_error for diagnostics. It does not by
// itself unlatch or close anything — callers still drive termination
// through the qualification lattice.
func (p *Port) RecordError(call Call, errno int) {
	p.mu.Lock()
	p.lastCall = call
	p.lastErrno = errno
	p.mu.Unlock()
}

func maskFor(pol Polarity) uint8 {
	if pol == Input {
		return latchInputMask
	}
	return latchOutputMask
}

// Latch marks polarity's nibble as held open.
func (p *Port) Latch(pol Polarity) {
	p.mu.Lock()
	p.latches |= maskFor(pol)
	p.mu.Unlock()
}

// Latched reports whether polarity currently holds the port open.
func (p *Port) Latched(pol Polarity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latches&maskFor(pol) != 0
}

// Unlatch clears polarity's nibble and, once both nibbles are zero, closes
// the descriptor and sets it to -1.
func (p *Port) Unlatch(pol Polarity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latches &^= maskFor(pol)
	if p.latches != 0 || p.descriptor < 0 {
		return nil
	}
	fd := p.descriptor
	p.descriptor = -1
	err := unix.Close(fd)
	if err != nil {
		p.lastCall = CallClose
		p.lastErrno = int(err.(unix.Errno))
	}
	return err
}

// Leak zeroes both latch nibbles without closing the descriptor. Used by
// Junction.Void after fork, when the child must disclaim the parent's
// kernel resources without affecting them.
func (p *Port) Leak() {
	p.mu.Lock()
	p.latches = 0
	p.mu.Unlock()
}

// Shatter forces the descriptor closed regardless of outstanding latches.
// Reserved for error-cleanup paths where a half-initialized Port must not
// leak a file descriptor.
func (p *Port) Shatter() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latches = 0
	if p.descriptor < 0 {
		return nil
	}
	fd := p.descriptor
	p.descriptor = -1
	return unix.Close(fd)
}
