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

//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package junction

import "golang.org/x/sys/unix"

// wakeIdent is the EVFILT_USER identifier used for Junction.Force's
// self-wakeup, registered once at open and triggered with NOTE_TRIGGER.
const wakeIdent = 1

// kqueueReadiness is the BSD/Darwin readiness backend. A single kqueue
// fd serves both polarities — EVFILT_READ and EVFILT_WRITE are
// independent filters on the same fd, so unlike epoll there's no need
// for a second kernel object to keep edge-triggered read and write
// readiness from colliding.
type kqueueReadiness struct {
	fd  int
	reg *fdRegistry
}

func openReadiness() (readiness, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	wake := []unix.Kevent_t{{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}
	if _, err := unix.Kevent(fd, wake, nil, nil); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &kqueueReadiness{fd: fd, reg: newFDRegistry()}, nil
}

func filterFor(pol Polarity) int16 {
	if pol == Input {
		return unix.EVFILT_READ
	}
	return unix.EVFILT_WRITE
}

func (p *kqueueReadiness) subscribe(pol Polarity, ch *Channel) error {
	fd := ch.port.Descriptor()
	if fd < 0 {
		return newResourceError("subscribe", "port is closed")
	}
	ev := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: filterFor(pol),
		Flags:  unix.EV_ADD | unix.EV_ENABLE | unix.EV_CLEAR,
	}}
	if _, err := unix.Kevent(p.fd, ev, nil, nil); err != nil {
		return err
	}
	p.reg.set(registryKey(fd, pol), ch)
	return nil
}

func (p *kqueueReadiness) unsubscribe(pol Polarity, ch *Channel) error {
	fd := ch.port.Descriptor()
	p.reg.delete(registryKey(fd, pol))
	if fd < 0 {
		return nil
	}
	ev := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: filterFor(pol),
		Flags:  unix.EV_DELETE,
	}}
	_, err := unix.Kevent(p.fd, ev, nil, nil)
	return err
}

// registryKey folds polarity into the lookup key since EVFILT_READ and
// EVFILT_WRITE on the same fd can belong to two different sibling
// Channels (a bidirectional socket's input and output halves).
func registryKey(fd int, pol Polarity) int {
	if pol == Input {
		return fd << 1
	}
	return fd<<1 | 1
}

func (p *kqueueReadiness) collect(buf []readyEvent, block bool) (n int, more bool, err error) {
	raw := make([]unix.Kevent_t, len(buf))
	var timeout *unix.Timespec
	if !block {
		timeout = &unix.Timespec{}
	}
	kn, werr := unix.Kevent(p.fd, nil, raw, timeout)
	if werr != nil {
		if isEINTR(werr) {
			return 0, false, nil
		}
		return 0, false, werr
	}
	for i := 0; i < kn; i++ {
		ev := &raw[i]
		if ev.Filter == unix.EVFILT_USER {
			continue // self-wakeup, consumed and ignored
		}
		pol := Input
		if ev.Filter == unix.EVFILT_WRITE {
			pol = Output
		}
		ch := p.reg.get(registryKey(int(ev.Ident), pol))
		if ch == nil || n >= len(buf) {
			continue
		}
		re := readyEvent{channel: ch}
		switch {
		case ev.Flags&unix.EV_ERROR != 0:
			re.terminate = true
			re.errno = int(ev.Data)
		case ev.Flags&unix.EV_EOF != 0 && pol == Output:
			re.terminate = true
		case ev.Flags&unix.EV_EOF != 0 && pol == Input:
			// input-side EOF defers to the transfer phase: a zero-byte
			// read there is what actually raises X.terminate, so
			// pending bytes already queued get delivered first.
			re.transfer = true
		default:
			re.transfer = true
		}
		buf[n] = re
		n++
	}
	return n, kn == len(raw), nil
}

func (p *kqueueReadiness) force() {
	wake := []unix.Kevent_t{{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}}
	unix.Kevent(p.fd, wake, nil, nil)
}

func (p *kqueueReadiness) close() error {
	return unix.Close(p.fd)
}
