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

//go:build linux

package junction

import (
	"golang.org/x/sys/unix"

	containerring "github.com/nodalio/junction/container/ring"
)

// pollSide is one polarity's half of the split epoll setup: its own
// epoll fd, the registry mapping its subscribed descriptors back to
// Channels, and the event mask new subscriptions get.
type pollSide struct {
	epfd   int
	reg    *fdRegistry
	events uint32
}

// epollReadiness is the Linux readiness backend: two edge-triggered
// epoll instances (one collects read readiness, one write) plus an
// eventfd registered on the reader instance for Junction.Force's
// self-wakeup. Splitting read/write across two epoll fds is what lets
// EPOLLET give independent edge-triggered semantics per polarity — one
// epoll fd with EPOLLIN|EPOLLOUT can't distinguish "readable edge" from
// "writable edge" cleanly once both are registered on the same fd.
type epollReadiness struct {
	wakeFD int
	sides  *containerring.Ring[*pollSide] // [reader, writer]; collect() alternates via Next
	turn   int
}

func openReadiness() (readiness, error) {
	readFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	writeFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(readFD)
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(readFD)
		unix.Close(writeFD)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(readFD, unix.EPOLL_CTL_ADD, wakeFD, &ev); err != nil {
		unix.Close(readFD)
		unix.Close(writeFD)
		unix.Close(wakeFD)
		return nil, err
	}
	base := uint32(unix.EPOLLET | unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP)
	sides := containerring.NewFromSlice([]*pollSide{
		{epfd: readFD, reg: newFDRegistry(), events: base | unix.EPOLLIN},
		{epfd: writeFD, reg: newFDRegistry(), events: base | unix.EPOLLOUT},
	})
	return &epollReadiness{wakeFD: wakeFD, sides: sides}, nil
}

func (p *epollReadiness) sideFor(pol Polarity) *pollSide {
	idx := 0
	if pol == Output {
		idx = 1
	}
	item, _ := p.sides.Get(idx)
	return item.Value()
}

func (p *epollReadiness) subscribe(pol Polarity, ch *Channel) error {
	fd := ch.port.Descriptor()
	if fd < 0 {
		return newResourceError("subscribe", "port is closed")
	}
	side := p.sideFor(pol)
	ev := unix.EpollEvent{Events: side.events, Fd: int32(fd)}
	if err := unix.EpollCtl(side.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	side.reg.set(fd, ch)
	return nil
}

func (p *epollReadiness) unsubscribe(pol Polarity, ch *Channel) error {
	fd := ch.port.Descriptor()
	side := p.sideFor(pol)
	side.reg.delete(fd)
	if fd < 0 {
		return nil
	}
	return unix.EpollCtl(side.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// collect implements the "alternate between the reader-fd and writer-fd
// to avoid starvation" rule from the cycle's collect phase. It favors
// whichever side the previous call didn't (walking the two-element ring
// with Next) and drains it first, then drains the other, both
// non-blocking, so one call to collect never returns only half the
// picture. When asked to block, it first waits with poll(2) on both epoll
// fds: an epoll fd polls readable while it has events queued, so either
// side's readiness (or the wake eventfd on the reader side) ends the wait.
func (p *epollReadiness) collect(buf []readyEvent, block bool) (n int, more bool, err error) {
	primaryItem, _ := p.sides.Get(p.turn)
	secondaryItem, _ := p.sides.Next(p.turn)
	p.turn = secondaryItem.Index()
	primary, secondary := primaryItem.Value(), secondaryItem.Value()

	if block {
		pfds := []unix.PollFd{
			{Fd: int32(primary.epfd), Events: unix.POLLIN},
			{Fd: int32(secondary.epfd), Events: unix.POLLIN},
		}
		if _, perr := unix.Poll(pfds, -1); perr != nil && !isEINTR(perr) {
			return 0, false, perr
		}
	}

	raw := make([]unix.EpollEvent, len(buf))
	pn, werr := unix.EpollWait(primary.epfd, raw, 0)
	if werr != nil && !isEINTR(werr) {
		return 0, false, werr
	}
	n += p.transform(raw[:max0(pn)], primary.reg, buf[n:])
	more = pn == len(raw)

	if n < len(buf) {
		want := len(buf) - n
		sn, werr := unix.EpollWait(secondary.epfd, raw[:want], 0)
		if werr != nil && !isEINTR(werr) {
			return n, more, nil
		}
		n += p.transform(raw[:max0(sn)], secondary.reg, buf[n:])
		more = more || sn == want
	}
	return n, more, nil
}

func (p *epollReadiness) transform(raw []unix.EpollEvent, reg *fdRegistry, out []readyEvent) int {
	n := 0
	for _, ev := range raw {
		fd := int(ev.Fd)
		if fd == p.wakeFD {
			var buf [8]byte
			unix.Read(p.wakeFD, buf[:])
			continue
		}
		ch := reg.get(fd)
		if ch == nil || n >= len(out) {
			continue
		}
		re := readyEvent{channel: ch}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			re.terminate = true
		} else if ev.Events&(unix.EPOLLIN|unix.EPOLLOUT) != 0 {
			re.transfer = true
		}
		out[n] = re
		n++
	}
	return n
}

func (p *epollReadiness) force() {
	var one [8]byte
	one[0] = 1
	unix.Write(p.wakeFD, one[:])
}

func (p *epollReadiness) close() error {
	unix.Close(p.wakeFD)
	reader, _ := p.sides.Get(0)
	writer, _ := p.sides.Get(1)
	unix.Close(writer.Value().epfd)
	return unix.Close(reader.Value().epfd)
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
