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

//go:build unix

package junction

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

const defaultListenBacklog = 16

func pairChannels(port *Port) []*Channel {
	port.Latch(Input)
	port.Latch(Output)
	return []*Channel{newChannel(Input, port), newChannel(Output, port)}
}

func resolveIP4(host string) ([4]byte, error) {
	var out [4]byte
	if host == "" {
		return out, nil
	}
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return out, err
	}
	copy(out[:], addr.IP.To4())
	return out, nil
}

func resolveIP6(host string) ([16]byte, error) {
	var out [16]byte
	if host == "" {
		return out, nil
	}
	addr, err := net.ResolveIPAddr("ip6", host)
	if err != nil {
		return out, err
	}
	copy(out[:], addr.IP.To16())
	return out, nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// allocOctetsIP4TCP dials an IPv4 TCP stream: ("octets","ip4","tcp"),
// params "host"/"port". The socket is created non-blocking and Connect
// is allowed to return EINPROGRESS — the Junction's collect phase is
// what actually observes the connect completing, as a writable event.
func allocOctetsIP4TCP(params map[string]string) ([]*Channel, error) {
	addr, err := resolveIP4(params["host"])
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: atoiDefault(params["port"], 0), Addr: addr}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, err
	}
	return pairChannels(NewPort(fd, KindSocket, FreightOctets)), nil
}

// allocOctetsIP4TCPBind is the same as allocOctetsIP4TCP but binds a
// local address first, for callers that need a fixed source port.
func allocOctetsIP4TCPBind(params map[string]string) ([]*Channel, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	localAddr, err := resolveIP4(params["local_host"])
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: atoiDefault(params["local_port"], 0), Addr: localAddr}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	remoteAddr, err := resolveIP4(params["host"])
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	err = unix.Connect(fd, &unix.SockaddrInet4{Port: atoiDefault(params["port"], 0), Addr: remoteAddr})
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, err
	}
	return pairChannels(NewPort(fd, KindSocket, FreightOctets)), nil
}

func allocSockets(domain int, addrSetter func(fd int, port int) error, backlogDefault int, backlog string) ([]*Channel, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := addrSetter(fd, 0); err != nil {
		unix.Close(fd)
		return nil, err
	}
	n := atoiDefault(backlog, backlogDefault)
	if err := unix.Listen(fd, n); err != nil {
		unix.Close(fd)
		return nil, err
	}
	port := NewPort(fd, KindSocket, FreightSockets)
	port.Latch(Input)
	return []*Channel{newChannel(Input, port)}, nil
}

// allocSocketsIP4 opens an IPv4 listening socket: ("sockets","ip4"),
// params "host" (default wildcard)/"port"/"backlog".
func allocSocketsIP4(params map[string]string) ([]*Channel, error) {
	addr, err := resolveIP4(params["host"])
	if err != nil {
		return nil, err
	}
	port := atoiDefault(params["port"], 0)
	return allocSockets(unix.AF_INET, func(fd int, _ int) error {
		return unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr})
	}, defaultListenBacklog, params["backlog"])
}

// allocSocketsIP6 is allocSocketsIP4's IPv6 counterpart.
func allocSocketsIP6(params map[string]string) ([]*Channel, error) {
	addr, err := resolveIP6(params["host"])
	if err != nil {
		return nil, err
	}
	port := atoiDefault(params["port"], 0)
	return allocSockets(unix.AF_INET6, func(fd int, _ int) error {
		return unix.Bind(fd, &unix.SockaddrInet6{Port: port, Addr: addr})
	}, defaultListenBacklog, params["backlog"])
}

func allocDatagramsUDP(domain int, bindFn func(fd int) error) ([]*Channel, error) {
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if bindFn != nil {
		if err := bindFn(fd); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	return pairChannels(NewPort(fd, KindSocket, FreightDatagrams)), nil
}

// allocDatagramsIP4UDP opens a UDP socket: ("datagrams","ip4","udp"),
// params "host"/"port" (both optional — an unbound socket is valid for
// a pure sender).
func allocDatagramsIP4UDP(params map[string]string) ([]*Channel, error) {
	if params["port"] == "" && params["host"] == "" {
		return allocDatagramsUDP(unix.AF_INET, nil)
	}
	addr, err := resolveIP4(params["host"])
	if err != nil {
		return nil, err
	}
	port := atoiDefault(params["port"], 0)
	return allocDatagramsUDP(unix.AF_INET, func(fd int) error {
		return unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr})
	})
}

// allocDatagramsIP6UDP is allocDatagramsIP4UDP's IPv6 counterpart.
func allocDatagramsIP6UDP(params map[string]string) ([]*Channel, error) {
	if params["port"] == "" && params["host"] == "" {
		return allocDatagramsUDP(unix.AF_INET6, nil)
	}
	addr, err := resolveIP6(params["host"])
	if err != nil {
		return nil, err
	}
	port := atoiDefault(params["port"], 0)
	return allocDatagramsUDP(unix.AF_INET6, func(fd int) error {
		return unix.Bind(fd, &unix.SockaddrInet6{Port: port, Addr: addr})
	})
}

// allocOctetsSpawnUnidirectional opens a pipe: ("octets","spawn",
// "unidirectional") returns (reader, writer), each its own Port since
// the two pipe ends are different descriptors.
func allocOctetsSpawnUnidirectional(params map[string]string) ([]*Channel, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	readPort := NewPort(fds[0], KindPipe, FreightOctets)
	readPort.Latch(Input)
	writePort := NewPort(fds[1], KindPipe, FreightOctets)
	writePort.Latch(Output)
	return []*Channel{newChannel(Input, readPort), newChannel(Output, writePort)}, nil
}

// allocOctetsSpawnBidirectional opens a unix socketpair: ("octets",
// "spawn","bidirectional") returns four Channels, an (input, output)
// pair per end, each end's pair sharing that end's Port.
func allocOctetsSpawnBidirectional(params map[string]string) ([]*Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	a := pairChannels(NewPort(fds[0], KindSocket, FreightOctets))
	b := pairChannels(NewPort(fds[1], KindSocket, FreightOctets))
	return append(a, b...), nil
}

// openFile opens a regular file or device node for octets transfer. Unlike
// a socket or pipe, reaching the end of a file is not a peer hanging up —
// a later write to the same path can make more bytes appear, so the
// channel sets ctrlRequeue to stay subscribed past EOF instead of
// unsubscribing and terminating the way a socket/pipe Channel does.
func openFile(path string, flag int) (*Channel, error) {
	fd, err := unix.Open(path, flag|unix.O_NONBLOCK|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, err
	}
	pol := Input
	if flag&unix.O_WRONLY != 0 || flag&unix.O_RDWR != 0 {
		pol = Output
	}
	port := NewPort(fd, KindFile, FreightOctets)
	port.Latch(pol)
	ch := newChannel(pol, port)
	ch.ctl.set(ctrlRequeue)
	return ch, nil
}

// allocOctetsFileRead opens a file for reading: ("octets","file","read"),
// params "path".
func allocOctetsFileRead(params map[string]string) ([]*Channel, error) {
	ch, err := openFile(params["path"], unix.O_RDONLY)
	if err != nil {
		return nil, err
	}
	return []*Channel{ch}, nil
}

// allocOctetsFileWrite opens a file for writing: ("octets","file",
// "write"), params "path" (created if absent when params["create"]=="1").
func allocOctetsFileWrite(params map[string]string) ([]*Channel, error) {
	flag := unix.O_WRONLY
	if params["create"] == "1" {
		flag |= unix.O_CREAT
	}
	if params["append"] == "1" {
		flag |= unix.O_APPEND
	} else {
		flag |= unix.O_TRUNC
	}
	ch, err := openFile(params["path"], flag)
	if err != nil {
		return nil, err
	}
	return []*Channel{ch}, nil
}

// allocPortsAcquireSocket opens a unix socketpair for descriptor-passing:
// ("ports","acquire","socket") returns four Channels, symmetric with
// allocOctetsSpawnBidirectional but tagged FreightPorts so the transfer
// function table dispatches through SCM_RIGHTS instead of read/write.
func allocPortsAcquireSocket(params map[string]string) ([]*Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	a := pairChannels(NewPort(fds[0], KindSocket, FreightPorts))
	b := pairChannels(NewPort(fds[1], KindSocket, FreightPorts))
	return append(a, b...), nil
}
