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
	"net"

	"golang.org/x/sys/unix"
)

// Domain is the address family of an Endpoint.
type Domain uint8

const (
	DomainUnspecified Domain = iota
	DomainIP4
	DomainIP6
	DomainLocal
)

// Endpoint is the address-family-agnostic result of Channel.Endpoint():
// either a network address (domain/interface/port) or, for an anonymous
// local socket, the peer's credentials.
//
// Concrete address parsing/formatting beyond what's needed to report a
// Port's local or remote address is an external collaborator's job; this
// is intentionally the thin, out-of-scope-respecting shape the spec
// assigns the engine.
type Endpoint struct {
	Domain    Domain
	Interface string // textual IP, or empty for DomainLocal
	Port      int
	HasPair   bool
	UID       uint32
	GID       uint32
}

func (e Endpoint) String() string {
	switch e.Domain {
	case DomainIP4, DomainIP6:
		return net.JoinHostPort(e.Interface, fmt.Sprintf("%d", e.Port))
	case DomainLocal:
		if e.HasPair {
			return fmt.Sprintf("local(uid=%d,gid=%d)", e.UID, e.GID)
		}
		return "local(" + e.Interface + ")"
	default:
		return "unspecified"
	}
}

// Pair returns the peer credentials carried by an anonymous local-socket
// Endpoint.
func (e Endpoint) Pair() (uid, gid uint32, ok bool) {
	return e.UID, e.GID, e.HasPair
}

// sockaddrFromEndpoint is the reverse of endpointFromSockaddr, used by the
// datagrams transfer functions to address an outgoing sendmsg(2).
func sockaddrFromEndpoint(ep Endpoint) (unix.Sockaddr, error) {
	switch ep.Domain {
	case DomainIP4:
		ip := net.ParseIP(ep.Interface).To4()
		if ip == nil {
			return nil, fmt.Errorf("junction: invalid ipv4 endpoint %q", ep.Interface)
		}
		sa := &unix.SockaddrInet4{Port: ep.Port}
		copy(sa.Addr[:], ip)
		return sa, nil
	case DomainIP6:
		ip := net.ParseIP(ep.Interface).To16()
		if ip == nil {
			return nil, fmt.Errorf("junction: invalid ipv6 endpoint %q", ep.Interface)
		}
		sa := &unix.SockaddrInet6{Port: ep.Port}
		copy(sa.Addr[:], ip)
		return sa, nil
	case DomainLocal:
		return &unix.SockaddrUnix{Name: ep.Interface}, nil
	default:
		return nil, fmt.Errorf("junction: unsupported endpoint domain %d", ep.Domain)
	}
}

func endpointFromSockaddr(sa unix.Sockaddr) (Endpoint, error) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return Endpoint{Domain: DomainIP4, Interface: net.IP(a.Addr[:]).String(), Port: a.Port}, nil
	case *unix.SockaddrInet6:
		return Endpoint{Domain: DomainIP6, Interface: net.IP(a.Addr[:]).String(), Port: a.Port}, nil
	case *unix.SockaddrUnix:
		return Endpoint{Domain: DomainLocal, Interface: a.Name}, nil
	default:
		return Endpoint{}, fmt.Errorf("junction: unsupported sockaddr %T", sa)
	}
}
