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
	"strings"
	"sync"

	"github.com/nodalio/junction/container/strmap"
)

// allocatorFunc builds the Channel(s) for one rallocate request. A
// listener or a file yields one Channel; a pipe, a TCP stream or a UDP
// socket yields two (an input and an output); a socketpair yields four
// (an input/output pair per end).
type allocatorFunc func(params map[string]string) ([]*Channel, error)

// allocDirectory is the process-once-initialized resource-allocation
// directory: a read-only string table (keyed by the joined request
// tuple, e.g. "octets+ip4+tcp") mapping to an index into allocatorTable.
// Built once, like the errno table.
var (
	allocOnce      sync.Once
	allocDirectory *strmap.StrMap[int]
	allocatorTable []allocatorFunc
	allocRequests  [][]string
)

func buildAllocDirectory() {
	entries := []struct {
		key string
		fn  allocatorFunc
	}{
		{"octets+ip4+tcp", allocOctetsIP4TCP},
		{"octets+ip4+tcp+bind", allocOctetsIP4TCPBind},
		{"sockets+ip4", allocSocketsIP4},
		{"sockets+ip6", allocSocketsIP6},
		{"datagrams+ip4+udp", allocDatagramsIP4UDP},
		{"datagrams+ip6+udp", allocDatagramsIP6UDP},
		{"octets+spawn+unidirectional", allocOctetsSpawnUnidirectional},
		{"octets+spawn+bidirectional", allocOctetsSpawnBidirectional},
		{"octets+file+read", allocOctetsFileRead},
		{"octets+file+write", allocOctetsFileWrite},
		{"ports+acquire+socket", allocPortsAcquireSocket},
	}

	keys := make([]string, len(entries))
	ids := make([]int, len(entries))
	allocatorTable = make([]allocatorFunc, len(entries))
	allocRequests = make([][]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
		ids[i] = i
		allocatorTable[i] = e.fn
		allocRequests[i] = strings.Split(e.key, "+")
	}
	allocDirectory = strmap.NewFromSlice(keys, ids)
}

// Rtypes returns every resource allocation request tuple the directory
// recognizes, for callers that want to discover what Rallocate accepts
// rather than hardcoding request tuples.
func Rtypes() [][]string {
	allocOnce.Do(buildAllocDirectory)
	out := make([][]string, len(allocRequests))
	for i, r := range allocRequests {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Rallocate resolves a request tuple like ("octets", "ip4", "tcp") to a
// concrete allocator and runs it. params carries the request's free-form
// arguments (host, port, path, backlog, ...); unrecognized keys are
// ignored by the allocator that doesn't need them.
func Rallocate(request []string, params map[string]string) ([]*Channel, error) {
	allocOnce.Do(buildAllocDirectory)
	key := strings.Join(request, "+")
	idx, ok := allocDirectory.Get(key)
	if !ok {
		return nil, newResourceError("rallocate", "no allocator registered for \""+key+"\"")
	}
	return allocatorTable[idx](params)
}
