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
	"golang.org/x/sys/unix"

	"github.com/nodalio/junction/cache/mempool"
)

// datagramsUnit is 64KiB, generous enough for any UDP payload without the
// caller having to pre-size each record.
const datagramsUnit = 65536

// datagramsRecv fills as many empty records (starting at start, up to
// stop) of a DatagramArray as recvmsg(2) accepts before the kernel reports
// EAGAIN, each with its source Endpoint. golang.org/x/sys/unix has no
// recvmmsg(2) batch wrapper, so this loops a single recvmsg per record
// rather than one batched syscall — functionally the same drain-to-EAGAIN
// contract the octets/ports transfer functions follow. Per-record scratch
// space is pulled from the shared mempool instead of a fresh make() per
// record per cycle, since a DatagramArray is reused across many cycles.
func datagramsRecv(fd int, arr *DatagramArray, start, stop int) (moved int, status Status, errno int) {
	if start >= stop {
		return 0, Flow, 0
	}
	records := arr.Records()[start:stop]
	for i := 0; i < len(records); i++ {
		if cap(records[i].Payload) < datagramsUnit {
			if cap(records[i].Payload) > 0 {
				mempool.Free(records[i].Payload[:0])
			}
			records[i].Payload = mempool.Malloc(datagramsUnit)
		} else {
			records[i].Payload = records[i].Payload[:datagramsUnit]
		}

		n, _, _, from, err := unix.Recvmsg(fd, records[i].Payload, nil, 0)
		if err != nil {
			if isEINTR(err) {
				i--
				continue
			}
			if isEAGAIN(err) {
				return moved, Stop, 0
			}
			return moved, Terminate, errnoOf(err)
		}
		if from != nil {
			if ep, eerr := endpointFromSockaddr(from); eerr == nil {
				records[i].Endpoint = ep
			}
		}
		records[i].Payload = records[i].Payload[:n]
		moved++
	}
	return moved, Flow, 0
}

// datagramsSend drains as many filled records (start to stop) as
// sendmsg(2) accepts before the kernel reports EAGAIN, each addressed by
// its Endpoint.
func datagramsSend(fd int, arr *DatagramArray, start, stop int) (moved int, status Status, errno int) {
	if start >= stop {
		return 0, Flow, 0
	}
	records := arr.Records()[start:stop]
	for i := 0; i < len(records); i++ {
		to, err := sockaddrFromEndpoint(records[i].Endpoint)
		if err != nil {
			return moved, Terminate, 0
		}
		err = unix.Sendmsg(fd, records[i].Payload, nil, to, 0)
		if err != nil {
			if isEINTR(err) {
				i--
				continue
			}
			if isEAGAIN(err) {
				return moved, Stop, 0
			}
			if err == unix.EPIPE {
				return moved, Terminate, int(unix.EPIPE)
			}
			return moved, Terminate, errnoOf(err)
		}
		moved++
	}
	return moved, Flow, 0
}
