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

import "golang.org/x/sys/unix"

// portsRecv is the Input transfer function for ports freight: receives
// one descriptor per unit over a unix socket's ancillary data (SCM_RIGHTS).
// A single byte of regular payload rides along because recvmsg on some
// kernels won't deliver ancillary data for a zero-length main message. It
// loops across the available slots until the buffer fills (Flow) or the
// kernel reports EAGAIN (Stop), for the same edge-triggered-drain reason
// as octetsRead.
func portsRecv(fd int, buf []byte) (int, Status, int) {
	total := 0
	for total+4 <= len(buf) {
		p := make([]byte, 1)
		oob := make([]byte, unix.CmsgSpace(4))
		n, oobn, _, _, err := unix.Recvmsg(fd, p, oob, 0)
		if err != nil {
			if isEINTR(err) {
				continue
			}
			if isEAGAIN(err) {
				return total, Stop, 0
			}
			return total, Terminate, errnoOf(err)
		}
		if n == 0 && oobn == 0 {
			return total, Terminate, 0
		}
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil || len(scms) == 0 {
			return total, Stop, 0
		}
		fds, err := unix.ParseUnixRights(&scms[0])
		if err != nil || len(fds) == 0 {
			return total, Stop, 0
		}
		putInt32(buf[total:], int32(fds[0]))
		total += 4
	}
	return total, Flow, 0
}

// portsSend is the Output transfer function for ports freight: sends one
// descriptor per unit as SCM_RIGHTS ancillary data, looped the same way as
// portsRecv.
func portsSend(fd int, buf []byte) (int, Status, int) {
	total := 0
	for total+4 <= len(buf) {
		passFD := int(getInt32(buf[total:]))
		oob := unix.UnixRights(passFD)
		err := unix.Sendmsg(fd, []byte{0}, oob, nil, 0)
		if err != nil {
			if isEINTR(err) {
				continue
			}
			if isEAGAIN(err) {
				return total, Stop, 0
			}
			if err == unix.EPIPE {
				return total, Terminate, int(unix.EPIPE)
			}
			return total, Terminate, errnoOf(err)
		}
		total += 4
	}
	return total, Flow, 0
}
