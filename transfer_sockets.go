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

// socketsAccept is the Input transfer function for sockets freight: each
// unit is one int32 slot in a DescriptorArray, filled by one accept4(2)
// call. There's no Output direction for a listener, so the unit table
// leaves it nil. It loops accept4 across the available slots until the
// array fills (Flow) or the kernel reports EAGAIN (Stop) — a listener can
// have several connections queued at once, and edge-triggered readiness
// only tells you about the first one unless you drain to EAGAIN.
func socketsAccept(fd int, buf []byte) (int, Status, int) {
	total := 0
	for total+4 <= len(buf) {
		nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if isEINTR(err) {
				continue
			}
			if isEAGAIN(err) || err == unix.ECONNABORTED {
				return total, Stop, 0
			}
			return total, Terminate, errnoOf(err)
		}
		putInt32(buf[total:], int32(nfd))
		total += 4
	}
	return total, Flow, 0
}

func putInt32(buf []byte, v int32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func getInt32(buf []byte) int32 {
	return int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24
}
