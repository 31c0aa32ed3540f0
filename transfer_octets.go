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

// octetsRead is the Input transfer function for octets freight: it loops
// read(2) into the unconsumed tail of the resource window until the window
// fills (Flow) or the kernel reports EAGAIN (Stop). Both backends register
// edge-triggered, so a single partial read per cycle would leave the
// remaining bytes stuck with no further edge to wake it — draining to
// EAGAIN is what actually lets the window close in one cycle.
func octetsRead(fd int, buf []byte) (int, Status, int) {
	total := 0
	for total < len(buf) {
		n, err := unix.Read(fd, buf[total:])
		if err != nil {
			if isEINTR(err) {
				continue
			}
			if isEAGAIN(err) {
				return total, Stop, 0
			}
			return total, Terminate, errnoOf(err)
		}
		if n == 0 {
			return total, Terminate, 0 // clean EOF
		}
		total += n
	}
	return total, Flow, 0
}

// octetsWrite is the Output transfer function for octets freight, looped
// the same way as octetsRead.
func octetsWrite(fd int, buf []byte) (int, Status, int) {
	total := 0
	for total < len(buf) {
		n, err := unix.Write(fd, buf[total:])
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
		if n == 0 {
			return total, Stop, 0 // defensive: avoid spinning on a zero-length write
		}
		total += n
	}
	return total, Flow, 0
}
