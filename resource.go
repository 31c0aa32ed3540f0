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
	"github.com/nodalio/junction/cache/mempool"
	"github.com/nodalio/junction/unsafex"
)

// Resource is the caller-owned buffer a Channel borrows between Acquire
// and the cycle that exhausts, replaces, or terminates it. The engine
// never allocates or frees it; it only reads the byte view to drive a
// window of transferred bytes and writes into it from the transfer
// function's result.
//
// The interface itself only needs enough of a byte view to run the window
// arithmetic in channel.go; the concrete resource types follow below.
type Resource interface {
	// Bytes exposes the resource's backing storage as a byte slice so
	// the window (start, stop) can address it uniformly regardless of
	// the underlying freight kind.
	Bytes() []byte
}

// OctetBuffer is the Resource for octets-freight Channels: a plain,
// caller-owned []byte.
type OctetBuffer []byte

func (b OctetBuffer) Bytes() []byte { return b }

// DescriptorArray is the Resource for sockets (listener accept) and ports
// (SCM_RIGHTS) freight: a caller-owned array of file descriptors, one
// int32 per transfer unit. It's addressed as bytes via a zero-copy cast
// so it can flow through the same window machinery as OctetBuffer.
type DescriptorArray []int32

func (d DescriptorArray) Bytes() []byte { return unsafex.Int32sToBytes(d) }

// Datagram is one (endpoint, payload) record of a DatagramArray.
type Datagram struct {
	Endpoint Endpoint
	Payload  []byte
}

// DatagramArray is the Resource for datagrams freight. Unlike octets or
// descriptor arrays it is not naturally byte-addressable — the transfer
// function for datagrams reads/writes Records directly — but it still
// needs a Bytes() view so the generic window bookkeeping in channel.go
// can track "how many records have been transferred" the same way it
// tracks "how many bytes". One slot of the sizing view stands for one
// record.
type DatagramArray struct {
	records []Datagram
	sizing  []byte
}

// NewDatagramArray allocates an array with capacity n records, all
// initially empty. The caller fills Records() (for sends) or leaves them
// empty (for receives) before Acquire.
func NewDatagramArray(n int) *DatagramArray {
	return &DatagramArray{
		records: make([]Datagram, n),
		sizing:  make([]byte, n),
	}
}

func (d *DatagramArray) Bytes() []byte { return d.sizing }

// Records returns the full backing slice of (endpoint, payload) records.
func (d *DatagramArray) Records() []Datagram { return d.records }

// Len returns the record capacity of the array.
func (d *DatagramArray) Len() int { return len(d.records) }

// Release returns every record's payload buffer to the mempool. Call it
// once the array itself is no longer needed; using the array after
// Release is undefined.
func (d *DatagramArray) Release() {
	for i := range d.records {
		if cap(d.records[i].Payload) > 0 {
			mempool.Free(d.records[i].Payload[:0])
		}
		d.records[i].Payload = nil
	}
}
