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
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newDetachedPipeChannels(t *testing.T) (reader, writer *Channel) {
	t.Helper()
	chans, err := Rallocate([]string{"octets", "spawn", "unidirectional"}, nil)
	require.NoError(t, err)
	return chans[0], chans[1]
}

func TestChannelAcquireSetsWindowAndInternalTransfer(t *testing.T) {
	_, writer := newDetachedPipeChannels(t)
	require.NoError(t, writer.Acquire(OctetBuffer([]byte("abcd"))))
	start, stop := writer.Slice()
	require.Equal(t, 0, start)
	require.Equal(t, 0, stop)
	require.True(t, writer.state.iTransfer(), "detached acquire must set I.transfer directly")
}

func TestChannelAcquireBeforeExhaustIsResourceError(t *testing.T) {
	_, writer := newDetachedPipeChannels(t)
	require.NoError(t, writer.Acquire(OctetBuffer([]byte("abcd"))))
	err := writer.Acquire(OctetBuffer([]byte("more")))
	require.Error(t, err)
	require.IsType(t, &ResourceError{}, err)
}

func TestChannelAcquireWhileTerminatingIsNoop(t *testing.T) {
	reader, writer := newDetachedPipeChannels(t)
	// simulate a channel whose termination has already been qualified
	// (X.terminate set by the kernel side) but not yet committed.
	reader.mu.Lock()
	reader.state.setXTerminate(true)
	reader.mu.Unlock()

	err := reader.Acquire(OctetBuffer(make([]byte, 4)))
	require.NoError(t, err, "acquire on a terminating channel must be a silent no-op")
	require.Nil(t, reader.Resource())
	writer.Terminate()
}

func TestChannelTerminateDetachedIsSynchronous(t *testing.T) {
	reader, writer := newDetachedPipeChannels(t)
	require.False(t, reader.Terminated())
	reader.Terminate()
	require.True(t, reader.Terminated())
	require.False(t, reader.Port().Latched(Input))
	writer.Terminate()
}

func TestChannelTerminateIsIdempotent(t *testing.T) {
	reader, _ := newDetachedPipeChannels(t)
	reader.Terminate()
	reader.Terminate()
	require.True(t, reader.Terminated())
}

func TestChannelBornTerminatedOnBadPort(t *testing.T) {
	p := NewBadPort(KindSocket, FreightOctets, CallConnect, int(unix.ECONNREFUSED))
	ch := newChannel(Output, p)
	require.True(t, ch.state.xTerminate())
}

func TestChannelSiblingsShareOnePortIndependentTermination(t *testing.T) {
	reader, writer := newDetachedPipeChannels(t)
	require.NotSame(t, reader.Port(), writer.Port(), "pipe ends are genuinely separate ports")

	chans, err := Rallocate([]string{"octets", "spawn", "bidirectional"}, nil)
	require.NoError(t, err)
	in, out := chans[0], chans[1]
	require.Same(t, in.Port(), out.Port())

	in.Terminate()
	require.True(t, in.Terminated())
	require.False(t, out.Terminated(), "sibling polarity must survive independently")
	require.True(t, out.Port().Latched(Output))
	out.Terminate()
}

func TestChannelResizeExoresourceRejectsNonSocketDescriptor(t *testing.T) {
	reader, writer := newDetachedPipeChannels(t)
	// octets freight always attempts SO_RCVBUF/SO_SNDBUF; a pipe fd isn't
	// a socket, so the kernel call itself must fail rather than the
	// Channel silently pretending to resize it.
	err := reader.ResizeExoresource(4096)
	require.Error(t, err)
	writer.Terminate()
	reader.Terminate()
}

func TestChannelEndpointOnPipeFails(t *testing.T) {
	reader, writer := newDetachedPipeChannels(t)
	_, err := reader.Endpoint()
	require.Error(t, err, "a pipe fd has no socket address")
	writer.Terminate()
	reader.Terminate()
}
