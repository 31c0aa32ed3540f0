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
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRtypesListsKnownRequests(t *testing.T) {
	rtypes := Rtypes()
	require.NotEmpty(t, rtypes)

	found := false
	for _, r := range rtypes {
		if len(r) == 3 && r[0] == "octets" && r[1] == "spawn" && r[2] == "bidirectional" {
			found = true
		}
	}
	require.True(t, found)

	// mutating the returned slices must not corrupt the directory
	rtypes[0][0] = "corrupted"
	again := Rtypes()
	require.NotEqual(t, "corrupted", again[0][0])
}

func TestRallocateUnknownRequestIsResourceError(t *testing.T) {
	_, err := Rallocate([]string{"nonsense", "request"}, nil)
	require.Error(t, err)
	require.IsType(t, &ResourceError{}, err)
}

func TestRallocateSpawnUnidirectional(t *testing.T) {
	chans, err := Rallocate([]string{"octets", "spawn", "unidirectional"}, nil)
	require.NoError(t, err)
	require.Len(t, chans, 2)
	reader, writer := chans[0], chans[1]
	require.Equal(t, Input, reader.Polarity())
	require.Equal(t, Output, writer.Polarity())
	require.NotSame(t, reader.Port(), writer.Port())
}

func TestRallocateSpawnBidirectional(t *testing.T) {
	chans, err := Rallocate([]string{"octets", "spawn", "bidirectional"}, nil)
	require.NoError(t, err)
	require.Len(t, chans, 4)
	require.Same(t, chans[0].Port(), chans[1].Port())
	require.Same(t, chans[2].Port(), chans[3].Port())
	require.NotSame(t, chans[0].Port(), chans[2].Port())
}

func TestRallocatePortsAcquireSocket(t *testing.T) {
	chans, err := Rallocate([]string{"ports", "acquire", "socket"}, nil)
	require.NoError(t, err)
	require.Len(t, chans, 4)
	for _, c := range chans {
		require.Equal(t, FreightPorts, c.Port().Freight())
	}
}

func TestRallocateFileReadWrite(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "junction-alloc-*")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())

	wchans, err := Rallocate([]string{"octets", "file", "write"}, map[string]string{
		"path": path, "create": "1",
	})
	require.NoError(t, err)
	require.Len(t, wchans, 1)
	require.Equal(t, Output, wchans[0].Polarity())

	rchans, err := Rallocate([]string{"octets", "file", "read"}, map[string]string{"path": path})
	require.NoError(t, err)
	require.Len(t, rchans, 1)
	require.Equal(t, Input, rchans[0].Polarity())
}
