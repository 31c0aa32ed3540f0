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
)

func TestQualifyTransferReadyIsAND(t *testing.T) {
	var q qualify
	require.False(t, q.transferReady())

	q.setITransfer(true)
	require.False(t, q.transferReady(), "I alone must not satisfy transfer_ready")

	q.setXTransfer(true)
	require.True(t, q.transferReady())

	q.setITransfer(false)
	require.False(t, q.transferReady(), "dropping I must drop transfer_ready")
}

func TestQualifyShouldTerminateIsOR(t *testing.T) {
	var q qualify
	require.False(t, q.shouldTerminate())

	q.setITerminate(true)
	require.True(t, q.shouldTerminate())

	q.setITerminate(false)
	q.setXTerminate(true)
	require.True(t, q.shouldTerminate())
}

func TestDeltaBits(t *testing.T) {
	var d delta
	require.True(t, d.isZero())

	d.setTransfer()
	require.True(t, d.transfer())
	require.False(t, d.terminate())

	d.setTerminate()
	require.True(t, d.transfer())
	require.True(t, d.terminate())

	d.clear()
	require.True(t, d.isZero())
}

func TestEventsBits(t *testing.T) {
	var e events
	require.True(t, e.isZero())
	e.setTransfer()
	e.setTerminate()
	require.True(t, e.transfer())
	require.True(t, e.terminate())
}

func TestControlFlags(t *testing.T) {
	var c control
	require.False(t, c.has(ctrlForce))
	c.set(ctrlForce)
	require.True(t, c.has(ctrlForce))
	c.clear(ctrlForce)
	require.False(t, c.has(ctrlForce))
}

func TestPolarityString(t *testing.T) {
	require.Equal(t, "input", Input.String())
	require.Equal(t, "output", Output.String())
}
