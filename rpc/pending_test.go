// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCarPoolPutGetRemove(t *testing.T) {
	p := newCarPool()
	call := &OutboundCall{}
	p.Put(7, call)

	pc, ok := p.Get(7)
	require.True(t, ok)
	require.Same(t, call, pc.call)
	require.Equal(t, 1, p.Len())

	p.Remove(7)
	_, ok = p.Get(7)
	require.False(t, ok)
	require.Equal(t, 0, p.Len())
}

func TestCarPoolReusesFreedSlots(t *testing.T) {
	p := newCarPool()
	p.Put(1, &OutboundCall{})
	p.Put(2, &OutboundCall{})
	p.Remove(1)
	before := len(p.slots)
	p.Put(3, &OutboundCall{})
	require.Equal(t, before, len(p.slots), "expected slot reuse instead of growth")
}

func TestCarPoolTombstoneDropsLateResponse(t *testing.T) {
	p := newCarPool()
	call := &OutboundCall{}
	p.Put(5, call)
	p.Tombstone(5)

	pc, ok := p.Get(5)
	require.True(t, ok, "tombstoned entry must still be found, not silently vanish")
	require.True(t, pc.timedOut)
}

func TestCarPoolEachIteratesLiveEntriesOnly(t *testing.T) {
	p := newCarPool()
	p.Put(1, &OutboundCall{})
	p.Put(2, &OutboundCall{})
	p.Remove(1)

	seen := map[int32]bool{}
	p.Each(func(callID int32, pc *pendingCall) {
		seen[callID] = true
	})
	require.Equal(t, map[int32]bool{2: true}, seen)
}
