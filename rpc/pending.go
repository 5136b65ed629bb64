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

// pendingCall is a slab-allocated slot tracking one outstanding
// OutboundCall, drawn from a carPool free list instead of being heap
// allocated per call -- the same avoid-per-call-allocation design the
// original calls out explicitly for its CallAwaitingResponse ("car") pool.
type pendingCall struct {
	call      *OutboundCall
	timer     *timerHandle
	timedOut  bool
	next      int // free-list link; -1 when in use
}

// carPool is a per-connection table of pendingCall slots, found through a
// map from call id to slot index, plus a free list threaded through unused
// slots.
// A timed-out call's slot is not removed from the table immediately: it is
// marked timedOut and left as a tombstone so a response that arrives after
// the deadline is recognized and silently dropped instead of being matched
// against a reused slot.
type carPool struct {
	slots    []pendingCall
	byCallID map[int32]int // call id -> slot index
	freeHead int
}

func newCarPool() *carPool {
	return &carPool{byCallID: make(map[int32]int), freeHead: -1}
}

// Put inserts a new pending call under callID, reusing a free slot if one
// is available.
func (p *carPool) Put(callID int32, call *OutboundCall) *pendingCall {
	var idx int
	if p.freeHead >= 0 {
		idx = p.freeHead
		p.freeHead = p.slots[idx].next
	} else {
		p.slots = append(p.slots, pendingCall{})
		idx = len(p.slots) - 1
	}
	p.slots[idx] = pendingCall{call: call, next: -1}
	p.byCallID[callID] = idx
	return &p.slots[idx]
}

// Get looks up the pending call for callID. ok is false if there is no
// entry (never sent, or already reaped) -- callers must not distinguish
// "never existed" from "tombstoned" by this alone; check timedOut too.
func (p *carPool) Get(callID int32) (*pendingCall, bool) {
	idx, ok := p.byCallID[callID]
	if !ok {
		return nil, false
	}
	return &p.slots[idx], true
}

// Remove detaches callID from the table and returns its slot to the free
// list. Called once a call reaches a terminal state and its response (or
// lack of one) no longer matters.
func (p *carPool) Remove(callID int32) {
	idx, ok := p.byCallID[callID]
	if !ok {
		return
	}
	delete(p.byCallID, callID)
	p.slots[idx] = pendingCall{next: p.freeHead}
	p.freeHead = idx
}

// Tombstone marks the slot for callID as timed out without removing it
// from byCallID, so a late-arriving response is matched and discarded
// rather than silently misrouted to a future call reusing the same id.
func (p *carPool) Tombstone(callID int32) {
	if idx, ok := p.byCallID[callID]; ok {
		p.slots[idx].timedOut = true
	}
}

// Len reports the number of entries in the table (non-free slots,
// tombstones included), used by Connection.Idle to decide whether
// outbound calls are still awaited.
func (p *carPool) Len() int {
	return len(p.byCallID)
}

// Each iterates all entries in the table, tombstones included, used by
// doShutdown and soleOutboundCallID.
func (p *carPool) Each(f func(callID int32, pc *pendingCall)) {
	for callID, idx := range p.byCallID {
		f(callID, &p.slots[idx])
	}
}

// Clear empties the pool, including tombstoned slots. Used by doShutdown
// once every pending call has been completed, so a closed connection
// reports no outstanding outbound calls rather than carrying tombstones
// forever.
func (p *carPool) Clear() {
	p.slots = nil
	p.byCallID = make(map[int32]int)
	p.freeHead = -1
}
