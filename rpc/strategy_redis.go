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

import "github.com/gogo/protobuf/proto"

// redisStrategy implements protoStrategy for RESP. Unlike YB and CQL,
// Redis's wire protocol has no correlation id at all: a client is only
// ever allowed one command in flight, and the response order is implied
// by the request order. A second command arriving before the first is
// answered is parked rather than rejected, and re-driven once the first
// is answered (see Connection.pendingRedisFrame).
type redisStrategy struct {
	direction Direction
}

func (s *redisStrategy) makeInboundTransfer() InboundTransfer {
	return newRedisInboundTransfer()
}

func (s *redisStrategy) negotiator() NegotiationDriver {
	return noopNegotiator{}
}

func (s *redisStrategy) handleFinishedTransfer(c *Connection, data []byte, excess []byte) Status {
	if s.direction == DirectionClient {
		return s.handleResponse(c, data)
	}
	return s.handleRequest(c, data, excess)
}

func (s *redisStrategy) handleResponse(c *Connection, data []byte) Status {
	// RESP carries no correlation id: a Redis connection only ever has
	// one call outstanding, so the response belongs to whichever call
	// that is.
	callID, ok := c.soleOutboundCallID()
	if !ok {
		return StatusOf(ProtocolError, "received redis response with no call outstanding")
	}
	raw := RawMessage(append([]byte(nil), data...))
	c.handleCallResponse(callID, &raw, OKStatus)
	return OKStatus
}

func (s *redisStrategy) handleRequest(c *Connection, data []byte, excess []byte) Status {
	if c.processingRedisCall {
		if c.pendingRedisFrame != nil {
			// A third frame arriving while one is already parked has no
			// slot to park into; the single-in-flight rule only makes
			// room for one frame ahead of the one being handled.
			return StatusOf(ProtocolError, "redis connection already has a parked command")
		}
		// Single-in-flight: leave this frame parked instead of tearing
		// the connection down. doQueueResponseForCall re-drives it once
		// the call already in flight is answered.
		c.pendingRedisFrame = append([]byte(nil), data...)
		if len(excess) > 0 {
			c.pendingExcess = excess
		}
		return OKStatus
	}
	c.processingRedisCall = true
	raw := RawMessage(append([]byte(nil), data...))
	call := &InboundCall{
		Method:   "REDIS",
		Request:  &raw,
		conn:     c,
		protocol: ProtocolRedis,
	}
	c.inCalls[0] = call
	c.messenger.QueueInboundCall(call)
	if len(excess) > 0 {
		// A single Read spanned into the next command; hand the leftover
		// back in as though it just arrived. The read pump seeds its next
		// inbound transfer with it as soon as this frame is dispatched
		// (see Connection.readPump); a command it completes while this
		// call is still in flight is parked in pendingRedisFrame.
		c.pendingExcess = excess
	}
	return OKStatus
}

func (s *redisStrategy) wrapRequest(call *OutboundCall) ([][]byte, Status) {
	raw, ok := call.Request.(*RawMessage)
	if !ok {
		return nil, StatusOf(ProtocolError, "redis request must be a RawMessage")
	}
	return [][]byte{[]byte(*raw)}, OKStatus
}

func (s *redisStrategy) wrapResponse(c *Connection, call *InboundCall, resp proto.Message, errStatus Status) [][]byte {
	if !errStatus.OK() {
		msg := []byte("-ERR " + errStatus.Error() + "\r\n")
		return [][]byte{msg}
	}
	if resp == nil {
		return [][]byte{[]byte("+OK\r\n")}
	}
	raw, ok := resp.(*RawMessage)
	if !ok {
		return [][]byte{[]byte("-ERR malformed response\r\n")}
	}
	return [][]byte{[]byte(*raw)}
}
