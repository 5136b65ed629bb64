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

// cqlStrategy implements protoStrategy for the CQL binary protocol. CQL's
// stream id (in the frame header, not the body) is the correlation key,
// and unlike Redis, multiple streams may be outstanding at once --
// pipelining is part of the protocol's design, not a violation of it.
type cqlStrategy struct {
	direction Direction
}

func (s *cqlStrategy) makeInboundTransfer() InboundTransfer {
	return newCQLInboundTransfer()
}

func (s *cqlStrategy) negotiator() NegotiationDriver {
	return cqlStartupNegotiator{direction: s.direction}
}

func (s *cqlStrategy) handleFinishedTransfer(c *Connection, data []byte, excess []byte) Status {
	if len(data) < cqlHeaderLen {
		return StatusOf(CorruptionError, "cql frame shorter than header")
	}
	stream := int16(uint16(data[2])<<8 | uint16(data[3]))
	opcode := data[4]
	body := data[cqlHeaderLen:]

	if s.direction == DirectionClient {
		raw := RawMessage(append([]byte(nil), body...))
		c.handleCallResponse(int32(stream), &raw, OKStatus)
		return OKStatus
	}

	if s.direction == DirectionServer && opcode == cqlOpcodeStartup {
		// A STARTUP after negotiation has already completed is a client
		// bug; the ProtocolError tears down the whole connection,
		// including its other in-flight streams.
		return StatusOf(ProtocolError, "unexpected cql STARTUP after negotiation")
	}

	callID := int32(stream)
	if _, exists := c.inCalls[callID]; exists {
		return StatusOf(ProtocolError, "duplicate cql stream id %d", stream)
	}
	raw := RawMessage(append([]byte(nil), body...))
	call := &InboundCall{
		CallId:    callID,
		Method:    "CQL",
		Request:   &raw,
		conn:      c,
		cqlStream: stream,
		protocol:  ProtocolCQL,
	}
	c.inCalls[callID] = call
	c.messenger.QueueInboundCall(call)
	return OKStatus
}

func (s *cqlStrategy) wrapRequest(call *OutboundCall) ([][]byte, Status) {
	raw, ok := call.Request.(*RawMessage)
	if !ok {
		return nil, StatusOf(ProtocolError, "cql request must be a RawMessage")
	}
	frame := encodeCQLFrame(int16(call.CallId), cqlOpcodeQuery, []byte(*raw))
	return [][]byte{frame}, OKStatus
}

func (s *cqlStrategy) wrapResponse(c *Connection, call *InboundCall, resp proto.Message, errStatus Status) [][]byte {
	if !errStatus.OK() {
		msg := []byte(errStatus.Error())
		return [][]byte{encodeCQLFrame(call.cqlStream, cqlOpcodeError, msg)}
	}
	var body []byte
	if raw, ok := resp.(*RawMessage); ok && raw != nil {
		body = []byte(*raw)
	}
	return [][]byte{encodeCQLFrame(call.cqlStream, cqlOpcodeReady, body)}
}
