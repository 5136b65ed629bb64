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
	"github.com/gogo/protobuf/proto"

	"github.com/yugabyte/yb-rpc/rpc/rpcpb"
)

// ybStrategy implements protoStrategy for the YB wire protocol: a call id
// embedded in the frame body correlates requests and responses, and
// multiple calls may be in flight at once in both directions
// (full pipelining), unlike Redis's single-in-flight restriction.
type ybStrategy struct {
	direction Direction
}

func (s *ybStrategy) makeInboundTransfer() InboundTransfer {
	return newYBInboundTransfer()
}

func (s *ybStrategy) negotiator() NegotiationDriver {
	return saslNegotiator{direction: s.direction}
}

// splitYBFrame separates the length-delimited header from the body inside
// a decoded YB frame, the inverse of lenPrefixed.
func splitYBFrame(data []byte) (header, body []byte, status Status) {
	if len(data) < 4 {
		return nil, nil, StatusOf(CorruptionError, "yb frame too short for header length")
	}
	hdrLen := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if hdrLen < 0 || 4+hdrLen > len(data) {
		return nil, nil, StatusOf(CorruptionError, "yb frame header length out of range")
	}
	return data[4 : 4+hdrLen], data[4+hdrLen:], OKStatus
}

func (s *ybStrategy) handleFinishedTransfer(c *Connection, data []byte, excess []byte) Status {
	if s.direction == DirectionClient {
		return s.handleResponse(c, data)
	}
	return s.handleRequest(c, data)
}

func (s *ybStrategy) handleResponse(c *Connection, data []byte) Status {
	hdrBytes, bodyBytes, status := splitYBFrame(data)
	if !status.OK() {
		return status
	}
	var hdr rpcpb.ResponseHeaderPB
	if err := proto.Unmarshal(hdrBytes, &hdr); err != nil {
		return StatusOf(CorruptionError, "unmarshal response header: %v", err)
	}
	errStatus := StatusFromPB(hdr.Error)
	var resp proto.Message
	if errStatus.OK() {
		raw := RawMessage(append([]byte(nil), bodyBytes...))
		resp = &raw
	}
	c.handleCallResponse(hdr.CallId, resp, errStatus)
	return OKStatus
}

func (s *ybStrategy) handleRequest(c *Connection, data []byte) Status {
	hdrBytes, bodyBytes, status := splitYBFrame(data)
	if !status.OK() {
		return status
	}
	var hdr rpcpb.RequestHeaderPB
	if err := proto.Unmarshal(hdrBytes, &hdr); err != nil {
		return StatusOf(CorruptionError, "unmarshal request header: %v", err)
	}
	if _, exists := c.inCalls[hdr.CallId]; exists {
		// A reused call id while the first is still outstanding is
		// treated as a protocol violation serious enough to tear down
		// the whole connection, rather than silently rejecting just the
		// offending call.
		return StatusOf(ProtocolError, "duplicate call id %d", hdr.CallId)
	}
	raw := RawMessage(append([]byte(nil), bodyBytes...))
	call := &InboundCall{
		CallId:   hdr.CallId,
		Method:   hdr.MethodName,
		Request:  &raw,
		conn:     c,
		protocol: ProtocolYB,
	}
	c.inCalls[hdr.CallId] = call
	c.messenger.QueueInboundCall(call)
	return OKStatus
}

func (s *ybStrategy) wrapRequest(call *OutboundCall) ([][]byte, Status) {
	header := call.Header()
	hdrBytes, err := proto.Marshal(header)
	if err != nil {
		return nil, StatusOf(ProtocolError, "marshal header: %v", err)
	}
	bodyBytes, err := proto.Marshal(call.Request)
	if err != nil {
		return nil, StatusOf(ProtocolError, "marshal request: %v", err)
	}
	frame := encodeYBFrame(append(lenPrefixed(hdrBytes), bodyBytes...))
	return [][]byte{frame}, OKStatus
}

func (s *ybStrategy) wrapResponse(c *Connection, call *InboundCall, resp proto.Message, errStatus Status) [][]byte {
	hdr := &rpcpb.ResponseHeaderPB{CallId: call.CallId}
	if !errStatus.OK() {
		hdr.Error = errStatus.ToPB()
	}
	hdrBytes, err := proto.Marshal(hdr)
	if err != nil {
		return nil
	}
	var bodyBytes []byte
	if errStatus.OK() && resp != nil {
		bodyBytes, err = proto.Marshal(resp)
		if err != nil {
			return nil
		}
	}
	frame := encodeYBFrame(append(lenPrefixed(hdrBytes), bodyBytes...))
	return [][]byte{frame}
}
