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
	"encoding/binary"
	"net"
)

// cqlHeaderLen is the size of a CQL native-protocol v3/v4 frame header:
// version(1) flags(1) stream(2) opcode(1) length(4).
const cqlHeaderLen = 9

const cqlMaxFrameLen = 256 * 1024 * 1024

// cqlInboundTransfer implements InboundTransfer for the CQL binary
// protocol: a 9-byte header followed by exactly header.length bytes of
// body. CQL streams (the 2-byte stream id at offset 2) are what let a
// single connection pipeline many concurrent requests -- unlike YB, whose
// call id lives inside the body, CQL's correlation id is in the framing
// itself.
type cqlInboundTransfer struct {
	header   [cqlHeaderLen]byte
	headerN  int
	body     []byte
	bodyN    int
	finished bool
}

func newCQLInboundTransfer() *cqlInboundTransfer {
	return &cqlInboundTransfer{}
}

func (t *cqlInboundTransfer) TransferStarted() bool {
	return t.headerN > 0 || t.bodyN > 0
}
func (t *cqlInboundTransfer) TransferFinished() bool { return t.finished }
func (t *cqlInboundTransfer) Data() []byte {
	out := make([]byte, 0, len(t.header)+len(t.body))
	out = append(out, t.header[:]...)
	return append(out, t.body...)
}
func (t *cqlInboundTransfer) ExcessData() []byte { return nil }

func (t *cqlInboundTransfer) StreamID() int16 {
	return int16(binary.BigEndian.Uint16(t.header[2:4]))
}

func (t *cqlInboundTransfer) Opcode() byte {
	return t.header[4]
}

func (t *cqlInboundTransfer) ReceiveBuffer(conn net.Conn) Status {
	if t.headerN < cqlHeaderLen {
		n, err := conn.Read(t.header[t.headerN:])
		if n > 0 {
			t.headerN += n
		}
		if err != nil {
			return StatusOf(NetworkError, "cql header read failed: %v", err)
		}
		if t.headerN < cqlHeaderLen {
			return OKStatus
		}
		bodyLen := binary.BigEndian.Uint32(t.header[5:9])
		if bodyLen > cqlMaxFrameLen {
			return StatusOf(CorruptionError, "cql frame length %d exceeds maximum", bodyLen)
		}
		t.body = make([]byte, bodyLen)
	}
	for t.bodyN < len(t.body) {
		n, err := conn.Read(t.body[t.bodyN:])
		if n > 0 {
			t.bodyN += n
		}
		if err != nil {
			return StatusOf(NetworkError, "cql body read failed: %v", err)
		}
		if n == 0 {
			break
		}
	}
	if t.bodyN == len(t.body) {
		t.finished = true
	}
	return OKStatus
}

// cqlOpcode values relevant to negotiation; the rest of the opcode space
// (QUERY, EXECUTE, RESULT, ...) is application-layer and out of scope here.
const (
	cqlOpcodeError   byte = 0x00
	cqlOpcodeStartup byte = 0x01
	cqlOpcodeReady   byte = 0x02
	cqlOpcodeQuery   byte = 0x07
)

// encodeCQLFrame builds a response frame header for the given stream and
// opcode, with body as the payload. version 0x83 marks a v3 response
// (high bit set) matching the request's version 0x03.
func encodeCQLFrame(stream int16, opcode byte, body []byte) []byte {
	out := make([]byte, cqlHeaderLen+len(body))
	out[0] = 0x83
	out[1] = 0
	binary.BigEndian.PutUint16(out[2:4], uint16(stream))
	out[4] = opcode
	binary.BigEndian.PutUint32(out[5:9], uint32(len(body)))
	copy(out[cqlHeaderLen:], body)
	return out
}
