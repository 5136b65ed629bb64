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

// noopNegotiator completes immediately with no bytes exchanged. Redis has
// no negotiation phase: a RESP connection is usable the instant it is
// accepted.
type noopNegotiator struct{}

func (noopNegotiator) Negotiate(ctx negotiationContext, conn net.Conn) Status {
	return OKStatus
}

// saslNegotiator implements a PLAIN-mechanism handshake for YB
// connections: the client sends a single SASL_INITIATE frame carrying
// credentials, and the server always accepts them -- a dummy auth store
// that lets everyone in, not real credential checking, standing in for
// the negotiation-shaped exchange the wire protocol expects. The frame
// format used here is deliberately simple: a 4-byte length prefix
// followed by an opaque credential blob, not real SASL/GSSAPI token
// framing.
type saslNegotiator struct {
	direction Direction
}

func (n saslNegotiator) Negotiate(ctx negotiationContext, conn net.Conn) Status {
	if n.direction == DirectionClient {
		return n.negotiateClient(conn)
	}
	return n.negotiateServer(conn)
}

func (n saslNegotiator) negotiateClient(conn net.Conn) Status {
	creds := []byte("PLAIN\x00")
	frame := make([]byte, 4+len(creds))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(creds)))
	copy(frame[4:], creds)
	if _, err := conn.Write(frame); err != nil {
		return StatusOf(NetworkError, "sasl initiate write failed: %v", err)
	}
	var respLen [4]byte
	if _, err := readFull(conn, respLen[:]); err != nil {
		return StatusOf(NetworkError, "sasl response read failed: %v", err)
	}
	n2 := binary.BigEndian.Uint32(respLen[:])
	buf := make([]byte, n2)
	if _, err := readFull(conn, buf); err != nil {
		return StatusOf(NetworkError, "sasl response body read failed: %v", err)
	}
	return OKStatus
}

func (n saslNegotiator) negotiateServer(conn net.Conn) Status {
	var reqLen [4]byte
	if _, err := readFull(conn, reqLen[:]); err != nil {
		return StatusOf(NetworkError, "sasl initiate read failed: %v", err)
	}
	n2 := binary.BigEndian.Uint32(reqLen[:])
	if n2 > 4096 {
		return StatusOf(CorruptionError, "sasl initiate too large: %d", n2)
	}
	buf := make([]byte, n2)
	if _, err := readFull(conn, buf); err != nil {
		return StatusOf(NetworkError, "sasl initiate body read failed: %v", err)
	}
	ack := []byte("OK")
	frame := make([]byte, 4+len(ack))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(ack)))
	copy(frame[4:], ack)
	if _, err := conn.Write(frame); err != nil {
		return StatusOf(NetworkError, "sasl ack write failed: %v", err)
	}
	return OKStatus
}

// cqlStartupNegotiator reads a CQL STARTUP frame and replies READY,
// matching the minimal handshake real CQL clients (and drivers' connection
// pools) expect before sending queries. Anything other than STARTUP as the
// first frame is a protocol error.
type cqlStartupNegotiator struct {
	direction Direction
}

func (n cqlStartupNegotiator) Negotiate(ctx negotiationContext, conn net.Conn) Status {
	if n.direction == DirectionClient {
		return n.negotiateClient(conn)
	}
	return n.negotiateServer(conn)
}

func (n cqlStartupNegotiator) negotiateClient(conn net.Conn) Status {
	body := []byte{0x00, 0x01, 0x00, 0x0b, 'C', 'Q', 'L', '_', 'V', 'E', 'R', 'S', 'I', 'O', 'N', 0x00, 0x05, '3', '.', '0', '.', '0'}
	frame := encodeCQLFrame(0, cqlOpcodeStartup, body)
	if _, err := conn.Write(frame); err != nil {
		return StatusOf(NetworkError, "cql startup write failed: %v", err)
	}
	var hdr [cqlHeaderLen]byte
	if _, err := readFull(conn, hdr[:]); err != nil {
		return StatusOf(NetworkError, "cql ready read failed: %v", err)
	}
	bodyLen := binary.BigEndian.Uint32(hdr[5:9])
	if bodyLen > 0 {
		buf := make([]byte, bodyLen)
		if _, err := readFull(conn, buf); err != nil {
			return StatusOf(NetworkError, "cql ready body read failed: %v", err)
		}
	}
	if hdr[4] != cqlOpcodeReady {
		return StatusOf(ProtocolError, "expected cql READY, got opcode %d", hdr[4])
	}
	return OKStatus
}

func (n cqlStartupNegotiator) negotiateServer(conn net.Conn) Status {
	t := newCQLInboundTransfer()
	for !t.TransferFinished() {
		if status := t.ReceiveBuffer(conn); !status.OK() {
			return status
		}
	}
	if t.Opcode() != cqlOpcodeStartup {
		return StatusOf(ProtocolError, "expected cql STARTUP, got opcode %d", t.Opcode())
	}
	frame := encodeCQLFrame(t.StreamID(), cqlOpcodeReady, nil)
	if _, err := conn.Write(frame); err != nil {
		return StatusOf(NetworkError, "cql ready write failed: %v", err)
	}
	return OKStatus
}

// readFull reads exactly len(buf) bytes, unlike a single Read call which
// may return short.
func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
