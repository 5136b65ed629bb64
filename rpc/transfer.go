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
	"io"
	"net"
)

// InboundTransfer accumulates one frame's worth of bytes off the wire. Each
// protocol has its own framing rule (fixed-length YB header, RESP's
// line/bulk grammar, CQL's 9-byte header) but all of them drive a connection
// the same way: feed it bytes until TransferFinished, then hand the
// accumulated buffer to the connection for dispatch.
type InboundTransfer interface {
	// ReceiveBuffer reads more of the frame from conn. The Redis framer
	// issues at most one Read per call; the YB and CQL framers, once
	// their header is complete, keep reading until the body is full. It
	// is called repeatedly by the connection's read pump until
	// TransferFinished.
	ReceiveBuffer(conn net.Conn) Status

	// TransferStarted reports whether any bytes have been consumed yet.
	TransferStarted() bool

	// TransferFinished reports whether the frame is complete and ready to
	// hand off.
	TransferFinished() bool

	// Data returns the accumulated frame, valid once TransferFinished.
	Data() []byte

	// ExcessData returns bytes read past the end of this frame. Only the
	// Redis framer ever populates this, since RESP has no announced length
	// and a single Read can span frame boundaries.
	ExcessData() []byte
}

// TransferCallbacks is notified when an OutboundTransfer completes or is
// abandoned -- a caller waiting on a response needs to distinguish "sent"
// from "never will be."
type TransferCallbacks interface {
	NotifyTransferFinished()
	NotifyTransferAborted(status Status)
}

// OutboundTransfer is one or more buffers queued to be written to a
// connection's socket, advanced incrementally as the socket accepts bytes.
type OutboundTransfer struct {
	buffers   [][]byte
	cursor    int // index into buffers
	offset    int // offset within buffers[cursor]
	callbacks TransferCallbacks
	aborted   bool
}

// NewOutboundTransfer constructs an OutboundTransfer over the given buffers.
// The buffers are not copied; callers must not mutate them until the
// transfer's callbacks fire.
func NewOutboundTransfer(buffers [][]byte, callbacks TransferCallbacks) *OutboundTransfer {
	return &OutboundTransfer{buffers: buffers, callbacks: callbacks}
}

// Finished reports whether every buffer has been fully written.
func (t *OutboundTransfer) Finished() bool {
	return t.cursor >= len(t.buffers)
}

// SendBuffer writes as much of the remaining data as the socket will accept
// without blocking past a single Write call, advancing the cursor as bytes
// are consumed. It does not fire callbacks; the caller (Connection) does
// that once it knows whether the overall transfer finished or the
// connection is being torn down.
func (t *OutboundTransfer) SendBuffer(conn net.Conn) Status {
	for !t.Finished() {
		buf := t.buffers[t.cursor][t.offset:]
		if len(buf) == 0 {
			t.cursor++
			t.offset = 0
			continue
		}
		n, err := conn.Write(buf)
		if n > 0 {
			t.offset += n
		}
		if err != nil {
			if err == io.ErrShortWrite {
				continue
			}
			return StatusOf(NetworkError, "write failed: %v", err)
		}
		if n < len(buf) {
			// Partial, non-blocking write; wait for the next
			// write-ready signal instead of busy-looping.
			return OKStatus
		}
	}
	return OKStatus
}

// Abort marks the transfer as abandoned without writing anything further.
// Idempotent: calling it twice only fires the callback once.
func (t *OutboundTransfer) Abort(status Status) {
	if t.aborted {
		return
	}
	t.aborted = true
	t.callbacks.NotifyTransferAborted(status)
}

// Finish fires the finished callback. The caller must only call this once
// Finished() is true and Abort has not already fired.
func (t *OutboundTransfer) Finish() {
	if t.aborted {
		return
	}
	t.callbacks.NotifyTransferFinished()
}
