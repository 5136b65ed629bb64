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
	"time"

	"github.com/gogo/protobuf/proto"

	"github.com/yugabyte/yb-rpc/rpc/rpcpb"
)

// CallState tracks an OutboundCall's progress through the pending-call
// table: queued for send, on the wire, finished (answered, failed, or
// cancelled by shutdown), or timed out.
type CallState int32

const (
	CallReady CallState = iota
	CallSent
	CallFinished
	CallTimedOut
)

func (s CallState) String() string {
	switch s {
	case CallReady:
		return "READY"
	case CallSent:
		return "SENT"
	case CallFinished:
		return "FINISHED"
	case CallTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// OutboundCall is a call this process initiated, awaiting a response
// correlated by CallId. It is constructed by the caller, handed to
// Connection.QueueOutboundCall, and completed exactly once -- by a matching
// response, a timeout, or connection teardown -- whichever comes first.
type OutboundCall struct {
	CallId     int32
	Method     string
	Request    proto.Message
	Response   proto.Message
	Timeout    time.Duration
	SentAt     time.Time
	state      CallState
	done       chan struct{}
	resultErr  Status
}

// NewOutboundCall constructs a call ready to be queued. response is the
// message the caller expects to be filled in on success; it must be a
// pointer to a zero value.
func NewOutboundCall(method string, req, resp proto.Message, timeout time.Duration) *OutboundCall {
	return &OutboundCall{
		Method:   method,
		Request:  req,
		Response: resp,
		Timeout:  timeout,
		done:     make(chan struct{}),
	}
}

// Wait blocks until the call completes (success, error, or timeout) and
// returns its terminal Status.
func (c *OutboundCall) Wait() Status {
	<-c.done
	return c.resultErr
}

// Done returns a channel closed once the call has completed, for callers
// that want to select on several calls (or a context) at once.
func (c *OutboundCall) Done() <-chan struct{} {
	return c.done
}

// complete transitions the call to a terminal state exactly once. Calling
// it more than once is a bug in the caller and is guarded against by the
// pending-call table, which removes the entry (or, on timeout, marks it
// as a tombstone) when invoking this.
func (c *OutboundCall) complete(state CallState, status Status) {
	c.state = state
	c.resultErr = status
	close(c.done)
}

func (c *OutboundCall) State() CallState { return c.state }

// Header builds the wire header for this call, to be sent ahead of the
// marshaled Request.
func (c *OutboundCall) Header() *rpcpb.RequestHeaderPB {
	return &rpcpb.RequestHeaderPB{
		CallId:        c.CallId,
		MethodName:    c.Method,
		TimeoutMillis: uint32(c.Timeout / time.Millisecond),
	}
}

// InboundCall is a call this process received from a remote peer, in
// progress between being fully read off the wire and having its response
// queued back. Responding is one of the documented cross-goroutine entry
// points (with CompleteNegotiation and Shutdown): a handler running on an arbitrary
// goroutine calls Respond, which hands off to the owning Connection's
// Reactor rather than writing the socket directly.
type InboundCall struct {
	CallId  int32
	Method  string
	Request proto.Message

	conn      *Connection
	arrivedAt time.Time

	// cqlStream is set only for CQL calls, where the correlation id lives
	// in the frame header rather than the body.
	cqlStream int16
	protocol  Protocol
}

// Respond queues resp (or errStatus, if non-OK) as this call's response.
// Safe to call from any goroutine; internally this is QueueResponseForCall.
func (c *InboundCall) Respond(resp proto.Message, errStatus Status) {
	c.conn.QueueResponseForCall(c, resp, errStatus)
}

// ElapsedSince reports how long this call has been in flight, for
// DumpPB-style introspection.
func (c *InboundCall) ElapsedSince(now time.Time) time.Duration {
	return now.Sub(c.arrivedAt)
}
