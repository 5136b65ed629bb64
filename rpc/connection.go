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
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/yugabyte/yb-rpc/rpc/rpcpb"
	"github.com/yugabyte/yb-rpc/util/log"
	"github.com/yugabyte/yb-rpc/util/metric"
)

// Protocol identifies which framing/dispatch strategy a Connection uses.
// A strategy struct selected by this tag keeps YB, Redis, and CQL's
// differences collected in one place per protocol instead of scattered
// across a three-way type switch embedded in every method.
type Protocol int

const (
	ProtocolYB Protocol = iota
	ProtocolRedis
	ProtocolCQL
)

func (p Protocol) String() string {
	switch p {
	case ProtocolYB:
		return "yb"
	case ProtocolRedis:
		return "redis"
	case ProtocolCQL:
		return "cql"
	default:
		return "unknown"
	}
}

// Direction is which end of the connection this process is: the one that
// dialed, or the one that accepted.
type Direction int

const (
	DirectionClient Direction = iota
	DirectionServer
)

// connState is the Connection's lifecycle state: Fresh until registered,
// Negotiating until the handshake completes, Open while serving calls,
// ShuttingDown once torn down.
type connState int32

const (
	StateFresh connState = iota
	StateNegotiating
	StateOpen
	StateShuttingDown
)

func (s connState) String() string {
	switch s {
	case StateFresh:
		return "FRESH"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateOpen:
		return "OPEN"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "UNKNOWN"
	}
}

// protoStrategy collects the capabilities that vary by protocol. Exactly
// one strategy implementation exists per Protocol value.
type protoStrategy interface {
	makeInboundTransfer() InboundTransfer
	// handleFinishedTransfer dispatches a completed inbound transfer,
	// either completing a pending outbound call (client direction) or
	// producing a new InboundCall (server direction).
	handleFinishedTransfer(c *Connection, data []byte, excess []byte) Status
	// wrapResponse builds the outbound frame(s) for responding to call.
	wrapResponse(c *Connection, call *InboundCall, resp proto.Message, errStatus Status) [][]byte
	// wrapRequest builds the outbound frame(s) for an OutboundCall. It is
	// the request-side counterpart of wrapResponse, split out per
	// protocol because YB's length-delimited header, Redis's headerless
	// RESP array, and CQL's stream-tagged frame have nothing in common.
	wrapRequest(call *OutboundCall) ([][]byte, Status)
	negotiator() NegotiationDriver
}

// Connection is the single-owner state machine for one multiplexed socket.
// Every field here is mutated only by the goroutine that owns the
// connection (the Reactor's per-connection actor), with three sanctioned
// exceptions: QueueResponseForCall, CompleteNegotiation and Shutdown,
// which are safe to call from any goroutine because they hand off through
// the Reactor's task channel instead of touching fields directly.
type Connection struct {
	id        uuid.UUID
	conn      net.Conn
	protocol  Protocol
	direction Direction
	strategy  protoStrategy
	messenger Messenger

	state connState

	reactor  *Reactor
	done     chan struct{}
	registered bool

	nextCallID   atomic.Int32
	outCalls     *carPool
	inCalls      map[int32]*InboundCall // YB: keyed by call id
	processingRedisCall bool              // Redis: single-in-flight slot

	writeQueue []*OutboundTransfer
	wantWrite  bool

	writeReady chan struct{}
	taskCh     chan func()
	readEvents chan readEvent

	// pendingExcess holds bytes the Redis framer read past the end of the
	// current command, to be fed into the next inbound transfer instead
	// of discarded.
	pendingExcess []byte

	// pendingRedisFrame holds a second Redis command that arrived while
	// the first was still being handled. Redis's single-in-flight rule
	// means it cannot be dispatched yet; it is parked here and re-driven
	// by doQueueResponseForCall once the call in flight completes.
	pendingRedisFrame []byte

	// inboundStarted mirrors the current InboundTransfer's
	// TransferStarted(): true once any bytes of the next frame have been
	// read but before it's complete. Set by readPump (a different
	// goroutine from the owner), so it's guarded by mu like state is,
	// letting Idle() see a partially-read frame it otherwise has no
	// visibility into.
	inboundStarted bool

	lastActivity time.Time

	metrics *connMetrics

	mu sync.Mutex // guards fields touched by QueueResponseForCall/task posting

	closeOnce sync.Once
}

type connMetrics struct {
	bytesSent     *metric.Counter
	bytesReceived *metric.Counter
	callsOutbound *metric.Counter
	transferLatency *metric.Histogram
}

// NewConnection constructs a Connection in state Fresh. Call Register to
// start its owning goroutine and negotiation.
func NewConnection(conn net.Conn, protocol Protocol, direction Direction, messenger Messenger, reg *metric.Registry) *Connection {
	c := &Connection{
		id:        uuid.New(),
		conn:      conn,
		protocol:  protocol,
		direction: direction,
		messenger: messenger,
		state:     StateFresh,
		done:      make(chan struct{}),
		outCalls:  newCarPool(),
		inCalls:   make(map[int32]*InboundCall),
	}
	c.strategy = strategyFor(protocol, direction)
	if reg != nil {
		c.metrics = &connMetrics{
			bytesSent:       reg.Counter(fmt.Sprintf("conn.%s.bytes-sent", c.id)),
			bytesReceived:   reg.Counter(fmt.Sprintf("conn.%s.bytes-received", c.id)),
			callsOutbound:   reg.Counter(fmt.Sprintf("conn.%s.calls-outbound", c.id)),
			transferLatency: reg.Histogram(fmt.Sprintf("conn.%s.transfer-latency-us", c.id), 60*1e6, 3),
		}
	}
	return c
}

func strategyFor(p Protocol, d Direction) protoStrategy {
	switch p {
	case ProtocolYB:
		return &ybStrategy{direction: d}
	case ProtocolRedis:
		return &redisStrategy{direction: d}
	case ProtocolCQL:
		return &cqlStrategy{direction: d}
	default:
		panic("unknown protocol")
	}
}

// ID returns the connection's unique identifier, stable for its lifetime.
// It is the suffix of the connection's metric names and appears in its log
// lines; ToString and DumpPB do not include it.
func (c *Connection) ID() uuid.UUID { return c.id }

// State returns the connection's current lifecycle state.
func (c *Connection) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// setInboundStarted records whether the in-progress InboundTransfer has
// consumed any bytes yet. Called from readPump after every ReceiveBuffer,
// never from the owning goroutine.
func (c *Connection) setInboundStarted(started bool) {
	c.mu.Lock()
	c.inboundStarted = started
	c.mu.Unlock()
}

// Idle reports whether the connection has no outstanding work: no
// inbound bytes accumulated toward the next frame, nothing queued to
// write, no calls awaiting response, no inbound calls being handled,
// and negotiation complete. The reactor's idle scan samples this to log
// how many connections are idle; it does not close them.
func (c *Connection) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateNegotiating || c.state == StateFresh {
		return false
	}
	if c.inboundStarted {
		return false
	}
	if len(c.writeQueue) > 0 {
		return false
	}
	if c.outCalls.Len() > 0 {
		return false
	}
	if len(c.inCalls) > 0 {
		return false
	}
	if c.processingRedisCall || len(c.pendingRedisFrame) > 0 {
		return false
	}
	return true
}

// Register attaches the connection to a reactor, which starts its owning
// goroutine. Negotiation is kicked off immediately; until it completes,
// Idle() is false and queued outbound data is held rather than written.
func (c *Connection) Register(r *Reactor) {
	c.reactor = r
	c.registered = true
	c.setState(StateNegotiating)
	r.registerConnection(c)
}

// QueueOutboundCall enqueues call to be sent once the connection is open.
// Returns a non-OK Status immediately if the connection is shutting down;
// otherwise the call completes asynchronously via call.Wait().
func (c *Connection) QueueOutboundCall(call *OutboundCall) Status {
	c.mu.Lock()
	if c.state == StateShuttingDown {
		c.mu.Unlock()
		call.complete(CallFinished, StatusOf(Shutdown, "connection is shutting down"))
		return call.resultErr
	}
	call.CallId = c.nextCallID.Inc()
	if call.Timeout <= 0 {
		call.Timeout = c.reactor.cfg.DefaultCallTimeout
	}
	c.mu.Unlock()

	c.reactor.scheduleOn(c, func() {
		c.doQueueOutboundCall(call)
	})
	return OKStatus
}

func (c *Connection) doQueueOutboundCall(call *OutboundCall) {
	if c.metrics != nil {
		c.metrics.callsOutbound.Inc(1)
	}
	pc := c.outCalls.Put(call.CallId, call)
	if call.Timeout > 0 {
		pc.timer = c.reactor.registerTimeout(call.Timeout, func() {
			c.reactor.scheduleOn(c, func() {
				c.handleOutboundCallTimeout(call.CallId)
			})
		})
	}
	call.state = CallSent
	call.SentAt = time.Now()

	frames, status := c.strategy.wrapRequest(call)
	if !status.OK() {
		c.abortCall(call.CallId, status)
		return
	}
	for _, f := range frames {
		c.queueOutbound(f, nil)
	}
}

// lenPrefixed prefixes b with its own length as a fixed 4-byte big-endian
// uint32, used to delimit the header from the body inside a single YB
// frame (the frame's outer length already delimits the whole thing from
// the next frame).
func lenPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	out[0] = byte(len(b) >> 24)
	out[1] = byte(len(b) >> 16)
	out[2] = byte(len(b) >> 8)
	out[3] = byte(len(b))
	copy(out[4:], b)
	return out
}

// handleOutboundCallTimeout fires on the owning goroutine when a call's
// timer expires before a response arrived. The slot is tombstoned, not
// removed, so a late response is recognized and dropped rather than
// misrouted to whatever call eventually reuses this id.
func (c *Connection) handleOutboundCallTimeout(callID int32) {
	pc, ok := c.outCalls.Get(callID)
	if !ok || pc.timedOut || pc.call.state != CallSent {
		return
	}
	c.outCalls.Tombstone(callID)
	pc.call.complete(CallTimedOut, StatusOf(Timeout, "call %d timed out after %s", callID, pc.call.Timeout))
}

func (c *Connection) abortCall(callID int32, status Status) {
	pc, ok := c.outCalls.Get(callID)
	if !ok {
		return
	}
	call := pc.call
	c.outCalls.Remove(callID)
	call.complete(CallFinished, status)
}

// handleCallResponse completes the outbound call matching callID, if it
// is still live (not timed out, not already answered). A response for an
// unknown call id is logged and dropped; a response for a tombstoned
// (timed-out) call id is dropped silently -- this is the at-most-once
// guarantee: a call is completed exactly once, by whichever of "response
// arrives" or "timer fires" happens first.
func (c *Connection) handleCallResponse(callID int32, resp proto.Message, errStatus Status) {
	pc, ok := c.outCalls.Get(callID)
	if !ok {
		log.Warningf(context.Background(), "response for unknown call id %d on connection %s", callID, c.id)
		return
	}
	if pc.timedOut {
		return
	}
	// Remove resets the slot pc points into, so keep what is needed first.
	call, timer := pc.call, pc.timer
	c.outCalls.Remove(callID)
	if timer != nil {
		timer.Stop()
	}
	if !errStatus.OK() {
		call.complete(CallFinished, errStatus)
		return
	}
	if resp != nil && call.Response != nil {
		if dstRaw, ok := call.Response.(*RawMessage); ok {
			if srcRaw, ok := resp.(*RawMessage); ok {
				*dstRaw = *srcRaw
			}
		} else if srcRaw, ok := resp.(*RawMessage); ok {
			if err := proto.Unmarshal(*srcRaw, call.Response); err != nil {
				call.complete(CallFinished, StatusOf(CorruptionError, "unmarshal response for call %d: %v", callID, err))
				return
			}
		} else {
			proto.Merge(call.Response, resp)
		}
	}
	call.complete(CallFinished, OKStatus)
}

// soleOutboundCallID returns the call id of the single outstanding
// outbound call, for protocols (Redis) whose wire format carries no
// correlation id of its own.
func (c *Connection) soleOutboundCallID() (int32, bool) {
	var id int32
	found := false
	c.outCalls.Each(func(callID int32, pc *pendingCall) {
		if !found {
			id = callID
			found = true
		}
	})
	return id, found
}

// QueueResponseForCall is the one cross-thread entry point for completing
// an inbound call. It may be invoked from any goroutine (a handler running
// on a service dispatcher's own worker pool); it hands off to the owning
// goroutine via the reactor's task channel instead of mutating connection
// state directly.
func (c *Connection) QueueResponseForCall(call *InboundCall, resp proto.Message, errStatus Status) {
	c.reactor.scheduleOn(c, func() {
		c.doQueueResponseForCall(call, resp, errStatus)
	})
}

func (c *Connection) doQueueResponseForCall(call *InboundCall, resp proto.Message, errStatus Status) {
	delete(c.inCalls, call.CallId)
	if c.protocol == ProtocolRedis {
		c.processingRedisCall = false
	}
	frames := c.strategy.wrapResponse(c, call, resp, errStatus)
	for _, f := range frames {
		c.queueOutbound(f, nil)
	}
	if c.protocol == ProtocolRedis && c.pendingRedisFrame != nil {
		// A second command parked while this one was in flight: re-drive
		// it now that processingRedisCall is clear, the way
		// FinishedHandlingACall re-invokes HandleFinishedTransfer.
		frame := c.pendingRedisFrame
		c.pendingRedisFrame = nil
		if status := c.strategy.handleFinishedTransfer(c, frame, nil); !status.OK() {
			c.doShutdown(status)
			c.reactor.Destroy(c, status)
		}
	}
}

// queueOutbound appends data to the write queue and, if the queue was
// empty, signals the write pump that it has work. callbacks may be nil,
// in which case a no-op TransferCallbacks is used -- callers that don't
// need completion notification (responses, most of the time) don't have
// to implement the interface just to ignore it.
func (c *Connection) queueOutbound(data []byte, callbacks TransferCallbacks) {
	if callbacks == nil {
		callbacks = noopTransferCallbacks{}
	}
	if c.state == StateShuttingDown {
		callbacks.NotifyTransferAborted(StatusOf(Shutdown, "connection is shutting down"))
		return
	}
	wasEmpty := len(c.writeQueue) == 0
	c.writeQueue = append(c.writeQueue, NewOutboundTransfer([][]byte{data}, callbacks))
	if wasEmpty && c.state == StateOpen {
		c.wantWrite = true
		c.reactor.signalWrite(c)
	}
}

type noopTransferCallbacks struct{}

func (noopTransferCallbacks) NotifyTransferFinished()         {}
func (noopTransferCallbacks) NotifyTransferAborted(s Status)  {}

// pumpWrite drains as much of the write queue as the socket will accept
// without blocking, called by the reactor when the write-ready signal
// fires. It is only ever invoked on the owning goroutine.
func (c *Connection) pumpWrite() Status {
	if len(c.writeQueue) == 0 {
		log.Warningf(context.Background(), "write-ready on connection %s with nothing to write", c.id)
	}
	for len(c.writeQueue) > 0 {
		t := c.writeQueue[0]
		status := t.SendBuffer(c.conn)
		if !status.OK() {
			t.Abort(status)
			c.writeQueue = c.writeQueue[1:]
			return status
		}
		if !t.Finished() {
			return OKStatus // partial write; wait for next readiness signal
		}
		t.Finish()
		c.writeQueue = c.writeQueue[1:]
	}
	c.wantWrite = false
	return OKStatus
}

// CompleteNegotiation is the other sanctioned cross-thread entry point: a
// negotiation-worker goroutine calls this once negotiation finishes (or
// fails), and it hands off to the owning goroutine rather than flipping
// state directly.
func (c *Connection) CompleteNegotiation(status Status) {
	c.reactor.scheduleOn(c, func() {
		c.doCompleteNegotiation(status)
	})
}

func (c *Connection) doCompleteNegotiation(status Status) {
	if !status.OK() {
		log.Warningf(context.Background(), "negotiation failed for connection %s: %s", c.id, status)
		c.doShutdown(status)
		c.reactor.Destroy(c, status)
		return
	}
	c.setState(StateOpen)
	c.lastActivity = time.Now()
	if len(c.writeQueue) > 0 {
		c.wantWrite = true
		c.reactor.signalWrite(c)
	}
}

// Shutdown tears the connection down: aborts every pending outbound call
// and queued write with status, closes the socket, and marks the
// connection unregistered. It is idempotent and safe to call from any
// goroutine -- unlike the rest of Connection's mutating methods, which
// are reserved for the owning goroutine, Shutdown is the one the Reactor
// itself needs to trigger from outside in response to an external event
// (a caller aborting, a listener closing). It hands off to the owning
// goroutine the same way QueueResponseForCall and CompleteNegotiation do,
// except when the connection was never registered with a reactor, in
// which case there is no owning goroutine to hand off to and it runs
// inline.
func (c *Connection) Shutdown(status Status) {
	if c.reactor == nil {
		c.doShutdown(status)
		return
	}
	c.reactor.scheduleOn(c, func() {
		c.doShutdown(status)
	})
}

func (c *Connection) doShutdown(status Status) {
	c.closeOnce.Do(func() {
		c.setState(StateShuttingDown)
		c.registered = false
		c.outCalls.Each(func(callID int32, pc *pendingCall) {
			if pc.timedOut {
				// Already completed by handleOutboundCallTimeout; the
				// slot is kept as a tombstone, not removed, so it still
				// shows up here. Completing it a second time would
				// double-close its done channel.
				return
			}
			if pc.timer != nil {
				pc.timer.Stop()
			}
			pc.call.complete(CallFinished, status)
		})
		c.outCalls.Clear()
		for _, t := range c.writeQueue {
			t.Abort(status)
		}
		c.writeQueue = nil
		if len(c.inCalls) > 0 {
			log.Warningf(context.Background(), "shutting down connection %s with %d calls still being handled", c.id, len(c.inCalls))
		}
		c.inCalls = make(map[int32]*InboundCall)
		_ = c.conn.Close()
		close(c.done)
	})
}

// ToString renders a one-line diagnostic summary for logs and dumps.
func (c *Connection) ToString() string {
	return fmt.Sprintf("Connection (%s) %s %s peer=%s", c.protocol, c.direction, c.State(), c.conn.RemoteAddr())
}

func (d Direction) String() string {
	if d == DirectionClient {
		return "client"
	}
	return "server"
}

// DumpPB produces an introspection snapshot of this connection's live
// inbound calls, used by an operator-facing dump-running-rpcs endpoint. It
// runs on the connection's owning goroutine, like any other read of
// writeQueue/inCalls, and blocks the caller until that completes.
func (c *Connection) DumpPB(req *rpcpb.DumpRunningRpcsRequestPB) (*rpcpb.RpcConnectionPB, Status) {
	result := make(chan *rpcpb.RpcConnectionPB, 1)
	c.reactor.scheduleOn(c, func() {
		result <- c.doDumpPB(req)
	})
	select {
	case pb := <-result:
		return pb, OKStatus
	case <-c.done:
		return nil, StatusOf(Shutdown, "connection closed before dump completed")
	}
}

func (c *Connection) doDumpPB(req *rpcpb.DumpRunningRpcsRequestPB) *rpcpb.RpcConnectionPB {
	pb := &rpcpb.RpcConnectionPB{
		RemoteIP: c.conn.RemoteAddr().String(),
		State:    c.State().String(),
	}
	now := time.Now()
	for _, call := range c.inCalls {
		entry := pb.AddCallInFlight()
		entry.Header = call.Method
		entry.ElapsedMicros = call.ElapsedSince(now).Microseconds()
	}
	return pb
}
