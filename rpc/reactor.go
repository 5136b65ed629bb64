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
	"net"
	"sync"
	"time"

	"github.com/marusama/semaphore"

	"github.com/yugabyte/yb-rpc/util/log"
	"github.com/yugabyte/yb-rpc/util/metric"
	"github.com/yugabyte/yb-rpc/util/stop"
)

// Messenger is the seam between a Connection and whatever dispatches
// inbound calls to application handlers. It is deliberately minimal: the
// dispatch logic that decides what an inbound call means is out of scope
// here, but the Connection has to hand the call to something.
type Messenger interface {
	QueueInboundCall(call *InboundCall)
}

// NopMessenger discards every inbound call, responding with a
// ProtocolError. Useful as a default for tests and for protocols (bare
// negotiation probes) that never expect a real handler.
type NopMessenger struct{}

func (NopMessenger) QueueInboundCall(call *InboundCall) {
	call.Respond(nil, StatusOf(ProtocolError, "no messenger registered"))
}

// Config bounds a Reactor's behavior: default call timeout when a caller
// doesn't specify one, how many negotiations may run concurrently, and
// how often connections are scanned for idleness.
type Config struct {
	DefaultCallTimeout   time.Duration
	NegotiationTimeout   time.Duration
	MaxConcurrentNegotiations int
	IdleScanInterval     time.Duration
}

// DefaultConfig returns a Config with sensible production defaults (15s
// call timeout, 3s negotiation timeout).
func DefaultConfig() Config {
	return Config{
		DefaultCallTimeout:       15 * time.Second,
		NegotiationTimeout:       3 * time.Second,
		MaxConcurrentNegotiations: 64,
		IdleScanInterval:         10 * time.Second,
	}
}

// timerHandle wraps a time.Timer with a bit of bookkeeping so Stop is
// idempotent and safe to call after the timer has already fired.
type timerHandle struct {
	t *time.Timer
}

func (h *timerHandle) Stop() {
	if h.t != nil {
		h.t.Stop()
	}
}

// reactorTask is a closure posted from any goroutine to be run on a
// specific connection's owning goroutine -- the mechanism behind both
// sanctioned cross-thread entry points.
type reactorTask struct {
	conn *Connection
	fn   func()
}

// Reactor owns a pool of negotiation workers (bounded by a semaphore, so
// an accept storm can't spawn unbounded blocking-I/O goroutines) and
// starts one actor goroutine per registered Connection: each connection
// gets its own goroutine and the Go scheduler does the multiplexing,
// while the single-owner-mutation invariant is preserved by routing all
// cross-goroutine interaction through task channels.
type Reactor struct {
	cfg     Config
	stopper *stop.Stopper
	negoSem semaphore.Semaphore

	tasks chan reactorTask

	openConns *metric.Gauge

	connsMu sync.Mutex
	conns   map[*Connection]struct{}
}

// NewReactor constructs a Reactor and starts its background task-dispatch
// worker. Call Shutdown to stop it.
func NewReactor(cfg Config, registry *metric.Registry) *Reactor {
	r := &Reactor{
		cfg:     cfg,
		stopper: stop.NewStopper(),
		negoSem: semaphore.New(cfg.MaxConcurrentNegotiations),
		tasks:   make(chan reactorTask, 4096),
		conns:   make(map[*Connection]struct{}),
	}
	if registry != nil {
		r.openConns = registry.Gauge("reactor.open-connections")
	}
	r.stopper.RunWorker(r.dispatchLoop)
	if cfg.IdleScanInterval > 0 {
		r.stopper.RunWorker(r.idleScanLoop)
	}
	return r
}

// idleScanLoop periodically asks every registered connection to report its
// Idle() status on its own owning goroutine, logging a count of idle
// connections. It does not close idle connections itself -- deciding a
// pool size policy is out of scope here -- but it is the hook an embedder
// would extend to do so.
func (r *Reactor) idleScanLoop() {
	ticker := time.NewTicker(r.cfg.IdleScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.scanIdle()
		case <-r.stopper.ShouldStop():
			return
		}
	}
}

func (r *Reactor) scanIdle() {
	r.connsMu.Lock()
	targets := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		targets = append(targets, c)
	}
	r.connsMu.Unlock()

	idle := 0
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, c := range targets {
		wg.Add(1)
		cc := c
		r.scheduleOn(cc, func() {
			defer wg.Done()
			if cc.Idle() {
				mu.Lock()
				idle++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	log.VEventf(context.Background(), 2, "idle scan: %d/%d connections idle", idle, len(targets))
}

// dispatchLoop fans tasks posted via scheduleOn out to per-connection
// goroutines. Tasks for different connections run concurrently; tasks for
// the same connection are delivered to that connection's own per-conn
// channel, preserving ordering and single-owner mutation.
func (r *Reactor) dispatchLoop() {
	for {
		select {
		case task := <-r.tasks:
			task.conn.postTask(task.fn)
		case <-r.stopper.ShouldStop():
			return
		}
	}
}

// scheduleOn posts fn to be run on conn's owning goroutine. Safe to call
// from any goroutine; this is the plumbing underneath QueueResponseForCall
// and CompleteNegotiation.
func (r *Reactor) scheduleOn(conn *Connection, fn func()) {
	select {
	case r.tasks <- reactorTask{conn: conn, fn: fn}:
	case <-r.stopper.ShouldStop():
	}
}

// registerTimeout arms a one-shot timer that, on firing, schedules fn onto
// no particular connection's goroutine -- callers pass fn already wrapped
// to call scheduleOn themselves (as Connection.doQueueOutboundCall does),
// since the timer itself has no connection affinity of its own.
func (r *Reactor) registerTimeout(d time.Duration, fn func()) *timerHandle {
	h := &timerHandle{}
	h.t = time.AfterFunc(d, fn)
	return h
}

// signalWrite wakes conn's write pump. In this goroutine-per-connection
// model the write pump is woken by sending on its perConn write-ready
// channel rather than arming an epoll watcher.
func (r *Reactor) signalWrite(conn *Connection) {
	select {
	case conn.writeReady <- struct{}{}:
	default:
	}
}

// registerConnection starts conn's goroutines: a read pump, and the actor
// loop that serializes task execution and readiness events and drains the
// write queue itself (pumpWrite). It also kicks off negotiation on the
// bounded worker pool.
func (r *Reactor) registerConnection(conn *Connection) {
	conn.writeReady = make(chan struct{}, 1)
	conn.taskCh = make(chan func(), 64)
	conn.readEvents = make(chan readEvent, 1)

	if r.openConns != nil {
		r.openConns.Inc(1)
	}
	r.connsMu.Lock()
	r.conns[conn] = struct{}{}
	r.connsMu.Unlock()

	r.stopper.RunWorker(func() {
		conn.readPump()
	})
	r.stopper.RunWorker(func() {
		conn.actorLoop(r)
	})
	r.stopper.RunWorker(func() {
		r.runNegotiation(conn)
	})
}

// runNegotiation acquires a slot on the bounded negotiation semaphore
// before running conn's negotiator, so a burst of simultaneous accepts
// can't spawn unbounded concurrent blocking reads on raw sockets.
func (r *Reactor) runNegotiation(conn *Connection) {
	ctx := negotiationContext{timeout: r.cfg.NegotiationTimeout}
	if err := r.negoSem.Acquire(context.Background(), 1); err != nil {
		conn.CompleteNegotiation(StatusOf(Shutdown, "reactor shutting down"))
		return
	}
	defer r.negoSem.Release(1)

	if ctx.timeout > 0 {
		_ = conn.conn.SetDeadline(time.Now().Add(ctx.timeout))
	}
	driver := conn.strategy.negotiator()
	status := driver.Negotiate(ctx, conn.conn)
	_ = conn.conn.SetDeadline(time.Time{})
	conn.CompleteNegotiation(status)
}

// Destroy tears down conn immediately with status, used when the reactor
// itself detects an unrecoverable condition (e.g. a protocol error that
// requires abandoning the whole connection, such as a duplicate YB call
// id).
func (r *Reactor) Destroy(conn *Connection, status Status) {
	conn.doShutdown(status)
	if r.openConns != nil {
		r.openConns.Inc(-1)
	}
	r.connsMu.Lock()
	delete(r.conns, conn)
	r.connsMu.Unlock()
}

// Shutdown quiesces and stops every worker the reactor has started,
// blocking until all connection goroutines have returned.
func (r *Reactor) Shutdown() {
	r.stopper.Stop()
}

// readEvent carries the outcome of one blocking Read call from the read
// pump goroutine to the actor loop.
type readEvent struct {
	status Status
}

// readPump blocks in Read calls on the raw socket (Go has no non-blocking
// socket readiness API as ergonomic as epoll, so the pump goroutine simply
// blocks and reports completion) and feeds the actor loop one event per
// completed or failed read, gated so it never races ahead of the actor
// loop consuming frames.
func (c *Connection) readPump() {
	transfer := c.strategy.makeInboundTransfer()
	for {
		select {
		case <-c.done:
			return
		default:
		}
		status := transfer.ReceiveBuffer(c.conn)
		c.setInboundStarted(transfer.TransferStarted() && !transfer.TransferFinished())
		select {
		case c.readEvents <- readEvent{status: status}:
		case <-c.done:
			return
		}
		if !status.OK() {
			return
		}
		if transfer.TransferFinished() {
			// Hand off completion through the actor loop via taskCh so
			// dispatch happens on the owning goroutine, then start a
			// fresh transfer for the next frame.
			data := transfer.Data()
			excess := transfer.ExcessData()
			done := make(chan Status, 1)
			select {
			case c.taskCh <- func() {
				c.lastActivity = time.Now()
				if c.metrics != nil {
					c.metrics.bytesReceived.Inc(int64(len(data)))
				}
				status := c.strategy.handleFinishedTransfer(c, data, excess)
				if !status.OK() {
					// Runs on the owning goroutine already, so tear down
					// directly instead of bouncing through Shutdown's
					// cross-goroutine hand-off.
					c.doShutdown(status)
					c.reactor.Destroy(c, status)
				}
				done <- status
			}:
			case <-c.done:
				return
			}
			select {
			case st := <-done:
				if !st.OK() {
					return
				}
			case <-c.done:
				return
			}
			transfer = c.strategy.makeInboundTransfer()
			if c.pendingExcess != nil {
				if seeder, ok := transfer.(excessSeedable); ok {
					seeder.SeedExcess(c.pendingExcess)
				}
				c.pendingExcess = nil
			}
		}
	}
}

// excessSeedable is implemented by inbound transfers (currently only
// Redis's) that can receive bytes read past the end of a previous frame,
// instead of discarding them.
type excessSeedable interface {
	SeedExcess(b []byte)
}

// actorLoop is the owning goroutine for one Connection: the single place
// that mutates its state, satisfying the invariant that all but three
// documented entry points run exclusively on this goroutine.
func (c *Connection) actorLoop(r *Reactor) {
	for {
		select {
		case fn := <-c.taskCh:
			fn()
		case <-c.writeReady:
			if status := c.pumpWrite(); !status.OK() {
				log.Warningf(context.Background(), "write failed on connection %s: %s", c.id, status)
				r.Destroy(c, status)
				return
			}
		case ev := <-c.readEvents:
			if !ev.status.OK() {
				r.Destroy(c, ev.status)
				return
			}
		case <-c.done:
			return
		case <-r.stopper.ShouldStop():
			c.doShutdown(StatusOf(Shutdown, "reactor stopping"))
			return
		}
	}
}

// postTask enqueues fn for execution on this connection's owning
// goroutine, used by Reactor.dispatchLoop.
func (c *Connection) postTask(fn func()) {
	select {
	case c.taskCh <- fn:
	case <-c.done:
	}
}

// negotiationContext carries the knobs a NegotiationDriver needs without
// exposing the whole Reactor to negotiation code.
type negotiationContext struct {
	timeout time.Duration
}

// NegotiationDriver runs the protocol-specific handshake for a connection
// off the owning goroutine (on a bounded worker), reporting the outcome
// back through Connection.CompleteNegotiation.
type NegotiationDriver interface {
	Negotiate(ctx negotiationContext, conn net.Conn) Status
}
