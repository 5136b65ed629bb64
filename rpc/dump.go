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
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yugabyte/yb-rpc/rpc/rpcpb"
)

// DumpRunningRpcs gathers a DumpPB snapshot from every connection
// currently registered with the reactor, the multi-connection counterpart
// to Connection.DumpPB. Each connection's snapshot is still taken on its
// own owning goroutine; this fans the request out across all of them
// concurrently, rather than waiting on connections one at a time, and
// returns once every connection has either answered or closed; snapshots
// from connections that closed first are left out.
func (r *Reactor) DumpRunningRpcs(req *rpcpb.DumpRunningRpcsRequestPB) []*rpcpb.RpcConnectionPB {
	r.connsMu.Lock()
	targets := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		targets = append(targets, c)
	}
	r.connsMu.Unlock()

	var mu sync.Mutex
	out := make([]*rpcpb.RpcConnectionPB, 0, len(targets))

	g, _ := errgroup.WithContext(context.Background())
	for _, c := range targets {
		c := c
		g.Go(func() error {
			pb, status := c.DumpPB(req)
			if status.OK() {
				mu.Lock()
				out = append(out, pb)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
