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

// RawMessage adapts an un-marshaled byte payload to satisfy
// proto.Message, for the two protocols (Redis, CQL) whose call bodies are
// not themselves protobuf-encoded. It lets InboundCall and OutboundCall
// share one Request/Response field type across all three protocols instead
// of protocol-specific call structs.
type RawMessage []byte

func (m *RawMessage) Reset()         { *m = nil }
func (m *RawMessage) String() string { return string(*m) }
func (*RawMessage) ProtoMessage()    {}
