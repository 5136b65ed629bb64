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

// Package rpcpb holds the wire message types shared by the rpc package: the
// YB call header that prefixes every YB-protocol frame, the status used to
// report RPC-level failures back to a caller, and the introspection
// snapshot produced by Connection.DumpPB. These mirror what protoc-gen-gogo
// would emit for a rpc_header.proto/rpc_introspection.proto pair; they are
// hand-written here since no protoc toolchain is available in this tree, but
// they follow the same struct-tag conventions so they marshal correctly
// through gogo/protobuf's reflection-based Marshal/Unmarshal.
package rpcpb

import "github.com/gogo/protobuf/proto"

// ErrorCode enumerates the ways in which a call can fail at the RPC layer,
// as opposed to at the application layer (where failure is just a normal
// response payload).
type ErrorCode int32

const (
	ErrorNone ErrorCode = iota
	ErrorNetwork
	ErrorProtocol
	ErrorTimeout
	ErrorShutdown
	ErrorCorruption
)

var errorCodeName = map[ErrorCode]string{
	ErrorNone:       "NONE",
	ErrorNetwork:    "NETWORK_ERROR",
	ErrorProtocol:   "PROTOCOL_ERROR",
	ErrorTimeout:    "TIMEOUT",
	ErrorShutdown:   "SHUTDOWN",
	ErrorCorruption: "CORRUPTION",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeName[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// ErrorStatusPB is the wire representation of a Status: an error kind plus a
// human-readable message. It is carried in the header of a YB response frame
// when the call failed at the RPC layer rather than producing an
// application-level response.
type ErrorStatusPB struct {
	Code    ErrorCode `protobuf:"varint,1,opt,name=code,proto3,enum=rpcpb.ErrorCode" json:"code,omitempty"`
	Message string    `protobuf:"bytes,2,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *ErrorStatusPB) Reset()         { *m = ErrorStatusPB{} }
func (m *ErrorStatusPB) String() string { return proto.CompactTextString(m) }
func (*ErrorStatusPB) ProtoMessage()    {}

// RequestHeaderPB prefixes every YB-protocol inbound call frame.
type RequestHeaderPB struct {
	CallId         int32  `protobuf:"varint,1,opt,name=call_id,json=callId,proto3" json:"call_id,omitempty"`
	MethodName     string `protobuf:"bytes,2,opt,name=method_name,json=methodName,proto3" json:"method_name,omitempty"`
	TimeoutMillis  uint32 `protobuf:"varint,3,opt,name=timeout_millis,json=timeoutMillis,proto3" json:"timeout_millis,omitempty"`
}

func (m *RequestHeaderPB) Reset()         { *m = RequestHeaderPB{} }
func (m *RequestHeaderPB) String() string { return proto.CompactTextString(m) }
func (*RequestHeaderPB) ProtoMessage()    {}

// ResponseHeaderPB prefixes every YB-protocol response frame.
type ResponseHeaderPB struct {
	CallId       int32          `protobuf:"varint,1,opt,name=call_id,json=callId,proto3" json:"call_id,omitempty"`
	Error        *ErrorStatusPB `protobuf:"bytes,2,opt,name=error,proto3" json:"error,omitempty"`
	SidecarSizes []uint32       `protobuf:"varint,3,rep,packed,name=sidecar_sizes,json=sidecarSizes,proto3" json:"sidecar_sizes,omitempty"`
}

func (m *ResponseHeaderPB) Reset()         { *m = ResponseHeaderPB{} }
func (m *ResponseHeaderPB) String() string { return proto.CompactTextString(m) }
func (*ResponseHeaderPB) ProtoMessage()    {}

// CallInFlightPB summarizes one pending/in-flight call for DumpRunningRpcs.
type CallInFlightPB struct {
	Header       string `protobuf:"bytes,1,opt,name=header,proto3" json:"header,omitempty"`
	ElapsedMicros int64 `protobuf:"varint,2,opt,name=elapsed_micros,json=elapsedMicros,proto3" json:"elapsed_micros,omitempty"`
}

func (m *CallInFlightPB) Reset()         { *m = CallInFlightPB{} }
func (m *CallInFlightPB) String() string { return proto.CompactTextString(m) }
func (*CallInFlightPB) ProtoMessage()    {}

// RpcConnectionPB is the DumpPB snapshot of a single Connection.
type RpcConnectionPB struct {
	RemoteIP             string           `protobuf:"bytes,1,opt,name=remote_ip,json=remoteIp,proto3" json:"remote_ip,omitempty"`
	State                string           `protobuf:"bytes,2,opt,name=state,proto3" json:"state,omitempty"`
	RemoteUserCredentials string          `protobuf:"bytes,3,opt,name=remote_user_credentials,json=remoteUserCredentials,proto3" json:"remote_user_credentials,omitempty"`
	CallsInFlight        []*CallInFlightPB `protobuf:"bytes,4,rep,name=calls_in_flight,json=callsInFlight,proto3" json:"calls_in_flight,omitempty"`
}

func (m *RpcConnectionPB) Reset()         { *m = RpcConnectionPB{} }
func (m *RpcConnectionPB) String() string { return proto.CompactTextString(m) }
func (*RpcConnectionPB) ProtoMessage()    {}

// AddCallInFlight appends a call snapshot.
func (m *RpcConnectionPB) AddCallInFlight() *CallInFlightPB {
	c := &CallInFlightPB{}
	m.CallsInFlight = append(m.CallsInFlight, c)
	return c
}

// DumpRunningRpcsRequestPB is the request for a DumpPB snapshot. Its one
// field, IncludeTrace, is carried but not consulted by Connection.DumpPB.
type DumpRunningRpcsRequestPB struct {
	IncludeTrace bool `protobuf:"varint,1,opt,name=include_trace,json=includeTrace,proto3" json:"include_trace,omitempty"`
}

func (m *DumpRunningRpcsRequestPB) Reset()         { *m = DumpRunningRpcsRequestPB{} }
func (m *DumpRunningRpcsRequestPB) String() string { return proto.CompactTextString(m) }
func (*DumpRunningRpcsRequestPB) ProtoMessage()    {}

// PingRequestPB/PingResponsePB are a minimal application-level message pair
// for exercising the Request/Response marshaling path without pulling in a
// full service schema. Nothing in this module uses them.
type PingRequestPB struct {
	Message string `protobuf:"bytes,1,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *PingRequestPB) Reset()         { *m = PingRequestPB{} }
func (m *PingRequestPB) String() string { return proto.CompactTextString(m) }
func (*PingRequestPB) ProtoMessage()    {}

type PingResponsePB struct {
	Echo string `protobuf:"bytes,1,opt,name=echo,proto3" json:"echo,omitempty"`
}

func (m *PingResponsePB) Reset()         { *m = PingResponsePB{} }
func (m *PingResponsePB) String() string { return proto.CompactTextString(m) }
func (*PingResponsePB) ProtoMessage()    {}
