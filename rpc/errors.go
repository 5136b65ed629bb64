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
	"fmt"

	"github.com/yugabyte/yb-rpc/rpc/rpcpb"
)

// Kind classifies a Status the way the connection core needs to: not by
// what went wrong in detail, but by which invariant or handling path the
// failure belongs to.
type Kind int

const (
	// OK is the zero Kind; a Status with Kind OK carries no error.
	OK Kind = iota
	NetworkError
	ProtocolError
	Timeout
	Shutdown
	CorruptionError
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case NetworkError:
		return "NetworkError"
	case ProtocolError:
		return "ProtocolError"
	case Timeout:
		return "Timeout"
	case Shutdown:
		return "Shutdown"
	case CorruptionError:
		return "CorruptionError"
	default:
		return "UnknownError"
	}
}

// Status is an error-or-ok value, carried by value instead of as a plain
// error so call sites can branch on Kind without type assertions. The
// zero Status is success.
type Status struct {
	kind Kind
	msg  string
}

// OKStatus is the canonical success Status.
var OKStatus = Status{}

// StatusOf constructs a non-ok Status of the given kind.
func StatusOf(k Kind, format string, args ...interface{}) Status {
	if k == OK {
		return OKStatus
	}
	return Status{kind: k, msg: fmt.Sprintf(format, args...)}
}

// OK reports whether the Status represents success.
func (s Status) OK() bool { return s.kind == OK }

// Kind returns the Status's error classification.
func (s Status) Kind() Kind { return s.kind }

func (s Status) Error() string {
	if s.OK() {
		return "OK"
	}
	return fmt.Sprintf("%s: %s", s.kind, s.msg)
}

func (s Status) String() string { return s.Error() }

// ToPB converts a non-ok Status to its wire representation. Callers must
// not call this on an OK Status; there is nothing to report.
func (s Status) ToPB() *rpcpb.ErrorStatusPB {
	return &rpcpb.ErrorStatusPB{
		Code:    kindToErrorCode(s.kind),
		Message: s.msg,
	}
}

// StatusFromPB reconstructs a Status from its wire representation.
func StatusFromPB(pb *rpcpb.ErrorStatusPB) Status {
	if pb == nil {
		return OKStatus
	}
	return StatusOf(errorCodeToKind(pb.Code), pb.Message)
}

func kindToErrorCode(k Kind) rpcpb.ErrorCode {
	switch k {
	case NetworkError:
		return rpcpb.ErrorNetwork
	case ProtocolError:
		return rpcpb.ErrorProtocol
	case Timeout:
		return rpcpb.ErrorTimeout
	case Shutdown:
		return rpcpb.ErrorShutdown
	case CorruptionError:
		return rpcpb.ErrorCorruption
	default:
		return rpcpb.ErrorNone
	}
}

func errorCodeToKind(c rpcpb.ErrorCode) Kind {
	switch c {
	case rpcpb.ErrorNetwork:
		return NetworkError
	case rpcpb.ErrorProtocol:
		return ProtocolError
	case rpcpb.ErrorTimeout:
		return Timeout
	case rpcpb.ErrorShutdown:
		return Shutdown
	case rpcpb.ErrorCorruption:
		return CorruptionError
	default:
		return OK
	}
}
