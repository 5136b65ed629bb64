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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusOK(t *testing.T) {
	require.True(t, OKStatus.OK())
	require.Equal(t, OK, OKStatus.Kind())
}

func TestStatusRoundTripThroughPB(t *testing.T) {
	for _, kind := range []Kind{NetworkError, ProtocolError, Timeout, Shutdown, CorruptionError} {
		s := StatusOf(kind, "boom %d", 42)
		require.False(t, s.OK())
		pb := s.ToPB()
		got := StatusFromPB(pb)
		require.Equal(t, kind, got.Kind())
		require.Contains(t, got.Error(), "boom 42")
	}
}

func TestStatusFromNilPBIsOK(t *testing.T) {
	require.True(t, StatusFromPB(nil).OK())
}
