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

func TestScanRESPCommandMultibulk(t *testing.T) {
	buf := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
	consumed, ok, status := scanRESPCommand(buf)
	require.True(t, status.OK())
	require.True(t, ok)
	require.Equal(t, len(buf), consumed)
}

func TestScanRESPCommandIncomplete(t *testing.T) {
	buf := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfo")
	_, ok, status := scanRESPCommand(buf)
	require.True(t, status.OK())
	require.False(t, ok)
}

func TestScanRESPCommandInline(t *testing.T) {
	buf := []byte("PING\r\n")
	consumed, ok, status := scanRESPCommand(buf)
	require.True(t, status.OK())
	require.True(t, ok)
	require.Equal(t, len(buf), consumed)
}

func TestScanRESPCommandExcessIsNotConsumed(t *testing.T) {
	buf := []byte("PING\r\nPING\r\n")
	consumed, ok, status := scanRESPCommand(buf)
	require.True(t, status.OK())
	require.True(t, ok)
	require.Equal(t, 6, consumed)
}

func TestScanRESPCommandRejectsBadBulkLength(t *testing.T) {
	buf := []byte("*1\r\n$abc\r\nx\r\n")
	_, _, status := scanRESPCommand(buf)
	require.False(t, status.OK())
	require.Equal(t, ProtocolError, status.Kind())
}

func TestYBFrameRoundTrip(t *testing.T) {
	body := []byte("hello world")
	encoded := encodeYBFrame(body)
	require.Equal(t, len(body), int(encoded[0])<<24|int(encoded[1])<<16|int(encoded[2])<<8|int(encoded[3]))
	require.Equal(t, body, encoded[4:])
}
