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

// Package log provides leveled, context-tagged logging modeled on Google's
// glog, in the style used throughout the rest of this tree. It is a
// condensed fork: no per-file vmodule overrides, no on-disk log rotation,
// no severity threshold (every Infof/Warningf/Errorf/Fatalf line is
// written) -- just a verbosity gate, safe to read and write concurrently.
package log

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"
)

// Severity identifies the sort of log: info, warning, error, fatal.
type Severity int32

const (
	InfoLog Severity = iota
	WarningLog
	ErrorLog
	FatalLog
)

var severityChar = [...]byte{InfoLog: 'I', WarningLog: 'W', ErrorLog: 'E', FatalLog: 'F'}

// verbosity is the global V() threshold. Changed only through SetV.
var verbosity int32

// SetV sets the global verbosity threshold used by V().
func SetV(level int32) {
	atomic.StoreInt32(&verbosity, level)
}

// V reports whether verbosity at the given level is currently enabled.
// Callers guard expensive log argument construction with it:
//
//	if log.V(2) {
//		log.Infof(ctx, "expensive: %s", computeDebugString())
//	}
func V(level int32) bool {
	return atomic.LoadInt32(&verbosity) >= level
}

type logTagKey struct{}

type logTag struct {
	name  string
	value interface{}
}

// WithLogTag annotates ctx so that every log statement made with it (or a
// context derived from it) is prefixed with "[name=value]".
func WithLogTag(ctx context.Context, name string, value interface{}) context.Context {
	tags, _ := ctx.Value(logTagKey{}).([]logTag)
	// Copy-on-append: never mutate an existing tag slice shared with a parent.
	next := make([]logTag, len(tags), len(tags)+1)
	copy(next, tags)
	next = append(next, logTag{name: name, value: value})
	return context.WithValue(ctx, logTagKey{}, next)
}

func contextTags(ctx context.Context) []logTag {
	tags, _ := ctx.Value(logTagKey{}).([]logTag)
	return tags
}

func makeMessage(ctx context.Context, format string, args []interface{}) string {
	var buf bytes.Buffer
	tags := contextTags(ctx)
	if len(tags) > 0 {
		buf.WriteByte('[')
		for i, t := range tags {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(t.name)
			if t.value != nil {
				buf.WriteByte('=')
				fmt.Fprint(&buf, t.value)
			}
		}
		buf.WriteString("] ")
	}
	if len(format) == 0 {
		fmt.Fprint(&buf, args...)
	} else {
		fmt.Fprintf(&buf, format, args...)
	}
	return buf.String()
}

func callerLine(depth int) (file string, line int) {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???", 1
	}
	return filepath.Base(file), line
}

func output(s Severity, ctx context.Context, depth int, format string, args []interface{}) {
	msg := makeMessage(ctx, format, args)
	file, line := callerLine(depth + 1)
	now := time.Now()
	fmt.Fprintf(os.Stderr, "%c%s %s:%d] %s\n",
		severityChar[s], now.Format("0102 15:04:05.000000"), file, line, msg)
}

func Infof(ctx context.Context, format string, args ...interface{}) {
	output(InfoLog, ctx, 1, format, args)
}

func Warningf(ctx context.Context, format string, args ...interface{}) {
	output(WarningLog, ctx, 1, format, args)
}

func Errorf(ctx context.Context, format string, args ...interface{}) {
	output(ErrorLog, ctx, 1, format, args)
}

func Fatalf(ctx context.Context, format string, args ...interface{}) {
	output(FatalLog, ctx, 1, format, args)
	os.Exit(255)
}

// VEventf logs at InfoLog only if V(level) is enabled, which lets hot paths
// (e.g. per-frame read/write tracing) skip message formatting entirely when
// verbose logging is off.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if V(level) {
		output(InfoLog, ctx, 1, format, args)
	}
}
