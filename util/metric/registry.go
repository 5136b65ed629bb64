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

// Copyright 2015 The Cockroach Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package metric bundles up the handful of iterable metric types (counters,
// gauges, HDR histograms) that the rpc package's connections and
// reactors register themselves with. A process normally has one Registry;
// per-connection lookups return a possibly-nil handle and callers must
// tolerate its absence (no metric entity configured).
package metric

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Iterable is implemented by anything that can be registered with a
// Registry: individual metrics, or nested Registries.
type Iterable interface {
	Each(f func(name string, val interface{}))
}

// Registry bundles up various Iterables to provide a single point of access
// to them. A Registry can itself be added to another Registry through
// Add/MustAdd, allowing a hierarchy to be built up (e.g. one Registry per
// connection, nested under a reactor-wide Registry).
type Registry struct {
	sync.Mutex
	tracked map[string]Iterable
}

// NewRegistry creates a new Registry.
func NewRegistry() *Registry {
	return &Registry{tracked: map[string]Iterable{}}
}

// Add links the given Iterable into this registry using the given format
// string. The individual items in the registry will be formatted via
// fmt.Sprintf(format, <name>).
func (r *Registry) Add(format string, item Iterable) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.tracked[format]; ok {
		return errors.New("format string already in use")
	}
	r.tracked[format] = item
	return nil
}

// MustAdd calls Add and panics on error.
func (r *Registry) MustAdd(format string, item Iterable) {
	if err := r.Add(format, item); err != nil {
		panic(fmt.Sprintf("error adding %s: %s", format, err))
	}
}

// Each calls the given closure for all metrics.
func (r *Registry) Each(f func(name string, val interface{})) {
	r.Lock()
	defer r.Unlock()
	for format, registry := range r.tracked {
		registry.Each(func(name string, v interface{}) {
			if name == "" {
				f(format, v)
			} else {
				f(fmt.Sprintf(format, name), v)
			}
		})
	}
}

// MarshalJSON marshals to JSON, one key per tracked metric.
func (r *Registry) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{})
	r.Each(func(name string, v interface{}) {
		m[name] = v
	})
	return json.Marshal(m)
}

// Histogram registers a new HDR histogram with the given parameters. It
// has no time window: every recorded value is kept for the histogram's
// lifetime.
func (r *Registry) Histogram(name string, maxVal int64, sigFigs int) *Histogram {
	h := NewHistogram(maxVal, sigFigs)
	r.MustAdd(name, h)
	return h
}

// Counter registers a new counter with the registry.
func (r *Registry) Counter(name string) *Counter {
	c := NewCounter()
	r.MustAdd(name, c)
	return c
}

// GetCounter returns the Counter in this registry with the given name. If a
// Counter with this name is not present, nil is returned.
func (r *Registry) GetCounter(name string) *Counter {
	r.Lock()
	defer r.Unlock()
	iterable, ok := r.tracked[name]
	if !ok {
		return nil
	}
	counter, _ := iterable.(*Counter)
	return counter
}

// Gauge registers a new Gauge with the registry.
func (r *Registry) Gauge(name string) *Gauge {
	g := NewGauge()
	r.MustAdd(name, g)
	return g
}

// GetGauge returns the Gauge in this registry with the given name. If a
// Gauge with this name is not present, nil is returned.
func (r *Registry) GetGauge(name string) *Gauge {
	r.Lock()
	defer r.Unlock()
	iterable, ok := r.tracked[name]
	if !ok {
		return nil
	}
	gauge, _ := iterable.(*Gauge)
	return gauge
}
