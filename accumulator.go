// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package docindexer

import (
	"sync"
	"time"
)

// FlushTrigger describes why a batch was flushed.
type FlushTrigger uint8

const (
	noTrigger FlushTrigger = iota

	// CountThreshold flushes are caused by reaching MaxDocuments.
	CountThreshold
	// ByteThreshold flushes are caused by reaching FlushBytes.
	ByteThreshold
	// TimeInterval flushes are caused by FlushInterval elapsing.
	TimeInterval
	// ExplicitFlush flushes are requested by Flush or Index.
	ExplicitFlush
	// Shutdown is the final flush performed by Close.
	Shutdown
)

func (t FlushTrigger) String() string {
	switch t {
	case CountThreshold:
		return "count"
	case ByteThreshold:
		return "bytes"
	case TimeInterval:
		return "interval"
	case ExplicitFlush:
		return "explicit"
	case Shutdown:
		return "shutdown"
	}
	return "none"
}

// accumulator holds the documents waiting for the next bulk request.
//
// The pending documents and counters are only mutated while holding mu, so
// a drain never observes a partially added document.
type accumulator struct {
	mu       sync.Mutex
	docs     []Document
	bytes    int
	deadline time.Time
	closed   bool

	maxDocs  int
	maxBytes int
	interval time.Duration
	now      func() time.Time
}

func newAccumulator(maxDocs, maxBytes int, interval time.Duration) *accumulator {
	a := &accumulator{
		maxDocs:  maxDocs,
		maxBytes: maxBytes,
		interval: interval,
		now:      time.Now,
	}
	a.resetDeadline()
	return a
}

// add appends doc, returning the threshold it caused to be met, if any.
// add never flushes.
func (a *accumulator) add(doc Document) (FlushTrigger, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return noTrigger, ErrClosed
	}
	a.docs = append(a.docs, doc)
	a.bytes += doc.Len()
	return a.ready(), nil
}

// ready must be called with mu held.
func (a *accumulator) ready() FlushTrigger {
	switch {
	case len(a.docs) == 0:
		return noTrigger
	case a.maxDocs > 0 && len(a.docs) >= a.maxDocs:
		return CountThreshold
	case a.maxBytes > 0 && a.bytes >= a.maxBytes:
		return ByteThreshold
	case a.interval > 0 && !a.now().Before(a.deadline):
		return TimeInterval
	}
	return noTrigger
}

// drain removes and returns all pending documents.
func (a *accumulator) drain() []Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.take()
}

// drainIfReady drains the pending documents only when a threshold is still
// met, which avoids sparse batches when several goroutines crossed the same
// threshold concurrently.
func (a *accumulator) drainIfReady() ([]Document, FlushTrigger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	trigger := a.ready()
	if trigger == noTrigger {
		return nil, noTrigger
	}
	return a.take(), trigger
}

// drainAndClose drains the pending documents and rejects any further add.
func (a *accumulator) drainAndClose() []Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return a.take()
}

// take must be called with mu held.
func (a *accumulator) take() []Document {
	docs := a.docs
	a.docs = nil
	a.bytes = 0
	a.resetDeadline()
	return docs
}

func (a *accumulator) resetDeadline() {
	if a.interval > 0 {
		a.deadline = a.now().Add(a.interval)
	}
}

// untilDeadline returns the time left before the pending documents are
// overdue for a time based flush.
func (a *accumulator) untilDeadline() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deadline.Sub(a.now())
}

// size returns the number of pending documents and their total size.
func (a *accumulator) size() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.docs), a.bytes
}
