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
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Client.
type State int32

const (
	// StateCreated is the state of a Client under construction.
	StateCreated State = iota
	// StateReady is the state of a Client with no pending or in-flight
	// documents.
	StateReady
	// StateIndexing is the state of a Client with documents pending or
	// in flight.
	StateIndexing
	// StateClosing is the state of a Client performing its final flush.
	StateClosing
	// StateClosed is the terminal state of a Client.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateIndexing:
		return "indexing"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Client indexes entities of type T into a single Elasticsearch index.
//
// Entities are serialized by the configured Codec on the calling goroutine
// and buffered until MaxDocuments or FlushBytes is reached, FlushInterval
// elapses, or Flush is called. Buffered documents are then sent in a single
// bulk request in the background. Up to MaxRequests bulk requests may be in
// flight concurrently; once reached, indexing blocks until one completes.
//
// A Client is safe for concurrent use.
type Client[T any] struct {
	config     Config
	client     elastictransport.Interface
	index      string
	mapping    IndexMapping
	encoder    documentEncoder
	manager    *IndexManager
	acc        *accumulator
	pool       *bulkIndexerPool
	dispatcher *dispatcher
	metrics    *metrics

	state     atomic.Int32
	mu        sync.Mutex
	closed    chan struct{}
	timerDone chan struct{}

	// handoff is read-locked from buffering or draining documents until
	// their bulk request is dispatched. Close write-locks it once closed,
	// so that it waits for every batch taken before it.
	handoff sync.RWMutex
}

// New returns a new Client indexing entities into index, applying mapping
// when the index is managed with EnsureIndex and EnsureMapping.
func New[T any](client elastictransport.Interface, index string, mapping IndexMapping, cfg Config) (*Client[T], error) {
	if client == nil {
		return nil, errors.New("nil transport client")
	}
	if index == "" {
		return nil, errMissingIndex
	}
	if mapping == nil {
		return nil, errMissingMapping
	}
	cfg = DefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client[T]{
		config:  cfg,
		client:  client,
		index:   index,
		mapping: mapping,
		encoder: documentEncoder{
			codec:     cfg.Codec,
			index:     index,
			indexType: mapping.IndexType(),
		},
		manager: NewIndexManager(client, cfg.Logger),
		acc:     newAccumulator(cfg.MaxDocuments, cfg.FlushBytes, cfg.FlushInterval),
		pool: newBulkIndexerPool(cfg.MaxRequests, bulkIndexerConfig{
			Client:              client,
			CompressionLevel:    cfg.CompressionLevel,
			Pipeline:            cfg.Pipeline,
			IncludeDocumentType: cfg.IncludeDocumentType,
		}),
		metrics:   ms,
		closed:    make(chan struct{}),
		timerDone: make(chan struct{}),
	}
	c.manager.IncludeDocumentType = cfg.IncludeDocumentType
	c.dispatcher = newDispatcher(cfg, c.pool, ms, c.flushed)
	ms.availableChanged(int64(cfg.MaxRequests))
	c.state.Store(int32(StateReady))
	go c.runTimer()
	return c, nil
}

// EnsureIndex creates the client's index unless it already exists.
func (c *Client[T]) EnsureIndex(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.manager.EnsureIndex(ctx, c.index)
}

// EnsureMapping applies the client's mapping to its index. It does nothing
// when the index does not exist.
func (c *Client[T]) EnsureMapping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.manager.EnsureMapping(ctx, c.index, c.mapping)
}

// Index indexes a single entity, flushing it along with any pending
// documents, and waits for Elasticsearch to acknowledge it.
//
// Index returns a *CodecError if entity could not be serialized, a
// *BulkTransportError if the bulk request failed, or an *ItemError if
// Elasticsearch rejected the document.
func (c *Client[T]) Index(ctx context.Context, entity T) error {
	if c.isClosed() {
		return ErrClosed
	}
	doc, err := c.encoder.encode(ctx, entity)
	if err != nil {
		c.codecFailed(0, entity, err)
		return &CodecError{Err: err}
	}
	ack := make(chan documentResult, 1)
	doc.ack = ack
	if err := c.indexNow(ctx, doc); err != nil {
		return err
	}
	select {
	case res := <-ack:
		if res.err != nil {
			return res.err
		}
		if res.item.Failed() {
			return &ItemError{Item: res.item}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// indexNow buffers doc and dispatches it with the pending documents.
func (c *Client[T]) indexNow(ctx context.Context, doc Document) error {
	if !c.beginHandoff() {
		return ErrClosed
	}
	defer c.handoff.RUnlock()
	if _, err := c.acc.add(doc); err != nil {
		return err
	}
	c.added()

	// The document may have been drained by a concurrent flush already, in
	// which case that flush acknowledges it.
	if docs := c.acc.drain(); len(docs) > 0 {
		if _, err := c.dispatcher.dispatch(ctx, docs, ExplicitFlush); err != nil {
			return err
		}
	}
	return nil
}

// IndexAll indexes entities without waiting for them to be flushed.
//
// Entities which cannot be serialized are logged and skipped. IndexAll
// returns early only if the client is closed, or ctx is done.
func (c *Client[T]) IndexAll(ctx context.Context, entities []T) error {
	return c.IndexSeq(ctx, slices.Values(entities))
}

// IndexSeq indexes the entities of seq without waiting for them to be
// flushed, like IndexAll.
func (c *Client[T]) IndexSeq(ctx context.Context, seq iter.Seq[T]) error {
	if c.isClosed() {
		return ErrClosed
	}
	var position int
	for entity := range seq {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := c.encoder.encode(ctx, entity)
		if err != nil {
			c.codecFailed(position, entity, err)
			position++
			continue
		}
		position++
		if err := c.add(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// add buffers doc, flushing the pending documents if a threshold is met.
func (c *Client[T]) add(ctx context.Context, doc Document) error {
	if !c.beginHandoff() {
		return ErrClosed
	}
	defer c.handoff.RUnlock()
	trigger, err := c.acc.add(doc)
	if err != nil {
		return err
	}
	c.added()
	if trigger == noTrigger {
		return nil
	}
	docs, trigger := c.acc.drainIfReady()
	if len(docs) == 0 {
		return nil
	}
	_, err = c.dispatcher.dispatch(ctx, docs, trigger)
	return err
}

// Flush flushes the pending documents, and waits for the bulk request to
// complete. Documents rejected individually are not reported as an error,
// they are reported to Config.Listener.
func (c *Client[T]) Flush(ctx context.Context) error {
	if !c.beginHandoff() {
		return ErrClosed
	}
	result, err := c.dispatcher.dispatch(ctx, c.acc.drain(), ExplicitFlush)
	c.handoff.RUnlock()
	if err != nil {
		return err
	}
	select {
	case res := <-result:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the client, first flushing any pending documents and waiting
// for all the in-flight bulk requests to complete. If the transport client
// implements Close(context.Context) error, it is closed as well.
//
// Close returns the error of the final flush, if any. If ctx is cancelled,
// Close returns and any in-flight bulk requests are cancelled. Calling Close
// more than once is a no-op.
func (c *Client[T]) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return nil
	default:
	}
	c.state.Store(int32(StateClosing))
	close(c.closed)
	defer c.state.Store(int32(StateClosed))

	select {
	case <-c.timerDone:
	case <-ctx.Done():
	}
	// Wait for batches drained before closing to be dispatched.
	handedOff := make(chan struct{})
	go func() {
		c.handoff.Lock()
		c.handoff.Unlock()
		close(handedOff)
	}()
	select {
	case <-handedOff:
	case <-ctx.Done():
	}

	var errs []error
	docs := c.acc.drainAndClose()
	result, err := c.dispatcher.dispatch(ctx, docs, Shutdown)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to flush documents on close: %w", err))
	}
	if err := c.dispatcher.wait(ctx); err != nil {
		errs = append(errs, err)
	}
	if result != nil {
		// The result is available once all flushes completed.
		if res := <-result; res.err != nil {
			errs = append(errs, fmt.Errorf("failed to flush documents on close: %w", res.err))
		}
	}
	c.metrics.availableChanged(-int64(c.config.MaxRequests))

	if closer, ok := c.client.(interface {
		Close(context.Context) error
	}); ok {
		if err := closer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns the bulk indexing stats.
func (c *Client[T]) Stats() Stats {
	m := c.metrics
	return Stats{
		Added:                  m.added.Load(),
		Active:                 m.active.Load(),
		BulkRequests:           m.requests.Load(),
		Failed:                 m.failed.Load(),
		FailedClient:           m.failedClient.Load(),
		FailedServer:           m.failedServer.Load(),
		TooManyRequests:        m.tooMany.Load(),
		Indexed:                m.indexed.Load(),
		CodecFailed:            m.codecFailed.Load(),
		BytesTotal:             m.bytes.Load(),
		BytesUncompressedTotal: m.bytesUncompressed.Load(),
		AvailableBulkRequests:  int64(c.pool.Available()),
	}
}

// State returns the current lifecycle state of the client.
func (c *Client[T]) State() State {
	return State(c.state.Load())
}

func (c *Client[T]) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// beginHandoff read-locks handoff unless the client is closed, reporting
// whether it did.
func (c *Client[T]) beginHandoff() bool {
	c.handoff.RLock()
	if c.isClosed() {
		c.handoff.RUnlock()
		return false
	}
	return true
}

func (c *Client[T]) added() {
	c.metrics.docAdded()
	c.state.CompareAndSwap(int32(StateReady), int32(StateIndexing))
}

// flushed is called by the dispatcher after every flush.
func (c *Client[T]) flushed() {
	if !c.idle() {
		return
	}
	// Documents added between the check and the swap would not move the
	// state back to Indexing, so check again.
	if c.state.CompareAndSwap(int32(StateIndexing), int32(StateReady)) && !c.idle() {
		c.state.CompareAndSwap(int32(StateReady), int32(StateIndexing))
	}
}

func (c *Client[T]) idle() bool {
	n, _ := c.acc.size()
	return n == 0 && c.pool.Leased() == 0
}

func (c *Client[T]) codecFailed(position int, entity T, err error) {
	c.metrics.codecFailure()
	c.config.Logger.Error("failed to encode entity",
		zap.String("index", c.index),
		zap.Int("position", position),
		zap.String("type", fmt.Sprintf("%T", entity)),
		zap.Error(err),
	)
}

// runTimer flushes the pending documents once FlushInterval elapsed since
// the last flush.
func (c *Client[T]) runTimer() {
	defer close(c.timerDone)
	if c.config.FlushInterval <= 0 {
		return
	}
	timer := time.NewTimer(c.config.FlushInterval)
	defer timer.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-timer.C:
		}
		if wait := c.acc.untilDeadline(); wait > 0 {
			timer.Reset(wait)
			continue
		}
		if !c.beginHandoff() {
			return
		}
		if docs := c.acc.drain(); len(docs) > 0 {
			// Only cancelled when Close gives up waiting.
			ctx := c.dispatcher.errgroupContext
			if _, err := c.dispatcher.dispatch(ctx, docs, TimeInterval); err != nil {
				c.config.Logger.Warn("interval flush failed", zap.Error(err))
			}
		}
		c.handoff.RUnlock()
		timer.Reset(c.acc.untilDeadline())
	}
}
