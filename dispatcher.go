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
	"net/http"
	"sync/atomic"
	"time"

	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BulkRequest describes a batch of documents about to be sent in a single
// bulk request.
type BulkRequest struct {
	// ExecutionID uniquely identifies the request within a Client.
	ExecutionID int64

	// Trigger holds the reason of the flush.
	Trigger FlushTrigger

	// Documents holds the documents of the request, in the order they were
	// added.
	Documents []Document

	// Bytes holds the total size of the document bodies.
	Bytes int
}

type flushResult struct {
	resp BulkResponse
	err  error
}

// dispatcher turns drained batches into bulk requests, sent in the
// background with at most MaxRequests requests in flight.
type dispatcher struct {
	config  Config
	pool    *bulkIndexerPool
	metrics *metrics
	tracer  trace.Tracer
	execID  atomic.Int64

	// flushed is called after every completed flush.
	flushed func()

	// We create a cancellable context for the errgroup.Group for unblocking
	// flushes when Close returns. We intentionally do not use errgroup.WithContext,
	// because one flush failure should not cause the context to be cancelled.
	errgroup              errgroup.Group
	errgroupContext       context.Context
	cancelErrgroupContext context.CancelCauseFunc
}

func newDispatcher(cfg Config, pool *bulkIndexerPool, ms *metrics, flushed func()) *dispatcher {
	d := &dispatcher{
		config:  cfg,
		pool:    pool,
		metrics: ms,
		flushed: flushed,
	}
	d.errgroupContext, d.cancelErrgroupContext = context.WithCancelCause(
		context.Background(),
	)
	if cfg.TracerProvider != nil {
		d.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-docindexer.dispatcher")
	}
	return d
}

// dispatch hands docs over to a new bulk request, returning a channel
// receiving its outcome once completed. It blocks while MaxRequests bulk
// requests are in flight, until one completes or ctx is done.
func (d *dispatcher) dispatch(ctx context.Context, docs []Document, trigger FlushTrigger) (<-chan flushResult, error) {
	result := make(chan flushResult, 1)
	if len(docs) == 0 {
		close(result)
		return result, nil
	}
	req := BulkRequest{
		ExecutionID: d.execID.Add(1),
		Trigger:     trigger,
		Documents:   docs,
	}
	for _, doc := range docs {
		req.Bytes += doc.Len()
	}
	d.metrics.flushed(trigger)

	indexer, err := d.pool.Get(ctx)
	if err != nil {
		// The documents were already drained, report them as lost.
		err = fmt.Errorf("waiting for an available bulk request: %w", err)
		d.config.Logger.Error("failed to dispatch bulk request",
			zap.Int64("execution_id", req.ExecutionID),
			zap.Int("documents", len(docs)),
			zap.Error(err),
		)
		d.metrics.deactivated(len(docs))
		d.notifyBefore(ctx, req)
		d.failed(ctx, req, err)
		d.flushed()
		acknowledge(docs, BulkResponse{}, err)
		return nil, err
	}
	d.metrics.availableChanged(-1)

	d.errgroup.Go(func() error {
		var resp BulkResponse
		var err error
		took := timeFunc(func() {
			resp, err = d.flush(d.errgroupContext, indexer, req)
		})
		d.metrics.requestCompleted(len(req.Documents),
			indexer.BytesFlushed(), indexer.BytesUncompressedFlushed(), took.Seconds(),
		)
		d.pool.Put(indexer)
		d.metrics.availableChanged(1)
		d.flushed()
		acknowledge(req.Documents, resp, err)
		result <- flushResult{resp: resp, err: err}
		close(result)
		return nil
	})
	return result, nil
}

// flush encodes req into indexer and sends it.
func (d *dispatcher) flush(ctx context.Context, indexer *bulkIndexer, req BulkRequest) (BulkResponse, error) {
	n := len(req.Documents)
	links := batchLinks(req.Documents)
	logger := d.config.Logger

	var tx *apm.Transaction
	if d.config.Tracer != nil && d.config.Tracer.Recording() {
		tx = d.config.Tracer.StartTransactionOptions("docindexer.flush", "output",
			apm.TransactionOptions{Links: links.apm()},
		)
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)
		tx.Context.SetLabel("documents", n)
		tx.Context.SetLabel("trigger", req.Trigger.String())
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}

	var span trace.Span
	if d.tracer != nil {
		ctx, span = d.tracer.Start(ctx, "docindexer.flush",
			trace.WithLinks(links.otel()...),
			trace.WithAttributes(
				attribute.Int("documents", n),
				attribute.String("trigger", req.Trigger.String()),
			),
		)
		defer span.End()

		// Add trace IDs to logger, to associate any per-item errors
		// below with the trace.
		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
	}
	logger = logger.With(
		zap.Int64("execution_id", req.ExecutionID),
		zap.Stringer("trigger", req.Trigger),
	)

	recordError := func(err error) {
		if tx != nil {
			e := d.config.Tracer.NewError(err)
			e.SetTransaction(tx)
			e.Send()
			tx.Outcome = "failure"
		}
		if span != nil && span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bulk indexing request failed")
		}
	}

	d.notifyBefore(ctx, req)

	for _, doc := range req.Documents {
		if err := indexer.Add(doc); err != nil {
			err = &BulkTransportError{Err: err}
			logger.Error("failed to encode bulk request", zap.Error(err))
			recordError(err)
			d.failed(ctx, req, err)
			return BulkResponse{}, err
		}
	}
	flushCtx := ctx
	if d.config.FlushTimeout > 0 {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, d.config.FlushTimeout)
		defer cancel()
	}
	resp, err := indexer.Flush(flushCtx)
	if err != nil {
		logger.Error("bulk indexing request failed",
			zap.Int("documents", n),
			zap.Error(err),
		)
		recordError(err)
		d.failed(ctx, req, err)
		return BulkResponse{}, err
	}

	var tooMany, clientFailed, serverFailed int64
	var failedCount map[BulkItemResult]int
	for i, item := range resp.Items {
		if item.DocumentID == "" {
			item.DocumentID = req.Documents[item.Position].ID
			resp.Items[i] = item
		}
		if !item.Failed() {
			continue
		}
		switch {
		case item.Status == http.StatusTooManyRequests:
			tooMany++
		case item.Status >= 500:
			serverFailed++
		default:
			clientFailed++
		}
		if failedCount == nil {
			failedCount = make(map[BulkItemResult]int)
		}
		// reset the identity so that the item can be used as key in the map
		key := item
		key.Position, key.DocumentID = 0, ""
		failedCount[key]++
	}
	for key, count := range failedCount {
		logger.Error(fmt.Sprintf("failed to index documents in '%s' (%s): %s",
			key.Index, key.ErrorType, key.ErrorReason,
		), zap.Int("documents", count), zap.Int("status", key.Status))
	}
	if tx != nil {
		tx.Outcome = "success"
	}
	docsFailed := tooMany + clientFailed + serverFailed
	if docsFailed > 0 {
		d.metrics.failed.Add(docsFailed)
		if span != nil && span.IsRecording() {
			span.SetStatus(codes.Error, fmt.Sprintf("%d documents failed", docsFailed))
		}
	} else if span != nil && span.IsRecording() {
		span.SetStatus(codes.Ok, "")
	}
	d.metrics.processed("Success", resp.Indexed, &d.metrics.indexed)
	d.metrics.processed("TooMany", tooMany, &d.metrics.tooMany)
	d.metrics.processed("FailedClient", clientFailed, &d.metrics.failedClient)
	d.metrics.processed("FailedServer", serverFailed, &d.metrics.failedServer)
	logger.Debug("bulk request completed",
		zap.Int64("docs_indexed", resp.Indexed),
		zap.Int64("docs_failed", docsFailed),
		zap.Int64("docs_rate_limited", tooMany),
	)
	if d.config.Listener.AfterBulk != nil {
		d.config.Listener.AfterBulk(ctx, req, resp)
	}
	return resp, nil
}

// acknowledge reports the outcome of every document waited on by a caller.
func acknowledge(docs []Document, resp BulkResponse, err error) {
	for i, doc := range docs {
		if doc.ack == nil {
			continue
		}
		res := documentResult{err: err}
		if err == nil && i < len(resp.Items) {
			res.item = resp.Items[i]
		}
		doc.ack <- res
	}
}

func (d *dispatcher) notifyBefore(ctx context.Context, req BulkRequest) {
	if d.config.Listener.BeforeBulk != nil {
		d.config.Listener.BeforeBulk(ctx, req)
	}
}

// failed records every document of req as failed and notifies the listener.
func (d *dispatcher) failed(ctx context.Context, req BulkRequest, err error) {
	n := int64(len(req.Documents))
	d.metrics.failed.Add(n)

	status := "Failed"
	var errTransport *BulkTransportError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status = "Timeout"
	case errors.As(err, &errTransport) && errTransport.TooManyRequests():
		d.metrics.processed("TooMany", n, &d.metrics.tooMany)
		status = ""
	case errors.As(err, &errTransport) && errTransport.ClientError():
		d.metrics.processed("FailedClient", n, &d.metrics.failedClient)
		status = ""
	case errors.As(err, &errTransport) && errTransport.ServerError():
		d.metrics.processed("FailedServer", n, &d.metrics.failedServer)
		status = ""
	}
	if status != "" {
		d.metrics.processed(status, n, nil)
	}
	if d.config.Listener.AfterBulkFailure != nil {
		d.config.Listener.AfterBulkFailure(ctx, req, err)
	}
}

// wait waits for all in-flight bulk requests, cancelling them when ctx is
// done.
func (d *dispatcher) wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		d.cancelErrgroupContext(errors.New("cancelled by client close"))
	})
	defer stop()
	return d.errgroup.Wait()
}

func timeFunc(f func()) time.Duration {
	t0 := time.Now()
	if f != nil {
		f()
	}
	return time.Since(t0)
}
