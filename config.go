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
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultMaxDocuments  = 1000
	defaultFlushBytes    = 5 * 1024 * 1024
	defaultFlushInterval = 5 * time.Second
	defaultMaxRequests   = 10
)

// Config holds configuration for Client.
type Config struct {
	// Logger holds an optional Logger to use for logging indexing requests
	// and per-document failures.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Codec serializes entities into document bodies.
	//
	// If Codec is nil, entities are encoded as JSON.
	Codec Codec

	// Listener holds the callbacks invoked around every bulk request.
	Listener BulkListener

	// MaxDocuments holds the flush threshold as a number of documents.
	//
	// If MaxDocuments is zero, the default of 1000 will be used. A negative
	// value disables the threshold.
	MaxDocuments int

	// FlushBytes holds the flush threshold in bytes, measured over the
	// uncompressed document bodies.
	//
	// If FlushBytes is zero, the default of 5MB will be used. A negative
	// value disables the threshold.
	FlushBytes int

	// FlushInterval holds the maximum time between two flushes. Pending
	// documents are flushed once it elapses, even if no other threshold
	// is met.
	//
	// If FlushInterval is zero, the default of 5 seconds will be used. A
	// negative value disables time based flushing.
	FlushInterval time.Duration

	// FlushTimeout holds the flush timeout as a duration.
	//
	// If FlushTimeout is zero, no timeout will be used.
	FlushTimeout time.Duration

	// MaxRequests holds the maximum number of bulk index requests to execute
	// concurrently. Once reached, flushing blocks until a request completes.
	//
	// If MaxRequests is less than or equal to zero, the default of 10 will be used.
	MaxRequests int

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	CompressionLevel int

	// Pipeline holds the ingest pipeline ID.
	//
	// If Pipeline is empty, no ingest pipeline will be specified in the Bulk request.
	Pipeline string

	// IncludeDocumentType sets the mapping type as `_type` in the bulk action
	// metadata. Only clusters older than 7.0 accept it.
	IncludeDocumentType bool

	// Tracer holds an optional apm.Tracer to use for tracing bulk requests
	// to Elasticsearch. Each bulk request is traced as a transaction.
	//
	// If Tracer is nil, requests will not be traced.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider. Each bulk request
	// is traced as a span, linked to the spans which indexed its documents.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record client metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set
}

// BulkListener holds optional callbacks for observing bulk requests.
//
// For every bulk request BeforeBulk is called before sending it, then
// exactly one of AfterBulk or AfterBulkFailure once it completes. The
// callbacks may be called concurrently from different flushes.
type BulkListener struct {
	// BeforeBulk is called before the request is sent.
	BeforeBulk func(ctx context.Context, req BulkRequest)

	// AfterBulk is called when Elasticsearch processed the request. Some
	// documents may have been rejected, see BulkResponse.Failed.
	AfterBulk func(ctx context.Context, req BulkRequest, resp BulkResponse)

	// AfterBulkFailure is called when the request could not be sent or was
	// rejected as a whole. err is usually a *BulkTransportError.
	AfterBulkFailure func(ctx context.Context, req BulkRequest, err error)
}

// DefaultConfig returns a copy of cfg with any zero values set to their
// defaults.
func DefaultConfig(cfg Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Codec == nil {
		cfg.Codec = &JSONCodec{}
	}
	if cfg.MaxDocuments == 0 {
		cfg.MaxDocuments = defaultMaxDocuments
	}
	if cfg.FlushBytes == 0 {
		cfg.FlushBytes = defaultFlushBytes
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = defaultMaxRequests
	}
	return cfg
}

// Validate checks cfg for invalid values.
func (cfg Config) Validate() error {
	if cfg.CompressionLevel < gzip.DefaultCompression || cfg.CompressionLevel > gzip.BestCompression {
		return fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}
	if cfg.FlushTimeout < 0 {
		return fmt.Errorf("expected non-negative FlushTimeout, got %s", cfg.FlushTimeout)
	}
	return nil
}
