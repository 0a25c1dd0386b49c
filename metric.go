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
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Stats holds bulk indexing statistics.
type Stats struct {
	// Added holds the number of documents added to the client.
	Added int64

	// Active holds the number of documents buffered or in flight.
	Active int64

	// BulkRequests holds the number of bulk requests completed.
	BulkRequests int64

	// Failed holds the number of documents that failed to be indexed,
	// either rejected individually or lost with a failed bulk request.
	Failed int64

	// FailedClient holds the number of documents rejected with a 4xx
	// status, excluding 429.
	FailedClient int64

	// FailedServer holds the number of documents rejected with a 5xx status.
	FailedServer int64

	// TooManyRequests holds the number of documents rejected with 429.
	TooManyRequests int64

	// Indexed holds the number of documents successfully indexed.
	Indexed int64

	// CodecFailed holds the number of entities which failed to serialize.
	CodecFailed int64

	// BytesTotal represents the total number of bytes written to the request
	// body that is sent in the outgoing _bulk request to Elasticsearch.
	// The number of bytes written will be smaller when compression is enabled.
	BytesTotal int64

	// BytesUncompressedTotal represents the total number of bytes written to
	// the request body before compression.
	BytesUncompressedTotal int64

	// AvailableBulkRequests represents the number of bulk requests that can
	// be started without blocking.
	AvailableBulkRequests int64
}

type metrics struct {
	attrs metric.MeasurementOption

	flushDuration          metric.Float64Histogram
	bulkRequests           metric.Int64Counter
	flushes                metric.Int64Counter
	docsAdded              metric.Int64Counter
	docsActive             metric.Int64UpDownCounter
	docsProcessed          metric.Int64Counter
	codecFailures          metric.Int64Counter
	bytesTotal             metric.Int64Counter
	bytesUncompressedTotal metric.Int64Counter
	availableBulkRequests  metric.Int64UpDownCounter

	// Stats counterparts.
	added, active, requests                    atomic.Int64
	indexed, failed, failedClient, failedServer atomic.Int64
	tooMany, codecFailed                       atomic.Int64
	bytes, bytesUncompressed                   atomic.Int64
}

type histogramMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Float64Histogram
}

type counterMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Int64Counter
}

type upDownCounterMetric struct {
	name        string
	description string
	p           *metric.Int64UpDownCounter
}

func newMetrics(cfg Config) (*metrics, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter("github.com/elastic/go-docindexer")
	ms := &metrics{attrs: metric.WithAttributeSet(cfg.MetricAttributes)}

	histograms := []histogramMetric{
		{
			name:        "elasticsearch.flushed.latency",
			description: "The amount of time a _bulk request took, in seconds.",
			unit:        "s",
			p:           &ms.flushDuration,
		},
	}
	for _, m := range histograms {
		if err := newFloat64Histogram(meter, m); err != nil {
			return nil, err
		}
	}

	counters := []counterMetric{
		{
			name:        "elasticsearch.bulk_requests.count",
			description: "The number of bulk requests completed.",
			p:           &ms.bulkRequests,
		},
		{
			name:        "elasticsearch.flushes.count",
			description: "The number of flushes, by trigger.",
			p:           &ms.flushes,
		},
		{
			name:        "elasticsearch.events.count",
			description: "Number of documents received for indexing.",
			p:           &ms.docsAdded,
		},
		{
			name:        "elasticsearch.events.processed",
			description: "Number of documents flushed to Elasticsearch, by outcome.",
			p:           &ms.docsProcessed,
		},
		{
			name:        "elasticsearch.events.encoding_failed",
			description: "Number of entities which could not be serialized.",
			p:           &ms.codecFailures,
		},
		{
			name:        "elasticsearch.flushed.bytes",
			description: "The total number of bytes written to the request body",
			unit:        "by",
			p:           &ms.bytesTotal,
		},
		{
			name:        "elasticsearch.flushed.uncompressed.bytes",
			description: "The total number of uncompressed bytes written to the request body",
			unit:        "by",
			p:           &ms.bytesUncompressedTotal,
		},
	}
	for _, m := range counters {
		if err := newInt64Counter(meter, m); err != nil {
			return nil, err
		}
	}

	upDownCounters := []upDownCounterMetric{
		{
			name:        "elasticsearch.events.queued",
			description: "The number of documents buffered or in flight.",
			p:           &ms.docsActive,
		},
		{
			name:        "elasticsearch.bulk_requests.available",
			description: "The number of bulk requests which can be started without blocking.",
			p:           &ms.availableBulkRequests,
		},
	}
	for _, m := range upDownCounters {
		c, err := meter.Int64UpDownCounter(
			m.name,
			metric.WithUnit("1"),
			metric.WithDescription(m.description),
		)
		if err != nil {
			return nil, fmt.Errorf("failed creating %s metric: %w", m.name, err)
		}
		*m.p = c
	}
	return ms, nil
}

func (m *metrics) docAdded() {
	m.added.Add(1)
	m.active.Add(1)
	m.docsAdded.Add(context.Background(), 1, m.attrs)
	m.docsActive.Add(context.Background(), 1, m.attrs)
}

func (m *metrics) codecFailure() {
	m.codecFailed.Add(1)
	m.codecFailures.Add(context.Background(), 1, m.attrs)
}

func (m *metrics) flushed(trigger FlushTrigger) {
	m.flushes.Add(context.Background(), 1, m.attrs,
		metric.WithAttributes(attribute.String("trigger", trigger.String())),
	)
}

func (m *metrics) requestCompleted(docs int, bytes, uncompressed int, seconds float64) {
	m.requests.Add(1)
	m.deactivated(docs)
	m.bytes.Add(int64(bytes))
	m.bytesUncompressed.Add(int64(uncompressed))
	ctx := context.Background()
	m.bulkRequests.Add(ctx, 1, m.attrs)
	if bytes > 0 {
		m.bytesTotal.Add(ctx, int64(bytes), m.attrs)
	}
	if uncompressed > 0 {
		m.bytesUncompressedTotal.Add(ctx, int64(uncompressed), m.attrs)
	}
	m.flushDuration.Record(ctx, seconds, m.attrs)
}

func (m *metrics) deactivated(docs int) {
	m.active.Add(-int64(docs))
	m.docsActive.Add(context.Background(), -int64(docs), m.attrs)
}

func (m *metrics) processed(status string, n int64, counter *atomic.Int64) {
	if n == 0 {
		return
	}
	if counter != nil {
		counter.Add(n)
	}
	m.docsProcessed.Add(context.Background(), n, m.attrs,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

func (m *metrics) availableChanged(delta int64) {
	m.availableBulkRequests.Add(context.Background(), delta, m.attrs)
}

func newInt64Counter(meter metric.Meter, c counterMetric) error {
	unit := c.unit
	if unit == "" {
		unit = "1"
	}
	m, err := meter.Int64Counter(
		c.name,
		metric.WithUnit(unit),
		metric.WithDescription(c.description),
	)

	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", c.name, err,
		)
	}
	*c.p = m
	return nil
}

func newFloat64Histogram(meter metric.Meter, h histogramMetric) error {
	m, err := meter.Float64Histogram(
		h.name,
		metric.WithUnit(h.unit),
		metric.WithDescription(h.description),
	)

	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", h.name, err,
		)
	}
	*h.p = m
	return nil
}
