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
	"github.com/prometheus/client_golang/prometheus"
)

// StatsProvider is implemented by Client.
type StatsProvider interface {
	Stats() Stats
}

// Collector exports the Stats of a Client as Prometheus metrics.
// It implements the prometheus.Collector interface.
type Collector struct {
	source StatsProvider
	descs  []statDesc
}

type statDesc struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(Stats) int64
}

// NewCollector returns a Collector for the stats of source. constLabels are
// set on every exported metric, and may be nil.
func NewCollector(namespace string, source StatsProvider, constLabels prometheus.Labels) *Collector {
	stat := func(name, help string, valueType prometheus.ValueType, value func(Stats) int64) statDesc {
		return statDesc{
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "docindexer", name),
				help, nil, constLabels,
			),
			valueType: valueType,
			value:     value,
		}
	}
	return &Collector{
		source: source,
		descs: []statDesc{
			stat("documents_added_total", "Number of documents added for indexing",
				prometheus.CounterValue, func(s Stats) int64 { return s.Added }),
			stat("documents_active", "Number of documents buffered or in flight",
				prometheus.GaugeValue, func(s Stats) int64 { return s.Active }),
			stat("documents_indexed_total", "Number of documents indexed successfully",
				prometheus.CounterValue, func(s Stats) int64 { return s.Indexed }),
			stat("documents_failed_total", "Number of documents which failed to be indexed",
				prometheus.CounterValue, func(s Stats) int64 { return s.Failed }),
			stat("documents_failed_client_total", "Number of documents rejected with a 4xx status",
				prometheus.CounterValue, func(s Stats) int64 { return s.FailedClient }),
			stat("documents_failed_server_total", "Number of documents rejected with a 5xx status",
				prometheus.CounterValue, func(s Stats) int64 { return s.FailedServer }),
			stat("documents_too_many_requests_total", "Number of documents rejected with a 429 status",
				prometheus.CounterValue, func(s Stats) int64 { return s.TooManyRequests }),
			stat("encoding_failures_total", "Number of entities which could not be serialized",
				prometheus.CounterValue, func(s Stats) int64 { return s.CodecFailed }),
			stat("bulk_requests_total", "Number of bulk requests completed",
				prometheus.CounterValue, func(s Stats) int64 { return s.BulkRequests }),
			stat("bulk_requests_available", "Number of bulk requests which can be started without blocking",
				prometheus.GaugeValue, func(s Stats) int64 { return s.AvailableBulkRequests }),
			stat("flushed_bytes_total", "Number of bytes sent in bulk request bodies",
				prometheus.CounterValue, func(s Stats) int64 { return s.BytesTotal }),
			stat("flushed_uncompressed_bytes_total", "Number of bytes written to bulk request bodies before compression",
				prometheus.CounterValue, func(s Stats) int64 { return s.BytesUncompressedTotal }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	for _, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.valueType, float64(d.value(stats)))
	}
}
