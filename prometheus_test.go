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

package docindexer_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-docindexer"
)

type staticStats docindexer.Stats

func (s staticStats) Stats() docindexer.Stats {
	return docindexer.Stats(s)
}

func TestCollector(t *testing.T) {
	collector := docindexer.NewCollector("app", staticStats{
		Added:                 12,
		Active:                2,
		Indexed:               9,
		Failed:                1,
		FailedServer:          1,
		BulkRequests:          3,
		AvailableBulkRequests: 10,
	}, prometheus.Labels{"index": "events"})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(collector))
	assert.Equal(t, 12, testutil.CollectAndCount(collector))

	expected := `
# HELP app_docindexer_documents_added_total Number of documents added for indexing
# TYPE app_docindexer_documents_added_total counter
app_docindexer_documents_added_total{index="events"} 12
# HELP app_docindexer_documents_active Number of documents buffered or in flight
# TYPE app_docindexer_documents_active gauge
app_docindexer_documents_active{index="events"} 2
# HELP app_docindexer_documents_failed_server_total Number of documents rejected with a 5xx status
# TYPE app_docindexer_documents_failed_server_total counter
app_docindexer_documents_failed_server_total{index="events"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"app_docindexer_documents_added_total",
		"app_docindexer_documents_active",
		"app_docindexer_documents_failed_server_total",
	))
}
