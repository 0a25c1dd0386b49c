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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/elastic/go-docindexer"
)

func TestClientIntegration(t *testing.T) {
	switch strings.ToLower(os.Getenv("INTEGRATION_TESTS")) {
	case "1", "true":
	default:
		t.Skip("Skipping integration test, export INTEGRATION_TESTS=1 to run")
	}

	config := elasticsearch.Config{}
	config.Username = "admin"
	config.Password = "changeme"
	client, err := elasticsearch.NewClient(config)
	require.NoError(t, err)

	const index = "docindexer-testing"
	deleteIndex := func() {
		resp, err := esapi.IndicesDeleteRequest{
			Index:             []string{index},
			IgnoreUnavailable: esapi.BoolPtr(true),
		}.Do(context.Background(), client)
		require.NoError(t, err)
		defer resp.Body.Close()
	}
	deleteIndex()
	defer deleteIndex()

	indexer, err := docindexer.New[event](client, index, testMapping, docindexer.Config{
		FlushInterval: time.Second,
		MaxDocuments:  30,
	})
	require.NoError(t, err)
	defer indexer.Close(context.Background())

	require.NoError(t, indexer.EnsureIndex(context.Background()))
	require.NoError(t, indexer.EnsureMapping(context.Background()))

	const N = 100
	ids := make([]string, N)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}
	require.NoError(t, indexer.IndexAll(context.Background(), events(ids...)))
	require.NoError(t, indexer.Index(context.Background(), event{ID: "single", Message: "single"}))

	// Closing the indexer flushes pending documents.
	require.NoError(t, indexer.Close(context.Background()))
	assert.Equal(t, int64(N+1), indexer.Stats().Indexed)

	// Check that docs are indexed.
	resp, err := esapi.IndicesRefreshRequest{Index: []string{index}}.Do(context.Background(), client)
	require.NoError(t, err)
	resp.Body.Close()

	var result struct {
		Count int
	}
	resp, err = esapi.CountRequest{Index: []string{index}}.Do(context.Background(), client)
	require.NoError(t, err)
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, N+1, result.Count)
}
