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

// Package docindexertest provides an in-memory Elasticsearch mock for
// testing code built on docindexer.
package docindexertest

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// BulkItem is a single action of a bulk request.
type BulkItem struct {
	Action string
	Index  string
	ID     string
	Type   string
	Source []byte
}

// DecodeBulkRequest decodes a /_bulk request's body, returning the decoded
// items and a response body acknowledging each of them with 201.
func DecodeBulkRequest(r *http.Request) ([]BulkItem, esutil.BulkIndexerResponse) {
	body := r.Body
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		defer r.Close()
		body = r
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(nil, 16*1024*1024)
	var items []BulkItem
	var result esutil.BulkIndexerResponse
	for scanner.Scan() {
		var action map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
			Type  string `json:"_type"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			panic(err)
		}
		var item BulkItem
		for actionType, meta := range action {
			item = BulkItem{
				Action: actionType,
				Index:  meta.Index,
				ID:     meta.ID,
				Type:   meta.Type,
			}
		}
		if !scanner.Scan() {
			panic("expected source")
		}
		item.Source = append([]byte{}, scanner.Bytes()...)
		if !json.Valid(item.Source) {
			panic(fmt.Errorf("invalid JSON: %s", item.Source))
		}
		items = append(items, item)

		result.Items = append(result.Items, map[string]esutil.BulkIndexerResponseItem{
			item.Action: {
				Index:      item.Index,
				DocumentID: item.ID,
				Status:     http.StatusCreated,
			},
		})
	}
	if err := scanner.Err(); err != nil {
		panic(err)
	}
	return items, result
}

// NewMockElasticsearchClient returns an elasticsearch.Client which sends /_bulk requests to bulkHandler.
func NewMockElasticsearchClient(t testing.TB, bulkHandler http.HandlerFunc) *elasticsearch.Client {
	config := NewMockElasticsearchClientConfig(t, bulkHandler)
	client, err := elasticsearch.NewClient(config)
	require.NoError(t, err)
	return client
}

// NewMockElasticsearchClientConfig starts an httptest.Server, and returns an elasticsearch.Config which
// sends /_bulk requests to bulkHandler. The httptest.Server will be closed via t.Cleanup.
func NewMockElasticsearchClientConfig(t testing.TB, bulkHandler http.HandlerFunc) elasticsearch.Config {
	mux := http.NewServeMux()
	HandleBulk(mux, bulkHandler)
	return newClientConfig(t, mux)
}

// HandleBulk registers bulkHandler with mux for handling /_bulk requests,
// wrapping bulkHandler to conform with go-elasticsearch version checking.
func HandleBulk(mux *http.ServeMux, bulkHandler http.HandlerFunc) {
	mux.HandleFunc("/_bulk", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		bulkHandler.ServeHTTP(w, r)
	})
}

func newClientConfig(t testing.TB, handler http.Handler) elasticsearch.Config {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	config := elasticsearch.Config{}
	config.Addresses = []string{srv.URL}
	config.DisableRetry = true
	config.Transport = apmelasticsearch.WrapRoundTripper(http.DefaultTransport)
	return config
}

// Cluster is a mock Elasticsearch cluster, tracking the indices created
// and the mappings applied to them. Bulk requests are passed to a handler.
type Cluster struct {
	mu       sync.Mutex
	indices  map[string][]byte
	types    map[string]string
	calls    map[string]int
	failures map[string]clusterError
}

type clusterError struct {
	status int
	typ    string
	reason string
}

// Operations recorded by Cluster.
const (
	OpExists     = "exists"
	OpCreate     = "create"
	OpPutMapping = "put_mapping"
)

// NewCluster starts a mock cluster with no indices, and returns a client
// connected to it. Bulk requests are passed to bulkHandler.
func NewCluster(t testing.TB, bulkHandler http.HandlerFunc) (*Cluster, *elasticsearch.Client) {
	c := &Cluster{
		indices:  make(map[string][]byte),
		types:    make(map[string]string),
		calls:    make(map[string]int),
		failures: make(map[string]clusterError),
	}
	mux := http.NewServeMux()
	HandleBulk(mux, bulkHandler)
	mux.HandleFunc("/", c.serveIndices)

	client, err := elasticsearch.NewClient(newClientConfig(t, mux))
	require.NoError(t, err)
	return c, client
}

// AddIndex creates an index without recording a create call.
func (c *Cluster) AddIndex(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indices[name] = nil
}

// HasIndex reports whether the index exists.
func (c *Cluster) HasIndex(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.indices[name]
	return ok
}

// Mapping returns the last mapping applied to the index.
func (c *Cluster) Mapping(name string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indices[name]
}

// MappingType returns the document type of the last typed mapping applied
// to the index, or an empty string.
func (c *Cluster) MappingType(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.types[name]
}

// Calls returns the number of requests received for op.
func (c *Cluster) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// FailWith makes every following op request fail with status.
func (c *Cluster) FailWith(op string, status int) {
	c.FailWithError(op, status, "mock_failure", "failure injected by test")
}

// FailWithError makes every following op request fail with status and an
// error of the given type and reason.
func (c *Cluster) FailWithError(op string, status int, errorType, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = clusterError{status: status, typ: errorType, reason: reason}
}

func (c *Cluster) serveIndices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	path := strings.Trim(r.URL.Path, "/")
	name, rest, _ := strings.Cut(path, "/")
	resource, typeName, _ := strings.Cut(rest, "/")
	var op string
	switch {
	case r.Method == http.MethodHead && rest == "":
		op = OpExists
	case r.Method == http.MethodPut && rest == "":
		op = OpCreate
	case r.Method == http.MethodPut && resource == "_mapping":
		op = OpPutMapping
	default:
		http.NotFound(w, r)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	if f, ok := c.failures[op]; ok {
		writeError(w, f.status, f.typ, f.reason)
		return
	}

	_, exists := c.indices[name]
	switch op {
	case OpExists:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
		}
	case OpCreate:
		if exists {
			writeError(w, http.StatusBadRequest, "resource_already_exists_exception",
				fmt.Sprintf("index [%s] already exists", name),
			)
			return
		}
		c.indices[name] = nil
		fmt.Fprintf(w, `{"acknowledged":true,"shards_acknowledged":true,"index":%q}`, name)
	case OpPutMapping:
		if !exists {
			writeError(w, http.StatusNotFound, "index_not_found_exception",
				fmt.Sprintf("no such index [%s]", name),
			)
			return
		}
		var mapping json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&mapping); err != nil {
			writeError(w, http.StatusBadRequest, "mapper_parsing_exception", err.Error())
			return
		}
		c.indices[name] = mapping
		c.types[name] = typeName
		fmt.Fprint(w, `{"acknowledged":true}`)
	}
}

func writeError(w http.ResponseWriter, status int, errorType, reason string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"type":   errorType,
			"reason": reason,
		},
		"status": status,
	})
}
