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
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-docindexer/docindexertest"
)

func TestBulkIndexer(t *testing.T) {
	for _, tc := range []struct {
		Name             string
		CompressionLevel int
	}{
		{Name: "no_compression", CompressionLevel: gzip.NoCompression},
		{Name: "default_compression", CompressionLevel: gzip.DefaultCompression},
		{Name: "most_compression", CompressionLevel: gzip.BestCompression},
		{Name: "speed_compression", CompressionLevel: gzip.BestSpeed},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			var received []docindexertest.BulkItem
			var contentLength int64
			client := docindexertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
				contentLength = r.ContentLength
				items, result := docindexertest.DecodeBulkRequest(r)
				received = items
				json.NewEncoder(w).Encode(result)
			})
			indexer := newBulkIndexer(bulkIndexerConfig{
				Client:           client,
				CompressionLevel: tc.CompressionLevel,
			})

			const itemCount = 1_000
			for i := 0; i < itemCount; i++ {
				require.NoError(t, indexer.Add(Document{
					ID:    fmt.Sprint(i),
					Index: "testidx",
					Body:  []byte(`{"message":"hello"}`),
				}))
			}
			require.Equal(t, itemCount, indexer.Items())
			uncompressed := indexer.UncompressedLen()

			resp, err := indexer.Flush(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(itemCount), resp.Indexed)
			assert.Len(t, resp.Items, itemCount)
			assert.Empty(t, resp.Failed())
			assert.Equal(t, uncompressed, indexer.BytesUncompressedFlushed())
			if contentLength > 0 {
				assert.Equal(t, int(contentLength), indexer.BytesFlushed())
			}
			if tc.CompressionLevel != gzip.NoCompression {
				assert.Less(t, indexer.BytesFlushed(), uncompressed)
			}

			require.Len(t, received, itemCount)
			for i, item := range received {
				assert.Equal(t, "index", item.Action)
				assert.Equal(t, "testidx", item.Index)
				assert.Equal(t, fmt.Sprint(i), item.ID)
				assert.Empty(t, item.Type)
				assert.JSONEq(t, `{"message":"hello"}`, string(item.Source))

				assert.Equal(t, i, resp.Items[i].Position)
				assert.Equal(t, fmt.Sprint(i), resp.Items[i].DocumentID)
			}

			// nothing is in the buffer after a flush
			assert.Equal(t, 0, indexer.Items())
			assert.Equal(t, 0, indexer.UncompressedLen())

			indexer.Reset()
			assert.Equal(t, 0, indexer.BytesFlushed())
			assert.Equal(t, 0, indexer.BytesUncompressedFlushed())
		})
	}
}

func TestBulkIndexerFlushEmpty(t *testing.T) {
	client := docindexertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected bulk request")
	})
	indexer := newBulkIndexer(bulkIndexerConfig{Client: client})
	resp, err := indexer.Flush(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resp.Items)
}

func TestBulkIndexerDocumentType(t *testing.T) {
	for _, include := range []bool{false, true} {
		t.Run(fmt.Sprint(include), func(t *testing.T) {
			var received []docindexertest.BulkItem
			client := docindexertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
				items, result := docindexertest.DecodeBulkRequest(r)
				received = items
				json.NewEncoder(w).Encode(result)
			})
			indexer := newBulkIndexer(bulkIndexerConfig{
				Client:              client,
				IncludeDocumentType: include,
			})
			require.NoError(t, indexer.Add(Document{
				ID: "1", Index: "testidx", Type: "event", Body: []byte(`{}`),
			}))
			_, err := indexer.Flush(context.Background())
			require.NoError(t, err)

			require.Len(t, received, 1)
			if include {
				assert.Equal(t, "event", received[0].Type)
			} else {
				assert.Empty(t, received[0].Type)
			}
		})
	}
}

func TestBulkIndexerPipeline(t *testing.T) {
	var pipeline string
	client := docindexertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		pipeline = r.URL.Query().Get("pipeline")
		_, result := docindexertest.DecodeBulkRequest(r)
		json.NewEncoder(w).Encode(result)
	})
	indexer := newBulkIndexer(bulkIndexerConfig{
		Client:   client,
		Pipeline: "test-pipeline",
	})
	require.NoError(t, indexer.Add(Document{ID: "1", Index: "testidx", Body: []byte(`{}`)}))
	_, err := indexer.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-pipeline", pipeline)
}

func TestBulkIndexerItemErrors(t *testing.T) {
	client := docindexertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, result := docindexertest.DecodeBulkRequest(r)
		result.HasErrors = true
		for i, itemsMap := range result.Items {
			if i == 0 {
				continue
			}
			for k, item := range itemsMap {
				item.Status = http.StatusBadRequest
				item.Error.Type = "mapper_parsing_exception"
				item.Error.Reason = "failed to parse field [x] of type [long] in document. Preview of field's value: 'abc'"
				if i == 2 {
					item.Status = http.StatusTooManyRequests
					item.Error.Type = "es_rejected_execution_exception"
					item.Error.Reason = "rejected"
				}
				itemsMap[k] = item
			}
		}
		json.NewEncoder(w).Encode(result)
	})
	indexer := newBulkIndexer(bulkIndexerConfig{Client: client})
	for i := 0; i < 3; i++ {
		require.NoError(t, indexer.Add(Document{ID: fmt.Sprint(i), Index: "testidx", Body: []byte(`{}`)}))
	}
	resp, err := indexer.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Indexed)
	assert.Equal(t, []BulkItemResult{{
		Position:    1,
		DocumentID:  "1",
		Index:       "testidx",
		Status:      http.StatusBadRequest,
		ErrorType:   "mapper_parsing_exception",
		ErrorReason: "failed to parse field [x] of type [long] in document",
	}, {
		Position:    2,
		DocumentID:  "2",
		Index:       "testidx",
		Status:      http.StatusTooManyRequests,
		ErrorType:   "es_rejected_execution_exception",
		ErrorReason: "rejected",
	}}, resp.Failed())
}

func TestBulkIndexerRequestError(t *testing.T) {
	for _, tc := range []struct {
		status          int
		tooMany, client bool
		server          bool
	}{
		{status: http.StatusTooManyRequests, tooMany: true},
		{status: http.StatusBadRequest, client: true},
		{status: http.StatusServiceUnavailable, server: true},
	} {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			client := docindexertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"error":{"type":"simulated"}}`))
			})
			indexer := newBulkIndexer(bulkIndexerConfig{Client: client})
			require.NoError(t, indexer.Add(Document{ID: "1", Index: "testidx", Body: []byte(`{}`)}))
			_, err := indexer.Flush(context.Background())

			var errTransport *BulkTransportError
			require.ErrorAs(t, err, &errTransport)
			assert.Equal(t, tc.status, errTransport.StatusCode)
			assert.Contains(t, errTransport.Body, "simulated")
			assert.Equal(t, tc.tooMany, errTransport.TooManyRequests())
			assert.Equal(t, tc.client, errTransport.ClientError())
			assert.Equal(t, tc.server, errTransport.ServerError())
		})
	}
}

func TestBulkIndexerUnexpectedItems(t *testing.T) {
	client := docindexertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		docindexertest.DecodeBulkRequest(r)
		w.Write([]byte(`{"items":[]}`))
	})
	indexer := newBulkIndexer(bulkIndexerConfig{Client: client})
	require.NoError(t, indexer.Add(Document{ID: "1", Index: "testidx", Body: []byte(`{}`)}))
	_, err := indexer.Flush(context.Background())
	assert.ErrorIs(t, err, errUnexpectedItems)
}
