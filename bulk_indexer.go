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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"go.elastic.co/fastjson"
)

// bulkIndexerConfig holds configuration for bulkIndexer.
type bulkIndexerConfig struct {
	// Client holds the Elasticsearch client.
	Client esapi.Transport

	// CompressionLevel holds the gzip compression level of request bodies.
	CompressionLevel int

	// Pipeline holds the ingest pipeline ID.
	Pipeline string

	// IncludeDocumentType writes `_type` in the action metadata.
	IncludeDocumentType bool
}

// bulkIndexer encodes documents into a single _bulk request body and sends
// it. A bulkIndexer is not safe for concurrent use; the dispatcher leases
// one per in-flight request from a bulkIndexerPool.
type bulkIndexer struct {
	config                   bulkIndexerConfig
	itemsAdded               int
	bytesUncompressed        int
	bytesFlushed             int
	bytesUncompressedFlushed int
	jsonw                    fastjson.Writer
	writer                   io.Writer
	gzipw                    *gzip.Writer
	buf                      bytes.Buffer
}

// BulkItemResult is the outcome of a single document in a bulk request.
type BulkItemResult struct {
	// Position of the document within BulkRequest.Documents.
	Position    int
	DocumentID  string
	Index       string
	Status      int
	ErrorType   string
	ErrorReason string
}

// Failed returns true if Elasticsearch rejected the document.
func (r BulkItemResult) Failed() bool {
	return r.ErrorType != "" || r.Status > http.StatusCreated
}

// BulkResponse holds the per document outcome of a bulk request processed
// by Elasticsearch.
type BulkResponse struct {
	// Items holds one result per submitted document, in submission order.
	Items []BulkItemResult

	// Indexed holds the number of successfully indexed documents.
	Indexed int64
}

// Failed returns the results of the rejected documents.
func (r BulkResponse) Failed() []BulkItemResult {
	var failed []BulkItemResult
	for _, item := range r.Items {
		if item.Failed() {
			failed = append(failed, item)
		}
	}
	return failed
}

type bulkResponseBody struct {
	Items []map[string]bulkResponseItem `json:"items"`
}

type bulkResponseItem struct {
	Index  string `json:"_index"`
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func newBulkIndexer(cfg bulkIndexerConfig) *bulkIndexer {
	b := &bulkIndexer{config: cfg}
	if cfg.CompressionLevel != gzip.NoCompression {
		// The level is validated by Config.Validate.
		b.gzipw, _ = gzip.NewWriterLevel(&b.buf, cfg.CompressionLevel)
		b.writer = b.gzipw
	} else {
		b.writer = &b.buf
	}
	return b
}

// Reset resets the bulk indexer, ready for a new request.
func (b *bulkIndexer) Reset() {
	b.bytesFlushed = 0
	b.bytesUncompressedFlushed = 0
	b.resetBuf()
}

func (b *bulkIndexer) resetBuf() {
	b.itemsAdded = 0
	b.bytesUncompressed = 0
	b.buf.Reset()
	if b.gzipw != nil {
		b.gzipw.Reset(&b.buf)
	}
}

// Items returns the number of buffered items.
func (b *bulkIndexer) Items() int {
	return b.itemsAdded
}

// Len returns the number of buffered bytes.
func (b *bulkIndexer) Len() int {
	return b.buf.Len()
}

// UncompressedLen returns the number of uncompressed buffered bytes.
func (b *bulkIndexer) UncompressedLen() int {
	return b.bytesUncompressed
}

// BytesFlushed returns the number of bytes sent by the last Flush.
func (b *bulkIndexer) BytesFlushed() int {
	return b.bytesFlushed
}

// BytesUncompressedFlushed returns the number of uncompressed bytes sent by
// the last Flush.
func (b *bulkIndexer) BytesUncompressedFlushed() int {
	return b.bytesUncompressedFlushed
}

// Add encodes a document in the buffer.
func (b *bulkIndexer) Add(doc Document) error {
	b.writeMeta(doc)
	n, err := b.writer.Write(doc.Body)
	if err != nil {
		return fmt.Errorf("failed to write document %q: %w", doc.ID, err)
	}
	b.bytesUncompressed += n
	if _, err := b.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	b.bytesUncompressed++
	b.itemsAdded++
	return nil
}

func (b *bulkIndexer) writeMeta(doc Document) {
	b.jsonw.RawString(`{"index":{`)
	b.jsonw.RawString(`"_index":`)
	b.jsonw.String(doc.Index)
	if doc.ID != "" {
		b.jsonw.RawString(`,"_id":`)
		b.jsonw.String(doc.ID)
	}
	if b.config.IncludeDocumentType && doc.Type != "" {
		b.jsonw.RawString(`,"_type":`)
		b.jsonw.String(doc.Type)
	}
	b.jsonw.RawString("}}\n")
	n, _ := b.writer.Write(b.jsonw.Bytes())
	b.bytesUncompressed += n
	b.jsonw.Reset()
}

// Flush executes a bulk request if there are any items buffered, and clears
// out the buffer.
func (b *bulkIndexer) Flush(ctx context.Context) (BulkResponse, error) {
	if b.itemsAdded == 0 {
		return BulkResponse{}, nil
	}
	defer b.resetBuf()

	if b.gzipw != nil {
		if err := b.gzipw.Close(); err != nil {
			return BulkResponse{}, fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Body:   &b.buf,
		Header: make(http.Header),
		FilterPath: []string{
			"items.*._index", "items.*._id", "items.*.status",
			"items.*.error.type", "items.*.error.reason",
		},
		Pipeline: b.config.Pipeline,
	}
	if b.gzipw != nil {
		req.Header.Set("Content-Encoding", "gzip")
	}

	bytesFlushed := b.buf.Len()
	bytesUncompressed := b.bytesUncompressed
	items := b.itemsAdded
	res, err := req.Do(ctx, b.config.Client)
	if err != nil {
		return BulkResponse{}, &BulkTransportError{
			Err: fmt.Errorf("failed to execute the request: %w", err),
		}
	}
	defer res.Body.Close()

	// Record the number of flushed bytes only when err == nil. The body may
	// not have been sent otherwise.
	b.bytesFlushed = bytesFlushed
	b.bytesUncompressedFlushed = bytesUncompressed
	if res.IsError() {
		return BulkResponse{}, &BulkTransportError{
			StatusCode: res.StatusCode,
			Body:       res.String(),
		}
	}

	var body bulkResponseBody
	if err := jsoniter.NewDecoder(res.Body).Decode(&body); err != nil {
		return BulkResponse{}, &BulkTransportError{
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("error decoding bulk response: %w", err),
		}
	}
	if len(body.Items) != items {
		return BulkResponse{}, &BulkTransportError{
			StatusCode: res.StatusCode,
			Err: fmt.Errorf("%w: got %d items, sent %d",
				errUnexpectedItems, len(body.Items), items,
			),
		}
	}

	resp := BulkResponse{Items: make([]BulkItemResult, 0, items)}
	for i, actions := range body.Items {
		for _, item := range actions {
			result := BulkItemResult{
				Position:   i,
				DocumentID: item.ID,
				Index:      item.Index,
				Status:     item.Status,
				ErrorType:  item.Error.Type,
				// Match Elasticsearch field mapper field value:
				// failed to parse field [%s] of type [%s] in %s. Preview of field's value: '%s'
				ErrorReason: strings.SplitN(item.Error.Reason, ". Preview", 2)[0],
			}
			if !result.Failed() {
				resp.Indexed++
			}
			resp.Items = append(resp.Items, result)
		}
	}
	return resp, nil
}

var errUnexpectedItems = errors.New("unexpected number of items in bulk response")
