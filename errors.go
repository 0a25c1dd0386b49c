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
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrClosed is returned from methods of closed Clients.
	ErrClosed = errors.New("document indexer closed")

	errMissingIndex   = errors.New("missing index name")
	errMissingMapping = errors.New("missing index mapping")
)

// LifecycleOp identifies the index lifecycle operation that failed.
type LifecycleOp string

const (
	// OpIndexExists is the index existence check.
	OpIndexExists LifecycleOp = "exists"
	// OpCreateIndex is the index creation.
	OpCreateIndex LifecycleOp = "create"
	// OpPutMapping is the mapping update.
	OpPutMapping LifecycleOp = "put_mapping"
)

// IndexLifecycleError is returned when checking for, creating, or applying
// the mapping of an index fails.
type IndexLifecycleError struct {
	Op    LifecycleOp
	Index string
	Err   error
}

func (e *IndexLifecycleError) Error() string {
	return fmt.Sprintf("index %s failed for %q: %v", e.Op, e.Index, e.Err)
}

func (e *IndexLifecycleError) Unwrap() error {
	return e.Err
}

// CodecError is returned when an entity cannot be serialized.
//
// Within IndexAll and IndexSeq the error is only logged, and the entity is
// skipped.
type CodecError struct {
	// Position of the entity within the indexed sequence, 0 for Index.
	Position int
	Err      error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("failed to encode entity %d: %v", e.Position, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// BulkTransportError is reported when a bulk request could not be sent, or
// Elasticsearch rejected the request as a whole. All the documents of the
// request are considered lost.
type BulkTransportError struct {
	// StatusCode holds the HTTP status code of the response, or 0 when no
	// response was received.
	StatusCode int
	// Body holds the response body, when there was one.
	Body string
	Err  error
}

func (e *BulkTransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("bulk request failed: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("bulk request failed [%d]: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("bulk request failed [%d]: %s", e.StatusCode, e.Body)
}

func (e *BulkTransportError) Unwrap() error {
	return e.Err
}

// TooManyRequests returns true when Elasticsearch responded with 429.
func (e *BulkTransportError) TooManyRequests() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// ClientError returns true for 4xx responses other than 429.
func (e *BulkTransportError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && !e.TooManyRequests()
}

// ServerError returns true for 5xx responses.
func (e *BulkTransportError) ServerError() bool {
	return e.StatusCode >= 500
}

// ItemError is returned by Client.Index when Elasticsearch rejected the
// indexed document inside an otherwise successful bulk request.
type ItemError struct {
	Item BulkItemResult
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("failed to index document %q in '%s' [%d] (%s): %s",
		e.Item.DocumentID, e.Item.Index, e.Item.Status,
		e.Item.ErrorType, e.Item.ErrorReason,
	)
}
