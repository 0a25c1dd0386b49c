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
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
)

// Codec serializes entities into document bodies.
//
// Implementations must be safe for concurrent use.
type Codec interface {
	Encode(v any) ([]byte, error)
}

// CodecFunc adapts a function to the Codec interface.
type CodecFunc func(v any) ([]byte, error)

// Encode calls f(v).
func (f CodecFunc) Encode(v any) ([]byte, error) {
	return f(v)
}

// JSONCodec encodes entities as JSON.
type JSONCodec struct {
	pool bytebufferpool.Pool
}

// Encode returns the JSON encoding of v, without a trailing newline.
func (c *JSONCodec) Encode(v any) ([]byte, error) {
	buf := c.pool.Get()
	defer c.pool.Put(buf)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	// Bodies outlive the pooled buffer.
	return bytes.Clone(bytes.TrimRight(buf.B, "\n")), nil
}

// DocumentIdentifier may be implemented by entities carrying their own
// document ID. Entities not implementing it, or returning an empty ID, are
// assigned a random UUID.
type DocumentIdentifier interface {
	DocumentID() string
}

// Document is a serialized entity, ready to be sent in a bulk request.
type Document struct {
	ID    string
	Index string
	Type  string
	Body  []byte

	// link to the trace of the caller which indexed the document.
	link *linkedTraceContext

	// ack, when set, receives the outcome of the document once its bulk
	// request completes.
	ack chan<- documentResult
}

type documentResult struct {
	item BulkItemResult
	err  error
}

// Len returns the length of the document body.
func (d Document) Len() int {
	return len(d.Body)
}

// documentEncoder turns entities into Documents for a single index.
type documentEncoder struct {
	codec     Codec
	index     string
	indexType string
}

func (e documentEncoder) encode(ctx context.Context, entity any) (Document, error) {
	body, err := e.codec.Encode(entity)
	if err != nil {
		return Document{}, err
	}
	if len(body) == 0 {
		return Document{}, fmt.Errorf("empty document body for %T", entity)
	}
	return Document{
		ID:    documentID(entity),
		Index: e.index,
		Type:  e.indexType,
		Body:  body,
		link:  linkFromContext(ctx),
	}, nil
}

func documentID(entity any) string {
	if v, ok := entity.(DocumentIdentifier); ok {
		if id := v.DocumentID(); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
