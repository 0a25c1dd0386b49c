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
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/v2"
	"go.elastic.co/apm/v2/apmtest"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type identified struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (i identified) DocumentID() string { return i.ID }

func TestJSONCodec(t *testing.T) {
	var codec JSONCodec
	body, err := codec.Encode(identified{ID: "1", Name: "foo"})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1","name":"foo"}`, string(body))

	// Bodies are not overwritten by later encodings.
	other, err := codec.Encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1","name":"foo"}`, string(body))
	assert.Equal(t, `{"a":1}`, string(other))

	_, err = codec.Encode(func() {})
	assert.Error(t, err)
}

func TestDocumentEncoder(t *testing.T) {
	encoder := documentEncoder{codec: &JSONCodec{}, index: "events", indexType: "event"}

	doc, err := encoder.encode(context.Background(), identified{ID: "abc", Name: "foo"})
	require.NoError(t, err)
	assert.Equal(t, "abc", doc.ID)
	assert.Equal(t, "events", doc.Index)
	assert.Equal(t, "event", doc.Type)
	assert.Equal(t, len(`{"id":"abc","name":"foo"}`), doc.Len())
	assert.Nil(t, doc.link)

	// Entities without an ID are assigned a random UUID.
	doc, err = encoder.encode(context.Background(), identified{Name: "foo"})
	require.NoError(t, err)
	_, err = uuid.Parse(doc.ID)
	assert.NoError(t, err)

	other, err := encoder.encode(context.Background(), map[string]string{})
	require.NoError(t, err)
	assert.NotEqual(t, doc.ID, other.ID)
}

func TestDocumentEncoderErrors(t *testing.T) {
	errEncode := errors.New("boom")
	encoder := documentEncoder{
		codec: CodecFunc(func(any) ([]byte, error) { return nil, errEncode }),
		index: "events",
	}
	_, err := encoder.encode(context.Background(), identified{})
	assert.ErrorIs(t, err, errEncode)

	encoder.codec = CodecFunc(func(any) ([]byte, error) { return nil, nil })
	_, err = encoder.encode(context.Background(), identified{})
	assert.Error(t, err)
}

func TestLinkFromContext(t *testing.T) {
	assert.Nil(t, linkFromContext(context.Background()))

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	defer span.End()
	link := linkFromContext(ctx)
	require.NotNil(t, link)
	assert.Equal(t, [16]byte(span.SpanContext().TraceID()), link.TraceID)
	assert.Equal(t, [8]byte(span.SpanContext().SpanID()), link.SpanID)

	tracer := apmtest.NewRecordingTracer()
	defer tracer.Close()
	tx := tracer.StartTransaction("parent", "test")
	defer tx.End()
	ctx = apm.ContextWithTransaction(context.Background(), tx)
	link = linkFromContext(ctx)
	require.NotNil(t, link)
	assert.Equal(t, [16]byte(tx.TraceContext().Trace), link.TraceID)
	assert.Equal(t, [8]byte(tx.TraceContext().Span), link.SpanID)
}

func TestBatchLinks(t *testing.T) {
	a := &linkedTraceContext{TraceID: [16]byte{1}, SpanID: [8]byte{1}}
	b := &linkedTraceContext{TraceID: [16]byte{2}, SpanID: [8]byte{2}}
	links := batchLinks([]Document{{link: a}, {}, {link: b}, {link: a}})
	assert.Equal(t, traceLinks{*a, *b}, links)

	apmLinks := links.apm()
	require.Len(t, apmLinks, 2)
	assert.Equal(t, apm.TraceID(a.TraceID), apmLinks[0].Trace)
	assert.Equal(t, apm.SpanID(b.SpanID), apmLinks[1].Span)

	otelLinks := links.otel()
	require.Len(t, otelLinks, 2)
	assert.Equal(t, trace.TraceID(b.TraceID), otelLinks[1].SpanContext.TraceID())
	assert.Empty(t, batchLinks([]Document{{}}).otel())
}
