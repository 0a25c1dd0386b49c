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

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/trace"
)

// linkedTraceContext identifies the span active when a document was
// indexed, so that the bulk request carrying it can link back to it.
type linkedTraceContext struct {
	TraceID [16]byte
	SpanID  [8]byte
}

// linkFromContext captures the caller's trace, preferring OTel over APM.
func linkFromContext(ctx context.Context) *linkedTraceContext {
	if ctx == nil {
		return nil
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() && sc.HasSpanID() {
		return &linkedTraceContext{TraceID: sc.TraceID(), SpanID: sc.SpanID()}
	}
	tx := apm.TransactionFromContext(ctx)
	if tx == nil {
		return nil
	}
	tc := tx.TraceContext()
	if span := apm.SpanFromContext(ctx); span != nil {
		tc = span.TraceContext()
	}
	if tc.Trace.Validate() != nil {
		return nil
	}
	return &linkedTraceContext{TraceID: tc.Trace, SpanID: tc.Span}
}

// traceLinks holds the distinct caller traces of one bulk request.
type traceLinks []linkedTraceContext

// batchLinks returns the distinct trace links of docs.
func batchLinks(docs []Document) traceLinks {
	var links traceLinks
	seen := make(map[linkedTraceContext]struct{})
	for _, doc := range docs {
		if doc.link == nil {
			continue
		}
		if _, ok := seen[*doc.link]; ok {
			continue
		}
		seen[*doc.link] = struct{}{}
		links = append(links, *doc.link)
	}
	return links
}

func (l traceLinks) apm() []apm.SpanLink {
	out := make([]apm.SpanLink, len(l))
	for i, c := range l {
		out[i] = apm.SpanLink{Trace: c.TraceID, Span: c.SpanID}
	}
	return out
}

func (l traceLinks) otel() []trace.Link {
	out := make([]trace.Link, len(l))
	for i, c := range l {
		out[i] = trace.Link{SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: c.TraceID,
			SpanID:  c.SpanID,
		})}
	}
	return out
}
