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

// Package docindexer provides a batched document ingestion client for
// Elasticsearch.
//
// A Client serializes typed entities into documents and submits them to a
// single index in bulk requests, bounded by document count, byte volume and
// time since the last flush. The client also manages the lifecycle of its
// index: creating it when missing and applying its mapping before writes.
//
// Bulk requests are not transactional. Documents rejected individually by
// Elasticsearch are reported through the BulkListener, and are never retried
// by the client itself.
package docindexer
