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
	"net/url"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// IndexManager creates indices and applies their mappings.
//
// None of its operations are retried; retries belong to the transport.
type IndexManager struct {
	client esapi.Transport
	logger *zap.Logger

	// IncludeDocumentType applies mappings under their IndexType, using
	// the typed mapping endpoint of clusters older than 7.0.
	IncludeDocumentType bool
}

// NewIndexManager returns an IndexManager using client. If logger is nil,
// logging is disabled.
func NewIndexManager(client esapi.Transport, logger *zap.Logger) *IndexManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexManager{client: client, logger: logger}
}

// IndexExists reports whether the index exists.
func (m *IndexManager) IndexExists(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, errMissingIndex
	}
	res, err := esapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, m.client)
	if err != nil {
		return false, m.fail(OpIndexExists, name, err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, m.fail(OpIndexExists, name, fmt.Errorf("unexpected status %s", res.Status()))
}

// EnsureIndex creates the index unless it already exists.
func (m *IndexManager) EnsureIndex(ctx context.Context, name string) error {
	exists, err := m.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	res, err := esapi.IndicesCreateRequest{Index: name}.Do(ctx, m.client)
	if err != nil {
		return m.fail(OpCreateIndex, name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		// Another client created the index since the existence check.
		if errorType(body) == "resource_already_exists_exception" {
			m.logger.Debug("index created concurrently", zap.String("index", name))
			return nil
		}
		return m.fail(OpCreateIndex, name, fmt.Errorf("%s: %s", res.Status(), body))
	}
	m.logger.Debug("created index", zap.String("index", name))
	return nil
}

// EnsureMapping applies mapping to the index. The mapping is only applied
// when the index exists, otherwise EnsureMapping does nothing.
func (m *IndexManager) EnsureMapping(ctx context.Context, name string, mapping IndexMapping) error {
	if mapping == nil {
		return errMissingMapping
	}
	exists, err := m.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		m.logger.Debug("index does not exist, skipping mapping", zap.String("index", name))
		return nil
	}

	definition, err := mapping.MappingDefinition()
	if err != nil {
		return m.fail(OpPutMapping, name, fmt.Errorf("building mapping definition: %w", err))
	}
	var res *esapi.Response
	if typeName := mapping.IndexType(); m.IncludeDocumentType && typeName != "" {
		res, err = m.putTypedMapping(ctx, name, typeName, definition)
	} else {
		res, err = esapi.IndicesPutMappingRequest{
			Index: []string{name},
			Body:  bytes.NewReader(definition),
		}.Do(ctx, m.client)
	}
	if err != nil {
		return m.fail(OpPutMapping, name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return m.fail(OpPutMapping, name, errors.New(res.String()))
	}
	m.logger.Debug("applied mapping",
		zap.String("index", name),
		zap.String("type", mapping.IndexType()),
	)
	return nil
}

// putTypedMapping sends PUT /{index}/_mapping/{type}, which esapi no longer
// models.
func (m *IndexManager) putTypedMapping(ctx context.Context, name, typeName string, definition []byte) (*esapi.Response, error) {
	path := "/" + url.PathEscape(name) + "/_mapping/" + url.PathEscape(typeName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, path, bytes.NewReader(definition))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := m.client.Perform(req)
	if err != nil {
		return nil, err
	}
	return &esapi.Response{StatusCode: res.StatusCode, Header: res.Header, Body: res.Body}, nil
}

// errorType returns the error.type of an Elasticsearch error response, or
// an empty string if body is not one.
func errorType(body []byte) string {
	var res struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := jsoniter.Unmarshal(body, &res); err != nil {
		return ""
	}
	return res.Error.Type
}

func (m *IndexManager) fail(op LifecycleOp, name string, err error) error {
	m.logger.Error("index lifecycle operation failed",
		zap.String("op", string(op)),
		zap.String("index", name),
		zap.Error(err),
	)
	return &IndexLifecycleError{Op: op, Index: name, Err: err}
}
