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
	"github.com/goccy/go-json"
)

// IndexMapping describes the documents stored in an index.
type IndexMapping interface {
	// IndexType returns the logical document type name.
	IndexType() string

	// MappingDefinition returns the mapping body, as accepted by the
	// Elasticsearch put mapping API.
	MappingDefinition() ([]byte, error)
}

type staticMapping struct {
	typeName   string
	definition []byte
}

// NewIndexMapping returns an IndexMapping with a pre-encoded definition.
func NewIndexMapping(typeName string, definition []byte) IndexMapping {
	return staticMapping{typeName: typeName, definition: definition}
}

func (m staticMapping) IndexType() string                  { return m.typeName }
func (m staticMapping) MappingDefinition() ([]byte, error) { return m.definition, nil }

type propertiesMapping struct {
	typeName   string
	properties map[string]any
}

// NewPropertiesMapping returns an IndexMapping whose definition is
// {"properties": properties}.
func NewPropertiesMapping(typeName string, properties map[string]any) IndexMapping {
	return propertiesMapping{typeName: typeName, properties: properties}
}

func (m propertiesMapping) IndexType() string { return m.typeName }

func (m propertiesMapping) MappingDefinition() ([]byte, error) {
	return json.Marshal(map[string]any{"properties": m.properties})
}
