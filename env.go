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
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envSettings lists the Config fields which can be set from the environment.
type envSettings struct {
	MaxDocuments        int           `default:"1000"      desc:"Maximum number of documents to buffer before flushing"        envconfig:"MAX_DOCUMENTS"`
	FlushBytes          int           `default:"5242880"   desc:"Maximum number of bytes to buffer before flushing"            envconfig:"FLUSH_BYTES"`
	FlushInterval       time.Duration `default:"5s"        desc:"Maximum amount of time to buffer documents before flushing"   envconfig:"FLUSH_INTERVAL"`
	FlushTimeout        time.Duration `default:"0s"        desc:"Timeout of a single bulk request, 0 disables it"              envconfig:"FLUSH_TIMEOUT"`
	MaxRequests         int           `default:"10"        desc:"Maximum number of concurrent bulk requests"                   envconfig:"MAX_REQUESTS"`
	CompressionLevel    int           `default:"0"         desc:"Gzip compression level of bulk requests, from -1 to 9"        envconfig:"COMPRESSION_LEVEL"`
	Pipeline            string        `desc:"Ingest pipeline to run the documents through"                                   envconfig:"PIPELINE"`
	IncludeDocumentType bool          `default:"false"     desc:"Send the mapping type in bulk requests, for clusters < 7.0"   envconfig:"INCLUDE_DOCUMENT_TYPE"`
}

// ConfigFromEnv returns a Config populated from environment variables with
// the given prefix, e.g. prefix "INDEXER" reads INDEXER_MAX_DOCUMENTS.
//
// Fields which cannot be expressed as environment variables, such as the
// Logger or Listener, are left unset.
func ConfigFromEnv(prefix string) (Config, error) {
	var env envSettings
	if err := envconfig.Process(prefix, &env); err != nil {
		return Config{}, fmt.Errorf("processing environment config: %w", err)
	}
	cfg := Config{
		MaxDocuments:        env.MaxDocuments,
		FlushBytes:          env.FlushBytes,
		FlushInterval:       env.FlushInterval,
		FlushTimeout:        env.FlushTimeout,
		MaxRequests:         env.MaxRequests,
		CompressionLevel:    env.CompressionLevel,
		Pipeline:            env.Pipeline,
		IncludeDocumentType: env.IncludeDocumentType,
	}
	return cfg, cfg.Validate()
}
