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
	"sync"
)

// bulkIndexerPool is a pool of bulkIndexer instances, leasing at most max
// indexers at any time. Since every in-flight bulk request holds a leased
// indexer, the pool bounds the number of concurrent requests: Get blocks
// until an indexer is returned with Put.
type bulkIndexerPool struct {
	// slots holds one token per leased indexer.
	slots chan struct{}

	mu   sync.Mutex
	idle []*bulkIndexer

	// Read only fields.
	max    int
	config bulkIndexerConfig
}

func newBulkIndexerPool(max int, cfg bulkIndexerConfig) *bulkIndexerPool {
	return &bulkIndexerPool{
		slots:  make(chan struct{}, max),
		idle:   make([]*bulkIndexer, 0, max),
		max:    max,
		config: cfg,
	}
}

// Get returns an empty bulkIndexer, waiting until one is available when max
// indexers are already leased, or ctx is done.
func (p *bulkIndexerPool) Get(ctx context.Context) (*bulkIndexer, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.idle); n > 0 {
		indexer := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return indexer, nil
	}
	return newBulkIndexer(p.config), nil
}

// Put resets the indexer and returns it to the pool, releasing its slot.
// After calling Put() no references to the indexer should be stored.
func (p *bulkIndexerPool) Put(indexer *bulkIndexer) {
	if indexer == nil {
		return // No indexer to store, nothing to do.
	}
	indexer.Reset()
	p.mu.Lock()
	if len(p.idle) < p.max {
		p.idle = append(p.idle, indexer)
	}
	p.mu.Unlock()
	<-p.slots
}

// Available returns the number of indexers which can be leased without
// blocking.
func (p *bulkIndexerPool) Available() int {
	return p.max - len(p.slots)
}

// Leased returns the number of leased indexers.
func (p *bulkIndexerPool) Leased() int {
	return len(p.slots)
}
