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
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-docindexer/docindexertest"
)

func newTestPool(t testing.TB, max int) *bulkIndexerPool {
	client := docindexertest.NewMockElasticsearchClient(t, func(http.ResponseWriter, *http.Request) {})
	return newBulkIndexerPool(max, bulkIndexerConfig{Client: client})
}

func TestBulkIndexerPoolGetPut(t *testing.T) {
	pool := newTestPool(t, 2)
	assert.Equal(t, 2, pool.Available())

	first, err := pool.Get(context.Background())
	require.NoError(t, err)
	second, err := pool.Get(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 0, pool.Available())
	assert.Equal(t, 2, pool.Leased())

	require.NoError(t, first.Add(Document{ID: "1", Index: "idx", Body: []byte(`{}`)}))
	pool.Put(first)
	assert.Equal(t, 1, pool.Available())

	// Returned indexers are reused, reset.
	reused, err := pool.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, reused)
	assert.Equal(t, 0, reused.Items())

	pool.Put(reused)
	pool.Put(second)
	pool.Put(nil)
	assert.Equal(t, 2, pool.Available())
}

func TestBulkIndexerPoolBlocksWhenExhausted(t *testing.T) {
	pool := newTestPool(t, 1)
	leased, err := pool.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan *bulkIndexer)
	go func() {
		indexer, err := pool.Get(context.Background())
		assert.NoError(t, err)
		got <- indexer
	}()
	select {
	case <-got:
		t.Fatal("expected Get to block")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Put(leased)
	select {
	case indexer := <-got:
		pool.Put(indexer)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Get to unblock")
	}
}

func TestBulkIndexerPoolConcurrent(t *testing.T) {
	const limit = 4
	pool := newTestPool(t, limit)

	var mu sync.Mutex
	var leased, maxLeased int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			indexer, err := pool.Get(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			leased++
			maxLeased = max(maxLeased, leased)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			leased--
			mu.Unlock()
			pool.Put(indexer)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxLeased, limit)
	assert.Equal(t, limit, pool.Available())
}
