// Copyright Project Hosh Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rendercache holds fully rendered pages keyed by their render
// parameters. Reads are lock-cheap; a background task re-renders every
// registered key on the TTL period, so steady-state requests never
// touch the result store.
package rendercache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/projecthosh/hosh/internal/metrics"
)

// DefaultTTL is the freshness bound for a cached page.
const DefaultTTL = 10 * time.Second

// RenderFunc produces the page body for one cache key.
type RenderFunc func(ctx context.Context) (string, error)

type entry struct {
	body       string
	renderedAt time.Time
}

// Cache is the process-wide rendered-page cache.
type Cache struct {
	ttl     time.Duration
	metrics *metrics.Metrics

	mu        sync.RWMutex
	entries   map[string]entry
	renderers map[string]RenderFunc

	logrus.FieldLogger
}

// New returns an empty cache with the given TTL.
func New(ttl time.Duration, m *metrics.Metrics, log logrus.FieldLogger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:         ttl,
		metrics:     m,
		entries:     map[string]entry{},
		renderers:   map[string]RenderFunc{},
		FieldLogger: log.WithField("context", "rendercache"),
	}
}

// Key builds the canonical cache key for a dashboard page.
func Key(network string, hideCommunity bool) string {
	return fmt.Sprintf("%s-%t", network, hideCommunity)
}

// Register adds a key to the background refresh set.
func (c *Cache) Register(key string, render RenderFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renderers[key] = render
}

// Get returns the page for key, rendering on demand when the entry is
// missing or past the TTL. The returned age is zero for a fresh
// render.
func (c *Cache) Get(ctx context.Context, key string) (string, time.Duration, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	render := c.renderers[key]
	c.mu.RUnlock()

	if ok {
		if age := time.Since(e.renderedAt); age <= c.ttl {
			return e.body, age, nil
		}
	}
	if render == nil {
		return "", 0, fmt.Errorf("no renderer for cache key %q", key)
	}

	body, err := c.render(ctx, key, render)
	if err != nil {
		// A stale page beats an error page.
		if ok {
			return e.body, time.Since(e.renderedAt), nil
		}
		return "", 0, err
	}
	return body, 0, nil
}

func (c *Cache) render(ctx context.Context, key string, render RenderFunc) (string, error) {
	start := time.Now()
	body, err := render(ctx)
	if err != nil {
		return "", fmt.Errorf("render %q: %w", key, err)
	}
	c.metrics.ObserveRenderDuration(key, time.Since(start).Seconds())

	c.mu.Lock()
	c.entries[key] = entry{body: body, renderedAt: time.Now()}
	c.mu.Unlock()
	c.metrics.SetRenderCacheAge(key, 0)
	return body, nil
}

// RefreshAll re-renders every registered key. Failed renders keep the
// previous entry.
func (c *Cache) RefreshAll(ctx context.Context) {
	c.mu.RLock()
	keys := make([]string, 0, len(c.renderers))
	for key := range c.renderers {
		keys = append(keys, key)
	}
	c.mu.RUnlock()
	sort.Strings(keys)

	for _, key := range keys {
		c.mu.RLock()
		render := c.renderers[key]
		c.mu.RUnlock()
		if _, err := c.render(ctx, key, render); err != nil {
			c.WithError(err).WithField("key", key).Error("background refresh failed")
		}
	}
}

// Start runs the background refresh loop until stop closes. The first
// refresh happens immediately so the cache is warm before the web
// service takes traffic.
func (c *Cache) Start(stop <-chan struct{}) error {
	c.WithField("ttl", c.ttl).Info("started render cache refresher")

	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		c.RefreshAll(context.Background())
		c.reportAges()
		select {
		case <-stop:
			c.Info("stopped render cache refresher")
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Cache) reportAges() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, e := range c.entries {
		c.metrics.SetRenderCacheAge(key, time.Since(e.renderedAt).Seconds())
	}
}
