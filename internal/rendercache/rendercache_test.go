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

package rendercache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecthosh/hosh/internal/fixture"
	"github.com/projecthosh/hosh/internal/metrics"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	return New(ttl, metrics.NewMetrics(prometheus.NewRegistry()), fixture.NewTestLogger(t))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "zec-false", Key("zec", false))
	assert.Equal(t, "btc-true", Key("btc", true))
}

func TestGetRendersOnceWithinTTL(t *testing.T) {
	c := newTestCache(t, time.Minute)

	var renders atomic.Int32
	c.Register("zec-false", func(context.Context) (string, error) {
		renders.Add(1)
		return "<html>zec</html>", nil
	})

	body, age, err := c.Get(context.Background(), "zec-false")
	require.NoError(t, err)
	assert.Equal(t, "<html>zec</html>", body)
	assert.Equal(t, time.Duration(0), age)

	body, age, err = c.Get(context.Background(), "zec-false")
	require.NoError(t, err)
	assert.Equal(t, "<html>zec</html>", body)
	assert.GreaterOrEqual(t, age, time.Duration(0))
	assert.Equal(t, int32(1), renders.Load())
}

func TestGetReRendersAfterTTL(t *testing.T) {
	c := newTestCache(t, 10*time.Millisecond)

	var renders atomic.Int32
	c.Register("btc-false", func(context.Context) (string, error) {
		return fmt.Sprintf("render %d", renders.Add(1)), nil
	})

	body, _, err := c.Get(context.Background(), "btc-false")
	require.NoError(t, err)
	assert.Equal(t, "render 1", body)

	time.Sleep(20 * time.Millisecond)

	body, age, err := c.Get(context.Background(), "btc-false")
	require.NoError(t, err)
	assert.Equal(t, "render 2", body)
	assert.Equal(t, time.Duration(0), age)
}

func TestGetServesStaleOnRenderFailure(t *testing.T) {
	c := newTestCache(t, 10*time.Millisecond)

	var fail atomic.Bool
	c.Register("zec-true", func(context.Context) (string, error) {
		if fail.Load() {
			return "", fmt.Errorf("store down")
		}
		return "good page", nil
	})

	_, _, err := c.Get(context.Background(), "zec-true")
	require.NoError(t, err)

	fail.Store(true)
	time.Sleep(20 * time.Millisecond)

	body, age, err := c.Get(context.Background(), "zec-true")
	require.NoError(t, err)
	assert.Equal(t, "good page", body)
	assert.Greater(t, age, 10*time.Millisecond)
}

func TestGetUnknownKeyFails(t *testing.T) {
	c := newTestCache(t, time.Minute)
	_, _, err := c.Get(context.Background(), "nope")
	assert.Error(t, err)
}

func TestBackgroundRefreshKeepsEntriesFresh(t *testing.T) {
	c := newTestCache(t, 10*time.Millisecond)

	var renders atomic.Int32
	c.Register("zec-false", func(context.Context) (string, error) {
		renders.Add(1)
		return "page", nil
	})

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- c.Start(stop) }()

	require.Eventually(t, func() bool { return renders.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	close(stop)
	require.NoError(t, <-done)

	_, age, err := c.Get(context.Background(), "zec-false")
	require.NoError(t, err)
	assert.LessOrEqual(t, age, 10*time.Millisecond+5*time.Second)
}
