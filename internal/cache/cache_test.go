package cache_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismflow/nutanix-exporter/internal/cache"
	"github.com/prismflow/nutanix-exporter/internal/metrics"
)

func testSamples(value float64) []metrics.Sample {
	return []metrics.Sample{
		metrics.NewGauge("nutanix_vm_cpu_usage_percent", "", value).WithLabel("vm_name", "web-01"),
	}
}

func TestCachePut(t *testing.T) {
	t.Run("should serve the stored snapshot", func(t *testing.T) {
		c := cache.New()
		takenAt := time.Now()

		c.Put("pe-1", testSamples(10), takenAt)

		entry, ok := c.Get("pe-1")
		require.True(t, ok)
		assert.Equal(t, takenAt, entry.TakenAt)
		assert.Equal(t, uint64(1), entry.Generation)
		assert.False(t, entry.Stale)
		assert.True(t, entry.LastPollOK)
		require.Len(t, entry.Samples, 1)
		assert.Equal(t, 10.0, entry.Samples[0].Value)
	})

	t.Run("should bump the generation on every successful poll", func(t *testing.T) {
		c := cache.New()
		c.Put("pe-1", testSamples(10), time.Now())
		c.Put("pe-1", testSamples(20), time.Now())

		entry, ok := c.Get("pe-1")
		require.True(t, ok)
		assert.Equal(t, uint64(2), entry.Generation)
		assert.Equal(t, 20.0, entry.Samples[0].Value)
	})

	t.Run("should report unknown targets", func(t *testing.T) {
		c := cache.New()
		_, ok := c.Get("pe-unknown")
		assert.False(t, ok)
	})

	t.Run("should isolate readers from later writes", func(t *testing.T) {
		c := cache.New()
		c.Put("pe-1", testSamples(10), time.Now())

		entry, ok := c.Get("pe-1")
		require.True(t, ok)
		entry.Samples[0].Value = 99

		fresh, ok := c.Get("pe-1")
		require.True(t, ok)
		assert.Equal(t, 10.0, fresh.Samples[0].Value)
	})
}

func TestCacheFail(t *testing.T) {
	t.Run("should keep serving the previous snapshot marked stale", func(t *testing.T) {
		c := cache.New()
		takenAt := time.Now().Add(-time.Minute)
		failedAt := time.Now()

		c.Put("pe-1", testSamples(10), takenAt)
		c.Fail("pe-1", errors.New("connection refused"), failedAt)

		entry, ok := c.Get("pe-1")
		require.True(t, ok)
		assert.True(t, entry.Stale)
		assert.False(t, entry.LastPollOK)
		assert.Equal(t, uint64(1), entry.Generation)
		assert.Equal(t, takenAt, entry.TakenAt)
		assert.Equal(t, failedAt, entry.LastAttempt)
		assert.Equal(t, "connection refused", entry.LastError)
		require.Len(t, entry.Samples, 1)
		assert.Equal(t, 10.0, entry.Samples[0].Value)
	})

	t.Run("should create an empty entry when no poll ever succeeded", func(t *testing.T) {
		c := cache.New()
		c.Fail("pe-1", errors.New("401"), time.Now())

		entry, ok := c.Get("pe-1")
		require.True(t, ok)
		assert.True(t, entry.Stale)
		assert.Nil(t, entry.Samples)
		assert.Zero(t, entry.Generation)
		assert.Equal(t, "401", entry.LastError)
	})

	t.Run("should clear staleness on recovery but retain the last error", func(t *testing.T) {
		c := cache.New()
		c.Put("pe-1", testSamples(10), time.Now())
		c.Fail("pe-1", errors.New("timeout"), time.Now())
		c.Put("pe-1", testSamples(20), time.Now())

		entry, ok := c.Get("pe-1")
		require.True(t, ok)
		assert.False(t, entry.Stale)
		assert.True(t, entry.LastPollOK)
		assert.Equal(t, uint64(2), entry.Generation)
		assert.Equal(t, "timeout", entry.LastError)
	})
}

func TestEntryFresh(t *testing.T) {
	interval := 30 * time.Second

	t.Run("should be fresh right after a successful poll", func(t *testing.T) {
		c := cache.New()
		now := time.Now()
		c.Put("pe-1", testSamples(10), now)

		entry, ok := c.Get("pe-1")
		require.True(t, ok)
		assert.True(t, entry.Fresh(now, interval))
	})

	t.Run("should tolerate one missed poll", func(t *testing.T) {
		c := cache.New()
		takenAt := time.Now()
		c.Put("pe-1", testSamples(10), takenAt)

		entry, _ := c.Get("pe-1")
		assert.True(t, entry.Fresh(takenAt.Add(2*interval), interval))
		assert.False(t, entry.Fresh(takenAt.Add(2*interval+time.Second), interval))
	})

	t.Run("should go unfresh on failure regardless of age", func(t *testing.T) {
		c := cache.New()
		now := time.Now()
		c.Put("pe-1", testSamples(10), now)
		c.Fail("pe-1", errors.New("timeout"), now)

		entry, _ := c.Get("pe-1")
		assert.False(t, entry.Fresh(now, interval))
	})

	t.Run("should never be fresh without a successful poll", func(t *testing.T) {
		var entry cache.Entry
		assert.False(t, entry.Fresh(time.Now(), interval))
	})
}

func TestCacheSnapshot(t *testing.T) {
	t.Run("should list targets in sorted order", func(t *testing.T) {
		c := cache.New()
		c.Put("pe-b", testSamples(1), time.Now())
		c.Put("pe-a", testSamples(2), time.Now())
		c.Fail("pe-c", errors.New("down"), time.Now())

		assert.Equal(t, []string{"pe-a", "pe-b", "pe-c"}, c.Targets())
		assert.Equal(t, 3, c.Len())
	})

	t.Run("should copy every entry", func(t *testing.T) {
		c := cache.New()
		c.Put("pe-a", testSamples(1), time.Now())
		c.Put("pe-b", testSamples(2), time.Now())

		snap := c.Snapshot()
		require.Len(t, snap, 2)
		snap["pe-a"].Samples[0].Value = 99

		entry, ok := c.Get("pe-a")
		require.True(t, ok)
		assert.Equal(t, 1.0, entry.Samples[0].Value)
	})

	t.Run("should summarize stats", func(t *testing.T) {
		c := cache.New()
		c.Put("pe-a", testSamples(1), time.Now())
		c.Put("pe-b", testSamples(2), time.Now())
		c.Fail("pe-b", errors.New("down"), time.Now())
		c.Fail("pe-c", errors.New("down"), time.Now())

		stats := c.Stats()
		assert.Equal(t, 3, stats.Targets)
		assert.Equal(t, 2, stats.Stale)
		assert.Equal(t, 2, stats.Samples)
	})
}

func TestCacheConcurrency(t *testing.T) {
	t.Run("should tolerate concurrent pollers and scrapes", func(t *testing.T) {
		c := cache.New()
		var wg sync.WaitGroup

		for i := 0; i < 4; i++ {
			target := fmt.Sprintf("pe-%d", i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					if j%5 == 0 {
						c.Fail(target, errors.New("blip"), time.Now())
					} else {
						c.Put(target, testSamples(float64(j)), time.Now())
					}
				}
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Snapshot()
				c.Stats()
			}
		}()

		wg.Wait()
		assert.Equal(t, 4, c.Len())
	})
}
