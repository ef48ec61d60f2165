package connection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffBase(t *testing.T) {
	def := DefaultBackoffConfig()
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for i, w := range want {
		assert.Equal(t, w*time.Second, def.Base(i), "attempt %d", i)
	}
	assert.Equal(t, MaxBackoff, def.Base(1000), "large attempts stay capped")

	custom := BackoffConfig{Initial: 100 * time.Millisecond, Max: 500 * time.Millisecond, Multiplier: 3}
	assert.Equal(t, 300*time.Millisecond, custom.Base(1))
	assert.Equal(t, 500*time.Millisecond, custom.Base(2))

	capped := BackoffConfig{Initial: 5 * time.Second, Max: time.Second}
	assert.Equal(t, 5*time.Second, capped.Base(3), "cap is raised to the initial delay")
}

func TestBackoffWithoutJitter(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial: 100 * time.Millisecond,
		Max:     500 * time.Millisecond,
		Jitter:  -1,
	})
	for _, w := range []time.Duration{100, 200, 400, 500, 500} {
		assert.Equal(t, w*time.Millisecond, b.Next())
	}
	assert.Equal(t, 5, b.Attempts())

	b.Reset()
	assert.Zero(t, b.Attempts())
	assert.Equal(t, 100*time.Millisecond, b.Current())
}

func TestBackoffJitter(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Seed: 7})

	seen := make(map[time.Duration]bool)
	for range 20 {
		base := b.Current()
		d := b.Next()
		require.GreaterOrEqual(t, d, base)
		require.LessOrEqual(t, d, base+base/4)
		seen[d] = true
		b.Reset()
	}
	assert.Greater(t, len(seen), 1, "jitter produced identical delays")

	x := NewBackoffWithConfig(BackoffConfig{Seed: 42})
	y := NewBackoffWithConfig(BackoffConfig{Seed: 42})
	for range 5 {
		assert.Equal(t, x.Next(), y.Next(), "same seed, same delays")
	}
}

func TestBackoffConcurrent(t *testing.T) {
	b := NewBackoff()
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 10 {
				b.Next()
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 80, b.Attempts())
}
