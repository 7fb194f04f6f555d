package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryOnline(t *testing.T) {
	r := NewRegistry(90 * time.Second)
	base := time.Now()

	assert.False(t, r.IsOnline("GW-1", base))

	r.Touch("GW-1", base)
	assert.True(t, r.IsOnline("GW-1", base.Add(60*time.Second)))
	assert.False(t, r.IsOnline("GW-1", base.Add(120*time.Second)))
}

func TestRegistryOnlineCount(t *testing.T) {
	r := NewRegistry(90 * time.Second)
	base := time.Now()
	r.Touch("GW-1", base)
	r.Touch("GW-2", base.Add(-2*time.Minute))

	assert.Equal(t, 1, r.OnlineCount(base))
	r.Remove("GW-1")
	assert.Equal(t, 0, r.OnlineCount(base))
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry(90 * time.Second)
	base := time.Now()
	r.Touch("GW-1", base)
	r.Touch("GW-2", base.Add(-5*time.Minute))

	gone := r.Sweep(base)
	assert.Equal(t, []string{"GW-2"}, gone)
	assert.True(t, r.IsOnline("GW-1", base))
	assert.False(t, r.IsOnline("GW-2", base))
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	// 桶耗尽
	assert.False(t, l.Allow())
	assert.Equal(t, int64(2), l.AllowedCount())
	assert.Equal(t, int64(1), l.RejectedCount())

	stats := l.Stats()
	assert.Equal(t, float64(1), stats.RatePerSecond)
	assert.Equal(t, 2, stats.Burst)
}
