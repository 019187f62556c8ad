package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResourceSampler_HeapMBReflectsAllocations(t *testing.T) {
	rs := NewResourceSampler()
	rs.Sample()
	assert.GreaterOrEqual(t, rs.HeapMB(), 0.0)
}

func TestResourceSampler_CPUPercentSmoothsTowardNewReading(t *testing.T) {
	rs := &ResourceSampler{cpuPercent: 50}
	rs.mu.Lock()
	current := 10.0
	const smoothing = 0.3
	rs.cpuPercent = smoothing*current + (1-smoothing)*rs.cpuPercent
	rs.mu.Unlock()

	assert.InDelta(t, 38.0, rs.CPUPercent(), 0.01)
}

func TestMessageRateTracker_ComputesRateBetweenUpdates(t *testing.T) {
	tracker := &MessageRateTracker{lastTime: time.Now().Add(-time.Second)}
	tracker.Update(100)
	assert.InDelta(t, 100.0, tracker.GetRate(), 5.0)
}
