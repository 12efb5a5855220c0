package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservoir_PercentilesOnUniformSamples(t *testing.T) {
	r := newReservoir()
	for i := 1; i <= 100; i++ {
		r.add(float64(i))
	}
	assert.InDelta(t, 50, r.percentile(50), 5)
	assert.InDelta(t, 95, r.percentile(95), 5)
	assert.Equal(t, 100.0, r.percentile(100))
	assert.Equal(t, 1.0, r.percentile(0))
}

func TestReservoir_EmptyReturnsZero(t *testing.T) {
	r := newReservoir()
	assert.Equal(t, 0.0, r.percentile(50))
	assert.Equal(t, 0, r.count())
}

func TestReservoir_OverwritesOldestOnOverflow(t *testing.T) {
	r := newReservoir()
	for i := 0; i < defaultReservoirCapacity; i++ {
		r.add(1.0)
	}
	assert.Equal(t, defaultReservoirCapacity, r.count())
	r.add(999.0)
	assert.Equal(t, defaultReservoirCapacity, r.count(), "capacity stays bounded after wraparound")
}
