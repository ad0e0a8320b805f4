package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecommendedStorageBufferCapacityWithNoLimit(t *testing.T) {
	assert.Equal(t, DefaultStorageBufferCapacity, RecommendedStorageBufferCapacity(0))
}

func TestRecommendedStorageBufferCapacityScalesWithMemory(t *testing.T) {
	small := RecommendedStorageBufferCapacity(512 * 1024 * 1024)
	large := RecommendedStorageBufferCapacity(8 * 1024 * 1024 * 1024)
	assert.Less(t, small, large)
}

func TestRecommendedStorageBufferCapacityClampsToMinimum(t *testing.T) {
	assert.Equal(t, minBufferCapacity, RecommendedStorageBufferCapacity(1))
}

func TestRecommendedStorageBufferCapacityClampsToMaximum(t *testing.T) {
	huge := int64(1) << 40 // 1 TiB
	assert.Equal(t, maxBufferCapacity, RecommendedStorageBufferCapacity(huge))
}
