// Package sysinfo detects container resource limits so startup can scale a
// few memory-sensitive defaults (principally the storage sink's
// per-partition buffer capacity) to what the container actually has,
// rather than a single hardcoded constant across every deployment size.
//
// Grounded on the teacher's cgroup.go memory-limit detection (cgroup v2
// memory.max, falling back to v1 memory.limit_in_bytes), generalized from
// sizing a WebSocket connection cap into sizing the storage sink's
// buffer capacity.
package sysinfo

import (
	"os"
	"strconv"
	"strings"
)

// MemoryLimitBytes returns the container memory limit in bytes, trying
// cgroup v2 first and falling back to v1. It returns 0, nil when no limit
// is detected (e.g. running outside a container), which callers should
// treat as "use a conservative default."
func MemoryLimitBytes() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		return strconv.ParseInt(limitStr, 10, 64)
	}

	return 0, nil
}

// DefaultStorageBufferCapacity is used when no memory limit is detected.
const DefaultStorageBufferCapacity = 10000

const (
	runtimeOverheadBytes  = 128 * 1024 * 1024
	bytesPerBufferedEvent = 2048 // rough JSON-encoded MarketEvent size
	minBufferCapacity     = 1000
	maxBufferCapacity     = 1000000
)

// RecommendedStorageBufferCapacity scales the storage sink's per-partition
// buffer capacity to the available container memory, reserving
// runtimeOverheadBytes for the Go runtime and everything else the process
// needs. memLimitBytes == 0 (no limit detected) returns
// DefaultStorageBufferCapacity.
func RecommendedStorageBufferCapacity(memLimitBytes int64) int {
	if memLimitBytes <= 0 {
		return DefaultStorageBufferCapacity
	}

	available := memLimitBytes - runtimeOverheadBytes
	if available <= 0 {
		available = memLimitBytes / 2
	}

	capacity := int(available / bytesPerBufferedEvent)
	if capacity < minBufferCapacity {
		capacity = minBufferCapacity
	}
	if capacity > maxBufferCapacity {
		capacity = maxBufferCapacity
	}
	return capacity
}
