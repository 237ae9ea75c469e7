package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot(t *testing.T) {
	s, err := Snapshot()
	if err != nil {
		t.Skipf("host stats unavailable: %v", err)
	}
	assert.Positive(t, s.Goroutines)
	assert.GreaterOrEqual(t, s.MemoryPercent, 0.0)
	assert.LessOrEqual(t, s.MemoryPercent, 100.0)
	assert.Positive(t, s.ProcessRSSMB)
}
