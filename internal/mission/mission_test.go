package mission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneratorUsesInjectedSource(t *testing.T) {
	picks := []int{2, 0, 5}
	generator := NewGenerator(func(n int) int {
		assert.Equal(t, len(Missions), n)
		next := picks[0]
		picks = picks[1:]
		return next
	})

	assert.Equal(t, Missions[2], generator.Next())
	assert.Equal(t, Missions[0], generator.Next())
	assert.Equal(t, Missions[5], generator.Next())
}

func TestDefaultGeneratorStaysInPool(t *testing.T) {
	generator := NewGenerator(nil)
	for i := 0; i < 50; i++ {
		assert.Contains(t, Missions, generator.Next())
	}
}
