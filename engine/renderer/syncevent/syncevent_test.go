package syncevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBarrierOnlyPrimitiveHasNoMultiDstDependencyUntilCombined(t *testing.T) {
	p := NewBarrierPrimitive(0)
	assert.False(t, p.HasMultiDstDependency())

	other := NewBarrierPrimitive(0)
	p.CombineDstDependencies(other)
	assert.True(t, p.HasMultiDstDependency())
}

func TestGlobalBarrierAccumulatesBothSync2AndCompatShadow(t *testing.T) {
	p := NewBarrierPrimitive(0)
	p.GlobalBarrier(1, 2, 4, 8)
	assert.Len(t, p.global, 1)
	assert.Len(t, p.compatGlobal, 1)
	assert.NotZero(t, p.compatSrc)
	assert.NotZero(t, p.compatDst)
}
