package texture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMipLevelsForPowerOfTwoSquare(t *testing.T) {
	assert.Equal(t, uint32(9), mipLevelsFor(256, 256))
}

func TestMipLevelsForNonSquareUsesLargerDimension(t *testing.T) {
	assert.Equal(t, uint32(9), mipLevelsFor(256, 3))
	assert.Equal(t, uint32(9), mipLevelsFor(3, 256))
}

func TestMipLevelsForSinglePixelIsOneLevel(t *testing.T) {
	assert.Equal(t, uint32(1), mipLevelsFor(1, 1))
}

func TestMipExtentsHalvesEachStepAndFloorsAtOne(t *testing.T) {
	steps := mipExtents(256, 256, 9)
	require.Len(t, steps, 9)
	assert.Equal(t, mipStep{Width: 256, Height: 256}, steps[0])
	assert.Equal(t, mipStep{Width: 128, Height: 128}, steps[1])
	assert.Equal(t, mipStep{Width: 1, Height: 1}, steps[8])
}

func TestMipExtentsNeverGoesBelowOnePerAxis(t *testing.T) {
	steps := mipExtents(256, 3, 9)
	require.Len(t, steps, 9)
	assert.Equal(t, mipStep{Width: 256, Height: 3}, steps[0])
	assert.Equal(t, mipStep{Width: 1, Height: 1}, steps[8])
	for _, s := range steps {
		assert.GreaterOrEqual(t, s.Width, int32(1))
		assert.GreaterOrEqual(t, s.Height, int32(1))
	}
}

func TestDetachIsNoopWithoutStaging(t *testing.T) {
	tex := &Texture{}
	tex.Detach()
	assert.False(t, tex.hasStaging)
}
