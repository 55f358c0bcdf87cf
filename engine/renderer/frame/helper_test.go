package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelperQueueCapacityIsPowerOfTwoMinusOne(t *testing.T) {
	// helperQueueCapacity (127) must already satisfy 2^k - 1; NewWorkQueue
	// would otherwise round it up and this assertion would catch the drift.
	assert.Equal(t, 127, helperQueueCapacity)
	n := helperQueueCapacity + 1
	for n > 1 {
		require.Equal(t, 0, n%2)
		n /= 2
	}
}

func TestStartStopHelperIsIdempotent(t *testing.T) {
	StartHelper()
	StartHelper()
	StopHelper()
	StopHelper()
}

func TestHelperQueueIsReopenedOnRestart(t *testing.T) {
	// StopHelper closes helperQueue; a naive restart would leave it
	// closed forever, so Pop would return false immediately and a later
	// Submit would spin on a full queue forever. StartHelper must
	// Reopen it before spawning the new helper goroutine.
	StartHelper()
	StopHelper()
	require.True(t, helperQueue.closed)

	StartHelper()
	defer StopHelper()
	assert.False(t, helperQueue.closed)
}

func TestHelperQueueHandsOffOrchestratorsInFIFOOrder(t *testing.T) {
	// Exercises the queue wiring Submit/StartHelper rely on without
	// running a real helper goroutine, which would call vkCmdEndRenderPass
	// and friends against the fake command buffers below.
	first := &Orchestrator{submitted: false}
	second := &Orchestrator{submitted: false}

	require.True(t, helperQueue.Push(first))
	require.True(t, helperQueue.Push(second))

	got, ok := helperQueue.TryPop()
	require.True(t, ok)
	assert.Same(t, first, got)

	got, ok = helperQueue.TryPop()
	require.True(t, ok)
	assert.Same(t, second, got)
}
