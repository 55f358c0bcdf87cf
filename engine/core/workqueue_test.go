package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueueRoundsCapacityToPowerOfTwoMinusOne(t *testing.T) {
	q := NewWorkQueue[int](7)
	for i := 0; i < 7; i++ {
		require.True(t, q.Push(i))
	}
	assert.False(t, q.Push(99))
}

func TestWorkQueuePopBlocksUntilPush(t *testing.T) {
	q := NewWorkQueue[int](3)
	done := make(chan int, 1)
	go func() {
		v, ok := q.Pop()
		require.True(t, ok)
		done <- v
	}()
	time.Sleep(10 * time.Millisecond)
	require.True(t, q.Push(42))
	select {
	case v := <-done:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("pop did not unblock after push")
	}
}

func TestWorkQueueCloseUnblocksPop(t *testing.T) {
	q := NewWorkQueue[int](3)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, ok := q.Pop()
		assert.False(t, ok)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	wg.Wait()
}

func TestWorkQueueNoDropUnderConcurrentPush(t *testing.T) {
	q := NewWorkQueue[int](127)
	const producers = 4
	const perProducer = 20
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.Push(i) {
					time.Sleep(time.Microsecond)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, producers*perProducer, q.Len())
}
