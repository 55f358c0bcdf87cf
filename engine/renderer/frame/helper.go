package frame

import (
	"sync"
	"time"

	"github.com/spaghettifunk/corevk/engine/core"
)

// helperQueueCapacity mirrors the source's PushQueue<FrameMgr*, 7>: a
// 2^7-1 ring, holding up to 127 entries in flight.
const helperQueueCapacity = 127

var (
	helperQueue   = core.NewWorkQueue[*Orchestrator](helperQueueCapacity)
	helperMu      sync.Mutex
	helperRunning bool
	helperDone    chan struct{}
)

// StartHelper launches the single process-wide worker that finalizes
// orchestrators handed to it via Submit. Calling it while already
// running is a no-op.
func StartHelper() {
	helperMu.Lock()
	defer helperMu.Unlock()
	if helperRunning {
		return
	}
	helperRunning = true
	helperQueue.Reopen()
	helperDone = make(chan struct{})
	go helperMainloop(helperDone)
	core.LogInfo("frame orchestrator helper started")
}

// StopHelper closes the work queue and waits for the helper goroutine
// to drain and exit. Orchestrators with outstanding Submit calls when
// StopHelper is invoked are never finalized.
func StopHelper() {
	helperMu.Lock()
	if !helperRunning {
		helperMu.Unlock()
		return
	}
	helperRunning = false
	done := helperDone
	helperMu.Unlock()

	helperQueue.Close()
	<-done
	core.LogInfo("frame orchestrator helper stopped")
}

func helperMainloop(done chan struct{}) {
	defer close(done)
	for {
		o, ok := helperQueue.Pop()
		if !ok {
			return
		}
		o.submitInline()
	}
}

// spin is the backoff used by Submit when the helper queue is full,
// matching the source's 400us sleep-and-retry.
var spin = 400 * time.Microsecond
