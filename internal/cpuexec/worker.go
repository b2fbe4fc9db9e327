package cpuexec

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dxrt-go/dxrt/internal/constants"
	"github.com/dxrt-go/dxrt/internal/request"
)

// CpuHandleWorker drives one CPU task's executor with a FIFO of requests
// and a pool of worker threads, either a fixed count (static mode) or a
// count adjusted at runtime by a Scaler (dynamic mode), per spec §4.7.
type CpuHandleWorker struct {
	name     string
	executor CPUExecutor

	queue chan *request.Request

	mu        sync.Mutex
	wg        sync.WaitGroup
	stopCh    chan struct{}
	count     int
	stopCount int32 // incremented to ask one sleeping worker to self-exit

	minThreads, maxThreads int
	nextThreadID           int64
	queueDepthGauge        int32 // atomic; Scaler reads QueueDepth(), not this
}

// NewCpuHandleWorker builds a worker bound to name (used to derive each
// thread's processor identifier, "name_tN") and executor, starting with
// initialThreads running goroutines.
func NewCpuHandleWorker(name string, executor CPUExecutor, initialThreads, minThreads, maxThreads int, queueDepth int) *CpuHandleWorker {
	if minThreads < constants.MinEachCPUTaskThreads {
		minThreads = constants.MinEachCPUTaskThreads
	}
	if maxThreads > constants.MaxEachCPUTaskThreads || maxThreads <= 0 {
		maxThreads = constants.MaxEachCPUTaskThreads
	}
	if initialThreads < minThreads {
		initialThreads = minThreads
	}
	if initialThreads > maxThreads {
		initialThreads = maxThreads
	}

	w := &CpuHandleWorker{
		name:       name,
		executor:   executor,
		queue:      make(chan *request.Request, queueDepth),
		stopCh:     make(chan struct{}),
		minThreads: minThreads,
		maxThreads: maxThreads,
	}
	for i := 0; i < initialThreads; i++ {
		w.spawnThread()
	}
	return w
}

// Submit enqueues a request for CPU execution.
func (w *CpuHandleWorker) Submit(req *request.Request) {
	atomic.AddInt32(&w.queueDepthGauge, 1)
	w.queue <- req
}

// QueueDepth reports the current FIFO depth, sampled by Scaler's sliding
// average.
func (w *CpuHandleWorker) QueueDepth() int {
	return len(w.queue)
}

// ThreadCount reports the number of currently running worker threads.
func (w *CpuHandleWorker) ThreadCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// spawnThread starts one worker goroutine, unless already at maxThreads.
// Returns whether a thread was actually spawned.
func (w *CpuHandleWorker) spawnThread() bool {
	w.mu.Lock()
	if w.count >= w.maxThreads {
		w.mu.Unlock()
		return false
	}
	w.count++
	id := w.nextThreadID
	w.nextThreadID++
	w.mu.Unlock()

	w.wg.Add(1)
	go w.runThread(id)
	return true
}

// retireOneThread asks exactly one sleeping thread to self-exit by
// incrementing the stop-counter (spec §4.7's "one sleeping thread
// interprets as a self-exit").
func (w *CpuHandleWorker) retireOneThread() bool {
	w.mu.Lock()
	if w.count <= w.minThreads {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()
	atomic.AddInt32(&w.stopCount, 1)
	return true
}

func (w *CpuHandleWorker) runThread(id int64) {
	defer w.wg.Done()
	procID := fmt.Sprintf("%s_t%d", w.name, id)

	for {
		select {
		case <-w.stopCh:
			w.decrementCount()
			return
		case req, ok := <-w.queue:
			if !ok {
				w.decrementCount()
				return
			}
			atomic.AddInt32(&w.queueDepthGauge, -1)

			if atomic.LoadInt32(&w.stopCount) > 0 {
				atomic.AddInt32(&w.stopCount, -1)
				// Finish this already-dequeued request before exiting so
				// no work is dropped, then self-exit.
				w.execute(procID, req)
				w.decrementCount()
				return
			}

			w.execute(procID, req)
		}
	}
}

func (w *CpuHandleWorker) execute(procID string, req *request.Request) {
	req.Begin()
	outputs := make(map[string][]byte, len(req.Task.Outputs))
	err := w.executor.Run(req.Inputs, outputs)
	if err == nil {
		req.Outputs = outputs
	}
	req.Complete(err)
	_ = procID // carried for future per-thread instrumentation hooks
}

func (w *CpuHandleWorker) decrementCount() {
	w.mu.Lock()
	w.count--
	w.mu.Unlock()
}

// Close stops every worker thread and waits for in-flight requests to
// finish.
func (w *CpuHandleWorker) Close() {
	close(w.stopCh)
	w.wg.Wait()
}
