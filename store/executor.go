package store

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"
)

// command is a unit of work run on an area's single executor goroutine.
// Every StoreDb mutation - local writes, peer events, sync responses, timer
// fires - is modeled as a command so that all observable effects of one
// operation precede the next one enqueued after it.
type command func()

// executor is a single goroutine reading commands off a bounded channel and
// running them strictly in arrival order. Goroutines started through spawn
// run under a conc.WaitGroup so a panic in one of them surfaces instead of
// silently vanishing; timers armed with afterFunc are plain time.AfterFunc
// callbacks that re-enter the executor through submit.
type executor struct {
	cmds     chan command
	shutdown chan struct{}
	done     chan struct{}
	wg       conc.WaitGroup
}

func newExecutor(queueDepth int) *executor {
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	e := &executor{
		cmds:     make(chan command, queueDepth),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	defer close(e.done)
	for {
		select {
		case <-e.shutdown:
			e.drain()
			return
		case cmd := <-e.cmds:
			cmd()
		}
	}
}

// drain runs any commands still queued at shutdown time so their callers'
// futures resolve with the command's own result rather than leaking a
// blocked caller goroutine. Only submissions made after shutdown are
// refused.
func (e *executor) drain() {
	for {
		select {
		case cmd := <-e.cmds:
			cmd()
		default:
			return
		}
	}
}

// submit enqueues cmd and blocks until it is queued (not until it has run)
// or the executor is shutting down. Returns false if the executor refused
// the command (already shut down or the queue is saturated and the deadline
// elapsed).
func (e *executor) submit(ctx context.Context, cmd command) bool {
	select {
	case <-e.shutdown:
		return false
	default:
	}
	select {
	case e.cmds <- cmd:
		return true
	case <-e.shutdown:
		return false
	case <-ctx.Done():
		return false
	}
}

// spawn runs fn on a panic-safe goroutine tracked by the executor's wait
// group, for work that suspends (sync RPCs, flush timers) rather than
// running inline on the executor loop.
func (e *executor) spawn(fn func()) {
	e.wg.Go(fn)
}

// Close cancels all timers implicitly (goroutines select on e.shutdown),
// drains the queue, and waits for spawned helper goroutines to finish.
func (e *executor) Close() {
	close(e.shutdown)
	<-e.done
	e.wg.Wait()
}

// afterFunc arms a time.Timer whose fire re-enters the executor via submit,
// so timer callbacks observe the same single-threaded discipline as every
// other command. Returns a stop function.
func (e *executor) afterFunc(d time.Duration, cmd command) func() bool {
	t := time.AfterFunc(d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.submit(ctx, cmd)
	})
	return t.Stop
}
