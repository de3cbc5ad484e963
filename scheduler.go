package chatapp

import (
	"context"
	"sync"
	"time"
)

// Task is a periodic job bound to a context. Runs never overlap: a tick that
// fires while the previous run is still in flight is dropped.
type Task struct {
	name     string
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// every runs fn every interval until the task is stopped or ctx is done.
// With immediate set the first run happens right away instead of after one
// interval.
func every(ctx context.Context, name string, interval time.Duration, immediate bool, fn func(context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{name: name, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		if immediate {
			fn(ctx)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	}()
	return t
}

// Stop cancels the task and waits for its goroutine to exit. It is safe to
// call more than once and on a nil task. Stop must not be called from fn.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(t.cancel)
	<-t.done
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Name() string { return t.name }
