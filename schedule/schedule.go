// Package schedule provides the "run soon" primitive used to defer flushes
// to the next render opportunity.
package schedule

import (
	"context"
	"sync"
	"time"
)

type Scheduler interface {
	Soon(fn func())
}

type SchedulerFunc func(fn func())

func (f SchedulerFunc) Soon(fn func()) { f(fn) }

// Immediate runs callbacks synchronously.
var Immediate Scheduler = SchedulerFunc(func(fn func()) { fn() })

// Microtasks defers callbacks until the owner drains the queue at the end of
// its current unit of work. Callbacks queued while draining run in the same
// drain, after the ones already queued.
type Microtasks struct {
	mu       sync.Mutex
	tasks    []func()
	draining bool
}

func NewMicrotasks() *Microtasks {
	return &Microtasks{}
}

func (m *Microtasks) Soon(fn func()) {
	m.mu.Lock()
	m.tasks = append(m.tasks, fn)
	m.mu.Unlock()
}

func (m *Microtasks) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Drain runs callbacks until the queue is empty and returns how many ran.
// A nested Drain returns 0 and leaves the work to the outer one.
func (m *Microtasks) Drain() int {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return 0
	}
	m.draining = true
	m.mu.Unlock()

	ran := 0
	for {
		m.mu.Lock()
		if len(m.tasks) == 0 {
			m.draining = false
			m.mu.Unlock()
			return ran
		}
		fn := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.mu.Unlock()

		fn()
		ran++
	}
}

// FrameQueue collects callbacks until the host runs a frame. Callbacks queued
// while a frame runs wait for the next one.
type FrameQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func NewFrameQueue() *FrameQueue {
	return &FrameQueue{}
}

func (q *FrameQueue) Soon(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
}

func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Frame runs the callbacks queued so far and returns how many ran.
func (q *FrameQueue) Frame() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
	return len(tasks)
}

// Drain runs frames until the queue is empty or maxFrames frames ran, and
// returns the number of frames that did work.
func (q *FrameQueue) Drain(maxFrames int) int {
	frames := 0
	for frames < maxFrames && q.Frame() > 0 {
		frames++
	}
	return frames
}

// Loop runs a frame every interval until ctx is done. host is held while a
// frame runs so that callbacks share the host's single thread of control.
// The returned channel is closed once the loop has exited.
func Loop(ctx context.Context, q *FrameQueue, interval time.Duration, host sync.Locker) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if q.Len() == 0 {
					continue
				}
				host.Lock()
				q.Frame()
				host.Unlock()
			}
		}
	}()
	return done
}
