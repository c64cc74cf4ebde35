// Package hk provides a single, shared timer wheel registering cleanup and
// deadline functions invoked at specified intervals — the one facility
// backing channel-token renewal, session timeout, subscription keep-alive,
// and per-request deadlines (spec.md §5, §9: "share the same timer wheel").
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/duskforge/opcuacore/cmn/nlog"
)

// HookFunc is invoked when its registration fires. It returns the delay
// until the next firing; returning <= 0 unregisters the job.
type HookFunc func() time.Duration

type job struct {
	name     string
	fn       HookFunc
	due      time.Time
	index    int // heap index, maintained by container/heap callbacks
}

// jobHeap is a min-heap over `due`, exactly the idiom the teacher's
// transport.collector uses over idle ticks (container/heap + index field).
type jobHeap []*job

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *jobHeap) Push(x any)         { j := x.(*job); j.index = len(*h); *h = append(*h, j) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// Housekeeper runs one cooperative goroutine that fires due jobs against a
// real-time ticker, following spec.md §5's "suspension points" model: it
// only blocks reading its own tick/registration channels, every other step
// runs to completion.
type Housekeeper struct {
	heap    jobHeap
	byName  map[string]*job
	regCh   chan *job
	unregCh chan string
	stopCh  chan struct{}
	started chan struct{}
	tick    time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
}

// DefaultHK is the process-wide housekeeper instance, following the
// teacher's hk.DefaultHK (hk/housekeeper_suite_test.go).
var DefaultHK = New(100 * time.Millisecond)

func New(tick time.Duration) *Housekeeper {
	return &Housekeeper{
		byName:  make(map[string]*job),
		regCh:   make(chan *job, 64),
		unregCh: make(chan string, 64),
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
		tick:    tick,
	}
}

// TestInit resets DefaultHK for a fresh test run, mirroring hk.TestInit().
func TestInit() {
	DefaultHK = New(10 * time.Millisecond)
}

// WaitStarted blocks until Run's main loop has begun servicing
// registrations, mirroring hk.WaitStarted().
func WaitStarted() { <-DefaultHK.started }

// Reg registers fn to first fire after `in`, rearming per its own return
// value thereafter (spec.md §4.E "per-session deadline wheel", §4.B "token
// renewal", §4.I "keep-alive").
func (hk *Housekeeper) Reg(name string, in time.Duration, fn HookFunc) {
	hk.regCh <- &job{name: name, fn: fn, due: time.Now().Add(in)}
}

// Unreg cancels a registered job by name; a no-op if it already fired and
// unregistered itself.
func (hk *Housekeeper) Unreg(name string) {
	select {
	case hk.unregCh <- name:
	case <-hk.stopCh:
	}
}

// Run is the housekeeper's main loop; call it from its own goroutine.
func (hk *Housekeeper) Run() {
	heap.Init(&hk.heap)
	ticker := time.NewTicker(hk.tick)
	defer ticker.Stop()
	hk.startOnce.Do(func() { close(hk.started) })

	for {
		select {
		case <-hk.stopCh:
			return
		case j := <-hk.regCh:
			if old, ok := hk.byName[j.name]; ok {
				heap.Remove(&hk.heap, old.index)
			}
			hk.byName[j.name] = j
			heap.Push(&hk.heap, j)
		case name := <-hk.unregCh:
			if j, ok := hk.byName[name]; ok {
				heap.Remove(&hk.heap, j.index)
				delete(hk.byName, name)
			}
		case now := <-ticker.C:
			hk.fireDue(now)
		}
	}
}

func (hk *Housekeeper) fireDue(now time.Time) {
	for hk.heap.Len() > 0 && !hk.heap[0].due.After(now) {
		j := heap.Pop(&hk.heap).(*job)
		delete(hk.byName, j.name)
		next := hk.safeCall(j)
		if next > 0 {
			j.due = now.Add(next)
			hk.byName[j.name] = j
			heap.Push(&hk.heap, j)
		}
	}
}

func (hk *Housekeeper) safeCall(j *job) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("hk: job %q panicked: %v", j.name, r)
			next = 0
		}
	}()
	return j.fn()
}

// Stop terminates the housekeeper's goroutine; idempotent.
func (hk *Housekeeper) Stop() {
	hk.stopOnce.Do(func() { close(hk.stopCh) })
}
