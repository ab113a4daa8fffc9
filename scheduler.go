package tcsim

// scheduler.go holds the view of the simulation kernel used by the
// traffic-control objects: a clock that reports simulation time in seconds and
// runs a function after a delay.   Two implementations are given.  EvtmClock
// hands the work to an evtm.EventManager, ManualClock keeps its own
// time-ordered heap of pending functions and is advanced explicitly by its owner

import (
	"container/heap"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// SimClock is the narrow interface to virtual time and timers
type SimClock interface {
	// Now returns the current simulation time, in seconds
	Now() float64

	// Schedule arranges for fn to be called delay seconds from now
	Schedule(delay float64, fn func())
}

// EvtmClock adapts an evtm.EventManager to the SimClock interface
type EvtmClock struct {
	evtMgr *evtm.EventManager
}

// CreateEvtmClock is a constructor
func CreateEvtmClock(evtMgr *evtm.EventManager) *EvtmClock {
	ec := new(EvtmClock)
	ec.evtMgr = evtMgr
	return ec
}

// Now returns the event manager's current time in seconds
func (ec *EvtmClock) Now() float64 {
	return ec.evtMgr.CurrentSeconds()
}

// Schedule puts an event on the event manager's list, whose handler calls fn
func (ec *EvtmClock) Schedule(delay float64, fn func()) {
	ec.evtMgr.Schedule(ec, fn, runScheduledFunc, vrtime.SecondsToTime(delay))
}

// runScheduledFunc is the event handler for functions scheduled through an EvtmClock.
// event-handlers are required to return _something_
func runScheduledFunc(evtMgr *evtm.EventManager, context any, data any) any {
	fn := data.(func())
	fn()
	return nil
}

// pendingFunc is a function waiting in a ManualClock for its time to come
type pendingFunc struct {
	when float64 // simulation time the function is to run
	seq  int     // order of scheduling, breaks ties between equal times
	fn   func()
}

// pendingHeap and its methods implement a min-priority heap
// on the (time, sequence) pair of pending functions
type pendingHeap []*pendingFunc

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].when == h[j].when {
		return h[i].seq < h[j].seq
	}
	return h[i].when < h[j].when
}
func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) {
	*h = append(*h, x.(*pendingFunc))
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// ManualClock is a SimClock whose time moves only when its owner advances it
type ManualClock struct {
	now     float64
	seq     int
	pending pendingHeap
}

// CreateManualClock is a constructor
func CreateManualClock() *ManualClock {
	mc := new(ManualClock)
	mc.pending = []*pendingFunc{}
	heap.Init(&mc.pending)
	return mc
}

// Now returns the time the clock has been advanced to
func (mc *ManualClock) Now() float64 {
	return mc.now
}

// Schedule remembers fn, to be run when the clock passes now+delay
func (mc *ManualClock) Schedule(delay float64, fn func()) {
	if delay < 0.0 {
		delay = 0.0
	}
	mc.seq += 1
	heap.Push(&mc.pending, &pendingFunc{when: mc.now + delay, seq: mc.seq, fn: fn})
}

// AdvanceTo runs, in time order, every pending function due at or before t,
// and leaves the clock at t.  Functions may schedule more functions
func (mc *ManualClock) AdvanceTo(t float64) {
	for len(mc.pending) > 0 && mc.pending[0].when <= t {
		nxt := heap.Pop(&mc.pending).(*pendingFunc)
		mc.now = nxt.when
		nxt.fn()
	}
	if t > mc.now {
		mc.now = t
	}
}

// Advance moves the clock forward by delta seconds
func (mc *ManualClock) Advance(delta float64) {
	mc.AdvanceTo(mc.now + delta)
}

// Pending reports the number of functions waiting to run
func (mc *ManualClock) Pending() int {
	return len(mc.pending)
}

// defaultClock serves objects that were never given a clock; it stays at time zero
// unless someone advances it
var defaultClock SimClock = CreateManualClock()
