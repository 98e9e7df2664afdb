package engine

import (
	"container/heap"
	"time"

	"keymapd/internal/action"
)

// timer is a paused sequence waiting for its Delay to elapse.
type timer struct {
	at      time.Time
	seq     uint64
	pending *action.Pending
}

// timerQueue orders paused sequences by deadline, then by scheduling order
// so sequences with equal deadlines resume in the order they paused.
type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *timerQueue) Push(x any) { *q = append(*q, x.(*timer)) }

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

type timers struct {
	q   timerQueue
	seq uint64
}

func (t *timers) schedule(at time.Time, p *action.Pending) {
	t.seq++
	heap.Push(&t.q, &timer{at: at, seq: t.seq, pending: p})
}

// next returns the earliest deadline.
func (t *timers) next() (time.Time, bool) {
	if len(t.q) == 0 {
		return time.Time{}, false
	}
	return t.q[0].at, true
}

// due pops the earliest timer if it is due at now.
func (t *timers) due(now time.Time) (*timer, bool) {
	if len(t.q) == 0 || t.q[0].at.After(now) {
		return nil, false
	}
	return heap.Pop(&t.q).(*timer), true
}

func (t *timers) len() int { return len(t.q) }

func (t *timers) clear() {
	clear(t.q)
	t.q = t.q[:0]
}
