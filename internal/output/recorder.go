package output

import (
	"fmt"
	"sync"

	"keymapd/internal/keys"
)

// Transition is one recorded key event.
type Transition struct {
	Code  keys.Code
	Value keys.Value
}

func (t Transition) String() string {
	switch t.Value {
	case keys.Press:
		return "+" + t.Code.String()
	case keys.Release:
		return "-" + t.Code.String()
	case keys.Repeat:
		return "*" + t.Code.String()
	}
	return fmt.Sprintf("%s=%d", t.Code, t.Value)
}

// Recorder is an in-memory sink. It stands in for the virtual keyboard in
// tests and in dry runs.
type Recorder struct {
	mu  sync.Mutex
	log []Transition
	Err error
}

// Send records the transition, or returns Err when set.
func (r *Recorder) Send(code keys.Code, value keys.Value) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.log = append(r.log, Transition{code, value})
	return nil
}

// Transitions returns everything recorded so far.
func (r *Recorder) Transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.log...)
}

// Strings renders the recording as "+KEY", "-KEY" and "*KEY" entries.
func (r *Recorder) Strings() []string {
	ts := r.Transitions()
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}

// Reset forgets the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.log = nil
	r.mu.Unlock()
}
