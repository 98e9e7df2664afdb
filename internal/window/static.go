package window

import (
	"context"
	"sync"
)

// Static is a provider that reports whatever was last Set. With nothing set
// it reports an empty window, which is what conditions see on a console.
type Static struct {
	mu   sync.Mutex
	info Info
	err  error
}

// NewStatic returns a provider fixed at info.
func NewStatic(info Info) *Static {
	return &Static{info: info}
}

func (s *Static) Name() string { return "static" }

func (s *Static) Active(context.Context) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.err
}

// Set changes the reported window.
func (s *Static) Set(info Info) {
	s.mu.Lock()
	s.info, s.err = info, nil
	s.mu.Unlock()
}

// Fail makes Active return err until the next Set.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
