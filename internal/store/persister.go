package store

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrBacklog is returned when the persister queue is full. The change is
// not written; the in-memory value still applies.
var ErrBacklog = errors.New("settings persistence backlog full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("settings store closed")

const persistQueueSize = 256

// op is one queued write, or a flush marker.
type op struct {
	name   string
	value  bool
	delete bool
	flush  chan struct{}
}

// Persister writes settings changes on its own goroutine so the control
// loop never waits for the disk. It implements state.SettingsSink.
type Persister struct {
	store  *Store
	logger *slog.Logger

	queue chan op
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewPersister starts a writer goroutine over s. Close closes s.
func NewPersister(s *Store, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Persister{
		store:  s,
		logger: logger.With("component", "store"),
		queue:  make(chan op, persistQueueSize),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

// SaveSetting queues a flag write.
func (p *Persister) SaveSetting(name string, value bool) error {
	return p.enqueue(op{name: name, value: value})
}

// DeleteSetting queues removal of a stored flag.
func (p *Persister) DeleteSetting(name string) error {
	return p.enqueue(op{name: name, delete: true})
}

func (p *Persister) enqueue(o op) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- o:
		return nil
	default:
		return ErrBacklog
	}
}

// Flush blocks until every change queued so far has been written.
func (p *Persister) Flush() {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	ch := make(chan struct{})
	p.queue <- op{flush: ch}
	p.mu.RUnlock()
	select {
	case <-ch:
	case <-p.done:
	}
}

// History flushes pending writes and returns the most recent changes.
func (p *Persister) History(limit int) ([]Change, error) {
	p.Flush()
	return p.store.History(limit)
}

// Close drains the queue and closes the store.
func (p *Persister) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		<-p.done
		err = p.store.Close()
	})
	return err
}

func (p *Persister) loop() {
	defer close(p.done)
	for o := range p.queue {
		if o.flush != nil {
			close(o.flush)
			continue
		}
		var err error
		if o.delete {
			err = p.store.DeleteSetting(o.name)
		} else {
			err = p.store.SaveSetting(o.name, o.value)
		}
		if err != nil {
			p.logger.Warn("persist setting", "name", o.name, "error", err)
		}
	}
}
