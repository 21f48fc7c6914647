package lane

import (
	"context"
	"errors"
	"sync"

	"pulse/internal/domain"
)

// ErrHalted is returned by Do once Halt has been called.
var ErrHalted = errors.New("lane: halted")

const defaultDepth = 16

type op struct {
	fn   func() error
	done chan error
}

type worker struct {
	opCh chan op
}

// Lanes owns one worker goroutine per conversation.
type Lanes struct {
	sync.WaitGroup

	depth  int
	haltCh chan struct{}

	mu      sync.Mutex
	halted  bool
	workers map[domain.ConversationID]*worker
}

// New returns Lanes whose per-conversation queues hold depth pending ops.
func New(depth int) *Lanes {
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Lanes{
		depth:   depth,
		haltCh:  make(chan struct{}),
		workers: make(map[domain.ConversationID]*worker),
	}
}

// Do runs fn on the lane of conv and returns its error. If ctx ends while fn
// is queued or running, Do returns ctx.Err() and fn may still run later.
func (l *Lanes) Do(ctx context.Context, conv domain.ConversationID, fn func() error) error {
	w, err := l.get(conv)
	if err != nil {
		return err
	}
	o := op{fn: fn, done: make(chan error, 1)}
	select {
	case w.opCh <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.haltCh:
		return ErrHalted
	}
	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.haltCh:
		return ErrHalted
	}
}

// Halt stops every lane and waits for running ops to finish. Queued ops
// that have not started are dropped.
func (l *Lanes) Halt() {
	l.mu.Lock()
	if l.halted {
		l.mu.Unlock()
		return
	}
	l.halted = true
	close(l.haltCh)
	l.mu.Unlock()
	l.Wait()
}

func (l *Lanes) get(conv domain.ConversationID) (*worker, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return nil, ErrHalted
	}
	if w, ok := l.workers[conv]; ok {
		return w, nil
	}
	w := &worker{opCh: make(chan op, l.depth)}
	l.workers[conv] = w
	l.Add(1)
	go l.run(w)
	return w, nil
}

func (l *Lanes) run(w *worker) {
	defer l.Done()
	for {
		select {
		case <-l.haltCh:
			return
		case o := <-w.opCh:
			o.done <- o.fn()
		}
	}
}
