package device

import (
	"sync"

	"github.com/YuminosukeSato/qnglm/pkg/errors"
)

// ErrStreamClosed is returned when work is launched on a closed stream.
var ErrStreamClosed = errors.New("device: stream closed")

type job struct {
	name string
	fn   func() error
}

// Stream is an ordered execution queue served by a single worker goroutine.
// Jobs run in submission order; Launch returns as soon as the job is queued.
// The first job error is kept until the next Synchronize.
type Stream struct {
	name  string
	queue chan job
	done  chan struct{}

	// sendMu keeps the queue open while a Launch is sending.
	sendMu sync.RWMutex

	mu      sync.Mutex
	cond    *sync.Cond
	pending int
	err     error
	closed  bool
}

// NewStream starts a stream worker. depth bounds the number of queued jobs
// before Launch blocks; depth <= 0 selects 64.
func NewStream(name string, depth int) *Stream {
	if depth <= 0 {
		depth = 64
	}
	s := &Stream{
		name:  name,
		queue: make(chan job, depth),
		done:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Name returns the stream name.
func (s *Stream) Name() string {
	return s.name
}

// Launch queues fn behind all previously launched jobs.
func (s *Stream) Launch(name string, fn func() error) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.Wrapf(ErrStreamClosed, "launch %s on %s", name, s.name)
	}
	s.pending++
	s.mu.Unlock()

	s.queue <- job{name: name, fn: fn}
	return nil
}

// Synchronize blocks until every launched job has finished and returns the
// first error raised since the previous Synchronize.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	err := s.err
	s.err = nil
	return err
}

// Close drains the queue and stops the worker. The returned error is the
// pending sticky error, if any.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Synchronize()
	s.sendMu.Lock()
	close(s.queue)
	s.sendMu.Unlock()
	<-s.done
	return err
}

func (s *Stream) run() {
	defer close(s.done)
	for j := range s.queue {
		err := errors.SafeExecute(j.name, j.fn)

		s.mu.Lock()
		if err != nil && s.err == nil {
			s.err = errors.Wrapf(err, "stream %s: %s", s.name, j.name)
		}
		s.pending--
		if s.pending == 0 {
			s.cond.Broadcast()
		}
		s.mu.Unlock()
	}
}
