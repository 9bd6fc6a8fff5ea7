package cache

import "sync"

// stream is a broadcast primitive with replay. Subscribers first receive
// every value published so far, in order, then live values. Closing the
// stream closes every subscriber channel after its backlog drains, so a
// late subscriber still observes the full history followed by the close.
//
// Publishing never blocks on slow consumers: each subscriber owns a
// growable queue drained by its own goroutine.
type stream[T any] struct {
	mu     sync.Mutex
	log    []T
	subs   []*subscriber[T]
	closed bool
	replay bool // replay the log to new subscribers
}

type subscriber[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	closed bool
	out    chan T
}

func newStream[T any](replay bool) *stream[T] {
	return &stream[T]{replay: replay}
}

// publish appends a value to the log and fans it out. Returns false if
// the stream is already closed.
func (s *stream[T]) publish(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.replay {
		s.log = append(s.log, v)
	}
	subs := make([]*subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.push(v)
	}
	return true
}

// subscribe registers a consumer. The snapshot of the log and the
// registration happen under one lock, so no value can slip between the
// replay and the live feed.
func (s *stream[T]) subscribe() <-chan T {
	sub := &subscriber[T]{out: make(chan T)}
	sub.cond = sync.NewCond(&sub.mu)

	s.mu.Lock()
	if s.replay {
		sub.queue = append(sub.queue, s.log...)
	}
	if s.closed {
		sub.closed = true
	} else {
		s.subs = append(s.subs, sub)
	}
	s.mu.Unlock()

	go sub.drain()
	return sub.out
}

// close stops the stream. Subscriber channels close once their queued
// backlog has been delivered.
func (s *stream[T]) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.finish()
	}
}

// snapshot returns a copy of the replay log.
func (s *stream[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.log))
	copy(out, s.log)
	return out
}

func (sub *subscriber[T]) push(v T) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, v)
	sub.mu.Unlock()
	sub.cond.Signal()
}

func (sub *subscriber[T]) finish() {
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	sub.cond.Signal()
}

func (sub *subscriber[T]) drain() {
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		if len(sub.queue) == 0 && sub.closed {
			sub.mu.Unlock()
			close(sub.out)
			return
		}
		v := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		sub.out <- v
	}
}
