// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrStreamClosed is returned when enqueuing work on a closed Stream.
var ErrStreamClosed = errors.New("stream is closed")

// Stream executes work items one at a time, in the order they are enqueued, in a dedicated goroutine.
//
// The first error of a work item is kept until Synchronize is called: items enqueued after a failure are
// skipped.
type Stream struct {
	mu      sync.Mutex
	cond    sync.Cond
	queue   []func() error
	running bool
	err     error
	closed  bool
	done    chan struct{}
}

// NewStream creates a Stream and starts its goroutine. It must be closed with Close.
func NewStream() *Stream {
	s := &Stream{done: make(chan struct{})}
	s.cond = sync.Cond{L: &s.mu}
	go s.loop()
	return s
}

func (s *Stream) loop() {
	defer close(s.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			// Closed and drained.
			return
		}
		work := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		if s.err != nil {
			s.cond.Broadcast()
			continue
		}
		s.running = true
		s.mu.Unlock()
		err := work()
		s.mu.Lock()
		s.running = false
		if err != nil && s.err == nil {
			s.err = err
		}
		s.cond.Broadcast()
	}
}

// Enqueue adds work to the stream. It returns ErrStreamClosed if the stream was closed.
func (s *Stream) Enqueue(work func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.queue = append(s.queue, work)
	s.cond.Broadcast()
	return nil
}

// Synchronize waits for all enqueued work to finish. It returns the first error since the last
// Synchronize, and clears it.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 || s.running {
		s.cond.Wait()
	}
	err := s.err
	s.err = nil
	return err
}

// Close stops accepting work, waits for the enqueued work to finish and for the goroutine to exit.
// It returns any pending error. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.err
	s.err = nil
	return err
}
