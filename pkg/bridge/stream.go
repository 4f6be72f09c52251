package bridge

import (
	"context"
)

// Stream is a finite, non-restartable sequence of chunks. It is consumed
// with Next and Current; Err reports why it ended once Next returned false.
type Stream struct {
	ch     <-chan Chunk
	cancel context.CancelFunc

	current Chunk
	err     error
}

func (s *Stream) Next() bool {
	chunk, ok := <-s.ch

	if !ok {
		return false
	}

	s.current = chunk

	return true
}

func (s *Stream) Current() Chunk {
	return s.current
}

// Err is nil when the agent reached its final answer.
func (s *Stream) Err() error {
	return s.err
}

// Close stops the producer and discards anything not yet consumed.
func (s *Stream) Close() error {
	s.cancel()

	for range s.ch {
	}

	return nil
}
