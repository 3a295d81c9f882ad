package chat

import (
	"errors"
	"io"
	"iter"
	"strings"
)

// Source produces the reply fragments of one request. Next returns io.EOF
// once the transport signals completion.
type Source interface {
	Next() (string, error)
	Close() error
}

// Stream is the lazy, single-use fragment sequence of one send. The turn is
// committed when the source is exhausted, and discarded when the source
// fails or the stream is closed early. A Stream is not safe for concurrent
// use; cancel the request context to abort it from another goroutine.
type Stream struct {
	turn *Turn
	src  Source

	started bool
	done    bool
	closed  bool
	text    strings.Builder
	err     error
}

// NewStream binds a source to the turn it answers.
func NewStream(turn *Turn, src Source) *Stream {
	return &Stream{turn: turn, src: src}
}

// All yields fragments in arrival order. Breaking out of the loop closes
// the stream.
func (s *Stream) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.started {
			yield("", ErrStreamConsumed)
			return
		}
		s.started = true
		defer s.Close()

		for {
			frag, err := s.src.Next()
			if errors.Is(err, io.EOF) {
				s.finish(nil)
				return
			}
			if err != nil {
				s.finish(err)
				yield("", err)
				return
			}
			if frag == "" {
				continue
			}
			s.text.WriteString(frag)
			if !yield(frag, nil) {
				return
			}
		}
	}
}

// ReadAll drains the stream and returns the full reply.
func (s *Stream) ReadAll() (string, error) {
	for _, err := range s.All() {
		if err != nil {
			return s.Text(), err
		}
	}
	return s.Text(), s.err
}

// Text returns the fragments received so far.
func (s *Stream) Text() string {
	return s.text.String()
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the transport. A stream closed before completion discards
// its turn.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.done {
		s.done = true
		s.turn.Discard()
	}
	return s.src.Close()
}

func (s *Stream) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	if err != nil {
		s.turn.Discard()
		return
	}
	s.turn.Commit(s.text.String())
}
