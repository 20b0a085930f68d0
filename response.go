package pgduct

import (
	"context"
	"sync"

	"github.com/pgduct/pgduct/pgwire"
)

// request pairs one encoded frontend message with the sink that will receive the
// backend messages it produces. Every request carries a sink, even when the caller
// does not intend to read the response, because the driver matches backend
// messages to requests purely by submission order.
type request struct {
	buf  []byte
	sink *responseSink
}

// responseSink accumulates the backend frames produced by one request. The driver
// goroutine is the only producer; the caller that submitted the request is the only
// consumer. A caller that abandons its Response leaves the sink inert: the driver
// keeps pushing into it and the frames are simply never read.
type responseSink struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	done   bool

	ready chan struct{}
}

func newResponseSink() *responseSink {
	return &responseSink{ready: make(chan struct{}, 1)}
}

// push appends one backend frame. Only called from the driver goroutine.
func (s *responseSink) push(frame []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	s.notify()
}

// complete marks the response finished. Called by the driver after pushing the
// terminal frame.
func (s *responseSink) complete() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.notify()
}

// fail marks the response finished with err. Frames pushed before the failure
// remain readable.
func (s *responseSink) fail(err error) {
	s.mu.Lock()
	if !s.done {
		s.done = true
		s.err = err
	}
	s.mu.Unlock()
	s.notify()
}

func (s *responseSink) notify() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// pop removes and returns the oldest buffered frame. When no frame is buffered it
// reports whether the sink is finished and with what error.
func (s *responseSink) pop() (frame []byte, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) > 0 {
		frame = s.frames[0]
		s.frames = s.frames[1:]
		return frame, false, nil
	}
	return nil, s.done, s.err
}

// Response consumes the backend messages produced by one request, in the order the
// server sent them.
type Response struct {
	sink   *responseSink
	reader pgwire.Reader
}

func newResponse(sink *responseSink) *Response {
	return &Response{sink: sink}
}

// Receive blocks until the next backend message of this response is available and
// decodes it. The returned message is only valid until the next call to Receive.
// The terminal ReadyForQuery is delivered like any other message; a Receive after
// it returns ErrConnClosed. A connection failure surfaces as the failure error once
// buffered messages are exhausted.
func (r *Response) Receive(ctx context.Context) (pgwire.BackendMessage, error) {
	for {
		frame, done, err := r.sink.pop()
		if frame != nil {
			return r.reader.Receive(frame)
		}
		if done {
			if err == nil {
				err = ErrConnClosed
			}
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.sink.ready:
		}
	}
}

// ReceiveFrame is like Receive but returns the next raw frame, header included,
// without decoding it. Unlike Receive's flyweight messages the frame is never
// reused: it stays valid for as long as the caller holds it.
func (r *Response) ReceiveFrame(ctx context.Context) ([]byte, error) {
	for {
		frame, done, err := r.sink.pop()
		if frame != nil {
			return frame, nil
		}
		if done {
			if err == nil {
				err = ErrConnClosed
			}
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.sink.ready:
		}
	}
}

// ReadyForQuery consumes the remainder of the response until the terminal
// ReadyForQuery, returning the first server error encountered, if any. It is used
// by operations that only care about success or failure.
func (r *Response) ReadyForQuery(ctx context.Context) error {
	var firstErr error
	for {
		msg, err := r.Receive(ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *pgwire.ErrorResponse:
			if firstErr == nil {
				firstErr = errorResponseToPgError(m)
			}
		case *pgwire.ReadyForQuery:
			return firstErr
		}
	}
}
