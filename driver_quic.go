//go:build quic

package pgduct

import (
	"context"
	"net"

	quic "github.com/quic-go/quic-go"

	"github.com/pgduct/pgduct/pgwire"
)

// Driver drives one PostgreSQL connection carried over a single bidirectional
// QUIC stream. It must be run, either by spawning Run in its own goroutine or by
// repeatedly calling Next, for the paired Client to make progress.
type Driver struct {
	quic *conn[*quicStream]
}

func newQUICDriver(c *conn[*quicStream]) *Driver { return &Driver{quic: c} }

// Next drives the connection until the next out-of-band backend message arrives
// (NotificationResponse, NoticeResponse or ParameterStatus) and returns it. The
// message is only valid until the next call. Next returns ErrConnClosed when the
// connection has finished cleanly and the terminal error otherwise.
func (d *Driver) Next(ctx context.Context) (pgwire.BackendMessage, error) {
	return d.quic.next(ctx)
}

// Run drives the connection until it closes, discarding out-of-band messages. It
// returns nil on an orderly close and the terminal error otherwise.
func (d *Driver) Run(ctx context.Context) error {
	return d.quic.run(ctx)
}

// quicStream adapts one bidirectional QUIC stream to net.Conn. Closing it closes
// the whole QUIC connection since the protocol session and the stream are one to
// one.
type quicStream struct {
	quic.Stream
	conn quic.Connection
}

func (s *quicStream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *quicStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *quicStream) Close() error {
	s.Stream.CancelRead(0)
	err := s.Stream.Close()
	if cerr := s.conn.CloseWithError(0, ""); err == nil {
		err = cerr
	}
	return err
}
