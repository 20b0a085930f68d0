//go:build !quic

package pgduct

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/pgduct/pgduct/pgwire"
)

type transportKind int

const (
	transportTCP transportKind = iota
	transportTLS
	transportUnix
	transportUnixTLS
)

// Driver drives one PostgreSQL connection. It must be run, either by spawning Run
// in its own goroutine or by repeatedly calling Next, for the paired Client to
// make progress.
//
// Driver is a closed union over the supported transports. Exactly one conn field
// is populated; kind is consulted once per call and the per-frame loop then runs
// against the concrete stream type.
type Driver struct {
	kind    transportKind
	tcp     *conn[*net.TCPConn]
	tls     *conn[*tls.Conn]
	unix    *conn[*net.UnixConn]
	unixTLS *conn[*tls.Conn]
}

func newTCPDriver(c *conn[*net.TCPConn]) *Driver     { return &Driver{kind: transportTCP, tcp: c} }
func newTLSDriver(c *conn[*tls.Conn]) *Driver        { return &Driver{kind: transportTLS, tls: c} }
func newUnixDriver(c *conn[*net.UnixConn]) *Driver   { return &Driver{kind: transportUnix, unix: c} }
func newUnixTLSDriver(c *conn[*tls.Conn]) *Driver    { return &Driver{kind: transportUnixTLS, unixTLS: c} }

// Next drives the connection until the next out-of-band backend message arrives
// (NotificationResponse, NoticeResponse or ParameterStatus) and returns it. The
// message is only valid until the next call. Next returns ErrConnClosed when the
// connection has finished cleanly and the terminal error otherwise.
func (d *Driver) Next(ctx context.Context) (pgwire.BackendMessage, error) {
	switch d.kind {
	case transportTCP:
		return d.tcp.next(ctx)
	case transportTLS:
		return d.tls.next(ctx)
	case transportUnix:
		return d.unix.next(ctx)
	default:
		return d.unixTLS.next(ctx)
	}
}

// Run drives the connection until it closes, discarding out-of-band messages. It
// returns nil on an orderly close and the terminal error otherwise.
func (d *Driver) Run(ctx context.Context) error {
	switch d.kind {
	case transportTCP:
		return d.tcp.run(ctx)
	case transportTLS:
		return d.tls.run(ctx)
	case transportUnix:
		return d.unix.run(ctx)
	default:
		return d.unixTLS.run(ctx)
	}
}
