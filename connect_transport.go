//go:build !quic

package pgduct

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"github.com/pgduct/pgduct/pgwire"
)

// rawConn is a freshly dialed, TLS-negotiated stream that has not yet run the
// startup exchange. The concrete stream is kept alongside the interface view so
// the Driver built from it stays monomorphic.
type rawConn struct {
	netConn  net.Conn
	certHash []byte // SHA-256 of the server's leaf certificate, nil without TLS

	kind    transportKind
	tcp     *net.TCPConn
	tlsConn *tls.Conn
	unix    *net.UnixConn
}

func (r *rawConn) newDriver(session *sessionInfo, logger Logger, logLevel LogLevel) (*Driver, *clientTx) {
	switch r.kind {
	case transportTCP:
		c := newConn(r.tcp, session, logger, logLevel)
		return newTCPDriver(c), c.tx()
	case transportTLS:
		c := newConn(r.tlsConn, session, logger, logLevel)
		return newTLSDriver(c), c.tx()
	case transportUnix:
		c := newConn(r.unix, session, logger, logLevel)
		return newUnixDriver(c), c.tx()
	default:
		c := newConn(r.tlsConn, session, logger, logLevel)
		return newUnixTLSDriver(c), c.tx()
	}
}

func dialFallback(ctx context.Context, config *Config, fb *FallbackConfig) (*rawConn, error) {
	network, address := NetworkAddress(fb.Host, fb.Port)

	d := net.Dialer{KeepAlive: 5 * time.Minute}
	netConn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	raw := &rawConn{netConn: netConn}
	switch nc := netConn.(type) {
	case *net.TCPConn:
		raw.kind = transportTCP
		raw.tcp = nc
	case *net.UnixConn:
		raw.kind = transportUnix
		raw.unix = nc
	default:
		netConn.Close()
		return nil, errors.New("unsupported transport")
	}

	if fb.TLSConfig != nil {
		if err := raw.startTLS(ctx, fb.TLSConfig); err != nil {
			netConn.Close()
			return nil, err
		}
	}

	return raw, nil
}

// startTLS performs the SSLRequest preamble and TLS handshake, then records the
// SHA-256 of the server's leaf certificate for use as the channel binding token
// during SCRAM authentication.
func (r *rawConn) startTLS(ctx context.Context, tlsConfig *tls.Config) error {
	if deadline, ok := ctx.Deadline(); ok {
		r.netConn.SetDeadline(deadline)
		defer r.netConn.SetDeadline(time.Time{})
	}

	if _, err := r.netConn.Write((&pgwire.SSLRequest{}).Encode(nil)); err != nil {
		return err
	}

	response := make([]byte, 1)
	if _, err := io.ReadFull(r.netConn, response); err != nil {
		return err
	}
	if response[0] != 'S' {
		return ErrTLSRefused
	}

	tlsConn := tls.Client(r.netConn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return err
	}

	if certs := tlsConn.ConnectionState().PeerCertificates; len(certs) > 0 {
		hash := sha256.Sum256(certs[0].Raw)
		r.certHash = hash[:]
	}

	r.netConn = tlsConn
	r.tlsConn = tlsConn
	if r.kind == transportUnix {
		r.kind = transportUnixTLS
		r.unix = nil
	} else {
		r.kind = transportTLS
		r.tcp = nil
	}

	return nil
}
