//go:build quic

package pgduct

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"

	quic "github.com/quic-go/quic-go"
)

// rawConn is a freshly opened QUIC stream that has not yet run the startup
// exchange. QUIC provides TLS intrinsically, so there is no SSLRequest preamble.
type rawConn struct {
	netConn  net.Conn
	certHash []byte

	stream *quicStream
}

func (r *rawConn) newDriver(session *sessionInfo, logger Logger, logLevel LogLevel) (*Driver, *clientTx) {
	c := newConn(r.stream, session, logger, logLevel)
	return newQUICDriver(c), c.tx()
}

func dialFallback(ctx context.Context, config *Config, fb *FallbackConfig) (*rawConn, error) {
	if fb.TLSConfig == nil {
		return nil, errors.New("quic transport requires TLS")
	}

	tlsConfig := fb.TLSConfig.Clone()
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{"pgduct"}
	}

	addr := fmt.Sprintf("%s:%d", fb.Host, fb.Port)
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, nil)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, err
	}

	qs := &quicStream{Stream: stream, conn: conn}
	raw := &rawConn{netConn: qs, stream: qs}

	if certs := conn.ConnectionState().TLS.PeerCertificates; len(certs) > 0 {
		hash := sha256.Sum256(certs[0].Raw)
		raw.certHash = hash[:]
	}

	return raw, nil
}
