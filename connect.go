package pgduct

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pgduct/pgduct/internal/iobufpool"
	"github.com/pgduct/pgduct/pgwire"
)

// Connect establishes a connection per config and returns the Client together
// with its paired Driver. The Driver must be run, normally by spawning Run in its
// own goroutine, for the Client to make progress.
//
// Candidate hosts and TLS fallbacks are tried in order and the first success
// wins. When every candidate fails, only the last attempt's error is returned;
// earlier failures are discarded. That matches libpq reporting and is the
// documented contract.
func Connect(ctx context.Context, config *Config) (*Client, *Driver, error) {
	fallbacks := make([]*FallbackConfig, 0, len(config.Fallbacks)+1)
	fallbacks = append(fallbacks, &FallbackConfig{
		Host:      config.Host,
		Port:      config.Port,
		TLSConfig: config.TLSConfig,
	})
	fallbacks = append(fallbacks, config.Fallbacks...)

	if config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	var lastErr error
	var lastHost string
	for _, fb := range fallbacks {
		client, driver, err := connectFallback(ctx, config, fb)
		if err == nil {
			return client, driver, nil
		}
		lastErr = err
		lastHost = fb.Host
	}

	return nil, nil, &ConnectError{Host: lastHost, err: lastErr}
}

func connectFallback(ctx context.Context, config *Config, fb *FallbackConfig) (*Client, *Driver, error) {
	raw, err := dialFallback(ctx, config, fb)
	if err != nil {
		return nil, nil, err
	}

	session := newSessionInfo()
	if err := startup(ctx, raw.netConn, config, raw.certHash, session); err != nil {
		raw.netConn.Close()
		return nil, nil, err
	}

	driver, tx := raw.newDriver(session, config.Logger, config.LogLevel)
	client := newClient(tx, session, config)
	return client, driver, nil
}

// startup runs the startup/authentication exchange synchronously on the freshly
// connected stream. Once it returns successfully the stream is handed over to the
// driver and never read or written directly again.
func startup(ctx context.Context, netConn net.Conn, config *Config, certHash []byte, session *sessionInfo) error {
	if deadline, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(deadline)
		defer netConn.SetDeadline(time.Time{})
	}

	sr := newStartupReader(netConn)
	defer sr.release()

	params := make(map[string]string, len(config.RuntimeParams)+2)
	for k, v := range config.RuntimeParams {
		params[k] = v
	}
	params["user"] = config.User
	if config.Database != "" {
		params["database"] = config.Database
	}

	startupMsg := &pgwire.StartupMessage{
		ProtocolVersion: pgwire.ProtocolVersionNumber,
		Parameters:      params,
	}
	if _, err := netConn.Write(startupMsg.Encode(nil)); err != nil {
		return err
	}

	for {
		msg, err := sr.receive()
		if err != nil {
			return err
		}

		switch msg := msg.(type) {
		case *pgwire.Authentication:
			if err := handleAuth(netConn, sr, config, certHash, msg); err != nil {
				return err
			}
		case *pgwire.BackendKeyData:
			session.setBackendKeyData(*msg)
		case *pgwire.ParameterStatus:
			session.setParameter(msg.Name, msg.Value)
		case *pgwire.NoticeResponse:
		case *pgwire.ReadyForQuery:
			return nil
		case *pgwire.ErrorResponse:
			return errorResponseToPgError(msg)
		default:
			return &UnexpectedMessageError{Received: sr.tag}
		}
	}
}

func handleAuth(netConn net.Conn, sr *startupReader, config *Config, certHash []byte, msg *pgwire.Authentication) error {
	switch msg.Type {
	case pgwire.AuthTypeOk:
		return nil
	case pgwire.AuthTypeCleartextPassword:
		return sendPassword(netConn, config.Password)
	case pgwire.AuthTypeMD5Password:
		digested := "md5" + hexMD5(hexMD5(config.Password+config.User)+string(msg.Salt[:]))
		return sendPassword(netConn, digested)
	case pgwire.AuthTypeSASL:
		return authSASL(netConn, sr, config.Password, certHash, msg.SASLAuthMechanisms)
	default:
		return fmt.Errorf("unsupported authentication type: %d", msg.Type)
	}
}

func sendPassword(w io.Writer, password string) error {
	msg := &pgwire.PasswordMessage{Password: password}
	_, err := w.Write(msg.Encode(nil))
	return err
}

func hexMD5(s string) string {
	hash := md5.New()
	io.WriteString(hash, s)
	return hex.EncodeToString(hash.Sum(nil))
}

// startupReader reads whole backend frames during the startup phase, before the
// driver's read goroutine exists. It reuses one pooled buffer, so a received
// message is only valid until the next receive.
type startupReader struct {
	r      io.Reader
	reader pgwire.Reader
	buf    []byte
	tag    byte
}

func newStartupReader(r io.Reader) *startupReader {
	return &startupReader{r: r, buf: iobufpool.Get(512)}
}

func (sr *startupReader) release() {
	iobufpool.Put(sr.buf)
	sr.buf = nil
}

func (sr *startupReader) receive() (pgwire.BackendMessage, error) {
	if _, err := io.ReadFull(sr.r, sr.buf[:pgwire.HeaderLen]); err != nil {
		return nil, err
	}

	msgLen := int(int32(binary.BigEndian.Uint32(sr.buf[1:])))
	if msgLen < 4 {
		return nil, fmt.Errorf("invalid message length: %d", msgLen)
	}
	frameLen := msgLen + 1

	if frameLen > len(sr.buf) {
		next := iobufpool.Get(frameLen)
		copy(next, sr.buf[:pgwire.HeaderLen])
		iobufpool.Put(sr.buf)
		sr.buf = next
	}

	if _, err := io.ReadFull(sr.r, sr.buf[pgwire.HeaderLen:frameLen]); err != nil {
		return nil, err
	}

	sr.tag = sr.buf[0]
	return sr.reader.Receive(sr.buf[:frameLen])
}
