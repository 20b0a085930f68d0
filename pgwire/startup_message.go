package pgwire

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/jackc/pgio"
)

// SSLRequestNumber is the magic protocol version requesting TLS negotiation.
const SSLRequestNumber = 80877103

// StartupMessage opens a session. It is the only frontend message without a type
// identifier byte.
type StartupMessage struct {
	ProtocolVersion uint32
	Parameters      map[string]string
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*StartupMessage) Frontend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the 4 byte message length.
func (dst *StartupMessage) Decode(src []byte) error {
	if len(src) < 4 {
		return errors.New("startup message too short")
	}

	dst.ProtocolVersion = binary.BigEndian.Uint32(src)
	rp := 4

	if dst.ProtocolVersion != ProtocolVersionNumber {
		return errors.New("bad startup message version number")
	}

	dst.Parameters = make(map[string]string)
	for {
		idx := bytes.IndexByte(src[rp:], 0)
		if idx < 0 {
			return &invalidMessageFormatErr{messageType: "StartupMessage"}
		}
		key := string(src[rp : rp+idx])
		rp += idx + 1

		idx = bytes.IndexByte(src[rp:], 0)
		if idx < 0 {
			return &invalidMessageFormatErr{messageType: "StartupMessage"}
		}
		value := string(src[rp : rp+idx])
		rp += idx + 1

		dst.Parameters[key] = value

		if len(src[rp:]) == 1 {
			// the list is terminated by a zero byte
			break
		}
	}

	return nil
}

// Encode encodes src into dst. dst will include the 4 byte message length. Startup
// messages carry no type identifier byte.
func (src *StartupMessage) Encode(dst []byte) []byte {
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = pgio.AppendUint32(dst, src.ProtocolVersion)
	for k, v := range src.Parameters {
		dst = append(dst, k...)
		dst = append(dst, 0)
		dst = append(dst, v...)
		dst = append(dst, 0)
	}
	dst = append(dst, 0)

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}

// SSLRequest asks the server whether it is willing to negotiate TLS. The server
// answers with a single 'S' or 'N' byte outside normal message framing.
type SSLRequest struct{}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*SSLRequest) Frontend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the 4 byte message length.
func (dst *SSLRequest) Decode(src []byte) error {
	if len(src) != 4 {
		return &invalidMessageLenErr{messageType: "SSLRequest", expectedLen: 4, actualLen: len(src)}
	}
	if binary.BigEndian.Uint32(src) != SSLRequestNumber {
		return errors.New("bad ssl request code")
	}

	return nil
}

// Encode encodes src into dst. SSL requests carry no type identifier byte.
func (src *SSLRequest) Encode(dst []byte) []byte {
	dst = pgio.AppendInt32(dst, 8)
	dst = pgio.AppendInt32(dst, SSLRequestNumber)
	return dst
}
