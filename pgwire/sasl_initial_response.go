package pgwire

import (
	"bytes"
	"encoding/binary"

	"github.com/jackc/pgio"
)

// SASLInitialResponse selects a SASL mechanism and carries the client-first message.
type SASLInitialResponse struct {
	AuthMechanism string
	Data          []byte
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*SASLInitialResponse) Frontend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the initial 1 byte message type identifier and 4 byte message length.
func (dst *SASLInitialResponse) Decode(src []byte) error {
	*dst = SASLInitialResponse{}

	idx := bytes.IndexByte(src, 0)
	if idx < 0 {
		return &invalidMessageFormatErr{messageType: "SASLInitialResponse"}
	}
	dst.AuthMechanism = string(src[:idx])
	rp := idx + 1

	if len(src[rp:]) < 4 {
		return &invalidMessageFormatErr{messageType: "SASLInitialResponse"}
	}
	dataLen := int(int32(binary.BigEndian.Uint32(src[rp:])))
	rp += 4

	if dataLen != -1 {
		if len(src[rp:]) != dataLen {
			return &invalidMessageFormatErr{messageType: "SASLInitialResponse"}
		}
		dst.Data = src[rp:]
	}

	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier
// and the 4 byte message length.
func (src *SASLInitialResponse) Encode(dst []byte) []byte {
	dst = append(dst, 'p')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = append(dst, src.AuthMechanism...)
	dst = append(dst, 0)

	dst = pgio.AppendInt32(dst, int32(len(src.Data)))
	dst = append(dst, src.Data...)

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}

// SASLResponse carries a SASL client message after the initial response.
type SASLResponse struct {
	Data []byte
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*SASLResponse) Frontend() {}

// Decode decodes src into dst.
func (dst *SASLResponse) Decode(src []byte) error {
	dst.Data = src
	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier
// and the 4 byte message length.
func (src *SASLResponse) Encode(dst []byte) []byte {
	dst = append(dst, 'p')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = append(dst, src.Data...)

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}
