package pgwire

import (
	"bytes"

	"github.com/jackc/pgio"
)

// Close releases a server-side prepared statement ('S') or portal ('P').
type Close struct {
	ObjectType byte // 'S' = prepared statement, 'P' = portal
	Name       string
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*Close) Frontend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the initial 1 byte message type identifier and 4 byte message length.
func (dst *Close) Decode(src []byte) error {
	if len(src) < 2 {
		return &invalidMessageFormatErr{messageType: "Close"}
	}

	dst.ObjectType = src[0]

	i := bytes.IndexByte(src[1:], 0)
	if i != len(src)-2 {
		return &invalidMessageFormatErr{messageType: "Close"}
	}
	dst.Name = string(src[1 : len(src)-1])

	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier
// and the 4 byte message length.
func (src *Close) Encode(dst []byte) []byte {
	dst = append(dst, 'C')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = append(dst, src.ObjectType)
	dst = append(dst, src.Name...)
	dst = append(dst, 0)

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}
