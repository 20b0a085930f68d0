package pgwire

import (
	"encoding/binary"

	"github.com/jackc/pgio"
)

// BackendKeyData carries the secret used to cancel queries on this connection.
type BackendKeyData struct {
	ProcessID uint32
	SecretKey uint32
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*BackendKeyData) Backend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the initial 1 byte message type identifier and 4 byte message length.
func (dst *BackendKeyData) Decode(src []byte) error {
	if len(src) != 8 {
		return &invalidMessageLenErr{messageType: "BackendKeyData", expectedLen: 8, actualLen: len(src)}
	}

	dst.ProcessID = binary.BigEndian.Uint32(src[:4])
	dst.SecretKey = binary.BigEndian.Uint32(src[4:])

	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier
// and the 4 byte message length.
func (src *BackendKeyData) Encode(dst []byte) []byte {
	dst = append(dst, 'K')
	dst = pgio.AppendUint32(dst, 12)
	dst = pgio.AppendUint32(dst, src.ProcessID)
	dst = pgio.AppendUint32(dst, src.SecretKey)
	return dst
}
