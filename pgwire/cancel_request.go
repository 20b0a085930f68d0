package pgwire

import (
	"encoding/binary"
	"errors"

	"github.com/jackc/pgio"
)

// CancelRequestCode is the magic protocol version identifying a cancel request.
const CancelRequestCode = 80877102

// CancelRequest asks the server to cancel the query running on another
// connection, identified by its BackendKeyData. It is sent on a connection of its
// own and carries no type identifier byte.
type CancelRequest struct {
	ProcessID uint32
	SecretKey uint32
}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*CancelRequest) Frontend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the 4 byte message length.
func (dst *CancelRequest) Decode(src []byte) error {
	if len(src) != 12 {
		return &invalidMessageLenErr{messageType: "CancelRequest", expectedLen: 12, actualLen: len(src)}
	}
	if binary.BigEndian.Uint32(src) != CancelRequestCode {
		return errors.New("bad cancel request code")
	}

	dst.ProcessID = binary.BigEndian.Uint32(src[4:])
	dst.SecretKey = binary.BigEndian.Uint32(src[8:])

	return nil
}

// Encode encodes src into dst. dst will include the 4 byte message length. Cancel
// requests carry no type identifier byte.
func (src *CancelRequest) Encode(dst []byte) []byte {
	dst = pgio.AppendInt32(dst, 16)
	dst = pgio.AppendInt32(dst, CancelRequestCode)
	dst = pgio.AppendUint32(dst, src.ProcessID)
	dst = pgio.AppendUint32(dst, src.SecretKey)
	return dst
}
