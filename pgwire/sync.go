package pgwire

import (
	"github.com/jackc/pgio"
)

// Sync closes the current extended protocol pipeline and requests a ReadyForQuery.
type Sync struct{}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*Sync) Frontend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the initial 1 byte message type identifier and 4 byte message length.
func (dst *Sync) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "Sync", expectedLen: 0, actualLen: len(src)}
	}

	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier
// and the 4 byte message length.
func (src *Sync) Encode(dst []byte) []byte {
	dst = append(dst, 'S')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}
