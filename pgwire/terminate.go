package pgwire

import (
	"github.com/jackc/pgio"
)

// Terminate announces an orderly connection close.
type Terminate struct{}

// Frontend identifies this message as sendable by a PostgreSQL frontend.
func (*Terminate) Frontend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the initial 1 byte message type identifier and 4 byte message length.
func (dst *Terminate) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "Terminate", expectedLen: 0, actualLen: len(src)}
	}

	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier
// and the 4 byte message length.
func (src *Terminate) Encode(dst []byte) []byte {
	dst = append(dst, 'X')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}
