package pgwire

import (
	"bytes"

	"github.com/jackc/pgio"
)

// CommandComplete reports successful completion of one SQL command.
type CommandComplete struct {
	CommandTag []byte
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*CommandComplete) Backend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the initial 1 byte message type identifier and 4 byte message length.
func (dst *CommandComplete) Decode(src []byte) error {
	idx := bytes.IndexByte(src, 0)
	if idx == -1 {
		return &invalidMessageFormatErr{messageType: "CommandComplete"}
	}

	dst.CommandTag = src[:idx]

	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier
// and the 4 byte message length.
func (src *CommandComplete) Encode(dst []byte) []byte {
	dst = append(dst, 'C')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = append(dst, src.CommandTag...)
	dst = append(dst, 0)

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}

// RowsAffected parses the number of rows out of the command tag. It returns 0 for
// commands that do not affect rows (e.g. "CREATE TABLE").
func (src *CommandComplete) RowsAffected() uint64 {
	idx := bytes.LastIndexByte(src.CommandTag, ' ')
	if idx == -1 {
		return 0
	}

	var n uint64
	for _, b := range src.CommandTag[idx+1:] {
		if b < '0' || b > '9' {
			return 0
		}
		n = n*10 + uint64(b-'0')
	}
	return n
}
