package pgwire

import (
	"bytes"

	"github.com/jackc/pgio"
)

// ParameterStatus reports a run-time parameter value, either at session start or
// when a parameter changes mid-session.
type ParameterStatus struct {
	Name  string
	Value string
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*ParameterStatus) Backend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the initial 1 byte message type identifier and 4 byte message length.
func (dst *ParameterStatus) Decode(src []byte) error {
	idx := bytes.IndexByte(src, 0)
	if idx < 0 {
		return &invalidMessageFormatErr{messageType: "ParameterStatus"}
	}
	name := src[:idx]
	rp := idx + 1

	idx = bytes.IndexByte(src[rp:], 0)
	if idx < 0 {
		return &invalidMessageFormatErr{messageType: "ParameterStatus"}
	}
	value := src[rp : rp+idx]

	*dst = ParameterStatus{Name: string(name), Value: string(value)}

	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier
// and the 4 byte message length.
func (src *ParameterStatus) Encode(dst []byte) []byte {
	dst = append(dst, 'S')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = append(dst, src.Name...)
	dst = append(dst, 0)
	dst = append(dst, src.Value...)
	dst = append(dst, 0)

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}
