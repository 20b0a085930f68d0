package pgwire

import (
	"encoding/binary"

	"github.com/jackc/pgio"
)

// ParameterDescription reports the parameter types of a described statement.
type ParameterDescription struct {
	ParameterOIDs []uint32
}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*ParameterDescription) Backend() {}

// Decode decodes src into dst. src must contain the complete message body with the
// exception of the initial 1 byte message type identifier and 4 byte message length.
func (dst *ParameterDescription) Decode(src []byte) error {
	if len(src) < 2 {
		return &invalidMessageFormatErr{messageType: "ParameterDescription"}
	}

	parameterCount := int(binary.BigEndian.Uint16(src))
	rp := 2

	if len(src[rp:]) != parameterCount*4 {
		return &invalidMessageFormatErr{messageType: "ParameterDescription"}
	}

	dst.ParameterOIDs = make([]uint32, parameterCount)
	for i := 0; i < parameterCount; i++ {
		dst.ParameterOIDs[i] = binary.BigEndian.Uint32(src[rp:])
		rp += 4
	}

	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier
// and the 4 byte message length.
func (src *ParameterDescription) Encode(dst []byte) []byte {
	dst = append(dst, 't')
	sp := len(dst)
	dst = pgio.AppendInt32(dst, -1)

	dst = pgio.AppendUint16(dst, uint16(len(src.ParameterOIDs)))
	for _, oid := range src.ParameterOIDs {
		dst = pgio.AppendUint32(dst, oid)
	}

	pgio.SetInt32(dst[sp:], int32(len(dst[sp:])))

	return dst
}
