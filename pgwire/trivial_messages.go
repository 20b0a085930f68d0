package pgwire

import (
	"github.com/jackc/pgio"
)

// ParseComplete acknowledges a Parse.
type ParseComplete struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*ParseComplete) Backend() {}

// Decode decodes src into dst.
func (dst *ParseComplete) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "ParseComplete", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

// Encode encodes src into dst, including the header.
func (src *ParseComplete) Encode(dst []byte) []byte {
	dst = append(dst, '1')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// BindComplete acknowledges a Bind.
type BindComplete struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*BindComplete) Backend() {}

// Decode decodes src into dst.
func (dst *BindComplete) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "BindComplete", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

// Encode encodes src into dst, including the header.
func (src *BindComplete) Encode(dst []byte) []byte {
	dst = append(dst, '2')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// CloseComplete acknowledges a Close.
type CloseComplete struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*CloseComplete) Backend() {}

// Decode decodes src into dst.
func (dst *CloseComplete) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "CloseComplete", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

// Encode encodes src into dst, including the header.
func (src *CloseComplete) Encode(dst []byte) []byte {
	dst = append(dst, '3')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// EmptyQueryResponse is the result of an empty query string.
type EmptyQueryResponse struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*EmptyQueryResponse) Backend() {}

// Decode decodes src into dst.
func (dst *EmptyQueryResponse) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "EmptyQueryResponse", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

// Encode encodes src into dst, including the header.
func (src *EmptyQueryResponse) Encode(dst []byte) []byte {
	dst = append(dst, 'I')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// NoData reports that a described statement or portal returns no rows.
type NoData struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*NoData) Backend() {}

// Decode decodes src into dst.
func (dst *NoData) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "NoData", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

// Encode encodes src into dst, including the header.
func (src *NoData) Encode(dst []byte) []byte {
	dst = append(dst, 'n')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}

// PortalSuspended reports that an Execute row limit was reached.
type PortalSuspended struct{}

// Backend identifies this message as sendable by the PostgreSQL backend.
func (*PortalSuspended) Backend() {}

// Decode decodes src into dst.
func (dst *PortalSuspended) Decode(src []byte) error {
	if len(src) != 0 {
		return &invalidMessageLenErr{messageType: "PortalSuspended", expectedLen: 0, actualLen: len(src)}
	}
	return nil
}

// Encode encodes src into dst, including the header.
func (src *PortalSuspended) Encode(dst []byte) []byte {
	dst = append(dst, 's')
	dst = pgio.AppendInt32(dst, 4)
	return dst
}
