// Package pgwire is an encoder and decoder of the PostgreSQL wire protocol version 3.
//
// Frontend messages encode themselves by appending to a caller supplied []byte.
// Backend messages decode from a []byte frame without copying payload bytes; the
// decoded message aliases the frame and is valid for as long as the frame is.
package pgwire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtocolVersionNumber is the PostgreSQL protocol version implemented by this package.
const ProtocolVersionNumber = 196608 // 3.0

// HeaderLen is the length of a message header: 1 byte tag + 4 byte inclusive length.
const HeaderLen = 5

// Message is the interface implemented by an object that can encode and decode itself
// as a PostgreSQL wire protocol message.
type Message interface {
	// Decode is allowed and expected to retain a reference to src.
	Decode(src []byte) error

	// Encode appends itself to dst, including the 1 byte message type identifier and
	// the 4 byte message length, and returns the extended buffer.
	Encode(dst []byte) []byte
}

// FrontendMessage is a message sent by the frontend (i.e. the client).
type FrontendMessage interface {
	Message
	Frontend()
}

// BackendMessage is a message sent by the backend (i.e. the server).
type BackendMessage interface {
	Message
	Backend()
}

// Backend message type identifiers.
const (
	TagAuthentication       = 'R'
	TagBackendKeyData       = 'K'
	TagBindComplete         = '2'
	TagCloseComplete        = '3'
	TagCommandComplete      = 'C'
	TagDataRow              = 'D'
	TagEmptyQueryResponse   = 'I'
	TagErrorResponse        = 'E'
	TagNoData               = 'n'
	TagNoticeResponse       = 'N'
	TagNotificationResponse = 'A'
	TagParameterDescription = 't'
	TagParameterStatus      = 'S'
	TagParseComplete        = '1'
	TagPortalSuspended      = 's'
	TagReadyForQuery        = 'Z'
	TagRowDescription       = 'T'
)

var errNegativeLength = errors.New("pgwire: invalid message length")

// FrameSize inspects the front of buf for one complete message and returns its total
// size including the header. It returns 0 when buf does not yet hold a complete
// message. An inclusive length below 4 is a protocol violation.
func FrameSize(buf []byte) (int, error) {
	if len(buf) < HeaderLen {
		return 0, nil
	}

	msgLen := int(int32(binary.BigEndian.Uint32(buf[1:])))
	if msgLen < 4 {
		return 0, fmt.Errorf("pgwire: invalid message length: %d", msgLen)
	}

	frameLen := msgLen + 1
	if len(buf) < frameLen {
		return 0, nil
	}
	return frameLen, nil
}

// IsAsync reports whether tag identifies a backend message that is not part of any
// request/response exchange (notification, notice or run-time parameter change).
func IsAsync(tag byte) bool {
	switch tag {
	case TagNotificationResponse, TagNoticeResponse, TagParameterStatus:
		return true
	}
	return false
}

// IsTerminal reports whether tag marks the end of a request's response sequence.
// PostgreSQL answers every Query and every extended protocol Sync with exactly one
// ReadyForQuery once the request is fully processed.
func IsTerminal(tag byte) bool {
	return tag == TagReadyForQuery
}

type invalidMessageFormatErr struct {
	messageType string
}

func (e *invalidMessageFormatErr) Error() string {
	return fmt.Sprintf("%s body is invalid", e.messageType)
}

type invalidMessageLenErr struct {
	messageType string
	expectedLen int
	actualLen   int
}

func (e *invalidMessageLenErr) Error() string {
	return fmt.Sprintf("%s body must have length of %d, but it is %d", e.messageType, e.expectedLen, e.actualLen)
}
