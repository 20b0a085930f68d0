package pgwire

import (
	"fmt"
)

// Reader decodes backend message frames. The message flyweights are reused: a
// returned message is only valid until the next call to Receive.
type Reader struct {
	authentication       Authentication
	backendKeyData       BackendKeyData
	bindComplete         BindComplete
	closeComplete        CloseComplete
	commandComplete      CommandComplete
	dataRow              DataRow
	emptyQueryResponse   EmptyQueryResponse
	errorResponse        ErrorResponse
	noData               NoData
	noticeResponse       NoticeResponse
	notificationResponse NotificationResponse
	parameterDescription ParameterDescription
	parameterStatus      ParameterStatus
	parseComplete        ParseComplete
	portalSuspended      PortalSuspended
	readyForQuery        ReadyForQuery
	rowDescription       RowDescription
}

// Receive decodes frame, which must be one complete message including the 5 byte
// header (as produced by FrameSize splitting). The returned message may alias frame
// and is only valid until the next call to Receive.
func (r *Reader) Receive(frame []byte) (BackendMessage, error) {
	if len(frame) < HeaderLen {
		return nil, &invalidMessageFormatErr{messageType: "backend frame"}
	}

	var msg BackendMessage
	switch frame[0] {
	case TagAuthentication:
		msg = &r.authentication
	case TagBackendKeyData:
		msg = &r.backendKeyData
	case TagBindComplete:
		msg = &r.bindComplete
	case TagCloseComplete:
		msg = &r.closeComplete
	case TagCommandComplete:
		msg = &r.commandComplete
	case TagDataRow:
		msg = &r.dataRow
	case TagEmptyQueryResponse:
		msg = &r.emptyQueryResponse
	case TagErrorResponse:
		msg = &r.errorResponse
	case TagNoData:
		msg = &r.noData
	case TagNoticeResponse:
		msg = &r.noticeResponse
	case TagNotificationResponse:
		msg = &r.notificationResponse
	case TagParameterDescription:
		msg = &r.parameterDescription
	case TagParameterStatus:
		msg = &r.parameterStatus
	case TagParseComplete:
		msg = &r.parseComplete
	case TagPortalSuspended:
		msg = &r.portalSuspended
	case TagReadyForQuery:
		msg = &r.readyForQuery
	case TagRowDescription:
		msg = &r.rowDescription
	default:
		return nil, fmt.Errorf("unknown message type: %c", frame[0])
	}

	err := msg.Decode(frame[HeaderLen:])
	if err != nil {
		return nil, err
	}

	return msg, nil
}
