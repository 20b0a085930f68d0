package pgduct

import (
	"context"

	"github.com/pgduct/pgduct/pgwire"
)

type streamState int

const (
	streamAwaitDescription streamState = iota
	streamRows
	streamDone
)

// RowStream drives one result set to completion. It decodes row frames lazily
// and reuses one Row and one range vector across the whole set, so iterating
// allocates only what the getters materialize.
type RowStream struct {
	res   *Response
	state streamState
	row   Row
	tag   string
	err   error
	// extended permits the extended-protocol acknowledgements (ParseComplete,
	// BindComplete, ParameterDescription, NoData) during the description phase.
	// Simple-protocol results never carry them.
	extended bool
	terminal bool
}

func newRowStream(res *Response, columns []Column) *RowStream {
	rs := &RowStream{res: res, extended: true}
	rs.row.columns = columns
	return rs
}

// Next advances to the next row, reporting whether one is available. The row is
// only valid until the next call to Next or Close. When Next returns false,
// consult Err.
func (rs *RowStream) Next(ctx context.Context) bool {
	if rs.state == streamDone {
		return false
	}

	for {
		frame, err := rs.res.ReceiveFrame(ctx)
		if err != nil {
			rs.err = err
			rs.state = streamDone
			return false
		}

		body := frame[pgwire.HeaderLen:]
		switch frame[0] {
		case pgwire.TagDataRow:
			rs.row.ranges, err = pgwire.AppendValueRanges(body, rs.row.ranges)
			if err != nil {
				rs.err = err
				rs.state = streamDone
				return false
			}
			rs.row.body = body
			rs.state = streamRows
			return true

		case pgwire.TagRowDescription:
			if rs.state != streamAwaitDescription {
				rs.err = &UnexpectedMessageError{Received: frame[0]}
				rs.state = streamDone
				return false
			}
			var rd pgwire.RowDescription
			if err := rd.Decode(body); err != nil {
				rs.err = err
				rs.state = streamDone
				return false
			}
			rs.row.columns = columnsFromFields(rd.Fields)

		case pgwire.TagParseComplete, pgwire.TagBindComplete, pgwire.TagParameterDescription, pgwire.TagNoData:
			if !rs.extended || rs.state != streamAwaitDescription {
				rs.err = &UnexpectedMessageError{Received: frame[0]}
				rs.state = streamDone
				return false
			}

		case pgwire.TagCommandComplete:
			var cc pgwire.CommandComplete
			if err := cc.Decode(body); err == nil {
				rs.tag = string(cc.CommandTag)
			}
			rs.state = streamDone
			return false

		case pgwire.TagEmptyQueryResponse, pgwire.TagPortalSuspended:
			rs.state = streamDone
			return false

		case pgwire.TagReadyForQuery:
			rs.state = streamDone
			rs.terminal = true
			return false

		case pgwire.TagErrorResponse:
			var er pgwire.ErrorResponse
			if derr := er.Decode(body); derr != nil {
				rs.err = derr
			} else {
				rs.err = errorResponseToPgError(&er)
			}
			rs.state = streamDone
			return false

		default:
			rs.err = &UnexpectedMessageError{Received: frame[0]}
			rs.state = streamDone
			return false
		}
	}
}

// Row returns the current row. It is only valid until the next call to Next or
// Close.
func (rs *RowStream) Row() *Row { return &rs.row }

// Err returns the error that ended the stream, if any.
func (rs *RowStream) Err() error { return rs.err }

// CommandTag returns the command completion tag (e.g. "SELECT 1") once the
// stream has finished.
func (rs *RowStream) CommandTag() string { return rs.tag }

// Close drains the response through its terminal ReadyForQuery so the
// connection's reply sequence stays aligned, and returns the stream's error.
func (rs *RowStream) Close(ctx context.Context) error {
	rs.state = streamDone
	for !rs.terminal {
		frame, err := rs.res.ReceiveFrame(ctx)
		if err != nil {
			if rs.err == nil && err != ErrConnClosed {
				rs.err = err
			}
			break
		}
		switch frame[0] {
		case pgwire.TagReadyForQuery:
			rs.terminal = true
		case pgwire.TagErrorResponse:
			if rs.err == nil {
				var er pgwire.ErrorResponse
				if derr := er.Decode(frame[pgwire.HeaderLen:]); derr == nil {
					rs.err = errorResponseToPgError(&er)
				}
			}
		}
	}
	return rs.err
}

// SimpleRowStream drives the result of a simple query protocol request. Rows are
// SimpleRow: text-only access, no declared-type checking.
type SimpleRowStream struct {
	inner RowStream
	row   SimpleRow
}

func newSimpleRowStream(res *Response) *SimpleRowStream {
	return &SimpleRowStream{inner: RowStream{res: res}}
}

// Next advances to the next row, reporting whether one is available.
func (s *SimpleRowStream) Next(ctx context.Context) bool {
	if !s.inner.Next(ctx) {
		return false
	}
	s.row.Row = s.inner.row
	return true
}

// Row returns the current row. It is only valid until the next call to Next or
// Close.
func (s *SimpleRowStream) Row() *SimpleRow { return &s.row }

// Err returns the error that ended the stream, if any.
func (s *SimpleRowStream) Err() error { return s.inner.Err() }

// CommandTag returns the command completion tag once the stream has finished.
func (s *SimpleRowStream) CommandTag() string { return s.inner.CommandTag() }

// Close drains the response through its terminal ReadyForQuery and returns the
// stream's error.
func (s *SimpleRowStream) Close(ctx context.Context) error { return s.inner.Close(ctx) }
