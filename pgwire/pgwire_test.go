package pgwire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgduct/pgduct/pgwire"
)

func TestFrameSize(t *testing.T) {
	t.Parallel()

	frame := (&pgwire.ReadyForQuery{TxStatus: 'I'}).Encode(nil)
	require.Equal(t, 6, len(frame))

	// Too short to hold a header.
	size, err := pgwire.FrameSize(frame[:4])
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	// Header present but body incomplete.
	size, err = pgwire.FrameSize(frame[:5])
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	size, err = pgwire.FrameSize(frame)
	require.NoError(t, err)
	assert.Equal(t, 6, size)

	// A second message appended does not change the first frame's size.
	two := (&pgwire.ReadyForQuery{TxStatus: 'T'}).Encode(frame)
	size, err = pgwire.FrameSize(two)
	require.NoError(t, err)
	assert.Equal(t, 6, size)

	// An inclusive length below 4 is a protocol violation.
	bad := []byte{'Z', 0, 0, 0, 3, 0}
	_, err = pgwire.FrameSize(bad)
	require.Error(t, err)
}

func TestAppendValueRanges(t *testing.T) {
	t.Parallel()

	row := &pgwire.DataRow{Values: [][]byte{[]byte("abc"), nil, {}}}
	frame := row.Encode(nil)
	body := frame[pgwire.HeaderLen:]

	ranges, err := pgwire.AppendValueRanges(body, nil)
	require.NoError(t, err)
	require.Len(t, ranges, 3)

	require.False(t, ranges[0].IsNull())
	assert.Equal(t, []byte("abc"), body[ranges[0].Start:ranges[0].End])

	assert.True(t, ranges[1].IsNull())

	require.False(t, ranges[2].IsNull())
	assert.Equal(t, 0, ranges[2].End-ranges[2].Start)
}

func TestAppendValueRangesReuse(t *testing.T) {
	t.Parallel()

	wide := (&pgwire.DataRow{Values: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}).Encode(nil)
	narrow := (&pgwire.DataRow{Values: [][]byte{[]byte("z")}}).Encode(nil)

	ranges, err := pgwire.AppendValueRanges(wide[pgwire.HeaderLen:], nil)
	require.NoError(t, err)
	require.Len(t, ranges, 3)

	// A narrower row reuses the slice in place instead of reallocating.
	reused, err := pgwire.AppendValueRanges(narrow[pgwire.HeaderLen:], ranges)
	require.NoError(t, err)
	require.Len(t, reused, 1)
	assert.Same(t, &ranges[0], &reused[0])
	assert.Equal(t, []byte("z"), narrow[pgwire.HeaderLen:][reused[0].Start:reused[0].End])
}

func TestAppendValueRangesTruncatedBody(t *testing.T) {
	t.Parallel()

	frame := (&pgwire.DataRow{Values: [][]byte{[]byte("abcdef")}}).Encode(nil)
	body := frame[pgwire.HeaderLen:]

	_, err := pgwire.AppendValueRanges(body[:len(body)-1], nil)
	require.Error(t, err)
}

func TestDataRowNegativeValueLength(t *testing.T) {
	t.Parallel()

	// One column whose length header is -2: only -1 means null, anything else
	// below zero is malformed.
	body := []byte{0x00, 0x01, 0xFF, 0xFF, 0xFF, 0xFE}

	var dr pgwire.DataRow
	require.Error(t, dr.Decode(body))

	ranges, err := pgwire.AppendValueRanges(body, nil)
	require.Error(t, err)
	for _, r := range ranges {
		assert.LessOrEqual(t, r.Start, r.End)
	}
}

func TestReaderReceive(t *testing.T) {
	t.Parallel()

	var r pgwire.Reader

	frame := (&pgwire.CommandComplete{CommandTag: []byte("SELECT 3")}).Encode(nil)
	msg, err := r.Receive(frame)
	require.NoError(t, err)
	cc, ok := msg.(*pgwire.CommandComplete)
	require.True(t, ok)
	assert.Equal(t, []byte("SELECT 3"), cc.CommandTag)
	assert.Equal(t, uint64(3), cc.RowsAffected())

	frame = (&pgwire.RowDescription{Fields: []pgwire.FieldDescription{
		{Name: []byte("id"), DataTypeOID: 23},
		{Name: []byte("name"), DataTypeOID: 25},
	}}).Encode(nil)
	msg, err = r.Receive(frame)
	require.NoError(t, err)
	rd, ok := msg.(*pgwire.RowDescription)
	require.True(t, ok)
	require.Len(t, rd.Fields, 2)
	assert.Equal(t, []byte("id"), rd.Fields[0].Name)
	assert.Equal(t, uint32(23), rd.Fields[0].DataTypeOID)
	assert.Equal(t, []byte("name"), rd.Fields[1].Name)

	_, err = r.Receive([]byte{'@', 0, 0, 0, 4})
	require.Error(t, err)
}

func TestReaderFlyweightReuse(t *testing.T) {
	t.Parallel()

	var r pgwire.Reader

	first, err := r.Receive((&pgwire.ParameterStatus{Name: "TimeZone", Value: "UTC"}).Encode(nil))
	require.NoError(t, err)

	second, err := r.Receive((&pgwire.ParameterStatus{Name: "DateStyle", Value: "ISO"}).Encode(nil))
	require.NoError(t, err)

	// Flyweights: both results are the same object, holding the latest decode.
	assert.Same(t, first, second)
	assert.Equal(t, "DateStyle", second.(*pgwire.ParameterStatus).Name)
}

func TestIsAsync(t *testing.T) {
	t.Parallel()

	assert.True(t, pgwire.IsAsync(pgwire.TagNotificationResponse))
	assert.True(t, pgwire.IsAsync(pgwire.TagNoticeResponse))
	assert.True(t, pgwire.IsAsync(pgwire.TagParameterStatus))
	assert.False(t, pgwire.IsAsync(pgwire.TagDataRow))
	assert.False(t, pgwire.IsAsync(pgwire.TagReadyForQuery))
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, pgwire.IsTerminal(pgwire.TagReadyForQuery))
	assert.False(t, pgwire.IsTerminal(pgwire.TagCommandComplete))
}

func TestQueryRoundTrip(t *testing.T) {
	t.Parallel()

	frame := (&pgwire.Query{String: "select 1"}).Encode(nil)
	require.EqualValues(t, 'Q', frame[0])

	var q pgwire.Query
	require.NoError(t, q.Decode(frame[pgwire.HeaderLen:]))
	assert.Equal(t, "select 1", q.String)
}

func TestErrorResponseRoundTrip(t *testing.T) {
	t.Parallel()

	src := &pgwire.ErrorResponse{
		Severity: "ERROR",
		Code:     "42703",
		Message:  `column "foo" does not exist`,
		Position: 8,
	}
	frame := src.Encode(nil)

	var dst pgwire.ErrorResponse
	require.NoError(t, dst.Decode(frame[pgwire.HeaderLen:]))
	assert.Equal(t, "ERROR", dst.Severity)
	assert.Equal(t, "42703", dst.Code)
	assert.Equal(t, `column "foo" does not exist`, dst.Message)
	assert.Equal(t, int32(8), dst.Position)
}

func TestCancelRequestRoundTrip(t *testing.T) {
	t.Parallel()

	src := &pgwire.CancelRequest{ProcessID: 1234, SecretKey: 5678}
	buf := src.Encode(nil)
	require.Equal(t, 16, len(buf))

	var dst pgwire.CancelRequest
	require.NoError(t, dst.Decode(buf[4:]))
	assert.Equal(t, uint32(1234), dst.ProcessID)
	assert.Equal(t, uint32(5678), dst.SecretKey)
}
