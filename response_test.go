package pgduct

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgduct/pgduct/pgwire"
)

func TestResponseDeliversFramesInOrder(t *testing.T) {
	t.Parallel()

	sink := newResponseSink()
	sink.push((&pgwire.CommandComplete{CommandTag: []byte("INSERT 0 1")}).Encode(nil))
	sink.push((&pgwire.ReadyForQuery{TxStatus: 'I'}).Encode(nil))
	sink.complete()

	res := newResponse(sink)
	ctx := context.Background()

	msg, err := res.Receive(ctx)
	require.NoError(t, err)
	cc, ok := msg.(*pgwire.CommandComplete)
	require.True(t, ok)
	assert.Equal(t, uint64(1), cc.RowsAffected())

	msg, err = res.Receive(ctx)
	require.NoError(t, err)
	require.IsType(t, &pgwire.ReadyForQuery{}, msg)

	_, err = res.Receive(ctx)
	require.ErrorIs(t, err, ErrConnClosed)
}

func TestResponseFailureKeepsBufferedFrames(t *testing.T) {
	t.Parallel()

	failure := errors.New("connection lost")
	sink := newResponseSink()
	sink.push((&pgwire.CommandComplete{CommandTag: []byte("SELECT 1")}).Encode(nil))
	sink.fail(failure)

	res := newResponse(sink)
	ctx := context.Background()

	msg, err := res.Receive(ctx)
	require.NoError(t, err)
	require.IsType(t, &pgwire.CommandComplete{}, msg)

	_, err = res.Receive(ctx)
	require.ErrorIs(t, err, failure)
}

func TestResponseReceiveBlocksUntilPush(t *testing.T) {
	t.Parallel()

	sink := newResponseSink()
	res := newResponse(sink)

	go func() {
		sink.push((&pgwire.ReadyForQuery{TxStatus: 'I'}).Encode(nil))
		sink.complete()
	}()

	msg, err := res.Receive(context.Background())
	require.NoError(t, err)
	require.IsType(t, &pgwire.ReadyForQuery{}, msg)
}

func TestResponseReceiveContextCancellation(t *testing.T) {
	t.Parallel()

	res := newResponse(newResponseSink())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := res.Receive(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResponseReceiveFrameIsStable(t *testing.T) {
	t.Parallel()

	sink := newResponseSink()
	first := (&pgwire.ParameterStatus{Name: "a", Value: "1"}).Encode(nil)
	second := (&pgwire.ParameterStatus{Name: "b", Value: "2"}).Encode(nil)
	sink.push(first)
	sink.push(second)
	sink.complete()

	res := newResponse(sink)
	ctx := context.Background()

	f1, err := res.ReceiveFrame(ctx)
	require.NoError(t, err)
	f2, err := res.ReceiveFrame(ctx)
	require.NoError(t, err)

	// Raw frames are handed out as-is, not copied into a shared buffer.
	assert.Equal(t, first, f1)
	assert.Equal(t, second, f2)
}

func TestResponseReadyForQueryReportsFirstError(t *testing.T) {
	t.Parallel()

	sink := newResponseSink()
	sink.push((&pgwire.ErrorResponse{Severity: "ERROR", Code: "42601", Message: "syntax error"}).Encode(nil))
	sink.push((&pgwire.ErrorResponse{Severity: "ERROR", Code: "25P02", Message: "aborted"}).Encode(nil))
	sink.push((&pgwire.ReadyForQuery{TxStatus: 'E'}).Encode(nil))
	sink.complete()

	err := newResponse(sink).ReadyForQuery(context.Background())
	var pgErr *PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "42601", pgErr.Code)
}

func TestResponseReadyForQuerySuccess(t *testing.T) {
	t.Parallel()

	sink := newResponseSink()
	sink.push((&pgwire.CommandComplete{CommandTag: []byte("CREATE TABLE")}).Encode(nil))
	sink.push((&pgwire.ReadyForQuery{TxStatus: 'I'}).Encode(nil))
	sink.complete()

	require.NoError(t, newResponse(sink).ReadyForQuery(context.Background()))
}
