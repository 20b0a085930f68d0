package pgduct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgduct/pgduct/pgwire"
)

// frameScanner splits the byte stream read from a test server's end of a pipe
// into complete backend/frontend frames.
type frameScanner struct {
	r   io.Reader
	buf []byte
}

func (fs *frameScanner) next() ([]byte, error) {
	for {
		size, err := pgwire.FrameSize(fs.buf)
		if err != nil {
			return nil, err
		}
		if size > 0 {
			frame := append([]byte(nil), fs.buf[:size]...)
			fs.buf = fs.buf[size:]
			return frame, nil
		}

		chunk := make([]byte, 1024)
		n, rerr := fs.r.Read(chunk)
		fs.buf = append(fs.buf, chunk[:n]...)
		if n == 0 && rerr != nil {
			return nil, rerr
		}
	}
}

func (fs *frameScanner) until(tag byte) ([][]byte, error) {
	var frames [][]byte
	for {
		f, err := fs.next()
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		if f[0] == tag {
			return frames, nil
		}
	}
}

// flakyConn fails every Write once tripped, leaving the read side intact.
type flakyConn struct {
	net.Conn
	failWrites atomic.Bool
}

func (c *flakyConn) Write(p []byte) (int, error) {
	if c.failWrites.Load() {
		return 0, errors.New("socket write failed")
	}
	return c.Conn.Write(p)
}

func sendQuery(t *testing.T, tx *clientTx, sql string) *Response {
	t.Helper()
	sink := newResponseSink()
	buf := (&pgwire.Query{String: sql}).Encode(nil)
	require.NoError(t, tx.send(request{buf: buf, sink: sink}))
	return newResponse(sink)
}

func TestPipelinedRequestsAnswerInOrder(t *testing.T) {
	t.Parallel()

	clientEnd, serverEnd := net.Pipe()
	c := newConn[net.Conn](clientEnd, newSessionInfo(), nil, LogLevelNone)
	tx := c.tx()
	ctx := context.Background()

	runErr := make(chan error, 1)
	go func() { runErr <- c.run(ctx) }()

	const n = 5
	sawTerminate := make(chan bool, 1)
	go func() {
		fs := &frameScanner{r: serverEnd}
		for i := 0; i < n; i++ {
			frame, err := fs.next()
			if err != nil || frame[0] != 'Q' {
				sawTerminate <- false
				return
			}
			var q pgwire.Query
			if q.Decode(frame[pgwire.HeaderLen:]) != nil {
				sawTerminate <- false
				return
			}
			out := (&pgwire.CommandComplete{CommandTag: []byte(q.String)}).Encode(nil)
			out = (&pgwire.ReadyForQuery{TxStatus: 'I'}).Encode(out)
			if _, err := serverEnd.Write(out); err != nil {
				sawTerminate <- false
				return
			}
		}
		frame, err := fs.next()
		sawTerminate <- err == nil && frame[0] == 'X'
	}()

	// All requests go out before any response is read.
	resps := make([]*Response, n)
	for i := range resps {
		resps[i] = sendQuery(t, tx, fmt.Sprintf("select %d", i))
	}

	for i, res := range resps {
		msg, err := res.Receive(ctx)
		require.NoError(t, err)
		cc, ok := msg.(*pgwire.CommandComplete)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("select %d", i), string(cc.CommandTag))

		msg, err = res.Receive(ctx)
		require.NoError(t, err)
		_, ok = msg.(*pgwire.ReadyForQuery)
		require.True(t, ok)

		_, err = res.Receive(ctx)
		require.ErrorIs(t, err, ErrConnClosed)
	}

	tx.close()
	require.NoError(t, <-runErr)
	assert.True(t, <-sawTerminate)

	require.ErrorIs(t, tx.send(request{sink: newResponseSink()}), ErrConnClosed)
}

func TestWriteFailureStillServesQueuedReplies(t *testing.T) {
	t.Parallel()

	clientEnd, serverEnd := net.Pipe()
	fc := &flakyConn{Conn: clientEnd}
	c := newConn[net.Conn](fc, newSessionInfo(), nil, LogLevelNone)
	tx := c.tx()
	ctx := context.Background()

	runErr := make(chan error, 1)
	go func() { runErr <- c.run(ctx) }()

	gotFirst := make(chan struct{})
	replyNow := make(chan struct{})
	go func() {
		fs := &frameScanner{r: serverEnd}
		if _, err := fs.next(); err != nil {
			return
		}
		close(gotFirst)
		<-replyNow
		out := (&pgwire.CommandComplete{CommandTag: []byte("SELECT 1")}).Encode(nil)
		out = (&pgwire.ReadyForQuery{TxStatus: 'I'}).Encode(out)
		serverEnd.Write(out)
		serverEnd.Close()
	}()

	res1 := sendQuery(t, tx, "select 1")
	<-gotFirst

	fc.failWrites.Store(true)
	res2 := sendQuery(t, tx, "select 2")

	// The failed write half-closes the connection for new requests.
	require.Eventually(t, tx.isClosed, 5*time.Second, time.Millisecond)

	sink3 := newResponseSink()
	require.ErrorIs(t, tx.send(request{sink: sink3}), ErrConnClosed)

	// The reply to the request that was written before the failure still arrives.
	close(replyNow)
	msg, err := res1.Receive(ctx)
	require.NoError(t, err)
	require.IsType(t, &pgwire.CommandComplete{}, msg)
	msg, err = res1.Receive(ctx)
	require.NoError(t, err)
	require.IsType(t, &pgwire.ReadyForQuery{}, msg)

	// The request lost to the failed write ends with the read side's error once
	// the server goes away, not a hang.
	_, err = res2.Receive(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrConnClosed)

	require.Error(t, <-runErr)
}

func TestBufferedRequestsRejectedAfterWriteFailure(t *testing.T) {
	t.Parallel()

	clientEnd, serverEnd := net.Pipe()
	fc := &flakyConn{Conn: clientEnd}
	fc.failWrites.Store(true)
	c := newConn[net.Conn](fc, newSessionInfo(), nil, LogLevelNone)
	tx := c.tx()
	ctx := context.Background()

	// Both requests sit in the channel buffer before the driver loop runs. The
	// first one trips the write failure; the second must be rejected, not hang.
	res1 := sendQuery(t, tx, "select 1")
	res2 := sendQuery(t, tx, "select 2")

	runErr := make(chan error, 1)
	go func() { runErr <- c.run(ctx) }()

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := res2.Receive(recvCtx)
	require.ErrorIs(t, err, ErrConnClosed)

	// The first request stays queued for the read side and resolves with the
	// read error once the server goes away.
	serverEnd.Close()
	_, err = res1.Receive(recvCtx)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrConnClosed)
	require.Error(t, <-runErr)
}

func TestReplyWithEmptyQueueIsFatal(t *testing.T) {
	t.Parallel()

	clientEnd, serverEnd := net.Pipe()
	c := newConn[net.Conn](clientEnd, newSessionInfo(), nil, LogLevelNone)
	ctx := context.Background()

	runErr := make(chan error, 1)
	go func() { runErr <- c.run(ctx) }()

	_, err := serverEnd.Write((&pgwire.ReadyForQuery{TxStatus: 'I'}).Encode(nil))
	require.NoError(t, err)

	err = <-runErr
	var ume *UnexpectedMessageError
	require.ErrorAs(t, err, &ume)
	assert.EqualValues(t, 'Z', ume.Received)
}

func TestOutOfBandMessages(t *testing.T) {
	t.Parallel()

	clientEnd, serverEnd := net.Pipe()
	session := newSessionInfo()
	c := newConn[net.Conn](clientEnd, session, nil, LogLevelNone)
	tx := c.tx()
	ctx := context.Background()

	sawTerminate := make(chan bool, 1)
	go func() {
		out := (&pgwire.NotificationResponse{PID: 7, Channel: "jobs", Payload: "wake"}).Encode(nil)
		out = (&pgwire.ParameterStatus{Name: "TimeZone", Value: "UTC"}).Encode(out)
		if _, err := serverEnd.Write(out); err != nil {
			sawTerminate <- false
			return
		}
		fs := &frameScanner{r: serverEnd}
		frame, err := fs.next()
		sawTerminate <- err == nil && frame[0] == 'X'
	}()

	msg, err := c.next(ctx)
	require.NoError(t, err)
	nr, ok := msg.(*pgwire.NotificationResponse)
	require.True(t, ok)
	assert.Equal(t, "jobs", nr.Channel)
	assert.Equal(t, "wake", nr.Payload)

	msg, err = c.next(ctx)
	require.NoError(t, err)
	ps, ok := msg.(*pgwire.ParameterStatus)
	require.True(t, ok)
	assert.Equal(t, "TimeZone", ps.Name)
	assert.Equal(t, "UTC", session.parameter("TimeZone"))

	tx.close()
	_, err = c.next(ctx)
	require.ErrorIs(t, err, ErrConnClosed)
	assert.True(t, <-sawTerminate)

	// The driver stays finished once it has finished.
	_, err = c.next(ctx)
	require.ErrorIs(t, err, ErrConnClosed)
}

func TestReadFailureFailsAllQueuedSinks(t *testing.T) {
	t.Parallel()

	clientEnd, serverEnd := net.Pipe()
	c := newConn[net.Conn](clientEnd, newSessionInfo(), nil, LogLevelNone)
	tx := c.tx()
	ctx := context.Background()

	runErr := make(chan error, 1)
	go func() { runErr <- c.run(ctx) }()

	gotBoth := make(chan struct{})
	go func() {
		fs := &frameScanner{r: serverEnd}
		fs.next()
		fs.next()
		close(gotBoth)
		serverEnd.Close()
	}()

	res1 := sendQuery(t, tx, "select 1")
	res2 := sendQuery(t, tx, "select 2")
	<-gotBoth

	_, err1 := res1.Receive(ctx)
	require.Error(t, err1)
	_, err2 := res2.Receive(ctx)
	require.Error(t, err2)
	require.Error(t, <-runErr)
}

func TestDriverContextCancellation(t *testing.T) {
	t.Parallel()

	clientEnd, serverEnd := net.Pipe()
	defer serverEnd.Close()
	c := newConn[net.Conn](clientEnd, newSessionInfo(), nil, LogLevelNone)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
