package pgduct

import (
	"context"
	"net"
	"sync"

	"github.com/pgduct/pgduct/internal/iobufpool"
	"github.com/pgduct/pgduct/pgwire"
)

const readChunkSize = 8192

// readEvent is one item produced by the read goroutine: a complete backend frame
// or the error that ended reading.
type readEvent struct {
	frame []byte
	err   error
}

// sessionInfo carries server-reported session state. The driver writes it, the
// client reads it, so access is lock-guarded.
type sessionInfo struct {
	mu             sync.Mutex
	parameters     map[string]string
	backendKeyData pgwire.BackendKeyData
}

func newSessionInfo() *sessionInfo {
	return &sessionInfo{parameters: make(map[string]string)}
}

func (si *sessionInfo) setParameter(name, value string) {
	si.mu.Lock()
	si.parameters[name] = value
	si.mu.Unlock()
}

func (si *sessionInfo) parameter(name string) string {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.parameters[name]
}

func (si *sessionInfo) setBackendKeyData(kd pgwire.BackendKeyData) {
	si.mu.Lock()
	si.backendKeyData = kd
	si.mu.Unlock()
}

func (si *sessionInfo) keyData() pgwire.BackendKeyData {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.backendKeyData
}

// clientTx is the client's handle to a driver: the request channel plus the two
// lifecycle signals. quit is closed by the client to begin an orderly shutdown;
// closed is closed by the driver once it no longer accepts requests.
type clientTx struct {
	reqCh  chan request
	quit   chan struct{}
	closed chan struct{}

	quitOnce sync.Once
}

// send submits one request. It blocks while the request channel's buffer is full
// and fails with ErrConnClosed once the driver has stopped accepting work.
func (tx *clientTx) send(req request) error {
	select {
	case <-tx.closed:
		return ErrConnClosed
	default:
	}

	select {
	case tx.reqCh <- req:
		return nil
	case <-tx.closed:
		return ErrConnClosed
	}
}

// close begins an orderly shutdown. Requests already submitted still complete.
func (tx *clientTx) close() {
	tx.quitOnce.Do(func() { close(tx.quit) })
}

func (tx *clientTx) isClosed() bool {
	select {
	case <-tx.closed:
		return true
	default:
		return false
	}
}

// conn is the connection driver: it exclusively owns the socket and serializes
// every read and write through next. Callers never touch conn directly; they
// submit requests through a clientTx and read responses from their sinks.
//
// C is the concrete stream type. Keeping it a type parameter instead of a net.Conn
// interface value lets each Driver variant run a monomorphic decode loop; dynamic
// dispatch happens once per Next or Run call, not per frame.
type conn[C net.Conn] struct {
	netConn  C
	session  *sessionInfo
	logger   Logger
	logLevel LogLevel

	reqCh    chan request
	quit     chan struct{}
	closed   chan struct{}
	readCh   chan readEvent
	readDone chan struct{}

	writeBuf []byte
	// writeMem is the pooled buffer writeBuf started from. writeBuf may outgrow it.
	writeMem []byte

	// queue is the FIFO of sinks awaiting backend messages. Its front entry always
	// corresponds to the reply currently being decoded; entries are popped only on
	// their terminal ReadyForQuery.
	queue []*responseSink

	oobReader pgwire.Reader

	closeOnce sync.Once

	// loop state, touched only by the goroutine calling next
	draining    bool
	writeClosed bool
	finished    bool
	finalErr    error
}

func newConn[C net.Conn](netConn C, session *sessionInfo, logger Logger, logLevel LogLevel) *conn[C] {
	writeMem := iobufpool.Get(readChunkSize)
	c := &conn[C]{
		netConn:  netConn,
		session:  session,
		logger:   logger,
		logLevel: logLevel,
		reqCh:    make(chan request, 64),
		quit:     make(chan struct{}),
		closed:   make(chan struct{}),
		readCh:   make(chan readEvent, 32),
		readDone: make(chan struct{}),
		writeBuf: writeMem[:0],
		writeMem: writeMem,
	}
	go c.readLoop()
	return c
}

func (c *conn[C]) tx() *clientTx {
	return &clientTx{reqCh: c.reqCh, quit: c.quit, closed: c.closed}
}

func (c *conn[C]) shouldLog(lvl LogLevel) bool {
	return c.logger != nil && c.logLevel >= lvl
}

func (c *conn[C]) log(lvl LogLevel, msg string, data map[string]any) {
	if c.shouldLog(lvl) {
		c.logger.Log(context.Background(), lvl, msg, data)
	}
}

// readLoop reads from the socket and splits the byte stream into complete frames.
// The buffer marches forward: a delivered frame is split off the front and the
// remainder re-sliced past it, so later reads append strictly after every frame
// already handed out and never overwrite one. The buffer is reallocated, with only
// the unconsumed tail copied, when spare capacity runs out.
func (c *conn[C]) readLoop() {
	var buf []byte
	for {
		if cap(buf)-len(buf) < readChunkSize {
			next := make([]byte, len(buf), len(buf)+2*readChunkSize)
			copy(next, buf)
			buf = next
		}

		n, err := c.netConn.Read(buf[len(buf) : len(buf)+readChunkSize])
		buf = buf[:len(buf)+n]

		for {
			size, ferr := pgwire.FrameSize(buf)
			if ferr != nil {
				c.deliverRead(readEvent{err: ferr})
				return
			}
			if size == 0 {
				break
			}
			frame := buf[:size:size]
			buf = buf[size:]
			if !c.deliverRead(readEvent{frame: frame}) {
				return
			}
		}

		if err != nil {
			c.deliverRead(readEvent{err: err})
			return
		}
	}
}

// deliverRead hands one event to the driving goroutine. It gives up, reporting
// false, once the connection has finished and nobody will receive again.
func (c *conn[C]) deliverRead(ev readEvent) bool {
	select {
	case c.readCh <- ev:
		return true
	case <-c.readDone:
		return false
	}
}

// next drives the connection until an out-of-band backend message arrives or the
// connection finishes. Exactly one of the suspension sources is taken per
// iteration: a new request, the shutdown signal, or a read event.
func (c *conn[C]) next(ctx context.Context) (pgwire.BackendMessage, error) {
	for {
		if c.finished {
			if c.finalErr != nil {
				return nil, c.finalErr
			}
			return nil, ErrConnClosed
		}

		if (c.draining || c.writeClosed) && len(c.queue) == 0 {
			c.shutdown()
			return nil, ErrConnClosed
		}

		// The request channel stays live in the half-closed and draining states so
		// requests already sitting in its buffer are rejected instead of stranded.
		quit := c.quit
		if c.draining || c.writeClosed {
			quit = nil
		}

		select {
		case <-ctx.Done():
			c.fatal(ctx.Err())
			return nil, ctx.Err()

		case req := <-c.reqCh:
			c.accept(req)

		case <-quit:
			c.drainSubmitted()
			c.draining = true
			c.markClosed()

		case ev := <-c.readCh:
			if ev.err != nil {
				c.fatal(ev.err)
				return nil, ev.err
			}
			msg, err := c.recv(ev.frame)
			if err != nil {
				c.fatal(err)
				return nil, err
			}
			if msg != nil {
				return msg, nil
			}
		}
	}
}

// run drives the connection to completion, logging notices and discarding other
// out-of-band messages. It returns nil when the connection closed in an orderly
// fashion and the terminal error otherwise.
func (c *conn[C]) run(ctx context.Context) error {
	for {
		msg, err := c.next(ctx)
		if err != nil {
			if err == ErrConnClosed {
				return nil
			}
			return err
		}
		if notice, ok := msg.(*pgwire.NoticeResponse); ok {
			c.log(LogLevelInfo, "notice", map[string]any{
				"severity": notice.Severity,
				"message":  notice.Message,
			})
		}
	}
}

// accept writes one request to the socket and queues its sink. A write failure
// half-closes the connection: no further requests are accepted, the write buffer
// is cleared, but replies to data already in flight are still read and delivered.
func (c *conn[C]) accept(req request) {
	if c.writeClosed || c.draining {
		req.sink.fail(ErrConnClosed)
		return
	}

	c.queue = append(c.queue, req.sink)
	c.writeBuf = append(c.writeBuf, req.buf...)
	if err := c.flush(); err != nil {
		c.log(LogLevelError, "write failed", map[string]any{"err": err})
		c.writeBuf = c.writeBuf[:0]
		c.writeClosed = true
		c.markClosed()
	}
}

func (c *conn[C]) flush() error {
	if len(c.writeBuf) == 0 {
		return nil
	}
	if _, err := c.netConn.Write(c.writeBuf); err != nil {
		return err
	}
	c.writeBuf = c.writeBuf[:0]
	return nil
}

// drainSubmitted accepts the requests that were already sitting in the channel
// buffer when shutdown began, so a send that won the race against close is not
// silently dropped.
func (c *conn[C]) drainSubmitted() {
	for {
		select {
		case req := <-c.reqCh:
			c.accept(req)
		default:
			return
		}
	}
}

// recv routes one backend frame. Reply messages go to the queue front's sink;
// out-of-band messages are decoded and returned to the caller of next. A reply
// with an empty queue is a protocol violation.
func (c *conn[C]) recv(frame []byte) (pgwire.BackendMessage, error) {
	tag := frame[0]

	if pgwire.IsAsync(tag) {
		msg, err := c.oobReader.Receive(frame)
		if err != nil {
			return nil, err
		}
		if ps, ok := msg.(*pgwire.ParameterStatus); ok {
			c.session.setParameter(ps.Name, ps.Value)
		}
		return msg, nil
	}

	if len(c.queue) == 0 {
		return nil, &UnexpectedMessageError{Received: tag}
	}

	front := c.queue[0]
	front.push(frame)
	if pgwire.IsTerminal(tag) {
		front.complete()
		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
	return nil, nil
}

// shutdown ends the connection cleanly: Terminate is sent unless the write side
// already failed, then the socket is closed. Requests still sitting in the
// channel buffer are failed so no caller is left waiting on a sink.
func (c *conn[C]) shutdown() {
	c.finished = true
	c.markClosed()
	close(c.readDone)

	if !c.writeClosed {
		term := (&pgwire.Terminate{}).Encode(nil)
		if _, err := c.netConn.Write(term); err != nil {
			c.log(LogLevelDebug, "terminate write failed", map[string]any{"err": err})
		}
	}
	if err := c.netConn.Close(); err != nil {
		c.log(LogLevelDebug, "close failed", map[string]any{"err": err})
	}

	for {
		select {
		case req := <-c.reqCh:
			req.sink.fail(ErrConnClosed)
		default:
			iobufpool.Put(c.writeMem)
			return
		}
	}
}

// fatal ends the connection after an unrecoverable failure. Every queued sink and
// every request still sitting in the channel buffer receives err.
func (c *conn[C]) fatal(err error) {
	if c.finished {
		return
	}
	c.finished = true
	c.finalErr = err
	c.markClosed()
	close(c.readDone)

	c.netConn.Close()

	for _, sink := range c.queue {
		sink.fail(err)
	}
	c.queue = nil

	for {
		select {
		case req := <-c.reqCh:
			req.sink.fail(err)
		default:
			iobufpool.Put(c.writeMem)
			return
		}
	}
}

func (c *conn[C]) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}
