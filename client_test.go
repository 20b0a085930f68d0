package pgduct

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pgduct/pgduct/pgwire"
)

// testClient wires a Client to an in-process scripted server over a pipe.
type testClient struct {
	client  *Client
	session *sessionInfo
	server  net.Conn
	fs      *frameScanner
	runErr  chan error
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()

	clientEnd, serverEnd := net.Pipe()
	session := newSessionInfo()
	c := newConn[net.Conn](clientEnd, session, nil, LogLevelNone)

	tc := &testClient{
		client:  newClient(c.tx(), session, &Config{}),
		session: session,
		server:  serverEnd,
		fs:      &frameScanner{r: serverEnd},
		runErr:  make(chan error, 1),
	}
	go func() { tc.runErr <- c.run(context.Background()) }()
	t.Cleanup(func() { serverEnd.Close() })
	return tc
}

// respond reads request frames until a Sync and writes the scripted reply. It
// runs on its own goroutine so client calls can block on the response; the
// frames read are delivered on the returned channel.
func (tc *testClient) respond(untilTag byte, replies ...pgwire.Message) <-chan [][]byte {
	framesCh := make(chan [][]byte, 1)
	go func() {
		frames, err := tc.fs.until(untilTag)
		framesCh <- frames
		if err != nil {
			return
		}
		var out []byte
		for _, msg := range replies {
			out = msg.Encode(out)
		}
		if len(out) > 0 {
			tc.server.Write(out)
		}
	}()
	return framesCh
}

func tagsOf(frames [][]byte) []byte {
	tags := make([]byte, len(frames))
	for i, f := range frames {
		tags[i] = f[0]
	}
	return tags
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)
	framesCh := tc.respond('S',
		&pgwire.ParseComplete{},
		&pgwire.ParameterDescription{ParameterOIDs: []uint32{Int4OID}},
		&pgwire.RowDescription{Fields: []pgwire.FieldDescription{{Name: []byte("name"), DataTypeOID: TextOID}}},
		&pgwire.ReadyForQuery{TxStatus: 'I'},
	)

	stmt, err := tc.client.Prepare(context.Background(), "select name from widgets where id = $1", nil)
	require.NoError(t, err)

	frames := <-framesCh
	require.Equal(t, []byte{'P', 'D', 'S'}, tagsOf(frames))

	var parse pgwire.Parse
	require.NoError(t, parse.Decode(frames[0][pgwire.HeaderLen:]))
	assert.Equal(t, stmt.Name(), parse.Name)
	assert.Equal(t, "select name from widgets where id = $1", parse.Query)

	assert.Equal(t, []uint32{Int4OID}, stmt.Params())
	assert.Equal(t, []Column{{Name: "name", OID: TextOID}}, stmt.Columns())
}

func TestPrepareServerError(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)
	tc.respond('S',
		&pgwire.ErrorResponse{Severity: "ERROR", Code: "42601", Message: "syntax error"},
		&pgwire.ReadyForQuery{TxStatus: 'I'},
	)

	_, err := tc.client.Prepare(context.Background(), "selec 1", nil)
	var pgErr *PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "42601", pgErr.Code)
}

func TestQueryPrepared(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)
	framesCh := tc.respond('S',
		&pgwire.BindComplete{},
		&pgwire.DataRow{Values: [][]byte{[]byte("widget")}},
		&pgwire.CommandComplete{CommandTag: []byte("SELECT 1")},
		&pgwire.ReadyForQuery{TxStatus: 'I'},
	)

	stmt := &Statement{name: "s1", params: []uint32{Int4OID}, columns: []Column{{Name: "name", OID: TextOID}}}
	ctx := context.Background()

	rs, err := tc.client.Query(ctx, stmt, int32(42))
	require.NoError(t, err)

	require.True(t, rs.Next(ctx))
	var name string
	require.NoError(t, rs.Row().TryGet("name", &name))
	assert.Equal(t, "widget", name)
	require.False(t, rs.Next(ctx))
	require.NoError(t, rs.Close(ctx))

	frames := <-framesCh
	require.Equal(t, []byte{'B', 'E', 'S'}, tagsOf(frames))

	var bind pgwire.Bind
	require.NoError(t, bind.Decode(frames[0][pgwire.HeaderLen:]))
	assert.Equal(t, "s1", bind.PreparedStatement)
	require.Len(t, bind.Parameters, 1)
	assert.Equal(t, []byte("42"), bind.Parameters[0])
}

func TestQueryUnnamed(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)
	framesCh := tc.respond('S',
		&pgwire.ParseComplete{},
		&pgwire.BindComplete{},
		&pgwire.RowDescription{Fields: []pgwire.FieldDescription{{Name: []byte("n"), DataTypeOID: Int4OID}}},
		&pgwire.DataRow{Values: [][]byte{[]byte("9")}},
		&pgwire.CommandComplete{CommandTag: []byte("SELECT 1")},
		&pgwire.ReadyForQuery{TxStatus: 'I'},
	)

	ctx := context.Background()
	rs, err := tc.client.QueryUnnamed(ctx, "select $1::int4 as n", int32(9))
	require.NoError(t, err)

	require.True(t, rs.Next(ctx))
	var n int32
	require.NoError(t, rs.Row().TryGet("n", &n))
	assert.Equal(t, int32(9), n)
	require.False(t, rs.Next(ctx))
	require.NoError(t, rs.Close(ctx))

	require.Equal(t, []byte{'P', 'B', 'D', 'E', 'S'}, tagsOf(<-framesCh))
}

func TestExec(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)
	tc.respond('S',
		&pgwire.BindComplete{},
		&pgwire.CommandComplete{CommandTag: []byte("UPDATE 3")},
		&pgwire.ReadyForQuery{TxStatus: 'I'},
	)

	stmt := &Statement{name: "s1"}
	affected, err := tc.client.Exec(context.Background(), stmt, "x")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), affected)
}

func TestQuerySimple(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)
	framesCh := tc.respond('Q',
		&pgwire.RowDescription{Fields: []pgwire.FieldDescription{{Name: []byte("now"), DataTypeOID: TimestamptzOID}}},
		&pgwire.DataRow{Values: [][]byte{[]byte("2026-08-31 10:00:00+00")}},
		&pgwire.CommandComplete{CommandTag: []byte("SELECT 1")},
		&pgwire.ReadyForQuery{TxStatus: 'I'},
	)

	ctx := context.Background()
	rs, err := tc.client.QuerySimple(ctx, "select now()")
	require.NoError(t, err)

	require.True(t, rs.Next(ctx))
	assert.Equal(t, "2026-08-31 10:00:00+00", rs.Row().Get("now"))
	require.False(t, rs.Next(ctx))
	require.NoError(t, rs.Close(ctx))

	frames := <-framesCh
	require.Equal(t, []byte{'Q'}, tagsOf(frames))
}

func TestExecSimpleMultiStatement(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)
	tc.respond('Q',
		&pgwire.CommandComplete{CommandTag: []byte("INSERT 0 2")},
		&pgwire.CommandComplete{CommandTag: []byte("DELETE 5")},
		&pgwire.ReadyForQuery{TxStatus: 'I'},
	)

	affected, err := tc.client.ExecSimple(context.Background(), "insert into a values (1),(2); delete from b")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), affected)
}

func TestConcurrentRequestsShareOneConnection(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)
	const n = 8

	go func() {
		for i := 0; i < n; i++ {
			frame, err := tc.fs.next()
			if err != nil || frame[0] != 'Q' {
				return
			}
			var q pgwire.Query
			if q.Decode(frame[pgwire.HeaderLen:]) != nil {
				return
			}
			out := (&pgwire.CommandComplete{CommandTag: []byte(q.String)}).Encode(nil)
			out = (&pgwire.ReadyForQuery{TxStatus: 'I'}).Encode(out)
			if _, err := tc.server.Write(out); err != nil {
				return
			}
		}
	}()

	// Requests issued from many goroutines are pipelined onto the single
	// connection; each caller still receives exactly its own response.
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		sql := fmt.Sprintf("select %d", i)
		g.Go(func() error {
			rs, err := tc.client.QuerySimple(ctx, sql)
			if err != nil {
				return err
			}
			for rs.Next(ctx) {
			}
			if err := rs.Close(ctx); err != nil {
				return err
			}
			if rs.CommandTag() != sql {
				return fmt.Errorf("response %q answered request %q", rs.CommandTag(), sql)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestClientCloseReleasesCachedStatements(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)
	tc.client.cache.typeinfo = &Statement{name: "s1"}
	tc.client.cache.typeinfoEnum = &Statement{name: "s2"}

	done := make(chan [][]byte, 1)
	go func() {
		var all [][]byte
		for {
			frame, err := tc.fs.next()
			if err != nil {
				done <- all
				return
			}
			all = append(all, frame)
			switch frame[0] {
			case 'S':
				out := (&pgwire.CloseComplete{}).Encode(nil)
				out = (&pgwire.ReadyForQuery{TxStatus: 'I'}).Encode(out)
				tc.server.Write(out)
			case 'X':
				done <- all
				return
			}
		}
	}()

	tc.client.Close()
	require.NoError(t, <-tc.runErr)
	assert.True(t, tc.client.IsClosed())

	frames := <-done
	require.Equal(t, []byte{'C', 'S', 'C', 'S', 'X'}, tagsOf(frames))

	var closeMsg pgwire.Close
	require.NoError(t, closeMsg.Decode(frames[0][pgwire.HeaderLen:]))
	assert.EqualValues(t, 'S', closeMsg.ObjectType)
	assert.Equal(t, "s1", closeMsg.Name)
	require.NoError(t, closeMsg.Decode(frames[2][pgwire.HeaderLen:]))
	assert.Equal(t, "s2", closeMsg.Name)

	// Close is idempotent.
	tc.client.Close()
}

func TestTypeCache(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)

	custom := Type{OID: 99999, Name: "mood", Kind: KindEnum, Variants: []string{"sad", "ok", "happy"}}
	tc.client.setCachedType(custom)

	got, ok := tc.client.CachedType(99999)
	require.True(t, ok)
	assert.Equal(t, custom, got)

	tc.client.ClearTypeCache()
	_, ok = tc.client.CachedType(99999)
	assert.False(t, ok)

	// Clearing an already empty cache is a no-op.
	tc.client.ClearTypeCache()
	_, ok = tc.client.CachedType(99999)
	assert.False(t, ok)

	// Re-population after a clear behaves like the first insert.
	tc.client.setCachedType(custom)
	got, ok = tc.client.CachedType(99999)
	require.True(t, ok)
	assert.Equal(t, custom, got)
}

func TestLoadTypeBuiltin(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)

	// Builtins resolve statically without touching the server.
	typ, err := tc.client.LoadType(context.Background(), BoolOID)
	require.NoError(t, err)
	assert.Equal(t, "bool", typ.Name)
	assert.Equal(t, KindBase, typ.Kind)

	// Builtins are not stored in the per-client cache.
	_, ok := tc.client.CachedType(BoolOID)
	assert.False(t, ok)
}

func TestServerVersion(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)
	tc.session.setParameter("server_version", "16.2 (Debian 16.2-1.pgdg120+2)")

	v, err := tc.client.ServerVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(16), v.Major())
	assert.Equal(t, uint64(2), v.Minor())

	assert.Equal(t, "16.2 (Debian 16.2-1.pgdg120+2)", tc.client.Parameter("server_version"))
}

func TestNextStatementName(t *testing.T) {
	t.Parallel()

	tc := newTestClient(t)
	assert.Equal(t, "s1", tc.client.nextStatementName())
	assert.Equal(t, "s2", tc.client.nextStatementName())
}

func TestCancelRequest(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan pgwire.CancelRequest, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 16)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		var cr pgwire.CancelRequest
		if cr.Decode(buf[4:]) == nil {
			got <- cr
		}
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)

	session := newSessionInfo()
	session.setBackendKeyData(pgwire.BackendKeyData{ProcessID: 1234, SecretKey: 5678})
	tx := &clientTx{reqCh: make(chan request, 1), quit: make(chan struct{}), closed: make(chan struct{})}
	client := newClient(tx, session, &Config{Host: "127.0.0.1", Port: uint16(port)})

	require.NoError(t, client.CancelRequest(context.Background()))

	cr := <-got
	assert.Equal(t, uint32(1234), cr.ProcessID)
	assert.Equal(t, uint32(5678), cr.SecretKey)
}
