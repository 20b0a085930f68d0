package pgduct

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/pgduct/pgduct/pgwire"
)

// Client is the public face of one connection. It encodes requests into a shared
// buffer, submits them to the paired Driver and caches prepared statements and
// resolved types. Client is safe for concurrent use; requests issued
// concurrently are pipelined onto the connection and answered in submission
// order.
type Client struct {
	tx      *clientTx
	session *sessionInfo
	config  *Config

	bufMu sync.Mutex
	buf   []byte

	cache statementCache

	stmtMu      sync.Mutex
	stmtCounter uint64

	closeOnce sync.Once
}

// statementCache holds the three fixed typeinfo statement slots plus the oid to
// Type map. The lock is held only for point operations, never while waiting on
// the server.
type statementCache struct {
	mu                sync.Mutex
	typeinfo          *Statement
	typeinfoEnum      *Statement
	typeinfoComposite *Statement
	types             map[uint32]Type
}

func newClient(tx *clientTx, session *sessionInfo, config *Config) *Client {
	return &Client{
		tx:      tx,
		session: session,
		config:  config,
		cache:   statementCache{types: make(map[uint32]Type)},
	}
}

// send encodes one request into the shared buffer and submits it together with a
// fresh sink. The encoded bytes are split off the buffer so later encodes append
// after them and never touch a request in flight; a failed encode is erased from
// the buffer instead.
func (c *Client) send(encode func([]byte) ([]byte, error)) (*Response, error) {
	c.bufMu.Lock()
	start := len(c.buf)
	buf, err := encode(c.buf)
	if err != nil {
		c.buf = c.buf[:start]
		c.bufMu.Unlock()
		return nil, err
	}
	out := buf[start:len(buf):len(buf)]
	c.buf = buf[len(buf):]
	c.bufMu.Unlock()

	sink := newResponseSink()
	if err := c.tx.send(request{buf: out, sink: sink}); err != nil {
		return nil, err
	}
	return newResponse(sink), nil
}

// nextStatementName returns a fresh server-side statement name.
func (c *Client) nextStatementName() string {
	c.stmtMu.Lock()
	c.stmtCounter++
	n := c.stmtCounter
	c.stmtMu.Unlock()

	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return "s" + string(b[i:])
}

// IsClosed reports whether the client can no longer submit requests.
func (c *Client) IsClosed() bool { return c.tx.isClosed() }

// Parameter returns the most recent value of a run-time parameter reported by
// the server (e.g. server_version), or "" if unknown.
func (c *Client) Parameter(name string) string {
	return c.session.parameter(name)
}

// ServerVersion parses the server_version parameter into a semantic version.
func (c *Client) ServerVersion() (*semver.Version, error) {
	raw := c.session.parameter("server_version")
	if raw == "" {
		return nil, errors.New("server did not report server_version")
	}
	// Strip vendor suffixes such as "16.2 (Debian 16.2-1)".
	if idx := strings.IndexByte(raw, ' '); idx != -1 {
		raw = raw[:idx]
	}
	return semver.NewVersion(raw)
}

// CancelRequest opens a short-lived second connection and asks the server to
// cancel whatever is running on this one. Cancellation is best effort by
// protocol design: the server sends no reply and may act on it or not.
func (c *Client) CancelRequest(ctx context.Context) error {
	kd := c.session.keyData()

	network, address := NetworkAddress(c.config.Host, c.config.Port)
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	msg := &pgwire.CancelRequest{ProcessID: kd.ProcessID, SecretKey: kd.SecretKey}
	if _, err := conn.Write(msg.Encode(nil)); err != nil {
		return err
	}

	// The server closes the cancel connection without replying.
	conn.Read(make([]byte, 1))
	return nil
}

// Close tears the client down. Every populated typeinfo statement slot is
// converted into a guarded handle and closed, so the server-side statements are
// released even though the cache is going away, then the driver is told to
// finish once in-flight work drains. Close is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cache.mu.Lock()
		slots := []**Statement{&c.cache.typeinfo, &c.cache.typeinfoEnum, &c.cache.typeinfoComposite}
		var guarded []*StatementGuarded
		for _, slot := range slots {
			if *slot != nil {
				guarded = append(guarded, (*slot).guarded(c.tx))
				*slot = nil
			}
		}
		c.cache.types = make(map[uint32]Type)
		c.cache.mu.Unlock()

		for _, g := range guarded {
			g.Close()
		}

		c.tx.close()
	})
}

// CachedType returns the cached resolution of oid, if present. Builtin types are
// not stored in the cache; use LoadType for general resolution.
func (c *Client) CachedType(oid uint32) (Type, bool) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	t, ok := c.cache.types[oid]
	return t, ok
}

func (c *Client) setCachedType(t Type) {
	c.cache.mu.Lock()
	c.cache.types[t.OID] = t
	c.cache.mu.Unlock()
}

// ClearTypeCache empties the oid to Type cache. Call it after schema changes
// that may have altered user defined types; subsequent LoadType calls re-resolve
// against the catalogs.
func (c *Client) ClearTypeCache() {
	c.cache.mu.Lock()
	c.cache.types = make(map[uint32]Type)
	c.cache.mu.Unlock()
}

// cachedStatement returns the statement in slot, preparing it on first use. When
// two goroutines race to populate a slot the loser closes its extra statement.
func (c *Client) cachedStatement(ctx context.Context, slot **Statement, sql string, paramOID uint32) (*Statement, error) {
	c.cache.mu.Lock()
	stmt := *slot
	c.cache.mu.Unlock()
	if stmt != nil {
		return stmt, nil
	}

	stmt, err := c.Prepare(ctx, sql, []uint32{paramOID})
	if err != nil {
		return nil, err
	}

	c.cache.mu.Lock()
	if *slot == nil {
		*slot = stmt
		c.cache.mu.Unlock()
		return stmt, nil
	}
	cached := *slot
	c.cache.mu.Unlock()

	stmt.guarded(c.tx).Close()
	return cached, nil
}

// LoadType resolves oid to a Type: statically for builtins, from the per-client
// cache when already seen, and otherwise by querying the system catalogs through
// the cached typeinfo statements.
func (c *Client) LoadType(ctx context.Context, oid uint32) (Type, error) {
	if t, ok := builtinType(oid); ok {
		return t, nil
	}
	if t, ok := c.CachedType(oid); ok {
		return t, nil
	}

	stmt, err := c.cachedStatement(ctx, &c.cache.typeinfo, typeinfoQuery, OIDOID)
	if err != nil {
		return Type{}, err
	}

	rs, err := c.Query(ctx, stmt, oid)
	if err != nil {
		return Type{}, err
	}

	var (
		name     string
		typtype  string
		elem     uint32
		rngsub   uint32
		basetype uint32
		relid    uint32
	)
	found := false
	for rs.Next(ctx) {
		row := rs.Row()
		if err := row.TryGet(0, &name); err != nil {
			rs.Close(ctx)
			return Type{}, err
		}
		if err := row.TryGet(1, &typtype); err != nil {
			rs.Close(ctx)
			return Type{}, err
		}
		row.TryGet(2, &elem)
		row.TryGet(3, &rngsub)
		row.TryGet(4, &basetype)
		row.TryGet(5, &relid)
		found = true
	}
	if err := rs.Close(ctx); err != nil {
		return Type{}, err
	}
	if !found {
		return Type{}, &UnknownOIDError{OID: oid}
	}

	t := Type{OID: oid, Name: name}
	switch typtype {
	case "e":
		t.Kind = KindEnum
		t.Variants, err = c.loadEnumVariants(ctx, oid)
	case "c":
		t.Kind = KindComposite
		t.Fields, err = c.loadCompositeFields(ctx, relid)
	case "d":
		t.Kind = KindDomain
		t.Elem = basetype
	case "r", "m":
		t.Kind = KindRange
		t.Elem = rngsub
	default:
		if elem != 0 && strings.HasPrefix(name, "_") {
			t.Kind = KindArray
			t.Elem = elem
		} else {
			t.Kind = KindBase
		}
	}
	if err != nil {
		return Type{}, err
	}

	c.setCachedType(t)
	return t, nil
}

func (c *Client) loadEnumVariants(ctx context.Context, oid uint32) ([]string, error) {
	stmt, err := c.cachedStatement(ctx, &c.cache.typeinfoEnum, typeinfoEnumQuery, OIDOID)
	if err != nil {
		return nil, err
	}

	rs, err := c.Query(ctx, stmt, oid)
	if err != nil {
		return nil, err
	}

	var variants []string
	for rs.Next(ctx) {
		var label string
		if err := rs.Row().TryGet(0, &label); err != nil {
			rs.Close(ctx)
			return nil, err
		}
		variants = append(variants, label)
	}
	if err := rs.Close(ctx); err != nil {
		return nil, err
	}
	return variants, nil
}

func (c *Client) loadCompositeFields(ctx context.Context, relid uint32) ([]CompositeField, error) {
	stmt, err := c.cachedStatement(ctx, &c.cache.typeinfoComposite, typeinfoCompositeQuery, OIDOID)
	if err != nil {
		return nil, err
	}

	rs, err := c.Query(ctx, stmt, relid)
	if err != nil {
		return nil, err
	}

	var fields []CompositeField
	for rs.Next(ctx) {
		var f CompositeField
		row := rs.Row()
		if err := row.TryGet(0, &f.Name); err != nil {
			rs.Close(ctx)
			return nil, err
		}
		if err := row.TryGet(1, &f.OID); err != nil {
			rs.Close(ctx)
			return nil, err
		}
		fields = append(fields, f)
	}
	if err := rs.Close(ctx); err != nil {
		return nil, err
	}
	return fields, nil
}
