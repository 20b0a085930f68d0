package pgduct

import (
	"github.com/pgduct/pgduct/pgwire"
)

// Column is one result column: its name and declared type oid.
type Column struct {
	Name string
	OID  uint32
}

// Statement is a server-side prepared statement. It is bound to the connection
// that prepared it and must be closed, directly or through a StatementGuarded,
// to release the server-side resource.
type Statement struct {
	name    string
	params  []uint32
	columns []Column
}

// Name returns the server-side statement name. The unnamed statement is "".
func (s *Statement) Name() string { return s.name }

// Params returns the oids of the statement's parameters.
func (s *Statement) Params() []uint32 { return s.params }

// Columns returns the statement's result columns.
func (s *Statement) Columns() []Column { return s.columns }

// guarded binds the statement to tx so the returned handle can close it later
// even after the owning cache is gone.
func (s *Statement) guarded(tx *clientTx) *StatementGuarded {
	return &StatementGuarded{stmt: s, tx: tx}
}

// StatementGuarded owns a prepared statement's server-side lifetime. Closing it
// emits a protocol Close for the statement; the connection may already be gone,
// in which case there is nothing left to leak and the error is ignored.
type StatementGuarded struct {
	stmt *Statement
	tx   *clientTx
}

// Statement returns the guarded statement.
func (g *StatementGuarded) Statement() *Statement { return g.stmt }

// Close releases the server-side statement. It is fire and forget: the Close
// message is submitted and its confirmation is left to the driver to consume.
func (g *StatementGuarded) Close() {
	if g.stmt == nil || g.stmt.name == "" {
		return
	}

	var buf []byte
	buf = (&pgwire.Close{ObjectType: 'S', Name: g.stmt.name}).Encode(buf)
	buf = (&pgwire.Sync{}).Encode(buf)

	// The sink keeps FIFO matching intact; nobody reads it.
	g.tx.send(request{buf: buf, sink: newResponseSink()})
	g.stmt = nil
}
