package pgduct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgduct/pgduct/pgwire"
)

func TestStatementAccessors(t *testing.T) {
	t.Parallel()

	stmt := &Statement{
		name:    "s7",
		params:  []uint32{Int4OID, TextOID},
		columns: []Column{{Name: "n", OID: Int8OID}},
	}

	assert.Equal(t, "s7", stmt.Name())
	assert.Equal(t, []uint32{Int4OID, TextOID}, stmt.Params())
	assert.Equal(t, []Column{{Name: "n", OID: Int8OID}}, stmt.Columns())
}

func TestStatementGuardedClose(t *testing.T) {
	t.Parallel()

	tx := &clientTx{reqCh: make(chan request, 1), quit: make(chan struct{}), closed: make(chan struct{})}
	stmt := &Statement{name: "s3"}
	g := stmt.guarded(tx)
	require.Same(t, stmt, g.Statement())

	g.Close()

	req := <-tx.reqCh
	require.NotNil(t, req.sink)

	size, err := pgwire.FrameSize(req.buf)
	require.NoError(t, err)
	var closeMsg pgwire.Close
	require.NoError(t, closeMsg.Decode(req.buf[pgwire.HeaderLen:size]))
	assert.EqualValues(t, 'S', closeMsg.ObjectType)
	assert.Equal(t, "s3", closeMsg.Name)

	// Close then Sync, nothing else.
	rest := req.buf[size:]
	assert.EqualValues(t, 'S', rest[0])
	size, err = pgwire.FrameSize(rest)
	require.NoError(t, err)
	assert.Equal(t, len(rest), size)

	// A second Close is a no-op.
	g.Close()
	assert.Empty(t, tx.reqCh)
	assert.Nil(t, g.Statement())
}

func TestStatementGuardedCloseUnnamed(t *testing.T) {
	t.Parallel()

	tx := &clientTx{reqCh: make(chan request, 1), quit: make(chan struct{}), closed: make(chan struct{})}

	// The unnamed statement is not a server-side resource; closing it sends
	// nothing.
	g := (&Statement{}).guarded(tx)
	g.Close()
	assert.Empty(t, tx.reqCh)
}
