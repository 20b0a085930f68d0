package pgduct

import (
	"net/netip"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgduct/pgduct/pgwire"
)

func TestEncodeParam(t *testing.T) {
	t.Parallel()

	id := uuid.Must(uuid.FromString("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	amount := decimal.RequireFromString("12.50")
	when := time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		arg      any
		expected []byte
	}{
		{nil, nil},
		{"hello", []byte("hello")},
		{[]byte(nil), nil},
		{[]byte{0x00, 0xff}, []byte(`\x00ff`)},
		{true, []byte("true")},
		{false, []byte("false")},
		{int(-5), []byte("-5")},
		{int16(7), []byte("7")},
		{int32(-100000), []byte("-100000")},
		{int64(1 << 40), []byte("1099511627776")},
		{uint32(42), []byte("42")},
		{uint64(42), []byte("42")},
		{float32(1.5), []byte("1.5")},
		{float64(-2.25), []byte("-2.25")},
		{when, []byte("2026-08-31 10:30:00Z")},
		{id, []byte("6ba7b810-9dad-11d1-80b4-00c04fd430c8")},
		{amount, []byte("12.5")},
		// Anything with a String method works as a last resort.
		{netip.MustParseAddr("10.0.0.1"), []byte("10.0.0.1")},
	}

	for _, tt := range tests {
		got, err := encodeParam(tt.arg)
		require.NoErrorf(t, err, "arg %#v", tt.arg)
		assert.Equalf(t, tt.expected, got, "arg %#v", tt.arg)
	}

	_, err := encodeParam(struct{ X int }{1})
	require.Error(t, err)
}

func TestEncodeParamsReportsPosition(t *testing.T) {
	t.Parallel()

	_, err := encodeParams([]any{"fine", struct{}{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$2")

	params, err := encodeParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)
}

func TestColumnsFromFields(t *testing.T) {
	t.Parallel()

	frame := (&pgwire.RowDescription{Fields: []pgwire.FieldDescription{
		{Name: []byte("id"), DataTypeOID: Int8OID},
		{Name: []byte("name"), DataTypeOID: TextOID},
	}}).Encode(nil)

	var rd pgwire.RowDescription
	require.NoError(t, rd.Decode(frame[pgwire.HeaderLen:]))

	columns := columnsFromFields(rd.Fields)
	require.Equal(t, []Column{{Name: "id", OID: Int8OID}, {Name: "name", OID: TextOID}}, columns)

	// Column names must survive the frame being reused.
	for i := range frame {
		frame[i] = 0
	}
	assert.Equal(t, "id", columns[0].Name)

	assert.Nil(t, columnsFromFields(nil))
}
