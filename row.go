package pgduct

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/pgduct/pgduct/pgwire"
)

// Row is a zero-copy view of one DataRow message. Column values are byte ranges
// into the row's wire frame; nothing is copied until a getter materializes a
// value. A Row is only valid until the stream that produced it advances.
type Row struct {
	columns []Column
	body    []byte
	ranges  []pgwire.ValueRange
}

// Len returns the number of columns in the row.
func (r *Row) Len() int { return len(r.ranges) }

// Columns returns the row's column metadata. The slice is shared with the
// stream; do not modify it.
func (r *Row) Columns() []Column { return r.columns }

// IsNull reports whether the column identified by col (int index or string
// name) is SQL NULL.
func (r *Row) IsNull(col any) (bool, error) {
	i, err := r.columnIndex(col)
	if err != nil {
		return false, err
	}
	return r.ranges[i].IsNull(), nil
}

// Value returns the raw wire bytes of the column, nil for SQL NULL. The bytes
// alias the row's frame.
func (r *Row) Value(col any) ([]byte, error) {
	i, err := r.columnIndex(col)
	if err != nil {
		return nil, err
	}
	raw, _ := r.value(i)
	return raw, nil
}

// TryGet decodes the column identified by col (int index or string name) into
// dest. The column's declared type must be accepted by dest's Go type; a
// mismatch is a WrongTypeError and SQL NULL a ScanNullError.
func (r *Row) TryGet(col any, dest any) error {
	i, err := r.columnIndex(col)
	if err != nil {
		return err
	}

	var oid uint32 = UnknownOID
	if i < len(r.columns) {
		oid = r.columns[i].OID
	}

	raw, null := r.value(i)
	return scanValue(oid, raw, null, dest)
}

// Get is the panicking convenience form of TryGet.
func (r *Row) Get(col any, dest any) {
	if err := r.TryGet(col, dest); err != nil {
		panic(err)
	}
}

func (r *Row) columnIndex(col any) (int, error) {
	switch c := col.(type) {
	case int:
		if c < 0 || c >= len(r.ranges) {
			return 0, &ColumnError{Index: strconv.Itoa(c)}
		}
		return c, nil
	case string:
		for i := range r.columns {
			if r.columns[i].Name == c && i < len(r.ranges) {
				return i, nil
			}
		}
		return 0, &ColumnError{Index: strconv.Quote(c)}
	default:
		return 0, &ColumnError{Index: fmt.Sprintf("%v", col)}
	}
}

func (r *Row) value(i int) (raw []byte, null bool) {
	rg := r.ranges[i]
	if rg.IsNull() {
		return nil, true
	}
	return r.body[rg.Start:rg.End], false
}

// SimpleRow is a row produced by the simple query protocol. The server returns
// every column as text regardless of its declared type, so access is text only
// and no type compatibility check applies.
type SimpleRow struct {
	Row
}

// TryGet returns the column identified by col (int index or string name) as
// text. SQL NULL is a ScanNullError; use IsNull to probe for it.
func (r *SimpleRow) TryGet(col any) (string, error) {
	i, err := r.columnIndex(col)
	if err != nil {
		return "", err
	}
	raw, null := r.value(i)
	if null {
		return "", &ScanNullError{GoType: "string"}
	}
	return string(raw), nil
}

// Get is the panicking convenience form of TryGet.
func (r *SimpleRow) Get(col any) string {
	s, err := r.TryGet(col)
	if err != nil {
		panic(err)
	}
	return s
}

// scanValue decodes one text-format column value into dest after verifying that
// dest's Go type accepts the column's oid.
func scanValue(oid uint32, raw []byte, null bool, dest any) error {
	switch d := dest.(type) {
	case *string:
		if err := checkOID(oid, "string", TextOID, VarcharOID, BPCharOID, NameOID, CharOID, JSONOID, JSONBOID, UnknownOID); err != nil {
			return err
		}
		if null {
			return &ScanNullError{GoType: "string"}
		}
		*d = string(raw)
	case *[]byte:
		if err := checkOID(oid, "[]byte", ByteaOID); err != nil {
			return err
		}
		if null {
			*d = nil
			return nil
		}
		return scanBytea(raw, d)
	case *bool:
		if err := checkOID(oid, "bool", BoolOID); err != nil {
			return err
		}
		if null {
			return &ScanNullError{GoType: "bool"}
		}
		switch string(raw) {
		case "t":
			*d = true
		case "f":
			*d = false
		default:
			return fmt.Errorf("invalid bool value %q", raw)
		}
	case *int16:
		if err := checkOID(oid, "int16", Int2OID); err != nil {
			return err
		}
		return scanInt(raw, null, 16, "int16", func(n int64) { *d = int16(n) })
	case *int32:
		if err := checkOID(oid, "int32", Int2OID, Int4OID); err != nil {
			return err
		}
		return scanInt(raw, null, 32, "int32", func(n int64) { *d = int32(n) })
	case *int64:
		if err := checkOID(oid, "int64", Int2OID, Int4OID, Int8OID); err != nil {
			return err
		}
		return scanInt(raw, null, 64, "int64", func(n int64) { *d = n })
	case *uint32:
		if err := checkOID(oid, "uint32", OIDOID, Int4OID); err != nil {
			return err
		}
		if null {
			return &ScanNullError{GoType: "uint32"}
		}
		n, err := strconv.ParseUint(string(raw), 10, 32)
		if err != nil {
			return err
		}
		*d = uint32(n)
	case *float32:
		if err := checkOID(oid, "float32", Float4OID); err != nil {
			return err
		}
		if null {
			return &ScanNullError{GoType: "float32"}
		}
		n, err := strconv.ParseFloat(string(raw), 32)
		if err != nil {
			return err
		}
		*d = float32(n)
	case *float64:
		if err := checkOID(oid, "float64", Float4OID, Float8OID); err != nil {
			return err
		}
		if null {
			return &ScanNullError{GoType: "float64"}
		}
		n, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return err
		}
		*d = n
	case *uuid.UUID:
		if err := checkOID(oid, "uuid.UUID", UUIDOID); err != nil {
			return err
		}
		if null {
			return &ScanNullError{GoType: "uuid.UUID"}
		}
		u, err := uuid.FromString(string(raw))
		if err != nil {
			return err
		}
		*d = u
	case *decimal.Decimal:
		if err := checkOID(oid, "decimal.Decimal", NumericOID); err != nil {
			return err
		}
		if null {
			return &ScanNullError{GoType: "decimal.Decimal"}
		}
		n, err := decimal.NewFromString(string(raw))
		if err != nil {
			return err
		}
		*d = n
	case *time.Time:
		if err := checkOID(oid, "time.Time", DateOID, TimestampOID, TimestamptzOID); err != nil {
			return err
		}
		if null {
			return &ScanNullError{GoType: "time.Time"}
		}
		return scanTime(oid, raw, d)
	default:
		return fmt.Errorf("unsupported scan destination %T", dest)
	}
	return nil
}

func checkOID(oid uint32, goType string, accepted ...uint32) error {
	for _, a := range accepted {
		if oid == a {
			return nil
		}
	}
	return &WrongTypeError{GoType: goType, OID: oid}
}

func scanInt(raw []byte, null bool, bits int, goType string, assign func(int64)) error {
	if null {
		return &ScanNullError{GoType: goType}
	}
	n, err := strconv.ParseInt(string(raw), 10, bits)
	if err != nil {
		return err
	}
	assign(n)
	return nil
}

func scanBytea(raw []byte, d *[]byte) error {
	if len(raw) < 2 || raw[0] != '\\' || raw[1] != 'x' {
		return fmt.Errorf("invalid bytea value %q", raw)
	}
	out := make([]byte, hex.DecodedLen(len(raw)-2))
	if _, err := hex.Decode(out, raw[2:]); err != nil {
		return err
	}
	*d = out
	return nil
}

func scanTime(oid uint32, raw []byte, d *time.Time) error {
	s := string(raw)
	switch oid {
	case DateOID:
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return err
		}
		*d = t
	case TimestampOID:
		t, err := time.Parse("2006-01-02 15:04:05.999999999", s)
		if err != nil {
			return err
		}
		*d = t
	default: // timestamptz
		t, err := time.Parse("2006-01-02 15:04:05.999999999Z07", s)
		if err != nil {
			// Offsets may carry minutes (e.g. +05:30).
			t, err = time.Parse("2006-01-02 15:04:05.999999999Z07:00", s)
			if err != nil {
				return err
			}
		}
		*d = t
	}
	return nil
}
