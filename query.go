package pgduct

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/pgduct/pgduct/pgwire"
)

// Prepare creates a named server-side prepared statement for sql. paramOIDs may
// be nil to let the server infer parameter types.
func (c *Client) Prepare(ctx context.Context, sql string, paramOIDs []uint32) (*Statement, error) {
	name := c.nextStatementName()

	res, err := c.send(func(buf []byte) ([]byte, error) {
		buf = (&pgwire.Parse{Name: name, Query: sql, ParameterOIDs: paramOIDs}).Encode(buf)
		buf = (&pgwire.Describe{ObjectType: 'S', Name: name}).Encode(buf)
		buf = (&pgwire.Sync{}).Encode(buf)
		return buf, nil
	})
	if err != nil {
		return nil, err
	}

	stmt := &Statement{name: name}
	var firstErr error
	for {
		msg, err := res.Receive(ctx)
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case *pgwire.ParseComplete:
		case *pgwire.ParameterDescription:
			stmt.params = append([]uint32(nil), m.ParameterOIDs...)
		case *pgwire.RowDescription:
			stmt.columns = columnsFromFields(m.Fields)
		case *pgwire.NoData:
		case *pgwire.ErrorResponse:
			if firstErr == nil {
				firstErr = errorResponseToPgError(m)
			}
		case *pgwire.ReadyForQuery:
			if firstErr != nil {
				return nil, firstErr
			}
			return stmt, nil
		default:
			return nil, fmt.Errorf("unexpected message %T while preparing statement", msg)
		}
	}
}

// Query runs a prepared statement with args and returns the stream of result
// rows. The request is pipelined: Query returns as soon as the request is
// submitted and the stream pulls replies as they arrive.
func (c *Client) Query(ctx context.Context, stmt *Statement, args ...any) (*RowStream, error) {
	res, err := c.sendPortal(stmt.name, args)
	if err != nil {
		return nil, err
	}
	return newRowStream(res, stmt.columns), nil
}

// QueryUnnamed parses, binds and runs sql in one round trip through the unnamed
// statement. Column metadata arrives with the results.
func (c *Client) QueryUnnamed(ctx context.Context, sql string, args ...any) (*RowStream, error) {
	res, err := c.send(func(buf []byte) ([]byte, error) {
		params, err := encodeParams(args)
		if err != nil {
			return buf, err
		}
		buf = (&pgwire.Parse{Query: sql}).Encode(buf)
		buf = (&pgwire.Bind{Parameters: params}).Encode(buf)
		buf = (&pgwire.Describe{ObjectType: 'P'}).Encode(buf)
		buf = (&pgwire.Execute{}).Encode(buf)
		buf = (&pgwire.Sync{}).Encode(buf)
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	return newRowStream(res, nil), nil
}

// Exec runs a prepared statement with args and returns the number of rows
// affected.
func (c *Client) Exec(ctx context.Context, stmt *Statement, args ...any) (uint64, error) {
	res, err := c.sendPortal(stmt.name, args)
	if err != nil {
		return 0, err
	}
	return drainExec(ctx, res)
}

// QuerySimple runs sql through the simple query protocol. Every result column is
// text regardless of its server-side type.
func (c *Client) QuerySimple(ctx context.Context, sql string) (*SimpleRowStream, error) {
	res, err := c.send(func(buf []byte) ([]byte, error) {
		return (&pgwire.Query{String: sql}).Encode(buf), nil
	})
	if err != nil {
		return nil, err
	}
	return newSimpleRowStream(res), nil
}

// ExecSimple runs sql through the simple query protocol and returns the summed
// rows affected across all statements in sql.
func (c *Client) ExecSimple(ctx context.Context, sql string) (uint64, error) {
	res, err := c.send(func(buf []byte) ([]byte, error) {
		return (&pgwire.Query{String: sql}).Encode(buf), nil
	})
	if err != nil {
		return 0, err
	}
	return drainExec(ctx, res)
}

func (c *Client) sendPortal(name string, args []any) (*Response, error) {
	return c.send(func(buf []byte) ([]byte, error) {
		params, err := encodeParams(args)
		if err != nil {
			return buf, err
		}
		buf = (&pgwire.Bind{PreparedStatement: name, Parameters: params}).Encode(buf)
		buf = (&pgwire.Execute{}).Encode(buf)
		buf = (&pgwire.Sync{}).Encode(buf)
		return buf, nil
	})
}

func drainExec(ctx context.Context, res *Response) (uint64, error) {
	var affected uint64
	var firstErr error
	for {
		msg, err := res.Receive(ctx)
		if err != nil {
			return affected, err
		}
		switch m := msg.(type) {
		case *pgwire.CommandComplete:
			affected += m.RowsAffected()
		case *pgwire.ErrorResponse:
			if firstErr == nil {
				firstErr = errorResponseToPgError(m)
			}
		case *pgwire.ReadyForQuery:
			return affected, firstErr
		}
	}
}

func columnsFromFields(fields []pgwire.FieldDescription) []Column {
	if len(fields) == 0 {
		return nil
	}
	// Field names alias the wire frame and must be copied.
	columns := make([]Column, len(fields))
	for i, fd := range fields {
		columns[i] = Column{Name: string(fd.Name), OID: fd.DataTypeOID}
	}
	return columns
}

// encodeParams renders args in the text parameter format.
func encodeParams(args []any) ([][]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	params := make([][]byte, len(args))
	for i, arg := range args {
		p, err := encodeParam(arg)
		if err != nil {
			return nil, fmt.Errorf("parameter $%d: %w", i+1, err)
		}
		params[i] = p
	}
	return params, nil
}

func encodeParam(arg any) ([]byte, error) {
	switch a := arg.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(a), nil
	case []byte:
		if a == nil {
			return nil, nil
		}
		out := make([]byte, 2+hex.EncodedLen(len(a)))
		copy(out, `\x`)
		hex.Encode(out[2:], a)
		return out, nil
	case bool:
		return []byte(strconv.FormatBool(a)), nil
	case int:
		return []byte(strconv.FormatInt(int64(a), 10)), nil
	case int16:
		return []byte(strconv.FormatInt(int64(a), 10)), nil
	case int32:
		return []byte(strconv.FormatInt(int64(a), 10)), nil
	case int64:
		return []byte(strconv.FormatInt(a, 10)), nil
	case uint32:
		return []byte(strconv.FormatUint(uint64(a), 10)), nil
	case uint64:
		return []byte(strconv.FormatUint(a, 10)), nil
	case float32:
		return []byte(strconv.FormatFloat(float64(a), 'g', -1, 32)), nil
	case float64:
		return []byte(strconv.FormatFloat(a, 'g', -1, 64)), nil
	case time.Time:
		return []byte(a.Format("2006-01-02 15:04:05.999999999Z07:00")), nil
	case uuid.UUID:
		return []byte(a.String()), nil
	case decimal.Decimal:
		return []byte(a.String()), nil
	case fmt.Stringer:
		return []byte(a.String()), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as a query parameter", arg)
	}
}
