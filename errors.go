package pgduct

import (
	"errors"
	"fmt"

	"github.com/pgduct/pgduct/pgwire"
)

// ErrConnClosed occurs when an operation is attempted on a connection that no
// longer accepts requests, or when a driver finishes naturally.
var ErrConnClosed = errors.New("conn closed")

// ErrTLSRefused occurs when the connection attempt requires TLS and the
// PostgreSQL server refuses to use TLS.
var ErrTLSRefused = errors.New("server refused TLS connection")

// PgError represents an error reported by the PostgreSQL server. See
// https://www.postgresql.org/docs/current/protocol-error-fields.html for
// detailed field description.
type PgError struct {
	Severity         string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int32
	Routine          string
}

func (pe *PgError) Error() string {
	return pe.Severity + ": " + pe.Message + " (SQLSTATE " + pe.Code + ")"
}

func errorResponseToPgError(msg *pgwire.ErrorResponse) *PgError {
	return &PgError{
		Severity:         msg.Severity,
		Code:             msg.Code,
		Message:          msg.Message,
		Detail:           msg.Detail,
		Hint:             msg.Hint,
		Position:         msg.Position,
		InternalPosition: msg.InternalPosition,
		InternalQuery:    msg.InternalQuery,
		Where:            msg.Where,
		SchemaName:       msg.SchemaName,
		TableName:        msg.TableName,
		ColumnName:       msg.ColumnName,
		DataTypeName:     msg.DataTypeName,
		ConstraintName:   msg.ConstraintName,
		File:             msg.File,
		Line:             msg.Line,
		Routine:          msg.Routine,
	}
}

// ConnectError is the error returned by Connect when every candidate host has
// failed. It wraps the error of the last host attempted; earlier host errors are
// discarded. This mirrors libpq's reporting and is the documented contract.
type ConnectError struct {
	Host string
	err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to host %q: %v", e.Host, e.err)
}

func (e *ConnectError) Unwrap() error { return e.err }

// UnexpectedMessageError occurs when a backend message arrives in a position the
// current protocol state does not allow.
type UnexpectedMessageError struct {
	Received byte
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("unexpected message %q", e.Received)
}

// ColumnError occurs when a row is accessed with an invalid column index or an
// unknown column name.
type ColumnError struct {
	Index string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("invalid column index %s", e.Index)
}

// WrongTypeError occurs when the Go destination of a typed get does not accept the
// PostgreSQL type of the column.
type WrongTypeError struct {
	GoType string
	OID    uint32
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("cannot decode OID %d into %s", e.OID, e.GoType)
}

// UnknownOIDError occurs when a type OID cannot be resolved.
type UnknownOIDError struct {
	OID uint32
}

func (e *UnknownOIDError) Error() string {
	return fmt.Sprintf("unknown type OID %d", e.OID)
}

// ScanNullError occurs when a SQL NULL is scanned into a destination that cannot
// represent it.
type ScanNullError struct {
	GoType string
}

func (e *ScanNullError) Error() string {
	return fmt.Sprintf("cannot scan NULL into %s", e.GoType)
}
