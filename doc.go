// Package pgduct is a pipelining PostgreSQL wire protocol client.
/*
pgduct drives a single PostgreSQL connection at the protocol level. It does not
implement database/sql; it exposes the protocol directly so that requests can be
pipelined without waiting for earlier responses.

Establishing a Connection

Use Connect to establish a connection. It accepts a connection string in URL or
DSN form and reads libpq style environment variables. Connect returns a Client
and a Driver. The Client encodes requests; the Driver owns the socket and must
be pumped by the caller, typically in its own goroutine:

    client, driver, err := pgduct.Connect(ctx, config)
    if err != nil {
        // ...
    }
    go driver.Run(ctx)

Pipelining

Every Client operation writes its messages immediately and returns a handle to
the eventual response. Responses arrive strictly in request order. Nothing
requires waiting for one response before sending the next request, so callers
on separate goroutines can share one connection and one round trip.

Executing Queries

Prepare creates a named server-side statement and returns its parameter and
column metadata. Query executes a prepared statement and returns a RowStream.
QueryUnnamed parses, binds, and executes in one shot for queries that run once.
QuerySimple uses the simple query protocol and returns text rows without
preparation. Exec variants discard rows and return the number of rows affected.

Rows are decoded lazily. A RowStream yields Row values whose getters validate
the column type OID before converting, so a scan into the wrong Go type fails
with a descriptive error instead of garbage.

Context Support

All potentially blocking operations take a context.Context. Cancellation of the
driver's context closes the connection. CancelRequest opens a second connection
to ask the server to interrupt the query currently executing.
*/
package pgduct
