package pgengine

import (
	"context"

	"github.com/larkspur-data/pgengine/internal/engine"
	"github.com/larkspur-data/pgengine/pkg/types"
)

// Conn is a single connection to a PostgreSQL backend. Concurrent Execute
// calls are serialized, one request in flight at a time; callers wanting
// parallel queries should open several Conns.
type Conn struct {
	engine *engine.Engine
}

// Execute runs query to completion, substituting parameters positionally
// ($1, $2, ...) when len(params) > 0, and returns one ResultSet per
// semicolon-separated statement (simple query path) or exactly one
// ResultSet (extended query path, used whenever parameters are given).
func (c *Conn) Execute(ctx context.Context, query string, params ...any) (Response, error) {
	resp, err := c.engine.Execute(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return convertResponse(resp), nil
}

// Close terminates the connection, aborting any in-flight Execute with a
// cancellation error.
func (c *Conn) Close(ctx context.Context) error {
	return c.engine.Close(ctx)
}

// StatusParameter returns the last value reported for a server status
// parameter such as "server_version" or "TimeZone", or "" if unknown.
func (c *Conn) StatusParameter(key string) string {
	return c.engine.StatusParameter(key)
}

// StatusParameters returns every known server status parameter.
func (c *Conn) StatusParameters() map[string]string {
	return c.engine.StatusParameters()
}

// ServerVersion is a convenience accessor over StatusParameter("server_version").
func (c *Conn) ServerVersion() string {
	return c.engine.StatusParameter("server_version")
}

// TimeZone is a convenience accessor over StatusParameter("TimeZone").
func (c *Conn) TimeZone() string {
	return c.engine.StatusParameter("TimeZone")
}

// ApplicationName is a convenience accessor over StatusParameter("application_name").
func (c *Conn) ApplicationName() string {
	return c.engine.StatusParameter("application_name")
}

// DateStyle is a convenience accessor over StatusParameter("DateStyle").
func (c *Conn) DateStyle() string {
	return c.engine.StatusParameter("DateStyle")
}

// IsSuperuser reports whether the connected role is a superuser, per the
// "is_superuser" status parameter.
func (c *Conn) IsSuperuser() bool {
	return c.engine.StatusParameter("is_superuser") == "on"
}

// TransactionStatus reports the backend transaction state as of the last
// ReadyForQuery: idle, in a transaction block, or in a failed transaction
// block.
func (c *Conn) TransactionStatus() types.TransactionStatus {
	return c.engine.TransactionStatus()
}

// BackendPID and BackendSecretKey identify this connection for use with
// pg_cancel_backend / pg_terminate_backend from another connection.
func (c *Conn) BackendPID() int32 {
	return c.engine.BackendPID()
}

func (c *Conn) BackendSecretKey() int32 {
	return c.engine.BackendSecretKey()
}

func convertResponse(resp engine.Response) Response {
	if resp == nil {
		return nil
	}

	out := make(Response, len(resp))
	for i, rs := range resp {
		fields := make([]Field, len(rs.Fields))
		for j, f := range rs.Fields {
			fields[j] = Field{
				Name:         f.Name,
				TableOID:     f.TableOID,
				ColumnAttrNo: f.ColumnAttrNo,
				TypeOID:      f.TypeOID,
				TypeSize:     f.TypeSize,
				TypeModifier: f.TypeModifier,
				Format:       f.Format,
			}
		}

		rows := make([]Row, len(rs.Rows))
		for j, r := range rs.Rows {
			rows[j] = Row(r)
		}

		out[i] = ResultSet{Fields: fields, Rows: rows, CommandStatus: rs.CommandStatus}
	}
	return out
}
