package engine

import (
	"github.com/larkspur-data/pgengine/internal/values"
	"github.com/larkspur-data/pgengine/pkg/types"
)

// writeSimpleQuery assembles a single Query ('Q') message. Used whenever a
// call carries no parameters, matching the teacher's preference for the
// simple protocol when extended-query features aren't needed; this also
// lets a caller pass several semicolon-separated statements in one string.
func (e *Engine) writeSimpleQuery(query string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.writer.Start(types.ClientSimpleQuery)
	e.writer.AddString(query)
	e.writer.AddNullTerminate()
	if err := e.writer.End(); err != nil {
		return err
	}
	return e.writer.Flush()
}

// writeExtendedQuery assembles the unnamed-statement/unnamed-portal
// Parse/Bind/Describe/Execute/Flush/Sync pipeline as a single buffered write, per
// the request builder's "assemble once, write once" design.
func (e *Engine) writeExtendedQuery(query string, params []any) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	encoded := make([]values.Param, len(params))
	for i, p := range params {
		encoded[i] = values.EncodeParam(p)
	}

	e.writer.Start(types.ClientParse)
	e.writer.AddNullTerminate() // unnamed prepared statement
	e.writer.AddString(query)
	e.writer.AddNullTerminate()
	e.writer.AddInt16(int16(len(encoded)))
	for _, p := range encoded {
		e.writer.AddUint32(uint32(p.OID))
	}
	if err := e.writer.End(); err != nil {
		return err
	}

	e.writer.Start(types.ClientBind)
	e.writer.AddNullTerminate() // unnamed portal
	e.writer.AddNullTerminate() // unnamed statement
	e.writer.AddInt16(int16(len(encoded)))
	for range encoded {
		e.writer.AddInt16(int16(types.TextFormat))
	}
	e.writer.AddInt16(int16(len(encoded)))
	for _, p := range encoded {
		if p.IsNull() {
			e.writer.AddInt32(-1)
			continue
		}
		e.writer.AddInt32(int32(len(p.Value)))
		e.writer.AddBytes(p.Value)
	}
	e.writer.AddInt16(1) // one result format code
	e.writer.AddInt16(int16(types.TextFormat))
	if err := e.writer.End(); err != nil {
		return err
	}

	e.writer.Start(types.ClientDescribe)
	e.writer.AddByte('P') // describe the unnamed portal
	e.writer.AddNullTerminate()
	if err := e.writer.End(); err != nil {
		return err
	}

	e.writer.Start(types.ClientExecute)
	e.writer.AddNullTerminate() // unnamed portal
	e.writer.AddInt32(0)        // no row limit
	if err := e.writer.End(); err != nil {
		return err
	}

	e.writer.Start(types.ClientFlush)
	if err := e.writer.End(); err != nil {
		return err
	}

	e.writer.Start(types.ClientSync)
	if err := e.writer.End(); err != nil {
		return err
	}

	return e.writer.Flush()
}
