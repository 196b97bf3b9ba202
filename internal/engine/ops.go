package engine

import (
	"context"
	"fmt"

	"github.com/larkspur-data/pgengine/pkg/types"
)

// Startup writes the StartupMessage and blocks until authentication and the
// initial ReadyForQuery complete, or ctx is done. It must be called exactly
// once, before Run's read loop has consumed anything but the handshake.
func (e *Engine) Startup(ctx context.Context, runtimeParams map[string]string) error {
	select {
	case <-e.sem:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { e.sem <- struct{}{} }()

	p, err := e.installPending()
	if err != nil {
		return err
	}

	params := map[string]string{
		"user":     e.creds.User,
		"database": e.creds.Database,
	}
	if e.creds.ApplicationName != "" {
		params["application_name"] = e.creds.ApplicationName
	}
	for k, v := range runtimeParams {
		params[k] = v
	}

	e.setState(AwaitingAuth)
	e.writeMu.Lock()
	err = e.writer.WriteStartup(types.Version30, params)
	e.writeMu.Unlock()
	if err != nil {
		e.abortPending(err)
		return err
	}

	select {
	case res := <-p.resultCh:
		return res.err
	case <-ctx.Done():
		e.abortPending(ctx.Err())
		return ctx.Err()
	}
}

// Execute runs one query to completion and returns its Response. Only one
// Execute (or Startup) may be in flight on a connection at a time; callers
// are serialized by sem.
func (e *Engine) Execute(ctx context.Context, query string, params []any) (Response, error) {
	select {
	case <-e.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { e.sem <- struct{}{} }()

	if state := e.getState(); state != Idle {
		return nil, fmt.Errorf("postgres: connection not ready for a new query (state: %s)", state)
	}

	p, err := e.installPending()
	if err != nil {
		return nil, err
	}

	e.setState(Busy)

	if len(params) == 0 {
		err = e.writeSimpleQuery(query)
	} else {
		err = e.writeExtendedQuery(query, params)
	}
	if err != nil {
		e.abortPending(err)
		return nil, err
	}

	select {
	case res := <-p.resultCh:
		return res.response, res.err
	case <-ctx.Done():
		e.abortPending(ctx.Err())
		return nil, ctx.Err()
	}
}
