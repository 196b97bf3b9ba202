package engine_test

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"testing"
	"time"

	"github.com/lib/pq/oid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larkspur-data/pgengine/codes"
	pgerrors "github.com/larkspur-data/pgengine/errors"
	"github.com/larkspur-data/pgengine/internal/engine"
	"github.com/larkspur-data/pgengine/internal/fakeserver"
)

func startedUp(t *testing.T, creds engine.Credentials) (*engine.Engine, *fakeserver.Server) {
	t.Helper()

	fs := fakeserver.New()
	t.Cleanup(func() { _ = fs.Close() })

	eng := engine.New(fs.Client, slogt.New(t), creds)
	go eng.Run()

	done := make(chan error, 1)
	go func() {
		done <- eng.Startup(context.Background(), nil)
	}()

	_, err := fs.ReadStartupMessage()
	require.NoError(t, err)

	require.NoError(t, fs.SendAuthenticationOK())
	require.NoError(t, fs.SendParameterStatus("server_version", "16.2"))
	require.NoError(t, fs.SendParameterStatus("TimeZone", "UTC"))
	require.NoError(t, fs.SendBackendKeyData(4242, 9999))
	require.NoError(t, fs.SendReadyForQuery('I'))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Startup")
	}

	return eng, fs
}

func TestStartupAuthenticationOK(t *testing.T) {
	eng, _ := startedUp(t, engine.Credentials{User: "alice", Database: "alice"})

	assert.Equal(t, "16.2", eng.StatusParameter("server_version"))
	assert.Equal(t, "UTC", eng.StatusParameter("TimeZone"))
	assert.EqualValues(t, 4242, eng.BackendPID())
	assert.EqualValues(t, 9999, eng.BackendSecretKey())
}

func TestStartupMD5Auth(t *testing.T) {
	fs := fakeserver.New()
	t.Cleanup(func() { _ = fs.Close() })

	eng := engine.New(fs.Client, nil, engine.Credentials{User: "alice", Database: "alice", Password: "secret"})
	go eng.Run()

	done := make(chan error, 1)
	go func() {
		done <- eng.Startup(context.Background(), nil)
	}()

	_, err := fs.ReadStartupMessage()
	require.NoError(t, err)

	salt := [4]byte{1, 2, 3, 4}
	require.NoError(t, fs.SendAuthenticationMD5(salt))

	id, payload, err := fs.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte('p'), id)
	assert.Contains(t, string(payload), "md5")

	require.NoError(t, fs.SendAuthenticationOK())
	require.NoError(t, fs.SendReadyForQuery('I'))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Startup")
	}
}

func TestExecuteSimpleQuery(t *testing.T) {
	eng, fs := startedUp(t, engine.Credentials{User: "alice", Database: "alice"})

	respCh := make(chan struct {
		resp engine.Response
		err  error
	}, 1)
	go func() {
		resp, err := eng.Execute(context.Background(), "select 1", nil)
		respCh <- struct {
			resp engine.Response
			err  error
		}{resp, err}
	}()

	id, payload, err := fs.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte('Q'), id)
	assert.Equal(t, "select 1\x00", string(payload))

	require.NoError(t, fs.SendRowDescription([]string{"?column?"}, []uint32{uint32(oid.T_int4)}))
	require.NoError(t, fs.SendDataRow([][]byte{[]byte("1")}))
	require.NoError(t, fs.SendCommandComplete("SELECT 1"))
	require.NoError(t, fs.SendReadyForQuery('I'))

	select {
	case r := <-respCh:
		require.NoError(t, r.err)
		require.Len(t, r.resp, 1)
		assert.Equal(t, "SELECT 1", r.resp[0].CommandStatus)
		require.Len(t, r.resp[0].Rows, 1)
		assert.Equal(t, int64(1), r.resp[0].Rows[0][0])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Execute")
	}
}

func TestExecuteServerErrorThenRecovers(t *testing.T) {
	eng, fs := startedUp(t, engine.Credentials{User: "alice", Database: "alice"})

	respCh := make(chan error, 1)
	go func() {
		_, err := eng.Execute(context.Background(), "select 1/0", nil)
		respCh <- err
	}()

	_, _, err := fs.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, fs.SendErrorResponse(fakeserver.StandardErrorFields("ERROR", string(codes.DivisionByZero), "division by zero")))
	require.NoError(t, fs.SendReadyForQuery('I'))

	select {
	case err := <-respCh:
		require.Error(t, err)
		assert.True(t, pgerrorsIsDivisionByZero(err))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Execute")
	}

	// the connection must still be usable for a subsequent query.
	respCh2 := make(chan error, 1)
	go func() {
		_, err := eng.Execute(context.Background(), "select 1", nil)
		respCh2 <- err
	}()

	_, _, err = fs.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, fs.SendCommandComplete("SELECT 1"))
	require.NoError(t, fs.SendReadyForQuery('I'))

	select {
	case err := <-respCh2:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second Execute")
	}
}

func pgerrorsIsDivisionByZero(err error) bool {
	var serverErr *pgerrors.ServerError
	return stderrors.As(err, &serverErr) && serverErr.Code == codes.DivisionByZero
}

func TestExecuteExtendedQueryWritesParseBindDescribeExecuteFlushSync(t *testing.T) {
	eng, fs := startedUp(t, engine.Credentials{User: "alice", Database: "alice"})

	respCh := make(chan error, 1)
	go func() {
		_, err := eng.Execute(context.Background(), "SELECT $1", []any{3})
		respCh <- err
	}()

	int4OID := make([]byte, 4)
	binary.BigEndian.PutUint32(int4OID, uint32(oid.T_int4))

	id, payload, err := fs.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte('P'), id)
	wantParse := append([]byte{0x00}, []byte("SELECT $1\x00")...)
	wantParse = append(wantParse, 0x00, 0x01)
	wantParse = append(wantParse, int4OID...)
	assert.Equal(t, wantParse, payload)

	id, payload, err = fs.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte('B'), id)
	wantBind := []byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, '3', 0x00, 0x01, 0x00, 0x00}
	assert.Equal(t, wantBind, payload)

	id, payload, err = fs.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte('D'), id)
	assert.Equal(t, []byte{'P', 0x00}, payload)

	id, payload, err = fs.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte('E'), id)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x00}, payload)

	id, payload, err = fs.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte('H'), id)
	assert.Empty(t, payload)

	id, payload, err = fs.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte('S'), id)
	assert.Empty(t, payload)

	require.NoError(t, fs.SendRowDescription([]string{"?column?"}, []uint32{uint32(oid.T_int4)}))
	require.NoError(t, fs.SendDataRow([][]byte{[]byte("3")}))
	require.NoError(t, fs.SendCommandComplete("SELECT 1"))
	require.NoError(t, fs.SendReadyForQuery('I'))

	select {
	case err := <-respCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Execute")
	}
}

func TestStartupMD5AuthRequiresPassword(t *testing.T) {
	fs := fakeserver.New()
	t.Cleanup(func() { _ = fs.Close() })

	eng := engine.New(fs.Client, slogt.New(t), engine.Credentials{User: "alice", Database: "alice"})
	go eng.Run()

	done := make(chan error, 1)
	go func() {
		done <- eng.Startup(context.Background(), nil)
	}()

	_, err := fs.ReadStartupMessage()
	require.NoError(t, err)

	require.NoError(t, fs.SendAuthenticationMD5([4]byte{1, 2, 3, 4}))

	select {
	case err := <-done:
		require.Error(t, err)
		var protoErr *pgerrors.ProtocolError
		assert.True(t, stderrors.As(err, &protoErr), "expected a *errors.ProtocolError, got %T: %v", err, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Startup to reject the missing password")
	}
}

// drainClientMessages reads and discards every further client message until
// the pipe closes. net.Pipe has no buffering, so without a reader the
// engine's writes (the query, and the Terminate message sent by Close) block.
func drainClientMessages(fs *fakeserver.Server) {
	go func() {
		for {
			if _, _, err := fs.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func TestCloseAbortsInFlightExecute(t *testing.T) {
	eng, fs := startedUp(t, engine.Credentials{User: "alice", Database: "alice"})
	drainClientMessages(fs)

	respCh := make(chan error, 1)
	go func() {
		_, err := eng.Execute(context.Background(), "select pg_sleep(60)", nil)
		respCh <- err
	}()

	// give Execute a moment to install its pending operation.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, eng.Close(context.Background()))

	select {
	case err := <-respCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not abort the in-flight Execute")
	}
}
