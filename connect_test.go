package pgengine_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgengine "github.com/larkspur-data/pgengine"
	"github.com/larkspur-data/pgengine/internal/fakeserver"
)

// pipeDialer implements pgengine.Dialer by handing back one pre-built
// net.Pipe client connection, ignoring the requested network/address.
type pipeDialer struct {
	client net.Conn
}

func (d pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.client, nil
}

// drainClientMessages reads and discards every further client message until
// the pipe closes. net.Pipe has no buffering, so without a reader the
// engine's writes (including the Terminate message sent by Close) block.
func drainClientMessages(fs *fakeserver.Server) {
	go func() {
		for {
			if _, _, err := fs.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func TestConnectRunsStartupHandshake(t *testing.T) {
	fs := fakeserver.New()
	t.Cleanup(func() { _ = fs.Close() })

	connCh := make(chan *pgengine.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := pgengine.Connect(context.Background(),
			pgengine.WithDialer(pipeDialer{client: fs.Client}),
			pgengine.WithUser("alice"),
			pgengine.WithDatabase("alice"),
		)
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}()

	_, err := fs.ReadStartupMessage()
	require.NoError(t, err)

	require.NoError(t, fs.SendAuthenticationOK())
	require.NoError(t, fs.SendParameterStatus("server_version", "16.2"))
	require.NoError(t, fs.SendReadyForQuery('I'))

	select {
	case conn := <-connCh:
		require.Equal(t, "16.2", conn.ServerVersion())
		drainClientMessages(fs)
		require.NoError(t, conn.Close(context.Background()))
	case err := <-errCh:
		t.Fatalf("Connect failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connect")
	}
}

func TestConnDateStyleAndIsSuperuserReflectParameterStatus(t *testing.T) {
	fs := fakeserver.New()
	t.Cleanup(func() { _ = fs.Close() })

	connCh := make(chan *pgengine.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := pgengine.Connect(context.Background(),
			pgengine.WithDialer(pipeDialer{client: fs.Client}),
			pgengine.WithUser("alice"),
			pgengine.WithDatabase("alice"),
		)
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}()

	_, err := fs.ReadStartupMessage()
	require.NoError(t, err)

	require.NoError(t, fs.SendAuthenticationOK())
	require.NoError(t, fs.SendParameterStatus("DateStyle", "ISO, MDY"))
	require.NoError(t, fs.SendParameterStatus("is_superuser", "on"))
	require.NoError(t, fs.SendReadyForQuery('I'))

	select {
	case conn := <-connCh:
		assert.Equal(t, "ISO, MDY", conn.DateStyle())
		assert.True(t, conn.IsSuperuser())
		drainClientMessages(fs)
		require.NoError(t, conn.Close(context.Background()))
	case err := <-errCh:
		t.Fatalf("Connect failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connect")
	}
}
