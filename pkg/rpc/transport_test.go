package rpc

import (
	"context"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kitties/pkg/events"
	"kitties/pkg/kitties"
	"kitties/pkg/randomness"
	"kitties/pkg/runtime"
	"kitties/pkg/staterepository"
	"kitties/pkg/types"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo, err := staterepository.NewMemoryStateRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return NewServer(runtime.New(repo, randomness.Fixed{5}), nil)
}

func TestQUICClientKeyOwnsCreatedKitty(t *testing.T) {
	server := newTestServer(t)
	serverKey, clientKey := newKey(t, 1), newKey(t, 2)

	listener, err := listenQUIC("127.0.0.1:0", serverKey)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.serveQUIC(ctx, listener) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dialCancel()
	client, err := DialQUIC(dialCtx, listener.Addr().String(), clientKey)
	require.NoError(t, err)

	res, err := client.Submit(Extrinsic{Call: kitties.Create{}})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	require.NoError(t, res.Outcomes[0].Err)

	want := AccountFromKey(clientKey.Public().(ed25519.PublicKey))
	created, ok := res.Outcomes[0].Events[0].(events.KittyCreated)
	require.True(t, ok)
	require.Equal(t, want, created.Owner)

	owner, found, err := client.Owner(0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, want, owner)

	require.NoError(t, client.Close())
	cancel()
	require.NoError(t, <-served)
}

func TestServeUnixStopsAndClosesConnections(t *testing.T) {
	server := newTestServer(t)

	dir, err := os.MkdirTemp("", "kitties")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	socketPath := filepath.Join(dir, "k.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- server.ServeUnix(ctx, socketPath) }()

	var client *Client
	require.Eventually(t, func() bool {
		c, err := DialUnix(context.Background(), socketPath)
		if err != nil {
			return false
		}
		client = c
		return true
	}, 5*time.Second, 10*time.Millisecond)
	defer client.Close()

	signer := types.AccountID{0x51}
	res, err := client.Submit(Extrinsic{Signer: &signer, Call: kitties.Create{}})
	require.NoError(t, err)
	require.NoError(t, res.Outcomes[0].Err)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeUnix did not return after cancel")
	}

	// The server closed the open connection on its way out.
	_, err = client.NextKittyID()
	require.Error(t, err)
}
