package staterepository

import (
	"errors"
	"testing"

	"kitties/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *PebbleStateRepository {
	t.Helper()
	repo, err := NewMemoryStateRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestTxIsInvisibleUntilCommit(t *testing.T) {
	repo := newRepo(t)
	kitty := types.Kitty{1, 2, 3}

	tx := repo.Begin()
	require.NoError(t, InsertKitty(tx, 0, kitty))
	require.NoError(t, SetNextKittyID(tx, 1))

	// the transaction reads its own writes
	got, ok, err := GetKitty(tx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kitty, got)

	_, ok, err = GetKitty(repo, 0)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Close())

	got, ok, err = GetKitty(repo, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kitty, got)

	next, err := GetNextKittyID(repo)
	require.NoError(t, err)
	require.Equal(t, types.KittyIndex(1), next)
}

func TestCloseRollsBack(t *testing.T) {
	repo := newRepo(t)

	tx := repo.Begin()
	require.NoError(t, InsertKitty(tx, 4, types.Kitty{9}))
	require.NoError(t, SetKittyOwner(tx, 4, types.AccountID{1}))
	require.NoError(t, tx.Close())

	_, ok, err := GetKitty(repo, 4)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = GetKittyOwner(repo, 4)
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, tx.Commit())
	require.Error(t, SetKittyOwner(tx, 4, types.AccountID{1}))
}

func TestInsertKittyRejectsDuplicate(t *testing.T) {
	repo := newRepo(t)

	tx := repo.Begin()
	defer tx.Close()
	require.NoError(t, InsertKitty(tx, 2, types.Kitty{1}))

	err := InsertKitty(tx, 2, types.Kitty{2})
	require.True(t, errors.Is(err, ErrDuplicateKitty))

	got, _, err := GetKitty(tx, 2)
	require.NoError(t, err)
	require.Equal(t, types.Kitty{1}, got)
}

func TestNextKittyIDNeverDecreases(t *testing.T) {
	repo := newRepo(t)

	tx := repo.Begin()
	defer tx.Close()

	next, err := GetNextKittyID(tx)
	require.NoError(t, err)
	require.Equal(t, types.KittyIndex(0), next)

	require.NoError(t, SetNextKittyID(tx, 5))
	require.Error(t, SetNextKittyID(tx, 4))
}

func TestKittiesOwnedBy(t *testing.T) {
	repo := newRepo(t)
	alice, bob := types.AccountID{0xa}, types.AccountID{0xb}

	tx := repo.Begin()
	for id, owner := range []types.AccountID{alice, bob, alice, alice, bob} {
		require.NoError(t, InsertKitty(tx, types.KittyIndex(id), types.Kitty{byte(id)}))
		require.NoError(t, SetKittyOwner(tx, types.KittyIndex(id), owner))
	}
	// id 256 sorts after 4 only with big-endian keys
	require.NoError(t, InsertKitty(tx, 256, types.Kitty{}))
	require.NoError(t, SetKittyOwner(tx, 256, alice))
	require.NoError(t, tx.Commit())

	owned, err := KittiesOwnedBy(repo, alice)
	require.NoError(t, err)
	if diff := cmp.Diff([]types.KittyIndex{0, 2, 3, 256}, owned); diff != "" {
		t.Fatalf("alice's kitties (-want +got):\n%s", diff)
	}

	count, err := CountKitties(repo)
	require.NoError(t, err)
	require.Equal(t, 6, count)
}

func TestBatchMetaAndEvents(t *testing.T) {
	repo := newRepo(t)

	n, err := GetBatchNumber(repo)
	require.NoError(t, err)
	require.Zero(t, n)

	tx := repo.Begin()
	require.NoError(t, PutEvent(tx, 0, 1, 0, []byte("b")))
	require.NoError(t, PutEvent(tx, 0, 0, 0, []byte("a")))
	require.NoError(t, PutEvent(tx, 1, 0, 0, []byte("c")))
	require.NoError(t, SetBatchMeta(tx, 0, [32]byte{7}))
	require.NoError(t, tx.Commit())

	events, err := GetEvents(repo, 0)
	require.NoError(t, err)
	want := []StoredEvent{{Extrinsic: 0, Data: []byte("a")}, {Extrinsic: 1, Data: []byte("b")}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}

	seed, err := GetRandomSeed(repo)
	require.NoError(t, err)
	require.Equal(t, [32]byte{7}, seed)

	n, err = GetBatchNumber(repo)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestPrefixUpperBound(t *testing.T) {
	require.Equal(t, []byte("event;"), prefixUpperBound([]byte("event:")))
	require.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01, 0xff}))
	require.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
