package runtime

import (
	"context"
	stderrors "errors"
	"testing"

	"kitties/pkg/errors"
	"kitties/pkg/events"
	"kitties/pkg/kitties"
	"kitties/pkg/metrics"
	"kitties/pkg/randomness"
	"kitties/pkg/staterepository"
	"kitties/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var (
	alice = types.AccountID{0xa1}
	bob   = types.AccountID{0xb0}
)

func newRuntime(t *testing.T, source randomness.Source, opts ...Option) (*Runtime, *staterepository.PebbleStateRepository) {
	t.Helper()
	repo, err := staterepository.NewMemoryStateRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return New(repo, source, opts...), repo
}

func TestApplyBatchCommitsEachExtrinsic(t *testing.T) {
	rt, _ := newRuntime(t, randomness.Fixed{1})

	res, err := rt.ApplyBatch(context.Background(), []Extrinsic{
		{Origin: kitties.Signed(alice), Call: kitties.Create{}},
		{Origin: kitties.Signed(alice), Call: kitties.Breed{KittyID1: 0, KittyID2: 0}},
		{Origin: kitties.Signed(alice), Call: kitties.Create{}},
		{Origin: kitties.None(), Call: kitties.Create{}},
		{Origin: kitties.Signed(alice), Call: kitties.Breed{KittyID1: 0, KittyID2: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), res.Number)
	require.Len(t, res.Results, 5)

	for i, r := range res.Results {
		require.Equal(t, uint32(i), r.Index)
	}
	require.NoError(t, res.Results[0].Err)
	require.ErrorIs(t, res.Results[1].Err, errors.ErrSameKittyId)
	require.Empty(t, res.Results[1].Events)
	require.NoError(t, res.Results[2].Err)
	require.ErrorIs(t, res.Results[3].Err, errors.ErrBadOrigin)
	require.NoError(t, res.Results[4].Err)

	next, err := rt.NextKittyID()
	require.NoError(t, err)
	require.Equal(t, types.KittyIndex(3), next)

	owned, err := rt.KittiesOwnedBy(alice)
	require.NoError(t, err)
	require.Equal(t, []types.KittyIndex{0, 1, 2}, owned)

	bred, ok := res.Results[4].Events[0].(events.KittyBred)
	require.True(t, ok)
	kitty, found, err := rt.Kitty(2)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, bred.Kitty, kitty)
}

func TestApplyStoresEventsPerBatch(t *testing.T) {
	rt, _ := newRuntime(t, randomness.Fixed{})
	ctx := context.Background()

	created, err := rt.Apply(ctx, Extrinsic{Origin: kitties.Signed(alice), Call: kitties.Create{}})
	require.NoError(t, err)
	require.NoError(t, created.Err)

	res, err := rt.ApplyBatch(ctx, []Extrinsic{
		{Origin: kitties.Signed(bob), Call: kitties.Transfer{KittyID: 0, NewOwner: alice}},
		{Origin: kitties.Signed(alice), Call: kitties.Transfer{KittyID: 0, NewOwner: bob}},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Number)
	require.ErrorIs(t, res.Results[0].Err, errors.ErrNotOwner)

	first, err := rt.Events(0)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, events.KindKittyCreated, first[0].Event.Kind())

	second, err := rt.Events(1)
	require.NoError(t, err)
	want := []events.Record{{
		Batch:     1,
		Extrinsic: 1,
		Event:     events.KittyTransferred{From: alice, To: bob, ID: 0},
	}}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	owner, _, err := rt.Owner(0)
	require.NoError(t, err)
	require.Equal(t, bob, owner)

	number, err := rt.BatchNumber()
	require.NoError(t, err)
	require.Equal(t, uint64(2), number)
}

// committedCheck asserts, while being delivered an event, that the kitty it
// names is already visible in committed state.
type committedCheck struct {
	t    *testing.T
	repo *staterepository.PebbleStateRepository
	seen int
}

func (c *committedCheck) Emit(_ context.Context, rec events.Record) error {
	created, ok := rec.Event.(events.KittyCreated)
	require.True(c.t, ok)
	_, found, err := staterepository.GetKitty(c.repo, created.ID)
	require.NoError(c.t, err)
	require.True(c.t, found)
	c.seen++
	return nil
}

func TestEventsAreEmittedAfterCommit(t *testing.T) {
	repo, err := staterepository.NewMemoryStateRepository()
	require.NoError(t, err)
	defer repo.Close()

	check := &committedCheck{t: t, repo: repo}
	rt := New(repo, randomness.Fixed{}, WithEmitter(check))

	_, err = rt.ApplyBatch(context.Background(), []Extrinsic{
		{Origin: kitties.Signed(alice), Call: kitties.Create{}},
		{Origin: kitties.Signed(alice), Call: kitties.Create{}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, check.seen)
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, events.Record) error {
	return stderrors.New("bus unavailable")
}

func TestEmitFailureDoesNotRollBack(t *testing.T) {
	recorder := &events.Recorder{}
	rt, _ := newRuntime(t, randomness.Fixed{}, WithEmitter(events.Fanout{failingEmitter{}, recorder}))

	res, err := rt.Apply(context.Background(), Extrinsic{Origin: kitties.Signed(alice), Call: kitties.Create{}})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Len(t, recorder.Records(), 1)

	_, found, err := rt.Kitty(0)
	require.NoError(t, err)
	require.True(t, found)
}

func TestRejectedExtrinsicIsNotEmitted(t *testing.T) {
	recorder := &events.Recorder{}
	rt, _ := newRuntime(t, randomness.Fixed{}, WithEmitter(recorder))

	res, err := rt.Apply(context.Background(), Extrinsic{Origin: kitties.Signed(alice), Call: kitties.Breed{KittyID1: 0, KittyID2: 1}})
	require.NoError(t, err)
	require.ErrorIs(t, res.Err, errors.ErrInvalidKittyId)
	require.Empty(t, recorder.Records())

	stored, err := rt.Events(0)
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestHashChainSeedsChainAcrossBatches(t *testing.T) {
	rt, repo := newRuntime(t, randomness.HashChain{})
	ctx := context.Background()

	var parent [32]byte
	for number := uint64(0); number < 3; number++ {
		res, err := rt.ApplyBatch(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, number, res.Number)

		want := randomness.HashChain{}.Seed(randomness.BatchContext{Number: number, ParentSeed: parent})
		require.Equal(t, want, res.Seed)

		stored, err := staterepository.GetRandomSeed(repo)
		require.NoError(t, err)
		require.Equal(t, want, stored)
		parent = want
	}
}

func TestSameSenderDifferentIndexGetsDifferentGenome(t *testing.T) {
	rt, _ := newRuntime(t, randomness.Fixed{7})

	res, err := rt.ApplyBatch(context.Background(), []Extrinsic{
		{Origin: kitties.Signed(alice), Call: kitties.Create{}},
		{Origin: kitties.Signed(alice), Call: kitties.Create{}},
	})
	require.NoError(t, err)

	a := res.Results[0].Events[0].(events.KittyCreated)
	b := res.Results[1].Events[0].(events.KittyCreated)
	require.NotEqual(t, a.Kitty, b.Kitty)

	adapter := randomness.NewAdapter([32]byte{7}, 0)
	require.Equal(t, types.Kitty(adapter.RandomValue(alice, 0)), a.Kitty)
}

func TestApplyRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rt, _ := newRuntime(t, randomness.Fixed{}, WithMetrics(m))

	_, err := rt.ApplyBatch(context.Background(), []Extrinsic{
		{Origin: kitties.Signed(alice), Call: kitties.Create{}},
		{Origin: kitties.None(), Call: kitties.Create{}},
	})
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(m.Extrinsics.WithLabelValues("create", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Extrinsics.WithLabelValues("create", errors.CodeBadOrigin.String())))
	require.Equal(t, 1.0, testutil.ToFloat64(m.NextKittyID))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Batches))
}

func TestStorageFailureStopsBatchButAdvancesMeta(t *testing.T) {
	recorder := &events.Recorder{}
	rt, repo := newRuntime(t, randomness.Fixed{}, WithEmitter(recorder))

	// A kitty already sits where the allocator will point next, so the second
	// create fails inside storage rather than with a dispatch error.
	tx := repo.Begin()
	require.NoError(t, staterepository.InsertKitty(tx, 1, types.Kitty{0xee}))
	require.NoError(t, tx.Commit())

	res, err := rt.ApplyBatch(context.Background(), []Extrinsic{
		{Origin: kitties.Signed(alice), Call: kitties.Create{}},
		{Origin: kitties.Signed(alice), Call: kitties.Create{}},
		{Origin: kitties.Signed(bob), Call: kitties.Create{}},
	})
	require.ErrorIs(t, err, staterepository.ErrDuplicateKitty)
	require.False(t, errors.IsProtocolError(err))
	require.Equal(t, uint64(0), res.Number)
	require.Len(t, res.Results, 1)

	// the first extrinsic stays committed
	owner, found, err := rt.Owner(0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, alice, owner)

	// the failing extrinsic wrote nothing
	next, err := rt.NextKittyID()
	require.NoError(t, err)
	require.Equal(t, types.KittyIndex(1), next)
	_, found, err = rt.Owner(1)
	require.NoError(t, err)
	require.False(t, found)
	kitty, _, err := rt.Kitty(1)
	require.NoError(t, err)
	require.Equal(t, types.Kitty{0xee}, kitty)

	// the last extrinsic never ran
	owned, err := rt.KittiesOwnedBy(bob)
	require.NoError(t, err)
	require.Empty(t, owned)

	stored, err := rt.Events(0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Len(t, recorder.Records(), 1)

	number, err := rt.BatchNumber()
	require.NoError(t, err)
	require.Equal(t, uint64(1), number)
}

func TestNilLoggerFallsBackToDefault(t *testing.T) {
	rt, _ := newRuntime(t, randomness.Fixed{}, WithLogger(nil))

	res, err := rt.Apply(context.Background(), Extrinsic{Origin: kitties.Signed(alice), Call: kitties.Create{}})
	require.NoError(t, err)
	require.NoError(t, res.Err)
}
