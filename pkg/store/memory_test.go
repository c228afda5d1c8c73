package store

import (
	"context"
	"testing"
	"time"

	"github.com/flowplane/flowplane/pkg/model"
	"github.com/stretchr/testify/require"
)

func testScope() model.Scope { return model.Scope{Org: "acme", Team: "engineering"} }

func TestMemoryStoreUpsertAndGet(t *testing.T) {
	s := NewMemoryStore()
	c := &model.Cluster{Scope: testScope(), Name: "users", Endpoints: []model.EndpointTarget{{Address: "10.0.0.1", Port: 8080}}}
	require.NoError(t, s.Upsert(c))

	got, err := s.Get(context.Background(), testScope(), model.KindCluster, "users")
	require.NoError(t, err)
	require.Equal(t, c, got)

	_, err = s.Get(context.Background(), testScope(), model.KindCluster, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListIncludesShared(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Upsert(&model.Cluster{Scope: testScope(), Name: "own"}))
	require.NoError(t, s.Upsert(&model.Cluster{Scope: model.Shared, Name: "shared-cluster"}))
	require.NoError(t, s.Upsert(&model.Cluster{Scope: model.Scope{Org: "globex", Team: "ops"}, Name: "other-tenant"}))

	list, err := s.List(context.Background(), testScope(), model.KindCluster)
	require.NoError(t, err)
	require.Len(t, list, 2)
	names := []string{list[0].Key().Name, list[1].Key().Name}
	require.ElementsMatch(t, []string{"own", "shared-cluster"}, names)
}

func TestMemoryStoreSubscribeDeliversChanges(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, testScope())
	require.NoError(t, err)

	require.NoError(t, s.Upsert(&model.Cluster{Scope: testScope(), Name: "users"}))

	select {
	case ev := <-ch:
		require.Equal(t, "users", ev.Name)
		require.Equal(t, OpUpsert, ev.Op)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestMemoryStoreSubscribeCoalescesRapidChanges(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, testScope())
	require.NoError(t, err)

	// Saturate the subscriber before it has a chance to drain: 100 rapid
	// writes to the same resource should coalesce to a single pending
	// entry, not 100 queued events (scenario 6 in spec.md).
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Upsert(&model.Cluster{Scope: testScope(), Name: "users", HealthCheck: &model.HealthCheck{IntervalSeconds: uint32(i)}}))
	}

	select {
	case ev := <-ch:
		require.Equal(t, "users", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected no further coalesced events for a single resource's rapid updates")
		}
	case <-time.After(50 * time.Millisecond):
		// no further event: correct, the 100 writes collapsed to one.
	}
}

func TestMemoryStoreSubscribeClosesOnContextDone(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Subscribe(ctx, testScope())
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestMemoryStoreDeleteNotifies(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Upsert(&model.Cluster{Scope: testScope(), Name: "users"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Subscribe(ctx, testScope())
	require.NoError(t, err)

	s.Delete(model.Key{Scope: testScope(), Kind: model.KindCluster, Name: "users"})

	select {
	case ev := <-ch:
		require.Equal(t, OpDelete, ev.Op)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delete event")
	}

	_, err = s.Get(context.Background(), testScope(), model.KindCluster, "users")
	require.ErrorIs(t, err, ErrNotFound)
}
