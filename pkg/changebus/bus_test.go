package changebus

import (
	"context"
	"testing"
	"time"

	"github.com/flowplane/flowplane/pkg/model"
	"github.com/stretchr/testify/require"
)

func scope() model.Scope { return model.Scope{Org: "acme", Team: "engineering"} }

func TestBusPublishWakesSubscriber(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx, scope())

	b.Publish(scope(), 1)

	v, ok := sub.Wake(ctx)
	require.True(t, ok)
	require.Equal(t, int64(1), v)
}

func TestBusCoalescesRapidPublishes(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx, scope())

	for i := int64(1); i <= 100; i++ {
		b.Publish(scope(), i)
	}

	v, ok := sub.Wake(ctx)
	require.True(t, ok)
	require.Equal(t, int64(100), v, "subscriber should see only the latest version, never an intermediate one")

	waitCtx, waitCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer waitCancel()
	_, ok = sub.Wake(waitCtx)
	require.False(t, ok, "no further wake expected: the 100 publishes collapsed to one")
}

func TestBusIsolatesTenants(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	subA := b.Subscribe(ctx, scope())
	subB := b.Subscribe(ctx, model.Scope{Org: "globex", Team: "ops"})

	b.Publish(scope(), 1)

	v, ok := subA.Wake(ctx)
	require.True(t, ok)
	require.Equal(t, int64(1), v)

	waitCtx, waitCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer waitCancel()
	_, ok = subB.Wake(waitCtx)
	require.False(t, ok, "tenant B must not see tenant A's publish")
}

func TestBusUnsubscribeOnContextDone(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx, scope())
	cancel()

	v, ok := sub.Wake(context.Background())
	require.False(t, ok)
	require.Zero(t, v)
}
