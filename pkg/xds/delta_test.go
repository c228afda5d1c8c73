package xds

import (
	"context"
	"io"
	"testing"
	"time"

	discoveryv3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/pkg/changebus"
	"github.com/flowplane/flowplane/pkg/snapshot"
)

type fakeADSDeltaStream struct {
	ctx    context.Context
	recvCh chan *discoveryv3.DeltaDiscoveryRequest
	sendCh chan *discoveryv3.DeltaDiscoveryResponse
}

func newFakeADSDeltaStream(ctx context.Context) *fakeADSDeltaStream {
	return &fakeADSDeltaStream{ctx: ctx, recvCh: make(chan *discoveryv3.DeltaDiscoveryRequest), sendCh: make(chan *discoveryv3.DeltaDiscoveryResponse, 16)}
}

func (f *fakeADSDeltaStream) Context() context.Context { return f.ctx }

func (f *fakeADSDeltaStream) Recv() (*discoveryv3.DeltaDiscoveryRequest, error) {
	req, ok := <-f.recvCh
	if !ok {
		return nil, io.EOF
	}
	return req, nil
}

func (f *fakeADSDeltaStream) Send(resp *discoveryv3.DeltaDiscoveryResponse) error {
	f.sendCh <- resp
	return nil
}

func recvDeltaResponse(t *testing.T, stream *fakeADSDeltaStream) *discoveryv3.DeltaDiscoveryResponse {
	t.Helper()
	select {
	case resp := <-stream.sendCh:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delta discovery response")
		return nil
	}
}

// TestDeltaSendsOnlySubscribedNamesAndHonorsWarming exercises the Delta
// variant: only explicitly-subscribed resources are ever pushed, and a
// Listener is still withheld until its RouteConfiguration dependency is
// acked, exactly as SOTW withholds it.
func TestDeltaSendsOnlySubscribedNamesAndHonorsWarming(t *testing.T) {
	cache := snapshot.NewCache()
	cache.Replace(buildTestSnapshot(t))
	bus := changebus.New()
	s := newTestServer(cache, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := newFakeADSDeltaStream(ctx)

	done := make(chan error, 1)
	go func() { done <- s.runDelta(stream) }()

	stream.recvCh <- &discoveryv3.DeltaDiscoveryRequest{
		Node:                   testNode(),
		TypeUrl:                snapshot.TypeRoute.TypeURL(),
		ResourceNamesSubscribe: []string{"main-rc"},
	}
	routeResp := recvDeltaResponse(t, stream)
	require.Equal(t, snapshot.TypeRoute.TypeURL(), routeResp.TypeUrl)
	require.Len(t, routeResp.Resources, 1)
	require.Equal(t, "main-rc", routeResp.Resources[0].Name)

	stream.recvCh <- &discoveryv3.DeltaDiscoveryRequest{
		TypeUrl:                snapshot.TypeListener.TypeURL(),
		ResourceNamesSubscribe: []string{"edge"},
	}
	select {
	case resp := <-stream.sendCh:
		t.Fatalf("listener must not be sent before its route dependency is acked, got %v", resp)
	case <-time.After(200 * time.Millisecond):
	}

	stream.recvCh <- &discoveryv3.DeltaDiscoveryRequest{
		TypeUrl:       snapshot.TypeRoute.TypeURL(),
		ResponseNonce: routeResp.Nonce,
	}

	// the route ACK itself re-evaluates and pushes the now-warm Listener
	// (handleDeltaAck); this wake finds nothing further to send.
	bus.Publish(testTenant(), 2)

	listenerResp := recvDeltaResponse(t, stream)
	require.Equal(t, snapshot.TypeListener.TypeURL(), listenerResp.TypeUrl)
	require.Len(t, listenerResp.Resources, 1)

	cancel()
	<-done
}
