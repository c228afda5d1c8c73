package storek8s

import (
	"testing"

	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/flowplane/flowplane/pkg/model"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	upserts []model.Resource
	deletes []model.Key
}

func (f *fakeSink) Upsert(r model.Resource) error {
	f.upserts = append(f.upserts, r)
	return nil
}

func (f *fakeSink) Delete(k model.Key) { f.deletes = append(f.deletes, k) }

func testTenant() model.Scope { return model.Scope{Org: "acme", Team: "platform"} }

func newTestWatcher(sink Sink) *Watcher {
	return &Watcher{
		tenant:    testTenant(),
		sink:      sink,
		services:  make(map[string]*v1.Service),
		endpoints: make(map[string]*v1.Endpoints),
	}
}

func TestWatcherMergesServiceAndEndpointsIntoCluster(t *testing.T) {
	sink := &fakeSink{}
	w := newTestWatcher(sink)

	svcSink := &serviceSink{w: w}
	epSink := &endpointsSink{w: w}

	require.NoError(t, svcSink.Add(&v1.Service{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "users"},
		Spec:       v1.ServiceSpec{Ports: []v1.ServicePort{{Port: 8080}}},
	}))
	require.NoError(t, epSink.Add(&v1.Endpoints{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "users"},
		Subsets: []v1.EndpointSubset{{
			Addresses: []v1.EndpointAddress{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}},
		}},
	}))

	require.Len(t, sink.upserts, 2) // one from each Add
	last := sink.upserts[len(sink.upserts)-1].(*model.Cluster)
	require.Equal(t, "default/users", last.Name)
	require.Len(t, last.Endpoints, 2)
	require.Equal(t, uint32(8080), last.Endpoints[0].Port)
	require.Equal(t, testTenant(), last.Scope)
}

func TestWatcherFallsBackToDNSNameWithNoReadyEndpoints(t *testing.T) {
	sink := &fakeSink{}
	w := newTestWatcher(sink)
	svcSink := &serviceSink{w: w}

	require.NoError(t, svcSink.Add(&v1.Service{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "draining"},
		Spec:       v1.ServiceSpec{Ports: []v1.ServicePort{{Port: 9000}}},
	}))

	last := sink.upserts[len(sink.upserts)-1].(*model.Cluster)
	require.Len(t, last.Endpoints, 1)
	require.Equal(t, "draining.default.svc.cluster.local", last.Endpoints[0].Hostname)
}

func TestWatcherDeletesClusterWhenServiceRemoved(t *testing.T) {
	sink := &fakeSink{}
	w := newTestWatcher(sink)
	svcSink := &serviceSink{w: w}

	svc := &v1.Service{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "users"},
		Spec:       v1.ServiceSpec{Ports: []v1.ServicePort{{Port: 8080}}},
	}
	require.NoError(t, svcSink.Add(svc))
	require.NoError(t, svcSink.Delete(svc))

	require.Len(t, sink.deletes, 1)
	require.Equal(t, "default/users", sink.deletes[0].Name)
	require.Equal(t, model.KindCluster, sink.deletes[0].Kind)
}
