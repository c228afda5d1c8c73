// Package storek8s adapts a Kubernetes cluster's Service and Endpoints
// objects into the declarative model.Cluster resources pkg/store holds,
// generalizing ekglue's pkg/k8s.ClusterWatcher (a Reflector watching
// Services into a raw client-go cache.Store) into a watcher that keeps a
// Sink's Cluster resources in sync with live endpoint membership instead
// of just mirroring the raw API objects.
package storek8s

import (
	"context"
	"fmt"
	"sort"
	"sync"

	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/flowplane/flowplane/pkg/model"
)

// Sink is the write half of pkg/store.Store that the watcher needs. Both
// *store.MemoryStore and any future durable-backed store implement it.
type Sink interface {
	Upsert(model.Resource) error
	Delete(model.Key)
}

// Watcher mirrors Kubernetes Service/Endpoints objects from every
// namespace into model.Cluster resources of one tenant scope in a Sink,
// one Cluster per Service (named "namespace/name"),
// with endpoint membership kept current by Kubernetes's own Reflector
// relist/watch loop. Ports come from the Service, hosts come from the
// matching Endpoints object, exactly the information ekglue's original
// CDS/EDS split needed, just expressed as one declarative Cluster rather
// than two Envoy xDS resources.
type Watcher struct {
	client rest.Interface
	tenant model.Scope
	sink   Sink

	mu        sync.Mutex
	services  map[string]*v1.Service
	endpoints map[string]*v1.Endpoints // namespace/name -> endpoints
}

// ConnectOutOfCluster connects to the API server from outside of the
// cluster, e.g. from an operator's workstation or CI.
func ConnectOutOfCluster(kubeconfig, master string, tenant model.Scope, sink Sink) (*Watcher, error) {
	config, err := clientcmd.BuildConfigFromFlags(master, kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("storek8s: build config: %w", err)
	}
	return newWatcher(config, tenant, sink)
}

// ConnectInCluster connects to the API server using the pod's own
// in-cluster service account, the way the control plane runs in
// production.
func ConnectInCluster(tenant model.Scope, sink Sink) (*Watcher, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("storek8s: get in-cluster config: %w", err)
	}
	return newWatcher(config, tenant, sink)
}

func newWatcher(config *rest.Config, tenant model.Scope, sink Sink) (*Watcher, error) {
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("storek8s: new client: %w", err)
	}
	return &Watcher{
		client:    clientset.CoreV1().RESTClient(),
		tenant:    tenant,
		sink:      sink,
		services:  make(map[string]*v1.Service),
		endpoints: make(map[string]*v1.Endpoints),
	}, nil
}

// Run watches Services and Endpoints across every namespace until ctx is
// done, keeping the Sink's Cluster resources (one per Service) current.
// It blocks; callers run it in its own goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		lw := cache.NewListWatchFromClient(w.client, "services", "", fields.Everything())
		r := cache.NewReflector(lw, &v1.Service{}, &serviceSink{w: w}, 0)
		r.Run(ctx.Done())
	}()

	go func() {
		defer wg.Done()
		lw := cache.NewListWatchFromClient(w.client, "endpoints", "", fields.Everything())
		r := cache.NewReflector(lw, &v1.Endpoints{}, &endpointsSink{w: w}, 0)
		r.Run(ctx.Done())
	}()

	wg.Wait()
	return ctx.Err()
}

func namespacedName(namespace, name string) string { return namespace + "/" + name }

// sync recomputes and upserts (or deletes) the Cluster for key. Callers
// must not hold w.mu; sync takes it itself to read the cached Service and
// Endpoints, and releases it before writing to the Sink.
func (w *Watcher) sync(key string) {
	w.mu.Lock()
	svc, haveSvc := w.services[key]
	ep := w.endpoints[key]
	w.mu.Unlock()

	if !haveSvc {
		// a Service's deletion removes its Cluster outright, even if
		// stale Endpoints for it linger momentarily.
		w.sink.Delete(model.Key{Scope: w.tenant, Kind: model.KindCluster, Name: key})
		return
	}
	if len(svc.Spec.Ports) == 0 {
		return
	}
	port := uint32(svc.Spec.Ports[0].Port)

	var targets []model.EndpointTarget
	if ep != nil {
		targets = endpointTargetsFrom(ep)
	}
	for i := range targets {
		targets[i].Port = port
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Address < targets[j].Address })

	if len(targets) == 0 {
		// no ready endpoints yet: fall back to the Service's own cluster
		// DNS name so the Cluster still resolves to something via
		// STRICT_DNS instead of disappearing entirely during rollout.
		targets = []model.EndpointTarget{{Hostname: svc.Name + "." + svc.Namespace + ".svc.cluster.local", Port: port}}
	}

	_ = w.sink.Upsert(&model.Cluster{
		Scope:     w.tenant,
		Name:      key,
		Endpoints: targets,
	})
}

type serviceSink struct{ w *Watcher }

func (s *serviceSink) Add(obj interface{}) error {
	svc := obj.(*v1.Service)
	key := namespacedName(svc.Namespace, svc.Name)
	s.w.mu.Lock()
	s.w.services[key] = svc
	s.w.mu.Unlock()
	s.w.sync(key)
	return nil
}

func (s *serviceSink) Update(obj interface{}) error { return s.Add(obj) }

func (s *serviceSink) Delete(obj interface{}) error {
	svc, ok := obj.(*v1.Service)
	if !ok {
		if d, ok := obj.(cache.DeletedFinalStateUnknown); ok {
			svc, _ = d.Obj.(*v1.Service)
		}
	}
	if svc == nil {
		return nil
	}
	key := namespacedName(svc.Namespace, svc.Name)
	s.w.mu.Lock()
	delete(s.w.services, key)
	s.w.mu.Unlock()
	s.w.sync(key)
	return nil
}

func (s *serviceSink) List() []interface{} {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	out := make([]interface{}, 0, len(s.w.services))
	for _, svc := range s.w.services {
		out = append(out, svc)
	}
	return out
}

func (s *serviceSink) ListKeys() []string {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	out := make([]string, 0, len(s.w.services))
	for k := range s.w.services {
		out = append(out, k)
	}
	return out
}

func (s *serviceSink) Get(obj interface{}) (interface{}, bool, error) {
	svc := obj.(*v1.Service)
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	v, ok := s.w.services[namespacedName(svc.Namespace, svc.Name)]
	return v, ok, nil
}

func (s *serviceSink) GetByKey(key string) (interface{}, bool, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	v, ok := s.w.services[key]
	return v, ok, nil
}

func (s *serviceSink) Replace(objs []interface{}, _ string) error {
	s.w.mu.Lock()
	s.w.services = make(map[string]*v1.Service, len(objs))
	s.w.mu.Unlock()
	for _, o := range objs {
		_ = s.Add(o)
	}
	return nil
}

func (s *serviceSink) Resync() error { return nil }

type endpointsSink struct{ w *Watcher }

func endpointTargetsFrom(ep *v1.Endpoints) []model.EndpointTarget {
	var targets []model.EndpointTarget
	for _, subset := range ep.Subsets {
		for _, addr := range subset.Addresses {
			targets = append(targets, model.EndpointTarget{Address: addr.IP})
		}
	}
	return targets
}

func (e *endpointsSink) Add(obj interface{}) error {
	ep := obj.(*v1.Endpoints)
	key := namespacedName(ep.Namespace, ep.Name)
	e.w.mu.Lock()
	e.w.endpoints[key] = ep
	e.w.mu.Unlock()
	e.w.sync(key)
	return nil
}

func (e *endpointsSink) Update(obj interface{}) error { return e.Add(obj) }

func (e *endpointsSink) Delete(obj interface{}) error {
	ep, ok := obj.(*v1.Endpoints)
	if !ok {
		if d, ok := obj.(cache.DeletedFinalStateUnknown); ok {
			ep, _ = d.Obj.(*v1.Endpoints)
		}
	}
	if ep == nil {
		return nil
	}
	key := namespacedName(ep.Namespace, ep.Name)
	e.w.mu.Lock()
	delete(e.w.endpoints, key)
	e.w.mu.Unlock()
	e.w.sync(key)
	return nil
}

func (e *endpointsSink) List() []interface{} {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	out := make([]interface{}, 0, len(e.w.endpoints))
	for _, ep := range e.w.endpoints {
		out = append(out, ep)
	}
	return out
}

func (e *endpointsSink) ListKeys() []string {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	out := make([]string, 0, len(e.w.endpoints))
	for k := range e.w.endpoints {
		out = append(out, k)
	}
	return out
}

func (e *endpointsSink) Get(obj interface{}) (interface{}, bool, error) {
	ep := obj.(*v1.Endpoints)
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	v, ok := e.w.endpoints[namespacedName(ep.Namespace, ep.Name)]
	return v, ok, nil
}

func (e *endpointsSink) GetByKey(key string) (interface{}, bool, error) {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	v, ok := e.w.endpoints[key]
	return v, ok, nil
}

func (e *endpointsSink) Replace(objs []interface{}, _ string) error {
	e.w.mu.Lock()
	e.w.endpoints = make(map[string]*v1.Endpoints, len(objs))
	e.w.mu.Unlock()
	for _, o := range objs {
		_ = e.Add(o)
	}
	return nil
}

func (e *endpointsSink) Resync() error { return nil }
