package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowplane/flowplane/pkg/model"
)

// MemoryStore is a process-local Store used by tests and by embedders that
// don't need durability. Writes are serialized by a single mutex, which
// trivially satisfies the linearizable-per-(scope,kind,name) contract
// (it's linearizable for everything, a stronger guarantee than required).
//
// Subscribers get a bounded, coalescing delivery queue: if a subscriber
// falls behind, multiple changes to the same (scope,kind,name) collapse
// into the most recent one before it is ever sent, so "at-least-once,
// coalescing allowed" holds without unbounded memory growth.
type MemoryStore struct {
	mu   sync.Mutex
	data map[model.Key]model.Resource
	subs map[model.Scope]map[*subscriber]struct{}
}

type subscriber struct {
	mu      sync.Mutex
	pending map[model.Key]ChangeEvent
	order   []model.Key // FIFO order of pending keys, for delivery order
	notify  chan struct{}
	out     chan ChangeEvent
	done    <-chan struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[model.Key]model.Resource),
		subs: make(map[model.Scope]map[*subscriber]struct{}),
	}
}

func visibleScopes(scope model.Scope) []model.Scope {
	if scope == model.Shared {
		return []model.Scope{model.Shared}
	}
	return []model.Scope{scope, model.Shared}
}

func (s *MemoryStore) List(_ context.Context, scope model.Scope, kind model.Kind) ([]model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Resource
	for _, vs := range visibleScopes(scope) {
		for k, r := range s.data {
			if k.Scope == vs && k.Kind == kind {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Name < out[j].Key().Name })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, scope model.Scope, kind model.Kind, name string) (model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, vs := range visibleScopes(scope) {
		if r, ok := s.data[model.Key{Scope: vs, Kind: kind, Name: name}]; ok {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Scopes(_ context.Context) ([]model.Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[model.Scope]bool{}
	var out []model.Scope
	for k := range s.data {
		if k.Scope == model.Shared {
			continue
		}
		if !seen[k.Scope] {
			seen[k.Scope] = true
			out = append(out, k.Scope)
		}
	}
	return out, nil
}

// Upsert creates or replaces a resource and notifies subscribers of its
// scope (and any scope that can see it, if it's Shared).
func (s *MemoryStore) Upsert(r model.Resource) error {
	key := r.Key()
	if key.Name == "" {
		return fmt.Errorf("store: resource has empty name")
	}
	s.mu.Lock()
	s.data[key] = r
	s.mu.Unlock()
	s.publish(ChangeEvent{Scope: key.Scope, Kind: key.Kind, Name: key.Name, Op: OpUpsert})
	return nil
}

// Delete removes a resource by key, notifying subscribers. Deleting a
// resource that does not exist is a no-op.
func (s *MemoryStore) Delete(key model.Key) {
	s.mu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	s.mu.Unlock()
	if existed {
		s.publish(ChangeEvent{Scope: key.Scope, Kind: key.Kind, Name: key.Name, Op: OpDelete})
	}
}

func (s *MemoryStore) publish(ev ChangeEvent) {
	s.mu.Lock()
	var targets []*subscriber
	if ev.Scope == model.Shared {
		// A shared-resource change is visible to every subscribed scope.
		for _, set := range s.subs {
			for sub := range set {
				targets = append(targets, sub)
			}
		}
	} else {
		for sub := range s.subs[ev.Scope] {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.enqueue(ev)
	}
}

func (sub *subscriber) enqueue(ev ChangeEvent) {
	key := model.Key{Scope: ev.Scope, Kind: ev.Kind, Name: ev.Name}
	sub.mu.Lock()
	if _, exists := sub.pending[key]; !exists {
		sub.order = append(sub.order, key)
	}
	sub.pending[key] = ev
	sub.mu.Unlock()
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *subscriber) run() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		var next (*ChangeEvent)
		if len(sub.order) > 0 {
			k := sub.order[0]
			sub.order = sub.order[1:]
			if ev, ok := sub.pending[k]; ok {
				delete(sub.pending, k)
				next = &ev
			}
		}
		sub.mu.Unlock()

		if next == nil {
			select {
			case <-sub.notify:
				continue
			case <-sub.done:
				return
			}
		}
		select {
		case sub.out <- *next:
		case <-sub.done:
			return
		}
	}
}

func (s *MemoryStore) Subscribe(ctx context.Context, scope model.Scope) (<-chan ChangeEvent, error) {
	sub := &subscriber{
		pending: make(map[model.Key]ChangeEvent),
		notify:  make(chan struct{}, 1),
		out:     make(chan ChangeEvent),
		done:    ctx.Done(),
	}
	s.mu.Lock()
	if s.subs[scope] == nil {
		s.subs[scope] = make(map[*subscriber]struct{})
	}
	s.subs[scope][sub] = struct{}{}
	s.mu.Unlock()

	go sub.run()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[scope], sub)
		s.mu.Unlock()
	}()

	return sub.out, nil
}
