// Package changebus implements the Change Bus (spec §4.4): a per-tenant
// fan-out of "snapshot updated to at least version N" signals to every
// subscribed xDS stream. It is deliberately coarser than the Resource
// Store's change feed — it carries only a version number, never resource
// identity — because a stream's reaction to any wake is always "read the
// current snapshot and recompute", so there is nothing finer-grained
// worth delivering.
package changebus

import (
	"context"
	"sync"

	"github.com/flowplane/flowplane/pkg/model"
)

// Bus fans out version-advance notifications per tenant. A slow
// subscriber never blocks a publisher and never sees every intermediate
// version — only ever "latest version known at time of wake", which
// subsumes every version before it (spec §4.4: "no version is ever
// skipped in the sense of silently losing state").
type Bus struct {
	mu   sync.Mutex
	subs map[model.Scope]map[*subscriber]struct{}
}

type subscriber struct {
	mu      sync.Mutex
	latest  int64
	has     bool
	notify  chan struct{}
	done    <-chan struct{}
}

// New returns an empty Change Bus.
func New() *Bus {
	return &Bus{subs: make(map[model.Scope]map[*subscriber]struct{})}
}

// Publish announces that tenant's snapshot has advanced to (at least)
// version. Called by the translator runner immediately after a
// successful Cache.Replace.
func (b *Bus) Publish(tenant model.Scope, version int64) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs[tenant]))
	for s := range b.subs[tenant] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.mu.Lock()
		if !s.has || version > s.latest {
			s.latest = version
			s.has = true
		}
		s.mu.Unlock()
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

// Subscription is a stream's handle on a tenant's wake signal.
type Subscription struct {
	sub *subscriber
}

// Wake blocks until the tenant's snapshot has advanced past any version
// already observed through this subscription, or ctx is done. It returns
// the coalesced latest version known; repeated rapid Publish calls in
// between two Wake calls collapse into a single wake carrying the final
// version, exactly scenario 6 in spec.md.
func (s *Subscription) Wake(ctx context.Context) (int64, bool) {
	for {
		s.sub.mu.Lock()
		if s.sub.has {
			v := s.sub.latest
			s.sub.has = false
			s.sub.mu.Unlock()
			return v, true
		}
		s.sub.mu.Unlock()

		select {
		case <-s.sub.notify:
			continue
		case <-ctx.Done():
			return 0, false
		case <-s.sub.done:
			return 0, false
		}
	}
}

// Subscribe registers a new subscription for tenant. The subscription is
// automatically torn down when ctx is done; callers must still stop
// calling Wake on it at that point (Wake itself returns false).
func (b *Bus) Subscribe(ctx context.Context, tenant model.Scope) *Subscription {
	s := &subscriber{notify: make(chan struct{}, 1), done: ctx.Done()}
	b.mu.Lock()
	if b.subs[tenant] == nil {
		b.subs[tenant] = make(map[*subscriber]struct{})
	}
	b.subs[tenant][s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[tenant], s)
		b.mu.Unlock()
	}()

	return &Subscription{sub: s}
}
