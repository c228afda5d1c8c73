package xds

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/flowplane/flowplane/pkg/changebus"
	"github.com/flowplane/flowplane/pkg/model"
	"github.com/flowplane/flowplane/pkg/snapshot"
	"github.com/flowplane/flowplane/pkg/store"
	"github.com/flowplane/flowplane/pkg/translator"
)

// Runner drives the Translator: for every tenant holding a resource when
// Run starts, it replays the Store once, then reacts to that tenant's
// change feed; a tenant that first appears later is not watched. It
// reacts to the Store's own change feed by re-translating that tenant and publishing
// the result into the Cache and onto the Change Bus (spec §4.2 "the
// translator runs per-tenant, triggered by Resource Store changes").
type Runner struct {
	Store  store.Store
	Cache  *snapshot.Cache
	Bus    *changebus.Bus
	Now    func() time.Time
	Logger *zap.Logger

	mu       sync.Mutex
	versions map[model.Scope]int64
}

// NewRunner returns a Runner wiring st, cache, and bus together.
func NewRunner(st store.Store, cache *snapshot.Cache, bus *changebus.Bus) *Runner {
	return &Runner{
		Store:    st,
		Cache:    cache,
		Bus:      bus,
		Logger:   zap.L().Named("translator-runner"),
		versions: make(map[model.Scope]int64),
	}
}

// Run replays every known tenant once, then watches for further changes
// until ctx is done. It returns the aggregated error (via
// hashicorp/go-multierror) from any tenant whose initial replay failed;
// a failure in one tenant never prevents the others from starting.
func (r *Runner) Run(ctx context.Context) error {
	scopes, err := r.Store.Scopes(ctx)
	if err != nil {
		return err
	}

	var result *multierror.Error
	var wg sync.WaitGroup
	for _, scope := range scopes {
		scope := scope
		if err := r.translateOnce(ctx, scope); err != nil {
			result = multierror.Append(result, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.watch(ctx, scope)
		}()
	}
	wg.Wait()
	return result.ErrorOrNil()
}

// watch subscribes to scope's change feed and re-translates on every
// event until ctx is done, coalescing rapid bursts the same way the
// Store's own Subscribe channel does (a backed-up consumer just sees the
// latest pending event, never an unbounded queue).
func (r *Runner) watch(ctx context.Context, scope model.Scope) {
	events, err := r.Store.Subscribe(ctx, scope)
	if err != nil {
		r.Logger.Error("subscribe failed", zap.String("tenant", scope.String()), zap.Error(err))
		return
	}
	for range events {
		if err := r.translateOnce(ctx, scope); err != nil {
			r.Logger.Error("translate failed", zap.String("tenant", scope.String()), zap.Error(err))
		}
	}
}

func (r *Runner) nextVersion(scope model.Scope) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[scope]++
	return r.versions[scope]
}

func (r *Runner) translateOnce(ctx context.Context, scope model.Scope) error {
	var all []model.Resource
	for _, kind := range model.AllKinds {
		rs, err := r.Store.List(ctx, scope, kind)
		if err != nil {
			return err
		}
		all = append(all, rs...)
	}
	version := r.nextVersion(scope)
	prior := r.Cache.Get(scope)
	cfg := translator.Config{Now: r.Now}
	snap := translator.Run(cfg, translator.Input{Tenant: scope, Version: version, Resources: all}, prior)

	r.Cache.Replace(snap)
	r.Bus.Publish(scope, snap.Version)

	if len(snap.Diagnostics) > 0 {
		r.Logger.Warn("translation produced diagnostics",
			zap.String("tenant", scope.String()),
			zap.Int64("version", snap.Version),
			zap.Int("diagnostic_count", len(snap.Diagnostics)),
		)
	}
	return nil
}
