// Package translator implements the pure declarative-to-wire translation
// layer (spec §4.2): it never touches the Resource Store or the Snapshot
// Cache directly, it only maps a tenant's currently-visible declarative
// resources into a snapshot.Snapshot. Given identical input and identical
// Config, two independent calls to Translate produce byte-identical wire
// resources (P1) and preserve per-resource version strings when content is
// unchanged (P2) — see hash.go for how that determinism is achieved.
package translator

import (
	"fmt"
	"time"

	hcmv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/pkg/model"
	"github.com/flowplane/flowplane/pkg/snapshot"
)

// Config is the translator's only source of "shared" state, injected
// explicitly so Translate stays pure (spec §9 "Translator purity"). Now
// lets tests fix the diagnostic timestamp; it never affects translated
// wire bytes, only diagnostic metadata, so it cannot affect P1.
type Config struct {
	Now func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Input is everything Translate needs for one tenant pass: every
// declarative resource visible to the tenant (own scope plus Shared),
// already fetched from the Resource Store by the caller.
type Input struct {
	Tenant    model.Scope
	Version   int64
	Resources []model.Resource
}

// Translate runs the full algorithm from spec §4.2: build the dependency
// DAG, walk it leaves-first, translate or exclude each node, and freeze
// the result into a snapshot.Snapshot. It never panics on bad input —
// every failure becomes a model.Diagnostic attached to the offending
// resource. Callers that want the additional "catch a genuine bug
// without losing the tenant's prior snapshot" boundary should call this
// through Run.
func Translate(cfg Config, in Input) *snapshot.Snapshot {
	g, dupErrs := buildGraph(in.Resources)
	b := snapshot.NewBuilder(in.Tenant, in.Version)

	excluded := make(map[model.Key]*TranslateError)
	for _, e := range dupErrs {
		excluded[e.Key] = e
		b.Diagnose(toDiagnostic(cfg, e))
	}

	order, err := g.topoOrder()
	if err != nil {
		// Defensive only: every Kind in practice is one of the five
		// known kinds. Surface as a tenant-wide diagnostic rather than
		// losing the pass.
		b.Diagnose(model.Diagnostic{Scope: in.Tenant, Code: model.CodeInvalidConfig, Message: err.Error(), Since: cfg.now()})
		return b.Build()
	}

	httpFilterWire := map[string]*hcmv3.HttpFilter{}
	clusterOK := map[string]bool{}

	exclude := func(key model.Key, te *TranslateError) {
		excluded[key] = te
		b.Diagnose(toDiagnostic(cfg, te))
	}

	for _, key := range order {
		if _, dup := excluded[key]; dup {
			continue
		}
		r := g.nodes[key]

		// A required reference that failed to resolve, or resolved to an
		// already-excluded node, excludes this node too (I5; spec §4.2
		// step 3's "ancestor re-examined" rule).
		if te := firstUnresolvedRequired(g, key, excluded); te != nil {
			exclude(key, te)
			continue
		}

		switch key.Kind {
		case model.KindSecret:
			s := r.(*model.Secret)
			wire, err := buildSecret(s)
			if err != nil {
				exclude(key, invalidConfig(key, err.Error()))
				continue
			}
			if err := addEntry(b, snapshot.TypeSecret, key.Name, wire); err != nil {
				exclude(key, invalidConfig(key, err.Error()))
			}

		case model.KindHttpFilter:
			f := r.(*model.HttpFilter)
			wire, err := buildHttpFilter(f)
			if err != nil {
				exclude(key, unsupportedFeature(key, err.Error()))
				continue
			}
			httpFilterWire[f.Name] = wire

		case model.KindCluster:
			c := r.(*model.Cluster)
			wire, err := buildCluster(c, c.TLSSecretName)
			if err != nil {
				exclude(key, invalidConfig(key, err.Error()))
				continue
			}
			if err := addEntry(b, snapshot.TypeCluster, key.Name, wire); err != nil {
				exclude(key, invalidConfig(key, err.Error()))
				continue
			}
			if err := addEntry(b, snapshot.TypeEndpoint, key.Name, wire.LoadAssignment); err != nil {
				exclude(key, invalidConfig(key, err.Error()))
				continue
			}
			clusterOK[c.Name] = true

		case model.KindRouteConfiguration:
			rc := r.(*model.RouteConfiguration)
			pruned, diags := pruneUnresolvedRoutes(rc, clusterOK, cfg)
			for _, d := range diags {
				b.Diagnose(d)
			}
			wire := buildRouteConfiguration(pruned)
			if err := addEntry(b, snapshot.TypeRoute, key.Name, wire); err != nil {
				exclude(key, invalidConfig(key, err.Error()))
			}

		case model.KindListener:
			l := r.(*model.Listener)
			filters := make([]*hcmv3.HttpFilter, 0, len(l.FilterChain.HttpFilterNames)+1)
			for _, name := range l.FilterChain.HttpFilterNames {
				if wf, ok := httpFilterWire[name]; ok {
					filters = append(filters, wf)
				}
			}
			filters = append(filters, routerFilter())

			wire, err := buildListener(l, filters, l.FilterChain.TLSSecretName)
			if err != nil {
				exclude(key, invalidConfig(key, err.Error()))
				continue
			}
			if err := addEntry(b, snapshot.TypeListener, key.Name, wire); err != nil {
				exclude(key, invalidConfig(key, err.Error()))
				continue
			}
			b.Require(l.Name, warmingRequirement(l))
		}
	}

	return b.Build()
}

// addEntry hashes and Any-packs a translated wire resource and records it
// in the snapshot under construction. Version is set equal to Hash (see
// snapshot.Entry's doc comment); this is also where P1/P2 bottom out into
// the actual bytes a stream will later send.
func addEntry(b *snapshot.Builder, t snapshot.Type, name string, msg proto.Message) error {
	hash, _, err := contentHash(msg)
	if err != nil {
		return err
	}
	any, err := anypb.New(msg)
	if err != nil {
		return err
	}
	b.Add(t, snapshot.Entry{Name: name, Any: any, Hash: hash, Version: hash})
	return nil
}

// firstUnresolvedRequired reports the first required reference of key
// that didn't resolve to a present, non-excluded node, or nil if all of
// key's required references are satisfied.
func firstUnresolvedRequired(g *graph, key model.Key, excluded map[model.Key]*TranslateError) *TranslateError {
	for _, rr := range g.refs[key] {
		if rr.ref.Optional {
			continue
		}
		if !rr.resolved {
			return unresolvedRef(key, rr.ref.Kind, rr.ref.Name)
		}
		if _, isExcluded := excluded[rr.key]; isExcluded {
			return unresolvedRef(key, rr.ref.Kind, rr.ref.Name)
		}
	}
	return nil
}

// pruneUnresolvedRoutes drops individual routes whose cluster reference
// doesn't resolve, recording a diagnostic per dropped route, without
// excluding the whole RouteConfiguration — a route-level dangling
// reference is narrower than a resource-level one, and the resource that
// carried it (the RouteConfiguration) still records the diagnostic.
func pruneUnresolvedRoutes(rc *model.RouteConfiguration, clusterOK map[string]bool, cfg Config) (*model.RouteConfiguration, []model.Diagnostic) {
	out := &model.RouteConfiguration{Scope: rc.Scope, Name: rc.Name}
	var diags []model.Diagnostic
	for _, vh := range rc.VirtualHosts {
		var routes []model.Route
		for _, rt := range vh.Routes {
			if rt.ClusterName != "" && !clusterOK[rt.ClusterName] {
				diags = append(diags, model.Diagnostic{
					Scope:   rc.Scope,
					Kind:    model.KindRouteConfiguration,
					Name:    rc.Name,
					Code:    model.CodeUnresolvedRef,
					Message: "route in virtual host " + vh.Name + " references unresolved cluster " + rt.ClusterName,
					Since:   cfg.now(),
				})
				continue
			}
			routes = append(routes, rt)
		}
		out.VirtualHosts = append(out.VirtualHosts, model.VirtualHost{Name: vh.Name, Domains: vh.Domains, Routes: routes})
	}
	return out, diags
}

func warmingRequirement(l *model.Listener) snapshot.Requirement {
	req := snapshot.Requirement{Routes: []string{l.RouteConfigName}}
	if l.FilterChain.TLSSecretName != "" {
		req.Secrets = []string{l.FilterChain.TLSSecretName}
	}
	return req
}

func toDiagnostic(cfg Config, e *TranslateError) model.Diagnostic {
	return model.Diagnostic{
		Scope:   e.Key.Scope,
		Kind:    e.Key.Kind,
		Name:    e.Key.Name,
		Code:    e.Code,
		Message: e.Message,
		Since:   cfg.now(),
	}
}

// Run wraps Translate with the tenant-boundary recover() spec §7 requires:
// a bug in one tenant's translation (a nil dereference on a malformed
// resource the store should never have accepted, say) must not take down
// the translator runner goroutine or any other tenant's pass. On panic it
// returns prior unchanged and a single diagnostic describing the failure,
// so a stream's last-known-good snapshot is never discarded for a bug
// that will show up in the logs regardless.
func Run(cfg Config, in Input, prior *snapshot.Snapshot) (out *snapshot.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			diag := model.Diagnostic{
				Scope:   in.Tenant,
				Code:    model.CodeInvalidConfig,
				Message: "translator panic recovered: " + panicMessage(r),
				Since:   cfg.now(),
			}
			if prior == nil {
				b := snapshot.NewBuilder(in.Tenant, in.Version)
				b.Diagnose(diag)
				out = b.Build()
				return
			}
			// prior is immutable and may be held by concurrent readers
			// (xDS streams via the Cache): copy it rather than appending
			// to its Diagnostics slice in place.
			cp := *prior
			cp.Diagnostics = append(append([]model.Diagnostic{}, prior.Diagnostics...), diag)
			out = &cp
		}
	}()
	return Translate(cfg, in)
}

func panicMessage(r interface{}) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(r)
}
