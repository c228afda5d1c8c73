package translator

import (
	"fmt"

	"github.com/flowplane/flowplane/pkg/model"
)

// graph is the explicit dependency DAG described in spec.md §9: nodes are
// declarative resources, edges point from a resource to the resources it
// references. Translation walks it leaves first (Secrets up to Listeners)
// so that a node's dependencies are always already resolved (or known
// excluded) by the time the node itself is visited.
type graph struct {
	nodes map[model.Key]model.Resource
	// refs[k] is the resolved set of dependency keys for k, with the
	// original Ref (for optionality) kept alongside. A reference that
	// could not be resolved to any node in scope is recorded with a zero
	// Key and resolved=false.
	refs map[model.Key][]resolvedRef
}

type resolvedRef struct {
	ref      model.Ref
	key      model.Key
	resolved bool
}

// resolveRef finds the node for ref as seen from the resource declared in
// scope `from`: first the same scope, then model.Shared.
func resolveRef(nodes map[model.Key]model.Resource, from model.Scope, ref model.Ref) resolvedRef {
	for _, s := range []model.Scope{from, model.Shared} {
		k := model.Key{Scope: s, Kind: ref.Kind, Name: ref.Name}
		if _, ok := nodes[k]; ok {
			return resolvedRef{ref: ref, key: k, resolved: true}
		}
	}
	return resolvedRef{ref: ref, resolved: false}
}

// buildGraph indexes a tenant's visible resource set (own scope's
// resources plus model.Shared resources already filtered by the caller)
// and resolves every declared reference.
func buildGraph(resources []model.Resource) (*graph, []*TranslateError) {
	nodes := make(map[model.Key]model.Resource, len(resources))
	var dupErrs []*TranslateError
	for _, r := range resources {
		k := r.Key()
		if _, exists := nodes[k]; exists {
			dupErrs = append(dupErrs, duplicateName(k))
			continue
		}
		nodes[k] = r
	}

	refs := make(map[model.Key][]resolvedRef, len(nodes))
	for k, r := range nodes {
		for _, ref := range r.References() {
			refs[k] = append(refs[k], resolveRef(nodes, k.Scope, ref))
		}
	}
	return &graph{nodes: nodes, refs: refs}, dupErrs
}

// kindRank gives the fixed topological rank used by spec.md §4.2's walk:
// Secret and HttpFilter are leaves (rank 0), Cluster depends only on
// Secret (rank 1), RouteConfiguration depends on Cluster (rank 2),
// Listener depends on RouteConfiguration/HttpFilter/Secret (rank 3). This
// is a fixed ranking rather than a computed one because spec.md forbids
// cycles by construction: no resource kind references a kind ranked
// at or after it.
var kindRank = map[model.Kind]int{
	model.KindSecret:             0,
	model.KindHttpFilter:         0,
	model.KindCluster:            1,
	model.KindRouteConfiguration: 2,
	model.KindListener:           3,
}

// topoOrder returns every node key ordered by kindRank, stable within a
// rank by name so that translation output (and therefore serialization)
// is deterministic (P1). It returns an error only if a resource carries
// an unknown kind, which would indicate a construction bug, not user
// input — defended against, never expected.
func (g *graph) topoOrder() ([]model.Key, error) {
	buckets := make(map[int][]model.Key)
	maxRank := 0
	for k := range g.nodes {
		rank, ok := kindRank[k.Kind]
		if !ok {
			return nil, fmt.Errorf("translator: unknown resource kind %q", k.Kind)
		}
		buckets[rank] = append(buckets[rank], k)
		if rank > maxRank {
			maxRank = rank
		}
	}
	var order []model.Key
	for r := 0; r <= maxRank; r++ {
		bucket := buckets[r]
		sortKeys(bucket)
		order = append(order, bucket...)
	}
	return order, nil
}

func sortKeys(keys []model.Key) {
	// insertion sort: N is small (per-tenant resource counts), and this
	// keeps the package free of an extra sort-closure allocation path per
	// call in the hot translation loop.
	for i := 1; i < len(keys); i++ {
		j := i
		for j > 0 && keyLess(keys[j], keys[j-1]) {
			keys[j], keys[j-1] = keys[j-1], keys[j]
			j--
		}
	}
}

func keyLess(a, b model.Key) bool {
	if a.Scope != b.Scope {
		return a.Scope.String() < b.Scope.String()
	}
	return a.Name < b.Name
}
