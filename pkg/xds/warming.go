package xds

import "github.com/flowplane/flowplane/pkg/snapshot"

// ackedSets is, per resource type, the set of names a stream has
// acknowledged at any point. It records names only, not versions, and a
// name is never removed once recorded, so it stays acknowledged after its
// content changes. warming.go consults it to decide whether a Listener's
// dependencies are satisfied before that Listener is eligible for
// delivery to the stream (spec §4.3 "Warming", §4.5.4 dispatch order).
type ackedSets map[snapshot.Type]map[string]bool

func newAckedSets() ackedSets {
	m := make(ackedSets, len(snapshot.DispatchOrder))
	for _, t := range snapshot.DispatchOrder {
		m[t] = make(map[string]bool)
	}
	return m
}

func (a ackedSets) record(t snapshot.Type, names []string) {
	set := a[t]
	for _, n := range names {
		set[n] = true
	}
}

// ready reports whether every Route/Cluster/Secret req names has already
// been acknowledged by this stream, i.e. the Listener req belongs to is
// warm enough to send.
func (a ackedSets) ready(req snapshot.Requirement) bool {
	for _, n := range req.Routes {
		if !a[snapshot.TypeRoute][n] {
			return false
		}
	}
	for _, n := range req.Clusters {
		if !a[snapshot.TypeCluster][n] {
			return false
		}
	}
	for _, n := range req.Secrets {
		if !a[snapshot.TypeSecret][n] {
			return false
		}
	}
	return true
}

// warmListeners returns the subset of snap's Listener entries whose
// warming requirement is satisfied by a, in snap's entry order, and
// records how many were withheld in the warmingBlocked gauge for tenant.
func warmListeners(snap *snapshot.Snapshot, a ackedSets, tenant string) []string {
	set := snap.Sets[snapshot.TypeListener]
	out := make([]string, 0, len(set.Order))
	for _, name := range set.Order {
		req, hasReq := snap.Requires[name]
		if !hasReq || a.ready(req) {
			out = append(out, name)
		}
	}
	warmingBlocked.WithLabelValues(tenant).Set(float64(len(set.Order) - len(out)))
	return out
}
