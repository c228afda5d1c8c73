// Package model defines the declarative resource kinds Flowplane's core
// consumes from the Resource Store, and the tenant scope that partitions
// them. Nothing in this package talks to envoy wire formats; that is the
// translator's job.
package model

import "fmt"

// Scope is the (organization, team) pair every declarative resource and
// every open xDS stream belongs to.
type Scope struct {
	Org  string
	Team string
}

// String renders the scope the way it shows up in logs and metric labels:
// "org/team".
func (s Scope) String() string {
	return fmt.Sprintf("%s/%s", s.Org, s.Team)
}

// Shared is the scope used for resources explicitly marked shared across
// tenants. It never collides with a real (org, team) pair because "*" is
// not a legal org or team identifier (enforced by whatever admin surface
// creates resources; the core only checks for it).
var Shared = Scope{Org: "*", Team: "*"}

// Visible reports whether a resource declared in scope `declared` is
// visible to a stream whose tenant scope is `viewer`.
func Visible(declared, viewer Scope) bool {
	return declared == viewer || declared == Shared
}

// Kind enumerates the declarative resource kinds held by the Resource
// Store (spec §3).
type Kind string

const (
	KindCluster             Kind = "Cluster"
	KindRouteConfiguration  Kind = "RouteConfiguration"
	KindListener            Kind = "Listener"
	KindHttpFilter          Kind = "HttpFilter"
	KindSecret              Kind = "Secret"
)

// AllKinds is every declarative kind, in the dependency order the
// translator walks them (leaves first): Secret and HttpFilter have no
// declarative dependencies, Cluster may depend on Secret,
// RouteConfiguration depends on Cluster, Listener depends on
// RouteConfiguration, HttpFilter and Secret.
var AllKinds = []Kind{KindSecret, KindHttpFilter, KindCluster, KindRouteConfiguration, KindListener}

// Key identifies a single declarative resource: its scope, kind, and name.
// Name uniqueness is per (scope, kind) — invariant I4.
type Key struct {
	Scope Scope
	Kind  Kind
	Name  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Scope, k.Kind, k.Name)
}
