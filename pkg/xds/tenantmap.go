package xds

import (
	"strings"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"

	"github.com/flowplane/flowplane/pkg/model"
)

// TenantMapper resolves a connecting Envoy's bootstrap Node to the
// tenant scope whose snapshot it should receive (spec.md §6.2's
// pluggable tenant-mapping strategy). It's an interface rather than a
// bare function so an embedder can carry state (an LRU of prior lookups,
// a client to an external identity service) without the xDS Server
// needing to know about it.
type TenantMapper interface {
	Tenant(node *corev3.Node) (model.Scope, bool)
}

// NodeTenantFunc adapts a plain function to TenantMapper.
type NodeTenantFunc func(node *corev3.Node) (model.Scope, bool)

func (f NodeTenantFunc) Tenant(node *corev3.Node) (model.Scope, bool) { return f(node) }

// DefaultTenantMapper implements spec.md §6.2's default scheme:
// node.cluster names the team, and the portion of node.id before its
// first "/" names the org ("acme/web-7f8c9" -> org "acme"). Metadata
// fields "org"/"team" take priority when present, for bootstrap configs
// that set them explicitly rather than encoding identity into id/cluster.
var DefaultTenantMapper TenantMapper = NodeTenantFunc(defaultNodeTenant)

func defaultNodeTenant(node *corev3.Node) (model.Scope, bool) {
	if node == nil {
		return model.Scope{}, false
	}
	fields := node.GetMetadata().GetFields()
	if org, team := fields["org"].GetStringValue(), fields["team"].GetStringValue(); org != "" && team != "" {
		return model.Scope{Org: org, Team: team}, true
	}

	team := node.GetCluster()
	org, _, ok := strings.Cut(node.GetId(), "/")
	if !ok || org == "" || team == "" {
		return model.Scope{}, false
	}
	return model.Scope{Org: org, Team: team}, true
}
