package translator

import (
	"testing"

	"github.com/flowplane/flowplane/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestBuildGraphResolvesSharedBeforeFailing(t *testing.T) {
	scope := model.Scope{Org: "acme", Team: "engineering"}
	resources := []model.Resource{
		&model.Secret{Scope: model.Shared, Name: "wildcard-cert", Type: model.SecretTypeTLSCertificate, Inline: []byte("x")},
		&model.Cluster{Scope: scope, Name: "users", TLSSecretName: "wildcard-cert", Endpoints: []model.EndpointTarget{{Address: "10.0.0.1", Port: 80}}},
	}
	g, dupErrs := buildGraph(resources)
	require.Empty(t, dupErrs)

	key := model.Key{Scope: scope, Kind: model.KindCluster, Name: "users"}
	refs := g.refs[key]
	require.Len(t, refs, 1)
	require.True(t, refs[0].resolved)
	require.Equal(t, model.Shared, refs[0].key.Scope)
}

func TestBuildGraphFlagsDuplicateNames(t *testing.T) {
	scope := model.Scope{Org: "acme", Team: "engineering"}
	resources := []model.Resource{
		&model.Cluster{Scope: scope, Name: "users"},
		&model.Cluster{Scope: scope, Name: "users"},
	}
	_, dupErrs := buildGraph(resources)
	require.Len(t, dupErrs, 1)
	require.Equal(t, model.CodeDuplicateName, dupErrs[0].Code)
}

func TestTopoOrderWalksLeavesFirst(t *testing.T) {
	scope := model.Scope{Org: "acme", Team: "engineering"}
	resources := []model.Resource{
		&model.Listener{Scope: scope, Name: "l", RouteConfigName: "rc"},
		&model.RouteConfiguration{Scope: scope, Name: "rc"},
		&model.Cluster{Scope: scope, Name: "c"},
		&model.Secret{Scope: scope, Name: "s"},
		&model.HttpFilter{Scope: scope, Name: "f"},
	}
	g, _ := buildGraph(resources)
	order, err := g.topoOrder()
	require.NoError(t, err)

	rankOf := func(k model.Key) int { return kindRank[k.Kind] }
	for i := 1; i < len(order); i++ {
		require.LessOrEqual(t, rankOf(order[i-1]), rankOf(order[i]), "topo order must be non-decreasing by rank")
	}
}

func TestTopoOrderIsStableWithinRank(t *testing.T) {
	scope := model.Scope{Org: "acme", Team: "engineering"}
	resources := []model.Resource{
		&model.Cluster{Scope: scope, Name: "zeta"},
		&model.Cluster{Scope: scope, Name: "alpha"},
		&model.Cluster{Scope: scope, Name: "mid"},
	}
	g, _ := buildGraph(resources)
	order, err := g.topoOrder()
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "mid", "zeta"}, []string{order[0].Name, order[1].Name, order[2].Name})
}
