package translator

import (
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/flowplane/flowplane/pkg/model"
	"github.com/flowplane/flowplane/pkg/snapshot"
	"github.com/stretchr/testify/require"
)

func fixedConfig() Config {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return Config{Now: func() time.Time { return t }}
}

func tenant() model.Scope { return model.Scope{Org: "acme", Team: "engineering"} }

func validInput() Input {
	s := tenant()
	return Input{
		Tenant:  s,
		Version: 1,
		Resources: []model.Resource{
			&model.Secret{Scope: s, Name: "edge-cert", Type: model.SecretTypeTLSCertificate, Inline: []byte("cert-bytes")},
			&model.Cluster{Scope: s, Name: "users", TLSSecretName: "edge-cert", Endpoints: []model.EndpointTarget{{Address: "10.0.0.1", Port: 8080}}},
			&model.RouteConfiguration{Scope: s, Name: "main-rc", VirtualHosts: []model.VirtualHost{{
				Name: "default", Domains: []string{"*"},
				Routes: []model.Route{{Match: model.RouteMatch{PathPrefix: "/"}, ClusterName: "users"}},
			}}},
			&model.Listener{Scope: s, Name: "edge", Address: "0.0.0.0", Port: 10000, RouteConfigName: "main-rc"},
		},
	}
}

// P1: two independent runs over identical input produce byte-identical
// wire resources. deep.Equal walks the full Set (names, hashes, and the
// wire Any payloads) and reports exactly which field diverged, rather
// than require.Equal's single failed-assertion message per field.
func TestTranslateIsDeterministic(t *testing.T) {
	cfg := fixedConfig()
	snap1 := Translate(cfg, validInput())
	snap2 := Translate(cfg, validInput())

	require.Empty(t, snap1.Diagnostics)
	for _, typ := range snapshot.DispatchOrder {
		if diff := deep.Equal(snap1.Sets[typ], snap2.Sets[typ]); diff != nil {
			t.Errorf("%s set diverged between identical runs: %v", typ, diff)
		}
	}
}

// P2: a resource's content hash (and therefore its version string) is
// unchanged across rebuilds that don't touch its content, even though the
// snapshot version number itself advances.
func TestTranslateVersionStableWhenContentUnchanged(t *testing.T) {
	cfg := fixedConfig()
	in := validInput()
	in.Version = 1
	snap1 := Translate(cfg, in)

	in.Version = 2
	snap2 := Translate(cfg, in)

	e1 := snap1.Sets[snapshot.TypeCluster].Entries["users"]
	e2 := snap2.Sets[snapshot.TypeCluster].Entries["users"]
	require.Equal(t, e1.Version, e2.Version)
	require.Equal(t, int64(1), snap1.Version)
	require.Equal(t, int64(2), snap2.Version)
}

// I5: a Cluster whose TLS secret reference doesn't resolve is excluded
// from the snapshot entirely, with an UNRESOLVED_REF diagnostic, rather
// than appearing with a dangling reference.
func TestTranslateExcludesClusterWithUnresolvedSecret(t *testing.T) {
	s := tenant()
	in := Input{Tenant: s, Version: 1, Resources: []model.Resource{
		&model.Cluster{Scope: s, Name: "broken", TLSSecretName: "missing-cert", Endpoints: []model.EndpointTarget{{Address: "10.0.0.1", Port: 80}}},
	}}
	snap := Translate(fixedConfig(), in)

	_, present := snap.Sets[snapshot.TypeCluster].Entries["broken"]
	require.False(t, present)
	require.Len(t, snap.Diagnostics, 1)
	require.Equal(t, model.CodeUnresolvedRef, snap.Diagnostics[0].Code)
}

// A RouteConfiguration with one route to a live cluster and one route to
// a missing cluster keeps the live route and drops only the broken one,
// recording a diagnostic — narrower than whole-resource exclusion.
func TestTranslatePrunesOnlyUnresolvedRoutes(t *testing.T) {
	s := tenant()
	in := Input{Tenant: s, Version: 1, Resources: []model.Resource{
		&model.Cluster{Scope: s, Name: "users", Endpoints: []model.EndpointTarget{{Address: "10.0.0.1", Port: 8080}}},
		&model.RouteConfiguration{Scope: s, Name: "rc", VirtualHosts: []model.VirtualHost{{
			Name: "default", Domains: []string{"*"},
			Routes: []model.Route{
				{Match: model.RouteMatch{PathPrefix: "/users"}, ClusterName: "users"},
				{Match: model.RouteMatch{PathPrefix: "/ghost"}, ClusterName: "missing"},
			},
		}}},
	}}
	snap := Translate(fixedConfig(), in)

	entry, present := snap.Sets[snapshot.TypeRoute].Entries["rc"]
	require.True(t, present)
	require.NotNil(t, entry.Any)

	var foundUnresolved bool
	for _, d := range snap.Diagnostics {
		if d.Code == model.CodeUnresolvedRef && d.Name == "rc" {
			foundUnresolved = true
		}
	}
	require.True(t, foundUnresolved)
}

// When a RouteConfiguration ends up with zero surviving routes its name
// is still emitted (an empty route config), but a Listener depending on a
// RouteConfiguration that was itself excluded for some other reason (here,
// a duplicate-name collision) is excluded in turn (ancestor re-examined).
func TestTranslateExcludesListenerWhenRouteConfigExcluded(t *testing.T) {
	s := tenant()
	in := Input{Tenant: s, Version: 1, Resources: []model.Resource{
		&model.RouteConfiguration{Scope: s, Name: "rc"},
		&model.RouteConfiguration{Scope: s, Name: "rc"}, // duplicate -> both instances excluded
		&model.Listener{Scope: s, Name: "edge", Address: "0.0.0.0", Port: 10000, RouteConfigName: "rc"},
	}}
	snap := Translate(fixedConfig(), in)

	_, rcPresent := snap.Sets[snapshot.TypeRoute].Entries["rc"]
	require.False(t, rcPresent)
	_, lPresent := snap.Sets[snapshot.TypeListener].Entries["edge"]
	require.False(t, lPresent)

	var sawDuplicate, sawListenerUnresolved bool
	for _, d := range snap.Diagnostics {
		if d.Code == model.CodeDuplicateName {
			sawDuplicate = true
		}
		if d.Code == model.CodeUnresolvedRef && d.Name == "edge" {
			sawListenerUnresolved = true
		}
	}
	require.True(t, sawDuplicate)
	require.True(t, sawListenerUnresolved)
}

// A resource declared twice under the same (scope, kind, name) is a
// defense-in-depth case the Resource Store should already prevent;
// Translate still degrades gracefully rather than picking one arbitrarily.
func TestTranslateFlagsDuplicateNameAsDiagnostic(t *testing.T) {
	s := tenant()
	in := Input{Tenant: s, Version: 1, Resources: []model.Resource{
		&model.Secret{Scope: s, Name: "dup", Type: model.SecretTypeGeneric, Inline: []byte("a")},
		&model.Secret{Scope: s, Name: "dup", Type: model.SecretTypeGeneric, Inline: []byte("b")},
	}}
	snap := Translate(fixedConfig(), in)
	require.Len(t, snap.Diagnostics, 1)
	require.Equal(t, model.CodeDuplicateName, snap.Diagnostics[0].Code)
}

// fakeListener satisfies model.Resource but reports KindListener while
// not actually being a *model.Listener, to exercise Run's recover()
// boundary the way a store-side bug that slipped past validation would.
type fakeListener struct{ scope model.Scope }

func (f *fakeListener) Key() model.Key {
	return model.Key{Scope: f.scope, Kind: model.KindListener, Name: "impostor"}
}
func (f *fakeListener) References() []model.Ref { return nil }

func TestRunRecoversPanicAndKeepsPriorSnapshot(t *testing.T) {
	s := tenant()
	prior := snapshot.NewBuilder(s, 1).Build()

	in := Input{Tenant: s, Version: 2, Resources: []model.Resource{&fakeListener{scope: s}}}
	out := Run(fixedConfig(), in, prior)

	require.Equal(t, prior.Version, out.Version, "a recovered panic must keep serving the prior version, not the failed one")
	require.Empty(t, prior.Diagnostics, "prior snapshot must not be mutated by the recovery path")
	require.NotEmpty(t, out.Diagnostics)
}
