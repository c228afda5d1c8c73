package xds

import (
	"encoding/json"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protojson"
	"sigs.k8s.io/yaml"

	"github.com/flowplane/flowplane/pkg/model"
	"github.com/flowplane/flowplane/pkg/snapshot"
)

// ResourceSummary is one entry in a snapshot inspection listing
// (spec.md §6.3's snapshot inspection API for observability).
type ResourceSummary struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Inspect lists every resource of typ currently held in tenant's
// snapshot, in deterministic name order, without requiring a connected
// stream — the same information a real proxy would receive, queryable
// directly for debugging and tooling.
func (s *Server) Inspect(tenant model.Scope, typ snapshot.Type) []ResourceSummary {
	snap := s.Cache.Get(tenant)
	if snap == nil {
		return nil
	}
	set := snap.Sets[typ]
	out := make([]ResourceSummary, 0, len(set.Order))
	for _, name := range set.Order {
		out = append(out, ResourceSummary{Name: name, Version: set.Entries[name].Version})
	}
	return out
}

// Dump renders every resource currently held in tenant's snapshot, across
// all five types, as YAML — the same "config_dump" debugging surface
// ekglue's Manager.ServeHTTP exposes, generalized across resource types
// and made tenant-aware instead of assuming one global Manager.
func (s *Server) Dump(tenant model.Scope) ([]byte, error) {
	snap := s.Cache.Get(tenant)
	if snap == nil {
		return yaml.Marshal(map[string]interface{}{"tenant": tenant.String(), "resources": []interface{}{}})
	}

	type dumped struct {
		Type    string          `json:"type"`
		Name    string          `json:"name"`
		Version string          `json:"version"`
		Config  json.RawMessage `json:"config"`
	}
	var all []dumped
	for _, t := range snapshot.DispatchOrder {
		set := snap.Sets[t]
		for _, name := range set.Order {
			e := set.Entries[name]
			msg, err := e.Any.UnmarshalNew()
			if err != nil {
				return nil, fmt.Errorf("xds: dump %s/%s: %w", t, name, err)
			}
			js, err := protojson.Marshal(msg)
			if err != nil {
				return nil, fmt.Errorf("xds: dump %s/%s: %w", t, name, err)
			}
			all = append(all, dumped{Type: t.String(), Name: name, Version: e.Version, Config: js})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Type != all[j].Type {
			return all[i].Type < all[j].Type
		}
		return all[i].Name < all[j].Name
	})

	js, err := json.Marshal(struct {
		Tenant      string   `json:"tenant"`
		Version     int64    `json:"version"`
		Resources   []dumped `json:"resources"`
		Diagnostics int      `json:"diagnostic_count"`
	}{Tenant: tenant.String(), Version: snap.Version, Resources: all, Diagnostics: len(snap.Diagnostics)})
	if err != nil {
		return nil, err
	}
	return yaml.JSONToYAML(js)
}
