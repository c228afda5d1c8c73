package model

import "time"

// Resource is implemented by every declarative resource kind. It exposes
// just enough for the translator's dependency DAG (key, references) without
// knowing any kind-specific field.
type Resource interface {
	Key() Key
	// References returns the keys this resource points at, excluding its
	// own scope/kind. Names are resolved against the owning scope or the
	// Shared scope by the translator, not here.
	References() []Ref
}

// Ref is a named, kind-typed, possibly-optional reference from one
// declarative resource to another.
type Ref struct {
	Kind     Kind
	Name     string
	Optional bool // true if an unresolved ref excludes only the referencing field, not the whole resource
}

// EndpointTarget is a single upstream destination for a Cluster. Exactly
// one of Address or Hostname is set; Hostname targets are resolved
// dynamically (pkg/dnsresolve) and Address targets are static.
type EndpointTarget struct {
	Address  string // static IP, e.g. "10.0.0.1"
	Hostname string // DNS name to resolve (STRICT_DNS style), e.g. "users.svc.cluster.local"
	Port     uint32
	Weight   uint32 // load-balancing weight; 0 means "unweighted" (implicit 1)
}

// HealthCheck is a minimal active health-check configuration for a
// Cluster.
type HealthCheck struct {
	Path               string
	IntervalSeconds    uint32
	TimeoutSeconds     uint32
	UnhealthyThreshold uint32
	HealthyThreshold   uint32
}

// OutlierDetection configures passive health checking.
type OutlierDetection struct {
	ConsecutiveErrors uint32
	IntervalSeconds   uint32
	BaseEjectionSec   uint32
}

// CircuitBreakers bounds connection/request concurrency to a Cluster.
type CircuitBreakers struct {
	MaxConnections     uint32
	MaxPendingRequests uint32
	MaxRequests        uint32
	MaxRetries         uint32
}

// Cluster is a declarative upstream cluster.
type Cluster struct {
	Scope            Scope
	Name             string
	Endpoints        []EndpointTarget
	TLSSecretName    string // empty if plaintext
	HealthCheck      *HealthCheck
	OutlierDetection *OutlierDetection
	CircuitBreakers  *CircuitBreakers
	UpdatedAt        time.Time
}

func (c *Cluster) Key() Key { return Key{Scope: c.Scope, Kind: KindCluster, Name: c.Name} }

func (c *Cluster) References() []Ref {
	if c.TLSSecretName == "" {
		return nil
	}
	return []Ref{{Kind: KindSecret, Name: c.TLSSecretName}}
}

// RouteMatch selects requests for a Route by path prefix or exact path.
type RouteMatch struct {
	PathPrefix string
	PathExact  string
}

// Route maps a matched request to an upstream cluster, with optional
// per-route filter config overrides (by HttpFilter name).
type Route struct {
	Match           RouteMatch
	ClusterName     string
	FilterOverrides []string
}

// VirtualHost groups routes under a set of request domains.
type VirtualHost struct {
	Name    string
	Domains []string
	Routes  []Route
}

// RouteConfiguration is a declarative set of virtual hosts.
type RouteConfiguration struct {
	Scope        Scope
	Name         string
	VirtualHosts []VirtualHost
	UpdatedAt    time.Time
}

func (r *RouteConfiguration) Key() Key {
	return Key{Scope: r.Scope, Kind: KindRouteConfiguration, Name: r.Name}
}

func (r *RouteConfiguration) References() []Ref {
	seen := map[string]bool{}
	var refs []Ref
	for _, vh := range r.VirtualHosts {
		for _, rt := range vh.Routes {
			if rt.ClusterName == "" || seen[rt.ClusterName] {
				continue
			}
			seen[rt.ClusterName] = true
			// Optional: a route whose cluster doesn't resolve is dropped
			// individually by the translator, it doesn't exclude the
			// whole RouteConfiguration (the edge still orders Cluster
			// before RouteConfiguration in the DAG walk).
			refs = append(refs, Ref{Kind: KindCluster, Name: rt.ClusterName, Optional: true})
		}
	}
	return refs
}

// FilterType enumerates the HTTP filter implementations Flowplane knows
// how to translate. Unknown types are rejected with UNSUPPORTED_FEATURE.
type FilterType string

const (
	FilterTypeRouter      FilterType = "router"
	FilterTypeRateLimit   FilterType = "rate_limit"
	FilterTypeCORS        FilterType = "cors"
	FilterTypeJWTAuthn    FilterType = "jwt_authn"
	FilterTypeWASM        FilterType = "wasm"
	FilterTypeLocalReplyOverride FilterType = "local_reply"
)

// HttpFilter is a declarative HTTP filter configuration attached to a
// Listener's filter chain.
type HttpFilter struct {
	Scope     Scope
	Name      string
	Type      FilterType
	Config    map[string]any // typed_config fields, kind-specific
	WasmRef   string         // external reference (backend+path) to a WASM binary; empty unless Type==wasm
	UpdatedAt time.Time
}

func (f *HttpFilter) Key() Key { return Key{Scope: f.Scope, Kind: KindHttpFilter, Name: f.Name} }

func (f *HttpFilter) References() []Ref { return nil }

// SecretType enumerates the kinds of Secret the store can hold.
type SecretType string

const (
	SecretTypeTLSCertificate     SecretType = "tls_certificate"
	SecretTypeValidationContext  SecretType = "validation_context"
	SecretTypeGeneric            SecretType = "generic"
	SecretTypeTicketKeys         SecretType = "ticket_keys"
)

// SecretRef is an external reference for a secret whose bytes are not
// stored inline (backend + path, e.g. a KMS or file path).
type SecretRef struct {
	Backend string
	Path    string
}

// Secret is a declarative TLS/credential resource. Exactly one of Inline
// or External is populated.
type Secret struct {
	Scope     Scope
	Name      string
	Type      SecretType
	Inline    []byte
	External  *SecretRef
	UpdatedAt time.Time
}

func (s *Secret) Key() Key { return Key{Scope: s.Scope, Kind: KindSecret, Name: s.Name} }

func (s *Secret) References() []Ref { return nil }

// FilterChainRef attaches an ordered list of HTTP filters (by name) and an
// optional TLS secret (by name) to a Listener.
type FilterChainRef struct {
	HttpFilterNames []string
	TLSSecretName   string // empty for plaintext listeners
}

// Listener is a declarative downstream listener.
type Listener struct {
	Scope              Scope
	Name               string
	Address            string
	Port               uint32
	RouteConfigName    string
	FilterChain        FilterChainRef
	UpdatedAt          time.Time
}

func (l *Listener) Key() Key { return Key{Scope: l.Scope, Kind: KindListener, Name: l.Name} }

func (l *Listener) References() []Ref {
	refs := []Ref{{Kind: KindRouteConfiguration, Name: l.RouteConfigName}}
	for _, n := range l.FilterChain.HttpFilterNames {
		refs = append(refs, Ref{Kind: KindHttpFilter, Name: n})
	}
	if l.FilterChain.TLSSecretName != "" {
		refs = append(refs, Ref{Kind: KindSecret, Name: l.FilterChain.TLSSecretName})
	}
	return refs
}
