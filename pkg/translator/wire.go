package translator

import (
	"fmt"

	clusterv3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	endpointv3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	listenerv3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	routev3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	hcmv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	tlsv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/transport_sockets/tls/v3"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/flowplane/flowplane/pkg/model"
)

func adsConfigSource() *corev3.ConfigSource {
	return &corev3.ConfigSource{
		ResourceApiVersion:   corev3.ApiVersion_V3,
		ConfigSourceSpecifier: &corev3.ConfigSource_Ads{Ads: &corev3.AggregatedConfigSource{}},
	}
}

// buildSecret translates a declarative Secret into its xDS wire form. It
// never resolves an External reference's bytes itself (that's an external
// collaborator's job, out of scope per spec.md §1); an External secret is
// translated to a DataSource pointing at its backend path, trusting the
// hosting process to have wired that backend into Envoy's SDS/filesystem
// story.
func buildSecret(s *model.Secret) (*tlsv3.Secret, error) {
	ds, err := secretDataSource(s)
	if err != nil {
		return nil, err
	}
	out := &tlsv3.Secret{Name: s.Name}
	switch s.Type {
	case model.SecretTypeTLSCertificate:
		out.Type = &tlsv3.Secret_TlsCertificate{TlsCertificate: &tlsv3.TlsCertificate{
			CertificateChain: ds,
			PrivateKey:       ds,
		}}
	case model.SecretTypeValidationContext:
		out.Type = &tlsv3.Secret_ValidationContext{ValidationContext: &tlsv3.CertificateValidationContext{
			TrustedCa: ds,
		}}
	case model.SecretTypeGeneric:
		out.Type = &tlsv3.Secret_GenericSecret{GenericSecret: &tlsv3.GenericSecret{Secret: ds}}
	case model.SecretTypeTicketKeys:
		out.Type = &tlsv3.Secret_SessionTicketKeys{SessionTicketKeys: &tlsv3.TlsSessionTicketKeys{
			Keys: []*corev3.DataSource{ds},
		}}
	default:
		return nil, fmt.Errorf("unsupported secret type %q", s.Type)
	}
	return out, nil
}

func secretDataSource(s *model.Secret) (*corev3.DataSource, error) {
	switch {
	case s.External != nil:
		// backend is carried in the path so the Envoy-side SDS/file
		// watcher can route to the right backend; the core does not
		// interpret it further.
		return &corev3.DataSource{Specifier: &corev3.DataSource_Filename{
			Filename: fmt.Sprintf("%s:%s", s.External.Backend, s.External.Path),
		}}, nil
	case len(s.Inline) > 0:
		return &corev3.DataSource{Specifier: &corev3.DataSource_InlineBytes{InlineBytes: s.Inline}}, nil
	default:
		return nil, fmt.Errorf("secret has neither inline bytes nor an external reference")
	}
}

// buildCluster translates a declarative Cluster. tlsSecretName is the
// name of the Secret the upstream TLS context fetches over SDS, or empty
// if the cluster is plaintext; the caller (translate.go) is responsible for
// having excluded the cluster already if the reference didn't resolve.
func buildCluster(c *model.Cluster, tlsSecretName string) (*clusterv3.Cluster, error) {
	if len(c.Endpoints) == 0 {
		return nil, fmt.Errorf("cluster has no endpoint targets")
	}
	discoveryType := clusterv3.Cluster_STATIC
	for _, ep := range c.Endpoints {
		if ep.Hostname != "" {
			discoveryType = clusterv3.Cluster_STRICT_DNS
		}
	}

	out := &clusterv3.Cluster{
		Name:                 c.Name,
		ClusterDiscoveryType: &clusterv3.Cluster_Type{Type: discoveryType},
		ConnectTimeout:       durationpb.New(defaultConnectTimeout),
		LbPolicy:             clusterv3.Cluster_ROUND_ROBIN,
		LoadAssignment:       buildClusterLoadAssignment(c),
	}

	if tlsSecretName != "" {
		out.TransportSocket = &corev3.TransportSocket{
			Name: "envoy.transport_sockets.tls",
			ConfigType: &corev3.TransportSocket_TypedConfig{TypedConfig: mustAny(&tlsv3.UpstreamTlsContext{
				CommonTlsContext: &tlsv3.CommonTlsContext{
					TlsCertificateSdsSecretConfigs: []*tlsv3.SdsSecretConfig{{
						Name:      tlsSecretName,
						SdsConfig: adsConfigSource(),
					}},
				},
			})},
		}
	}

	if hc := c.HealthCheck; hc != nil {
		out.HealthChecks = []*corev3.HealthCheck{{
			Timeout:            durationpb.New(secToDuration(hc.TimeoutSeconds)),
			Interval:           durationpb.New(secToDuration(hc.IntervalSeconds)),
			UnhealthyThreshold: wrapperspb.UInt32(hc.UnhealthyThreshold),
			HealthyThreshold:   wrapperspb.UInt32(hc.HealthyThreshold),
			HealthChecker: &corev3.HealthCheck_HttpHealthCheck_{HttpHealthCheck: &corev3.HealthCheck_HttpHealthCheck{
				Path: hc.Path,
			}},
		}}
	}

	if od := c.OutlierDetection; od != nil {
		out.OutlierDetection = &clusterv3.OutlierDetection{
			Consecutive_5Xx:  wrapperspb.UInt32(od.ConsecutiveErrors),
			Interval:         durationpb.New(secToDuration(od.IntervalSeconds)),
			BaseEjectionTime: durationpb.New(secToDuration(od.BaseEjectionSec)),
		}
	}

	if cb := c.CircuitBreakers; cb != nil {
		out.CircuitBreakers = &clusterv3.CircuitBreakers{
			Thresholds: []*clusterv3.CircuitBreakers_Thresholds{{
				Priority:           corev3.RoutingPriority_DEFAULT,
				MaxConnections:     wrapperspb.UInt32(cb.MaxConnections),
				MaxPendingRequests: wrapperspb.UInt32(cb.MaxPendingRequests),
				MaxRequests:        wrapperspb.UInt32(cb.MaxRequests),
				MaxRetries:         wrapperspb.UInt32(cb.MaxRetries),
			}},
		}
	}

	return out, nil
}

func buildClusterLoadAssignment(c *model.Cluster) *endpointv3.ClusterLoadAssignment {
	lbEndpoints := make([]*endpointv3.LbEndpoint, 0, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		addr := ep.Address
		if addr == "" {
			addr = ep.Hostname
		}
		lbe := &endpointv3.LbEndpoint{
			HostIdentifier: &endpointv3.LbEndpoint_Endpoint{Endpoint: &endpointv3.Endpoint{
				Address: &corev3.Address{Address: &corev3.Address_SocketAddress{SocketAddress: &corev3.SocketAddress{
					Address:       addr,
					PortSpecifier: &corev3.SocketAddress_PortValue{PortValue: ep.Port},
				}}},
			}},
		}
		if ep.Weight > 0 {
			lbe.LoadBalancingWeight = wrapperspb.UInt32(ep.Weight)
		}
		lbEndpoints = append(lbEndpoints, lbe)
	}
	return &endpointv3.ClusterLoadAssignment{
		ClusterName: c.Name,
		Endpoints: []*endpointv3.LocalityLbEndpoints{{
			LbEndpoints: lbEndpoints,
		}},
	}
}

// buildRouteConfiguration translates a declarative RouteConfiguration.
// Every route's ClusterName has already been confirmed to resolve by the
// caller; routes that didn't resolve were dropped from rc before this is
// called (a partial exclusion, not a whole-resource exclusion — see
// translate.go).
func buildRouteConfiguration(rc *model.RouteConfiguration) *routev3.RouteConfiguration {
	out := &routev3.RouteConfiguration{Name: rc.Name}
	for _, vh := range rc.VirtualHosts {
		wireVH := &routev3.VirtualHost{Name: vh.Name, Domains: vh.Domains}
		for _, rt := range vh.Routes {
			wireVH.Routes = append(wireVH.Routes, buildRoute(rt))
		}
		out.VirtualHosts = append(out.VirtualHosts, wireVH)
	}
	return out
}

func buildRoute(rt model.Route) *routev3.Route {
	match := &routev3.RouteMatch{}
	switch {
	case rt.Match.PathExact != "":
		match.PathSpecifier = &routev3.RouteMatch_Path{Path: rt.Match.PathExact}
	default:
		prefix := rt.Match.PathPrefix
		if prefix == "" {
			prefix = "/"
		}
		match.PathSpecifier = &routev3.RouteMatch_Prefix{Prefix: prefix}
	}
	return &routev3.Route{
		Match: match,
		Action: &routev3.Route_Route{Route: &routev3.RouteAction{
			ClusterSpecifier: &routev3.RouteAction_Cluster{Cluster: rt.ClusterName},
		}},
	}
}

// buildListener translates a declarative Listener. httpFilters is the
// already-resolved, ordered list of this listener's HTTP filter wire
// configs (router is always appended last); tlsSecretName is empty for a
// plaintext filter chain.
func buildListener(l *model.Listener, httpFilters []*hcmv3.HttpFilter, tlsSecretName string) (*listenerv3.Listener, error) {
	hcm := &hcmv3.HttpConnectionManager{
		StatPrefix: l.Name,
		RouteSpecifier: &hcmv3.HttpConnectionManager_Rds{Rds: &hcmv3.Rds{
			ConfigSource:    adsConfigSource(),
			RouteConfigName: l.RouteConfigName,
		}},
		HttpFilters: httpFilters,
	}
	hcmAny, err := anypb.New(hcm)
	if err != nil {
		return nil, fmt.Errorf("marshal http connection manager: %w", err)
	}

	fc := &listenerv3.FilterChain{
		Filters: []*listenerv3.Filter{{
			Name:       "envoy.filters.network.http_connection_manager",
			ConfigType: &listenerv3.Filter_TypedConfig{TypedConfig: hcmAny},
		}},
	}
	if tlsSecretName != "" {
		fc.TransportSocket = &corev3.TransportSocket{
			Name: "envoy.transport_sockets.tls",
			ConfigType: &corev3.TransportSocket_TypedConfig{TypedConfig: mustAny(&tlsv3.DownstreamTlsContext{
				CommonTlsContext: &tlsv3.CommonTlsContext{
					TlsCertificateSdsSecretConfigs: []*tlsv3.SdsSecretConfig{{
						Name:      tlsSecretName,
						SdsConfig: adsConfigSource(),
					}},
				},
			})},
		}
	}

	return &listenerv3.Listener{
		Name: l.Name,
		Address: &corev3.Address{Address: &corev3.Address_SocketAddress{SocketAddress: &corev3.SocketAddress{
			Address:       l.Address,
			PortSpecifier: &corev3.SocketAddress_PortValue{PortValue: l.Port},
		}}},
		FilterChains: []*listenerv3.FilterChain{fc},
	}, nil
}

func mustAny(m proto.Message) *anypb.Any {
	a, err := anypb.New(m)
	if err != nil {
		// Every message built above is a well-formed, registered envoy
		// proto; failure here means a programming error, not bad input.
		panic(fmt.Sprintf("translator: marshal %T to Any: %v", m, err))
	}
	return a
}
