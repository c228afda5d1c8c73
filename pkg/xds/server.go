package xds

import (
	"context"

	discoveryv3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/flowplane/flowplane/pkg/changebus"
	"github.com/flowplane/flowplane/pkg/model"
	"github.com/flowplane/flowplane/pkg/snapshot"
)

// Server implements the Aggregated Discovery Service for both the
// state-of-the-world and Delta (incremental) variants against a single
// shared snapshot.Cache and changebus.Bus — the xDS Server module from
// spec §4.5. It holds no per-tenant business state of its own; every
// piece of state that outlives a single stream lives in the Cache, and
// every piece scoped to one connected proxy lives in that stream's own
// sotwSession or deltaSession, built fresh per call.
type Server struct {
	// UnimplementedAggregatedDiscoveryServiceServer satisfies the
	// forward-compatibility requirement go-control-plane's generated
	// gRPC interface imposes on its implementers, the same embed
	// Contour's ADS server uses.
	discoveryv3.UnimplementedAggregatedDiscoveryServiceServer

	Cache  *snapshot.Cache
	Bus    *changebus.Bus
	Tenant TenantMapper
	Nack   NackRetryPolicy
	Logger *zap.Logger

	// OnAck, if set, is called after every ACK/NACK this Server resolves
	// on any stream, the generalized form of ekglue's Manager.OnAck.
	OnAck func(Acknowledgment)
}

// NewServer returns a Server reading from cache and bus. tenant resolves
// a connecting proxy's identity; a nil tenant defaults to
// DefaultTenantMapper. A zero NackRetryPolicy defaults to
// DefaultNackRetryPolicy.
func NewServer(cache *snapshot.Cache, bus *changebus.Bus, tenant TenantMapper, nack NackRetryPolicy) *Server {
	if tenant == nil {
		tenant = DefaultTenantMapper
	}
	if nack == "" {
		nack = DefaultNackRetryPolicy
	}
	return &Server{Cache: cache, Bus: bus, Tenant: tenant, Nack: nack, Logger: zap.L().Named("xds")}
}

// ADSStream is the subset of
// discoveryv3.AggregatedDiscoveryService_StreamAggregatedResourcesServer
// this package depends on, narrowed the way ekglue's XDSStream narrows
// the v2 service interface, so tests can drive the server with an
// in-memory fake instead of a real gRPC transport.
type ADSStream interface {
	Context() context.Context
	Recv() (*discoveryv3.DiscoveryRequest, error)
	Send(*discoveryv3.DiscoveryResponse) error
}

// ADSDeltaStream is the Delta-variant equivalent of ADSStream.
type ADSDeltaStream interface {
	Context() context.Context
	Recv() (*discoveryv3.DeltaDiscoveryRequest, error)
	Send(*discoveryv3.DeltaDiscoveryResponse) error
}

// StreamAggregatedResources implements the SOTW half of ADS.
func (s *Server) StreamAggregatedResources(stream discoveryv3.AggregatedDiscoveryService_StreamAggregatedResourcesServer) error {
	return s.runSOTW(stream)
}

// DeltaAggregatedResources implements the Delta half of ADS.
func (s *Server) DeltaAggregatedResources(stream discoveryv3.AggregatedDiscoveryService_DeltaAggregatedResourcesServer) error {
	return s.runDelta(stream)
}

func (s *Server) logger(ctx context.Context) *zap.Logger {
	if l := ctxzap.Extract(ctx); l != nil {
		return l
	}
	return s.Logger
}

// reportAck calls s.OnAck, if set, with the outcome of one resolved
// ACK/NACK. Both runSOTW and runDelta funnel through this so fleet-wide
// convergence observers don't need a SOTW- or Delta-specific hook.
func (s *Server) reportAck(tenant model.Scope, node string, typ snapshot.Type, version string, accepted bool, detail string) {
	if s.OnAck == nil {
		return
	}
	s.OnAck(Acknowledgment{
		Tenant:   tenant.String(),
		Node:     node,
		Type:     typ,
		Version:  version,
		Accepted: accepted,
		Detail:   detail,
	})
}

var errWrongType = func(url string) error {
	return errProtocol(codes.InvalidArgument, "unrecognized type_url %q", url)
}

var errNoTenant = errProtocol(codes.PermissionDenied, "unable to determine tenant scope for connecting node")
