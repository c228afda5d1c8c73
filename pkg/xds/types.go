// Package xds implements the xDS Server (spec §4.5): the bidirectional
// gRPC streaming surface that serves translated snapshots to connected
// Envoy proxies, in both state-of-the-world (SOTW) and incremental
// (Delta) variants, over a single Aggregated Discovery Service stream.
// It never reads the Resource Store directly; it only ever reads
// pkg/snapshot.Cache, woken by pkg/changebus.Bus, and keeps per-stream
// subscription/ACK state so that warming and dispatch ordering (spec
// §4.5.4) and NACK handling (spec §4.5.5) are enforced the same way for
// every connected proxy.
package xds

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/flowplane/flowplane/pkg/snapshot"
)

// Acknowledgment is a single accept/reject event from a connected Envoy,
// surfaced to whoever wants to observe fleet-wide config convergence
// (ekglue's Manager.OnAck callback, generalized across resource types and
// tenants). Server.OnAck, if set, is called with one of these after every
// resolved ACK/NACK on any stream it serves.
type Acknowledgment struct {
	Tenant   string
	Node     string
	Type     snapshot.Type
	Version  string
	Accepted bool
	Detail   string // NACK error detail, empty on ACK
}

// resourceTypeLabel is the Prometheus label value for t, used everywhere a
// metric is broken out per resource type so a renamed Type.String doesn't
// silently fork metric cardinality from log output.
func resourceTypeLabel(t snapshot.Type) string {
	return t.String()
}

// protocolError is returned by stream handlers for a client violation of
// the xDS wire protocol (wrong type_url, an unresolvable tenant scope,
// etc.) that should close the stream with a specific gRPC status rather
// than being silently ignored. It implements GRPCStatus so
// status.FromError (and so grpc's own wire encoding) picks up code
// without every call site constructing its own status.Error.
type protocolError struct {
	code codes.Code
	msg  string
}

func (e *protocolError) Error() string { return e.msg }

func (e *protocolError) GRPCStatus() *status.Status { return status.New(e.code, e.msg) }

func errProtocol(code codes.Code, format string, args ...interface{}) error {
	return &protocolError{code: code, msg: fmt.Sprintf(format, args...)}
}
