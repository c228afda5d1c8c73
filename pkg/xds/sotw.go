package xds

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	discoveryv3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/pkg/model"
	"github.com/flowplane/flowplane/pkg/snapshot"
)

func newNonce() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// sotwSession holds every piece of state that outlives a single
// DiscoveryRequest within one SOTW stream.
type sotwSession struct {
	tenant model.Scope
	node   string
	types  map[snapshot.Type]*sotwTypeState
	acked  ackedSets
}

func newSOTWSession(policy NackRetryPolicy) *sotwSession {
	s := &sotwSession{
		types: make(map[snapshot.Type]*sotwTypeState, len(snapshot.DispatchOrder)),
		acked: newAckedSets(),
	}
	for _, t := range snapshot.DispatchOrder {
		s.types[t] = newSOTWTypeState(policy)
	}
	return s
}

func (s *Server) runSOTW(stream ADSStream) error {
	ctx := stream.Context()
	l := s.logger(ctx)
	openStreams.WithLabelValues("sotw").Inc()
	defer openStreams.WithLabelValues("sotw").Dec()

	reqCh := make(chan *discoveryv3.DiscoveryRequest)
	errCh := make(chan error, 1)
	go func() {
		for {
			req, err := stream.Recv()
			if err != nil {
				errCh <- err
				close(reqCh)
				return
			}
			select {
			case reqCh <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	sess := newSOTWSession(s.Nack)
	var bus *changeBusWatcher

	for {
		var wake <-chan struct{}
		if bus != nil {
			wake = bus.notify
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-errCh:
			if ok && err != nil && !errors.Is(err, context.Canceled) {
				l.Debug("sotw stream recv error", zap.Error(err))
				return err
			}

		case req, ok := <-reqCh:
			if !ok {
				return nil
			}
			if sess.node == "" && req.GetNode().GetId() != "" {
				sess.node = req.GetNode().GetId()
				tenant, ok := s.Tenant.Tenant(req.GetNode())
				if !ok {
					return errNoTenant
				}
				sess.tenant = tenant
				l = l.With(zap.String("envoy.node.id", sess.node), zapScope(tenant.String()))
				ctx = ctxzap.ToContext(ctx, l)
				bus = startChangeBusWatcher(ctx, s.Bus, tenant)
			}
			if sess.tenant == (model.Scope{}) {
				return errNoTenant
			}

			typ, ok := snapshot.TypeByURL(req.GetTypeUrl())
			if !ok {
				return errWrongType(req.GetTypeUrl())
			}
			ts := sess.types[typ]

			if nonce := req.GetResponseNonce(); nonce != "" {
				if ts.pending != nil && ts.pending.nonce == nonce {
					if err := s.handleSOTWAck(stream, l, sess, typ, ts, req); err != nil {
						return err
					}
				}
				// stale nonce from a response we've since superseded: ignore.
				continue
			}

			ts.subscribed = req.GetResourceNames()
			if resp := s.buildSOTWResponse(sess, typ, ts, true); resp != nil {
				if err := s.sendSOTW(stream, l, sess, typ, ts, resp); err != nil {
					return err
				}
			}

		case <-wake:
			for _, typ := range snapshot.DispatchOrder {
				ts := sess.types[typ]
				if ts.pending != nil {
					continue // one in flight at a time per type; next wake or ack will retry
				}
				if resp := s.buildSOTWResponse(sess, typ, ts, false); resp != nil {
					if err := s.sendSOTW(stream, l, sess, typ, ts, resp); err != nil {
						return err
					}
				}
			}
		}
	}
}

// buildSOTWResponse computes the response that should be sent for typ
// given the stream's subscription and acked state, or nil if nothing
// needs to change. force makes it always compute on an initial/changed
// subscription even if the combined hash happens to match what's already
// marked sent (a fresh subscription always gets an answer).
func (s *Server) buildSOTWResponse(sess *sotwSession, typ snapshot.Type, ts *sotwTypeState, force bool) *discoveryv3.DiscoveryResponse {
	snap := s.Cache.Get(sess.tenant)
	if snap == nil {
		return nil
	}
	set := snap.Sets[typ]

	var names []string
	switch {
	case typ == snapshot.TypeListener:
		names = warmListeners(snap, sess.acked, sess.tenant.String())
		if !ts.wildcard() {
			wanted := namesToSet(ts.subscribed)
			filtered := names[:0]
			for _, n := range names {
				if wanted[n] {
					filtered = append(filtered, n)
				}
			}
			names = filtered
		}
	case ts.wildcard():
		names = set.Order
	default:
		names = ts.subscribed
	}

	// combined must be computed over exactly what "names" contains, not
	// every entry of this type, so that a Listener becoming warm (which
	// changes "names" without changing the underlying Listener content)
	// is itself detected as a version change worth pushing.
	combined := set.CombinedHash(namesToSet(names))
	if !force && combined == ts.sentVersion {
		return nil
	}
	if ts.nack.shouldSuppress(combined, time.Now()) {
		return nil
	}

	resources := make([]*anypb.Any, 0, len(names))
	sent := make([]string, 0, len(names))
	for _, n := range names {
		e, ok := set.Entries[n]
		if !ok {
			continue
		}
		resources = append(resources, e.Any)
		sent = append(sent, n)
	}

	ts.sentVersion = combined
	ts.sentNames = sent
	return &discoveryv3.DiscoveryResponse{
		VersionInfo: combined,
		TypeUrl:     typ.TypeURL(),
		Resources:   resources,
		Nonce:       newNonce(),
	}
}

func namesToSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func (s *Server) sendSOTW(stream ADSStream, l *zap.Logger, sess *sotwSession, typ snapshot.Type, ts *sotwTypeState, resp *discoveryv3.DiscoveryResponse) error {
	span, _ := opentracing.StartSpanFromContext(stream.Context(), "xds.push", ext.SpanKindConsumer)
	span.SetTag("xds_type", typ.String())
	span.SetTag("xds_version", resp.VersionInfo)
	span.SetTag("tenant", sess.tenant.String())

	if err := stream.Send(resp); err != nil {
		span.Finish()
		return fmt.Errorf("sotw send %s: %w", typ, err)
	}

	t := &tx{start: time.Now(), span: span, typ: typ.String(), nonce: resp.Nonce, version: resp.VersionInfo}
	ts.pending = t
	pushCount.WithLabelValues(sess.tenant.String(), resourceTypeLabel(typ)).Inc()
	pushAge.WithLabelValues(sess.tenant.String(), resourceTypeLabel(typ)).SetToCurrentTime()
	l.Info("pushed resources", zap.Object("tx", t), zap.Int("count", len(resp.Resources)))
	return nil
}

// handleSOTWAck resolves the pending nonce for typ and, on a genuine ACK,
// records it into sess.acked and re-evaluates any type that depends on
// warming state (currently only the Listener type, spec §4.3/§4.5.4
// trigger (d)). The re-evaluation bypasses the "one push in flight"
// gate the wake loop applies: a Listener withheld at subscribe time
// keeps its prior nonce in ts.pending forever if it was delivered empty,
// since a client never ACKs resources it didn't receive, so only an ACK
// on the dependency it was waiting for can unblock it.
func (s *Server) handleSOTWAck(stream ADSStream, l *zap.Logger, sess *sotwSession, typ snapshot.Type, ts *sotwTypeState, req *discoveryv3.DiscoveryRequest) error {
	t := ts.pending
	ts.pending = nil
	defer t.span.Finish()

	if errDetail := req.GetErrorDetail(); errDetail != nil {
		ts.nack.onNack(t.version, time.Now())
		ext.LogError(t.span, errors.New(errDetail.GetMessage()))
		l.Warn("envoy rejected configuration", zap.String("type", typ.String()), zap.String("detail", errDetail.GetMessage()), zap.Object("tx", t))
		ackStatus.WithLabelValues(sess.tenant.String(), resourceTypeLabel(typ), "NACK").Inc()
		s.reportAck(sess.tenant, sess.node, typ, t.version, false, errDetail.GetMessage())
		return nil
	}

	ts.nack.onAck()
	sess.acked.record(typ, ts.sentNames)
	l.Debug("envoy accepted configuration", zap.String("type", typ.String()), zap.Object("tx", t))
	ackStatus.WithLabelValues(sess.tenant.String(), resourceTypeLabel(typ), "ACK").Inc()
	s.reportAck(sess.tenant, sess.node, typ, t.version, true, "")

	if typ == snapshot.TypeListener {
		return nil
	}
	lts := sess.types[snapshot.TypeListener]
	if resp := s.buildSOTWResponse(sess, snapshot.TypeListener, lts, false); resp != nil {
		return s.sendSOTW(stream, l, sess, snapshot.TypeListener, lts, resp)
	}
	return nil
}
