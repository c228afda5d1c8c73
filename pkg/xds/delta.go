package xds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	discoveryv3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.uber.org/zap"

	"github.com/flowplane/flowplane/pkg/model"
	"github.com/flowplane/flowplane/pkg/snapshot"
)

// deltaSession is the Delta-stream equivalent of sotwSession: one per
// connected proxy, holding per-type subscription and per-resource acked
// version state.
type deltaSession struct {
	tenant model.Scope
	node   string
	types  map[snapshot.Type]*deltaTypeState
	acked  ackedSets
}

func newDeltaSession(policy NackRetryPolicy) *deltaSession {
	s := &deltaSession{
		types: make(map[snapshot.Type]*deltaTypeState, len(snapshot.DispatchOrder)),
		acked: newAckedSets(),
	}
	for _, t := range snapshot.DispatchOrder {
		s.types[t] = newDeltaTypeState(policy)
	}
	return s
}

func (s *Server) runDelta(stream ADSDeltaStream) error {
	ctx := stream.Context()
	l := s.logger(ctx)
	openStreams.WithLabelValues("delta").Inc()
	defer openStreams.WithLabelValues("delta").Dec()

	reqCh := make(chan *discoveryv3.DeltaDiscoveryRequest)
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

	sess := newDeltaSession(s.Nack)
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
				l.Debug("delta stream recv error", zap.Error(err))
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
					if err := s.handleDeltaAck(stream, l, sess, typ, ts, req); err != nil {
						return err
					}
				}
				continue
			}

			for name, version := range req.GetInitialResourceVersions() {
				ts.acked[name] = version
			}
			ts.applySubscriptionChange(req.GetResourceNamesSubscribe(), req.GetResourceNamesUnsubscribe())

			if resp := s.buildDeltaResponse(sess, typ, ts); resp != nil {
				if err := s.sendDelta(stream, l, sess, typ, ts, resp); err != nil {
					return err
				}
			}

		case <-wake:
			for _, typ := range snapshot.DispatchOrder {
				ts := sess.types[typ]
				if ts.pending != nil {
					continue
				}
				if resp := s.buildDeltaResponse(sess, typ, ts); resp != nil {
					if err := s.sendDelta(stream, l, sess, typ, ts, resp); err != nil {
						return err
					}
				}
			}
		}
	}
}

func (s *Server) buildDeltaResponse(sess *deltaSession, typ snapshot.Type, ts *deltaTypeState) *discoveryv3.DeltaDiscoveryResponse {
	if len(ts.subscribed) == 0 {
		return nil
	}
	snap := s.Cache.Get(sess.tenant)
	if snap == nil {
		return nil
	}
	set := snap.Sets[typ]

	var changed, removed []string
	if typ == snapshot.TypeListener {
		warm := namesToSet(warmListeners(snap, sess.acked, sess.tenant.String()))
		for name := range ts.subscribed {
			e, ok := set.Entries[name]
			if !ok || !warm[name] {
				if _, hadIt := ts.acked[name]; hadIt {
					removed = append(removed, name)
				}
				continue
			}
			if ts.acked[name] != e.Version {
				changed = append(changed, name)
			}
		}
	} else {
		changed, removed = ts.diff(set)
	}

	if len(changed) == 0 && len(removed) == 0 {
		return nil
	}
	if ts.nack.shouldSuppress(deltaCandidateVersion(changed, removed), time.Now()) {
		return nil
	}

	resp := &discoveryv3.DeltaDiscoveryResponse{
		TypeUrl:          typ.TypeURL(),
		RemovedResources: removed,
	}
	for _, name := range changed {
		e := set.Entries[name]
		resp.Resources = append(resp.Resources, &discoveryv3.Resource{
			Name:     name,
			Resource: e.Any,
			Version:  e.Version,
		})
	}

	ts.pendingAdd = changed
	ts.pendingDel = removed
	return resp
}

// deltaCandidateVersion builds a stable key for NACK-suppression
// comparison out of a Delta response's changed/removed name sets; Delta
// has no single version string the way SOTW's combined hash does, so the
// suppression key is synthesized from the same content that would be
// resent.
func deltaCandidateVersion(changed, removed []string) string {
	c := append([]string(nil), changed...)
	r := append([]string(nil), removed...)
	sort.Strings(c)
	sort.Strings(r)
	return fmt.Sprintf("%v|%v", c, r)
}

func (s *Server) sendDelta(stream ADSDeltaStream, l *zap.Logger, sess *deltaSession, typ snapshot.Type, ts *deltaTypeState, resp *discoveryv3.DeltaDiscoveryResponse) error {
	span, _ := opentracing.StartSpanFromContext(stream.Context(), "xds.push", ext.SpanKindConsumer)
	span.SetTag("xds_type", typ.String())
	span.SetTag("tenant", sess.tenant.String())
	span.SetTag("xds_variant", "delta")

	resp.Nonce = newNonce()
	if err := stream.Send(resp); err != nil {
		span.Finish()
		return fmt.Errorf("delta send %s: %w", typ, err)
	}

	t := &tx{start: time.Now(), span: span, typ: typ.String(), nonce: resp.Nonce, version: deltaCandidateVersion(ts.pendingAdd, ts.pendingDel)}
	ts.pending = t
	pushCount.WithLabelValues(sess.tenant.String(), resourceTypeLabel(typ)).Inc()
	pushAge.WithLabelValues(sess.tenant.String(), resourceTypeLabel(typ)).SetToCurrentTime()
	l.Info("pushed delta resources", zap.Object("tx", t), zap.Int("changed", len(resp.Resources)), zap.Int("removed", len(resp.RemovedResources)))
	return nil
}

// handleDeltaAck is the Delta-variant equivalent of handleSOTWAck: it
// resolves typ's pending nonce and, on a genuine ACK, re-evaluates the
// Listener type so an ACK that satisfies a warming dependency (spec
// §4.3/§4.5.4 trigger (d)) delivers the now-eligible Listener without
// waiting on a Change Bus wake.
func (s *Server) handleDeltaAck(stream ADSDeltaStream, l *zap.Logger, sess *deltaSession, typ snapshot.Type, ts *deltaTypeState, req *discoveryv3.DeltaDiscoveryRequest) error {
	t := ts.pending
	ts.pending = nil
	defer t.span.Finish()

	if errDetail := req.GetErrorDetail(); errDetail != nil {
		ts.nack.onNack(t.version, time.Now())
		ext.LogError(t.span, errors.New(errDetail.GetMessage()))
		l.Warn("envoy rejected delta configuration", zap.String("type", typ.String()), zap.String("detail", errDetail.GetMessage()), zap.Object("tx", t))
		ackStatus.WithLabelValues(sess.tenant.String(), resourceTypeLabel(typ), "NACK").Inc()
		s.reportAck(sess.tenant, sess.node, typ, t.version, false, errDetail.GetMessage())
		return nil
	}

	ts.nack.onAck()
	snap := s.Cache.Get(sess.tenant)
	if snap != nil {
		set := snap.Sets[typ]
		for _, name := range ts.pendingAdd {
			if e, ok := set.Entries[name]; ok {
				ts.acked[name] = e.Version
			}
		}
	}
	for _, name := range ts.pendingDel {
		delete(ts.acked, name)
	}
	sess.acked.record(typ, ts.pendingAdd)
	l.Debug("envoy accepted delta configuration", zap.String("type", typ.String()), zap.Object("tx", t))
	ackStatus.WithLabelValues(sess.tenant.String(), resourceTypeLabel(typ), "ACK").Inc()
	s.reportAck(sess.tenant, sess.node, typ, t.version, true, "")

	if typ == snapshot.TypeListener {
		return nil
	}
	lts := sess.types[snapshot.TypeListener]
	if lts.pending != nil {
		return nil
	}
	if resp := s.buildDeltaResponse(sess, snapshot.TypeListener, lts); resp != nil {
		return s.sendDelta(stream, l, sess, snapshot.TypeListener, lts, resp)
	}
	return nil
}
