package xds

import (
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uber/jaeger-client-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	pushCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowplane_xds_push_count",
		Help: "The number of discovery responses pushed to connected proxies.",
	}, []string{"tenant", "type"})

	pushAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flowplane_xds_push_age",
		Help: "The time a resource type was last pushed to a tenant's streams.",
	}, []string{"tenant", "type"})

	ackStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowplane_xds_ack_status",
		Help: "ACK/NACK counts observed from connected proxies, by resource type.",
	}, []string{"tenant", "type", "status"})

	openStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flowplane_xds_open_streams",
		Help: "The number of currently open xDS streams, by protocol variant.",
	}, []string{"variant"})

	warmingBlocked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flowplane_xds_warming_blocked",
		Help: "Listeners currently withheld from a stream pending warming of their dependencies.",
	}, []string{"tenant"})
)

// tx is one in-flight discovery response awaiting ACK/NACK, generalized
// from ekglue's single-type Manager.tx to carry the resource Type it
// belongs to, since one stream now multiplexes all five.
type tx struct {
	start   time.Time
	span    opentracing.Span
	typ     string
	nonce   string
	version string
}

func (t *tx) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if t == nil {
		return nil
	}
	enc.AddDuration("age", time.Since(t.start))
	enc.AddString("type", t.typ)
	enc.AddString("nonce", t.nonce)
	enc.AddString("version", t.version)
	enc.AddObject("trace", &loggableSpan{t.span})
	return nil
}

// loggableSpan renders an opentracing span into a zap object, special
// casing jaeger spans (cheap, no tracer round trip) and falling back to a
// generic text-map injection for any other tracer implementation.
type loggableSpan struct{ opentracing.Span }

func (s *loggableSpan) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if s == nil || s.Span == nil {
		return nil
	}
	if j, ok := s.Context().(jaeger.SpanContext); ok {
		if !j.IsValid() {
			return nil
		}
		enc.AddString("span", j.SpanID().String())
		enc.AddBool("sampled", j.IsSampled())
		return nil
	}
	c := make(opentracing.TextMapCarrier)
	if err := s.Tracer().Inject(s.Context(), opentracing.TextMap, c); err != nil {
		return err
	}
	for k, v := range c {
		enc.AddString(k, v)
	}
	return nil
}

func zapScope(tenant string) zap.Field { return zap.String("tenant", tenant) }
