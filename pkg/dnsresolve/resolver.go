// Package dnsresolve provides active DNS resolution for Cluster endpoint
// targets declared by hostname (spec.md's supplemented "dynamic endpoint
// resolution" feature, absent from the distilled spec's Non-goals but
// present in the kind of control plane this one is modeled on). It is
// deliberately a read-through cache rather than a Store mutator: resolved
// addresses are never written back over a declarative Cluster's Hostname
// field, because doing so would permanently erase the fact that the
// endpoint was ever hostname-based and the next refresh would have
// nothing left to re-resolve. Instead a caller (a custom Resource Store
// shim, say) asks Addresses for the latest resolution of a tracked
// hostname and substitutes it in at read time. The translator runner in
// pkg/xds does not consult a Resolver.
package dnsresolve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Config controls the resolver's refresh behavior.
type Config struct {
	Nameserver      string        // "host:port", e.g. "10.0.0.10:53"
	RefreshInterval time.Duration // how often tracked hostnames are re-resolved
	Timeout         time.Duration // per-query timeout
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	return c
}

type entry struct {
	addrs []string
	err   error
}

// Resolver keeps a set of "tracked" hostnames resolved to their current
// A-record addresses, refreshing them on a fixed interval in the
// background. A transient resolution failure leaves the previous
// successful answer in place rather than clearing it, so a momentary DNS
// outage doesn't drain a cluster's membership to zero.
type Resolver struct {
	cfg    Config
	client *dns.Client

	mu      sync.RWMutex
	tracked map[string]entry
}

// New returns a Resolver using cfg (zero-value fields fall back to
// sensible defaults).
func New(cfg Config) *Resolver {
	cfg = cfg.withDefaults()
	return &Resolver{
		cfg:     cfg,
		client:  &dns.Client{Timeout: cfg.Timeout},
		tracked: make(map[string]entry),
	}
}

// Track registers host to be kept resolved. Idempotent; safe to call
// repeatedly as the same Cluster is re-translated.
func (r *Resolver) Track(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracked[host]; !ok {
		r.tracked[host] = entry{}
	}
}

// Addresses returns the most recently resolved addresses for host, and
// whether host is tracked at all. A tracked host with no successful
// resolution yet returns an empty, non-nil-ok slice.
func (r *Resolver) Addresses(host string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tracked[host]
	return e.addrs, ok
}

// Resolve runs one A-record query against the configured nameserver,
// independent of Track/Addresses's cache — used both by the background
// refresh loop and by callers that want a synchronous one-off lookup.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, m, r.cfg.Nameserver)
	if err != nil {
		return nil, fmt.Errorf("dnsresolve: query %s: %w", host, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dnsresolve: query %s: rcode %s", host, dns.RcodeToString[resp.Rcode])
	}

	var addrs []string
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			addrs = append(addrs, a.A.String())
		}
	}
	return addrs, nil
}

// Run refreshes every tracked hostname every RefreshInterval until ctx is
// done. Callers start it in its own goroutine alongside the translator
// runner.
func (r *Resolver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		r.refreshAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Resolver) refreshAll(ctx context.Context) {
	r.mu.RLock()
	hosts := make([]string, 0, len(r.tracked))
	for h := range r.tracked {
		hosts = append(hosts, h)
	}
	r.mu.RUnlock()

	for _, h := range hosts {
		addrs, err := r.Resolve(ctx, h)
		r.mu.Lock()
		prev := r.tracked[h]
		if err != nil {
			r.tracked[h] = entry{addrs: prev.addrs, err: err}
		} else {
			r.tracked[h] = entry{addrs: addrs}
		}
		r.mu.Unlock()
	}
}
