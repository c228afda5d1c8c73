// Package config loads Flowplane's own runtime configuration from
// environment variables. Process-entrypoint flags (listen addresses,
// TLS, pprof) are owned by github.com/jrockway/opinionated-server/server
// instead; this package only covers settings specific to the xDS
// delivery subsystem that server.AddFlagGroup has no opinion about.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/flowplane/flowplane/pkg/model"
	"github.com/flowplane/flowplane/pkg/xds"
)

// Backend selects which Store implementation the control plane runs
// against.
type Backend string

const (
	BackendMemory     Backend = "memory"
	BackendKubernetes Backend = "kubernetes"
)

// Config holds every Flowplane-specific setting, loaded once at startup
// via Load and then treated as immutable.
type Config struct {
	// Backend selects the Store implementation: "memory" for an
	// in-process store with no persistence, or "kubernetes" for
	// pkg/storek8s watching Service/Endpoints objects.
	Backend Backend

	// Kubeconfig and Master are only consulted when Backend is
	// BackendKubernetes and the process runs outside of a cluster.
	Kubeconfig string
	Master     string

	// Tenant is the single tenant scope a Kubernetes-backend process
	// watches Service/Endpoints objects into (spec §6.2's (org, team)
	// scoping has no equivalent in the Kubernetes API to derive it
	// from, so a Kubernetes-backed deployment runs one process per
	// tenant and names its scope explicitly). Only required when
	// Backend is BackendKubernetes.
	Tenant model.Scope

	// NackRetryPolicy is the xDS Server's NACK-suppression policy
	// (Open Question #1): xds.NackNoResendUntilChange by default,
	// xds.NackTimer as the configurable alternate.
	NackRetryPolicy xds.NackRetryPolicy

	// ShutdownGracePeriod is how long the process waits after
	// SIGINT/SIGTERM before cancelling the context the translator
	// runner, DNS resolver and Kubernetes watcher run under. It does not
	// stop the gRPC server.
	ShutdownGracePeriod time.Duration

	// DNSResolveInterval is how often pkg/dnsresolve re-queries DNS
	// names used by hostname-based Cluster endpoints.
	DNSResolveInterval time.Duration

	// DNSNameserver is the "host:port" the DNS resolver queries.
	DNSNameserver string
}

// Load reads configuration from environment variables, falling back to
// defaults suitable for local development with an in-memory store. An
// error is returned if a set variable can't be parsed as the type it
// names or holds an unknown value, or if FLOWPLANE_BACKEND=kubernetes is
// set without both FLOWPLANE_TENANT_ORG and FLOWPLANE_TENANT_TEAM.
func Load() (*Config, error) {
	cfg := &Config{
		Backend:    Backend(getEnv("FLOWPLANE_BACKEND", string(BackendMemory))),
		Kubeconfig: getEnv("FLOWPLANE_KUBECONFIG", ""),
		Master:     getEnv("FLOWPLANE_KUBE_MASTER", ""),
	}

	switch cfg.Backend {
	case BackendMemory:
	case BackendKubernetes:
		org, team := getEnv("FLOWPLANE_TENANT_ORG", ""), getEnv("FLOWPLANE_TENANT_TEAM", "")
		if org == "" || team == "" {
			return nil, fmt.Errorf("config: FLOWPLANE_TENANT_ORG and FLOWPLANE_TENANT_TEAM are required when FLOWPLANE_BACKEND=%s", BackendKubernetes)
		}
		cfg.Tenant = model.Scope{Org: org, Team: team}
	default:
		return nil, fmt.Errorf("config: unknown FLOWPLANE_BACKEND %q (want %q or %q)", cfg.Backend, BackendMemory, BackendKubernetes)
	}

	switch policy := xds.NackRetryPolicy(getEnv("FLOWPLANE_NACK_RETRY_POLICY", string(xds.DefaultNackRetryPolicy))); policy {
	case xds.NackNoResendUntilChange, xds.NackTimer:
		cfg.NackRetryPolicy = policy
	default:
		return nil, fmt.Errorf("config: unknown FLOWPLANE_NACK_RETRY_POLICY %q (want %q or %q)", policy, xds.NackNoResendUntilChange, xds.NackTimer)
	}

	grace, err := getDuration("FLOWPLANE_SHUTDOWN_GRACE_PERIOD", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.ShutdownGracePeriod = grace

	dnsInterval, err := getDuration("FLOWPLANE_DNS_RESOLVE_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DNSResolveInterval = dnsInterval
	cfg.DNSNameserver = getEnv("FLOWPLANE_DNS_NAMESERVER", "127.0.0.1:53")

	return cfg, nil
}

// getEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return d, nil
}
