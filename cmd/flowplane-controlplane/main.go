// Command flowplane-controlplane runs the Flowplane xDS control plane: a
// Resource Store, Translator, Snapshot Cache, Change Bus, and an
// Aggregated Discovery Service server speaking both the SOTW and Delta
// xDS variants.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	discoveryv3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	"github.com/jrockway/opinionated-server/server"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/flowplane/flowplane/internal/config"
	"github.com/flowplane/flowplane/pkg/changebus"
	"github.com/flowplane/flowplane/pkg/dnsresolve"
	"github.com/flowplane/flowplane/pkg/snapshot"
	"github.com/flowplane/flowplane/pkg/store"
	"github.com/flowplane/flowplane/pkg/storek8s"
	"github.com/flowplane/flowplane/pkg/xds"
)

type kflags struct {
	Kubeconfig string `long:"kubeconfig" env:"KUBECONFIG" description:"kubeconfig to use to connect to the cluster, when running outside of the cluster"`
	Master     string `long:"master" env:"KUBE_MASTER" description:"url of the kubernetes master, only necessary when running outside of the cluster and when it's not specified in the provided kubeconfig"`
}

func main() {
	server.AppName = "flowplane-controlplane"

	kf := new(kflags)
	server.AddFlagGroup("Kubernetes", kf)
	server.Setup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("problem loading configuration", zap.Error(err))
	}
	if kf.Kubeconfig != "" {
		cfg.Kubeconfig = kf.Kubeconfig
	}
	if kf.Master != "" {
		cfg.Master = kf.Master
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gracefulShutdown(ctx, cancel, cfg.ShutdownGracePeriod)

	st := store.NewMemoryStore()
	cache := snapshot.NewCache()
	bus := changebus.New()

	if cfg.Backend == config.BackendKubernetes {
		startKubernetesWatcher(ctx, cfg, st)
	}

	runner := xds.NewRunner(st, cache, bus)
	go func() {
		if err := runner.Run(ctx); err != nil {
			zap.L().Error("translator runner startup had errors", zap.Error(err))
		}
	}()

	resolver := dnsresolve.New(dnsresolve.Config{
		Nameserver:      cfg.DNSNameserver,
		RefreshInterval: cfg.DNSResolveInterval,
	})
	go resolver.Run(ctx)

	svc := xds.NewServer(cache, bus, xds.DefaultTenantMapper, cfg.NackRetryPolicy)
	server.AddService(func(s *grpc.Server) {
		discoveryv3.RegisterAggregatedDiscoveryServiceServer(s, svc)
	})

	server.ListenAndServe()
}

// gracefulShutdown waits for SIGINT/SIGTERM, then holds off cancel for
// grace so in-flight xDS streams get a chance to finish their current
// push/ack cycle and the translator runner its current translation pass
// before the Store/Cache/Bus wiring this ctx governs tears down.
func gracefulShutdown(ctx context.Context, cancel context.CancelFunc, grace time.Duration) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
		return
	}
	zap.L().Info("received shutdown signal, draining", zap.Duration("grace_period", grace))
	select {
	case <-time.After(grace):
	case <-ctx.Done():
	}
	cancel()
}

// startKubernetesWatcher connects a storek8s.Watcher for cfg.Tenant and
// runs it until ctx is done. Flowplane's multi-tenant model has no single
// well-known scope the way ekglue's single-cluster design did, so a
// Kubernetes-backed deployment runs one control plane process per tenant
// scope, named explicitly by FLOWPLANE_TENANT_ORG/FLOWPLANE_TENANT_TEAM.
func startKubernetesWatcher(ctx context.Context, cfg *config.Config, sink storek8s.Sink) {
	var (
		w   *storek8s.Watcher
		err error
	)
	if cfg.Kubeconfig != "" || cfg.Master != "" {
		zap.L().Info("connecting to kubernetes, outside of cluster", zap.String("kubeconfig", cfg.Kubeconfig))
		w, err = storek8s.ConnectOutOfCluster(cfg.Kubeconfig, cfg.Master, cfg.Tenant, sink)
	} else {
		zap.L().Info("connecting to kubernetes, running in-cluster")
		w, err = storek8s.ConnectInCluster(cfg.Tenant, sink)
	}
	if err != nil {
		zap.L().Fatal("problem connecting to kubernetes", zap.Error(err))
	}
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("kubernetes watcher stopped", zap.Error(err))
		}
	}()
}
