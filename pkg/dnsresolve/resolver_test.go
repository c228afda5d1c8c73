package dnsresolve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackIsIdempotentAndStartsEmpty(t *testing.T) {
	r := New(Config{})
	r.Track("users.svc.cluster.local")
	r.Track("users.svc.cluster.local")

	addrs, ok := r.Addresses("users.svc.cluster.local")
	require.True(t, ok)
	require.Empty(t, addrs)

	_, ok = r.Addresses("never-tracked.example.com")
	require.False(t, ok)
}

func TestRefreshKeepsPriorAddressesOnFailure(t *testing.T) {
	r := New(Config{Nameserver: "127.0.0.1:0"}) // nothing listening: every query fails
	r.mu.Lock()
	r.tracked["stale.example.com"] = entry{addrs: []string{"10.0.0.5"}}
	r.mu.Unlock()

	r.refreshAll(context.Background())

	addrs, ok := r.Addresses("stale.example.com")
	require.True(t, ok)
	require.Equal(t, []string{"10.0.0.5"}, addrs, "a failed refresh must not blank out the last good answer")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, 30*time.Second, cfg.RefreshInterval)
	require.Equal(t, 2*time.Second, cfg.Timeout)

	cfg2 := Config{RefreshInterval: 5 * time.Second, Timeout: time.Second}.withDefaults()
	require.Equal(t, 5*time.Second, cfg2.RefreshInterval)
	require.Equal(t, time.Second, cfg2.Timeout)
}
