package snapshot

import (
	"testing"

	"github.com/flowplane/flowplane/pkg/model"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/anypb"
)

func scopeA() model.Scope { return model.Scope{Org: "acme", Team: "engineering"} }
func scopeB() model.Scope { return model.Scope{Org: "globex", Team: "ops"} }

func TestCacheGetReplaceIsolatesTenants(t *testing.T) {
	c := NewCache()
	require.Nil(t, c.Get(scopeA()))

	b := NewBuilder(scopeA(), 1)
	b.Add(TypeCluster, Entry{Name: "users", Any: &anypb.Any{}, Hash: "h1", Version: "h1"})
	snapA := b.Build()
	c.Replace(snapA)

	require.Same(t, snapA, c.Get(scopeA()))
	require.Nil(t, c.Get(scopeB())) // isolation: unrelated tenant unaffected (P4)

	bB := NewBuilder(scopeB(), 1)
	snapB := bB.Build()
	c.Replace(snapB)
	require.Same(t, snapA, c.Get(scopeA())) // still untouched
	require.Same(t, snapB, c.Get(scopeB()))
}

func TestCacheReplaceIsAtomicSwap(t *testing.T) {
	c := NewCache()
	b1 := NewBuilder(scopeA(), 1)
	b1.Add(TypeCluster, Entry{Name: "users", Hash: "h1", Version: "h1"})
	snap1 := b1.Build()
	c.Replace(snap1)

	held := c.Get(scopeA())

	b2 := NewBuilder(scopeA(), 2)
	b2.Add(TypeCluster, Entry{Name: "users", Hash: "h2", Version: "h2"})
	snap2 := b2.Build()
	c.Replace(snap2)

	// a reference obtained before the swap stays exactly as it was.
	require.Equal(t, int64(1), held.Version)
	require.Equal(t, int64(2), c.Get(scopeA()).Version)
}

func TestSetCombinedHashStableUnderNoChange(t *testing.T) {
	b := NewBuilder(scopeA(), 1)
	b.Add(TypeCluster, Entry{Name: "a", Hash: "ha", Version: "ha"})
	b.Add(TypeCluster, Entry{Name: "b", Hash: "hb", Version: "hb"})
	s1 := b.Build().Sets[TypeCluster]

	b2 := NewBuilder(scopeA(), 2)
	b2.Add(TypeCluster, Entry{Name: "a", Hash: "ha", Version: "ha"})
	b2.Add(TypeCluster, Entry{Name: "b", Hash: "hb", Version: "hb"})
	s2 := b2.Build().Sets[TypeCluster]

	require.Equal(t, s1.CombinedHash(nil), s2.CombinedHash(nil))
}

func TestSetCombinedHashChangesWithContent(t *testing.T) {
	b := NewBuilder(scopeA(), 1)
	b.Add(TypeCluster, Entry{Name: "a", Hash: "ha", Version: "ha"})
	s1 := b.Build().Sets[TypeCluster]

	b2 := NewBuilder(scopeA(), 2)
	b2.Add(TypeCluster, Entry{Name: "a", Hash: "ha2", Version: "ha2"})
	s2 := b2.Build().Sets[TypeCluster]

	require.NotEqual(t, s1.CombinedHash(nil), s2.CombinedHash(nil))
}

func TestDiffAddedModifiedRemoved(t *testing.T) {
	cur := newSet()
	cur.add(Entry{Name: "a", Hash: "h1", Version: "h1"})
	cur.add(Entry{Name: "b", Hash: "h2", Version: "h2"})

	last := map[string]string{"a": "h0", "c": "hc"} // a changed, b added, c removed
	changed, removed := Diff(cur, last, nil)

	var names []string
	for _, e := range changed {
		names = append(names, e.Name)
	}
	require.ElementsMatch(t, []string{"a", "b"}, names)
	require.ElementsMatch(t, []string{"c"}, removed)
}

func TestDiffNoChangeIsEmpty(t *testing.T) {
	cur := newSet()
	cur.add(Entry{Name: "a", Hash: "h1", Version: "h1"})
	last := map[string]string{"a": "h1"}
	changed, removed := Diff(cur, last, nil)
	require.Empty(t, changed)
	require.Empty(t, removed)
}

func TestDiffRestrictsToSubscribedNames(t *testing.T) {
	cur := newSet()
	cur.add(Entry{Name: "a", Hash: "h1", Version: "h1"})
	cur.add(Entry{Name: "b", Hash: "h2", Version: "h2"})
	changed, _ := Diff(cur, nil, map[string]bool{"a": true})
	require.Len(t, changed, 1)
	require.Equal(t, "a", changed[0].Name)
}
