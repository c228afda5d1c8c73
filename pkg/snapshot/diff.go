package snapshot

// Diff computes what a Delta stream needs to move from the resource
// versions in `last` (name -> version string last sent) to the current
// set `cur`, restricted to the names in `subscribed` (nil means
// wildcard: every name in cur). It never looks at `last`'s own name list
// beyond what's needed to compute removals, matching spec §4.3's
// diff(old, new, type) contract.
func Diff(cur Set, last map[string]string, subscribed map[string]bool) (changed []Entry, removed []string) {
	seen := make(map[string]bool, len(cur.Order))
	for _, name := range cur.Order {
		if subscribed != nil && !subscribed[name] {
			continue
		}
		seen[name] = true
		e := cur.Entries[name]
		if lastVersion, ok := last[name]; !ok || lastVersion != e.Version {
			changed = append(changed, e)
		}
	}
	for name := range last {
		if subscribed != nil && !subscribed[name] {
			continue
		}
		if !seen[name] {
			removed = append(removed, name)
		}
	}
	return changed, removed
}
