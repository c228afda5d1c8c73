package xds

import "github.com/flowplane/flowplane/pkg/snapshot"

// sotwTypeState is one resource type's state within a single
// state-of-the-world stream: which resources it's subscribed to (empty
// means wildcard, the "give me everything of this type" convention xDS
// uses for CDS/LDS), what was last sent and is awaiting ACK/NACK, and the
// NACK suppression state for that type.
type sotwTypeState struct {
	subscribed  []string // empty == wildcard
	sentVersion string   // version of the last response built, whether or not the client ACKed it
	sentNames   []string // names included in the in-flight/last-sent response
	pending     *tx      // non-nil while a response is in flight awaiting ack/nack
	nack        nackState
}

func newSOTWTypeState(policy NackRetryPolicy) *sotwTypeState {
	return &sotwTypeState{nack: nackState{policy: policy}}
}

func (s *sotwTypeState) wildcard() bool { return len(s.subscribed) == 0 }

// deltaTypeState is one resource type's state within a single Delta
// (incremental) stream: the subscribed name set (Delta is never
// wildcard-only in this design — an empty set subscribes to nothing),
// and per-name "last version sent and acked" so only resources that
// actually changed since the client's last acked version are resent
// (spec's Delta semantics, I-equivalent of SOTW's combined-hash shortcut
// but resource-granular).
type deltaTypeState struct {
	subscribed map[string]bool
	acked      map[string]string // resource name -> version the client has
	pending    *tx
	pendingAdd []string // names included in the in-flight response, for ack bookkeeping
	pendingDel []string
	nack       nackState
}

func newDeltaTypeState(policy NackRetryPolicy) *deltaTypeState {
	return &deltaTypeState{
		subscribed: make(map[string]bool),
		acked:      make(map[string]string),
		nack:       nackState{policy: policy},
	}
}

func (d *deltaTypeState) applySubscriptionChange(add, remove []string) {
	for _, n := range add {
		d.subscribed[n] = true
	}
	for _, n := range remove {
		delete(d.subscribed, n)
		delete(d.acked, n)
	}
}

// diff computes, against the current snapshot set for this type, which
// subscribed names are new-or-changed relative to what the client has
// acked, and which previously-acked names have since disappeared from
// the set (a removal to push as Delta's RemovedResources).
func (d *deltaTypeState) diff(set snapshot.Set) (changed []string, removed []string) {
	for name := range d.subscribed {
		e, ok := set.Entries[name]
		if !ok {
			if _, hadIt := d.acked[name]; hadIt {
				removed = append(removed, name)
			}
			continue
		}
		if d.acked[name] != e.Version {
			changed = append(changed, name)
		}
	}
	return changed, removed
}
