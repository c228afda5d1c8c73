package xds

import "time"

// NackRetryPolicy controls what the server does after a stream NACKs a
// resource type (spec §4.5.5, Open Question #1 in DESIGN.md). The
// resolved default, "no-resend-until-change", never re-sends the exact
// version a stream just rejected; it waits for the Change Bus to wake the
// stream with a genuinely newer snapshot version before trying again,
// since resending identical bytes would NACK again for the identical
// reason and just burn cycles on both ends.
type NackRetryPolicy string

const (
	// NackNoResendUntilChange withholds retransmission of a type a stream
	// has NACKed until that tenant's snapshot advances to a new version.
	NackNoResendUntilChange NackRetryPolicy = "no-resend-until-change"

	// NackTimer lets the same rejected version be sent again once
	// nackTimerInterval has passed since the NACK, for the rarer case
	// where the rejection was caused by transient client-side resource
	// pressure rather than the content itself. No timer schedules that
	// resend: it goes out only when a later request or Change Bus wake
	// builds a response for the type.
	NackTimer NackRetryPolicy = "timer"
)

// DefaultNackRetryPolicy is the policy used when configuration leaves
// NackRetryPolicy unset.
const DefaultNackRetryPolicy = NackNoResendUntilChange

const nackTimerInterval = 30 * time.Second

// nackState tracks, for one (stream, resource type), the last version
// that stream rejected, so the send loop can decide whether a candidate
// response is a retransmission worth suppressing.
type nackState struct {
	policy         NackRetryPolicy
	rejectedVersion string
	nextRetry      time.Time
}

// shouldSuppress reports whether candidateVersion is the same version
// already rejected and, under the active policy, should not be resent
// yet.
func (n *nackState) shouldSuppress(candidateVersion string, now time.Time) bool {
	if n.rejectedVersion == "" || candidateVersion != n.rejectedVersion {
		return false
	}
	switch n.policy {
	case NackTimer:
		return now.Before(n.nextRetry)
	default:
		return true // no-resend-until-change: candidate IS the rejected version, so suppress
	}
}

// onNack records that version was just rejected.
func (n *nackState) onNack(version string, now time.Time) {
	n.rejectedVersion = version
	if n.policy == NackTimer {
		n.nextRetry = now.Add(nackTimerInterval)
	}
}

// onAck clears any suppression; an accepted version is never the
// "rejected" one anymore, whatever it was.
func (n *nackState) onAck() {
	n.rejectedVersion = ""
}
