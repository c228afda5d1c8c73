package translator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// contentHash returns the stable digest of a wire resource's serialized
// form: SHA-256 of the deterministically-marshaled bytes, truncated to
// 128 bits and hex-encoded (spec.md §4.2 step 4). Determinism here is the
// substrate P1/P2 rely on: proto.MarshalOptions{Deterministic: true}
// fixes map iteration and field ordering so two processes given the same
// logical message produce byte-identical output.
func contentHash(msg proto.Message) (string, []byte, error) {
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return "", nil, fmt.Errorf("translator: marshal %T: %w", msg, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16]), b, nil
}
