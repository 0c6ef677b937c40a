package utils

import (
	"fmt"
	"sync/atomic"
	"time"
)

// seq reduces collisions when multiple local IDs are generated within the
// same nanosecond.
var seq uint64

// GenLocalID returns a client-generated correlation token for an optimistic
// message: a zero-padded nanosecond timestamp plus a per-process sequence.
// Tokens sort lexicographically in creation order and are unique per device
// session, which is all the server-side correlation requires.
func GenLocalID() string {
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("%020d-%06d", ts, s)
}
