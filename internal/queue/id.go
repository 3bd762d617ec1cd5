package queue

import (
	"fmt"
	"sync/atomic"

	"github.com/teris-io/shortid"
)

// idAlphabet is the 64-symbol set shortid draws from for the random suffix
// of a job id. Digits first keeps the common case (ids under ten thousand
// jobs deep) visually grouped near the sequence number that precedes it.
const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ-_"

var (
	sid *shortid.Shortid
	seq uint64
)

func init() {
	sid = shortid.MustNew(1, idAlphabet, 0)
}

// genJobID returns a job request id of the form "job-<seq>-<rand>": a
// monotonically increasing per-process sequence number, so ids sort and
// log in submission order, joined with a short shortid suffix so two
// workers (or two queue instances) never collide on the same id.
func genJobID() string {
	n := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("job-%d-%s", n, sid.MustGenerate())
}
