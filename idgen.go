package starling

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULIDSessionIDFactory is the default SessionIDFactory. ULIDs sort
// lexicographically by creation time, which makes session ids double as a
// natural correlation key across log lines without exposing a raw counter.
type ULIDSessionIDFactory struct {
	mu      sync.Mutex
	entropy io.Reader
}

// NewULIDSessionIDFactory creates a ULID-backed SessionIDFactory using a
// monotonic entropy source seeded from crypto/rand.
func NewULIDSessionIDFactory() *ULIDSessionIDFactory {
	return &ULIDSessionIDFactory{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Next returns a new ULID string. Safe for concurrent use.
func (f *ULIDSessionIDFactory) Next() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), f.entropy).String()
}
