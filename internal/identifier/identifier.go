// Package identifier emits time-ordered 128-bit identifiers used as primary
// keys for all governance entities. The layout follows UUIDv7: a 48-bit Unix
// millisecond timestamp, the version nibble (0x7), a 12-bit monotonic counter
// that resets each millisecond, the variant bits (0b10), and 62 bits of
// cryptographically random data. Identifiers generated in the same process
// within the same millisecond are strictly increasing, which makes them stable
// sort keys and deterministic compiler tie-breakers without a database
// round-trip.
package identifier

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// counterMax is the largest value of the 12-bit sub-millisecond counter.
const counterMax = 0x0FFF

// Generator produces monotonic UUIDv7 identifiers. The zero value is not
// usable; construct with New. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	now     func() time.Time
	lastMS  int64
	counter uint16
}

// New returns a Generator backed by the system clock.
func New() *Generator {
	return &Generator{now: time.Now}
}

// NewWithClock returns a Generator using the supplied clock, for tests.
func NewWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// NewID returns the next identifier. When more than 4096 identifiers are
// requested within one millisecond the generator waits for the next
// millisecond rather than breaking monotonic ordering.
func (g *Generator) NewID() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	switch {
	case ms > g.lastMS:
		g.lastMS = ms
		g.counter = 0
	case ms == g.lastMS && g.counter < counterMax:
		g.counter++
	default:
		// Clock went backwards or the counter is exhausted. Spin until the
		// observed clock passes lastMS so ordering is preserved.
		for ms <= g.lastMS {
			time.Sleep(100 * time.Microsecond)
			ms = g.now().UnixMilli()
		}
		g.lastMS = ms
		g.counter = 0
	}

	var id uuid.UUID
	if _, err := rand.Read(id[8:]); err != nil {
		// crypto/rand never fails on supported platforms; if it does the
		// process cannot safely mint identifiers.
		panic(fmt.Sprintf("identifier: crypto/rand unavailable: %v", err))
	}

	ms = g.lastMS
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)

	// Version 7 nibble plus the high 4 bits of the counter.
	id[6] = 0x70 | byte(g.counter>>8)
	id[7] = byte(g.counter)

	// RFC 4122 variant over the top two bits of the random section.
	id[8] = (id[8] & 0x3F) | 0x80

	return id
}

// NewString returns the next identifier in canonical textual form.
func (g *Generator) NewString() string {
	return g.NewID().String()
}

// Timestamp extracts the millisecond Unix timestamp encoded in id.
func Timestamp(id uuid.UUID) time.Time {
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 |
		int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return time.UnixMilli(ms).UTC()
}

var defaultGenerator = New()

// NewID returns an identifier from the process-wide default generator.
func NewID() uuid.UUID { return defaultGenerator.NewID() }

// NewString returns a textual identifier from the default generator.
func NewString() string { return defaultGenerator.NewString() }
