// Package id generates identifiers for frames and supervisor sessions.
//
// Frame IDs are ULIDs drawn from a monotonic source, so IDs generated in the
// same millisecond still sort in arrival order. Session IDs are random UUIDs
// with a prefix that makes them easy to spot in logs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// FrameID identifies one telemetry sample.
type FrameID string

// SessionID identifies one run of the autoguider process.
type SessionID string

const (
	FramePrefix   = "frm"
	SessionPrefix = "sess"
)

// Generator generates monotonic ULIDs.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
		now:     time.Now,
	}
}

// Generate returns a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateWithPrefix returns prefix_ULID.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewFrameID generates a frame ID.
func NewFrameID() FrameID {
	return FrameID(Default().GenerateWithPrefix(FramePrefix))
}

// NewSessionID generates a session ID.
func NewSessionID() SessionID {
	return SessionID(SessionPrefix + "_" + uuid.NewString())
}

func (id FrameID) String() string   { return string(id) }
func (id SessionID) String() string { return string(id) }

// Time returns when the frame ID was generated.
func (id FrameID) Time() (time.Time, error) {
	s := string(id)
	if len(s) > len(FramePrefix)+1 && s[:len(FramePrefix)+1] == FramePrefix+"_" {
		s = s[len(FramePrefix)+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse frame id %q: %w", string(id), err)
	}
	return ulid.Time(parsed.Time()), nil
}

// IsValid reports whether s is a bare ULID.
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}
