// Package clock abstracts time and ID generation so engine logic is
// deterministic in tests, following the teacher's internal/bt/clock.go.
package clock

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval.
type Clock interface {
	Now() time.Time
}

// Real returns the actual current time.
type Real struct{}

// Now returns time.Now().UTC().
func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed is a Clock that always returns the same instant. Useful in tests.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return f.At }

// IDGenerator abstracts unique ID generation.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

// New returns a new random UUID string.
func (UUIDGenerator) New() string { return uuid.New().String() }

// Sequential produces deterministic, incrementing IDs for tests.
type Sequential struct {
	prefix string
	n      int
}

// NewSequential creates a Sequential ID generator with the given prefix.
func NewSequential(prefix string) *Sequential { return &Sequential{prefix: prefix} }

// New returns the next sequential ID.
func (s *Sequential) New() string {
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}
