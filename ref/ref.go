// Package ref generates unique, human-traceable settlement references.
//
// A reference ties every ledger write of one settlement attempt together
// for audit, and is the handle a retried caller gets back. The format is
// "PREFIX-YYYYMMDD-XXXXXXXXXXXX": a fixed prefix, the settlement date, and
// twelve hex characters of random entropy.
package ref

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultPrefix is the reference prefix used when none is configured.
const DefaultPrefix = "TXN"

// Generator produces one unique reference per settlement attempt.
type Generator interface {
	Next(t time.Time) string
}

// UUIDGenerator derives reference entropy from a random UUID.
type UUIDGenerator struct {
	Prefix string
}

// NewGenerator returns the default UUID-backed generator.
func NewGenerator() *UUIDGenerator {
	return &UUIDGenerator{Prefix: DefaultPrefix}
}

// Next returns a new reference stamped with t's UTC date.
func (g *UUIDGenerator) Next(t time.Time) string {
	prefix := g.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	u := uuid.New()
	return fmt.Sprintf("%s-%s-%X", prefix, t.UTC().Format("20060102"), u[:6])
}

// Sequence is a deterministic generator for tests. Not safe for
// concurrent use.
type Sequence struct {
	Prefix string
	n      int
}

// Next returns "PREFIX-YYYYMMDD-000001" style references in call order.
func (s *Sequence) Next(t time.Time) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	s.n++
	return fmt.Sprintf("%s-%s-%06d", prefix, t.UTC().Format("20060102"), s.n)
}

// Valid reports whether r looks like a generated reference. Used by
// stores to reject malformed records before they reach the log.
func Valid(r string) bool {
	parts := strings.Split(r, "-")
	if len(parts) != 3 {
		return false
	}
	return parts[0] != "" && len(parts[1]) == 8 && parts[2] != ""
}
