package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transfer leg suffixes. Both legs of one transfer share the generated base
// reference; the suffix distinguishes the debit leg from the credit leg
// without needing a secondary index to correlate them.
const (
	RefSuffixOut = "-OUT"
	RefSuffixIn  = "-IN"
)

// ReferenceGenerator produces collision-resistant reference numbers for
// ledger operations. It holds no state and takes no locks, so concurrent
// callers never contend on it.
type ReferenceGenerator struct{}

func NewReferenceGenerator() *ReferenceGenerator {
	return &ReferenceGenerator{}
}

// Generate returns a new unique reference number, e.g.
// TXN-20260830-9F1C2B7A4D3E. The date segment keeps references roughly
// sortable for operators; uniqueness comes from the random UUID segment.
func (g *ReferenceGenerator) Generate() string {
	id := uuid.New()
	raw := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return fmt.Sprintf("TXN-%s-%s", time.Now().UTC().Format("20060102"), raw[:12])
}

// TransferLegs derives the per-leg reference numbers for one transfer from a
// single base reference.
func TransferLegs(base string) (outRef, inRef string) {
	return base + RefSuffixOut, base + RefSuffixIn
}

// BaseReference strips a transfer leg suffix, returning the shared base that
// correlates both legs of a transfer. Non-transfer references are returned
// unchanged.
func BaseReference(ref string) string {
	if s, ok := strings.CutSuffix(ref, RefSuffixOut); ok {
		return s
	}
	if s, ok := strings.CutSuffix(ref, RefSuffixIn); ok {
		return s
	}
	return ref
}
