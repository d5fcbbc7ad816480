package shared

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NumberGenerator issues document numbers. Sequential per-period numbering
// is owned by an external collaborator; implementations here only need to
// guarantee uniqueness.
type NumberGenerator interface {
	Next(ctx context.Context, docType string) (string, error)
}

// FallbackNumberGenerator issues date-stamped numbers with a random suffix.
// Used when the caller supplies no number of its own.
type FallbackNumberGenerator struct {
	now func() time.Time
}

// NewFallbackNumberGenerator constructs the generator.
func NewFallbackNumberGenerator() *FallbackNumberGenerator {
	return &FallbackNumberGenerator{now: time.Now}
}

// Next produces e.g. "ADJ-20260829-4F2A1C".
func (g *FallbackNumberGenerator) Next(_ context.Context, docType string) (string, error) {
	if docType == "" {
		docType = "DOC"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(docType), g.now().Format("20060102"), suffix), nil
}
