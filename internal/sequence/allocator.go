// Package sequence allocates human-readable document codes. Codes are
// monotonically increasing within a calendar month and unique forever;
// uniqueness is enforced by the store's unique index, not by locking.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies the document family a code belongs to.
type Kind string

const (
	KindOrder    Kind = "ORD"
	KindDelivery Kind = "DLV"
	KindInvoice  Kind = "INV"
	KindPayment  Kind = "PAY"
	KindReturn   Kind = "RTN"
)

// ErrDuplicateCode must be returned by a PersistFunc when the candidate code
// collides with an existing document.
var ErrDuplicateCode = errors.New("sequence: duplicate document code")

// PersistFunc attempts to persist the document carrying the candidate code.
type PersistFunc func(ctx context.Context, code string) error

// maxAttempts bounds sequential retries before falling back to a
// timestamp-disambiguated code. The fallback trades a visually odd code for
// liveness: allocation never fails because of a numbering collision.
const maxAttempts = 5

// MaxSequenceFunc returns the highest numeric suffix already persisted for the
// month prefix, or 0 when none exists.
type MaxSequenceFunc func(ctx context.Context, prefix string) (int, error)

// Allocator generates document codes of the form <KIND><YY><MM><NNNN>.
type Allocator struct {
	maxSequence MaxSequenceFunc
	now         func() time.Time
}

// NewAllocator builds an Allocator on top of a store lookup.
func NewAllocator(maxSequence MaxSequenceFunc) *Allocator {
	return &Allocator{maxSequence: maxSequence, now: time.Now}
}

// Prefix returns the month-scoped code prefix for a kind and date.
func Prefix(kind Kind, date time.Time) string {
	return fmt.Sprintf("%s%02d%02d", kind, date.Year()%100, int(date.Month()))
}

// Next allocates a unique code and persists the document through persist in
// one step. On a duplicate-code conflict the suffix is incremented and the
// persist retried; after maxAttempts collisions the code is disambiguated
// with an epoch-millisecond suffix. Errors other than ErrDuplicateCode
// propagate unchanged.
func (a *Allocator) Next(ctx context.Context, kind Kind, date time.Time, persist PersistFunc) (string, error) {
	if date.IsZero() {
		date = a.now()
	}
	prefix := Prefix(kind, date)

	seq := 0
	if a.maxSequence != nil {
		highest, err := a.maxSequence(ctx, prefix)
		if err != nil {
			return "", fmt.Errorf("sequence: read highest code: %w", err)
		}
		seq = highest
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		seq++
		code := fmt.Sprintf("%s%04d", prefix, seq)
		err := persist(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return "", err
		}
	}

	// Heavy concurrent burst: disambiguate with a timestamp instead of
	// refusing to create the document.
	code := fmt.Sprintf("%s%04d_%d", prefix, seq+1, a.now().UnixMilli())
	if err := persist(ctx, code); err != nil {
		return "", err
	}
	return code, nil
}
