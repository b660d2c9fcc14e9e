package sequence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type codeStore struct {
	codes map[string]bool
	max   int
}

func newCodeStore() *codeStore {
	return &codeStore{codes: make(map[string]bool)}
}

func (s *codeStore) maxSequence(ctx context.Context, prefix string) (int, error) {
	return s.max, nil
}

func (s *codeStore) persist(ctx context.Context, code string) error {
	if s.codes[code] {
		return ErrDuplicateCode
	}
	s.codes[code] = true
	return nil
}

func TestNextFormatsMonthScopedCode(t *testing.T) {
	store := newCodeStore()
	alloc := NewAllocator(store.maxSequence)

	date := time.Date(2026, time.March, 12, 0, 0, 0, 0, time.UTC)
	code, err := alloc.Next(context.Background(), KindOrder, date, store.persist)
	require.NoError(t, err)
	require.Equal(t, "ORD26030001", code)

	code, err = alloc.Next(context.Background(), KindDelivery, date, store.persist)
	require.NoError(t, err)
	require.Equal(t, "DLV26030001", code)
}

func TestNextContinuesFromHighestExisting(t *testing.T) {
	store := newCodeStore()
	store.max = 41
	alloc := NewAllocator(store.maxSequence)

	date := time.Date(2026, time.January, 3, 0, 0, 0, 0, time.UTC)
	code, err := alloc.Next(context.Background(), KindInvoice, date, store.persist)
	require.NoError(t, err)
	require.Equal(t, "INV26010042", code)
}

func TestNextRetriesOnDuplicate(t *testing.T) {
	store := newCodeStore()
	alloc := NewAllocator(store.maxSequence)
	date := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)

	// Another writer already took the first two candidates.
	store.codes["PAY26050001"] = true
	store.codes["PAY26050002"] = true

	code, err := alloc.Next(context.Background(), KindPayment, date, store.persist)
	require.NoError(t, err)
	require.Equal(t, "PAY26050003", code)
}

func TestNextFallsBackAfterRepeatedCollisions(t *testing.T) {
	store := newCodeStore()
	alloc := NewAllocator(store.maxSequence)
	date := time.Date(2026, time.June, 20, 0, 0, 0, 0, time.UTC)

	attempts := 0
	persist := func(ctx context.Context, code string) error {
		attempts++
		if attempts <= 5 {
			return ErrDuplicateCode
		}
		return store.persist(ctx, code)
	}

	code, err := alloc.Next(context.Background(), KindReturn, date, persist)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(code, "RTN2606"))
	require.Contains(t, code, "_", "fallback code carries an epoch suffix")
	require.Equal(t, 6, attempts)
}

func TestNextPropagatesStoreErrors(t *testing.T) {
	store := newCodeStore()
	alloc := NewAllocator(store.maxSequence)
	boom := errors.New("store down")

	_, err := alloc.Next(context.Background(), KindOrder, time.Now(), func(ctx context.Context, code string) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}
