package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/testutil"
)

func TestAllocator_Deterministic(t *testing.T) {
	a := NewAllocator(WithEntropy(&testutil.SequentialEntropy{}))

	ids := a.Allocate(3)
	assert.Equal(t, []string{"f_abcdefghij", "f_klmnopqrst", "f_uvwxyzabcd"}, ids)
}

func TestAllocator_KindPrefix(t *testing.T) {
	a := NewAllocator(WithEntropy(&testutil.SequentialEntropy{}))

	assert.Equal(t, "f_b-abcdefghij", a.AllocateFor(ir.KindBudget))
	assert.Equal(t, "f_g-klmnopqrst", a.AllocateFor(ir.KindCategoryGroup))
}

func TestAllocator_UniqueAndNonNumeric(t *testing.T) {
	a := NewAllocator()

	ids := a.Allocate(1000)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		assert.Regexp(t, `^f_[a-z]{10}$`, id)
		assert.True(t, ir.IsFrontendID(id))
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestAllocator_ForcedCollisionsTerminate(t *testing.T) {
	a := NewAllocator(WithEntropy(testutil.ConstantEntropy(0)))

	ids := a.Allocate(3)
	assert.Equal(t, []string{"f_aaaaaaaaaa", "f_aaaaaaaaaa-1", "f_aaaaaaaaaa-2"}, ids)
}

func TestAllocator_ExistsPredicate(t *testing.T) {
	a := NewAllocator(
		WithEntropy(&testutil.SequentialEntropy{}),
		WithExists(func(id string) bool { return id == "f_abcdefghij" }),
	)
	assert.Equal(t, "f_klmnopqrst", a.Next(ir.FrontendPrefix, nil))

	taken := func(id string) bool { return id == "f_e-uvwxyzabcd" }
	assert.Equal(t, "f_e-efghijklmn", a.Next(ir.KindExpense.TempPrefix(), taken))
}

func TestAllocator_RejectsBiasedBytes(t *testing.T) {
	// 250 is above the unbiased limit and must be skipped.
	src := &byteScript{data: []byte{250, 250, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}}
	a := NewAllocator(WithEntropy(src))

	assert.Equal(t, "f_abcdefghij", a.Next(ir.FrontendPrefix, nil))
}

func TestAllocator_BrokenEntropy(t *testing.T) {
	a := NewAllocator(WithEntropy(failingReader{}))

	assert.Equal(t, []string{"f_x-1", "f_x-2"}, a.Allocate(2))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

// byteScript replays data, then zeros.
type byteScript struct {
	data []byte
}

func (s *byteScript) Read(p []byte) (int, error) {
	for i := range p {
		if len(s.data) > 0 {
			p[i] = s.data[0]
			s.data = s.data[1:]
		} else {
			p[i] = 0
		}
	}
	return len(p), nil
}
