package engine

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/roach88/spendsync/internal/ir"
)

const (
	// idBodyLength is the number of random characters after the prefix.
	idBodyLength = 10

	// maxDraws bounds random attempts per id before falling back to a counter suffix.
	maxDraws = 32

	// maxEntropyReads bounds reads for one body when the source keeps yielding unusable bytes.
	maxEntropyReads = 8

	idCharset = "abcdefghijklmnopqrstuvwxyz"

	// unbiasedLimit is the largest multiple of len(idCharset) that fits in a byte.
	// Bytes at or above it are discarded so every letter is equally likely.
	unbiasedLimit = 256 - 256%len(idCharset)
)

// Allocator hands out temporary identifiers for entities created offline.
//
// Ids are a prefix starting with ir.FrontendPrefix followed by lowercase
// letters, so they can never be mistaken for a numeric server id. A seen-set
// suppresses duplicates for the life of the process. Each id gets at most
// maxDraws random attempts, after which a monotonic counter suffix makes it
// unique, so a broken or adversarial entropy source still terminates.
//
// Thread-safety: Allocator is safe for concurrent use via internal mutex.
type Allocator struct {
	mu      sync.Mutex
	entropy io.Reader
	exists  func(id string) bool
	seen    map[string]struct{}
	counter uint64
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithEntropy replaces crypto/rand as the randomness source.
func WithEntropy(r io.Reader) AllocatorOption {
	return func(a *Allocator) {
		a.entropy = r
	}
}

// WithExists installs a predicate that rejects ids already in use.
func WithExists(fn func(id string) bool) AllocatorOption {
	return func(a *Allocator) {
		a.exists = fn
	}
}

// NewAllocator creates an allocator.
func NewAllocator(opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		entropy: rand.Reader,
		seen:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns count unique ids with the generic "f_" prefix, in order.
func (a *Allocator) Allocate(count int) []string {
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ids = append(ids, a.Next(ir.FrontendPrefix, nil))
	}
	return ids
}

// AllocateFor returns one id carrying the kind's prefix, such as "f_b-".
func (a *Allocator) AllocateFor(kind ir.EntityKind) string {
	return a.Next(kind.TempPrefix(), nil)
}

// Next returns one unique id with the given prefix.
// exists, when non-nil, is consulted in addition to the allocator-wide predicate.
func (a *Allocator) Next(prefix string, exists func(id string) bool) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	taken := func(id string) bool {
		if _, ok := a.seen[id]; ok {
			return true
		}
		if a.exists != nil && a.exists(id) {
			return true
		}
		return exists != nil && exists(id)
	}

	body := ""
	for draw := 0; draw < maxDraws; draw++ {
		b, err := a.body()
		if err != nil {
			slog.Warn("id entropy unavailable, using counter suffix", "error", err)
			break
		}
		body = b
		id := prefix + body
		if !taken(id) {
			a.seen[id] = struct{}{}
			return id
		}
	}

	if body == "" {
		body = "x"
	}
	for {
		a.counter++
		id := prefix + body + "-" + strconv.FormatUint(a.counter, 10)
		if !taken(id) {
			a.seen[id] = struct{}{}
			return id
		}
	}
}

// body draws idBodyLength letters using rejection sampling.
func (a *Allocator) body() (string, error) {
	out := make([]byte, 0, idBodyLength)
	buf := make([]byte, idBodyLength)
	for reads := 0; reads < maxEntropyReads; reads++ {
		if _, err := io.ReadFull(a.entropy, buf); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= unbiasedLimit {
				continue
			}
			out = append(out, idCharset[int(b)%len(idCharset)])
			if len(out) == idBodyLength {
				return string(out), nil
			}
		}
	}
	return "", fmt.Errorf("read entropy: no usable bytes after %d reads", maxEntropyReads)
}
