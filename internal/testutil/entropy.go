package testutil

import "sync"

// SequentialEntropy yields the bytes 0, 1, ..., 25, 0, 1, ... forever.
//
// Fed to the id allocator it produces predictable ids: the first body is
// "abcdefghij", the second "klmnopqrst", the third "uvwxyzabcd".
type SequentialEntropy struct {
	mu sync.Mutex
	n  byte
}

// Read implements io.Reader.
func (s *SequentialEntropy) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range p {
		p[i] = s.n
		s.n = (s.n + 1) % 26
	}
	return len(p), nil
}

// ConstantEntropy yields the same byte forever. Every draw collides with
// the previous one, which exercises the allocator's collision fallback.
type ConstantEntropy byte

// Read implements io.Reader.
func (c ConstantEntropy) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(c)
	}
	return len(p), nil
}
