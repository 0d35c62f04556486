// Package throttle suppresses duplicate abuse reports from the same user.
package throttle

import (
	"context"
	"strconv"
	"sync"
)

// Swapper atomically stores value under key and returns what was there before.
// Implementations must make the read and the write a single step per key.
type Swapper interface {
	Swap(ctx context.Context, key, value string) (prev string, existed bool, err error)
}

// Throttle remembers the last reported message per user.
type Throttle struct {
	kv     Swapper
	prefix string
}

func New(kv Swapper) *Throttle {
	return &Throttle{kv: kv, prefix: "cyberguard:report:last:"}
}

// ShouldReport records message as the user's last reported message and reports
// whether it differs from the previous one.
func (t *Throttle) ShouldReport(ctx context.Context, userID uint64, message string) (bool, error) {
	prev, existed, err := t.kv.Swap(ctx, t.prefix+strconv.FormatUint(userID, 10), message)
	if err != nil {
		return false, err
	}
	return !existed || prev != message, nil
}

// MemorySwapper is the single-process Swapper.
type MemorySwapper struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemorySwapper() *MemorySwapper {
	return &MemorySwapper{m: make(map[string]string)}
}

func (s *MemorySwapper) Swap(_ context.Context, key, value string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.m[key]
	s.m[key] = value
	return prev, ok, nil
}
