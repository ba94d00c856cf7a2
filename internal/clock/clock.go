// Package clock supplies the time and randomness sources used by the
// verification store. Both are injected so tests can control them.
package clock

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Random draws integers uniformly from [0, n).
type Random interface {
	IntN(n int) int
}

// System is the wall clock.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time { return time.Now() }

// Fake is a manually driven Clock for tests. The zero value is not usable;
// construct with NewFake.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now implements Clock.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set pins the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// lockedRand serialises access to a math/rand generator, which is not safe
// for concurrent use.
type lockedRand struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

func (r *lockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

// NewSeeded returns a deterministic Random. Two generators built from the
// same seed produce the same sequence.
func NewSeeded(seed uint64) Random {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	return &lockedRand{rng: mrand.New(mrand.NewChaCha8(key))}
}

// NewRandom returns a Random seeded from the operating system's CSPRNG.
// Verification codes must not be predictable across process restarts.
func NewRandom() Random {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		// crypto/rand.Read never returns an error on supported platforms.
		panic("clock: read random seed: " + err.Error())
	}
	return &lockedRand{rng: mrand.New(mrand.NewChaCha8(key))}
}

// Sequence replays a fixed list of values, cycling when exhausted. Each
// value is reduced modulo n so it always stays in range.
type Sequence struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewSequence returns a Random yielding values in order.
func NewSequence(values ...int) *Sequence {
	return &Sequence{values: values}
}

// IntN implements Random.
func (s *Sequence) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v % n
}
