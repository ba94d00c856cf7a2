// Package verification holds pending email verification codes in memory and
// enforces issuance cooldown, expiry, attempt limits and single use.
package verification

import (
	"crypto/subtle"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jmerrifield20/mailcode/internal/clock"
)

const (
	DefaultCodeTTL     = 10 * time.Minute
	DefaultCooldown    = time.Minute
	DefaultMaxAttempts = 3

	// Codes are drawn from [codeFloor, codeFloor+codeSpan), i.e. 1000..9998.
	codeFloor = 1000
	codeSpan  = 8999

	shardCount = 32
)

// Config tunes the store's policy. Zero fields take the defaults above.
type Config struct {
	CodeTTL     time.Duration
	Cooldown    time.Duration
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Record is a pending verification for one email.
type Record struct {
	Email     string
	Code      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Attempts  int
}

type shard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// Store is a sharded, concurrency-safe map from email to pending Record.
// Operations on the same email are serialised by that email's shard lock;
// operations on different shards never contend.
type Store struct {
	shards [shardCount]*shard
	cfg    Config
	clock  clock.Clock
	rng    clock.Random
}

// NewStore creates an empty Store. A nil clock uses the wall clock and a nil
// rng uses a CSPRNG-seeded generator.
func NewStore(cfg Config, clk clock.Clock, rng clock.Random) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	if rng == nil {
		rng = clock.NewRandom()
	}
	s := &Store{
		cfg:   cfg.withDefaults(),
		clock: clk,
		rng:   rng,
	}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*Record)}
	}
	return s
}

// Config returns the effective policy.
func (s *Store) Config() Config {
	return s.cfg
}

// normalizeKey folds case and surrounding space so "A@b.com " and "a@b.com"
// share one record.
func normalizeKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// Issue generates a fresh code for email, replacing any pending record and
// its attempt history, and returns the code.
func (s *Store) Issue(email string) string {
	return s.IssueRecord(email).Code
}

// IssueRecord is Issue returning the whole new record.
func (s *Store) IssueRecord(email string) Record {
	key := normalizeKey(email)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return s.issueLocked(sh, key, email)
}

// TryIssue issues a code only if email is outside its cooldown, checking and
// replacing under one lock. ok is false when the cooldown still applies.
func (s *Store) TryIssue(email string) (rec Record, ok bool) {
	key := normalizeKey(email)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if prev, found := sh.records[key]; found && s.clock.Now().Before(prev.IssuedAt.Add(s.cfg.Cooldown)) {
		return Record{}, false
	}
	return s.issueLocked(sh, key, email), true
}

func (s *Store) issueLocked(sh *shard, key, email string) Record {
	now := s.clock.Now()
	rec := &Record{
		Email:     email,
		Code:      strconv.Itoa(codeFloor + s.rng.IntN(codeSpan)),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.CodeTTL),
	}
	sh.records[key] = rec
	return *rec
}

// CanRequestNewCode reports whether email has no pending record or its
// cooldown has elapsed. It never mutates the store.
func (s *Store) CanRequestNewCode(email string) bool {
	key := normalizeKey(email)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		return true
	}
	return !s.clock.Now().Before(rec.IssuedAt.Add(s.cfg.Cooldown))
}

// HasPendingVerification reports whether email holds an unexpired record.
// It never mutates the store.
func (s *Store) HasPendingVerification(email string) bool {
	key := normalizeKey(email)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		return false
	}
	return !s.clock.Now().After(rec.ExpiresAt)
}

// Verify checks code against the pending record for email.
//
// The record is deleted on success, on expiry, and when the attempt count
// exceeds the maximum after incrementing. A mismatch keeps the record with
// its incremented count.
func (s *Store) Verify(email, code string) Result {
	key := normalizeKey(email)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		return Result{Outcome: OutcomeNotFound}
	}

	if s.clock.Now().After(rec.ExpiresAt) {
		delete(sh.records, key)
		return Result{Outcome: OutcomeExpired}
	}

	rec.Attempts++
	if rec.Attempts > s.cfg.MaxAttempts {
		delete(sh.records, key)
		return Result{Outcome: OutcomeTooManyAttempts}
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		return Result{Outcome: OutcomeMismatch}
	}

	delete(sh.records, key)
	return Result{Outcome: OutcomeSuccess}
}

// Lookup returns a copy of the pending record for email.
func (s *Store) Lookup(email string) (Record, bool) {
	key := normalizeKey(email)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Sweep deletes every expired record and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.clock.Now()
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, rec := range sh.records {
			if now.After(rec.ExpiresAt) {
				delete(sh.records, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Len returns the number of records held, including expired ones not yet
// reaped.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}
