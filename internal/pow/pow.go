// Package pow issues and verifies short-lived proof-of-work challenges.
// Verification is stateless: everything needed to check a solution travels
// with the submission, so the service keeps no challenge table.
package pow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ReasonExpired is the reject reason surfaced to clients that submit a
// solution outside the freshness window. Other failures carry no reason.
const ReasonExpired = "Challenge expired"

// DefaultFreshness is how long a challenge stays solvable after issuance.
const DefaultFreshness = 30 * time.Second

// tokenBytes is the entropy of a challenge token; hex doubles it on the wire.
const tokenBytes = 16

// Challenge is one issued proof-of-work puzzle. IssuedAt is unix
// milliseconds, matching the timestamp clients echo back.
type Challenge struct {
	Token      string
	Difficulty int
	IssuedAt   int64
}

// Service issues challenges and verifies solutions. It holds no per-challenge
// state and is safe for concurrent use.
type Service struct {
	difficulty int
	freshness  time.Duration
	log        *zap.Logger
}

// New returns a service requiring difficulty leading zero hex digits.
func New(difficulty int, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		difficulty: difficulty,
		freshness:  DefaultFreshness,
		log:        log.Named("pow"),
	}
}

// Issue creates a fresh challenge with a random token.
func (s *Service) Issue() (Challenge, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return Challenge{}, fmt.Errorf("generating challenge token: %w", err)
	}
	ch := Challenge{
		Token:      hex.EncodeToString(buf),
		Difficulty: s.difficulty,
		IssuedAt:   time.Now().UnixMilli(),
	}
	s.log.Debug("Issued challenge", zap.String("token", ch.Token), zap.Int("difficulty", ch.Difficulty))
	return ch, nil
}

// Difficulty returns the configured leading zero requirement.
func (s *Service) Difficulty() int {
	return s.difficulty
}

// Verify checks a submitted solution against the echoed issuance time. It
// returns whether the solution holds and, for stale submissions, the reject
// reason. A solution is the nonce for which the hex SHA-256 of token+nonce
// starts with the required number of zero digits.
func (s *Service) Verify(token, nonce string, issuedAt int64) (bool, string) {
	return s.verifyAt(token, nonce, issuedAt, time.Now())
}

// verifyAt is the clock-injected implementation backing Verify.
func (s *Service) verifyAt(token, nonce string, issuedAt int64, now time.Time) (bool, string) {
	age := now.UnixMilli() - issuedAt
	if age > s.freshness.Milliseconds() {
		s.log.Debug("Rejected stale solution", zap.Int64("age_ms", age))
		return false, ReasonExpired
	}

	if !SolutionMeets(token, nonce, s.difficulty) {
		return false, ""
	}
	return true, ""
}

// SolutionMeets reports whether SHA-256(token+nonce) carries at least
// difficulty leading zero hex digits. Exported so clients and tests can mine
// nonces with the exact server rule.
func SolutionMeets(token, nonce string, difficulty int) bool {
	sum := sha256.Sum256([]byte(token + nonce))
	digest := hex.EncodeToString(sum[:])
	return strings.HasPrefix(digest, strings.Repeat("0", difficulty))
}
