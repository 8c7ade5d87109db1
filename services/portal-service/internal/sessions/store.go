package sessions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session tokens are opaque random values referencing server-side state in
// Redis. The cookie carries no student or workout id, so tampering with it
// can only produce "no such session".
const (
	portalKeyPrefix  = "portal:session:"
	workoutKeyPrefix = "portal:wauth:"
	sharedKeyPrefix  = "portal:wshare:"
)

var (
	ErrNoSession     = errors.New("session not found or expired")
	ErrScopeMismatch = errors.New("session issued for a different subject")
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore returns a session store with the given validity window. The same
// window applies to portal and workout sessions.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) TTL() time.Duration { return s.ttl }

// IssuePortalSession creates a new session scoped to one student and returns
// the opaque token.
func (s *Store) IssuePortalSession(ctx context.Context, studentID string) (string, error) {
	return s.issue(ctx, portalKeyPrefix, studentID)
}

// ValidatePortalSession checks a token and confirms it was issued for the
// given student. Tokens for another student fail with ErrScopeMismatch.
func (s *Store) ValidatePortalSession(ctx context.Context, token, studentID string) error {
	return s.validate(ctx, portalKeyPrefix, token, studentID)
}

// RevokePortalSession removes the server-side state; the cookie becomes inert
// immediately even if the client keeps it.
func (s *Store) RevokePortalSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.rdb.Del(ctx, portalKeyPrefix+token).Err()
}

// IssueWorkoutSession remembers a cleared in-portal workout gate.
func (s *Store) IssueWorkoutSession(ctx context.Context, workoutID string) (string, error) {
	return s.issue(ctx, workoutKeyPrefix, workoutID)
}

func (s *Store) ValidateWorkoutSession(ctx context.Context, token, workoutID string) error {
	return s.validate(ctx, workoutKeyPrefix, token, workoutID)
}

// IssueSharedSession remembers a cleared public-link gate, scoped to that
// single workout only.
func (s *Store) IssueSharedSession(ctx context.Context, workoutID string) (string, error) {
	return s.issue(ctx, sharedKeyPrefix, workoutID)
}

func (s *Store) ValidateSharedSession(ctx context.Context, token, workoutID string) error {
	return s.validate(ctx, sharedKeyPrefix, token, workoutID)
}

func (s *Store) issue(ctx context.Context, prefix, subject string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, prefix+token, subject, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Store) validate(ctx context.Context, prefix, token, subject string) error {
	if token == "" {
		return ErrNoSession
	}
	stored, err := s.rdb.Get(ctx, prefix+token).Result()
	if err == redis.Nil {
		return ErrNoSession
	}
	if err != nil {
		return err
	}
	if stored != subject {
		return ErrScopeMismatch
	}
	return nil
}

func newToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
