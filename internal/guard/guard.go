// Package guard gates access to the secret tiers behind a spoken passphrase.
//
// A user enrolls a passphrase transcript once. Authenticating with a
// transcript that normalizes to the same phrase opens a session with a TTL;
// while it is live the user's allowed categories include SECRET and
// ULTRA_SECRET. Failed attempts are counted in a rolling window and
// exhaust into a rate limit that is reported separately from a mismatch.
//
// Only the phrase content is compared. Nothing here verifies the speaker.
package guard

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/rcliao/memvault/internal/kv"
	"github.com/rcliao/memvault/internal/lockmap"
	"github.com/rcliao/memvault/internal/model"
	"github.com/rcliao/memvault/internal/store"
)

// Defaults.
const (
	DefaultMinWords      = 10
	DefaultSessionTTL    = 10 * time.Minute
	DefaultMaxAttempts   = 5
	DefaultAttemptWindow = time.Hour
	DefaultHintAfter     = 3
)

// Records persists passphrase records. GetRecord returns store.ErrNotFound
// when the user has not enrolled.
type Records interface {
	GetRecord(ctx context.Context, userID string) (*model.PassphraseRecord, error)
	PutRecord(ctx context.Context, rec *model.PassphraseRecord) error
	DeleteRecord(ctx context.Context, userID string) error
}

// Config tunes the guard.
type Config struct {
	Salt          string // deployment-wide passphrase salt
	MinWords      int
	SessionTTL    time.Duration
	MaxAttempts   int
	AttemptWindow time.Duration
	HintAfter     int // failures before the hint is revealed
}

func (c *Config) applyDefaults() {
	if c.MinWords <= 0 {
		c.MinWords = DefaultMinWords
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.AttemptWindow <= 0 {
		c.AttemptWindow = DefaultAttemptWindow
	}
	if c.HintAfter <= 0 {
		c.HintAfter = DefaultHintAfter
	}
}

// Option customizes a Guard.
type Option func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Guard) { g.log = l.With().Str("component", "guard").Logger() }
}

// Guard manages enrollment, authentication and sessions.
type Guard struct {
	records Records
	cache   kv.KV
	cfg     Config
	locks   *lockmap.Map
	now     func() time.Time
	log     zerolog.Logger
}

// New builds a Guard. Sessions and failure counters live in cache.
func New(records Records, cache kv.KV, cfg Config, opts ...Option) *Guard {
	cfg.applyDefaults()
	g := &Guard{
		records: records,
		cache:   cache,
		cfg:     cfg,
		locks:   lockmap.New(),
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func sessionKey(userID string) string  { return "session:" + userID }
func failuresKey(userID string) string { return "authfail:" + userID }

// normalize lowercases and collapses whitespace.
func normalize(transcript string) []string {
	return strings.Fields(strings.ToLower(transcript))
}

func (g *Guard) hash(words []string) string {
	sum := sha256.Sum256([]byte(g.cfg.Salt + ":" + strings.Join(words, " ")))
	return hex.EncodeToString(sum[:])
}

func hint(words []string) string {
	return fmt.Sprintf("starts with %q, ends with %q", words[0], words[len(words)-1])
}

// EnrollResult reports the outcome of an enrollment.
type EnrollResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	WordCount int    `json:"word_count"`
	Required  int    `json:"required"`
}

// Enroll stores a passphrase for userID, replacing any previous one.
// Re-enrolling ends the current session and clears failed attempts.
func (g *Guard) Enroll(ctx context.Context, userID, transcript string) (EnrollResult, error) {
	words := normalize(transcript)
	res := EnrollResult{WordCount: len(words), Required: g.cfg.MinWords}

	if len(words) < g.cfg.MinWords {
		res.Message = fmt.Sprintf("passphrase too short: %d words spoken, at least %d required; try a longer sentence",
			len(words), g.cfg.MinWords)
		g.log.Info().Str("user_id", userID).Int("words", len(words)).Msg("enrollment rejected")
		return res, nil
	}

	unlock := g.locks.Lock(userID)
	defer unlock()

	rec := &model.PassphraseRecord{
		UserID:     userID,
		Hash:       g.hash(words),
		WordCount:  len(words),
		EnrolledAt: g.now().UTC(),
		Hint:       hint(words),
	}
	if err := g.records.PutRecord(ctx, rec); err != nil {
		return res, err
	}
	g.clear(ctx, userID)

	res.Success = true
	res.Hint = rec.Hint
	res.Message = fmt.Sprintf("passphrase enrolled (%d words)", len(words))
	g.log.Info().Str("user_id", userID).Int("words", len(words)).Msg("passphrase enrolled")
	return res, nil
}

// Outcome classifies an authentication attempt.
type Outcome string

const (
	Authenticated   Outcome = "authenticated"
	Failed          Outcome = "authentication_failed"
	RateLimited     Outcome = "rate_limited"
	NotEnrolled     Outcome = "not_enrolled"
	EmptyTranscript Outcome = "empty_transcript"
)

// AuthResult reports the outcome of an authentication attempt.
type AuthResult struct {
	Authenticated     bool          `json:"authenticated"`
	Outcome           Outcome       `json:"outcome"`
	Message           string        `json:"message"`
	ExpiresAt         *time.Time    `json:"expires_at,omitempty"`
	AttemptsRemaining *int          `json:"attempts_remaining,omitempty"`
	Hint              string        `json:"hint,omitempty"`
	RetryAfter        time.Duration `json:"retry_after,omitempty"`
}

// Authenticate compares transcript with the enrolled passphrase.
func (g *Guard) Authenticate(ctx context.Context, userID, transcript string) (AuthResult, error) {
	unlock := g.locks.Lock(userID)
	defer unlock()

	now := g.now()

	rec, err := g.records.GetRecord(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return AuthResult{Outcome: NotEnrolled, Message: "no passphrase enrolled"}, nil
	}
	if err != nil {
		return AuthResult{}, err
	}

	failures := g.loadFailures(ctx, userID, now)
	if len(failures) >= g.cfg.MaxAttempts {
		zero := 0
		retry := failures[0].Add(g.cfg.AttemptWindow).Sub(now)
		g.log.Warn().Str("user_id", userID).Dur("retry_after", retry).Msg("authentication rate limited")
		return AuthResult{
			Outcome:           RateLimited,
			Message:           "too many failed attempts, try again later",
			AttemptsRemaining: &zero,
			RetryAfter:        retry,
		}, nil
	}

	words := normalize(transcript)
	if len(words) == 0 {
		return AuthResult{Outcome: EmptyTranscript, Message: "no speech recognized"}, nil
	}

	if subtle.ConstantTimeCompare([]byte(g.hash(words)), []byte(rec.Hash)) == 1 {
		g.cache.Delete(ctx, failuresKey(userID))
		sess := &model.Session{
			ID:                ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
			UserID:            userID,
			VerifiedAt:        now.UTC(),
			ExpiresAt:         now.Add(g.cfg.SessionTTL).UTC(),
			AllowedCategories: model.FullCategories().List(),
		}
		b, _ := json.Marshal(sess)
		if err := g.cache.Set(ctx, sessionKey(userID), b, g.cfg.SessionTTL); err != nil {
			return AuthResult{}, fmt.Errorf("save session: %w", err)
		}
		g.log.Info().Str("user_id", userID).Str("session_id", sess.ID).Time("expires_at", sess.ExpiresAt).
			Msg("authenticated")
		return AuthResult{
			Authenticated: true,
			Outcome:       Authenticated,
			Message:       "authenticated",
			ExpiresAt:     &sess.ExpiresAt,
		}, nil
	}

	failures = append(failures, now)
	g.saveFailures(ctx, userID, failures)

	remaining := g.cfg.MaxAttempts - len(failures)
	res := AuthResult{
		Outcome:           Failed,
		Message:           fmt.Sprintf("passphrase did not match, %d attempts remaining", remaining),
		AttemptsRemaining: &remaining,
	}
	if len(failures) >= g.cfg.HintAfter {
		res.Hint = rec.Hint
	}
	g.log.Info().Str("user_id", userID).Int("failures", len(failures)).Msg("authentication failed")
	return res, nil
}

// Session returns the live session, revoking it if expired.
func (g *Guard) Session(ctx context.Context, userID string) (*model.Session, bool) {
	unlock := g.locks.Lock(userID)
	defer unlock()
	return g.session(ctx, userID)
}

// session requires the user's lock.
func (g *Guard) session(ctx context.Context, userID string) (*model.Session, bool) {
	b, ok, err := g.cache.Get(ctx, sessionKey(userID))
	if err != nil {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("session lookup failed, treating as unauthenticated")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var sess model.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		g.cache.Delete(ctx, sessionKey(userID))
		return nil, false
	}
	if !sess.Valid(g.now()) {
		g.cache.Delete(ctx, sessionKey(userID))
		g.log.Debug().Str("user_id", userID).Msg("session expired")
		return nil, false
	}
	return &sess, true
}

// IsVerified reports whether userID has a live session.
func (g *Guard) IsVerified(ctx context.Context, userID string) bool {
	_, ok := g.Session(ctx, userID)
	return ok
}

// AllowedCategories is the visibility set used by every read path.
func (g *Guard) AllowedCategories(ctx context.Context, userID string) model.CategorySet {
	return model.AllowedFor(g.IsVerified(ctx, userID))
}

// Revoke ends the user's session.
func (g *Guard) Revoke(ctx context.Context, userID string) error {
	unlock := g.locks.Lock(userID)
	defer unlock()
	return g.cache.Delete(ctx, sessionKey(userID))
}

// Reset removes the passphrase, session and failure history.
func (g *Guard) Reset(ctx context.Context, userID string) error {
	unlock := g.locks.Lock(userID)
	defer unlock()

	if err := g.records.DeleteRecord(ctx, userID); err != nil {
		return err
	}
	g.clear(ctx, userID)
	g.log.Info().Str("user_id", userID).Msg("passphrase reset")
	return nil
}

// Status summarizes a user's guard state.
type Status struct {
	UserID         string     `json:"user_id"`
	Enrolled       bool       `json:"enrolled"`
	EnrolledAt     *time.Time `json:"enrolled_at,omitempty"`
	WordCount      int        `json:"word_count,omitempty"`
	Verified       bool       `json:"verified"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	FailedAttempts int        `json:"failed_attempts"`
}

// Status reports enrollment, session and attempt state. It never
// includes the hint.
func (g *Guard) Status(ctx context.Context, userID string) (Status, error) {
	unlock := g.locks.Lock(userID)
	defer unlock()

	st := Status{UserID: userID}
	rec, err := g.records.GetRecord(ctx, userID)
	switch {
	case err == nil:
		st.Enrolled = true
		st.EnrolledAt = &rec.EnrolledAt
		st.WordCount = rec.WordCount
	case !errors.Is(err, store.ErrNotFound):
		return st, err
	}
	if sess, ok := g.session(ctx, userID); ok {
		st.Verified = true
		st.ExpiresAt = &sess.ExpiresAt
	}
	st.FailedAttempts = len(g.loadFailures(ctx, userID, g.now()))
	return st, nil
}

func (g *Guard) clear(ctx context.Context, userID string) {
	g.cache.Delete(ctx, sessionKey(userID))
	g.cache.Delete(ctx, failuresKey(userID))
}

// loadFailures returns failure times inside the rolling window, oldest first.
func (g *Guard) loadFailures(ctx context.Context, userID string, now time.Time) []time.Time {
	b, ok, err := g.cache.Get(ctx, failuresKey(userID))
	if err != nil || !ok {
		return nil
	}
	var all []time.Time
	if err := json.Unmarshal(b, &all); err != nil {
		return nil
	}
	cutoff := now.Add(-g.cfg.AttemptWindow)
	var live []time.Time
	for _, t := range all {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	return live
}

func (g *Guard) saveFailures(ctx context.Context, userID string, failures []time.Time) {
	b, _ := json.Marshal(failures)
	if err := g.cache.Set(ctx, failuresKey(userID), b, g.cfg.AttemptWindow); err != nil {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("could not record failed attempt")
	}
}
