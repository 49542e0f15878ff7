// Package vault is the public face of memvault. It wires the store, the
// encryption service, the passphrase guard and the search index together
// and applies the guard's visibility rules to every read.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/memvault/internal/config"
	"github.com/rcliao/memvault/internal/encryption"
	"github.com/rcliao/memvault/internal/guard"
	"github.com/rcliao/memvault/internal/kv"
	"github.com/rcliao/memvault/internal/model"
	"github.com/rcliao/memvault/internal/search"
	"github.com/rcliao/memvault/internal/store"
)

// ErrNotFound is returned for missing, deleted, hidden or unreadable memories.
var ErrNotFound = store.ErrNotFound

var errNoTranscriber = errors.New("no transcriber configured")

// Classifier picks a tier for content stored without one.
type Classifier interface {
	Classify(ctx context.Context, content string) (model.Category, error)
}

// Options configures Open.
type Options struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Classifier  Classifier
	Transcriber guard.Transcriber
	// Cache overrides the session cache built from Config.Redis.
	Cache kv.KV
	// Now overrides time.Now for sessions and recency scoring.
	Now func() time.Time
}

// Vault is safe for concurrent use.
type Vault struct {
	store       *store.LogStore
	enc         *encryption.Service
	guard       *guard.Guard
	engine      *search.Engine
	agg         *search.Aggregator
	classifier  Classifier
	transcriber guard.Transcriber
	redis       *kv.RedisKV
	now         func() time.Time
	log         zerolog.Logger
}

// Open builds a Vault from configuration and loads the search index from
// the durable store.
func Open(ctx context.Context, opts Options) (*Vault, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger

	enc := encryption.New(encryption.Options{
		MasterSecret: cfg.MasterSecret,
		Iterations:   cfg.PBKDF2Iterations,
		Logger:       log,
	})

	st, err := store.Open(store.Options{
		Dir:        cfg.DataDir,
		Encrypter:  enc,
		PreviewLen: cfg.PreviewLength,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	v := &Vault{
		store:       st,
		enc:         enc,
		classifier:  opts.Classifier,
		transcriber: opts.Transcriber,
		now:         now,
		log:         log.With().Str("component", "vault").Logger(),
	}

	cache := opts.Cache
	if cache == nil {
		cache = v.sessionCache(cfg, log, now)
	}

	v.guard = guard.New(st.Passphrases(), cache, guard.Config{
		Salt:          cfg.PassphraseSalt,
		MinWords:      cfg.MinPassphraseWords,
		SessionTTL:    cfg.SessionTTL,
		MaxAttempts:   cfg.MaxAuthAttempts,
		AttemptWindow: cfg.AttemptWindow,
		HintAfter:     cfg.HintAfterFailures,
	}, guard.WithClock(now), guard.WithLogger(log))

	v.engine = search.NewEngine(st, enc, log)
	v.engine.SetClock(now)
	v.agg = search.NewAggregator(v.engine, cfg.MaxSearchTargets)

	if err := v.engine.Load(ctx, st); err != nil {
		v.Close()
		return nil, fmt.Errorf("load search index: %w", err)
	}
	return v, nil
}

// sessionCache returns Redis behind a circuit breaker when configured,
// otherwise an in-process map.
func (v *Vault) sessionCache(cfg *config.Config, log zerolog.Logger, now func() time.Time) kv.KV {
	local := kv.NewMemoryWithClock(now)
	if cfg.Redis.Addr == "" {
		return local
	}
	r, err := kv.NewRedis(kv.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: "memvault:",
	})
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, sessions fall back to local cache")
	}
	v.redis = r
	return kv.NewResilient(r, local, kv.BreakerConfig{}, log)
}

// Close releases the store and cache connections.
func (v *Vault) Close() error {
	var errs []error
	if v.redis != nil {
		errs = append(errs, v.redis.Close())
	}
	errs = append(errs, v.store.Close())
	return errors.Join(errs...)
}

// Guard exposes the passphrase guard.
func (v *Vault) Guard() *guard.Guard {
	return v.guard
}

// StoreParams holds parameters for storing a memory.
type StoreParams struct {
	UserID  string
	Content string
	// Category nil asks the Classifier, or GENERAL without one.
	Category  *model.Category
	Timestamp time.Time
	Tags      []string
}

// StoreResult describes a stored memory.
type StoreResult struct {
	ID        string         `json:"id"`
	Category  model.Category `json:"category"`
	Timestamp time.Time      `json:"timestamp"`
	Encrypted bool           `json:"encrypted"`
}

// Store appends a memory and indexes it for search.
func (v *Vault) Store(ctx context.Context, p StoreParams) (*StoreResult, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, errors.New("content is required")
	}
	cat := v.classify(ctx, p)
	ts := p.Timestamp
	if ts.IsZero() {
		ts = v.now()
	}

	e, err := v.store.Put(ctx, store.PutParams{
		UserID:    p.UserID,
		Content:   p.Content,
		Category:  cat,
		Timestamp: ts,
		Tags:      p.Tags,
	})
	if err != nil {
		return nil, err
	}
	v.engine.Index(e, p.Content)

	return &StoreResult{ID: e.ID, Category: e.Category, Timestamp: e.Timestamp, Encrypted: e.Encrypted}, nil
}

func (v *Vault) classify(ctx context.Context, p StoreParams) model.Category {
	if p.Category != nil {
		return *p.Category
	}
	if v.classifier == nil {
		return model.General
	}
	c, err := v.classifier.Classify(ctx, p.Content)
	if err != nil || !c.Valid() {
		v.log.Warn().Err(err).Str("user_id", p.UserID).Msg("classification failed, storing as GENERAL")
		return model.General
	}
	return c
}

// Get returns a memory with plaintext content. Entries in tiers the user
// cannot currently see are reported as ErrNotFound.
func (v *Vault) Get(ctx context.Context, userID, id string) (*model.Entry, error) {
	e, err := v.store.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !v.guard.AllowedCategories(ctx, userID).Has(e.Category) {
		return nil, ErrNotFound
	}
	plain, ok := v.enc.Decrypt(e.Content, userID, e.Category)
	if !ok {
		return nil, ErrNotFound
	}
	e.Content = plain
	e.Encrypted = false
	return e, nil
}

// Recent lists the user's newest visible entries.
func (v *Vault) Recent(ctx context.Context, userID string, limit int) ([]model.IndexEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return v.store.List(ctx, store.ListParams{
		UserID:     userID,
		Categories: v.guard.AllowedCategories(ctx, userID),
		Limit:      limit,
	})
}

// ByDate lists the user's visible entries timestamped on day (UTC).
func (v *Vault) ByDate(ctx context.Context, userID string, day time.Time) ([]model.IndexEntry, error) {
	d := day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return v.store.List(ctx, store.ListParams{
		UserID:     userID,
		Categories: v.guard.AllowedCategories(ctx, userID),
		Since:      start,
		Until:      start.AddDate(0, 0, 1),
	})
}

// Stats aggregates the user's entries. Without a session the secret
// tiers are left out entirely.
func (v *Vault) Stats(ctx context.Context, userID string) (*model.Stats, error) {
	if v.guard.IsVerified(ctx, userID) {
		return v.store.Stats(ctx, userID)
	}
	entries, err := v.store.List(ctx, store.ListParams{
		UserID:     userID,
		Categories: model.BaselineCategories(),
	})
	if err != nil {
		return nil, err
	}
	st := &model.Stats{UserID: userID, ByCategory: map[model.Category]int{}}
	for i := range entries {
		e := &entries[i]
		st.Total++
		st.ByCategory[e.Category]++
		if st.First == nil || e.Timestamp.Before(*st.First) {
			st.First = &e.Timestamp
		}
		if st.Last == nil || e.Timestamp.After(*st.Last) {
			st.Last = &e.Timestamp
		}
	}
	return st, nil
}

// Delete tombstones a visible memory and drops it from search.
func (v *Vault) Delete(ctx context.Context, userID, id string) error {
	e, err := v.store.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if !v.guard.AllowedCategories(ctx, userID).Has(e.Category) {
		return ErrNotFound
	}
	if err := v.store.Delete(ctx, userID, id); err != nil {
		return err
	}
	v.engine.Remove(userID, id)
	return nil
}

// SearchParams holds parameters for a single-user search.
type SearchParams struct {
	UserID   string
	Query    string
	Category *model.Category
	Tags     []string
	Limit    int
	// Authenticated asks for the secret tiers. It only takes effect while
	// the guard holds a live session for UserID.
	Authenticated bool
}

// Search ranks the user's visible memories.
func (v *Vault) Search(ctx context.Context, p SearchParams) ([]search.Result, error) {
	authed := p.Authenticated && v.guard.IsVerified(ctx, p.UserID)
	return v.engine.Search(ctx, search.Query{
		UserID:        p.UserID,
		Text:          p.Query,
		Category:      p.Category,
		Tags:          p.Tags,
		Limit:         p.Limit,
		Authenticated: authed,
	})
}

// ManyParams holds parameters for a cross-user search.
type ManyParams struct {
	Actor          string
	Targets        []string
	Query          string
	Scope          string
	PerTargetLimit int
	MaxTotal       int
}

// SearchMany searches several users with the actor's visibility. The
// "self" scope only ever searches the actor; any wider scope never sees
// ULTRA_SECRET.
func (v *Vault) SearchMany(ctx context.Context, p ManyParams) ([]search.Hit, error) {
	targets := p.Targets
	if p.Scope == search.ScopeSelf {
		targets = []string{p.Actor}
	}
	return v.agg.SearchMany(ctx, search.ManyRequest{
		Actor:          p.Actor,
		Targets:        targets,
		Query:          p.Query,
		Allowed:        v.guard.AllowedCategories(ctx, p.Actor),
		Scope:          p.Scope,
		PerTargetLimit: p.PerTargetLimit,
		MaxTotal:       p.MaxTotal,
	})
}

// Enroll stores a spoken passphrase transcript for userID.
func (v *Vault) Enroll(ctx context.Context, userID, transcript string) (guard.EnrollResult, error) {
	return v.guard.Enroll(ctx, userID, transcript)
}

// Authenticate opens a session when transcript matches the enrolled phrase.
func (v *Vault) Authenticate(ctx context.Context, userID, transcript string) (guard.AuthResult, error) {
	return v.guard.Authenticate(ctx, userID, transcript)
}

// IsVerified reports whether userID holds a live session.
func (v *Vault) IsVerified(ctx context.Context, userID string) bool {
	return v.guard.IsVerified(ctx, userID)
}

// AllowedCategories returns the tiers userID can currently read.
func (v *Vault) AllowedCategories(ctx context.Context, userID string) model.CategorySet {
	return v.guard.AllowedCategories(ctx, userID)
}

// Logout ends the user's session.
func (v *Vault) Logout(ctx context.Context, userID string) error {
	return v.guard.Revoke(ctx, userID)
}

// EnrollAudio transcribes audio with the configured Transcriber and enrolls it.
func (v *Vault) EnrollAudio(ctx context.Context, userID string, audio []byte) (guard.EnrollResult, error) {
	if v.transcriber == nil {
		return guard.EnrollResult{}, errNoTranscriber
	}
	return v.guard.EnrollAudio(ctx, v.transcriber, userID, audio)
}

// AuthenticateAudio transcribes audio and authenticates with the result.
func (v *Vault) AuthenticateAudio(ctx context.Context, userID string, audio []byte) (guard.AuthResult, error) {
	if v.transcriber == nil {
		return guard.AuthResult{}, errNoTranscriber
	}
	return v.guard.AuthenticateAudio(ctx, v.transcriber, userID, audio)
}
