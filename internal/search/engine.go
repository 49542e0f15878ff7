// Package search retrieves a user's memories by token overlap while
// respecting tier visibility.
//
// Plaintext of SECRET and ULTRA_SECRET entries is never held in the
// inverted index. Those entries are indexed by user, category and tag only;
// when one survives the visibility gate it is loaded, decrypted and matched
// at query time. An entry that cannot be decrypted is dropped.
package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/memvault/internal/chunker"
	"github.com/rcliao/memvault/internal/encryption"
	"github.com/rcliao/memvault/internal/model"
	"github.com/rcliao/memvault/internal/store"
)

const (
	DefaultLimit  = 10
	recencyWeight = 0.1
)

// Loader reads full entries.
type Loader interface {
	Get(ctx context.Context, userID, id string) (*model.Entry, error)
}

// Source is what Load needs to rebuild the index.
type Source interface {
	Loader
	Users(ctx context.Context) ([]string, error)
	List(ctx context.Context, p store.ListParams) ([]model.IndexEntry, error)
}

// Decrypter opens sealed content.
type Decrypter interface {
	Decrypt(value, userID string, category model.Category) (string, bool)
}

type idSet map[string]struct{}

type doc struct {
	key      string
	userID   string
	id       string
	category model.Category
	ts       time.Time
	tags     []string
	tokens   tokenSet // nil for secret tiers
}

// Engine is an in-memory inverted index over all users' entries.
type Engine struct {
	loader Loader
	dec    Decrypter
	now    func() time.Time
	log    zerolog.Logger

	mu         sync.RWMutex
	docs       map[string]*doc
	words      map[string]idSet
	categories map[model.Category]idSet
	tags       map[string]idSet
	users      map[string]idSet
}

// NewEngine builds an empty Engine.
func NewEngine(loader Loader, dec Decrypter, logger zerolog.Logger) *Engine {
	return &Engine{
		loader:     loader,
		dec:        dec,
		now:        time.Now,
		log:        logger.With().Str("component", "search").Logger(),
		docs:       make(map[string]*doc),
		words:      make(map[string]idSet),
		categories: make(map[model.Category]idSet),
		tags:       make(map[string]idSet),
		users:      make(map[string]idSet),
	}
}

// SetClock replaces time.Now for recency scoring.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func docKey(userID, id string) string {
	return userID + "\x00" + id
}

func normTag(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

func add(m map[string]idSet, k, key string) {
	s, ok := m[k]
	if !ok {
		s = idSet{}
		m[k] = s
	}
	s[key] = struct{}{}
}

func remove(m map[string]idSet, k, key string) {
	if s, ok := m[k]; ok {
		delete(s, key)
		if len(s) == 0 {
			delete(m, k)
		}
	}
}

// Index adds an entry. plaintext is the unsealed content and is only
// tokenized for non-secret tiers.
func (e *Engine) Index(entry *model.Entry, plaintext string) {
	d := &doc{
		key:      docKey(entry.UserID, entry.ID),
		userID:   entry.UserID,
		id:       entry.ID,
		category: entry.Category,
		ts:       entry.Timestamp,
		tags:     entry.Tags,
	}
	if !entry.Category.IsSecret() {
		d.tokens = newTokenSet(Tokenize(plaintext))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.docs[d.key]; exists {
		e.removeLocked(d.key)
	}
	e.docs[d.key] = d
	for t := range d.tokens {
		add(e.words, t, d.key)
	}
	cs, ok := e.categories[d.category]
	if !ok {
		cs = idSet{}
		e.categories[d.category] = cs
	}
	cs[d.key] = struct{}{}
	for _, t := range d.tags {
		add(e.tags, normTag(t), d.key)
	}
	add(e.users, d.userID, d.key)
}

// Remove drops an entry from the index.
func (e *Engine) Remove(userID, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(docKey(userID, id))
}

func (e *Engine) removeLocked(key string) {
	d, ok := e.docs[key]
	if !ok {
		return
	}
	for t := range d.tokens {
		remove(e.words, t, key)
	}
	if cs, ok := e.categories[d.category]; ok {
		delete(cs, key)
	}
	for _, t := range d.tags {
		remove(e.tags, normTag(t), key)
	}
	remove(e.users, d.userID, key)
	delete(e.docs, key)
}

// Len returns the number of indexed entries.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// Load indexes every live entry in src.
func (e *Engine) Load(ctx context.Context, src Source) error {
	users, err := src.Users(ctx)
	if err != nil {
		return err
	}
	n := 0
	for _, u := range users {
		entries, err := src.List(ctx, store.ListParams{UserID: u})
		if err != nil {
			return err
		}
		for _, ie := range entries {
			entry := &model.Entry{ID: ie.ID, UserID: u, Category: ie.Category, Timestamp: ie.Timestamp, Tags: ie.Tags}
			var plain string
			if !ie.Category.IsSecret() {
				full, err := src.Get(ctx, u, ie.ID)
				if err != nil {
					e.log.Warn().Err(err).Str("user_id", u).Str("id", ie.ID).Msg("skipping unreadable entry")
					continue
				}
				plain = full.Content
			}
			e.Index(entry, plain)
			n++
		}
	}
	e.log.Info().Int("entries", n).Int("users", len(users)).Msg("search index loaded")
	return nil
}

// Query describes a search over one user's memories.
type Query struct {
	UserID   string
	Text     string
	Category *model.Category
	Tags     []string
	Limit    int
	// Authenticated widens visibility to the secret tiers.
	Authenticated bool
	// Allowed overrides the visibility derived from Authenticated.
	Allowed model.CategorySet
}

// Result is one ranked hit. Content is always plaintext.
type Result struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Category  model.Category `json:"category"`
	Timestamp time.Time      `json:"timestamp"`
	Tags      []string       `json:"tags,omitempty"`
	Content   string         `json:"content"`
	Snippet   string         `json:"snippet"`
	Score     float64        `json:"score"`
}

type candidate struct {
	d       *doc
	tokens  tokenSet
	content string // set for decrypted secret entries
	score   float64
}

// Search ranks the user's visible memories against q.Text.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	allowed := q.Allowed
	if allowed == nil {
		allowed = model.AllowedFor(q.Authenticated)
	}
	qset := newTokenSet(Tokenize(q.Text))

	docs := e.candidates(q, allowed, qset)

	now := e.now()
	var cands []candidate
	for _, d := range docs {
		c := candidate{d: d, tokens: d.tokens}
		if d.category.IsSecret() {
			plain, ok := e.open(ctx, d)
			if !ok {
				continue
			}
			c.content = plain
			c.tokens = newTokenSet(Tokenize(plain))
			if len(qset) > 0 && !overlaps(qset, c.tokens) {
				continue
			}
		}
		age := now.Sub(d.ts).Hours() / 24
		if age < 0 {
			age = 0
		}
		c.score = jaccard(qset, c.tokens) + recencyWeight/(1+age)
		cands = append(cands, c)
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.d.ts.Equal(b.d.ts) {
			return a.d.ts.After(b.d.ts)
		}
		return a.d.id < b.d.id
	})

	var results []Result
	for _, c := range cands {
		if len(results) >= limit {
			break
		}
		content := c.content
		if !c.d.category.IsSecret() {
			full, err := e.loader.Get(ctx, c.d.userID, c.d.id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			content = full.Content
		}
		if encryption.IsSealed(content) {
			continue
		}
		results = append(results, Result{
			ID:        c.d.id,
			UserID:    c.d.userID,
			Category:  c.d.category,
			Timestamp: c.d.ts,
			Tags:      c.d.tags,
			Content:   content,
			Snippet:   bestPassage(content, qset),
			Score:     c.score,
		})
	}
	return results, nil
}

// candidates applies the user, category, tag, visibility and token filters.
func (e *Engine) candidates(q Query, allowed model.CategorySet, qset tokenSet) []*doc {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*doc
	for key := range e.users[q.UserID] {
		d := e.docs[key]
		if !allowed.Has(d.category) {
			continue
		}
		if q.Category != nil && d.category != *q.Category {
			continue
		}
		if !e.hasTags(key, q.Tags) {
			continue
		}
		if len(qset) > 0 && !d.category.IsSecret() && !e.hasAnyWord(key, qset) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) hasTags(key string, tags []string) bool {
	for _, t := range tags {
		if _, ok := e.tags[normTag(t)][key]; !ok {
			return false
		}
	}
	return true
}

func (e *Engine) hasAnyWord(key string, qset tokenSet) bool {
	for t := range qset {
		if _, ok := e.words[t][key]; ok {
			return true
		}
	}
	return false
}

// open loads and decrypts a secret-tier entry.
func (e *Engine) open(ctx context.Context, d *doc) (string, bool) {
	entry, err := e.loader.Get(ctx, d.userID, d.id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn().Err(err).Str("user_id", d.userID).Str("id", d.id).Msg("could not load secret entry")
		}
		return "", false
	}
	return e.dec.Decrypt(entry.Content, d.userID, d.category)
}

// bestPassage returns the passage with the most query tokens.
func bestPassage(content string, qset tokenSet) string {
	passages := chunker.Chunk(content, chunker.DefaultOptions())
	if len(passages) == 0 {
		return ""
	}
	best, bestHits := passages[0], -1
	for _, p := range passages {
		hits := 0
		for _, t := range Tokenize(p) {
			if _, ok := qset[t]; ok {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = p, hits
		}
	}
	return best
}
