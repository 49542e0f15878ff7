package model

import (
	"sort"
	"time"
)

// CategorySet is a set of visible tiers.
type CategorySet map[Category]bool

// BaselineCategories are visible without a session.
func BaselineCategories() CategorySet {
	return CategorySet{General: true, Chronological: true, Confidential: true}
}

// FullCategories are visible with a valid session.
func FullCategories() CategorySet {
	s := CategorySet{}
	for _, c := range AllCategories {
		s[c] = true
	}
	return s
}

// AllowedFor returns the full set when authenticated, the baseline otherwise.
func AllowedFor(authenticated bool) CategorySet {
	if authenticated {
		return FullCategories()
	}
	return BaselineCategories()
}

// Has reports membership.
func (s CategorySet) Has(c Category) bool {
	return s[c]
}

// Without returns a copy of s without c.
func (s CategorySet) Without(c Category) CategorySet {
	out := make(CategorySet, len(s))
	for k, v := range s {
		if v && k != c {
			out[k] = true
		}
	}
	return out
}

// List returns the members in sensitivity order.
func (s CategorySet) List() []Category {
	var out []Category
	for c, ok := range s {
		if ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Session is a time-bounded grant of elevated visibility.
type Session struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	VerifiedAt        time.Time  `json:"verified_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	AllowedCategories []Category `json:"allowed_categories"`
}

// Valid reports whether the session is still live at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt)
}

// PassphraseRecord is an enrolled passphrase. The phrase itself is never kept.
type PassphraseRecord struct {
	UserID     string    `json:"user_id"`
	Hash       string    `json:"hash"`
	WordCount  int       `json:"word_count"`
	EnrolledAt time.Time `json:"enrolled_at"`
	Hint       string    `json:"hint"`
}
