// Package model defines the core memory data types.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Category is a sensitivity tier. Higher values are more sensitive.
type Category int

const (
	General Category = iota
	Chronological
	Confidential
	Secret
	UltraSecret
)

var categoryNames = [...]string{"GENERAL", "CHRONOLOGICAL", "CONFIDENTIAL", "SECRET", "ULTRA_SECRET"}

// AllCategories lists every tier in increasing sensitivity order.
var AllCategories = []Category{General, Chronological, Confidential, Secret, UltraSecret}

func (c Category) String() string {
	if c < General || c > UltraSecret {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// Valid reports whether c is one of the five tiers.
func (c Category) Valid() bool {
	return c >= General && c <= UltraSecret
}

// IsSecret reports whether the tier is stored encrypted and kept out of
// index previews.
func (c Category) IsSecret() bool {
	return c == Secret || c == UltraSecret
}

// Slug is the lowercase form used in file names.
func (c Category) Slug() string {
	return strings.ToLower(c.String())
}

// ParseCategory accepts the canonical name in any case, with '-' or '_'.
func ParseCategory(s string) (Category, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for i, name := range categoryNames {
		if name == norm {
			return Category(i), nil
		}
	}
	return General, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Entry is a stored memory. Content is ciphertext when Encrypted is set.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Category  Category  `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Encrypted bool      `json:"encrypted"`
}

// IndexEntry is the index-only view of an entry. Preview is always empty
// for secret tiers.
type IndexEntry struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Category  Category   `json:"category"`
	Timestamp time.Time  `json:"timestamp"`
	Encrypted bool       `json:"encrypted"`
	Preview   string     `json:"preview,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Stats aggregates a user's index.
type Stats struct {
	UserID     string           `json:"user_id"`
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"by_category"`
	First      *time.Time       `json:"first,omitempty"`
	Last       *time.Time       `json:"last,omitempty"`
}
