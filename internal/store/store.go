// Package store provides durable per-user memory storage: append-only
// category logs on disk plus a SQLite index for listing and lookup.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/memvault/internal/model"
)

// ErrNotFound is returned for unknown, tombstoned or hidden entries.
var ErrNotFound = errors.New("memory not found")

// Encrypter seals secret-tier content before it reaches the log.
type Encrypter interface {
	Encrypt(plaintext, userID string, category model.Category) (string, error)
}

// PutParams holds parameters for storing a memory.
type PutParams struct {
	UserID    string
	Content   string
	Category  model.Category
	Timestamp time.Time // zero means now
	Tags      []string
}

// ListParams holds parameters for listing index entries.
type ListParams struct {
	UserID         string
	Categories     model.CategorySet // nil means every tier
	Since          time.Time         // inclusive, zero means unbounded
	Until          time.Time         // exclusive, zero means unbounded
	Limit          int               // 0 means no limit
	IncludeDeleted bool
}

// Store defines the memory storage interface.
type Store interface {
	// Put appends a memory to the user's category log and indexes it.
	Put(ctx context.Context, p PutParams) (*model.Entry, error)

	// Get reads a memory from its log. Content is ciphertext for sealed
	// entries. Returns ErrNotFound for unknown or tombstoned ids.
	Get(ctx context.Context, userID, id string) (*model.Entry, error)

	// List returns index entries, newest first.
	List(ctx context.Context, p ListParams) ([]model.IndexEntry, error)

	// Recent returns the newest index entries for a user.
	Recent(ctx context.Context, userID string, limit int) ([]model.IndexEntry, error)

	// ByDate returns the user's index entries timestamped on the given UTC day.
	ByDate(ctx context.Context, userID string, day time.Time) ([]model.IndexEntry, error)

	// Stats aggregates the user's live index entries.
	Stats(ctx context.Context, userID string) (*model.Stats, error)

	// Delete tombstones an entry in the index. The log is left untouched.
	Delete(ctx context.Context, userID, id string) error

	// Users lists every user with at least one indexed entry.
	Users(ctx context.Context) ([]string, error)

	// Close closes the store.
	Close() error
}
