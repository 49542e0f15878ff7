package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/memvault/internal/model"
)

// PassphraseStore persists enrolled passphrase records in the index database.
type PassphraseStore struct {
	db *sql.DB
}

// GetRecord returns the user's record or ErrNotFound.
func (p *PassphraseStore) GetRecord(ctx context.Context, userID string) (*model.PassphraseRecord, error) {
	var rec model.PassphraseRecord
	var enrolledAt string
	err := p.db.QueryRowContext(ctx,
		`SELECT user_id, hash, word_count, enrolled_at, hint FROM passphrases WHERE user_id = ?`,
		userID).Scan(&rec.UserID, &rec.Hash, &rec.WordCount, &enrolledAt, &rec.Hint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load passphrase: %w", err)
	}
	rec.EnrolledAt, _ = time.Parse(tsLayout, enrolledAt)
	return &rec, nil
}

// PutRecord inserts or replaces the user's record.
func (p *PassphraseStore) PutRecord(ctx context.Context, rec *model.PassphraseRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO passphrases (user_id, hash, word_count, enrolled_at, hint)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   hash = excluded.hash, word_count = excluded.word_count,
		   enrolled_at = excluded.enrolled_at, hint = excluded.hint`,
		rec.UserID, rec.Hash, rec.WordCount, rec.EnrolledAt.UTC().Format(tsLayout), rec.Hint)
	if err != nil {
		return fmt.Errorf("save passphrase: %w", err)
	}
	return nil
}

// DeleteRecord removes the user's record. Deleting a missing record is not an error.
func (p *PassphraseStore) DeleteRecord(ctx context.Context, userID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM passphrases WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete passphrase: %w", err)
	}
	return nil
}
