package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memvault/internal/encryption"
	"github.com/rcliao/memvault/internal/lockmap"
	"github.com/rcliao/memvault/internal/model"
)

// tsLayout is fixed-width so timestamps sort lexically in SQLite.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const (
	idLength          = 12
	maxIDAttempts     = 8
	DefaultPreviewLen = 120
)

// Options configures a LogStore.
type Options struct {
	Dir        string
	Encrypter  Encrypter
	PreviewLen int
	Logger     zerolog.Logger
}

// LogStore implements Store with flat-file append logs and a SQLite index.
type LogStore struct {
	dir        string
	db         *sql.DB
	enc        Encrypter
	previewLen int
	writers    *lockmap.Map
	log        zerolog.Logger
}

// Open opens or creates a store rooted at opts.Dir.
func Open(opts Options) (*LogStore, error) {
	if opts.Encrypter == nil {
		return nil, errors.New("store: encrypter is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(opts.Dir, "index.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	previewLen := opts.PreviewLen
	if previewLen <= 0 {
		previewLen = DefaultPreviewLen
	}

	s := &LogStore{
		dir:        opts.Dir,
		db:         db,
		enc:        opts.Encrypter,
		previewLen: previewLen,
		writers:    lockmap.New(),
		log:        opts.Logger.With().Str("component", "store").Logger(),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *LogStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		user_id     TEXT NOT NULL,
		id          TEXT NOT NULL,
		category    TEXT NOT NULL,
		ts          TEXT NOT NULL,
		encrypted   INTEGER NOT NULL DEFAULT 0,
		preview     TEXT,
		tags        TEXT,
		log_path    TEXT NOT NULL,
		log_offset  INTEGER NOT NULL,
		log_length  INTEGER NOT NULL,
		deleted_at  TEXT,
		PRIMARY KEY (user_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_user_ts ON entries(user_id, ts DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_user_cat ON entries(user_id, category);
	CREATE INDEX IF NOT EXISTS idx_entries_deleted ON entries(deleted_at);

	CREATE TABLE IF NOT EXISTS passphrases (
		user_id     TEXT PRIMARY KEY,
		hash        TEXT NOT NULL,
		word_count  INTEGER NOT NULL,
		enrolled_at TEXT NOT NULL,
		hint        TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// memoryID hashes (user, content, timestamp) into a short id. attempt > 0
// salts the hash to step past a collision.
func memoryID(userID, content string, ts time.Time, attempt int) string {
	input := userID + ":" + content + ":" + ts.UTC().Format(tsLayout)
	if attempt > 0 {
		input += fmt.Sprintf(":%d", attempt)
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:idLength]
}

func (s *LogStore) Put(ctx context.Context, p PutParams) (*model.Entry, error) {
	if p.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if !p.Category.Valid() {
		return nil, fmt.Errorf("invalid category %v", p.Category)
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	body := p.Content
	if p.Category.IsSecret() {
		sealed, err := s.enc.Encrypt(p.Content, p.UserID, p.Category)
		if err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
		body = sealed
	}

	unlock := s.writers.Lock(p.UserID)
	defer unlock()

	id, err := s.freeID(ctx, p.UserID, p.Content, ts)
	if err != nil {
		return nil, err
	}

	e := &model.Entry{
		ID:        id,
		UserID:    p.UserID,
		Category:  p.Category,
		Timestamp: ts,
		Content:   body,
		Tags:      p.Tags,
		Encrypted: encryption.IsSealed(body),
	}

	rel := logPath(p.UserID, p.Category, ts)
	offset, length, err := appendBlock(s.dir, rel, e)
	if err != nil {
		return nil, err
	}

	var preview *string
	if !p.Category.IsSecret() {
		pv := makePreview(p.Content, s.previewLen)
		preview = &pv
	}
	var tagsJSON *string
	if len(p.Tags) > 0 {
		b, _ := json.Marshal(p.Tags)
		t := string(b)
		tagsJSON = &t
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (user_id, id, category, ts, encrypted, preview, tags, log_path, log_offset, log_length)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, id, p.Category.String(), ts.Format(tsLayout), e.Encrypted,
		preview, tagsJSON, rel, offset, length)
	if err != nil {
		return nil, fmt.Errorf("index entry: %w", err)
	}

	s.log.Debug().Str("user_id", p.UserID).Str("id", id).Stringer("category", p.Category).
		Bool("encrypted", e.Encrypted).Msg("stored memory")
	return e, nil
}

// freeID finds an id not yet used in the user's namespace. Caller holds
// the user's writer lock.
func (s *LogStore) freeID(ctx context.Context, userID, content string, ts time.Time) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := memoryID(userID, content, ts, attempt)
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM entries WHERE user_id = ? AND id = ?`, userID, id).Scan(&n)
		if err != nil {
			return "", fmt.Errorf("check id: %w", err)
		}
		if n == 0 {
			if attempt > 0 {
				s.log.Info().Str("user_id", userID).Int("attempt", attempt).Msg("memory id collision resolved")
			}
			return id, nil
		}
	}
	return "", fmt.Errorf("no free memory id after %d attempts", maxIDAttempts)
}

func (s *LogStore) Get(ctx context.Context, userID, id string) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT category, ts, encrypted, tags, log_path, log_offset, log_length
		 FROM entries WHERE user_id = ? AND id = ? AND deleted_at IS NULL`, userID, id)

	var (
		category, ts, rel string
		tagsJSON          sql.NullString
		offset            int64
		length            int
		e                 = model.Entry{ID: id, UserID: userID}
	)
	err := row.Scan(&category, &ts, &e.Encrypted, &tagsJSON, &rel, &offset, &length)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup entry: %w", err)
	}

	if e.Category, err = model.ParseCategory(category); err != nil {
		return nil, fmt.Errorf("lookup entry: %w", err)
	}
	e.Timestamp, _ = time.Parse(tsLayout, ts)
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &e.Tags)
	}

	if e.Content, err = readBody(s.dir, rel, offset, length); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *LogStore) List(ctx context.Context, p ListParams) ([]model.IndexEntry, error) {
	where := []string{"user_id = ?"}
	args := []interface{}{p.UserID}

	if !p.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if p.Categories != nil {
		cats := p.Categories.List()
		if len(cats) == 0 {
			return nil, nil
		}
		marks := make([]string, len(cats))
		for i, c := range cats {
			marks[i] = "?"
			args = append(args, c.String())
		}
		where = append(where, "category IN ("+strings.Join(marks, ",")+")")
	}
	if !p.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, p.Since.UTC().Format(tsLayout))
	}
	if !p.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, p.Until.UTC().Format(tsLayout))
	}

	query := fmt.Sprintf(`
		SELECT user_id, id, category, ts, encrypted, preview, tags, deleted_at
		FROM entries WHERE %s
		ORDER BY ts DESC, id`, strings.Join(where, " AND "))
	if p.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.IndexEntry
	for rows.Next() {
		e, err := scanIndexEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *LogStore) Recent(ctx context.Context, userID string, limit int) ([]model.IndexEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.List(ctx, ListParams{UserID: userID, Limit: limit})
}

func (s *LogStore) ByDate(ctx context.Context, userID string, day time.Time) ([]model.IndexEntry, error) {
	d := day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return s.List(ctx, ListParams{UserID: userID, Since: start, Until: start.AddDate(0, 0, 1)})
}

func (s *LogStore) Delete(ctx context.Context, userID, id string) error {
	unlock := s.writers.Lock(userID)
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE entries SET deleted_at = ? WHERE user_id = ? AND id = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(tsLayout), userID, id)
	if err != nil {
		return fmt.Errorf("tombstone entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *LogStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM entries ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *LogStore) Close() error {
	return s.db.Close()
}

// Passphrases returns the passphrase record store sharing this index.
func (s *LogStore) Passphrases() *PassphraseStore {
	return &PassphraseStore{db: s.db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIndexEntry(row scanner) (model.IndexEntry, error) {
	var e model.IndexEntry
	var category, ts string
	var preview, tagsJSON, deletedAt sql.NullString

	err := row.Scan(&e.UserID, &e.ID, &category, &ts, &e.Encrypted, &preview, &tagsJSON, &deletedAt)
	if err != nil {
		return e, err
	}

	if e.Category, err = model.ParseCategory(category); err != nil {
		return e, err
	}
	e.Timestamp, _ = time.Parse(tsLayout, ts)
	if preview.Valid && !e.Category.IsSecret() {
		e.Preview = preview.String
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &e.Tags)
	}
	if deletedAt.Valid {
		t, _ := time.Parse(tsLayout, deletedAt.String)
		e.DeletedAt = &t
	}
	return e, nil
}

// makePreview collapses whitespace and truncates to max runes.
func makePreview(content string, max int) string {
	flat := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(flat) <= max {
		return flat
	}
	runes := []rune(flat)
	return strings.TrimSpace(string(runes[:max])) + "…"
}
