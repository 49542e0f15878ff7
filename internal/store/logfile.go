package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rcliao/memvault/internal/model"
)

// Each append writes one self-contained block:
//
//	=== id=<id> category=<CATEGORY> ts=<ts> encrypted=<0|1> len=<n> tags=<json>
//	<n bytes of body>
//	--- end <id>
//
// The index records the body's offset and length so reads never parse.

var safeUserRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// userDir maps a user id to a directory name. Ids that are not plain
// identifiers are hashed.
func userDir(userID string) string {
	if safeUserRe.MatchString(userID) && userID != "." && userID != ".." {
		return userID
	}
	sum := sha256.Sum256([]byte(userID))
	return "u_" + hex.EncodeToString(sum[:8])
}

// logPath returns the log file for an entry, relative to the data dir.
// CHRONOLOGICAL is sharded by UTC day.
func logPath(userID string, category model.Category, ts time.Time) string {
	dir := filepath.Join("logs", userDir(userID))
	if category == model.Chronological {
		return filepath.Join(dir, "chronological", ts.UTC().Format("2006-01-02")+".log")
	}
	return filepath.Join(dir, category.Slug()+".log")
}

// appendBlock writes a block and returns the body's offset and length.
func appendBlock(root, rel string, e *model.Entry) (offset int64, length int, err error) {
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return 0, 0, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, 0, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("stat log: %w", err)
	}

	tags, _ := json.Marshal(e.Tags)
	enc := 0
	if e.Encrypted {
		enc = 1
	}
	header := fmt.Sprintf("=== id=%s category=%s ts=%s encrypted=%d len=%d tags=%s\n",
		e.ID, e.Category, e.Timestamp.UTC().Format(tsLayout), enc, len(e.Content), tags)
	block := header + e.Content + "\n--- end " + e.ID + "\n"

	if _, err := f.WriteString(block); err != nil {
		return 0, 0, fmt.Errorf("append log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, 0, fmt.Errorf("sync log: %w", err)
	}
	return info.Size() + int64(len(header)), len(e.Content), nil
}

// readBody reads length bytes at offset from a log file.
func readBody(root, rel string, offset int64, length int) (string, error) {
	f, err := os.Open(filepath.Join(root, rel))
	if err != nil {
		return "", fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read log: %w", err)
	}
	if n < length {
		return "", fmt.Errorf("read log: short block at offset %d", offset)
	}
	return string(buf), nil
}
