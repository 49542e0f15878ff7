package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/memvault/internal/encryption"
	"github.com/rcliao/memvault/internal/model"
)

func newTestStore(t *testing.T) (*LogStore, string) {
	t.Helper()
	dir := t.TempDir()
	enc := encryption.New(encryption.Options{MasterSecret: "test-secret", Logger: zerolog.Nop()})
	s, err := Open(Options{Dir: dir, Encrypter: enc, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	e, err := s.Put(ctx, PutParams{
		UserID: "alice", Content: "Buy milk", Category: model.General, Tags: []string{"errand"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(e.ID) != idLength {
		t.Errorf("expected %d-char id, got %q", idLength, e.ID)
	}
	if e.Encrypted {
		t.Error("general entries must not be encrypted")
	}

	got, err := s.Get(ctx, "alice", e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "Buy milk" {
		t.Errorf("expected 'Buy milk', got %q", got.Content)
	}
	if got.Category != model.General || len(got.Tags) != 1 || got.Tags[0] != "errand" {
		t.Errorf("metadata not persisted: %+v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	e, _ := s.Put(ctx, PutParams{UserID: "alice", Content: "x", Category: model.General})

	if _, err := s.Get(ctx, "alice", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(ctx, "bob", e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ids must be scoped per user, got %v", err)
	}
}

func TestDeterministicID(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := memoryID("alice", "hello", ts, 0)
	if a != memoryID("alice", "hello", ts, 0) {
		t.Error("id must be deterministic")
	}
	if a == memoryID("bob", "hello", ts, 0) {
		t.Error("id must depend on user")
	}
	if a == memoryID("alice", "hello", ts, 1) {
		t.Error("retry attempt must change id")
	}
}

func TestIDCollisionRetries(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a, err := s.Put(ctx, PutParams{UserID: "alice", Content: "same", Category: model.General, Timestamp: ts})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Put(ctx, PutParams{UserID: "alice", Content: "same", Category: model.General, Timestamp: ts})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids, both %q", a.ID)
	}
}

func TestSecretTierStoresCiphertextOnly(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	e, err := s.Put(ctx, PutParams{UserID: "alice", Content: "bank account number 12345678", Category: model.Secret})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !e.Encrypted {
		t.Error("expected secret entry to be encrypted")
	}

	raw, err := os.ReadFile(filepath.Join(dir, logPath("alice", model.Secret, e.Timestamp)))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(raw), "12345678") {
		t.Error("plaintext leaked into secret log")
	}
	if !strings.Contains(string(raw), encryption.Marker) {
		t.Error("expected marker in secret log")
	}

	got, _ := s.Get(ctx, "alice", e.ID)
	if !encryption.IsSealed(got.Content) {
		t.Error("Get must return the sealed body for secret entries")
	}

	idx, _ := s.Recent(ctx, "alice", 10)
	if len(idx) != 1 || idx[0].Preview != "" {
		t.Errorf("secret entries must have no preview, got %+v", idx)
	}
}

func TestChronologicalShardedByDay(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	d1 := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)
	s.Put(ctx, PutParams{UserID: "alice", Content: "late night", Category: model.Chronological, Timestamp: d1})
	s.Put(ctx, PutParams{UserID: "alice", Content: "early morning", Category: model.Chronological, Timestamp: d2})

	for _, day := range []string{"2026-03-01", "2026-03-02"} {
		p := filepath.Join(dir, "logs", "alice", "chronological", day+".log")
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected shard %s: %v", day, err)
		}
	}

	got, err := s.ByDate(ctx, "alice", d1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Preview != "late night" {
		t.Errorf("expected only the 2026-03-01 entry, got %+v", got)
	}
}

func TestLogIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	a, _ := s.Put(ctx, PutParams{UserID: "alice", Content: "first", Category: model.General})
	s.Put(ctx, PutParams{UserID: "alice", Content: "second", Category: model.General})

	raw, _ := os.ReadFile(filepath.Join(dir, logPath("alice", model.General, a.Timestamp)))
	text := string(raw)
	if strings.Count(text, "=== id=") != 2 || strings.Index(text, "first") > strings.Index(text, "second") {
		t.Errorf("unexpected log layout:\n%s", text)
	}

	if err := s.Delete(ctx, "alice", a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, logPath("alice", model.General, a.Timestamp)))
	if string(after) != text {
		t.Error("delete must not modify the log")
	}
}

func TestDeleteTombstones(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	e, _ := s.Put(ctx, PutParams{UserID: "alice", Content: "data", Category: model.General})
	if err := s.Delete(ctx, "alice", e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "alice", e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "alice", e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete should be ErrNotFound, got %v", err)
	}

	all, _ := s.List(ctx, ListParams{UserID: "alice", IncludeDeleted: true})
	if len(all) != 1 || all[0].DeletedAt == nil {
		t.Errorf("expected tombstoned index entry, got %+v", all)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, c := range []string{"one", "two", "three"} {
		s.Put(ctx, PutParams{UserID: "alice", Content: c, Category: model.General, Timestamp: base.Add(time.Duration(i) * time.Hour)})
	}

	got, _ := s.Recent(ctx, "alice", 2)
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
	if got[0].Preview != "three" || got[1].Preview != "two" {
		t.Errorf("expected newest first, got %q, %q", got[0].Preview, got[1].Preview)
	}
}

func TestListCategoryFilter(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	s.Put(ctx, PutParams{UserID: "alice", Content: "a", Category: model.General})
	s.Put(ctx, PutParams{UserID: "alice", Content: "b", Category: model.Secret})
	s.Put(ctx, PutParams{UserID: "alice", Content: "c", Category: model.UltraSecret})

	got, _ := s.List(ctx, ListParams{UserID: "alice", Categories: model.BaselineCategories()})
	if len(got) != 1 || got[0].Category != model.General {
		t.Errorf("expected only the general entry, got %+v", got)
	}

	none, _ := s.List(ctx, ListParams{UserID: "alice", Categories: model.CategorySet{}})
	if len(none) != 0 {
		t.Errorf("empty category set should match nothing, got %d", len(none))
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	last := first.Add(48 * time.Hour)

	s.Put(ctx, PutParams{UserID: "alice", Content: "a", Category: model.General, Timestamp: first})
	s.Put(ctx, PutParams{UserID: "alice", Content: "b", Category: model.General, Timestamp: first.Add(time.Hour)})
	s.Put(ctx, PutParams{UserID: "alice", Content: "c", Category: model.Secret, Timestamp: last})
	s.Put(ctx, PutParams{UserID: "bob", Content: "d", Category: model.General})

	st, err := s.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 3 {
		t.Errorf("expected total 3, got %d", st.Total)
	}
	if st.ByCategory[model.General] != 2 || st.ByCategory[model.Secret] != 1 {
		t.Errorf("unexpected per-category counts: %v", st.ByCategory)
	}
	if st.First == nil || !st.First.Equal(first) || st.Last == nil || !st.Last.Equal(last) {
		t.Errorf("unexpected range: %v .. %v", st.First, st.Last)
	}

	empty, _ := s.Stats(ctx, "nobody")
	if empty.Total != 0 || empty.First != nil {
		t.Errorf("expected empty stats, got %+v", empty)
	}
}

func TestConcurrentPutsSameUser(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Put(ctx, PutParams{UserID: "alice", Content: strings.Repeat("x", i+1), Category: model.General}); err != nil {
				t.Errorf("put %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	all, _ := s.List(ctx, ListParams{UserID: "alice"})
	if len(all) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(all))
	}
	for _, e := range all {
		got, err := s.Get(ctx, "alice", e.ID)
		if err != nil {
			t.Fatalf("get %s: %v", e.ID, err)
		}
		if strings.Trim(got.Content, "x") != "" {
			t.Errorf("corrupted block for %s: %q", e.ID, got.Content)
		}
	}
}

func TestUnsafeUserIDIsHashed(t *testing.T) {
	if d := userDir("../../etc"); strings.Contains(d, "..") || strings.Contains(d, "/") {
		t.Errorf("unsafe user dir %q", d)
	}
	if d := userDir("alice"); d != "alice" {
		t.Errorf("expected plain dir for safe id, got %q", d)
	}
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	s.Put(ctx, PutParams{UserID: "bob", Content: "x", Category: model.General})
	s.Put(ctx, PutParams{UserID: "alice", Content: "y", Category: model.General})

	users, _ := s.Users(ctx)
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("unexpected users: %v", users)
	}
}

func TestPreviewBounded(t *testing.T) {
	p := makePreview(strings.Repeat("word ", 100), 20)
	if n := len([]rune(p)); n > 21 {
		t.Errorf("preview too long: %d runes", n)
	}
	if makePreview("  a \n b  ", 20) != "a b" {
		t.Error("preview should collapse whitespace")
	}
}

func TestPassphraseRecords(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	ps := s.Passphrases()

	if _, err := ps.GetRecord(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ps.PutRecord(ctx, &model.PassphraseRecord{UserID: "alice", Hash: "h1", WordCount: 11, EnrolledAt: now, Hint: "the ... morning"})
	ps.PutRecord(ctx, &model.PassphraseRecord{UserID: "alice", Hash: "h2", WordCount: 12, EnrolledAt: now, Hint: "a ... z"})

	rec, err := ps.GetRecord(ctx, "alice")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Hash != "h2" || rec.WordCount != 12 || !rec.EnrolledAt.Equal(now) {
		t.Errorf("re-enroll should replace record, got %+v", rec)
	}

	ps.DeleteRecord(ctx, "alice")
	if _, err := ps.GetRecord(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
