package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestShortTextSingleChunk(t *testing.T) {
	chunks := Chunk("Meeting with Sarah tomorrow.", DefaultOptions())
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "Meeting with Sarah tomorrow." {
		t.Errorf("unexpected chunk %q", chunks[0])
	}
}

func TestEmptyText(t *testing.T) {
	if chunks := Chunk("  \n ", DefaultOptions()); chunks != nil {
		t.Errorf("expected nil, got %v", chunks)
	}
}

func TestSentencesMergedUpToTarget(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("This is a fairly ordinary sentence. ")
	}
	opts := Options{TargetSize: 80, MaxSize: 120}
	chunks := Chunk(sb.String(), opts)

	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if n := utf8.RuneCountInString(c); n > opts.MaxSize {
			t.Errorf("chunk exceeds max size (%d): %q", n, c)
		}
		if !strings.HasSuffix(c, ".") {
			t.Errorf("chunk should end on a sentence boundary: %q", c)
		}
	}
}

func TestLineBreaksSplit(t *testing.T) {
	text := strings.Repeat("alpha beta gamma ", 5) + "\n" + strings.Repeat("delta epsilon ", 5)
	chunks := Chunk(text, Options{TargetSize: 100, MaxSize: 150})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[1], "delta") {
		t.Errorf("second chunk should start at the new line: %q", chunks[1])
	}
}

func TestHardSplitLongSentence(t *testing.T) {
	long := strings.Repeat("word ", 200)
	opts := Options{TargetSize: 50, MaxSize: 60}
	chunks := Chunk(long, opts)

	if len(chunks) < 10 {
		t.Fatalf("expected hard split into many chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if n := utf8.RuneCountInString(c); n > opts.MaxSize {
			t.Errorf("chunk exceeds max size: %d", n)
		}
	}
}
