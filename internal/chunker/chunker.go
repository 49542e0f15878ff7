// Package chunker splits memory text into short passages so search can
// return the passage that best matches a query instead of the whole entry.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultTargetSize = 160
	DefaultMaxSize    = 240
)

// Options configures chunking behavior. Sizes are in runes.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// Chunk splits text into passages. Short text (<= MaxSize) is one passage.
func Chunk(text string, opts Options) []string {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= opts.MaxSize {
		return []string{text}
	}

	return merge(splitSentences(text), opts)
}

// splitSentences breaks on line breaks and on '.', '!' or '?' followed by space.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder

	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n') {
			flush()
		}
	}
	flush()
	return out
}

// merge joins sentences up to TargetSize and hard-splits any over MaxSize.
func merge(sentences []string, opts Options) []string {
	var out []string
	var acc string

	emit := func(s string) {
		if utf8.RuneCountInString(s) > opts.MaxSize {
			out = append(out, hardSplit(s, opts)...)
			return
		}
		out = append(out, s)
	}

	for _, s := range sentences {
		if acc == "" {
			acc = s
			continue
		}
		combined := acc + " " + s
		if utf8.RuneCountInString(combined) <= opts.TargetSize {
			acc = combined
			continue
		}
		emit(acc)
		acc = s
	}
	if acc != "" {
		emit(acc)
	}
	return out
}

// hardSplit breaks an oversized sentence on word boundaries.
func hardSplit(s string, opts Options) []string {
	var out []string
	var cur []string
	curLen := 0

	for _, w := range strings.Fields(s) {
		wl := utf8.RuneCountInString(w)
		if curLen+wl > opts.TargetSize && len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur, curLen = nil, 0
		}
		cur = append(cur, w)
		curLen += wl + 1
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}
