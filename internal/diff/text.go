package diff

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// TextDiff is a line-level diff between two text payloads, used when
// reporting divergence between an expected and a live semantic-model YAML.
type TextDiff struct {
	OldLabel string
	NewLabel string
	Added    []string
	Removed  []string
	unified  string
}

// ChangedLines returns the number of added plus removed lines.
func (d *TextDiff) ChangedLines() int { return len(d.Added) + len(d.Removed) }

// Unified renders the diff in unified format with +/- prefixes.
func (d *TextDiff) Unified() string { return d.unified }

// Engine computes line diffs via diffmatchpatch, caching results for
// repeated input pairs (drift probes re-compare the same YAML often).
type Engine struct {
	dmp   *diffmatchpatch.DiffMatchPatch
	cache sync.Map
}

// NewEngine creates a text diff engine tuned for full accuracy.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return &Engine{dmp: dmp}
}

var defaultEngine = NewEngine()

type textCacheKey struct{ oldText, newText string }

// CompareText diffs two text payloads line by line.
func (e *Engine) CompareText(oldLabel, newLabel, oldText, newText string) *TextDiff {
	key := textCacheKey{oldText, newText}
	if cached, ok := e.cache.Load(key); ok {
		d := *cached.(*TextDiff)
		d.OldLabel = oldLabel
		d.NewLabel = newLabel
		return &d
	}

	a, b, lines := e.dmp.DiffLinesToChars(oldText, newText)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	diffs = e.dmp.DiffCharsToLines(diffs, lines)

	d := &TextDiff{OldLabel: oldLabel, NewLabel: newLabel}
	var buf strings.Builder
	fmt.Fprintf(&buf, "--- %s\n+++ %s\n", oldLabel, newLabel)
	for _, df := range diffs {
		for _, line := range splitLines(df.Text) {
			switch df.Type {
			case diffmatchpatch.DiffDelete:
				d.Removed = append(d.Removed, line)
				buf.WriteString("-" + line + "\n")
			case diffmatchpatch.DiffInsert:
				d.Added = append(d.Added, line)
				buf.WriteString("+" + line + "\n")
			default:
				buf.WriteString(" " + line + "\n")
			}
		}
	}
	d.unified = buf.String()

	e.cache.Store(key, d)
	return d
}

// CompareText diffs two text payloads using the shared engine.
func CompareText(oldLabel, newLabel, oldText, newText string) *TextDiff {
	return defaultEngine.CompareText(oldLabel, newLabel, oldText, newText)
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
