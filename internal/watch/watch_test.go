package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `{
  "version": "1.0",
  "objects": [
    {
      "name": "Order",
      "identifiers": ["order_id"],
      "properties": [{"name": "order_id", "type": "string"}]
    }
  ]
}`

func waitForReport(t *testing.T, ch <-chan Report) Report {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("no report received")
		return Report{}
	}
}

func TestWatcherValidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	reports := make(chan Report, 8)

	w, err := New(dir, func(r Report) { reports <- r })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	path := filepath.Join(dir, "retail.json")
	require.NoError(t, os.WriteFile(path, []byte(validDoc), 0644))

	r := waitForReport(t, reports)
	assert.Equal(t, path, r.Path)
	require.NoError(t, r.Err)
	require.NotNil(t, r.IR)
	assert.Equal(t, "Order", r.IR.Objects[0].Name)

	stats := w.GetStats()
	assert.Equal(t, 1, stats.Validated)
	assert.Zero(t, stats.Invalid)
}

func TestWatcherReportsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	reports := make(chan Report, 8)

	w, err := New(dir, func(r Report) { reports <- r })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"1.0","objects":[]}`), 0644))

	r := waitForReport(t, reports)
	require.Error(t, r.Err)
	assert.Nil(t, r.IR)
	assert.Equal(t, 1, w.GetStats().Invalid)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	reports := make(chan Report, 8)

	w, err := New(dir, func(r Report) { reports <- r })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	select {
	case r := <-reports:
		t.Fatalf("unexpected report for %s", r.Path)
	case <-time.After(700 * time.Millisecond):
	}
	assert.Zero(t, w.GetStats().Validated)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsWatching())

	w.Stop()
	w.Stop()
	assert.False(t, w.IsWatching())
}
