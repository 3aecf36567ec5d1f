// ABOUTME: Tests for the fixtures cache
// ABOUTME: Covers lazy load, mtime invalidation, broken files and watch-driven reloads

package fixtures

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestLookup_LoadsAndCopies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	writeFile(t, path, "\"@acme/tools/formatDate\":\n  date: \"2024-01-01\"\n", time.Now())

	c := New(path, nil)
	input, ok := c.Lookup("@acme/tools", "formatDate")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"date": "2024-01-01"}, input)

	input["date"] = "mutated"
	again, _ := c.Lookup("@acme/tools", "formatDate")
	assert.Equal(t, "2024-01-01", again["date"])

	_, ok = c.Lookup("@acme/tools", "other")
	assert.False(t, ok)
}

func TestLookup_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.json")
	writeFile(t, path, `{"left-pad/default": {"str": "x", "len": 5}}`, time.Now())

	input, ok := New(path, nil).Lookup("left-pad", "default")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"str": "x", "len": 5}, input)
}

func TestLookup_ReloadsOnMtimeChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	base := time.Now().Add(-time.Hour)
	writeFile(t, path, "a/b:\n  v: 1\n", base)

	c := New(path, nil)
	input, ok := c.Lookup("a", "b")
	require.True(t, ok)
	assert.Equal(t, 1, input["v"])

	writeFile(t, path, "a/b:\n  v: 2\n", base.Add(time.Minute))
	input, ok = c.Lookup("a", "b")
	require.True(t, ok)
	assert.Equal(t, 2, input["v"])
}

func TestLookup_BrokenFileKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	base := time.Now().Add(-time.Hour)
	writeFile(t, path, "a/b:\n  v: 1\n", base)

	c := New(path, nil)
	_, ok := c.Lookup("a", "b")
	require.True(t, ok)

	writeFile(t, path, "a/b: [unclosed\n", base.Add(time.Minute))
	input, ok := c.Lookup("a", "b")
	require.True(t, ok)
	assert.Equal(t, 1, input["v"])
}

func TestLookup_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	c := New(path, nil)

	_, ok := c.Lookup("a", "b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	writeFile(t, path, "a/b: {}\n", time.Now())
	input, ok := c.Lookup("a", "b")
	require.True(t, ok)
	assert.Empty(t, input)

	require.NoError(t, os.Remove(path))
	_, ok = c.Lookup("a", "b")
	assert.False(t, ok)
}

func TestLookup_NilAndEmptyPath(t *testing.T) {
	var c *Cache
	_, ok := c.Lookup("a", "b")
	assert.False(t, ok)

	_, ok = New("", nil).Lookup("a", "b")
	assert.False(t, ok)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	writeFile(t, path, "a/b:\n  v: 1\n", time.Now())

	c := New(path, nil)
	require.NoError(t, c.Reload())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("a/b:\n  v: 1\nc/d:\n  w: true\n"), 0o644))

	assert.Eventually(t, func() bool { return c.Len() == 2 }, 2*time.Second, 20*time.Millisecond)
}
