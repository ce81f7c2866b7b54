package crawler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
}

func TestCrawler_Collect(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"a/tz.docx",
		"a/tz_report.docx",
		"a/~$tz.docx",
		"b/spec.TXT",
		"b/notes.md",
		"b/image.png",
		".git/config.txt",
		"node_modules/x/readme.md",
		".hidden.txt",
	)

	paths, err := NewCrawler().Collect(root)
	require.NoError(t, err)

	var rel []string
	for _, p := range paths {
		r, err := filepath.Rel(root, p)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{"a/tz.docx", "b/notes.md", "b/spec.TXT"}, rel)
}

func TestCrawler_Extensions(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "one.docx", "two.txt")

	paths, err := NewCrawler(".DOCX").Collect(root)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "one.docx", filepath.Base(paths[0]))
}

func TestCrawler_CallbackErrorStops(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "1.txt", "2.txt", "3.txt")

	stop := errors.New("stop")
	var seen int
	err := NewCrawler().Scan(root, func(string) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
}

func TestCrawler_MissingRoot(t *testing.T) {
	_, err := NewCrawler().Collect(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
