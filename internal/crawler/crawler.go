package crawler

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// ReportSuffix marks files this tool wrote; they are never picked up as input.
const ReportSuffix = "_report.docx"

// Crawler scans a directory for specification documents.
type Crawler struct {
	extensions []string
	ignored    []string
}

// NewCrawler creates a crawler accepting the given extensions (with the dot).
// No extensions means the formats document.Parse understands.
func NewCrawler(extensions ...string) *Crawler {
	if len(extensions) == 0 {
		extensions = []string{".docx", ".txt", ".md"}
	}
	for i, ext := range extensions {
		extensions[i] = strings.ToLower(ext)
	}
	return &Crawler{
		extensions: extensions,
		ignored:    []string{".git", "node_modules", "testdata"},
	}
}

// Scan walks root and calls onFile for every matching document in lexical
// order. An error from onFile stops the walk and is returned.
func (c *Crawler) Scan(root string, onFile func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			for _, ign := range c.ignored {
				if d.Name() == ign {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !c.accepts(d.Name()) {
			return nil
		}
		return onFile(path)
	})
}

// Collect returns every matching path under root.
func (c *Crawler) Collect(root string) ([]string, error) {
	var paths []string
	err := c.Scan(root, func(path string) error {
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

func (c *Crawler) accepts(name string) bool {
	lower := strings.ToLower(name)
	// Word lock files and our own output
	if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") || strings.HasSuffix(lower, ReportSuffix) {
		return false
	}
	ext := filepath.Ext(lower)
	for _, e := range c.extensions {
		if ext == e {
			return true
		}
	}
	return false
}
