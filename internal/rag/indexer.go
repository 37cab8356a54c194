package rag

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// chunkSize is the target chunk length in bytes; splitting happens at
// paragraph boundaries so chunks can run shorter.
const chunkSize = 1200

// indexableExtensions are the file types the indexer ingests.
var indexableExtensions = map[string]bool{
	".md": true, ".txt": true, ".rst": true,
	".go": true, ".py": true, ".js": true, ".ts": true,
	".html": true, ".htm": true,
}

// skippedDirs are never descended into.
var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true,
}

// Indexer walks a documentation or source tree and loads it into a Store.
type Indexer struct {
	store *Store
	log   *slog.Logger
}

// NewIndexer creates an indexer over a store.
func NewIndexer(store *Store, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{store: store, log: log}
}

// IndexDir ingests every indexable file under root and returns the number
// of files and chunks stored. Files that fail to read are logged and
// skipped; they never abort the walk.
func (ix *Indexer) IndexDir(ctx context.Context, root string) (files, chunks int, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !indexableExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		parts, fileErr := ix.indexFile(ctx, path, rel)
		if fileErr != nil {
			ix.log.Warn("skipping file", "path", rel, "error", fileErr)
			return nil
		}
		files++
		chunks += parts
		return nil
	})
	if err != nil {
		return files, chunks, fmt.Errorf("walking %s: %w", root, err)
	}
	return files, chunks, nil
}

func (ix *Indexer) indexFile(ctx context.Context, path, rel string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	text := string(raw)
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".html" || ext == ".htm" {
		text, err = extractHTMLText(text)
		if err != nil {
			return 0, fmt.Errorf("parsing HTML: %w", err)
		}
	}

	parts := SplitChunks(text, chunkSize)
	if err := ix.store.ReplaceDocument(ctx, rel, parts); err != nil {
		return 0, err
	}
	ix.log.Debug("indexed file", "path", rel, "chunks", len(parts))
	return len(parts), nil
}

// extractHTMLText strips markup, keeping the visible text of body elements.
func extractHTMLText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style").Remove()

	var b strings.Builder
	doc.Find("h1, h2, h3, h4, p, li, pre, td").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	})
	if b.Len() == 0 {
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.TrimSpace(b.String()), nil
}

// SplitChunks splits text into chunks of roughly size bytes, preferring
// paragraph boundaries. Blank input yields no chunks.
func SplitChunks(text string, size int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		// Oversized paragraphs are split hard at the chunk size.
		for len(para) > size {
			flush()
			chunks = append(chunks, para[:size])
			para = strings.TrimSpace(para[size:])
		}
		if current.Len() > 0 && current.Len()+len(para) > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}
