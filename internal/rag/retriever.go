// Package rag provides the retrieval capability used to enrich the first
// conversational turn with domain context. The index is a sqlite full-text
// table built from the text/markdown snippets under a fixed knowledge root;
// queries are safe for concurrent read-only use.
package rag

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure Go sqlite driver

	"glayoutd/internal/common/fsutil"
)

// Retriever returns up to k relevant context snippets for a query. An empty
// result is not an error; callers treat it as "no context available".
type Retriever interface {
	Query(ctx context.Context, query string, k int) ([]string, error)
	Close() error
}

// SQLiteRetriever is an FTS-backed snippet index.
type SQLiteRetriever struct {
	db *sql.DB
}

// snippet files recognized under the knowledge root.
var snippetExts = map[string]bool{".txt": true, ".md": true}

// New builds a retriever over knowledgeRoot, indexing into dbPath. Pass
// ":memory:" for an ephemeral index. The index is rebuilt on every call so
// it always reflects the knowledge root's current contents.
func New(knowledgeRoot, dbPath string) (*SQLiteRetriever, error) {
	base, err := fsutil.ExpandHome(knowledgeRoot)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes writes.
	db.SetMaxOpenConns(1)
	r := &SQLiteRetriever{db: db}
	if err := r.reindex(base); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRetriever) reindex(root string) error {
	if _, err := r.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS snippets USING fts5(content, source UNINDEXED)`); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if _, err := r.db.Exec(`DELETE FROM snippets`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if !fsutil.PathExists(root) {
		// An absent knowledge root yields an empty index, not an error.
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !snippetExts[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, para := range strings.Split(string(raw), "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			if _, err := r.db.Exec(`INSERT INTO snippets(content, source) VALUES(?, ?)`, para, path); err != nil {
				return fmt.Errorf("index %s: %w", path, err)
			}
		}
		return nil
	})
}

// Query returns the top-k snippets ranked by full-text relevance.
func (r *SQLiteRetriever) Query(ctx context.Context, query string, k int) ([]string, error) {
	if k < 1 {
		return nil, nil
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT content FROM snippets WHERE snippets MATCH ? ORDER BY bm25(snippets) LIMIT ?`,
		match, k)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// Close releases the underlying database.
func (r *SQLiteRetriever) Close() error { return r.db.Close() }

// ftsQuery turns free text into an OR-of-terms FTS expression, quoting each
// term so user punctuation cannot break the match syntax.
func ftsQuery(q string) string {
	var terms []string
	for _, f := range strings.Fields(q) {
		f = strings.Trim(f, `"'.,;:!?()[]{}`)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, ``)+`"`)
	}
	return strings.Join(terms, " OR ")
}
