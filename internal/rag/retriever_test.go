package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestRetriever(t *testing.T, files map[string]string) *SQLiteRetriever {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	r, err := New(root, ":memory:")
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestQueryTopResult(t *testing.T) {
	r := newTestRetriever(t, map[string]string{
		"cells.md": "An inverter uses one nfet and one pfet.\n\nA nand gate uses two nfets in series.",
		"misc.txt": "Routing happens on metal layers.",
	})
	got, err := r.Query(context.Background(), "inverter", 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || !strings.Contains(got[0], "inverter") {
		t.Fatalf("unexpected results: %v", got)
	}
}

func TestQueryNoMatchIsNonFatal(t *testing.T) {
	r := newTestRetriever(t, map[string]string{"cells.md": "An inverter uses one nfet."})
	got, err := r.Query(context.Background(), "zzzzz", 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no results, got %v", got)
	}
}

func TestQueryPunctuationSafe(t *testing.T) {
	r := newTestRetriever(t, map[string]string{"cells.md": "An inverter uses one nfet."})
	if _, err := r.Query(context.Background(), `"inverter" (fast!)`, 1); err != nil {
		t.Fatalf("query with punctuation: %v", err)
	}
}

func TestMissingKnowledgeRoot(t *testing.T) {
	r, err := New(filepath.Join(t.TempDir(), "absent"), ":memory:")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer r.Close()
	got, err := r.Query(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty index, got %v", got)
	}
}

func TestQueryIgnoresNonSnippetFiles(t *testing.T) {
	r := newTestRetriever(t, map[string]string{
		"notes.md":  "An inverter uses one nfet.",
		"junk.gguf": "inverter inverter inverter",
	})
	got, err := r.Query(context.Background(), "inverter", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the markdown snippet, got %v", got)
	}
}
