package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml",
		"addr: :9999\ncheckpoints_dir: /ckpt\nknowledge_dir: /know\ndata_dir: /data\nmodel_size: 7b\ndevice: cuda\nbackend: worker\nworker_url: http://127.0.0.1:9100\nmax_queue_depth: 8\nmax_wait_seconds: 5\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.CheckpointsDir != "/ckpt" || cfg.KnowledgeDir != "/know" ||
		cfg.DataDir != "/data" || cfg.ModelSize != "7b" || cfg.Device != "cuda" ||
		cfg.Backend != "worker" || cfg.WorkerURL != "http://127.0.0.1:9100" ||
		cfg.MaxQueueDepth != 8 || cfg.MaxWaitSeconds != 5 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json",
		`{"addr":":7070","checkpoints_dir":"/c","model_size":"3b","backend":"stub","index_path":"/tmp/idx.db"}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.CheckpointsDir != "/c" || cfg.ModelSize != "3b" ||
		cfg.Backend != "stub" || cfg.IndexPath != "/tmp/idx.db" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml",
		"addr=\":8081\"\ncheckpoints_dir=\"/x\"\nmodel_size=\"22b\"\nmax_queue_depth=3\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.CheckpointsDir != "/x" || cfg.ModelSize != "22b" || cfg.MaxQueueDepth != 3 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	if _, err := Load(filepath.Join(d, "missing.yaml")); err == nil {
		t.Fatalf("expected error on missing file")
	}
	p := writeTempFile(t, d, "cfg.ini", "addr=:1\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error on unsupported extension")
	}
	p = writeTempFile(t, d, "bad.yaml", ":\n\t-")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error on malformed yaml")
	}
}
