package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// CheckpointsDir is searched for fine-tuned checkpoints and receives new
	// ones.
	CheckpointsDir string `json:"checkpoints_dir" yaml:"checkpoints_dir" toml:"checkpoints_dir"`
	// KnowledgeDir is the retrieval corpus root (text/markdown snippets).
	KnowledgeDir string `json:"knowledge_dir" yaml:"knowledge_dir" toml:"knowledge_dir"`
	// IndexPath is the sqlite snippet index file.
	IndexPath string `json:"index_path" yaml:"index_path" toml:"index_path"`
	// DataDir holds the fine-tuning example files.
	DataDir   string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	ModelSize string `json:"model_size" yaml:"model_size" toml:"model_size"`
	Device    string `json:"device" yaml:"device" toml:"device"`
	// Backend selects the numerical runtime: "worker" or "stub".
	Backend   string `json:"backend" yaml:"backend" toml:"backend"`
	WorkerURL string `json:"worker_url" yaml:"worker_url" toml:"worker_url"`
	// Per-session admission tunables.
	MaxQueueDepth  int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds int `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
