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
	Addr        string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir   string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	AdaptersDir string `json:"adapters_dir" yaml:"adapters_dir" toml:"adapters_dir"`
	HistoryDB   string `json:"history_db" yaml:"history_db" toml:"history_db"`
	LibraryDir  string `json:"library_dir" yaml:"library_dir" toml:"library_dir"`
	Threads     int    `json:"threads" yaml:"threads" toml:"threads"`
	CtxLen      int    `json:"ctx_len" yaml:"ctx_len" toml:"ctx_len"`
	GPULayers   int    `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	LogLevel    string `json:"log_level" yaml:"log_level" toml:"log_level"`
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
		if err := yaml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
