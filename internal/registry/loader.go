package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lorad/pkg/types"
)

// GGUFScanner discovers model weight files on disk.
type GGUFScanner struct{}

func NewGGUFScanner() *GGUFScanner { return &GGUFScanner{} }

// Scan lists *.gguf files in dir and builds a registry from filenames.
// ID is the full filename (including extension); Path is the absolute file path.
func (s *GGUFScanner) Scan(dir string) ([]types.Model, error) {
	abs, entries, err := readDir(dir)
	if err != nil {
		return nil, err
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() { continue }
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") { continue }
		// Use full filename as ID (e.g., "llama-3.1-8b-q4_k_m.gguf")
		models = append(models, types.Model{
			ID:    name,
			Name:  name,
			Path:  filepath.Join(abs, name),
			Quant: quantFromName(name),
		})
	}
	return models, nil
}

// LoadDir scans a directory for *.gguf model files.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

// LoadAdaptersDir lists saved adapter files (*.gguf) in dir with their sizes.
// A missing directory is not an error; adapters appear once one is saved.
func LoadAdaptersDir(dir string) ([]types.AdapterFile, error) {
	abs, entries, err := readDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var adapters []types.AdapterFile
	for _, e := range entries {
		if e.IsDir() { continue }
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") { continue }
		a := types.AdapterFile{ID: name, Path: filepath.Join(abs, name)}
		if info, err := e.Info(); err == nil {
			a.SizeBytes = info.Size()
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func readDir(dir string) (string, []os.DirEntry, error) {
	base, err := expandHome(dir)
	if err != nil {
		return "", nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", nil, err
	}
	return abs, entries, nil
}

// quantFromName extracts a quantization tag like "q4_k_m" or "Q8_0" from a
// model filename, or "" when none is recognizable.
func quantFromName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.FieldsFunc(base, func(r rune) bool { return r == '-' || r == '.' })
	for _, p := range parts {
		lower := strings.ToLower(p)
		if len(lower) >= 2 && lower[0] == 'q' && lower[1] >= '0' && lower[1] <= '9' {
			return p
		}
		if lower == "f16" || lower == "f32" || lower == "bf16" {
			return p
		}
	}
	return ""
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" { return path, nil }
	if path[0] != '~' { return path, nil }
	home, err := os.UserHomeDir()
	if err != nil { return "", fmt.Errorf("home dir: %w", err) }
	if path == "~" { return home, nil }
	// handle cases like ~/models/llm
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
