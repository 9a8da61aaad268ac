package whisper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const DefaultModel = "small"

// ModelInfo describes a downloadable ggml model.
type ModelInfo struct {
	Name      string
	FileName  string
	URL       string
	SHA256    string
	SHA256URL string
}

// ResolvedModel is a model reference mapped onto the local filesystem.
type ResolvedModel struct {
	ModelInfo
	Path          string
	NeedsDownload bool
	IsCustomPath  bool
}

const modelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

var registry = map[string]ModelInfo{
	"tiny":     ggml("tiny", "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21"),
	"base":     ggml("base", "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe"),
	"small":    ggml("small", "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b"),
	"medium":   ggml("medium", "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208"),
	"large-v3": ggml("large-v3", "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2"),
}

func ggml(name, sha string) ModelInfo {
	file := "ggml-" + name + ".bin"
	return ModelInfo{Name: name, FileName: file, URL: modelBaseURL + file, SHA256: sha}
}

func ModelNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func LookupModel(name string) (ModelInfo, bool) {
	info, ok := registry[name]
	return info, ok
}

// ResolveModel maps a registry name or a path to a model file. Named models
// live in modelDir and are flagged for download when absent; custom paths
// must already exist.
func ResolveModel(ref, modelDir string) (ResolvedModel, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = DefaultModel
	}

	if info, ok := LookupModel(ref); ok {
		return resolveNamed(info, modelDir)
	}

	if !looksLikePath(ref) {
		return ResolvedModel{}, fmt.Errorf("unknown model %q (known models: %s)", ref, strings.Join(ModelNames(), ", "))
	}

	custom := filepath.Clean(ref)
	if _, err := os.Stat(custom); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ResolvedModel{}, fmt.Errorf("custom model path does not exist: %s", custom)
		}
		return ResolvedModel{}, fmt.Errorf("stat custom model path: %w", err)
	}

	return ResolvedModel{Path: custom, IsCustomPath: true}, nil
}

func resolveNamed(info ModelInfo, modelDir string) (ResolvedModel, error) {
	if strings.TrimSpace(modelDir) == "" {
		return ResolvedModel{}, errors.New("model directory must not be empty for named model")
	}

	path := filepath.Join(modelDir, info.FileName)
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return ResolvedModel{ModelInfo: info, Path: path}, nil
	case errors.Is(err, os.ErrNotExist):
		return ResolvedModel{ModelInfo: info, Path: path, NeedsDownload: true}, nil
	default:
		return ResolvedModel{}, fmt.Errorf("stat model path: %w", err)
	}
}

func looksLikePath(ref string) bool {
	return strings.ContainsRune(ref, os.PathSeparator) || strings.HasSuffix(strings.ToLower(ref), ".bin")
}
