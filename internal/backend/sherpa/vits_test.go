package sherpa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iabetor/pivox/internal/ort"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("model: model.onnx\ntokens: tokens.txt\n"))
	if err != nil {
		t.Fatalf("ParseConfig error: %v", err)
	}
	if cfg.NoiseScale != 0.667 || cfg.NoiseScaleW != 0.8 || cfg.LengthScale != 1 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Prosody == nil || len(cfg.Prosody.Voices) != 1 {
		t.Errorf("default prosody missing: %+v", cfg.Prosody)
	}

	if _, err := ParseConfig([]byte("tokens: tokens.txt\n")); err == nil {
		t.Error("expected error when model is missing")
	}
	if _, err := ParseConfig([]byte("model: m\ntokens: t\nprosody:\n  voices: []\n")); err == nil {
		t.Error("expected error for empty prosody voices")
	}
}

func TestOpenMissingFile(t *testing.T) {
	files := ort.ModelFiles{
		Params: []byte("model: model.onnx\ntokens: tokens.txt\n"),
		Files:  map[string][]byte{"model.onnx": {1}},
	}
	if _, err := Open(files, ort.SessionOptions{NumThreads: 1}); err == nil {
		t.Error("expected error for missing tokens file")
	}
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	err := extract(dir, map[string][]byte{
		"model.onnx":          []byte("m"),
		"espeak-ng-data/phon": []byte("p"),
	})
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "espeak-ng-data", "phon"))
	if err != nil || string(data) != "p" {
		t.Errorf("nested file not extracted: %q, %v", data, err)
	}

	if err := extract(dir, map[string][]byte{"../escape": nil}); err == nil {
		t.Error("expected error for path escaping the directory")
	}
}
