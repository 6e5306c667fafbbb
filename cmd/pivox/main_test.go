package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iabetor/pivox/internal/vvm"
)

func TestStringList(t *testing.T) {
	var s stringList
	s.Set("a.vvm")
	s.Set("b.vvm")
	if s.String() != "a.vvm,b.vvm" {
		t.Errorf("String = %q", s.String())
	}
}

func TestLoadConfigFallback(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "pivox.yaml")
	cfg, err := loadConfig(missing, false)
	if err != nil {
		t.Fatalf("implicit missing config should fall back: %v", err)
	}
	if cfg.Server.HTTPAddr == "" {
		t.Error("defaults not applied")
	}
	if _, err := loadConfig(missing, true); err == nil {
		t.Error("explicit missing config should fail")
	}
}

func TestInitAndPack(t *testing.T) {
	dir := t.TempDir()
	if code := runInit([]string{"-dir", dir}); code != 0 {
		t.Fatalf("init exit code %d", code)
	}
	sampleModel := filepath.Join(dir, "models", "sample.vvm")
	f, err := vvm.Open(sampleModel)
	if err != nil {
		t.Fatalf("sample model unreadable: %v", err)
	}

	paramsPath := filepath.Join(dir, "talk.yaml")
	if err := os.WriteFile(paramsPath, f.Params, 0o644); err != nil {
		t.Fatal(err)
	}
	metasPath := filepath.Join(dir, "metas.json")
	if err := os.WriteFile(metasPath, []byte(`[{"name":"テスト","speaker_uuid":"7ffcb7ce-00ec-4bdc-82cd-45a8889e43ff","version":"0.1.0","styles":[{"name":"ノーマル","id":20,"type":"talk"},{"name":"ささやき","id":21,"type":"talk"}]}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "packed.vvm")
	code := runPack([]string{"-params", paramsPath, "-metas", metasPath, "-out", out,
		"-id", "11111111-2222-3333-4444-555555555555", "-file", "extra/notes.txt=" + notes})
	if code != 0 {
		t.Fatalf("pack exit code %d", code)
	}
	packed, err := vvm.Open(out)
	if err != nil {
		t.Fatalf("packed model unreadable: %v", err)
	}
	if packed.ID.String() != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("id = %s", packed.ID)
	}
	if packed.InnerVoices[20] != 0 || packed.InnerVoices[21] != 1 {
		t.Errorf("inner voices = %v", packed.InnerVoices)
	}
	if string(packed.Files["extra/notes.txt"]) != "hi" {
		t.Errorf("files = %v", packed.Files)
	}

	if code := runPack([]string{"-params", paramsPath, "-out", out}); code != 2 {
		t.Errorf("missing -metas exit code = %d, want 2", code)
	}
	if code := runPack([]string{"-params", paramsPath, "-metas", metasPath, "-out", out, "-id", "nope"}); code != 1 {
		t.Errorf("bad id exit code = %d, want 1", code)
	}
}
