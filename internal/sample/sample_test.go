package sample

import (
	"path/filepath"
	"testing"

	"github.com/iabetor/pivox/internal/analyzer"
	"github.com/iabetor/pivox/internal/backend/param"
	"github.com/iabetor/pivox/internal/vvm"
)

func TestWriteDictionary(t *testing.T) {
	dir := t.TempDir()
	if err := WriteDictionary(dir); err != nil {
		t.Fatal(err)
	}
	dict, err := analyzer.Open(dir)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer dict.Close()
	if dict.Name() != "pivox-sample" {
		t.Errorf("Name = %q", dict.Name())
	}
	phrases, err := dict.Analyze("こんにちは")
	if err != nil {
		t.Fatal(err)
	}
	if len(phrases) != 1 || len(phrases[0].Moras) != 5 {
		t.Errorf("unexpected analysis: %+v", phrases)
	}
}

func TestWriteModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.vvm")
	def := DefaultModel()
	if err := WriteModel(path, def); err != nil {
		t.Fatal(err)
	}
	f, err := vvm.Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if f.ID != def.ID || f.Kind != param.Kind {
		t.Errorf("id=%s kind=%s", f.ID, f.Kind)
	}
	if ids := f.StyleIDs(); len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Errorf("styles = %v", ids)
	}
	p, err := param.ParseParams(f.Params)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Voices) != 2 {
		t.Errorf("voices = %d", len(p.Voices))
	}
}

func TestWriteModelRequiresStyles(t *testing.T) {
	if err := WriteModel(filepath.Join(t.TempDir(), "x.vvm"), Model{}); err == nil {
		t.Error("expected error for a model without styles")
	}
}
