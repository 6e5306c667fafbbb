package vvm

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/iabetor/pivox/internal/result"
)

func testSpec() Spec {
	return Spec{
		ID:   uuid.MustParse("0f9a7d2e-8d1c-4a51-9a7b-1d2f3e4c5b6a"),
		Kind: "param",
		Metas: []SpeakerMeta{{
			Name:        "テスト",
			SpeakerUUID: "7ffcb7ce-00ec-4bdc-82cd-45a8889e43ff",
			Version:     "0.1.0",
			Styles: []Style{
				{Name: "ノーマル", ID: 0, Type: "talk"},
				{Name: "ささやき", ID: 1, Type: "talk"},
			},
		}},
		Params:      []byte("voices:\n  - id: 0\n  - id: 1\n"),
		Files:       map[string][]byte{"extra/notes.txt": []byte("hello")},
		InnerVoices: map[uint32]int{0: 0, 1: 1},
	}
}

func TestWriteOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "test.vvm")
	spec := testSpec()
	if err := Write(path, spec); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if f.ID != spec.ID {
		t.Errorf("ID = %s, want %s", f.ID, spec.ID)
	}
	if f.Kind != "param" {
		t.Errorf("Kind = %s", f.Kind)
	}
	if string(f.Params) != string(spec.Params) {
		t.Errorf("Params = %q", f.Params)
	}
	if string(f.Files["extra/notes.txt"]) != "hello" {
		t.Errorf("extra file = %q", f.Files["extra/notes.txt"])
	}
	ids := f.StyleIDs()
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Errorf("StyleIDs = %v", ids)
	}
	if f.InnerVoices[1] != 1 {
		t.Errorf("inner voice for style 1 = %d", f.InnerVoices[1])
	}
	if len(f.Metas) != 1 || f.Metas[0].Styles[1].Name != "ささやき" {
		t.Errorf("metas = %+v", f.Metas)
	}
	if !filepath.IsAbs(f.Path) {
		t.Errorf("Path should be absolute: %s", f.Path)
	}
	mf := f.ModelFiles()
	if string(mf.Params) != string(spec.Params) || len(mf.Files) != 1 {
		t.Errorf("ModelFiles = %+v", mf)
	}
}

func TestWriteGeneratesID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.vvm")
	spec := testSpec()
	spec.ID = uuid.Nil
	if err := Write(path, spec); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.ID == uuid.Nil {
		t.Error("Write should assign an id")
	}
}

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.vvm")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(out)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(data)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

const goodMetas = `[{"name":"a","speaker_uuid":"7ffcb7ce-00ec-4bdc-82cd-45a8889e43ff","version":"1","styles":[{"name":"n","id":3,"type":"talk"}]}]`

func manifestJSON(version int, mapping string) string {
	return `{"vvm_format_version":` + strconv.Itoa(version) + `,"id":"0f9a7d2e-8d1c-4a51-9a7b-1d2f3e4c5b6a","metas_filename":"metas.json","talk":{"kind":"param","params_filename":"talk.yaml","files":[],"style_id_to_inner_voice_id":` + mapping + `}}`
}

func TestOpenErrors(t *testing.T) {
	notZip := filepath.Join(t.TempDir(), "bad.vvm")
	if err := os.WriteFile(notZip, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		code result.Code
	}{
		{"missing file", filepath.Join(t.TempDir(), "none.vvm"), result.CodeOpenZipFile},
		{"not zip", notZip, result.CodeOpenZipFile},
		{"no manifest", writeZip(t, map[string]string{"metas.json": goodMetas}), result.CodeReadZipEntry},
		{"bad manifest", writeZip(t, map[string]string{ManifestName: "{"}), result.CodeInvalidModelHeader},
		{"version", writeZip(t, map[string]string{
			ManifestName: manifestJSON(2, `{"3":0}`), "metas.json": goodMetas, "talk.yaml": "",
		}), result.CodeInvalidModelHeader},
		{"missing mapping", writeZip(t, map[string]string{
			ManifestName: manifestJSON(1, `{}`), "metas.json": goodMetas, "talk.yaml": "",
		}), result.CodeInvalidModelData},
		{"bad metas", writeZip(t, map[string]string{
			ManifestName: manifestJSON(1, `{"3":0}`), "metas.json": "[", "talk.yaml": "",
		}), result.CodeInvalidModelData},
		{"missing params", writeZip(t, map[string]string{
			ManifestName: manifestJSON(1, `{"3":0}`), "metas.json": goodMetas,
		}), result.CodeReadZipEntry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.path)
			if result.KindOf(err) != result.KindModelLoad {
				t.Fatalf("kind = %v, want ModelLoad (err=%v)", result.KindOf(err), err)
			}
			if result.CodeOf(err) != tt.code {
				t.Errorf("code = %d, want %d (err=%v)", result.CodeOf(err), tt.code, err)
			}
		})
	}
}

func TestDuplicateStyleInModel(t *testing.T) {
	spec := testSpec()
	spec.Metas = append(spec.Metas, SpeakerMeta{
		Name:        "other",
		SpeakerUUID: "3c37646f-3881-5374-2a83-149267990abc",
		Styles:      []Style{{Name: "n", ID: 1}},
	})
	path := filepath.Join(t.TempDir(), "dup.vvm")
	if err := Write(path, spec); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); result.CodeOf(err) != result.CodeInvalidModelData {
		t.Errorf("expected invalid model data, got %v", err)
	}
}

func TestParseMetas(t *testing.T) {
	metas, err := ParseMetas([]byte(`[{"name":"A","speaker_uuid":"u1","version":"1","styles":[{"name":"n","id":3,"type":"talk"},{"name":"m","id":1,"type":"talk"}]},{"name":"B","speaker_uuid":"u2","version":"1","styles":[{"name":"n","id":3,"type":"talk"},{"name":"x","id":8,"type":"talk"}]}]`))
	if err != nil {
		t.Fatalf("ParseMetas error: %v", err)
	}
	inner := SequentialInnerVoices(metas)
	want := map[uint32]int{3: 0, 1: 1, 8: 2}
	if len(inner) != len(want) {
		t.Fatalf("inner = %v, want %v", inner, want)
	}
	for k, v := range want {
		if inner[k] != v {
			t.Errorf("inner[%d] = %d, want %d", k, inner[k], v)
		}
	}

	for _, bad := range []string{"", "{", "[]"} {
		if _, err := ParseMetas([]byte(bad)); err == nil {
			t.Errorf("ParseMetas(%q) should fail", bad)
		}
	}
}
