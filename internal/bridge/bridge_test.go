package bridge

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iabetor/pivox/internal/engine"
	"github.com/iabetor/pivox/internal/ort"
	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
	"github.com/iabetor/pivox/internal/sample"
)

func newModule(t *testing.T) (*Module, string, string) {
	t.Helper()
	dir := t.TempDir()
	dict := filepath.Join(dir, "dict")
	model := filepath.Join(dir, "sample.vvm")
	if err := sample.WriteDictionary(dict); err != nil {
		t.Fatal(err)
	}
	if err := sample.WriteModel(model, sample.DefaultModel()); err != nil {
		t.Fatal(err)
	}
	e := engine.New(engine.Options{Runtime: ort.Options{Probe: func() (ort.SupportedDevices, error) {
		return ort.SupportedDevices{CPU: true}, nil
	}}})
	t.Cleanup(func() { e.Close() })
	return NewModule(e), dict, model
}

func TestModuleFlow(t *testing.T) {
	m, dict, model := newModule(t)
	dir := filepath.Dir(model)

	if m.GetMetasJSON() != "[]" || m.IsGPUMode() {
		t.Error("soft defaults expected before initialize")
	}
	if _, err := m.Initialize(dict, 1, 0).Wait(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := m.LoadModel(model).Wait(); err != nil {
		t.Fatalf("loadModel: %v", err)
	}
	if !strings.Contains(m.GetMetasJSON(), sample.DefaultModel().SpeakerUUID.String()) {
		t.Errorf("metas = %s", m.GetMetasJSON())
	}
	if !strings.Contains(m.GetSupportedDevicesJSON(), `"cpu":true`) {
		t.Errorf("devices = %s", m.GetSupportedDevicesJSON())
	}

	doc, err := m.AudioQuery("こんにちは", 0).Wait()
	if err != nil {
		t.Fatal(err)
	}
	q, err := query.Unmarshal(doc)
	if err != nil {
		t.Fatalf("audioQuery returned invalid JSON: %v", err)
	}
	if q.Kana == nil || *q.Kana != "コンニチワ'" {
		t.Errorf("kana = %v", q.Kana)
	}

	synthPath := filepath.Join(dir, "synthesis.wav")
	got, err := m.Synthesis(doc, 0, synthPath, true).Wait()
	if err != nil {
		t.Fatal(err)
	}
	if got != synthPath {
		t.Errorf("synthesis returned %q", got)
	}
	ttsPath := filepath.Join(dir, "tts.wav")
	if _, err := m.TTS("こんにちは", 0, ttsPath, true).Wait(); err != nil {
		t.Fatal(err)
	}
	a, _ := os.ReadFile(synthPath)
	b, _ := os.ReadFile(ttsPath)
	if len(a) == 0 || !bytes.Equal(a, b) {
		t.Error("tts file should equal synthesis(audioQuery) file")
	}
	if !bytes.HasPrefix(a, []byte("RIFF")) {
		t.Error("output is not a WAV file")
	}

	kanaDoc, err := m.AudioQueryFromKana("コンニチワ'", 1).Wait()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(kanaDoc, `"kana":"コンニチワ'"`) {
		t.Errorf("kana doc = %s", kanaDoc)
	}
	if _, err := m.TTSFromKana("コンニチワ'", 1, filepath.Join(dir, "kana.wav"), false).Wait(); err != nil {
		t.Fatal(err)
	}

	if _, err := m.UnloadModel(model).Wait(); err != nil {
		t.Fatal(err)
	}
	if m.GetMetasJSON() != "[]" {
		t.Error("metas should be empty after unload")
	}

	if _, err := m.Finalize().Wait(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Finalize().Wait(); err != nil {
		t.Errorf("second finalize: %v", err)
	}
	if _, err := m.AudioQuery("こんにちは", 0).Wait(); result.KindOf(err) != result.KindEngineNotInitialized {
		t.Errorf("after finalize: %v", err)
	}
	if m.GetVersion() != engine.Version {
		t.Errorf("version = %q", m.GetVersion())
	}
}

func TestModuleArgumentErrors(t *testing.T) {
	m, dict, model := newModule(t)
	if _, err := m.Initialize(dict, 7, 0).Wait(); result.KindOf(err) != result.KindInvalidArgument {
		t.Errorf("bad mode: %v", err)
	}
	if _, err := m.Initialize(dict, 1, -2).Wait(); result.KindOf(err) != result.KindInvalidArgument {
		t.Errorf("negative threads: %v", err)
	}
	if _, err := m.Initialize(dict, 0, 0).Wait(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadModel(model).Wait(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AudioQuery("こんにちは", -1).Wait(); result.KindOf(err) != result.KindInvalidArgument {
		t.Errorf("negative style: %v", err)
	}
	out := filepath.Join(t.TempDir(), "x.wav")
	if _, err := m.Synthesis("{not json", 0, out, true).Wait(); result.CodeOf(err) != result.CodeInvalidAudioQuery {
		t.Errorf("bad json: %v", err)
	}
	if _, err := m.TTS("こんにちは", 5, out, true).Wait(); result.KindOf(err) != result.KindUnknownStyle {
		t.Errorf("unknown style: %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("failed calls must not create the output file")
	}
	if _, err := m.AudioQueryFromKana("コンニチワ", 0).Wait(); result.KindOf(err) != result.KindMalformedKana {
		t.Errorf("malformed kana: %v", err)
	}
}

func TestMode(t *testing.T) {
	for in, want := range map[int]string{0: "auto", 1: "cpu", 2: "gpu"} {
		got, err := Mode(in)
		if err != nil || got.String() != want {
			t.Errorf("Mode(%d) = %s, %v", in, got, err)
		}
	}
	if _, err := Mode(3); err == nil {
		t.Error("Mode(3) should fail")
	}
}
