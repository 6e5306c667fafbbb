package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iabetor/pivox/internal/engine"
	"github.com/iabetor/pivox/internal/ort"
	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
	"github.com/iabetor/pivox/internal/sample"
	"github.com/iabetor/pivox/internal/worker"
)

type testServer struct {
	handler http.Handler
	engine  *engine.Engine
	dict    string
	model   string
}

func newTestServer(t *testing.T, initialize bool) *testServer {
	t.Helper()
	dir := t.TempDir()
	ts := &testServer{dict: filepath.Join(dir, "dict"), model: filepath.Join(dir, "sample.vvm")}
	if err := sample.WriteDictionary(ts.dict); err != nil {
		t.Fatal(err)
	}
	if err := sample.WriteModel(ts.model, sample.DefaultModel()); err != nil {
		t.Fatal(err)
	}
	ts.engine = engine.New(engine.Options{Runtime: ort.Options{Probe: func() (ort.SupportedDevices, error) {
		return ort.SupportedDevices{CPU: true}, nil
	}}})
	t.Cleanup(func() { ts.engine.Close() })
	ts.handler = New(Options{Engine: ts.engine, Upspeak: true, Mode: "test"}).Handler()

	if initialize {
		ctx := context.Background()
		if err := ts.engine.Initialize(ctx, engine.InitOptions{DictDir: ts.dict}); err != nil {
			t.Fatal(err)
		}
		if _, err := ts.engine.LoadModel(ctx, ts.model); err != nil {
			t.Fatal(err)
		}
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func errorInfo(t *testing.T, w *httptest.ResponseRecorder) result.Info {
	t.Helper()
	var info result.Info
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("error body is not JSON: %s", w.Body.String())
	}
	return info
}

func TestStatusEndpointsBeforeInitialize(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodGet, "/speakers", "")
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Errorf("/speakers = %d %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/is_gpu_mode", "")
	if w.Code != http.StatusOK || w.Body.String() != "false" {
		t.Errorf("/is_gpu_mode = %d %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/version", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), engine.Version) {
		t.Errorf("/version = %d %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/audio_query?text=a&speaker=0", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("audio_query before initialize: %d", w.Code)
	}
	if info := errorInfo(t, w); info.Kind != "EngineNotInitialized" || info.Code != 1 {
		t.Errorf("error body = %+v", info)
	}
}

func TestInitializeAndLoad(t *testing.T) {
	ts := newTestServer(t, false)

	body, _ := json.Marshal(map[string]any{"dict_dir": ts.dict, "acceleration_mode": "cpu", "cpu_num_threads": 1})
	if w := ts.do(t, http.MethodPost, "/initialize", string(body)); w.Code != http.StatusNoContent {
		t.Fatalf("/initialize = %d %s", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodPost, "/initialize", `{"dict_dir":"x","acceleration_mode":"warp"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad mode = %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/initialize", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing dict_dir = %d", w.Code)
	}

	body, _ = json.Marshal(map[string]string{"path": ts.model})
	w := ts.do(t, http.MethodPost, "/models", string(body))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"styles":[0,1]`) {
		t.Fatalf("/models POST = %d %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodPost, "/models", `{"path":"/no/such.vvm"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing model = %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/engine/state", "")
	if !strings.Contains(w.Body.String(), `"state":"ModelLoaded"`) {
		t.Errorf("/engine/state = %s", w.Body.String())
	}

	if w := ts.do(t, http.MethodDelete, "/models?speaker=1", ""); w.Code != http.StatusNoContent {
		t.Errorf("unload by speaker = %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/speakers", ""); w.Body.String() != "[]" {
		t.Errorf("speakers after unload = %s", w.Body.String())
	}
	if w := ts.do(t, http.MethodPost, "/finalize", ""); w.Code != http.StatusNoContent {
		t.Errorf("/finalize = %d", w.Code)
	}
}

func TestQueryAndSynthesis(t *testing.T) {
	ts := newTestServer(t, true)
	text := url.QueryEscape("こんにちは")

	w := ts.do(t, http.MethodPost, "/audio_query?speaker=0&text="+text, "")
	if w.Code != http.StatusOK {
		t.Fatalf("/audio_query = %d %s", w.Code, w.Body.String())
	}
	doc := w.Body.String()
	q, err := query.Unmarshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.AccentPhrases) != 1 {
		t.Errorf("phrases = %d", len(q.AccentPhrases))
	}

	synth := ts.do(t, http.MethodPost, "/synthesis?speaker=0", doc)
	if synth.Code != http.StatusOK || synth.Header().Get("Content-Type") != "audio/wav" {
		t.Fatalf("/synthesis = %d %s", synth.Code, synth.Header().Get("Content-Type"))
	}
	tts := ts.do(t, http.MethodPost, "/tts?speaker=0&text="+text, "")
	if tts.Code != http.StatusOK {
		t.Fatalf("/tts = %d", tts.Code)
	}
	if !bytes.Equal(synth.Body.Bytes(), tts.Body.Bytes()) {
		t.Error("/tts differs from /synthesis of /audio_query")
	}
	if !bytes.HasPrefix(tts.Body.Bytes(), []byte("RIFF")) {
		t.Error("/tts did not return WAV")
	}

	kana := url.QueryEscape("コンニチワ'")
	w = ts.do(t, http.MethodPost, "/audio_query_from_kana?speaker=1&kana="+kana, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"kana":"コンニチワ'"`) {
		t.Errorf("/audio_query_from_kana = %d %s", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodPost, "/tts?is_kana=true&speaker=1&text="+kana, ""); w.Code != http.StatusOK {
		t.Errorf("/tts kana = %d", w.Code)
	}
}

func TestAccentPhraseEditing(t *testing.T) {
	ts := newTestServer(t, true)
	w := ts.do(t, http.MethodPost, "/accent_phrases?speaker=0&text="+url.QueryEscape("今日はいい天気"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("/accent_phrases = %d %s", w.Code, w.Body.String())
	}
	original := w.Body.String()
	phrases, err := query.UnmarshalAccentPhrases(original)
	if err != nil {
		t.Fatal(err)
	}
	phrases[0].Moras[0].Pitch = 1
	edited, _ := query.MarshalAccentPhrases(phrases)

	for _, route := range []string{"/mora_data", "/mora_pitch"} {
		w = ts.do(t, http.MethodPost, route+"?speaker=0", edited)
		if w.Code != http.StatusOK {
			t.Fatalf("%s = %d %s", route, w.Code, w.Body.String())
		}
		got, _ := query.UnmarshalAccentPhrases(w.Body.String())
		if got[0].Moras[0].Pitch == 1 {
			t.Errorf("%s should recompute pitch", route)
		}
	}
	w = ts.do(t, http.MethodPost, "/mora_length?speaker=0", edited)
	got, _ := query.UnmarshalAccentPhrases(w.Body.String())
	if w.Code != http.StatusOK || got[0].Moras[0].Pitch != 1 {
		t.Errorf("/mora_length should keep pitch edits: %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/mora_data?speaker=0", "not json"); w.Code != http.StatusBadRequest {
		t.Errorf("bad body = %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, true)
	cases := []struct {
		name   string
		method string
		target string
		body   string
		status int
		kind   string
	}{
		{"unknown style", http.MethodPost, "/audio_query?speaker=9&text=a", "", http.StatusNotFound, "UnknownStyle"},
		{"missing speaker", http.MethodPost, "/audio_query?text=a", "", http.StatusBadRequest, "InvalidArgument"},
		{"bad speaker", http.MethodPost, "/tts?speaker=-1&text=a", "", http.StatusBadRequest, "InvalidArgument"},
		{"missing text", http.MethodPost, "/tts?speaker=0", "", http.StatusBadRequest, "InvalidArgument"},
		{"malformed kana", http.MethodPost, "/audio_query_from_kana?speaker=0&kana=" + url.QueryEscape("コンニチワ"), "", http.StatusBadRequest, "MalformedKana"},
		{"analysis failure", http.MethodPost, "/audio_query?speaker=0&text=xyz", "", http.StatusBadRequest, "Dictionary"},
		{"invalid query", http.MethodPost, "/synthesis?speaker=0", `{"accent_phrases":[]}`, http.StatusUnprocessableEntity, "Synthesis"},
		{"bad json", http.MethodPost, "/synthesis?speaker=0", `{`, http.StatusUnprocessableEntity, "Synthesis"},
		{"bad upspeak", http.MethodPost, "/tts?speaker=0&text=a&enable_interrogative_upspeak=maybe", "", http.StatusBadRequest, "InvalidArgument"},
		{"no route", http.MethodGet, "/nope", "", http.StatusNotFound, "NotFound"},
	}
	for _, tc := range cases {
		w := ts.do(t, tc.method, tc.target, tc.body)
		if w.Code != tc.status {
			t.Errorf("%s: status %d, want %d (%s)", tc.name, w.Code, tc.status, w.Body.String())
			continue
		}
		if info := errorInfo(t, w); info.Kind != tc.kind {
			t.Errorf("%s: kind %s, want %s", tc.name, info.Kind, tc.kind)
		}
	}
}

func TestStatusOf(t *testing.T) {
	if got := statusOf(worker.ErrClosed); got != http.StatusServiceUnavailable {
		t.Errorf("ErrClosed -> %d", got)
	}
	if got := statusOf(errors.New("x")); got != http.StatusInternalServerError {
		t.Errorf("plain error -> %d", got)
	}
	if got := statusOf(result.New(result.KindSynthesis, result.CodeRunModel, "synthesis", "")); got != http.StatusInternalServerError {
		t.Errorf("inference failure -> %d", got)
	}
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	ts := newTestServer(t, false)
	if w := ts.do(t, http.MethodGet, "/cache/stats", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"entries":0`) {
		t.Errorf("/cache/stats = %d %s", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodDelete, "/cache", ""); w.Code != http.StatusOK {
		t.Errorf("DELETE /cache = %d", w.Code)
	}
}
