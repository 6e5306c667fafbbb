package param

import (
	"math"
	"testing"

	"github.com/iabetor/pivox/internal/kana"
	"github.com/iabetor/pivox/internal/ort"
)

const testParams = `
seed: 7
voices:
  - id: 0
    name: normal
    base_pitch: 5.8
    pitch_range: 0.4
    declination: 0.05
  - id: 1
    name: slow
    length_scale: 1.5
durations:
  a: 0.12
`

func openSession(t *testing.T, threads int) ort.Session {
	t.Helper()
	s, err := Open(ort.ModelFiles{Params: []byte(testParams)}, ort.SessionOptions{NumThreads: threads})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ids(names ...string) []int64 {
	out := make([]int64, len(names))
	for i, n := range names {
		out[i] = int64(kana.PhonemeID(n))
	}
	return out
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams([]byte(testParams))
	if err != nil {
		t.Fatalf("ParseParams error: %v", err)
	}
	slow, err := p.voice(1)
	if err != nil {
		t.Fatal(err)
	}
	if slow.BasePitch != 5.8 || slow.FormantShift != 1 || slow.Tilt != 1 {
		t.Errorf("defaults not applied: %+v", slow)
	}
	if _, err := p.voice(9); err == nil {
		t.Error("expected error for unknown voice")
	}

	bad := []string{
		"voices: []",
		"voices:\n  - id: 0\n  - id: 0\n",
		"voices:\n  - id: 0\ndurations:\n  zz: 0.1\n",
		"voices:\n  - id: 0\ndurations:\n  a: -1\n",
		"voices: [",
	}
	for _, in := range bad {
		if _, err := ParseParams([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestOpenRejectsGPU(t *testing.T) {
	_, err := Open(ort.ModelFiles{Params: []byte(testParams)}, ort.SessionOptions{Device: ort.DeviceCUDA})
	if err == nil {
		t.Error("param backend should reject GPU devices")
	}
}

func TestPredictDuration(t *testing.T) {
	s := openSession(t, 1)
	d, err := s.PredictDuration(ids("k", "a", "N"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(d[1])-0.12) > 1e-6 {
		t.Errorf("override duration = %v, want 0.12", d[1])
	}
	if d[0] <= 0 || d[2] <= 0 {
		t.Errorf("durations must be positive: %v", d)
	}
	slow, _ := s.PredictDuration(ids("a"), 1)
	if math.Abs(float64(slow[0])-0.18) > 1e-6 {
		t.Errorf("length_scale not applied: %v", slow[0])
	}
	if _, err := s.PredictDuration([]int64{99}, 0); err == nil {
		t.Error("expected error for out-of-range phoneme")
	}
}

func TestPredictIntonation(t *testing.T) {
	s := openSession(t, 1)
	// ア'メ (accent 1) / ア メ ガ (heiban), then an unvoiced mora.
	in := ort.IntonationInput{
		Vowels:      ids("a", "e", "a", "e", "a", "U"),
		Consonants:  []int64{-1, int64(kana.PhonemeID("m")), -1, int64(kana.PhonemeID("m")), int64(kana.PhonemeID("g")), int64(kana.PhonemeID("s"))},
		StartAccent: []int64{1, 0, 0, 1, 0, 0},
		EndAccent:   []int64{1, 0, 0, 0, 0, 1},
		StartPhrase: []int64{1, 0, 1, 0, 0, 0},
		EndPhrase:   []int64{0, 1, 0, 0, 0, 1},
	}
	f0, err := s.PredictIntonation(in, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !(f0[0] > f0[1]) {
		t.Errorf("atamadaka should fall after the first mora: %v", f0[:2])
	}
	if !(f0[3] > f0[2] && f0[4] == f0[3]) {
		t.Errorf("heiban should rise after the first mora and stay: %v", f0[2:5])
	}
	if f0[5] != 0 {
		t.Errorf("unvoiced mora pitch = %v, want 0", f0[5])
	}
	if !(f0[2] < f0[1]+1e-6) {
		t.Errorf("declination should lower later phrases: %v", f0)
	}

	in.EndPhrase = in.EndPhrase[:2]
	if _, err := s.PredictIntonation(in, 0); err == nil {
		t.Error("expected error for mismatched lengths")
	}
}

func decodeInput() ort.DecodeInput {
	var in ort.DecodeInput
	add := func(ph string, f0 float32, frames int) {
		for i := 0; i < frames; i++ {
			in.F0 = append(in.F0, f0)
			in.Phonemes = append(in.Phonemes, int64(kana.PhonemeID(ph)))
		}
	}
	add("pau", 0, 10)
	add("k", 0, 4)
	add("o", 5.8, 12)
	add("N", 5.9, 8)
	add("sh", 0, 6)
	add("I", 0, 5)
	add("pau", 0, 10)
	return in
}

func TestDecode(t *testing.T) {
	s := openSession(t, 2)
	in := decodeInput()
	wave, err := s.Decode(in, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(wave) != len(in.F0)*ort.HopSize {
		t.Fatalf("len = %d, want %d", len(wave), len(in.F0)*ort.HopSize)
	}
	for i := 0; i < 9*ort.HopSize; i++ {
		if wave[i] != 0 {
			t.Fatalf("leading silence has signal at %d", i)
		}
	}
	var peak float64
	for _, x := range wave {
		if a := math.Abs(float64(x)); a > peak {
			peak = a
		}
	}
	if peak == 0 || peak > 1 {
		t.Errorf("peak = %v, want (0, 1]", peak)
	}
	if s.SampleRate() != ort.DecodeSampleRate {
		t.Errorf("SampleRate = %d", s.SampleRate())
	}
}

func TestDecodeDeterministicAcrossThreads(t *testing.T) {
	in := decodeInput()
	a, err := openSession(t, 1).Decode(in, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := openSession(t, 8).Decode(in, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs: %v != %v", i, a[i], b[i])
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	s := openSession(t, 1)
	if _, err := s.Decode(ort.DecodeInput{F0: []float32{0}}, 0); err == nil {
		t.Error("expected error for mismatched frame counts")
	}
	if _, err := s.Decode(decodeInput(), 5); err == nil {
		t.Error("expected error for unknown voice")
	}
	s.Close()
	if _, err := s.Decode(decodeInput(), 0); err == nil {
		t.Error("expected error after Close")
	}
}
