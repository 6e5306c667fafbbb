package param

import (
	"fmt"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/iabetor/pivox/internal/kana"
	"github.com/iabetor/pivox/internal/ort"
)

const (
	hop          = ort.HopSize
	frameSize    = 2 * hop
	blockSize    = 32
	maxHarmonics = 40
	outputGain   = 0.3
)

// window 是周期 Hann 窗，按 hop 重叠相加时总和为 1。
var window = func() []float64 {
	w := make([]float64, frameSize)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/frameSize)
	}
	return w
}()

type formant struct {
	freq, bw, gain float64
}

var vowelFormants = map[string][3]formant{
	"a": {{800, 80, 1}, {1200, 90, 0.5}, {2500, 120, 0.25}},
	"i": {{300, 60, 1}, {2300, 100, 0.4}, {3000, 120, 0.25}},
	"u": {{350, 60, 1}, {1300, 90, 0.35}, {2400, 120, 0.2}},
	"e": {{500, 70, 1}, {1900, 100, 0.45}, {2500, 120, 0.25}},
	"o": {{500, 70, 1}, {800, 80, 0.6}, {2500, 120, 0.2}},
	"N": {{250, 60, 1}, {1000, 150, 0.15}, {2200, 150, 0.1}},
}

func formantsFor(ph string) [3]formant {
	if f, ok := vowelFormants[ph]; ok {
		return f
	}
	switch kana.Classify(ph) {
	case kana.ClassNasal:
		return vowelFormants["N"]
	case kana.ClassApproximant:
		return vowelFormants["u"]
	}
	return vowelFormants["e"]
}

// excitation 返回各音素类别的谐波与噪声比例。
func excitation(c kana.PhonemeClass) (harm, noise float64) {
	switch c {
	case kana.ClassVowel:
		return 1, 0
	case kana.ClassNasal:
		return 0.6, 0
	case kana.ClassApproximant:
		return 0.7, 0.05
	case kana.ClassVoicedStop:
		return 0.4, 0.15
	case kana.ClassVoicedFricative:
		return 0.35, 0.25
	case kana.ClassUnvoicedStop:
		return 0, 0.3
	case kana.ClassUnvoicedFricative:
		return 0, 0.25
	case kana.ClassUnvoicedVowel:
		return 0, 0.08
	}
	return 0, 0
}

func envelope(freq float64, fs [3]formant, shift float64) float64 {
	var a float64
	for _, f := range fs {
		d := (freq - f.freq*shift) / f.bw
		a += f.gain / (1 + d*d)
	}
	return a
}

// Decode 逐帧合成并重叠相加。帧按块并行渲染，结果与线程数无关。
func (s *session) Decode(in ort.DecodeInput, voice int) ([]float32, error) {
	if s.closed.Load() {
		return nil, errClosed
	}
	v, err := s.params.voice(voice)
	if err != nil {
		return nil, err
	}
	if len(in.F0) != len(in.Phonemes) {
		return nil, fmt.Errorf("帧数不一致: f0=%d phoneme=%d", len(in.F0), len(in.Phonemes))
	}
	n := len(in.F0)
	for _, id := range in.Phonemes {
		if _, err := phonemeName(id); err != nil {
			return nil, err
		}
	}

	segs := make([][]float32, n)
	var g errgroup.Group
	g.SetLimit(s.threads)
	for start := 0; start < n; start += blockSize {
		end := min(start+blockSize, n)
		g.Go(func() error {
			for f := start; f < end; f++ {
				segs[f] = s.renderFrame(f, float64(in.F0[f]), kana.Phonemes[in.Phonemes[f]], v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]float32, n*hop)
	for f, seg := range segs {
		base := f*hop - hop/2
		for j, x := range seg {
			if k := base + j; k >= 0 && k < len(out) {
				out[k] += x
			}
		}
	}
	return out, nil
}

func (s *session) renderFrame(f int, logF0 float64, ph string, v *Voice) []float32 {
	seg := make([]float32, frameSize)
	class := kana.Classify(ph)
	harm, noise := excitation(class)
	if harm == 0 && noise == 0 {
		return seg
	}
	voiced := logF0 > 0 && harm > 0
	if !voiced {
		harm = 0
		if noise == 0 {
			noise = 0.05
		}
	}
	if voiced {
		noise += v.Breathiness
	}

	var hz float64
	var amps []float64
	if voiced {
		hz = math.Exp(logF0)
		fs := formantsFor(ph)
		var sum float64
		for k := 1; k <= maxHarmonics && float64(k)*hz < ort.DecodeSampleRate/2; k++ {
			a := envelope(float64(k)*hz, fs, v.FormantShift) / math.Pow(float64(k), v.Tilt)
			amps = append(amps, a)
			sum += a
		}
		if sum > 0 {
			for i := range amps {
				amps[i] /= sum
			}
		}
	}

	rng := rand.New(rand.NewPCG(s.params.Seed, uint64(f)))
	fricative := class == kana.ClassUnvoicedFricative || class == kana.ClassVoicedFricative
	base := f*hop - hop/2
	var prev float64
	for j := range seg {
		var x float64
		if voiced {
			t := float64(base+j) / ort.DecodeSampleRate
			for k, a := range amps {
				x += a * math.Sin(2*math.Pi*float64(k+1)*hz*t)
			}
			x *= harm
		}
		if noise > 0 {
			r := rng.Float64()*2 - 1
			if fricative {
				r, prev = (r-prev)/2, r
			}
			x += noise * r
		}
		seg[j] = float32(outputGain * x * window[j])
	}
	return seg
}
