package param

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/iabetor/pivox/internal/kana"
	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/ort"
)

var errClosed = errors.New("param: session closed")

func init() {
	ort.Register(Kind, Open)
}

type session struct {
	*Prosody
	params  *Params
	threads int
	closed  atomic.Bool
}

// Open 从模型文件创建会话。参数式后端只在 CPU 上运行。
func Open(files ort.ModelFiles, opts ort.SessionOptions) (ort.Session, error) {
	if opts.Device != ort.DeviceCPU {
		return nil, fmt.Errorf("param 后端不支持设备 %s", opts.Device)
	}
	p, err := ParseParams(files.Params)
	if err != nil {
		return nil, err
	}
	threads := opts.NumThreads
	if threads <= 0 {
		threads = 1
	}
	logger.Debugf("[param] 会话已创建: voices=%d threads=%d", len(p.Voices), threads)
	return &session{Prosody: NewProsody(p), params: p, threads: threads}, nil
}

func (s *session) SampleRate() int { return ort.DecodeSampleRate }

func (s *session) Close() error {
	s.closed.Store(true)
	return nil
}

func phonemeName(id int64) (string, error) {
	if id < 0 || int(id) >= len(kana.Phonemes) {
		return "", fmt.Errorf("音素 id %d 超出范围", id)
	}
	return kana.Phonemes[id], nil
}

func (s *session) PredictDuration(phonemes []int64, voice int) ([]float32, error) {
	if s.closed.Load() {
		return nil, errClosed
	}
	return s.Prosody.PredictDuration(phonemes, voice)
}

func (s *session) PredictIntonation(in ort.IntonationInput, voice int) ([]float32, error) {
	if s.closed.Load() {
		return nil, errClosed
	}
	return s.Prosody.PredictIntonation(in, voice)
}

// Prosody 给出音素时长和音拍音高，不依赖声码器，其他后端也可复用。
type Prosody struct {
	params *Params
}

// NewProsody 用参数创建韵律预测器。
func NewProsody(p *Params) *Prosody { return &Prosody{params: p} }

// PredictDuration 返回每个音素的时长（秒）。
func (p *Prosody) PredictDuration(phonemes []int64, voice int) ([]float32, error) {
	v, err := p.params.voice(voice)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(phonemes))
	for i, id := range phonemes {
		ph, err := phonemeName(id)
		if err != nil {
			return nil, err
		}
		out[i] = float32(p.params.duration(ph) * v.LengthScale)
	}
	return out, nil
}

// PredictIntonation 按东京方言规则给出音高：短语首拍低，第二拍起升高，
// 重音核之后下降；每个短语整体随 Declination 下倾。无声音拍为 0。
func (p *Prosody) PredictIntonation(in ort.IntonationInput, voice int) ([]float32, error) {
	v, err := p.params.voice(voice)
	if err != nil {
		return nil, err
	}
	n := len(in.Vowels)
	for _, l := range [][]int64{in.Consonants, in.StartAccent, in.EndAccent, in.StartPhrase, in.EndPhrase} {
		if len(l) != n {
			return nil, fmt.Errorf("音高输入长度不一致: %d != %d", len(l), n)
		}
	}

	out := make([]float32, n)
	high, dropped := false, false
	phrase := -1
	for i := 0; i < n; i++ {
		if in.StartPhrase[i] == 1 {
			high, dropped = false, false
			phrase++
		}
		if in.StartAccent[i] == 1 && !dropped {
			high = true
		}
		vowel, err := phonemeName(in.Vowels[i])
		if err != nil {
			return nil, err
		}
		if kana.IsVoiced(vowel) {
			level := -0.5
			if high {
				level = 0.5
			}
			decl := 0.0
			if phrase > 0 {
				decl = v.Declination * float64(phrase)
			}
			out[i] = float32(v.BasePitch + v.PitchRange*level - decl)
		}
		if in.EndAccent[i] == 1 {
			high, dropped = false, true
		}
	}
	return out, nil
}
