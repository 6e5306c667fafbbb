package synthesizer

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/iabetor/pivox/internal/audio"
	"github.com/iabetor/pivox/internal/kana"
	"github.com/iabetor/pivox/internal/ort"
	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
)

// 疑问句上扬追加音拍的参数。
const (
	upspeakVowelLength = 0.15
	upspeakPitchDelta  = 0.3
	upspeakMaxPitch    = 6.5
)

var errSessionClosed = errors.New("model session closed")

func errLength(got, want int) error {
	return fmt.Errorf("输出长度 %d 与输入 %d 不一致", got, want)
}

// ApplyUpspeak 为疑问短语追加一个重复末尾母音的上扬音拍。
// 末尾音拍无声（音高为 0）或为拨音、促音时不追加。
func ApplyUpspeak(phrases []query.AccentPhrase) []query.AccentPhrase {
	for i := range phrases {
		ap := &phrases[i]
		if !ap.IsInterrogative || len(ap.Moras) == 0 {
			continue
		}
		last := ap.Moras[len(ap.Moras)-1]
		if last.Pitch == 0 || last.Vowel == "N" || isSilentVowel(last.Vowel) {
			continue
		}
		ap.Moras = append(ap.Moras, query.Mora{
			Text:        kana.VowelText(last.Vowel),
			Vowel:       last.Vowel,
			VowelLength: upspeakVowelLength,
			Pitch:       math.Min(last.Pitch+upspeakPitchDelta, upspeakMaxPitch),
		})
	}
	return phrases
}

// Synthesis 把 AudioQuery 渲染为 16-bit PCM WAV。文档本身不会被修改。
func (s *Synthesizer) Synthesis(q *query.AudioQuery, style uint32, upspeak bool) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synthesis(q, style, upspeak)
}

// TTS 等价于 AudioQuery 后紧接 Synthesis。
func (s *Synthesizer) TTS(text string, style uint32, upspeak bool) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	phrases, err := s.createAccentPhrases(text, style)
	if err != nil {
		return nil, err
	}
	return s.synthesis(query.New(phrases, kana.Create(phrases)), style, upspeak)
}

// TTSFromKana 等价于 AudioQueryFromKana 后紧接 Synthesis。
func (s *Synthesizer) TTSFromKana(kanaText string, style uint32, upspeak bool) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	phrases, err := s.createAccentPhrasesFromKana(kanaText, style)
	if err != nil {
		return nil, err
	}
	return s.synthesis(query.New(phrases, kanaText), style, upspeak)
}

func (s *Synthesizer) synthesis(q *query.AudioQuery, style uint32, upspeak bool) ([]byte, error) {
	const op = "synthesis"
	m, inner, err := s.lookupStyle(op, style)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, result.New(result.KindSynthesis, result.CodeInvalidAudioQuery, op, "audio query is nil")
	}
	if err := q.Validate(); err != nil {
		return nil, result.Wrap(result.KindSynthesis, result.CodeInvalidAudioQuery, op, err, "invalid audio query")
	}

	phrases := query.CloneAccentPhrases(q.AccentPhrases)
	if upspeak {
		phrases = ApplyUpspeak(phrases)
	}
	in, err := buildDecodeInput(q, phrases)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	var wave []float32
	rate := ort.DecodeSampleRate
	textDriven := false
	if m.session == nil {
		err = errSessionClosed
	} else {
		wave, err = m.session.Decode(in, inner)
		rate = m.session.SampleRate()
		if td, ok := m.session.(ort.TextDriven); ok {
			textDriven = td.TextDriven()
		}
	}
	m.mu.Unlock()
	if err != nil {
		return nil, runErr(op, err)
	}

	if textDriven {
		wave = padSilence(wave, rate, q.PrePhonemeLength/q.SpeedScale, q.PostPhonemeLength/q.SpeedScale)
	}
	audio.Scale(wave, q.VolumeScale)
	wave = audio.Resample(wave, rate, q.OutputSamplingRate)
	channels := 1
	if q.OutputStereo {
		channels = 2
	}
	wav, err := audio.EncodeWAV(audio.Interleave(wave, channels), audio.Format{SampleRate: q.OutputSamplingRate, Channels: channels})
	if err != nil {
		return nil, result.Wrap(result.KindSynthesis, result.CodeRunModel, op, err, "编码 WAV 失败")
	}
	return wav, nil
}

// buildDecodeInput 展开逐帧特征：pau、各音拍的子音和母音、停顿、pau。
// 音高先按 pitchScale 缩放，再以有声音拍的均值为中心按 intonationScale 伸缩；
// 时长除以 speedScale 后按帧率取整。
func buildDecodeInput(q *query.AudioQuery, phrases []query.AccentPhrase) (ort.DecodeInput, error) {
	moras := query.FlattenMoras(phrases)

	pitches := make([]float64, len(moras))
	var sum float64
	var voiced int
	for i, mo := range moras {
		pitches[i] = mo.Pitch * math.Pow(2, q.PitchScale)
		if pitches[i] > 0 {
			sum += pitches[i]
			voiced++
		}
	}
	if voiced > 0 {
		mean := sum / float64(voiced)
		for i, p := range pitches {
			if p > 0 {
				pitches[i] = (p-mean)*q.IntonationScale + mean
			}
		}
	}

	var in ort.DecodeInput
	appendFrames := func(phoneme string, seconds, f0 float64) error {
		id := kana.PhonemeID(phoneme)
		if id < 0 {
			return result.Newf(result.KindSynthesis, result.CodeInvalidAudioQuery, "synthesis", "unknown phoneme %q", phoneme)
		}
		n := int(math.Round(seconds / q.SpeedScale * ort.FrameRate))
		for i := 0; i < n; i++ {
			in.F0 = append(in.F0, float32(f0))
			in.Phonemes = append(in.Phonemes, int64(id))
		}
		return nil
	}

	if err := appendFrames("pau", q.PrePhonemeLength, 0); err != nil {
		return in, err
	}
	for i, mo := range moras {
		if mo.Vowel == "pau" {
			length := mo.VowelLength
			if q.PauseLength != nil {
				length = *q.PauseLength
			}
			if err := appendFrames("pau", length*q.PauseLengthScale, 0); err != nil {
				return in, err
			}
			continue
		}
		if mo.Consonant != nil {
			if err := appendFrames(*mo.Consonant, *mo.ConsonantLength, pitches[i]); err != nil {
				return in, err
			}
		}
		if err := appendFrames(mo.Vowel, mo.VowelLength, pitches[i]); err != nil {
			return in, err
		}
	}
	if err := appendFrames("pau", q.PostPhonemeLength, 0); err != nil {
		return in, err
	}

	in.Text = readingText(phrases)
	in.Speed = float32(q.SpeedScale)
	return in, nil
}

// readingText 把重音短语还原为片假名读音，供文本驱动的解码器使用。
func readingText(phrases []query.AccentPhrase) string {
	var b strings.Builder
	for _, ap := range phrases {
		for _, mo := range ap.Moras {
			b.WriteString(mo.Text)
		}
		if ap.IsInterrogative {
			b.WriteRune(kana.InterrogationMark)
		}
		if ap.PauseMora != nil {
			b.WriteRune(kana.PauseDelimiter)
		}
	}
	return b.String()
}

func padSilence(wave []float32, rate int, pre, post float64) []float32 {
	head := int(math.Round(pre * float64(rate)))
	tail := int(math.Round(post * float64(rate)))
	out := make([]float32, head+len(wave)+tail)
	copy(out[head:], wave)
	return out
}
