// Package query 定义合成的中间文档 AudioQuery：
// 由文本分析产生，调用方可以在合成之前修改其中的韵律参数。
package query

import (
	"fmt"
	"math"
)

// SchemaVersion 是本包序列化格式对齐的引擎版本。
const SchemaVersion = "0.16"

// 合成参数的默认值。
const (
	DefaultSpeedScale         = 1.0
	DefaultPitchScale         = 0.0
	DefaultIntonationScale    = 1.0
	DefaultVolumeScale        = 1.0
	DefaultPrePhonemeLength   = 0.1
	DefaultPostPhonemeLength  = 0.1
	DefaultPauseLengthScale   = 1.0
	DefaultOutputSamplingRate = 24000
)

// MaxDuration 是一个文档合成后允许的最长时长（秒），超过时 Validate 拒绝。
const MaxDuration = 600.0

// Mora 是一个音拍（子音 + 母音）。
type Mora struct {
	Text            string   `json:"text"`
	Consonant       *string  `json:"consonant"`
	ConsonantLength *float64 `json:"consonant_length"`
	Vowel           string   `json:"vowel"`
	VowelLength     float64  `json:"vowel_length"`
	Pitch           float64  `json:"pitch"`
}

// AccentPhrase 是一个重音短语。Accent 是重音核所在音拍的序号（从 1 开始）。
type AccentPhrase struct {
	Moras           []Mora `json:"moras"`
	Accent          int    `json:"accent"`
	PauseMora       *Mora  `json:"pause_mora"`
	IsInterrogative bool   `json:"is_interrogative"`
}

// AudioQuery 是一次发声的完整合成计划。
type AudioQuery struct {
	AccentPhrases      []AccentPhrase `json:"accent_phrases"`
	SpeedScale         float64        `json:"speedScale"`
	PitchScale         float64        `json:"pitchScale"`
	IntonationScale    float64        `json:"intonationScale"`
	VolumeScale        float64        `json:"volumeScale"`
	PrePhonemeLength   float64        `json:"prePhonemeLength"`
	PostPhonemeLength  float64        `json:"postPhonemeLength"`
	PauseLength        *float64       `json:"pauseLength"`
	PauseLengthScale   float64        `json:"pauseLengthScale"`
	OutputSamplingRate int            `json:"outputSamplingRate"`
	OutputStereo       bool           `json:"outputStereo"`
	Kana               *string        `json:"kana"`
}

// New 用默认的全局参数包装重音短语。
func New(phrases []AccentPhrase, kana string) *AudioQuery {
	if phrases == nil {
		phrases = []AccentPhrase{}
	}
	return &AudioQuery{
		AccentPhrases:      phrases,
		SpeedScale:         DefaultSpeedScale,
		PitchScale:         DefaultPitchScale,
		IntonationScale:    DefaultIntonationScale,
		VolumeScale:        DefaultVolumeScale,
		PrePhonemeLength:   DefaultPrePhonemeLength,
		PostPhonemeLength:  DefaultPostPhonemeLength,
		PauseLengthScale:   DefaultPauseLengthScale,
		OutputSamplingRate: DefaultOutputSamplingRate,
		Kana:               &kana,
	}
}

// Str 返回字符串指针，构造 Mora 时使用。
func Str(s string) *string { return &s }

// Float 返回浮点指针，构造 Mora 时使用。
func Float(f float64) *float64 { return &f }

// Moras 按顺序返回所有音拍，包括停顿音拍。
func (q *AudioQuery) Moras() []*Mora {
	return FlattenMoras(q.AccentPhrases)
}

// FlattenMoras 按顺序返回重音短语中所有音拍的指针，包括停顿音拍。
func FlattenMoras(phrases []AccentPhrase) []*Mora {
	var out []*Mora
	for i := range phrases {
		ap := &phrases[i]
		for j := range ap.Moras {
			out = append(out, &ap.Moras[j])
		}
		if ap.PauseMora != nil {
			out = append(out, ap.PauseMora)
		}
	}
	return out
}

// Validate 检查文档是否可以被合成。
func (q *AudioQuery) Validate() error {
	scales := []struct {
		name string
		v    float64
	}{
		{"speedScale", q.SpeedScale},
		{"pitchScale", q.PitchScale},
		{"intonationScale", q.IntonationScale},
		{"volumeScale", q.VolumeScale},
		{"prePhonemeLength", q.PrePhonemeLength},
		{"postPhonemeLength", q.PostPhonemeLength},
		{"pauseLengthScale", q.PauseLengthScale},
	}
	for _, s := range scales {
		if math.IsNaN(s.v) || math.IsInf(s.v, 0) {
			return fmt.Errorf("%s 不是有限数值", s.name)
		}
	}
	if q.SpeedScale <= 0 {
		return fmt.Errorf("speedScale 必须为正数: %v", q.SpeedScale)
	}
	if q.VolumeScale < 0 || q.IntonationScale < 0 || q.PauseLengthScale < 0 {
		return fmt.Errorf("volumeScale/intonationScale/pauseLengthScale 不能为负数")
	}
	if q.PrePhonemeLength < 0 || q.PostPhonemeLength < 0 {
		return fmt.Errorf("前后静音长度不能为负数")
	}
	if q.PauseLength != nil && (*q.PauseLength < 0 || math.IsNaN(*q.PauseLength) || math.IsInf(*q.PauseLength, 0)) {
		return fmt.Errorf("pauseLength 无效: %v", *q.PauseLength)
	}
	if q.OutputSamplingRate < 8000 || q.OutputSamplingRate > 192000 {
		return fmt.Errorf("outputSamplingRate 超出范围: %d", q.OutputSamplingRate)
	}
	for i, ap := range q.AccentPhrases {
		if len(ap.Moras) == 0 {
			return fmt.Errorf("accent_phrases[%d] 没有音拍", i)
		}
		if ap.Accent < 1 || ap.Accent > len(ap.Moras) {
			return fmt.Errorf("accent_phrases[%d].accent 超出范围: %d", i, ap.Accent)
		}
		for j, m := range ap.Moras {
			if err := validateMora(m); err != nil {
				return fmt.Errorf("accent_phrases[%d].moras[%d]: %w", i, j, err)
			}
		}
		if ap.PauseMora != nil {
			if err := validateMora(*ap.PauseMora); err != nil {
				return fmt.Errorf("accent_phrases[%d].pause_mora: %w", i, err)
			}
		}
	}
	if d := q.Duration(); d > MaxDuration {
		return fmt.Errorf("合成时长 %.1f 秒超过上限 %.0f 秒", d, MaxDuration)
	}
	return nil
}

// Duration 返回按当前参数合成后的时长（秒），包括前后静音和停顿。
// 停顿音拍在设置了 PauseLength 时使用它代替自身长度，再乘以 PauseLengthScale。
func (q *AudioQuery) Duration() float64 {
	total := q.PrePhonemeLength + q.PostPhonemeLength
	for _, m := range q.Moras() {
		if m.Vowel == "pau" {
			length := m.VowelLength
			if q.PauseLength != nil {
				length = *q.PauseLength
			}
			total += length * q.PauseLengthScale
			continue
		}
		if m.ConsonantLength != nil {
			total += *m.ConsonantLength
		}
		total += m.VowelLength
	}
	return total / q.SpeedScale
}

func validateMora(m Mora) error {
	if m.Vowel == "" {
		return fmt.Errorf("缺少母音")
	}
	if (m.Consonant == nil) != (m.ConsonantLength == nil) {
		return fmt.Errorf("consonant 与 consonant_length 必须同时存在")
	}
	if m.ConsonantLength != nil && !finiteNonNegative(*m.ConsonantLength) {
		return fmt.Errorf("consonant_length 无效: %v", *m.ConsonantLength)
	}
	if !finiteNonNegative(m.VowelLength) {
		return fmt.Errorf("vowel_length 无效: %v", m.VowelLength)
	}
	if m.Pitch < 0 || math.IsNaN(m.Pitch) || math.IsInf(m.Pitch, 0) {
		return fmt.Errorf("pitch 无效: %v", m.Pitch)
	}
	return nil
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}
