// Package param 是纯 Go 实现的参数式声学后端：按音素类别给出时长，
// 按东京方言重音规则给出音高，用谐波加共振峰包络合成波形。
package param

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/iabetor/pivox/internal/kana"
)

// Kind 是模型清单中该后端的名称。
const Kind = "param"

// Voice 是一个内部声音的参数。
type Voice struct {
	ID           int     `yaml:"id"`
	Name         string  `yaml:"name"`
	BasePitch    float64 `yaml:"base_pitch"`    // 对数基频，5.8 约为 330 Hz
	PitchRange   float64 `yaml:"pitch_range"`   // 重音高低差（对数）
	Declination  float64 `yaml:"declination"`   // 每个重音短语的下倾量
	LengthScale  float64 `yaml:"length_scale"`  // 时长倍率
	FormantShift float64 `yaml:"formant_shift"` // 共振峰频率倍率
	Breathiness  float64 `yaml:"breathiness"`   // 气声噪声比例
	Tilt         float64 `yaml:"tilt"`          // 谐波衰减指数
}

// Params 是 talk 参数文件的内容。
type Params struct {
	Voices    []Voice            `yaml:"voices"`
	Durations map[string]float64 `yaml:"durations"`
	Seed      uint64             `yaml:"seed"`
}

// ParseParams 解析参数文件并补齐默认值。
func ParseParams(data []byte) (*Params, error) {
	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("解析参数文件失败: %w", err)
	}
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Normalize 校验参数并补齐默认值。
func (p *Params) Normalize() error {
	if len(p.Voices) == 0 {
		return fmt.Errorf("参数文件没有声音")
	}
	seen := make(map[int]bool, len(p.Voices))
	for i := range p.Voices {
		v := &p.Voices[i]
		if seen[v.ID] {
			return fmt.Errorf("声音 id %d 重复", v.ID)
		}
		seen[v.ID] = true
		setVoiceDefaults(v)
	}
	for ph, d := range p.Durations {
		if kana.PhonemeID(ph) < 0 {
			return fmt.Errorf("未知音素 %q", ph)
		}
		if d < 0 {
			return fmt.Errorf("音素 %q 的时长为负", ph)
		}
	}
	return nil
}

func setVoiceDefaults(v *Voice) {
	if v.BasePitch == 0 {
		v.BasePitch = 5.8
	}
	if v.PitchRange == 0 {
		v.PitchRange = 0.3
	}
	if v.LengthScale == 0 {
		v.LengthScale = 1
	}
	if v.FormantShift == 0 {
		v.FormantShift = 1
	}
	if v.Tilt == 0 {
		v.Tilt = 1
	}
}

// Marshal 把参数写回 YAML，供打包工具使用。
func (p *Params) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

func (p *Params) voice(id int) (*Voice, error) {
	for i := range p.Voices {
		if p.Voices[i].ID == id {
			return &p.Voices[i], nil
		}
	}
	return nil, fmt.Errorf("未知的内部声音 %d", id)
}

// 各音素类别的基础时长（秒）。
var classDurations = map[kana.PhonemeClass]float64{
	kana.ClassSilence:           0.1,
	kana.ClassVowel:             0.1,
	kana.ClassUnvoicedVowel:     0.06,
	kana.ClassNasal:             0.06,
	kana.ClassApproximant:       0.04,
	kana.ClassVoicedStop:        0.035,
	kana.ClassUnvoicedStop:      0.045,
	kana.ClassVoicedFricative:   0.055,
	kana.ClassUnvoicedFricative: 0.07,
}

func (p *Params) duration(phoneme string) float64 {
	if d, ok := p.Durations[phoneme]; ok {
		return d
	}
	switch phoneme {
	case "N":
		return 0.08
	case "cl":
		return 0.07
	}
	return classDurations[kana.Classify(phoneme)]
}
