// Package sample 生成演示用的词典和声音模型，供 `pivox init` 和测试使用。
package sample

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/iabetor/pivox/internal/analyzer"
	"github.com/iabetor/pivox/internal/backend/param"
	"github.com/iabetor/pivox/internal/vvm"
)

// Lexicon 是演示词表。
const Lexicon = `# surface,pos,reading,accent
こんにちは,感動詞,コンニチワ,0
こんばんは,感動詞,コンバンワ,0
ありがとう,感動詞,アリガトー,2
世界,名詞,セカイ,1
今日,名詞,キョー,1
明日,名詞,アシタ,3
天気,名詞,テンキ,1
音声,名詞,オンセー,0
合成,名詞,ゴーセー,0
声,名詞,コエ,1
雨,名詞,アメ,1
元気,形容動詞,ゲンキ,1
いい,形容詞,イイ,1
は,助詞,ワ,0
が,助詞,ガ,0
を,助詞,オ,0
の,助詞,ノ,0
に,助詞,ニ,0
か,助詞,カ,0
ね,助詞,ネ,0
です,助動詞,デス,1
ます,助動詞,マス,1
さん,接尾辞,サン,0
`

// WriteDictionary 在 dir 下写入演示词典。
func WriteDictionary(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建词典目录失败: %w", err)
	}
	manifest, err := yaml.Marshal(analyzer.Manifest{
		Format:  analyzer.Format,
		Version: analyzer.FormatVersion,
		Name:    "pivox-sample",
		Lexicon: "lexicon.csv",
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, analyzer.ManifestFile), manifest, 0o644); err != nil {
		return fmt.Errorf("写入词典清单失败: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lexicon.csv"), []byte(Lexicon), 0o644); err != nil {
		return fmt.Errorf("写入词表失败: %w", err)
	}
	return nil
}

// Model 描述要生成的演示模型。
type Model struct {
	ID          uuid.UUID
	SpeakerUUID uuid.UUID
	Speaker     string
	// Styles 是风格 id，第 i 个风格使用第 i 个内部声音。
	Styles []uint32
}

// DefaultModel 返回带两个风格（0 和 1）的演示模型。
func DefaultModel() Model {
	return Model{
		ID:          uuid.MustParse("5b3e8f6a-2c41-4d7e-9a10-6f1c2d3b4a50"),
		SpeakerUUID: uuid.MustParse("0b5c7e2a-9d43-4f1b-8e6a-3c2d1f0e9a87"),
		Speaker:     "ピボックス",
		Styles:      []uint32{0, 1},
	}
}

var styleNames = []string{"ノーマル", "あまあま", "ツンツン", "セクシー", "ささやき", "ヒソヒソ"}

// WriteModel 把演示模型写到 path。
func WriteModel(path string, m Model) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.SpeakerUUID == uuid.Nil {
		m.SpeakerUUID = uuid.New()
	}
	if m.Speaker == "" {
		m.Speaker = "ピボックス"
	}
	if len(m.Styles) == 0 {
		return fmt.Errorf("模型至少需要一个风格")
	}

	params := param.Params{Seed: 1}
	styles := make([]vvm.Style, len(m.Styles))
	inner := make(map[uint32]int, len(m.Styles))
	for i, id := range m.Styles {
		order := i
		styles[i] = vvm.Style{Name: styleNames[i%len(styleNames)], ID: id, Type: "talk", Order: &order}
		inner[id] = i
		params.Voices = append(params.Voices, param.Voice{
			ID:           i,
			Name:         styles[i].Name,
			BasePitch:    5.7 + 0.1*float64(i%4),
			PitchRange:   0.3,
			Declination:  0.04,
			LengthScale:  1,
			FormantShift: 1 + 0.05*float64(i%3),
			Breathiness:  0.02 * float64(i%2),
			Tilt:         1,
		})
	}
	data, err := params.Marshal()
	if err != nil {
		return fmt.Errorf("编码模型参数失败: %w", err)
	}

	return vvm.Write(path, vvm.Spec{
		ID:   m.ID,
		Kind: param.Kind,
		Metas: []vvm.SpeakerMeta{{
			Name:        m.Speaker,
			Styles:      styles,
			Version:     "0.1.0",
			SpeakerUUID: m.SpeakerUUID.String(),
		}},
		Params:      data,
		InnerVoices: inner,
	})
}
