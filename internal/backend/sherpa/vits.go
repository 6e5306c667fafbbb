// Package sherpa 用 sherpa-onnx 的 VITS 模型作为声码器后端。
//
// VITS 模型以文本驱动，只使用查询中的读音和语速；逐帧音高和音拍时长的
// 编辑不会影响输出。时长和音高预测沿用参数式后端的韵律规则。
package sherpa

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
	"gopkg.in/yaml.v3"

	"github.com/iabetor/pivox/internal/backend/param"
	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/ort"
)

// Kind 是模型清单中该后端的名称。
const Kind = "sherpa-vits"

func init() {
	ort.Register(Kind, Open)
}

// Config 是 VITS 模型的参数文件。文件名指向模型容器中的附属文件。
type Config struct {
	Model       string        `yaml:"model"`
	Tokens      string        `yaml:"tokens"`
	Lexicon     string        `yaml:"lexicon"`
	DataDir     string        `yaml:"data_dir"`
	NoiseScale  float32       `yaml:"noise_scale"`
	NoiseScaleW float32       `yaml:"noise_scale_w"`
	LengthScale float32       `yaml:"length_scale"`
	Prosody     *param.Params `yaml:"prosody"`
}

// ParseConfig 解析参数文件并补齐默认值。
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("解析 VITS 参数失败: %w", err)
	}
	if c.Model == "" || c.Tokens == "" {
		return nil, fmt.Errorf("VITS 参数缺少 model 或 tokens")
	}
	if c.NoiseScale == 0 {
		c.NoiseScale = 0.667
	}
	if c.NoiseScaleW == 0 {
		c.NoiseScaleW = 0.8
	}
	if c.LengthScale == 0 {
		c.LengthScale = 1
	}
	if c.Prosody == nil {
		c.Prosody = &param.Params{Voices: []param.Voice{{ID: 0}}}
	}
	if err := c.Prosody.Normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

type session struct {
	*param.Prosody
	tts     *sherpa.OfflineTts
	dir     string
	mu      sync.Mutex
	closeMu sync.Once
}

// Open 把模型文件解到临时目录并创建 sherpa-onnx 离线 TTS。
func Open(files ort.ModelFiles, opts ort.SessionOptions) (ort.Session, error) {
	cfg, err := ParseConfig(files.Params)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{cfg.Model, cfg.Tokens, cfg.Lexicon} {
		if _, ok := files.Files[name]; name != "" && !ok {
			return nil, fmt.Errorf("模型容器缺少文件 %s", name)
		}
	}

	dir, err := os.MkdirTemp("", "pivox-vits-*")
	if err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	if err := extract(dir, files.Files); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	provider := "cpu"
	if opts.Device == ort.DeviceCUDA {
		provider = "cuda"
	} else if opts.Device == ort.DeviceDML {
		provider = "directml"
	}

	config := sherpa.OfflineTtsConfig{}
	config.Model.Vits.Model = filepath.Join(dir, cfg.Model)
	config.Model.Vits.Tokens = filepath.Join(dir, cfg.Tokens)
	if cfg.Lexicon != "" {
		config.Model.Vits.Lexicon = filepath.Join(dir, cfg.Lexicon)
	}
	if cfg.DataDir != "" {
		config.Model.Vits.DataDir = filepath.Join(dir, cfg.DataDir)
	}
	config.Model.Vits.NoiseScale = cfg.NoiseScale
	config.Model.Vits.NoiseScaleW = cfg.NoiseScaleW
	config.Model.Vits.LengthScale = cfg.LengthScale
	config.Model.NumThreads = opts.NumThreads
	config.Model.Provider = provider
	config.MaxNumSentences = 1

	tts := sherpa.NewOfflineTts(&config)
	if tts == nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("创建 VITS 模型失败: %s", cfg.Model)
	}

	logger.Infof("[sherpa] VITS 模型已加载: model=%s provider=%s threads=%d speakers=%d",
		cfg.Model, provider, opts.NumThreads, tts.NumSpeakers())

	return &session{Prosody: param.NewProsody(cfg.Prosody), tts: tts, dir: dir}, nil
}

func extract(dir string, files map[string][]byte) error {
	for name, data := range files {
		if !filepath.IsLocal(name) {
			return fmt.Errorf("非法的文件名 %q", name)
		}
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("创建目录失败: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("写入 %s 失败: %w", name, err)
		}
	}
	return nil
}

// TextDriven 表示该后端按文本解码，前后静音需要由调用方补齐。
func (s *session) TextDriven() bool { return true }

func (s *session) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tts == nil {
		return ort.DecodeSampleRate
	}
	return s.tts.SampleRate()
}

// Decode 用查询的读音文本生成波形。voice 即 VITS 的说话人编号。
func (s *session) Decode(in ort.DecodeInput, voice int) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tts == nil {
		return nil, fmt.Errorf("sherpa: session closed")
	}
	if in.Text == "" {
		return []float32{}, nil
	}
	speed := in.Speed
	if speed <= 0 {
		speed = 1
	}
	audio := s.tts.Generate(in.Text, voice, speed)
	if audio == nil || len(audio.Samples) == 0 {
		return nil, fmt.Errorf("VITS 未生成音频: %q", in.Text)
	}
	logger.Debugf("[sherpa] 生成 %d 个采样点 (%d Hz)", len(audio.Samples), audio.SampleRate)
	return audio.Samples, nil
}

func (s *session) Close() error {
	s.closeMu.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		sherpa.DeleteOfflineTts(s.tts)
		s.tts = nil
		if err := os.RemoveAll(s.dir); err != nil {
			logger.Warnf("[sherpa] 清理临时目录失败: %v", err)
		}
	})
	return nil
}
