package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 是 pivox 的顶层配置结构。
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	MCP       MCPConfig       `yaml:"mcp"`
	Log       LogConfig       `yaml:"log"`
}

// EngineConfig 合成引擎配置。
type EngineConfig struct {
	// DictDir 发音词典目录（包含 dict.yaml 与 lexicon.csv）。
	DictDir string `yaml:"dict_dir"`
	// AccelerationMode 取值 auto / cpu / gpu。
	AccelerationMode string `yaml:"acceleration_mode"`
	// CPUNumThreads 推理线程数，0 表示使用物理核数。
	CPUNumThreads int `yaml:"cpu_num_threads"`
	// ModelDir 语音模型（.vvm）所在目录，启动时全部加载。
	ModelDir string `yaml:"model_dir"`
	// Models 额外需要加载的模型文件。
	Models []string `yaml:"models"`
	// WatchModels 为 true 时监听 ModelDir 的增删并自动加载/卸载。
	WatchModels bool `yaml:"watch_models"`
}

// SynthesisConfig 合成默认参数。
type SynthesisConfig struct {
	// EnableInterrogativeUpspeak 疑问句末尾是否上扬，未设置时为 true。
	EnableInterrogativeUpspeak *bool  `yaml:"enable_interrogative_upspeak"`
	OutputDir                  string `yaml:"output_dir"`
}

// Upspeak 返回疑问句上扬开关的实际值。
func (s SynthesisConfig) Upspeak() bool {
	if s.EnableInterrogativeUpspeak == nil {
		return true
	}
	return *s.EnableInterrogativeUpspeak
}

// CacheConfig 合成结果缓存（SQLite）配置。
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	MaxSizeMB int64  `yaml:"max_size_mb"`
}

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// Mode 取值 debug / release / test，对应 gin 的运行模式。
	Mode string `yaml:"mode"`
}

// MCPConfig MCP 服务配置。
type MCPConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析 YAML 配置内容。
func Parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	setDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回只包含默认值的配置。
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.Engine.AccelerationMode == "" {
		cfg.Engine.AccelerationMode = "cpu"
	}
	cfg.Engine.AccelerationMode = strings.ToLower(strings.TrimSpace(cfg.Engine.AccelerationMode))
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "127.0.0.1:50021"
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.MCP.Name == "" {
		cfg.MCP.Name = "pivox"
	}
	if cfg.Cache.MaxSizeMB == 0 {
		cfg.Cache.MaxSizeMB = 256
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "~/.pivox/cache.db"
	}
	if cfg.Synthesis.OutputDir == "" {
		cfg.Synthesis.OutputDir = "."
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	cfg.Engine.DictDir = expandHome(cfg.Engine.DictDir)
	cfg.Engine.ModelDir = expandHome(cfg.Engine.ModelDir)
	for i, m := range cfg.Engine.Models {
		cfg.Engine.Models[i] = expandHome(m)
	}
	cfg.Cache.Path = expandHome(cfg.Cache.Path)
	cfg.Synthesis.OutputDir = expandHome(cfg.Synthesis.OutputDir)
	cfg.Log.File = expandHome(cfg.Log.File)
}

func validate(cfg *Config) error {
	switch cfg.Engine.AccelerationMode {
	case "auto", "cpu", "gpu":
	default:
		return fmt.Errorf("engine.acceleration_mode 取值无效: %q", cfg.Engine.AccelerationMode)
	}
	if cfg.Engine.CPUNumThreads < 0 {
		return fmt.Errorf("engine.cpu_num_threads 不能为负数: %d", cfg.Engine.CPUNumThreads)
	}
	return nil
}

// expandHome 把 ~/ 前缀替换为用户主目录，Go 不会自动展开 ~。
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return p
	}
	return home + p[1:]
}
