// Package synthesizer 组合推理运行时、词典和已加载的声音模型，
// 提供查询生成（文本 → AudioQuery）和渲染（AudioQuery → WAV）两个阶段。
package synthesizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/ort"
	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
)

// AccelerationMode 选择推理设备。数值与绑定层的枚举一致。
type AccelerationMode int

const (
	AccelerationAuto AccelerationMode = iota
	AccelerationCPU
	AccelerationGPU
)

func (m AccelerationMode) String() string {
	switch m {
	case AccelerationAuto:
		return "auto"
	case AccelerationCPU:
		return "cpu"
	case AccelerationGPU:
		return "gpu"
	}
	return fmt.Sprintf("AccelerationMode(%d)", int(m))
}

// ParseAccelerationMode 解析 auto/cpu/gpu，大小写不敏感。
func ParseAccelerationMode(s string) (AccelerationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return AccelerationAuto, nil
	case "cpu":
		return AccelerationCPU, nil
	case "gpu":
		return AccelerationGPU, nil
	}
	return 0, result.Newf(result.KindInvalidArgument, result.CodeInvalidArgument, "parse_acceleration_mode", "unknown acceleration mode %q", s)
}

// Options 是合成器配置。CPUNumThreads 为 0 时使用运行时默认值。
type Options struct {
	Mode          AccelerationMode
	CPUNumThreads int
}

// Analyzer 把文本分析为重音短语，*analyzer.Dictionary 实现了它。
type Analyzer interface {
	Analyze(text string) ([]query.AccentPhrase, error)
}

// Synthesizer 是合成上下文。方法可以并发调用；同一模型的推理会被串行化。
type Synthesizer struct {
	rt      *ort.Runtime
	dict    Analyzer
	device  ort.Device
	auto    bool
	threads int

	mu     sync.RWMutex
	models map[uuid.UUID]*model
	paths  map[string]uuid.UUID
	styles map[uint32]*model
	closed bool
}

// New 创建合成器。GPU 模式下没有可用 GPU 时返回 RuntimeInit 错误。
func New(rt *ort.Runtime, dict Analyzer, opts Options) (*Synthesizer, error) {
	if rt == nil {
		return nil, result.New(result.KindRuntimeInit, result.CodeInitInferenceRuntime, "new_synthesizer", "inference runtime is not initialized")
	}
	if opts.CPUNumThreads < 0 {
		return nil, result.Newf(result.KindInvalidArgument, result.CodeInvalidArgument, "new_synthesizer", "cpu_num_threads must be >= 0, got %d", opts.CPUNumThreads)
	}

	devices := rt.SupportedDevices()
	device := ort.DeviceCPU
	switch opts.Mode {
	case AccelerationCPU:
	case AccelerationGPU:
		gpu, ok := devices.GPU()
		if !ok {
			return nil, result.New(result.KindRuntimeInit, result.CodeGPUSupport, "new_synthesizer", "GPU acceleration requested but no GPU backend is available")
		}
		device = gpu
	case AccelerationAuto:
		if gpu, ok := devices.GPU(); ok {
			device = gpu
		}
	default:
		return nil, result.Newf(result.KindInvalidArgument, result.CodeInvalidArgument, "new_synthesizer", "unknown acceleration mode %d", int(opts.Mode))
	}

	threads := opts.CPUNumThreads
	if threads == 0 {
		threads = rt.DefaultThreads()
	}

	logger.Infof("[synthesizer] 合成器已创建: mode=%s device=%s threads=%d", opts.Mode, device, threads)
	return &Synthesizer{
		rt:      rt,
		dict:    dict,
		device:  device,
		auto:    opts.Mode == AccelerationAuto,
		threads: threads,
		models:  make(map[uuid.UUID]*model),
		paths:   make(map[string]uuid.UUID),
		styles:  make(map[uint32]*model),
	}, nil
}

// IsGPUMode 报告合成器是否使用 GPU。
func (s *Synthesizer) IsGPUMode() bool { return s.device.IsGPU() }

// Device 返回合成器使用的设备。
func (s *Synthesizer) Device() ort.Device { return s.device }

// Threads 返回 CPU 推理线程数。
func (s *Synthesizer) Threads() int { return s.threads }

// Close 卸载全部模型。重复调用无副作用。词典由调用方负责关闭。
func (s *Synthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, m := range s.models {
		m.close()
		delete(s.models, id)
	}
	s.paths = map[string]uuid.UUID{}
	s.styles = map[uint32]*model{}
	logger.Infof("[synthesizer] 合成器已关闭")
	return nil
}

func unknownStyle(op string, style uint32) error {
	return result.Newf(result.KindUnknownStyle, result.CodeStyleNotFound, op, "style %d is not loaded", style)
}

// lookupStyle 需要在持有 s.mu 读锁时调用。
func (s *Synthesizer) lookupStyle(op string, style uint32) (*model, int, error) {
	if s.closed {
		return nil, 0, result.NotInitialized(op)
	}
	m, ok := s.styles[style]
	if !ok {
		return nil, 0, unknownStyle(op, style)
	}
	return m, m.inner[style], nil
}

// ModelOf 返回风格所属模型的 id。
func (s *Synthesizer) ModelOf(style uint32) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.styles[style]
	if !ok {
		return uuid.Nil, false
	}
	return m.id, true
}
