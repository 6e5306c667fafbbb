// Package bridge 以原始类型参数暴露引擎，供宿主运行时（移动端、脚本、FFI）调用。
//
// 会改变引擎状态或做推理的调用返回 Promise，按调用顺序执行；
// 版本、元数据、设备和 GPU 模式查询是同步的，引擎未初始化时返回空值而不是错误。
package bridge

import (
	"context"
	"math"

	"github.com/iabetor/pivox/internal/engine"
	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
	"github.com/iabetor/pivox/internal/synthesizer"
	"github.com/iabetor/pivox/internal/worker"
)

// Promise 是异步调用的结果。
type Promise[T any] = *worker.Future[T]

// Module 是绑定层对象。
type Module struct {
	engine *engine.Engine
	ctx    context.Context
}

// NewModule 把引擎包装为绑定层对象。
func NewModule(e *engine.Engine) *Module {
	return &Module{engine: e, ctx: context.Background()}
}

// Engine 返回底层引擎。
func (m *Module) Engine() *engine.Engine { return m.engine }

func invalidArg(op, format string, args ...any) error {
	return result.Newf(result.KindInvalidArgument, result.CodeInvalidArgument, op, format, args...)
}

// styleID 把宿主传入的整数转换为风格 id。
func styleID(op string, style int) (uint32, error) {
	if style < 0 || int64(style) > math.MaxUint32 {
		return 0, invalidArg(op, "style id out of range: %d", style)
	}
	return uint32(style), nil
}

// Mode 把宿主的枚举值（AUTO=0, CPU=1, GPU=2）转换为加速模式。
func Mode(mode int) (synthesizer.AccelerationMode, error) {
	switch synthesizer.AccelerationMode(mode) {
	case synthesizer.AccelerationAuto, synthesizer.AccelerationCPU, synthesizer.AccelerationGPU:
		return synthesizer.AccelerationMode(mode), nil
	}
	return 0, invalidArg("initialize", "unknown acceleration mode %d", mode)
}

func done(struct{}) (struct{}, error) { return struct{}{}, nil }

func marshal(q *query.AudioQuery) (string, error) {
	s, err := query.Marshal(q)
	if err != nil {
		return "", result.Wrap(result.KindSynthesis, result.CodeInvalidAudioQuery, "audio_query", err, "")
	}
	return s, nil
}

// Initialize 初始化引擎。已加载的模型会被遗忘。
func (m *Module) Initialize(dictDir string, mode, cpuNumThreads int) Promise[struct{}] {
	am, err := Mode(mode)
	if err != nil {
		return worker.Resolved(struct{}{}, err)
	}
	return m.engine.InitializeAsync(m.ctx, engine.InitOptions{DictDir: dictDir, Mode: am, CPUNumThreads: cpuNumThreads})
}

// LoadModel 加载 .vvm 模型。
func (m *Module) LoadModel(path string) Promise[struct{}] {
	return worker.Then(m.engine.LoadModelAsync(m.ctx, path), func([]uint32) (struct{}, error) {
		return struct{}{}, nil
	})
}

// UnloadModel 按模型 id 或路径卸载模型。
func (m *Module) UnloadModel(key string) Promise[struct{}] {
	return worker.Then(m.engine.UnloadModelAsync(m.ctx, key), done)
}

// AudioQuery 返回 AudioQuery 的 JSON 文本。
func (m *Module) AudioQuery(text string, style int) Promise[string] {
	id, err := styleID("audio_query", style)
	if err != nil {
		return worker.Resolved("", err)
	}
	return worker.Then(m.engine.AudioQueryAsync(m.ctx, text, id), marshal)
}

// AudioQueryFromKana 从假名标记法生成 AudioQuery 的 JSON 文本。
func (m *Module) AudioQueryFromKana(kanaText string, style int) Promise[string] {
	id, err := styleID("audio_query_from_kana", style)
	if err != nil {
		return worker.Resolved("", err)
	}
	return worker.Then(m.engine.AudioQueryFromKanaAsync(m.ctx, kanaText, id), marshal)
}

// Synthesis 渲染 AudioQuery JSON 并写入 outputPath，完成后返回 outputPath。
func (m *Module) Synthesis(queryJSON string, style int, outputPath string, upspeak bool) Promise[string] {
	const op = "synthesis"
	id, err := styleID(op, style)
	if err != nil {
		return worker.Resolved("", err)
	}
	q, err := query.Unmarshal(queryJSON)
	if err != nil {
		return worker.Resolved("", result.Wrap(result.KindSynthesis, result.CodeInvalidAudioQuery, op, err, "invalid audio query json"))
	}
	return m.engine.SynthesisToFileAsync(m.ctx, q, id, outputPath, upspeak)
}

// TTS 合成文本并写入 outputPath。
func (m *Module) TTS(text string, style int, outputPath string, upspeak bool) Promise[string] {
	id, err := styleID("tts", style)
	if err != nil {
		return worker.Resolved("", err)
	}
	return m.engine.TTSToFileAsync(m.ctx, text, id, outputPath, upspeak)
}

// TTSFromKana 合成假名标记法并写入 outputPath。
func (m *Module) TTSFromKana(kanaText string, style int, outputPath string, upspeak bool) Promise[string] {
	id, err := styleID("tts_from_kana", style)
	if err != nil {
		return worker.Resolved("", err)
	}
	return m.engine.TTSFromKanaToFileAsync(m.ctx, kanaText, id, outputPath, upspeak)
}

// Finalize 释放词典和模型，运行时保留。
func (m *Module) Finalize() Promise[struct{}] {
	return m.engine.FinalizeAsync(m.ctx)
}

// GetVersion 返回引擎版本。
func (m *Module) GetVersion() string { return m.engine.GetVersion() }

// GetMetasJSON 返回已加载模型的说话人元数据，未初始化时为 "[]"。
func (m *Module) GetMetasJSON() string { return m.engine.MetasJSON() }

// GetSupportedDevicesJSON 返回可用设备，运行时不存在时为 "{}"。
func (m *Module) GetSupportedDevicesJSON() string { return m.engine.SupportedDevicesJSON() }

// IsGPUMode 报告是否使用 GPU，未初始化时为 false。
func (m *Module) IsGPUMode() bool { return m.engine.IsGPUMode() }
