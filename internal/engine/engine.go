// Package engine 是合成引擎的有状态外壳：所有操作经由一个串行工作队列执行，
// 按提交顺序逐个完成，同一时刻只有一个操作在访问合成上下文。
package engine

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/iabetor/pivox/internal/analyzer"
	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/ort"
	"github.com/iabetor/pivox/internal/rendercache"
	"github.com/iabetor/pivox/internal/result"
	"github.com/iabetor/pivox/internal/synthesizer"
	"github.com/iabetor/pivox/internal/vvm"
	"github.com/iabetor/pivox/internal/worker"

	// 注册推理后端
	_ "github.com/iabetor/pivox/internal/backend/param"
	_ "github.com/iabetor/pivox/internal/backend/sherpa"
)

// Version 是引擎版本，发布构建时通过 -ldflags "-X" 覆盖。
var Version = "0.16.0-pivox.1"

// Options 是引擎构造参数。
type Options struct {
	// Runtime 是首次初始化进程级运行时使用的参数，运行时已存在时忽略。
	Runtime ort.Options
	// Cache 为 nil 或未启用时不缓存合成结果。
	Cache *rendercache.Cache
}

// InitOptions 是 initialize 的参数。
type InitOptions struct {
	DictDir       string
	Mode          synthesizer.AccelerationMode
	CPUNumThreads int
}

// Engine 是一个合成引擎实例。各实例拥有自己的队列、词典和模型表，只共享进程级运行时。
type Engine struct {
	opts  Options
	queue *worker.Queue
	state *StateMachine

	// 以下字段只在队列任务中写入；同步访问器持读锁读取。
	mu    sync.RWMutex
	rt    *ort.Runtime
	dict  *analyzer.Dictionary
	synth *synthesizer.Synthesizer
}

// New 创建未初始化的引擎。
func New(opts Options) *Engine {
	return &Engine{
		opts:  opts,
		queue: worker.New("engine"),
		state: NewStateMachine(),
	}
}

// State 返回当前生命周期状态。
func (e *Engine) State() State { return e.state.Current() }

// OnStateChange 注册状态变化回调。
func (e *Engine) OnStateChange(fn func(from, to State)) { e.state.SetOnChange(fn) }

// Pending 返回排队等待执行的操作数。
func (e *Engine) Pending() int { return e.queue.Pending() }

// GetVersion 返回引擎版本，任何状态下都可调用。
func (e *Engine) GetVersion() string { return Version }

// Close 结束引擎：释放词典和模型，等待排队中的操作完成后停止队列。
// 之后提交的操作返回 worker.ErrClosed。重复调用无副作用。
func (e *Engine) Close() error {
	_, err := e.FinalizeAsync(context.Background()).Wait()
	e.queue.Close()
	if errors.Is(err, worker.ErrClosed) {
		return nil
	}
	return err
}

// current 返回当前合成上下文，未初始化时返回 EngineNotInitialized 错误。
func (e *Engine) current(op string) (*synthesizer.Synthesizer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.synth == nil {
		return nil, result.NotInitialized(op)
	}
	return e.synth, nil
}

// submit 把需要合成上下文的操作放入队列。
func submit[T any](ctx context.Context, e *Engine, op string, fn func(s *synthesizer.Synthesizer) (T, error)) *worker.Future[T] {
	return worker.Submit(ctx, e.queue, op, func(context.Context) (T, error) {
		s, err := e.current(op)
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(s)
	})
}

// InitializeAsync 提交 initialize。
//
// 运行时只初始化一次；词典和合成上下文每次重建，已加载的模型全部被遗忘。
// 任一步骤失败时保持原来的词典、上下文和状态不变。
func (e *Engine) InitializeAsync(ctx context.Context, opts InitOptions) *worker.Future[struct{}] {
	return worker.Submit(ctx, e.queue, "initialize", func(context.Context) (struct{}, error) {
		return struct{}{}, e.initialize(opts)
	})
}

// Initialize 是 InitializeAsync 的同步形式。
func (e *Engine) Initialize(ctx context.Context, opts InitOptions) error {
	_, err := e.InitializeAsync(ctx, opts).Await(ctx)
	return err
}

func (e *Engine) initialize(opts InitOptions) error {
	rt, err := ort.LoadOnce(e.opts.Runtime)
	if err != nil {
		return err
	}
	dict, err := analyzer.Open(opts.DictDir)
	if err != nil {
		return err
	}
	synth, err := synthesizer.New(rt, dict, synthesizer.Options{Mode: opts.Mode, CPUNumThreads: opts.CPUNumThreads})
	if err != nil {
		dict.Close()
		return err
	}

	e.mu.Lock()
	oldSynth, oldDict := e.synth, e.dict
	e.rt, e.dict, e.synth = rt, dict, synth
	e.mu.Unlock()

	if oldSynth != nil {
		if n := len(oldSynth.Models()); n > 0 {
			logger.Warnf("[engine] 重新初始化，遗忘 %d 个已加载模型", n)
		}
		oldSynth.Close()
	}
	if oldDict != nil {
		oldDict.Close()
	}
	e.state.Transition(StateInitialized)
	logger.Infof("[engine] 引擎已初始化: dict=%s mode=%s gpu=%v", dict.Dir(), opts.Mode, synth.IsGPUMode())
	return nil
}

// LoadModelAsync 提交 loadModel，返回模型提供的风格。
func (e *Engine) LoadModelAsync(ctx context.Context, path string) *worker.Future[[]uint32] {
	return submit(ctx, e, "load_model", func(s *synthesizer.Synthesizer) ([]uint32, error) {
		styles, err := s.LoadModel(path)
		if err != nil {
			return nil, err
		}
		e.state.Transition(StateModelLoaded)
		return styles, nil
	})
}

// LoadModel 是 LoadModelAsync 的同步形式。
func (e *Engine) LoadModel(ctx context.Context, path string) ([]uint32, error) {
	return e.LoadModelAsync(ctx, path).Await(ctx)
}

// UnloadModelAsync 按模型 id 或路径卸载模型。未加载时什么也不做。
func (e *Engine) UnloadModelAsync(ctx context.Context, key string) *worker.Future[struct{}] {
	return submit(ctx, e, "unload_model", func(s *synthesizer.Synthesizer) (struct{}, error) {
		before := s.Models()
		if err := s.UnloadModel(key); err != nil {
			return struct{}{}, err
		}
		e.afterUnload(s, before)
		return struct{}{}, nil
	})
}

// UnloadModel 是 UnloadModelAsync 的同步形式。
func (e *Engine) UnloadModel(ctx context.Context, key string) error {
	_, err := e.UnloadModelAsync(ctx, key).Await(ctx)
	return err
}

// ReloadModelAsync 提交 reloadModel：在一个队列任务里用 path 的新内容替换同路径的已加载模型，
// 之前提交的操作看到旧模型，之后提交的操作看到新模型。新文件无法加载时保留旧模型。
func (e *Engine) ReloadModelAsync(ctx context.Context, path string) *worker.Future[[]uint32] {
	return submit(ctx, e, "reload_model", func(s *synthesizer.Synthesizer) ([]uint32, error) {
		styles, replaced, err := s.ReloadModel(path)
		if err != nil {
			return nil, err
		}
		if replaced != uuid.Nil {
			e.invalidate(replaced)
		}
		e.state.Transition(StateModelLoaded)
		return styles, nil
	})
}

// ReloadModel 是 ReloadModelAsync 的同步形式。
func (e *Engine) ReloadModel(ctx context.Context, path string) ([]uint32, error) {
	return e.ReloadModelAsync(ctx, path).Await(ctx)
}

// UnloadStyleAsync 卸载提供该风格的模型。
func (e *Engine) UnloadStyleAsync(ctx context.Context, style uint32) *worker.Future[struct{}] {
	return submit(ctx, e, "unload_style", func(s *synthesizer.Synthesizer) (struct{}, error) {
		before := s.Models()
		if err := s.UnloadStyle(style); err != nil {
			return struct{}{}, err
		}
		e.afterUnload(s, before)
		return struct{}{}, nil
	})
}

// afterUnload 清理被卸载模型的缓存，模型全部卸载时回到 Initialized。
func (e *Engine) afterUnload(s *synthesizer.Synthesizer, before []synthesizer.ModelInfo) {
	after := s.Models()
	for _, m := range before {
		if slices.ContainsFunc(after, func(a synthesizer.ModelInfo) bool { return a.ID == m.ID }) {
			continue
		}
		e.invalidate(m.ID)
	}
	if len(after) == 0 {
		e.state.Transition(StateInitialized)
	}
}

func (e *Engine) invalidate(id uuid.UUID) {
	if n, err := e.opts.Cache.InvalidateModel(id); err != nil {
		logger.Warnf("[engine] 清理模型缓存失败: %v", err)
	} else if n > 0 {
		logger.Debugf("[engine] 清理模型 %s 的 %d 条缓存", id, n)
	}
}

// FinalizeAsync 释放词典、模型和合成上下文，回到未初始化状态。重复调用无副作用，不释放运行时。
func (e *Engine) FinalizeAsync(ctx context.Context) *worker.Future[struct{}] {
	return worker.Submit(ctx, e.queue, "finalize", func(context.Context) (struct{}, error) {
		e.finalize()
		return struct{}{}, nil
	})
}

// Finalize 是 FinalizeAsync 的同步形式。
func (e *Engine) Finalize(ctx context.Context) error {
	_, err := e.FinalizeAsync(ctx).Await(ctx)
	return err
}

func (e *Engine) finalize() {
	e.mu.Lock()
	synth, dict := e.synth, e.dict
	e.synth, e.dict = nil, nil
	e.mu.Unlock()

	if synth == nil && dict == nil {
		return
	}
	if synth != nil {
		synth.Close()
	}
	if dict != nil {
		dict.Close()
	}
	e.state.Reset()
	logger.Infof("[engine] 引擎已释放")
}

// Metas 返回已加载模型的说话人元数据。未初始化或没有模型时返回空列表。
func (e *Engine) Metas() []vvm.SpeakerMeta {
	e.mu.RLock()
	s := e.synth
	e.mu.RUnlock()
	if s == nil {
		return []vvm.SpeakerMeta{}
	}
	return s.Metas()
}

// MetasJSON 返回 Metas 的 JSON 文本，失败时返回 "[]"。
func (e *Engine) MetasJSON() string {
	metas := e.Metas()
	if len(metas) == 0 {
		return "[]"
	}
	out, err := sonic.ConfigStd.MarshalToString(metas)
	if err != nil {
		logger.Warnf("[engine] 编码说话人元数据失败: %v", err)
		return "[]"
	}
	return out
}

// Models 返回已加载模型。
func (e *Engine) Models() []synthesizer.ModelInfo {
	e.mu.RLock()
	s := e.synth
	e.mu.RUnlock()
	if s == nil {
		return []synthesizer.ModelInfo{}
	}
	return s.Models()
}

// IsModelLoaded 报告模型是否已加载。
func (e *Engine) IsModelLoaded(id uuid.UUID) bool {
	e.mu.RLock()
	s := e.synth
	e.mu.RUnlock()
	return s != nil && s.IsModelLoaded(id)
}

// runtime 返回引擎持有的运行时，尚未初始化过时退回进程级运行时。
func (e *Engine) runtime() *ort.Runtime {
	e.mu.RLock()
	rt := e.rt
	e.mu.RUnlock()
	if rt != nil {
		return rt
	}
	return ort.Current()
}

// SupportedDevices 返回运行时可用的设备；运行时不存在时 ok 为 false。
func (e *Engine) SupportedDevices() (ort.SupportedDevices, bool) {
	rt := e.runtime()
	if rt == nil {
		return ort.SupportedDevices{}, false
	}
	return rt.SupportedDevices(), true
}

// SupportedDevicesJSON 返回可用设备的 JSON 文本，运行时不存在时返回 "{}"。
func (e *Engine) SupportedDevicesJSON() string {
	return devicesJSON(e.runtime())
}

func devicesJSON(rt *ort.Runtime) string {
	if rt == nil {
		return "{}"
	}
	return rt.SupportedDevices().JSON()
}

// IsGPUMode 报告当前合成上下文是否使用 GPU，未初始化时为 false。
func (e *Engine) IsGPUMode() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.synth != nil && e.synth.IsGPUMode()
}
