// Package ort 管理进程级的推理运行时：设备探测、默认线程数和模型后端注册。
package ort

import (
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/result"
)

// Options 是运行时初始化参数。
type Options struct {
	// Probe 覆盖默认的设备探测。
	Probe func() (SupportedDevices, error)
	// LibraryDirs 是额外的执行提供者动态库目录。
	LibraryDirs []string
}

// Runtime 是初始化完成的推理运行时，创建后只读。
type Runtime struct {
	devices        SupportedDevices
	defaultThreads int
}

var (
	globalMu sync.Mutex
	global   *Runtime
)

// LoadOnce 返回进程级运行时。第一次成功的调用生效，之后的调用返回同一实例；
// 失败不会被缓存，下一次调用会重试。
func LoadOnce(opts Options) (*Runtime, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return global, nil
	}
	rt, err := New(opts)
	if err != nil {
		return nil, err
	}
	global = rt
	return rt, nil
}

// Current 返回已加载的进程级运行时，未加载时返回 nil。
func Current() *Runtime {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// New 创建独立的运行时，不影响进程级实例。
func New(opts Options) (*Runtime, error) {
	if len(Backends()) == 0 {
		return nil, result.New(result.KindRuntimeInit, result.CodeInitInferenceRuntime, "init_runtime", "no inference backend registered")
	}

	probe := opts.Probe
	if probe == nil {
		probe = func() (SupportedDevices, error) { return ProbeLibraries(opts.LibraryDirs) }
	}
	devices, err := probe()
	if err != nil {
		return nil, result.Wrap(result.KindRuntimeInit, result.CodeGetSupportedDevices, "init_runtime", err, "探测可用设备失败")
	}
	if !devices.CPU {
		return nil, result.New(result.KindRuntimeInit, result.CodeInitInferenceRuntime, "init_runtime", "cpu execution provider unavailable")
	}

	rt := &Runtime{devices: devices, defaultThreads: physicalCores()}
	logger.Infof("[ort] 推理运行时已初始化: devices=%s threads=%d backends=%v", devices.JSON(), rt.defaultThreads, Backends())
	return rt, nil
}

func physicalCores() int {
	n, err := cpu.Counts(false)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// SupportedDevices 返回可用设备。
func (r *Runtime) SupportedDevices() SupportedDevices { return r.devices }

// DefaultThreads 返回线程数为 0 时使用的默认值（物理核心数）。
func (r *Runtime) DefaultThreads() int { return r.defaultThreads }

// NewSession 用指定后端创建推理会话。
func (r *Runtime) NewSession(kind string, files ModelFiles, opts SessionOptions) (Session, error) {
	factory, ok := lookupFactory(kind)
	if !ok {
		return nil, result.Newf(result.KindModelLoad, result.CodeInvalidModelData, "new_session", "unsupported model kind %q", kind)
	}
	if !r.devices.Supports(opts.Device) {
		return nil, result.Newf(result.KindRuntimeInit, result.CodeGPUSupport, "new_session", "device %s is not supported", opts.Device)
	}
	if opts.NumThreads <= 0 {
		opts.NumThreads = r.defaultThreads
	}
	sess, err := factory(files, opts)
	if err != nil {
		return nil, result.Wrap(result.KindModelLoad, result.CodeInvalidModelData, "new_session", err, "创建推理会话失败")
	}
	logger.Debugf("[ort] 会话已创建: kind=%s device=%s threads=%d", kind, opts.Device, opts.NumThreads)
	return sess, nil
}
