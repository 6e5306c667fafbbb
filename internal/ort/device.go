package ort

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/bytedance/sonic"
)

// Device 是推理使用的设备类别。
type Device int

const (
	DeviceCPU Device = iota
	DeviceCUDA
	DeviceDML
)

func (d Device) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceCUDA:
		return "cuda"
	case DeviceDML:
		return "dml"
	}
	return "unknown"
}

// IsGPU 判断是否为 GPU 设备。
func (d Device) IsGPU() bool { return d == DeviceCUDA || d == DeviceDML }

// SupportedDevices 描述当前进程可用的加速后端。
type SupportedDevices struct {
	CPU  bool `json:"cpu"`
	CUDA bool `json:"cuda"`
	DML  bool `json:"dml"`
}

// HasGPU 判断是否有任一 GPU 后端可用。
func (s SupportedDevices) HasGPU() bool { return s.CUDA || s.DML }

// GPU 返回首选的 GPU 设备，CUDA 优先。
func (s SupportedDevices) GPU() (Device, bool) {
	switch {
	case s.CUDA:
		return DeviceCUDA, true
	case s.DML:
		return DeviceDML, true
	}
	return DeviceCPU, false
}

// Supports 判断设备是否可用。
func (s SupportedDevices) Supports(d Device) bool {
	switch d {
	case DeviceCPU:
		return s.CPU
	case DeviceCUDA:
		return s.CUDA
	case DeviceDML:
		return s.DML
	}
	return false
}

// JSON 返回设备描述的 JSON 文本。
func (s SupportedDevices) JSON() string {
	out, err := sonic.ConfigStd.MarshalToString(s)
	if err != nil {
		return "{}"
	}
	return out
}

// 各平台上 GPU 执行提供者的动态库文件名。
func providerLibraries() (cuda, dml []string) {
	switch runtime.GOOS {
	case "windows":
		return []string{"onnxruntime_providers_cuda.dll"}, []string{"DirectML.dll"}
	case "darwin":
		return nil, nil
	default:
		return []string{"libonnxruntime_providers_cuda.so"}, nil
	}
}

// searchPaths 返回查找执行提供者动态库的目录。
func searchPaths(extra []string) []string {
	dirs := append([]string(nil), extra...)
	for _, env := range []string{"LD_LIBRARY_PATH", "DYLD_LIBRARY_PATH", "PATH"} {
		dirs = append(dirs, filepath.SplitList(os.Getenv(env))...)
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	return dirs
}

func findLibrary(dirs, names []string) bool {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, name := range names {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return true
			}
		}
	}
	return false
}

// ProbeLibraries 按动态库是否存在判断可用设备。CPU 始终可用。
func ProbeLibraries(extraDirs []string) (SupportedDevices, error) {
	cuda, dml := providerLibraries()
	dirs := searchPaths(extraDirs)
	return SupportedDevices{
		CPU:  true,
		CUDA: len(cuda) > 0 && findLibrary(dirs, cuda),
		DML:  len(dml) > 0 && findLibrary(dirs, dml),
	}, nil
}
