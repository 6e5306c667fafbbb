package ort

import (
	"fmt"
	"sort"
	"sync"
)

// 声码器的帧参数：24 kHz 下每帧 256 个采样点，即每秒 93.75 帧。
const (
	DecodeSampleRate = 24000
	HopSize          = 256
	FrameRate        = float64(DecodeSampleRate) / HopSize
)

// ModelFiles 是声学模型的参数文件和附属文件，由模型容器解出。
type ModelFiles struct {
	Params []byte
	Files  map[string][]byte
}

// SessionOptions 是创建推理会话时的设备与线程配置。
type SessionOptions struct {
	Device     Device
	NumThreads int
}

// IntonationInput 是音高预测的输入，每个元素对应一个音拍。
// 没有子音的音拍 Consonants 为 -1。
type IntonationInput struct {
	Vowels      []int64
	Consonants  []int64
	StartAccent []int64
	EndAccent   []int64
	StartPhrase []int64
	EndPhrase   []int64
}

// DecodeInput 是声码器输入，F0 和 Phonemes 按帧对齐。
// 以文本驱动的解码器使用 Text 和 Speed，忽略逐帧特征。
type DecodeInput struct {
	F0       []float32
	Phonemes []int64
	Text     string
	Speed    float32
}

// Session 是一个声学模型的推理会话。同一会话不保证并发安全。
type Session interface {
	// PredictDuration 返回每个音素的时长（秒）。
	PredictDuration(phonemes []int64, voice int) ([]float32, error)
	// PredictIntonation 返回每个音拍的对数基频，0 表示无声。
	PredictIntonation(in IntonationInput, voice int) ([]float32, error)
	// Decode 生成单声道浮点波形。
	Decode(in DecodeInput, voice int) ([]float32, error)
	// SampleRate 返回 Decode 输出的采样率。
	SampleRate() int
	Close() error
}

// TextDriven 由按文本解码的会话实现。这类会话忽略逐帧特征，
// 输出不含前后静音。
type TextDriven interface {
	TextDriven() bool
}

// SessionFactory 根据模型文件创建会话。
type SessionFactory func(files ModelFiles, opts SessionOptions) (Session, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]SessionFactory)
)

// Register 注册一种模型后端。重复注册同名后端会 panic。
func Register(kind string, factory SessionFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if factory == nil {
		panic("ort: Register factory is nil")
	}
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("ort: Register called twice for backend %q", kind))
	}
	factories[kind] = factory
}

// Backends 返回已注册的后端名称。
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func lookupFactory(kind string) (SessionFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[kind]
	return f, ok
}
