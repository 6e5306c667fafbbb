package result

import (
	"errors"
	"fmt"
)

// Kind 是错误的分类，调用方用 errors.Is 对照下面的哨兵值区分失败原因。
type Kind int

const (
	KindUnknown Kind = iota
	KindRuntimeInit
	KindDictionaryLoad
	KindDictionary
	KindModelLoad
	KindUnknownStyle
	KindMalformedKana
	KindEngineNotInitialized
	KindSynthesis
	KindIO
	KindInvalidArgument
	KindModelNotLoaded
)

var kindNames = [...]string{
	"Unknown",
	"RuntimeInit",
	"DictionaryLoad",
	"Dictionary",
	"ModelLoad",
	"UnknownStyle",
	"MalformedKana",
	"EngineNotInitialized",
	"Synthesis",
	"IO",
	"InvalidArgument",
	"ModelNotLoaded",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Code 是与引擎结果码对齐的数值，仅用于诊断。
type Code int

const (
	CodeOK                   Code = 0
	CodeNotLoadedDict        Code = 1
	CodeGetSupportedDevices  Code = 3
	CodeGPUSupport           Code = 4
	CodeStyleNotFound        Code = 6
	CodeModelNotFound        Code = 7
	CodeRunModel             Code = 8
	CodeAnalyzeText          Code = 11
	CodeInvalidUTF8Input     Code = 12
	CodeParseKana            Code = 13
	CodeInvalidAudioQuery    Code = 14
	CodeInvalidAccentPhrase  Code = 15
	CodeOpenZipFile          Code = 16
	CodeReadZipEntry         Code = 17
	CodeModelAlreadyLoaded   Code = 18
	CodeUnloadedModel        Code = 19
	CodeStyleAlreadyLoaded   Code = 26
	CodeInvalidModelData     Code = 27
	CodeInvalidModelHeader   Code = 28
	CodeInitInferenceRuntime Code = 29
	CodeLoadDictionary       Code = 30
	CodeWriteFile            Code = 101
	CodeInvalidArgument      Code = 102
)

// Error 是引擎对外暴露的统一错误类型。
type Error struct {
	Kind Kind
	Code Code
	Op   string // 出错的操作名，如 "load_model"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按 Kind 匹配哨兵错误。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrRuntimeInit          = &Error{Kind: KindRuntimeInit}
	ErrDictionaryLoad       = &Error{Kind: KindDictionaryLoad}
	ErrDictionary           = &Error{Kind: KindDictionary}
	ErrModelLoad            = &Error{Kind: KindModelLoad}
	ErrUnknownStyle         = &Error{Kind: KindUnknownStyle}
	ErrMalformedKana        = &Error{Kind: KindMalformedKana}
	ErrEngineNotInitialized = &Error{Kind: KindEngineNotInitialized}
	ErrSynthesis            = &Error{Kind: KindSynthesis}
	ErrIO                   = &Error{Kind: KindIO}
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrModelNotLoaded       = &Error{Kind: KindModelNotLoaded}
)

// New 创建一个带分类和结果码的错误。
func New(kind Kind, code Code, op, msg string) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Msg: msg}
}

// Newf 同 New，消息支持格式化。
func Newf(kind Kind, code Code, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 把底层错误包装为引擎错误。
func Wrap(kind Kind, code Code, op string, err error, msg string) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Msg: msg, Err: err}
}

// KindOf 返回错误链上第一个 *Error 的分类。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf 返回错误链上第一个 *Error 的结果码。
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeOK
}

// NotInitialized 是引擎未初始化时各操作统一返回的错误。
func NotInitialized(op string) *Error {
	return New(KindEngineNotInitialized, CodeNotLoadedDict, op, "synthesizer not initialized")
}

// Info 是错误的可序列化描述，供绑定层返回给宿主。
type Info struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Describe 把任意错误转换为 Info，非 *Error 的错误归为 Unknown。
func Describe(err error) Info {
	if err == nil {
		return Info{Kind: "OK"}
	}
	return Info{Code: int(CodeOf(err)), Kind: KindOf(err).String(), Message: err.Error()}
}
