package engine

import (
	"sync"

	"github.com/iabetor/pivox/internal/logger"
)

// State 表示引擎的生命周期状态。
type State int

const (
	// StateUninitialized — 未初始化，或已 Finalize。
	StateUninitialized State = iota
	// StateInitialized — 词典和合成上下文就绪，尚未加载模型。
	StateInitialized
	// StateModelLoaded — 至少加载了一个模型。
	StateModelLoaded
)

var stateNames = [...]string{
	"Uninitialized",
	"Initialized",
	"ModelLoaded",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// StateMachine 管理线程安全的状态转换。
type StateMachine struct {
	mu       sync.RWMutex
	current  State
	onChange func(from, to State)
}

// NewStateMachine 创建一个初始状态为 Uninitialized 的状态机。
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateUninitialized}
}

// SetOnChange 注册状态变化时的回调函数。
func (sm *StateMachine) SetOnChange(fn func(from, to State)) {
	sm.mu.Lock()
	sm.onChange = fn
	sm.mu.Unlock()
}

// Current 返回当前状态。
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Transition 尝试切换状态。只有合法的转换才会生效：
//
//	Uninitialized → Initialized    （initialize）
//	Initialized   → Initialized    （重新 initialize）
//	ModelLoaded   → Initialized    （重新 initialize，或卸载最后一个模型）
//	Initialized   → ModelLoaded    （loadModel）
//	ModelLoaded   → ModelLoaded    （继续 loadModel）
//
// 任何状态都可以转换到 Uninitialized（finalize）。
func (sm *StateMachine) Transition(to State) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !validTransition(sm.current, to) {
		logger.Warnf("[state] 非法转换 %s → %s", sm.current, to)
		return false
	}

	from := sm.current
	sm.current = to
	if from == to {
		return true
	}
	logger.Debugf("[state] %s → %s", from, to)

	if sm.onChange != nil {
		sm.onChange(from, to)
	}
	return true
}

// Reset 无条件重置状态为 Uninitialized。
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.current
	sm.current = StateUninitialized
	if from != StateUninitialized {
		logger.Debugf("[state] 重置 %s → Uninitialized", from)
		if sm.onChange != nil {
			sm.onChange(from, StateUninitialized)
		}
	}
}

// validTransition 检查状态转换是否合法。
func validTransition(from, to State) bool {
	switch to {
	case StateUninitialized, StateInitialized:
		return true
	case StateModelLoaded:
		return from == StateInitialized || from == StateModelLoaded
	}
	return false
}
