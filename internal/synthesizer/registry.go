package synthesizer

import (
	"cmp"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/ort"
	"github.com/iabetor/pivox/internal/result"
	"github.com/iabetor/pivox/internal/vvm"
)

// model 是已加载的声音模型。session 不保证并发安全，由 mu 串行化。
type model struct {
	id     uuid.UUID
	path   string
	kind   string
	metas  []vvm.SpeakerMeta
	inner  map[uint32]int
	styles []uint32

	mu      sync.Mutex
	session ort.Session
}

func (m *model) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			logger.Warnf("[synthesizer] 关闭模型会话失败: id=%s err=%v", m.id, err)
		}
		m.session = nil
	}
}

// ModelInfo 描述一个已加载的模型。
type ModelInfo struct {
	ID     uuid.UUID `json:"id"`
	Path   string    `json:"path"`
	Kind   string    `json:"kind"`
	Styles []uint32  `json:"styles"`
}

// CanonicalPath 返回模型文件的规范路径（绝对路径，解析符号链接），作为去重键。
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// LoadModel 加载模型文件并返回它的风格。
//
// 同一路径重复加载直接返回已有风格；不同路径但 id 相同、或风格与其他模型冲突时失败，
// 已加载的模型不受影响。加载要么完全成功，要么不留下任何风格。
func (s *Synthesizer) LoadModel(path string) ([]uint32, error) {
	canon, err := CanonicalPath(path)
	if err != nil {
		return nil, result.Wrap(result.KindModelLoad, result.CodeOpenZipFile, "load_model", err, "模型文件不可用 "+path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, result.NotInitialized("load_model")
	}
	if id, ok := s.paths[canon]; ok {
		logger.Debugf("[synthesizer] 模型已加载，跳过: %s", canon)
		return slices.Clone(s.models[id].styles), nil
	}
	return s.loadLocked(canon)
}

// loadLocked 需要在持有 s.mu 写锁时调用。
func (s *Synthesizer) loadLocked(canon string) ([]uint32, error) {
	f, err := vvm.Open(canon)
	if err != nil {
		return nil, err
	}
	if other, ok := s.models[f.ID]; ok {
		return nil, result.Newf(result.KindModelLoad, result.CodeModelAlreadyLoaded, "load_model",
			"model %s is already loaded from %s", f.ID, other.path)
	}
	styles := f.StyleIDs()
	for _, st := range styles {
		if owner, ok := s.styles[st]; ok {
			return nil, result.Newf(result.KindModelLoad, result.CodeStyleAlreadyLoaded, "load_model",
				"style %d is already provided by model %s", st, owner.id)
		}
	}

	sess, err := s.newSession(f)
	if err != nil {
		return nil, err
	}

	m := &model{
		id:      f.ID,
		path:    canon,
		kind:    f.Kind,
		metas:   f.Metas,
		inner:   f.InnerVoices,
		styles:  styles,
		session: sess,
	}
	s.attach(m)
	logger.Infof("[synthesizer] 模型已加载: id=%s kind=%s styles=%v path=%s", m.id, m.kind, styles, canon)
	return slices.Clone(styles), nil
}

// ReloadModel 重新读取 path 对应的模型文件，替换已加载的同路径模型。整个过程持有写锁，
// 其他调用看不到中间状态。新文件无法加载时原模型原样保留并返回错误。
// replaced 是被替换模型的 id，path 原先没有加载时为 uuid.Nil。
func (s *Synthesizer) ReloadModel(path string) (styles []uint32, replaced uuid.UUID, err error) {
	canon, err := CanonicalPath(path)
	if err != nil {
		return nil, uuid.Nil, result.Wrap(result.KindModelLoad, result.CodeOpenZipFile, "reload_model", err, "模型文件不可用 "+path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, uuid.Nil, result.NotInitialized("reload_model")
	}
	var old *model
	if id, ok := s.paths[canon]; ok {
		old = s.models[id]
		s.detach(old)
	}
	styles, err = s.loadLocked(canon)
	if err != nil {
		if old != nil {
			s.attach(old)
			logger.Warnf("[synthesizer] 重新加载失败，保留原模型: id=%s err=%v", old.id, err)
		}
		return nil, uuid.Nil, err
	}
	if old == nil {
		return styles, uuid.Nil, nil
	}
	old.close()
	logger.Infof("[synthesizer] 模型已替换: old=%s path=%s", old.id, canon)
	return styles, old.id, nil
}

func (s *Synthesizer) attach(m *model) {
	s.models[m.id] = m
	s.paths[m.path] = m.id
	for _, st := range m.styles {
		s.styles[st] = m
	}
}

func (s *Synthesizer) detach(m *model) {
	for _, st := range m.styles {
		delete(s.styles, st)
	}
	delete(s.paths, m.path)
	delete(s.models, m.id)
}

// newSession 在 AUTO 模式下，GPU 会话创建失败时退回 CPU。
func (s *Synthesizer) newSession(f *vvm.File) (ort.Session, error) {
	opts := ort.SessionOptions{Device: s.device, NumThreads: s.threads}
	sess, err := s.rt.NewSession(f.Kind, f.ModelFiles(), opts)
	if err != nil && s.auto && s.device.IsGPU() {
		logger.Warnf("[synthesizer] GPU 会话创建失败，改用 CPU: %v", err)
		opts.Device = ort.DeviceCPU
		sess, err = s.rt.NewSession(f.Kind, f.ModelFiles(), opts)
	}
	return sess, err
}

// UnloadModel 按模型 id 或模型文件路径卸载。未加载时什么也不做。
func (s *Synthesizer) UnloadModel(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return result.NotInitialized("unload_model")
	}
	if id, err := uuid.Parse(key); err == nil {
		s.unload(id)
		return nil
	}
	if canon, err := CanonicalPath(key); err == nil {
		if id, ok := s.paths[canon]; ok {
			s.unload(id)
			return nil
		}
	}
	// 文件已被删除时 EvalSymlinks 会失败，改为只解析所在目录。
	if abs, err := filepath.Abs(key); err == nil {
		if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
			abs = filepath.Join(dir, filepath.Base(abs))
		}
		if id, ok := s.paths[abs]; ok {
			s.unload(id)
		}
	}
	return nil
}

// UnloadStyle 卸载提供该风格的整个模型。
func (s *Synthesizer) UnloadStyle(style uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return result.NotInitialized("unload_model")
	}
	if m, ok := s.styles[style]; ok {
		s.unload(m.id)
	}
	return nil
}

func (s *Synthesizer) unload(id uuid.UUID) {
	m, ok := s.models[id]
	if !ok {
		return
	}
	s.detach(m)
	m.close()
	logger.Infof("[synthesizer] 模型已卸载: id=%s path=%s", id, m.path)
}

// IsModelLoaded 报告模型是否已加载。
func (s *Synthesizer) IsModelLoaded(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.models[id]
	return ok
}

// Models 返回已加载模型，按路径排序。
func (s *Synthesizer) Models() []ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ModelInfo, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, ModelInfo{ID: m.id, Path: m.path, Kind: m.kind, Styles: slices.Clone(m.styles)})
	}
	slices.SortFunc(out, func(a, b ModelInfo) int { return cmp.Compare(a.Path, b.Path) })
	return out
}

// Metas 返回全部已加载模型的说话人元数据。同一 speaker_uuid 的风格合并到一起，
// 说话人和风格按 order（缺省排在最后）和 id 排序。
func (s *Synthesizer) Metas() []vvm.SpeakerMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string]*vvm.SpeakerMeta)
	var order []string
	for _, m := range s.models {
		for _, sp := range m.metas {
			if cur, ok := merged[sp.SpeakerUUID]; ok {
				cur.Styles = append(cur.Styles, sp.Styles...)
				continue
			}
			cp := sp
			cp.Styles = slices.Clone(sp.Styles)
			merged[sp.SpeakerUUID] = &cp
			order = append(order, sp.SpeakerUUID)
		}
	}

	out := make([]vvm.SpeakerMeta, 0, len(order))
	for _, id := range order {
		sp := merged[id]
		slices.SortFunc(sp.Styles, func(a, b vvm.Style) int {
			if c := compareOrder(a.Order, b.Order); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		out = append(out, *sp)
	}
	slices.SortFunc(out, func(a, b vvm.SpeakerMeta) int {
		if c := compareOrder(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.SpeakerUUID, b.SpeakerUUID)
	})
	return out
}

func compareOrder(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp.Compare(*a, *b)
}
