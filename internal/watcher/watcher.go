// Package watcher 监视模型目录，按 .vvm 文件的增删改自动加载和卸载模型。
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/iabetor/pivox/internal/logger"
)

// DefaultDebounce 是同一文件连续事件的合并间隔。
const DefaultDebounce = 300 * time.Millisecond

// Loader 是模型加载方，*engine.Engine 实现了它。
type Loader interface {
	LoadModel(ctx context.Context, path string) ([]uint32, error)
	ReloadModel(ctx context.Context, path string) ([]uint32, error)
	UnloadModel(ctx context.Context, key string) error
}

// Watcher 监视一个目录。
type Watcher struct {
	dir      string
	loader   Loader
	debounce time.Duration

	fs *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	loaded  map[string]bool
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New 创建监视器。debounce 为 0 时使用 DefaultDebounce。
func New(dir string, loader Loader, debounce time.Duration) (*Watcher, error) {
	if loader == nil {
		return nil, errors.New("loader 不能为空")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("解析模型目录失败: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("模型目录不可用: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s 不是目录", abs)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      abs,
		loader:   loader,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		loaded:   make(map[string]bool),
	}, nil
}

// Dir 返回监视的目录。
func (w *Watcher) Dir() string { return w.dir }

func isModelFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".vvm")
}

// Scan 加载目录下现有的全部模型文件，按文件名顺序。单个文件失败只记录日志。
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("读取模型目录失败: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isModelFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		if w.load(ctx, filepath.Join(w.dir, name), false) {
			n++
		}
	}
	logger.Infof("[watcher] 初始扫描完成: dir=%s loaded=%d/%d", w.dir, n, len(names))
	return n, nil
}

// Start 开始监视目录变化，直到 ctx 结束或调用 Stop。
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("监视器已在运行")
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监视器失败: %w", err)
	}
	if err := fs.Add(w.dir); err != nil {
		fs.Close()
		return fmt.Errorf("监视目录失败: %w", err)
	}

	w.fs = fs
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.running = true
	w.wg.Add(1)
	go w.loop()
	logger.Infof("[watcher] 开始监视模型目录: %s", w.dir)
	return nil
}

// Stop 停止监视并等待进行中的加载结束。重复调用无副作用。
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	for name, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, name)
	}
	fs := w.fs
	w.mu.Unlock()

	err := fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !isModelFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.schedule(event.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warnf("[watcher] 文件监视出错: %v", err)
		}
	}
}

// schedule 合并同一文件的连续事件，静默 debounce 后再处理。
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if t, ok := w.timers[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[path] != t {
			w.mu.Unlock()
			return
		}
		delete(w.timers, path)
		ctx := w.ctx
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.sync(ctx, path)
	})
	w.timers[path] = t
}

// sync 让加载状态与文件一致：文件存在则（重新）加载，不存在则卸载。
func (w *Watcher) sync(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		if w.isLoaded(path) {
			if err := w.loader.UnloadModel(ctx, path); err != nil {
				logger.Warnf("[watcher] 卸载模型失败: %s: %v", path, err)
				return
			}
			w.setLoaded(path, false)
			logger.Infof("[watcher] 模型文件已移除，已卸载: %s", path)
		}
		return
	}
	w.load(ctx, path, true)
}

// load 加载 path。reload 为真且 path 已加载时整体替换，失败时原模型保持加载。
func (w *Watcher) load(ctx context.Context, path string, reload bool) bool {
	if reload && w.isLoaded(path) {
		styles, err := w.loader.ReloadModel(ctx, path)
		if err != nil {
			logger.Warnf("[watcher] 重新加载模型失败，保留原模型: %s: %v", path, err)
			return false
		}
		logger.Infof("[watcher] 模型已重新加载: %s styles=%v", path, styles)
		return true
	}
	styles, err := w.loader.LoadModel(ctx, path)
	if err != nil {
		logger.Warnf("[watcher] 加载模型失败: %s: %v", path, err)
		return false
	}
	w.setLoaded(path, true)
	logger.Infof("[watcher] 模型已加载: %s styles=%v", path, styles)
	return true
}

func (w *Watcher) isLoaded(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loaded[path]
}

func (w *Watcher) setLoaded(path string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.loaded[path] = true
	} else {
		delete(w.loaded, path)
	}
}

// Loaded 返回由监视器加载的模型文件。
func (w *Watcher) Loaded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.loaded))
	for p := range w.loaded {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
