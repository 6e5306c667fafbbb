// Package app 按配置组装引擎、缓存和模型目录监视器，供各个命令共用。
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/iabetor/pivox/internal/config"
	"github.com/iabetor/pivox/internal/database"
	"github.com/iabetor/pivox/internal/engine"
	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/ort"
	"github.com/iabetor/pivox/internal/rendercache"
	"github.com/iabetor/pivox/internal/synthesizer"
	"github.com/iabetor/pivox/internal/watcher"
)

// Options 是组装参数。
type Options struct {
	// Runtime 覆盖推理运行时的初始化参数，测试中用来固定设备探测。
	Runtime ort.Options
}

// App 持有一个进程内的全部组件。
type App struct {
	cfg *config.Config

	db      *database.DB
	cache   *rendercache.Cache
	engine  *engine.Engine
	watcher *watcher.Watcher
}

// InitLogger 按配置初始化全局日志。
func InitLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
}

// New 创建引擎和（可选的）合成缓存，此时引擎尚未初始化。
func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{cfg: cfg}

	if cfg.Cache.Enabled && cfg.Cache.MaxSizeMB > 0 {
		db, err := database.Open(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("打开缓存数据库失败: %w", err)
		}
		cache, err := rendercache.New(db, cfg.Cache.MaxSizeMB*1024*1024, engine.Version)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("初始化合成缓存失败: %w", err)
		}
		a.db = db
		a.cache = cache
	}

	a.engine = engine.New(engine.Options{Runtime: opts.Runtime, Cache: a.cache})
	return a, nil
}

// Engine 返回引擎。
func (a *App) Engine() *engine.Engine { return a.engine }

// Cache 返回合成缓存，未启用时为 nil。
func (a *App) Cache() *rendercache.Cache { return a.cache }

// Config 返回配置。
func (a *App) Config() *config.Config { return a.cfg }

// Watcher 返回模型目录监视器，未配置 model_dir 时为 nil。
func (a *App) Watcher() *watcher.Watcher { return a.watcher }

// Start 初始化引擎，加载配置中的模型，并按需开始监视模型目录。
// 显式列出的模型加载失败时返回错误；模型目录中的单个文件失败只记录日志。
func (a *App) Start(ctx context.Context) error {
	ec := a.cfg.Engine
	if ec.DictDir == "" {
		return errors.New("engine.dict_dir 未配置")
	}
	mode, err := synthesizer.ParseAccelerationMode(ec.AccelerationMode)
	if err != nil {
		return err
	}
	if err := a.engine.Initialize(ctx, engine.InitOptions{
		DictDir:       ec.DictDir,
		Mode:          mode,
		CPUNumThreads: ec.CPUNumThreads,
	}); err != nil {
		return fmt.Errorf("初始化引擎失败: %w", err)
	}

	for _, path := range ec.Models {
		if _, err := a.engine.LoadModel(ctx, path); err != nil {
			return fmt.Errorf("加载模型 %s 失败: %w", path, err)
		}
	}

	if ec.ModelDir != "" {
		w, err := watcher.New(ec.ModelDir, a.engine, 0)
		if err != nil {
			return err
		}
		if _, err := w.Scan(ctx); err != nil {
			return err
		}
		if ec.WatchModels {
			if err := w.Start(ctx); err != nil {
				return err
			}
		}
		a.watcher = w
	}

	logger.Infof("[app] 引擎已就绪: mode=%s models=%d gpu=%v", mode, len(a.engine.Models()), a.engine.IsGPUMode())
	return nil
}

// Close 按依赖的逆序释放组件。
func (a *App) Close() {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			logger.Warnf("[app] 停止模型监视失败: %v", err)
		}
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			logger.Warnf("[app] 关闭引擎失败: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warnf("[app] 关闭缓存数据库失败: %v", err)
		}
	}
}
