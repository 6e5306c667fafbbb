// Package httpapi 以 VOICEVOX 风格的 HTTP 接口暴露引擎。
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iabetor/pivox/internal/engine"
	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/rendercache"
	"github.com/iabetor/pivox/internal/result"
	"github.com/iabetor/pivox/internal/worker"
)

// Options 是 HTTP 服务参数。
type Options struct {
	Engine *engine.Engine
	// Cache 用于 /cache 统计与清理，可以为 nil。
	Cache *rendercache.Cache
	// Upspeak 是请求未指定 enable_interrogative_upspeak 时的默认值。
	Upspeak bool
	// Mode 是 gin 运行模式：debug / release / test。
	Mode string
}

// Server 是 HTTP 服务。
type Server struct {
	engine  *engine.Engine
	cache   *rendercache.Cache
	upspeak bool
	router  *gin.Engine
	log     *zap.SugaredLogger
}

// New 创建服务并注册路由。
func New(opts Options) *Server {
	mode := opts.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	s := &Server{
		engine:  opts.Engine,
		cache:   opts.Cache,
		upspeak: opts.Upspeak,
		router:  gin.New(),
		log:     logger.Named("http"),
	}
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.GET("/version", s.version)
	r.GET("/speakers", s.speakers)
	r.GET("/supported_devices", s.supportedDevices)
	r.GET("/is_gpu_mode", s.isGPUMode)
	r.GET("/engine/state", s.engineState)

	r.POST("/initialize", s.initialize)
	r.POST("/finalize", s.finalize)

	r.GET("/models", s.listModels)
	r.POST("/models", s.loadModel)
	r.DELETE("/models", s.unloadModel)

	r.POST("/audio_query", s.audioQuery)
	r.POST("/audio_query_from_kana", s.audioQueryFromKana)
	r.POST("/accent_phrases", s.accentPhrases)
	r.POST("/mora_data", s.moraData)
	r.POST("/mora_length", s.moraLength)
	r.POST("/mora_pitch", s.moraPitch)
	r.POST("/synthesis", s.synthesis)
	r.POST("/tts", s.tts)

	r.GET("/cache/stats", s.cacheStats)
	r.DELETE("/cache", s.clearCache)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, result.Info{Kind: "NotFound", Message: "route not found: " + c.Request.URL.Path})
	})
}

// Handler 返回 http.Handler，便于测试和嵌入。
func (s *Server) Handler() http.Handler { return s.router }

// Run 在 addr 上监听，ctx 结束时优雅关闭。
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("[http] 服务已启动: %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warnf("[http] 关闭服务失败: %v", err)
		return err
	}
	s.log.Infof("[http] 服务已停止")
	return nil
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugf("[http] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// statusOf 把错误分类映射到 HTTP 状态码。
func statusOf(err error) int {
	if errors.Is(err, worker.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	switch result.KindOf(err) {
	case result.KindInvalidArgument, result.KindMalformedKana, result.KindDictionary:
		return http.StatusBadRequest
	case result.KindUnknownStyle, result.KindModelNotLoaded:
		return http.StatusNotFound
	case result.KindEngineNotInitialized:
		return http.StatusServiceUnavailable
	case result.KindModelLoad, result.KindDictionaryLoad:
		return http.StatusUnprocessableEntity
	case result.KindSynthesis:
		if result.CodeOf(err) == result.CodeInvalidAudioQuery {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorf("[http] %s %s 失败: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, result.Describe(err))
}
