package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iabetor/pivox/internal/app"
	"github.com/iabetor/pivox/internal/config"
	"github.com/iabetor/pivox/internal/engine"
	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/server/httpapi"
)

func main() {
	configPath := flag.String("config", "configs/pivox.yaml", "配置文件路径")
	addr := flag.String("addr", "", "监听地址，覆盖配置")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "未找到 .env 文件，使用系统环境变量")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.HTTPAddr = *addr
	}
	if err := app.InitLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infof("[main] pivox-server %s 启动中 (log_level=%s)", engine.Version, cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("[main] 收到信号 %v，正在关闭...", sig)
		cancel()
	}()

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "创建引擎失败: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	// 未配置词典时以未初始化状态启动，等待 POST /initialize。
	if cfg.Engine.DictDir != "" {
		if err := a.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "启动引擎失败: %v\n", err)
			os.Exit(1)
		}
	}

	srv := httpapi.New(httpapi.Options{
		Engine:  a.Engine(),
		Cache:   a.Cache(),
		Upspeak: cfg.Synthesis.Upspeak(),
		Mode:    cfg.Server.Mode,
	})
	if err := srv.Run(ctx, cfg.Server.HTTPAddr); err != nil {
		fmt.Fprintf(os.Stderr, "HTTP 服务运行出错: %v\n", err)
		os.Exit(1)
	}

	logger.Info("[main] pivox-server 已停止")
}
