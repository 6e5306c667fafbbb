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
	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/server/mcpserver"
)

// stdout 被 MCP 协议占用，日志只能写到 stderr 或文件。
func main() {
	configPath := flag.String("config", "configs/pivox.yaml", "配置文件路径")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := app.InitLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "创建引擎失败: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "启动引擎失败: %v\n", err)
		os.Exit(1)
	}

	srv := mcpserver.NewServer(mcpserver.Config{
		ServerName:    cfg.MCP.Name,
		ServerVersion: cfg.MCP.Version,
		Upspeak:       cfg.Synthesis.Upspeak(),
	}, a.Engine())
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "MCP 服务运行出错: %v\n", err)
		os.Exit(1)
	}
}
