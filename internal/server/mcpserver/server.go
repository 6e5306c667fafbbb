// Package mcpserver 把引擎注册为 MCP 工具，通过 stdio 供智能体调用。
package mcpserver

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iabetor/pivox/internal/engine"
	"github.com/iabetor/pivox/internal/logger"
)

// Config 是 MCP 服务参数。
type Config struct {
	ServerName    string
	ServerVersion string
	// Upspeak 是调用未指定 upspeak 时的默认值。
	Upspeak bool
}

// Server 是 MCP 服务。
type Server struct {
	config    Config
	engine    *engine.Engine
	mcpServer *sdk.Server
}

// NewServer 创建服务并注册工具。引擎由调用方初始化和关闭。
func NewServer(cfg Config, e *engine.Engine) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "pivox"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = engine.Version
	}
	s := &Server{config: cfg, engine: e}
	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}, nil)
	s.registerTools()
	return s
}

// MCP 返回底层 SDK 服务，便于接入其他传输方式。
func (s *Server) MCP() *sdk.Server { return s.mcpServer }

// Run 在 stdio 上服务直到 ctx 结束或客户端断开。
func (s *Server) Run(ctx context.Context) error {
	logger.Infof("[mcp] 服务已启动: %s %s", s.config.ServerName, s.config.ServerVersion)
	return s.mcpServer.Run(ctx, &sdk.StdioTransport{})
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "audio_query",
		Description: "Analyze Japanese text (or AquesTalk-style kana when is_kana is true) and return an editable AudioQuery JSON document",
	}, s.handleAudioQuery)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "synthesize",
		Description: "Render an AudioQuery JSON document to a 16-bit PCM WAV",
	}, s.handleSynthesize)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "tts",
		Description: "Synthesize Japanese text (or kana when is_kana is true) to a 16-bit PCM WAV",
	}, s.handleTTS)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "load_model",
		Description: "Load a .vvm voice model file and return the style ids it provides",
	}, s.handleLoadModel)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "unload_model",
		Description: "Unload a voice model by model id or file path",
	}, s.handleUnloadModel)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "list_speakers",
		Description: "List speakers and styles of all loaded voice models",
	}, s.handleListSpeakers)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "supported_devices",
		Description: "Report the inference devices available to the engine",
	}, s.handleSupportedDevices)
}
