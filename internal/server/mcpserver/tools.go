package mcpserver

import (
	"context"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
)

type AudioQueryArgs struct {
	Text    string `json:"text" jsonschema:"Japanese text, or kana notation when is_kana is true"`
	StyleID uint32 `json:"style_id" jsonschema:"style id of a loaded voice model"`
	IsKana  bool   `json:"is_kana,omitempty" jsonschema:"treat text as AquesTalk-style kana notation"`
}

type SynthesizeArgs struct {
	Query      string `json:"query" jsonschema:"AudioQuery JSON document"`
	StyleID    uint32 `json:"style_id" jsonschema:"style id of a loaded voice model"`
	Upspeak    *bool  `json:"upspeak,omitempty" jsonschema:"raise the pitch at the end of interrogative phrases"`
	OutputPath string `json:"output_path,omitempty" jsonschema:"write the WAV to this path instead of returning it inline"`
}

type TTSArgs struct {
	Text       string `json:"text" jsonschema:"Japanese text, or kana notation when is_kana is true"`
	StyleID    uint32 `json:"style_id" jsonschema:"style id of a loaded voice model"`
	IsKana     bool   `json:"is_kana,omitempty" jsonschema:"treat text as AquesTalk-style kana notation"`
	Upspeak    *bool  `json:"upspeak,omitempty" jsonschema:"raise the pitch at the end of interrogative phrases"`
	OutputPath string `json:"output_path,omitempty" jsonschema:"write the WAV to this path instead of returning it inline"`
}

type LoadModelArgs struct {
	Path string `json:"path" jsonschema:"path of a .vvm voice model file"`
}

type UnloadModelArgs struct {
	Key string `json:"key" jsonschema:"model id or model file path"`
}

type EmptyArgs struct{}

func textResult(text string) *sdk.CallToolResult {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: text}}}
}

func (s *Server) upspeak(v *bool) bool {
	if v == nil {
		return s.config.Upspeak
	}
	return *v
}

func audioResult(wav []byte) *sdk.CallToolResult {
	return &sdk.CallToolResult{Content: []sdk.Content{
		&sdk.AudioContent{Data: wav, MIMEType: "audio/wav"},
	}}
}

func (s *Server) handleAudioQuery(ctx context.Context, req *sdk.CallToolRequest, args AudioQueryArgs) (*sdk.CallToolResult, any, error) {
	var (
		q   *query.AudioQuery
		err error
	)
	if args.IsKana {
		q, err = s.engine.AudioQueryFromKana(ctx, args.Text, args.StyleID)
	} else {
		q, err = s.engine.AudioQuery(ctx, args.Text, args.StyleID)
	}
	if err != nil {
		return nil, nil, err
	}
	doc, err := query.Marshal(q)
	if err != nil {
		return nil, nil, err
	}
	return textResult(doc), nil, nil
}

func (s *Server) handleSynthesize(ctx context.Context, req *sdk.CallToolRequest, args SynthesizeArgs) (*sdk.CallToolResult, any, error) {
	q, err := query.Unmarshal(args.Query)
	if err != nil {
		return nil, nil, result.Wrap(result.KindSynthesis, result.CodeInvalidAudioQuery, "synthesis", err, "invalid audio query json")
	}
	upspeak := s.upspeak(args.Upspeak)
	if args.OutputPath != "" {
		path, err := s.engine.SynthesisToFile(ctx, q, args.StyleID, args.OutputPath, upspeak)
		if err != nil {
			return nil, nil, err
		}
		return textResult(path), nil, nil
	}
	wav, err := s.engine.Synthesis(ctx, q, args.StyleID, upspeak)
	if err != nil {
		return nil, nil, err
	}
	return audioResult(wav), nil, nil
}

func (s *Server) handleTTS(ctx context.Context, req *sdk.CallToolRequest, args TTSArgs) (*sdk.CallToolResult, any, error) {
	upspeak := s.upspeak(args.Upspeak)
	if args.OutputPath != "" {
		var (
			path string
			err  error
		)
		if args.IsKana {
			path, err = s.engine.TTSFromKanaToFile(ctx, args.Text, args.StyleID, args.OutputPath, upspeak)
		} else {
			path, err = s.engine.TTSToFile(ctx, args.Text, args.StyleID, args.OutputPath, upspeak)
		}
		if err != nil {
			return nil, nil, err
		}
		return textResult(path), nil, nil
	}

	var (
		wav []byte
		err error
	)
	if args.IsKana {
		wav, err = s.engine.TTSFromKana(ctx, args.Text, args.StyleID, upspeak)
	} else {
		wav, err = s.engine.TTS(ctx, args.Text, args.StyleID, upspeak)
	}
	if err != nil {
		return nil, nil, err
	}
	return audioResult(wav), nil, nil
}

func (s *Server) handleLoadModel(ctx context.Context, req *sdk.CallToolRequest, args LoadModelArgs) (*sdk.CallToolResult, any, error) {
	styles, err := s.engine.LoadModel(ctx, args.Path)
	if err != nil {
		return nil, nil, err
	}
	return textResult(fmt.Sprintf("loaded %s: styles %v", args.Path, styles)), nil, nil
}

func (s *Server) handleUnloadModel(ctx context.Context, req *sdk.CallToolRequest, args UnloadModelArgs) (*sdk.CallToolResult, any, error) {
	if err := s.engine.UnloadModel(ctx, args.Key); err != nil {
		return nil, nil, err
	}
	return textResult("unloaded " + args.Key), nil, nil
}

func (s *Server) handleListSpeakers(ctx context.Context, req *sdk.CallToolRequest, args EmptyArgs) (*sdk.CallToolResult, any, error) {
	return textResult(s.engine.MetasJSON()), nil, nil
}

func (s *Server) handleSupportedDevices(ctx context.Context, req *sdk.CallToolRequest, args EmptyArgs) (*sdk.CallToolResult, any, error) {
	return textResult(s.engine.SupportedDevicesJSON()), nil, nil
}
