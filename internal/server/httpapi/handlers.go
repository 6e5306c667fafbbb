package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/iabetor/pivox/internal/engine"
	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
	"github.com/iabetor/pivox/internal/synthesizer"
)

const jsonContentType = "application/json; charset=utf-8"

func badRequest(op, format string, args ...any) error {
	return result.Newf(result.KindInvalidArgument, result.CodeInvalidArgument, op, format, args...)
}

// styleParam 读取 speaker（兼容 VOICEVOX）或 style_id 查询参数。
func styleParam(c *gin.Context) (uint32, error) {
	raw := c.Query("speaker")
	if raw == "" {
		raw = c.Query("style_id")
	}
	if raw == "" {
		return 0, badRequest(c.FullPath(), "missing speaker parameter")
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, badRequest(c.FullPath(), "invalid speaker %q", raw)
	}
	return uint32(v), nil
}

func (s *Server) upspeakParam(c *gin.Context) (bool, error) {
	raw := c.Query("enable_interrogative_upspeak")
	if raw == "" {
		return s.upspeak, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest(c.FullPath(), "invalid enable_interrogative_upspeak %q", raw)
	}
	return v, nil
}

func requiredParam(c *gin.Context, name string) (string, error) {
	v := c.Query(name)
	if v == "" {
		return "", badRequest(c.FullPath(), "missing %s parameter", name)
	}
	return v, nil
}

func (s *Server) version(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetVersion())
}

func (s *Server) speakers(c *gin.Context) {
	c.Data(http.StatusOK, jsonContentType, []byte(s.engine.MetasJSON()))
}

func (s *Server) supportedDevices(c *gin.Context) {
	c.Data(http.StatusOK, jsonContentType, []byte(s.engine.SupportedDevicesJSON()))
}

func (s *Server) isGPUMode(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.IsGPUMode())
}

func (s *Server) engineState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":   s.engine.State().String(),
		"pending": s.engine.Pending(),
		"models":  s.engine.Models(),
	})
}

type initializeRequest struct {
	DictDir          string `json:"dict_dir" binding:"required"`
	AccelerationMode string `json:"acceleration_mode"`
	CPUNumThreads    int    `json:"cpu_num_threads"`
}

func (s *Server) initialize(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest("initialize", "invalid request: %v", err))
		return
	}
	mode, err := synthesizer.ParseAccelerationMode(req.AccelerationMode)
	if err != nil {
		s.fail(c, err)
		return
	}
	opts := engine.InitOptions{DictDir: req.DictDir, Mode: mode, CPUNumThreads: req.CPUNumThreads}
	if err := s.engine.Initialize(c.Request.Context(), opts); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) finalize(c *gin.Context) {
	if err := s.engine.Finalize(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Models())
}

type loadModelRequest struct {
	Path string `json:"path" binding:"required"`
}

func (s *Server) loadModel(c *gin.Context) {
	var req loadModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest("load_model", "invalid request: %v", err))
		return
	}
	styles, err := s.engine.LoadModel(c.Request.Context(), req.Path)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"styles": styles})
}

// unloadModel 接受 key（模型 id 或路径）或 speaker 参数。
func (s *Server) unloadModel(c *gin.Context) {
	ctx := c.Request.Context()
	if key := c.Query("key"); key != "" {
		if err := s.engine.UnloadModel(ctx, key); err != nil {
			s.fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
		return
	}
	style, err := styleParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if _, err := s.engine.UnloadStyleAsync(ctx, style).Await(ctx); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) writeQuery(c *gin.Context, q *query.AudioQuery) {
	doc, err := query.Marshal(q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, jsonContentType, []byte(doc))
}

func (s *Server) writePhrases(c *gin.Context, phrases []query.AccentPhrase) {
	doc, err := query.MarshalAccentPhrases(phrases)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, jsonContentType, []byte(doc))
}

func (s *Server) audioQuery(c *gin.Context) {
	text, err := requiredParam(c, "text")
	if err != nil {
		s.fail(c, err)
		return
	}
	style, err := styleParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	q, err := s.engine.AudioQuery(c.Request.Context(), text, style)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.writeQuery(c, q)
}

func (s *Server) audioQueryFromKana(c *gin.Context) {
	kanaText, err := requiredParam(c, "kana")
	if err != nil {
		s.fail(c, err)
		return
	}
	style, err := styleParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	q, err := s.engine.AudioQueryFromKana(c.Request.Context(), kanaText, style)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.writeQuery(c, q)
}

// accentPhrases 在 is_kana=true 时把 text 当作假名标记法解析。
func (s *Server) accentPhrases(c *gin.Context) {
	text, err := requiredParam(c, "text")
	if err != nil {
		s.fail(c, err)
		return
	}
	style, err := styleParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	isKana, _ := strconv.ParseBool(c.DefaultQuery("is_kana", "false"))

	ctx := c.Request.Context()
	var phrases []query.AccentPhrase
	if isKana {
		phrases, err = s.engine.CreateAccentPhrasesFromKana(ctx, text, style)
	} else {
		phrases, err = s.engine.CreateAccentPhrases(ctx, text, style)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	s.writePhrases(c, phrases)
}

type phraseOp func(e *engine.Engine, c *gin.Context, phrases []query.AccentPhrase, style uint32) ([]query.AccentPhrase, error)

func (s *Server) replacePhrases(c *gin.Context, op phraseOp) {
	style, err := styleParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		s.fail(c, badRequest(c.FullPath(), "read body: %v", err))
		return
	}
	phrases, err := query.UnmarshalAccentPhrases(string(body))
	if err != nil {
		s.fail(c, badRequest(c.FullPath(), "%v", err))
		return
	}
	out, err := op(s.engine, c, phrases, style)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.writePhrases(c, out)
}

func (s *Server) moraData(c *gin.Context) {
	s.replacePhrases(c, func(e *engine.Engine, c *gin.Context, p []query.AccentPhrase, style uint32) ([]query.AccentPhrase, error) {
		return e.ReplaceMoraData(c.Request.Context(), p, style)
	})
}

func (s *Server) moraLength(c *gin.Context) {
	s.replacePhrases(c, func(e *engine.Engine, c *gin.Context, p []query.AccentPhrase, style uint32) ([]query.AccentPhrase, error) {
		return e.ReplacePhonemeLength(c.Request.Context(), p, style)
	})
}

func (s *Server) moraPitch(c *gin.Context) {
	s.replacePhrases(c, func(e *engine.Engine, c *gin.Context, p []query.AccentPhrase, style uint32) ([]query.AccentPhrase, error) {
		return e.ReplaceMoraPitch(c.Request.Context(), p, style)
	})
}

func (s *Server) synthesis(c *gin.Context) {
	style, err := styleParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	upspeak, err := s.upspeakParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		s.fail(c, badRequest("synthesis", "read body: %v", err))
		return
	}
	q, err := query.Unmarshal(string(body))
	if err != nil {
		s.fail(c, result.Wrap(result.KindSynthesis, result.CodeInvalidAudioQuery, "synthesis", err, "invalid audio query json"))
		return
	}
	wav, err := s.engine.Synthesis(c.Request.Context(), q, style, upspeak)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "audio/wav", wav)
}

// tts 在 is_kana=true 时把 text 当作假名标记法。
func (s *Server) tts(c *gin.Context) {
	text, err := requiredParam(c, "text")
	if err != nil {
		s.fail(c, err)
		return
	}
	style, err := styleParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	upspeak, err := s.upspeakParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	isKana, _ := strconv.ParseBool(c.DefaultQuery("is_kana", "false"))

	var wav []byte
	if isKana {
		wav, err = s.engine.TTSFromKana(c.Request.Context(), text, style, upspeak)
	} else {
		wav, err = s.engine.TTS(c.Request.Context(), text, style, upspeak)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "audio/wav", wav)
}

func (s *Server) cacheStats(c *gin.Context) {
	st, err := s.cache.Stats()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) clearCache(c *gin.Context) {
	if !s.cache.Enabled() {
		c.JSON(http.StatusOK, gin.H{"removed": 0})
		return
	}
	n, err := s.cache.Clear()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}
