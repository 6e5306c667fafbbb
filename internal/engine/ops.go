package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/rendercache"
	"github.com/iabetor/pivox/internal/result"
	"github.com/iabetor/pivox/internal/synthesizer"
	"github.com/iabetor/pivox/internal/worker"
)

// AudioQueryAsync 分析文本并生成 AudioQuery。
func (e *Engine) AudioQueryAsync(ctx context.Context, text string, style uint32) *worker.Future[*query.AudioQuery] {
	return submit(ctx, e, "audio_query", func(s *synthesizer.Synthesizer) (*query.AudioQuery, error) {
		return s.AudioQuery(text, style)
	})
}

// AudioQuery 是 AudioQueryAsync 的同步形式。
func (e *Engine) AudioQuery(ctx context.Context, text string, style uint32) (*query.AudioQuery, error) {
	return e.AudioQueryAsync(ctx, text, style).Await(ctx)
}

// AudioQueryFromKanaAsync 从假名标记法生成 AudioQuery，不使用词典。
func (e *Engine) AudioQueryFromKanaAsync(ctx context.Context, kanaText string, style uint32) *worker.Future[*query.AudioQuery] {
	return submit(ctx, e, "audio_query_from_kana", func(s *synthesizer.Synthesizer) (*query.AudioQuery, error) {
		return s.AudioQueryFromKana(kanaText, style)
	})
}

// AudioQueryFromKana 是 AudioQueryFromKanaAsync 的同步形式。
func (e *Engine) AudioQueryFromKana(ctx context.Context, kanaText string, style uint32) (*query.AudioQuery, error) {
	return e.AudioQueryFromKanaAsync(ctx, kanaText, style).Await(ctx)
}

// CreateAccentPhrasesAsync 分析文本并返回带韵律的重音短语。
func (e *Engine) CreateAccentPhrasesAsync(ctx context.Context, text string, style uint32) *worker.Future[[]query.AccentPhrase] {
	return submit(ctx, e, "create_accent_phrases", func(s *synthesizer.Synthesizer) ([]query.AccentPhrase, error) {
		return s.CreateAccentPhrases(text, style)
	})
}

// CreateAccentPhrases 是 CreateAccentPhrasesAsync 的同步形式。
func (e *Engine) CreateAccentPhrases(ctx context.Context, text string, style uint32) ([]query.AccentPhrase, error) {
	return e.CreateAccentPhrasesAsync(ctx, text, style).Await(ctx)
}

// CreateAccentPhrasesFromKana 从假名标记法生成重音短语。
func (e *Engine) CreateAccentPhrasesFromKana(ctx context.Context, kanaText string, style uint32) ([]query.AccentPhrase, error) {
	return submit(ctx, e, "create_accent_phrases_from_kana", func(s *synthesizer.Synthesizer) ([]query.AccentPhrase, error) {
		return s.CreateAccentPhrasesFromKana(kanaText, style)
	}).Await(ctx)
}

// ReplaceMoraData 重新计算重音短语的音素时长和音高。
func (e *Engine) ReplaceMoraData(ctx context.Context, phrases []query.AccentPhrase, style uint32) ([]query.AccentPhrase, error) {
	return submit(ctx, e, "replace_mora_data", func(s *synthesizer.Synthesizer) ([]query.AccentPhrase, error) {
		return s.ReplaceMoraData(phrases, style)
	}).Await(ctx)
}

// ReplacePhonemeLength 只重新计算音素时长。
func (e *Engine) ReplacePhonemeLength(ctx context.Context, phrases []query.AccentPhrase, style uint32) ([]query.AccentPhrase, error) {
	return submit(ctx, e, "replace_phoneme_length", func(s *synthesizer.Synthesizer) ([]query.AccentPhrase, error) {
		return s.ReplacePhonemeLength(phrases, style)
	}).Await(ctx)
}

// ReplaceMoraPitch 只重新计算音高。
func (e *Engine) ReplaceMoraPitch(ctx context.Context, phrases []query.AccentPhrase, style uint32) ([]query.AccentPhrase, error) {
	return submit(ctx, e, "replace_mora_pitch", func(s *synthesizer.Synthesizer) ([]query.AccentPhrase, error) {
		return s.ReplaceMoraPitch(phrases, style)
	}).Await(ctx)
}

// SynthesisAsync 把 AudioQuery 渲染为 WAV。
func (e *Engine) SynthesisAsync(ctx context.Context, q *query.AudioQuery, style uint32, upspeak bool) *worker.Future[[]byte] {
	return submit(ctx, e, "synthesis", func(s *synthesizer.Synthesizer) ([]byte, error) {
		return e.synthesis(s, q, style, upspeak)
	})
}

// Synthesis 是 SynthesisAsync 的同步形式。
func (e *Engine) Synthesis(ctx context.Context, q *query.AudioQuery, style uint32, upspeak bool) ([]byte, error) {
	return e.SynthesisAsync(ctx, q, style, upspeak).Await(ctx)
}

// TTSAsync 等价于 AudioQuery 后直接 Synthesis。
func (e *Engine) TTSAsync(ctx context.Context, text string, style uint32, upspeak bool) *worker.Future[[]byte] {
	return submit(ctx, e, "tts", func(s *synthesizer.Synthesizer) ([]byte, error) {
		q, err := s.AudioQuery(text, style)
		if err != nil {
			return nil, err
		}
		return e.synthesis(s, q, style, upspeak)
	})
}

// TTS 是 TTSAsync 的同步形式。
func (e *Engine) TTS(ctx context.Context, text string, style uint32, upspeak bool) ([]byte, error) {
	return e.TTSAsync(ctx, text, style, upspeak).Await(ctx)
}

// TTSFromKanaAsync 等价于 AudioQueryFromKana 后直接 Synthesis。
func (e *Engine) TTSFromKanaAsync(ctx context.Context, kanaText string, style uint32, upspeak bool) *worker.Future[[]byte] {
	return submit(ctx, e, "tts_from_kana", func(s *synthesizer.Synthesizer) ([]byte, error) {
		q, err := s.AudioQueryFromKana(kanaText, style)
		if err != nil {
			return nil, err
		}
		return e.synthesis(s, q, style, upspeak)
	})
}

// TTSFromKana 是 TTSFromKanaAsync 的同步形式。
func (e *Engine) TTSFromKana(ctx context.Context, kanaText string, style uint32, upspeak bool) ([]byte, error) {
	return e.TTSFromKanaAsync(ctx, kanaText, style, upspeak).Await(ctx)
}

// synthesis 在风格校验之后查询缓存，未命中时渲染并写入缓存。
func (e *Engine) synthesis(s *synthesizer.Synthesizer, q *query.AudioQuery, style uint32, upspeak bool) ([]byte, error) {
	cache := e.opts.Cache
	id, bound := s.ModelOf(style)
	if !cache.Enabled() || !bound || q == nil {
		return s.Synthesis(q, style, upspeak)
	}

	key, err := rendercache.Key(id, style, upspeak, q)
	if err != nil {
		return s.Synthesis(q, style, upspeak)
	}
	if wav, ok := cache.Get(key); ok {
		logger.Debugf("[engine] 命中合成缓存: style=%d", style)
		return wav, nil
	}
	wav, err := s.Synthesis(q, style, upspeak)
	if err != nil {
		return nil, err
	}
	if err := cache.Put(key, id, style, wav); err != nil {
		logger.Warnf("[engine] 写入合成缓存失败: %v", err)
	}
	return wav, nil
}

// SynthesisToFileAsync 渲染并把 WAV 写到 path，返回 path。已存在的文件被替换；失败时不留下文件。
func (e *Engine) SynthesisToFileAsync(ctx context.Context, q *query.AudioQuery, style uint32, path string, upspeak bool) *worker.Future[string] {
	return submit(ctx, e, "synthesis", func(s *synthesizer.Synthesizer) (string, error) {
		wav, err := e.synthesis(s, q, style, upspeak)
		if err != nil {
			return "", err
		}
		return writeOut(path, wav)
	})
}

// SynthesisToFile 是 SynthesisToFileAsync 的同步形式。
func (e *Engine) SynthesisToFile(ctx context.Context, q *query.AudioQuery, style uint32, path string, upspeak bool) (string, error) {
	return e.SynthesisToFileAsync(ctx, q, style, path, upspeak).Await(ctx)
}

// TTSToFileAsync 合成文本并写入 path。
func (e *Engine) TTSToFileAsync(ctx context.Context, text string, style uint32, path string, upspeak bool) *worker.Future[string] {
	return submit(ctx, e, "tts", func(s *synthesizer.Synthesizer) (string, error) {
		q, err := s.AudioQuery(text, style)
		if err != nil {
			return "", err
		}
		wav, err := e.synthesis(s, q, style, upspeak)
		if err != nil {
			return "", err
		}
		return writeOut(path, wav)
	})
}

// TTSToFile 是 TTSToFileAsync 的同步形式。
func (e *Engine) TTSToFile(ctx context.Context, text string, style uint32, path string, upspeak bool) (string, error) {
	return e.TTSToFileAsync(ctx, text, style, path, upspeak).Await(ctx)
}

// TTSFromKanaToFileAsync 合成假名标记法并写入 path。
func (e *Engine) TTSFromKanaToFileAsync(ctx context.Context, kanaText string, style uint32, path string, upspeak bool) *worker.Future[string] {
	return submit(ctx, e, "tts_from_kana", func(s *synthesizer.Synthesizer) (string, error) {
		q, err := s.AudioQueryFromKana(kanaText, style)
		if err != nil {
			return "", err
		}
		wav, err := e.synthesis(s, q, style, upspeak)
		if err != nil {
			return "", err
		}
		return writeOut(path, wav)
	})
}

// TTSFromKanaToFile 是 TTSFromKanaToFileAsync 的同步形式。
func (e *Engine) TTSFromKanaToFile(ctx context.Context, kanaText string, style uint32, path string, upspeak bool) (string, error) {
	return e.TTSFromKanaToFileAsync(ctx, kanaText, style, path, upspeak).Await(ctx)
}

func writeOut(path string, wav []byte) (string, error) {
	if err := WriteFile(path, wav); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFile 先写同目录下的临时文件再重命名，目标要么是完整的新内容，要么保持原样。
func WriteFile(path string, data []byte) error {
	const op = "write_file"
	if path == "" {
		return result.New(result.KindIO, result.CodeWriteFile, op, "output path is empty")
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return result.Wrap(result.KindIO, result.CodeWriteFile, op, err, "创建临时文件失败")
	}
	tmpName := tmp.Name()
	fail := func(err error, msg string) error {
		tmp.Close()
		os.Remove(tmpName)
		return result.Wrap(result.KindIO, result.CodeWriteFile, op, err, msg)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err, "写入文件失败")
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail(err, "设置文件权限失败")
	}
	if err := tmp.Close(); err != nil {
		return fail(err, "写入文件失败")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return result.Wrap(result.KindIO, result.CodeWriteFile, op, err, fmt.Sprintf("重命名到 %s 失败", path))
	}
	logger.Debugf("[engine] 已写入 %s (%d 字节)", path, len(data))
	return nil
}
