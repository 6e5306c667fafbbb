package kana

import (
	"strings"
	"unicode/utf8"

	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
)

// 假名标记法中的特殊符号。
const (
	UnvoiceSymbol     = '_'
	AccentSymbol      = '\''
	NoPauseDelimiter  = '/'
	PauseDelimiter    = '、'
	InterrogationMark = '？'
)

func parseErr(format string, args ...any) error {
	return result.Newf(result.KindMalformedKana, result.CodeParseKana, "parse_kana", format, args...)
}

// Parse 解析假名标记法文本，得到长度与音高均为 0 的重音短语。
//
//	コンニチワ'/セ'カイ、ゲ'ンキ？
//
// '/' 与 '、' 分隔重音短语（后者附带停顿），撇号标在重音核之后，
// '_' 使下一个音拍的母音无声化，短语末尾的 '？' 表示疑问。
func Parse(text string) ([]query.AccentPhrase, error) {
	if !utf8.ValidString(text) {
		return nil, result.New(result.KindMalformedKana, result.CodeInvalidUTF8Input, "parse_kana", "invalid utf-8 input")
	}

	var phrases []query.AccentPhrase
	var cur []rune
	runes := []rune(text)
	for i := 0; i <= len(runes); i++ {
		if i < len(runes) && runes[i] != PauseDelimiter && runes[i] != NoPauseDelimiter {
			cur = append(cur, runes[i])
			continue
		}
		if len(cur) == 0 {
			return nil, parseErr("第 %d 个字符处的重音短语为空", i)
		}

		interrogative := false
		if idx := strings.IndexRune(string(cur), InterrogationMark); idx >= 0 {
			if cur[len(cur)-1] != InterrogationMark || strings.Count(string(cur), string(InterrogationMark)) > 1 {
				return nil, parseErr("疑问符号只能出现在重音短语末尾: %q", string(cur))
			}
			interrogative = true
			cur = cur[:len(cur)-1]
		}

		ap, err := parsePhrase(string(cur))
		if err != nil {
			return nil, err
		}
		ap.IsInterrogative = interrogative
		if i < len(runes) && runes[i] == PauseDelimiter {
			ap.PauseMora = PauseMora()
		}
		phrases = append(phrases, ap)
		cur = cur[:0]
	}
	return phrases, nil
}

func parsePhrase(phrase string) (query.AccentPhrase, error) {
	var moras []query.Mora
	accent := 0
	unvoice := false

	for rest := phrase; rest != ""; {
		r, n := utf8.DecodeRuneInString(rest)
		switch r {
		case AccentSymbol:
			if len(moras) == 0 {
				return query.AccentPhrase{}, parseErr("重音符号不能出现在短语开头: %q", phrase)
			}
			if accent != 0 {
				return query.AccentPhrase{}, parseErr("一个短语只能有一个重音: %q", phrase)
			}
			accent = len(moras)
			rest = rest[n:]
			continue
		case UnvoiceSymbol:
			unvoice = true
			rest = rest[n:]
			continue
		}

		text, snd, ok := nextMora(rest)
		if !ok {
			return query.AccentPhrase{}, parseErr("无法识别的假名 %q (短语 %q)", r, phrase)
		}
		if text == LongVowel {
			prev, err := previousVowel(moras)
			if err != nil {
				return query.AccentPhrase{}, parseErr("%v: %q", err, phrase)
			}
			snd = moraSound{vowel: prev}
		}
		vowel := snd.vowel
		if unvoice {
			if !isPlainVowel(vowel) {
				return query.AccentPhrase{}, parseErr("无声化符号后必须是母音音拍: %q", phrase)
			}
			vowel = strings.ToUpper(vowel)
			unvoice = false
		}
		moras = append(moras, NewMora(text, snd.consonant, vowel))
		rest = rest[len(text):]
	}

	if unvoice {
		return query.AccentPhrase{}, parseErr("无声化符号后缺少音拍: %q", phrase)
	}
	if len(moras) == 0 {
		return query.AccentPhrase{}, parseErr("重音短语没有音拍: %q", phrase)
	}
	if accent == 0 {
		return query.AccentPhrase{}, parseErr("缺少重音符号: %q", phrase)
	}
	return query.AccentPhrase{Moras: moras, Accent: accent}, nil
}

// Create 把重音短语渲染回假名标记法，是 Parse 的逆操作。
func Create(phrases []query.AccentPhrase) string {
	var b strings.Builder
	for i, ap := range phrases {
		for j, m := range ap.Moras {
			if IsUnvoicedVowel(m.Vowel) {
				b.WriteRune(UnvoiceSymbol)
			}
			b.WriteString(m.Text)
			if j+1 == ap.Accent {
				b.WriteRune(AccentSymbol)
			}
		}
		if ap.IsInterrogative {
			b.WriteRune(InterrogationMark)
		}
		if i < len(phrases)-1 {
			if ap.PauseMora != nil {
				b.WriteRune(PauseDelimiter)
			} else {
				b.WriteRune(NoPauseDelimiter)
			}
		}
	}
	return b.String()
}
