package analyzer

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/iabetor/pivox/internal/kana"
	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
)

// attaches 判断该词性是否依附于前一个重音短语。
func attaches(pos string) bool {
	switch pos {
	case "助詞", "助動詞", "接尾辞", "particle", "auxiliary", "suffix":
		return true
	}
	return false
}

// 产生停顿的标点。问号额外把当前短语标记为疑问。
var pauseMarks = map[rune]bool{
	'、': true, '。': true, ',': true, '.': true, '!': true, '?': true,
	';': true, ':': true, '…': true, '・': true,
}

const questionMark = '?'

type phraseBuilder struct {
	moras         []query.Mora
	accent        int
	heiban        bool
	interrogative bool
}

func (b *phraseBuilder) build() query.AccentPhrase {
	accent := b.accent
	if b.heiban {
		accent = len(b.moras)
	}
	return query.AccentPhrase{
		Moras:           b.moras,
		Accent:          accent,
		IsInterrogative: b.interrogative,
	}
}

type analysis struct {
	phrases []query.AccentPhrase
	cur     *phraseBuilder
}

func (a *analysis) add(moras []query.Mora, accent int, attach bool) {
	if attach && a.cur != nil {
		a.cur.moras = append(a.cur.moras, cloneMoras(moras)...)
		return
	}
	a.flush(nil)
	a.cur = &phraseBuilder{
		moras:  cloneMoras(moras),
		accent: accent,
		heiban: accent == 0,
	}
}

func (a *analysis) flush(pause *query.Mora) {
	if a.cur == nil {
		return
	}
	ap := a.cur.build()
	ap.PauseMora = pause
	a.phrases = append(a.phrases, ap)
	a.cur = nil
}

func (a *analysis) pause(interrogative bool) {
	if a.cur == nil {
		if interrogative && len(a.phrases) > 0 {
			a.phrases[len(a.phrases)-1].IsInterrogative = true
		}
		return
	}
	if interrogative {
		a.cur.interrogative = true
	}
	a.flush(kana.PauseMora())
}

func (a *analysis) finish() []query.AccentPhrase {
	a.flush(nil)
	if n := len(a.phrases); n > 0 {
		a.phrases[n-1].PauseMora = nil
	}
	if a.phrases == nil {
		return []query.AccentPhrase{}
	}
	return a.phrases
}

// Normalize 做 NFKC 归一化并折叠全角/半角变体，词表和输入文本都经过它。
func Normalize(text string) string {
	return width.Fold.String(norm.NFKC.String(text))
}

// Analyze 把文本分析为重音短语。结果只取决于文本和词典内容。
func (d *Dictionary) Analyze(text string) ([]query.AccentPhrase, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, result.New(result.KindEngineNotInitialized, result.CodeNotLoadedDict, "analyze", "dictionary closed")
	}
	if !utf8.ValidString(text) {
		return nil, result.New(result.KindDictionary, result.CodeInvalidUTF8Input, "analyze", "invalid utf-8 input")
	}

	runes := []rune(Normalize(text))
	a := &analysis{}
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			a.flush(nil)
			i++
			continue
		case pauseMarks[r]:
			a.pause(r == questionMark)
			i++
			continue
		}

		if e, n := d.longestMatch(runes[i:]); e != nil {
			a.add(e.Moras, e.Accent, attaches(e.POS))
			i += n
			continue
		}

		if kana.IsKana(r) {
			j := i + 1
			for j < len(runes) && kana.IsKana(runes[j]) {
				if e, _ := d.longestMatch(runes[j:]); e != nil {
					break
				}
				j++
			}
			reading := kana.ToKatakana(string(runes[i:j]))
			moras, err := kana.SplitMoras(reading)
			if err != nil {
				return nil, result.Wrap(result.KindDictionary, result.CodeAnalyzeText, "analyze", err, "无法读出 "+reading)
			}
			a.add(moras, 0, false)
			i = j
			continue
		}

		return nil, result.Newf(result.KindDictionary, result.CodeAnalyzeText, "analyze", "词典中没有 %q", r)
	}
	return a.finish(), nil
}

func (d *Dictionary) longestMatch(runes []rune) (*Entry, int) {
	n := d.maxLen
	if n > len(runes) {
		n = len(runes)
	}
	for ; n > 0; n-- {
		if e, ok := d.entries[string(runes[:n])]; ok {
			return e, n
		}
	}
	return nil, 0
}

func cloneMoras(in []query.Mora) []query.Mora {
	out := make([]query.Mora, len(in))
	for i, m := range in {
		out[i] = m
		if m.Consonant != nil {
			out[i].Consonant = query.Str(*m.Consonant)
		}
		if m.ConsonantLength != nil {
			out[i].ConsonantLength = query.Float(*m.ConsonantLength)
		}
	}
	return out
}
