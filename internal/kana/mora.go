package kana

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iabetor/pivox/internal/query"
)

type moraSound struct {
	consonant string
	vowel     string
}

// moraTable 把片假名音拍映射到子音和母音。子音为空表示只有母音。
var moraTable = map[string]moraSound{
	"ヴォ": {"v", "o"}, "ヴェ": {"v", "e"}, "ヴィ": {"v", "i"}, "ヴァ": {"v", "a"}, "ヴ": {"v", "u"},
	"ン": {"", "N"}, "ッ": {"", "cl"},
	"ワ": {"w", "a"}, "ヲ": {"", "o"},
	"ロ": {"r", "o"}, "レ": {"r", "e"}, "ル": {"r", "u"}, "リ": {"r", "i"}, "ラ": {"r", "a"},
	"リョ": {"ry", "o"}, "リュ": {"ry", "u"}, "リャ": {"ry", "a"}, "リェ": {"ry", "e"},
	"ヨ": {"y", "o"}, "ユ": {"y", "u"}, "ヤ": {"y", "a"},
	"モ": {"m", "o"}, "メ": {"m", "e"}, "ム": {"m", "u"}, "ミ": {"m", "i"}, "マ": {"m", "a"},
	"ミョ": {"my", "o"}, "ミュ": {"my", "u"}, "ミャ": {"my", "a"}, "ミェ": {"my", "e"},
	"ポ": {"p", "o"}, "ペ": {"p", "e"}, "プ": {"p", "u"}, "ピ": {"p", "i"}, "パ": {"p", "a"},
	"ピョ": {"py", "o"}, "ピュ": {"py", "u"}, "ピャ": {"py", "a"}, "ピェ": {"py", "e"},
	"ボ": {"b", "o"}, "ベ": {"b", "e"}, "ブ": {"b", "u"}, "ビ": {"b", "i"}, "バ": {"b", "a"},
	"ビョ": {"by", "o"}, "ビュ": {"by", "u"}, "ビャ": {"by", "a"}, "ビェ": {"by", "e"},
	"ホ": {"h", "o"}, "ヘ": {"h", "e"}, "ヒ": {"h", "i"}, "ハ": {"h", "a"},
	"ヒョ": {"hy", "o"}, "ヒュ": {"hy", "u"}, "ヒャ": {"hy", "a"}, "ヒェ": {"hy", "e"},
	"フォ": {"f", "o"}, "フェ": {"f", "e"}, "フィ": {"f", "i"}, "ファ": {"f", "a"}, "フ": {"f", "u"},
	"ノ": {"n", "o"}, "ネ": {"n", "e"}, "ヌ": {"n", "u"}, "ニ": {"n", "i"}, "ナ": {"n", "a"},
	"ニョ": {"ny", "o"}, "ニュ": {"ny", "u"}, "ニャ": {"ny", "a"}, "ニェ": {"ny", "e"},
	"ドゥ": {"d", "u"}, "ド": {"d", "o"}, "デ": {"d", "e"}, "ディ": {"d", "i"}, "ダ": {"d", "a"},
	"デョ": {"dy", "o"}, "デュ": {"dy", "u"}, "デャ": {"dy", "a"},
	"トゥ": {"t", "u"}, "ト": {"t", "o"}, "テ": {"t", "e"}, "ティ": {"t", "i"}, "タ": {"t", "a"},
	"テョ": {"ty", "o"}, "テュ": {"ty", "u"}, "テャ": {"ty", "a"},
	"ツォ": {"ts", "o"}, "ツェ": {"ts", "e"}, "ツィ": {"ts", "i"}, "ツァ": {"ts", "a"}, "ツ": {"ts", "u"},
	"チョ": {"ch", "o"}, "チュ": {"ch", "u"}, "チャ": {"ch", "a"}, "チェ": {"ch", "e"}, "チ": {"ch", "i"},
	"ヂ": {"j", "i"}, "ヅ": {"z", "u"},
	"ゾ": {"z", "o"}, "ゼ": {"z", "e"}, "ズィ": {"z", "i"}, "ズ": {"z", "u"}, "ザ": {"z", "a"},
	"ソ": {"s", "o"}, "セ": {"s", "e"}, "スィ": {"s", "i"}, "ス": {"s", "u"}, "サ": {"s", "a"},
	"ジョ": {"j", "o"}, "ジュ": {"j", "u"}, "ジャ": {"j", "a"}, "ジェ": {"j", "e"}, "ジ": {"j", "i"},
	"ショ": {"sh", "o"}, "シュ": {"sh", "u"}, "シャ": {"sh", "a"}, "シェ": {"sh", "e"}, "シ": {"sh", "i"},
	"ゴ": {"g", "o"}, "ゲ": {"g", "e"}, "グ": {"g", "u"}, "ギ": {"g", "i"}, "ガ": {"g", "a"},
	"グヮ": {"gw", "a"}, "ギョ": {"gy", "o"}, "ギュ": {"gy", "u"}, "ギャ": {"gy", "a"}, "ギェ": {"gy", "e"},
	"コ": {"k", "o"}, "ケ": {"k", "e"}, "ク": {"k", "u"}, "キ": {"k", "i"}, "カ": {"k", "a"},
	"クヮ": {"kw", "a"}, "キョ": {"ky", "o"}, "キュ": {"ky", "u"}, "キャ": {"ky", "a"}, "キェ": {"ky", "e"},
	"オ": {"", "o"}, "エ": {"", "e"}, "ウ": {"", "u"}, "イ": {"", "i"}, "ア": {"", "a"},
	"ォ": {"", "o"}, "ェ": {"", "e"}, "ゥ": {"", "u"}, "ィ": {"", "i"}, "ァ": {"", "a"},
	"ウォ": {"w", "o"}, "ウェ": {"w", "e"}, "ウィ": {"w", "i"}, "イェ": {"y", "e"},
}

// LongVowel 是长音符号，母音沿用前一个音拍。
const LongVowel = "ー"

// vowelKana 用于生成疑问句上扬时追加的音拍文本。
var vowelKana = map[string]string{"a": "ア", "i": "イ", "u": "ウ", "e": "エ", "o": "オ", "N": "ン"}

// VowelText 返回母音对应的片假名。
func VowelText(vowel string) string {
	return vowelKana[strings.ToLower(vowel)]
}

// IsUnvoicedVowel 判断是否为无声化母音（大写 AIUEO）。
func IsUnvoicedVowel(vowel string) bool {
	switch vowel {
	case "A", "I", "U", "E", "O":
		return true
	}
	return false
}

func isPlainVowel(vowel string) bool {
	switch vowel {
	case "a", "i", "u", "e", "o":
		return true
	}
	return false
}

// NewMora 根据子音和母音构造长度、音高均为 0 的音拍。
func NewMora(text, consonant, vowel string) query.Mora {
	m := query.Mora{Text: text, Vowel: vowel}
	if consonant != "" {
		m.Consonant = query.Str(consonant)
		m.ConsonantLength = query.Float(0)
	}
	return m
}

// PauseMora 返回停顿音拍。
func PauseMora() *query.Mora {
	return &query.Mora{Text: "、", Vowel: "pau"}
}

// nextMora 从 s 开头按最长匹配取出一个音拍，返回音拍文本和消耗的字节数。
func nextMora(s string) (string, moraSound, bool) {
	if strings.HasPrefix(s, LongVowel) {
		return LongVowel, moraSound{}, true
	}
	r1, n1 := utf8.DecodeRuneInString(s)
	if r1 == utf8.RuneError {
		return "", moraSound{}, false
	}
	if n1 < len(s) {
		_, n2 := utf8.DecodeRuneInString(s[n1:])
		two := s[:n1+n2]
		if snd, ok := moraTable[two]; ok {
			return two, snd, true
		}
	}
	one := s[:n1]
	snd, ok := moraTable[one]
	return one, snd, ok
}

// SplitMoras 把片假名读音切分为音拍。长音沿用前一个音拍的母音。
func SplitMoras(reading string) ([]query.Mora, error) {
	var moras []query.Mora
	for rest := reading; rest != ""; {
		text, snd, ok := nextMora(rest)
		if !ok {
			r, _ := utf8.DecodeRuneInString(rest)
			return nil, fmt.Errorf("无法识别的读音字符 %q", r)
		}
		if text == LongVowel {
			prev, err := previousVowel(moras)
			if err != nil {
				return nil, err
			}
			snd = moraSound{vowel: prev}
		}
		moras = append(moras, NewMora(text, snd.consonant, snd.vowel))
		rest = rest[len(text):]
	}
	return moras, nil
}

func previousVowel(moras []query.Mora) (string, error) {
	if len(moras) == 0 {
		return "", fmt.Errorf("长音符号不能出现在开头")
	}
	v := strings.ToLower(moras[len(moras)-1].Vowel)
	if !isPlainVowel(v) {
		return "", fmt.Errorf("长音符号前必须是母音")
	}
	return v, nil
}

// ToKatakana 把平假名转换为片假名，其他字符原样保留。
func ToKatakana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'ぁ' && r <= 'ゖ' {
			return r + ('ァ' - 'ぁ')
		}
		return r
	}, s)
}

// IsKana 判断字符是否为假名或长音符号。
func IsKana(r rune) bool {
	return (r >= 'ぁ' && r <= 'ゖ') || (r >= 'ァ' && r <= 'ヺ') || r == 'ー'
}
