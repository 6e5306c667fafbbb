package kana

// Phonemes 是声学模型使用的音素表，下标即音素 ID。
var Phonemes = []string{
	"pau", "A", "E", "I", "N", "O", "U", "a", "b", "by", "ch", "cl", "d", "dy", "e", "f",
	"g", "gw", "gy", "h", "hy", "i", "j", "k", "kw", "ky", "m", "my", "n", "ny", "o",
	"p", "py", "r", "ry", "s", "sh", "t", "ts", "ty", "u", "v", "w", "y", "z",
}

var phonemeIndex = func() map[string]int {
	m := make(map[string]int, len(Phonemes))
	for i, p := range Phonemes {
		m[p] = i
	}
	return m
}()

// PhonemeID 返回音素 ID，未知音素返回 -1。
func PhonemeID(p string) int {
	if id, ok := phonemeIndex[p]; ok {
		return id
	}
	return -1
}

// PhonemeClass 是音素的发声类别，解码器据此选择激励源。
type PhonemeClass int

const (
	ClassSilence PhonemeClass = iota
	ClassVowel
	ClassUnvoicedVowel
	ClassNasal
	ClassApproximant
	ClassVoicedStop
	ClassUnvoicedStop
	ClassVoicedFricative
	ClassUnvoicedFricative
)

// Classify 返回音素类别。
func Classify(p string) PhonemeClass {
	switch p {
	case "pau", "cl":
		return ClassSilence
	case "a", "i", "u", "e", "o":
		return ClassVowel
	case "A", "I", "U", "E", "O":
		return ClassUnvoicedVowel
	case "N", "m", "my", "n", "ny":
		return ClassNasal
	case "r", "ry", "w", "y", "gw":
		return ClassApproximant
	case "b", "by", "d", "dy", "g", "gy":
		return ClassVoicedStop
	case "k", "ky", "kw", "p", "py", "t", "ty":
		return ClassUnvoicedStop
	case "z", "j", "v":
		return ClassVoicedFricative
	case "s", "sh", "h", "hy", "f", "ts", "ch":
		return ClassUnvoicedFricative
	}
	return ClassSilence
}

// IsVoiced 判断音素是否带声带振动。
func IsVoiced(p string) bool {
	switch Classify(p) {
	case ClassVowel, ClassNasal, ClassApproximant, ClassVoicedStop, ClassVoicedFricative:
		return true
	}
	return false
}
