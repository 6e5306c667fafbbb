package synthesizer

import (
	"github.com/iabetor/pivox/internal/kana"
	"github.com/iabetor/pivox/internal/ort"
	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
)

// CreateAccentPhrases 分析文本并填入该风格的音素时长和音高。
func (s *Synthesizer) CreateAccentPhrases(text string, style uint32) ([]query.AccentPhrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createAccentPhrases(text, style)
}

func (s *Synthesizer) createAccentPhrases(text string, style uint32) ([]query.AccentPhrase, error) {
	m, inner, err := s.lookupStyle("create_accent_phrases", style)
	if err != nil {
		return nil, err
	}
	if s.dict == nil {
		return nil, result.New(result.KindDictionary, result.CodeNotLoadedDict, "create_accent_phrases", "dictionary is not loaded")
	}
	phrases, err := s.dict.Analyze(text)
	if err != nil {
		return nil, err
	}
	return m.replaceMoraData(phrases, inner)
}

// CreateAccentPhrasesFromKana 解析假名标记法并填入音素时长和音高，不使用词典。
func (s *Synthesizer) CreateAccentPhrasesFromKana(kanaText string, style uint32) ([]query.AccentPhrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createAccentPhrasesFromKana(kanaText, style)
}

func (s *Synthesizer) createAccentPhrasesFromKana(kanaText string, style uint32) ([]query.AccentPhrase, error) {
	m, inner, err := s.lookupStyle("create_accent_phrases_from_kana", style)
	if err != nil {
		return nil, err
	}
	phrases, err := kana.Parse(kanaText)
	if err != nil {
		return nil, err
	}
	return m.replaceMoraData(phrases, inner)
}

// ReplaceMoraData 重新计算音素时长和音高，返回新的重音短语。
func (s *Synthesizer) ReplaceMoraData(phrases []query.AccentPhrase, style uint32) ([]query.AccentPhrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, inner, err := s.lookupStyle("replace_mora_data", style)
	if err != nil {
		return nil, err
	}
	return m.replaceMoraData(phrases, inner)
}

// ReplacePhonemeLength 只重新计算音素时长。
func (s *Synthesizer) ReplacePhonemeLength(phrases []query.AccentPhrase, style uint32) ([]query.AccentPhrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, inner, err := s.lookupStyle("replace_phoneme_length", style)
	if err != nil {
		return nil, err
	}
	out := query.CloneAccentPhrases(phrases)
	if err := m.replacePhonemeLength(out, inner); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceMoraPitch 只重新计算音拍音高。
func (s *Synthesizer) ReplaceMoraPitch(phrases []query.AccentPhrase, style uint32) ([]query.AccentPhrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, inner, err := s.lookupStyle("replace_mora_pitch", style)
	if err != nil {
		return nil, err
	}
	out := query.CloneAccentPhrases(phrases)
	if err := m.replaceMoraPitch(out, inner); err != nil {
		return nil, err
	}
	return out, nil
}

// AudioQuery 由文本生成带默认参数的 AudioQuery，kana 字段为分析结果的假名标记。
func (s *Synthesizer) AudioQuery(text string, style uint32) (*query.AudioQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	phrases, err := s.createAccentPhrases(text, style)
	if err != nil {
		return nil, err
	}
	return query.New(phrases, kana.Create(phrases)), nil
}

// AudioQueryFromKana 由假名标记法生成 AudioQuery。
func (s *Synthesizer) AudioQueryFromKana(kanaText string, style uint32) (*query.AudioQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	phrases, err := s.createAccentPhrasesFromKana(kanaText, style)
	if err != nil {
		return nil, err
	}
	return query.New(phrases, kanaText), nil
}

func (m *model) replaceMoraData(phrases []query.AccentPhrase, inner int) ([]query.AccentPhrase, error) {
	out := query.CloneAccentPhrases(phrases)
	if err := m.replacePhonemeLength(out, inner); err != nil {
		return nil, err
	}
	if err := m.replaceMoraPitch(out, inner); err != nil {
		return nil, err
	}
	return out, nil
}

func runErr(op string, err error) error {
	return result.Wrap(result.KindSynthesis, result.CodeRunModel, op, err, "推理失败")
}

func phonemeID(op, p string) (int64, error) {
	id := kana.PhonemeID(p)
	if id < 0 {
		return 0, result.Newf(result.KindSynthesis, result.CodeInvalidAccentPhrase, op, "unknown phoneme %q", p)
	}
	return int64(id), nil
}

// replacePhonemeLength 按 pau + 各音拍（子音、母音、停顿）+ pau 的顺序预测时长。
func (m *model) replacePhonemeLength(phrases []query.AccentPhrase, inner int) error {
	const op = "replace_phoneme_length"
	moras := query.FlattenMoras(phrases)
	phonemes := []int64{0}
	for _, mo := range moras {
		if mo.Consonant != nil {
			id, err := phonemeID(op, *mo.Consonant)
			if err != nil {
				return err
			}
			phonemes = append(phonemes, id)
		}
		id, err := phonemeID(op, mo.Vowel)
		if err != nil {
			return err
		}
		phonemes = append(phonemes, id)
	}
	phonemes = append(phonemes, 0)

	m.mu.Lock()
	var lengths []float32
	var err error
	if m.session == nil {
		err = errSessionClosed
	} else {
		lengths, err = m.session.PredictDuration(phonemes, inner)
	}
	m.mu.Unlock()
	if err != nil {
		return runErr(op, err)
	}
	if len(lengths) != len(phonemes) {
		return runErr(op, errLength(len(lengths), len(phonemes)))
	}

	i := 1
	for _, mo := range moras {
		if mo.Consonant != nil {
			mo.ConsonantLength = query.Float(float64(lengths[i]))
			i++
		}
		mo.VowelLength = float64(lengths[i])
		i++
	}
	return nil
}

// replaceMoraPitch 以音拍为单位构造重音特征并预测音高。
// 无声母音、促音和停顿的音高固定为 0。
func (m *model) replaceMoraPitch(phrases []query.AccentPhrase, inner int) error {
	const op = "replace_mora_pitch"
	in := ort.IntonationInput{}
	push := func(vowel, consonant int64, sa, ea, sp, ep int64) {
		in.Vowels = append(in.Vowels, vowel)
		in.Consonants = append(in.Consonants, consonant)
		in.StartAccent = append(in.StartAccent, sa)
		in.EndAccent = append(in.EndAccent, ea)
		in.StartPhrase = append(in.StartPhrase, sp)
		in.EndPhrase = append(in.EndPhrase, ep)
	}
	flag := func(b bool) int64 {
		if b {
			return 1
		}
		return 0
	}

	push(0, -1, 0, 0, 0, 0)
	for _, ap := range phrases {
		start := 1
		if ap.Accent == 1 {
			start = 0
		}
		for j, mo := range ap.Moras {
			vowel, err := phonemeID(op, mo.Vowel)
			if err != nil {
				return err
			}
			consonant := int64(-1)
			if mo.Consonant != nil {
				if consonant, err = phonemeID(op, *mo.Consonant); err != nil {
					return err
				}
			}
			push(vowel, consonant, flag(j == start), flag(j == ap.Accent-1), flag(j == 0), flag(j == len(ap.Moras)-1))
		}
		if ap.PauseMora != nil {
			push(0, -1, 0, 0, 0, 0)
		}
	}
	push(0, -1, 0, 0, 0, 0)

	m.mu.Lock()
	var f0 []float32
	var err error
	if m.session == nil {
		err = errSessionClosed
	} else {
		f0, err = m.session.PredictIntonation(in, inner)
	}
	m.mu.Unlock()
	if err != nil {
		return runErr(op, err)
	}
	if len(f0) != len(in.Vowels) {
		return runErr(op, errLength(len(f0), len(in.Vowels)))
	}

	for i, mo := range query.FlattenMoras(phrases) {
		pitch := float64(f0[i+1])
		if isSilentVowel(mo.Vowel) {
			pitch = 0
		}
		mo.Pitch = pitch
	}
	return nil
}

func isSilentVowel(v string) bool {
	return v == "pau" || v == "cl" || kana.IsUnvoicedVowel(v)
}
