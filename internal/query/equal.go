package query

// Equal 按字段逐一比较两个文档。nil 与空的重音短语列表视为相同。
func Equal(a, b *AudioQuery) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.SpeedScale != b.SpeedScale ||
		a.PitchScale != b.PitchScale ||
		a.IntonationScale != b.IntonationScale ||
		a.VolumeScale != b.VolumeScale ||
		a.PrePhonemeLength != b.PrePhonemeLength ||
		a.PostPhonemeLength != b.PostPhonemeLength ||
		a.PauseLengthScale != b.PauseLengthScale ||
		a.OutputSamplingRate != b.OutputSamplingRate ||
		a.OutputStereo != b.OutputStereo {
		return false
	}
	if !eqFloatPtr(a.PauseLength, b.PauseLength) || !eqStrPtr(a.Kana, b.Kana) {
		return false
	}
	return EqualAccentPhrases(a.AccentPhrases, b.AccentPhrases)
}

// EqualAccentPhrases 比较两个重音短语列表。
func EqualAccentPhrases(a, b []AccentPhrase) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := &a[i], &b[i]
		if x.Accent != y.Accent || x.IsInterrogative != y.IsInterrogative || len(x.Moras) != len(y.Moras) {
			return false
		}
		for j := range x.Moras {
			if !equalMora(&x.Moras[j], &y.Moras[j]) {
				return false
			}
		}
		if (x.PauseMora == nil) != (y.PauseMora == nil) {
			return false
		}
		if x.PauseMora != nil && !equalMora(x.PauseMora, y.PauseMora) {
			return false
		}
	}
	return true
}

func equalMora(a, b *Mora) bool {
	return a.Text == b.Text &&
		a.Vowel == b.Vowel &&
		a.VowelLength == b.VowelLength &&
		a.Pitch == b.Pitch &&
		eqStrPtr(a.Consonant, b.Consonant) &&
		eqFloatPtr(a.ConsonantLength, b.ConsonantLength)
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Clone 深拷贝文档，修改副本不会影响原文档。
func (q *AudioQuery) Clone() *AudioQuery {
	if q == nil {
		return nil
	}
	c := *q
	c.AccentPhrases = CloneAccentPhrases(q.AccentPhrases)
	if q.PauseLength != nil {
		c.PauseLength = Float(*q.PauseLength)
	}
	if q.Kana != nil {
		c.Kana = Str(*q.Kana)
	}
	return &c
}

// CloneAccentPhrases 深拷贝重音短语列表。
func CloneAccentPhrases(in []AccentPhrase) []AccentPhrase {
	if in == nil {
		return nil
	}
	out := make([]AccentPhrase, len(in))
	for i, ap := range in {
		out[i] = ap
		out[i].Moras = make([]Mora, len(ap.Moras))
		for j, m := range ap.Moras {
			out[i].Moras[j] = cloneMora(m)
		}
		if ap.PauseMora != nil {
			pm := cloneMora(*ap.PauseMora)
			out[i].PauseMora = &pm
		}
	}
	return out
}

func cloneMora(m Mora) Mora {
	c := m
	if m.Consonant != nil {
		c.Consonant = Str(*m.Consonant)
	}
	if m.ConsonantLength != nil {
		c.ConsonantLength = Float(*m.ConsonantLength)
	}
	return c
}
