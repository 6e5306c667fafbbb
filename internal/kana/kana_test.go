package kana

import (
	"testing"

	"github.com/iabetor/pivox/internal/query"
	"github.com/iabetor/pivox/internal/result"
)

func TestSplitMoras(t *testing.T) {
	moras, err := SplitMoras("キョーワ")
	if err != nil {
		t.Fatalf("SplitMoras error: %v", err)
	}
	if len(moras) != 3 {
		t.Fatalf("expected 3 moras, got %d", len(moras))
	}
	if moras[0].Text != "キョ" || *moras[0].Consonant != "ky" || moras[0].Vowel != "o" {
		t.Errorf("unexpected first mora: %+v", moras[0])
	}
	if moras[1].Text != "ー" || moras[1].Consonant != nil || moras[1].Vowel != "o" {
		t.Errorf("long vowel should copy previous vowel: %+v", moras[1])
	}
	if moras[2].Vowel != "a" || *moras[2].Consonant != "w" {
		t.Errorf("unexpected last mora: %+v", moras[2])
	}
}

func TestSplitMorasSpecial(t *testing.T) {
	moras, err := SplitMoras("ガッコン")
	if err != nil {
		t.Fatalf("SplitMoras error: %v", err)
	}
	want := []string{"a", "cl", "o", "N"}
	for i, v := range want {
		if moras[i].Vowel != v {
			t.Errorf("mora %d vowel = %s, want %s", i, moras[i].Vowel, v)
		}
	}
	if moras[1].Consonant != nil || moras[3].Consonant != nil {
		t.Error("ッ and ン should have no consonant")
	}
}

func TestSplitMorasErrors(t *testing.T) {
	for _, in := range []string{"ーア", "ンー", "アbc"} {
		if _, err := SplitMoras(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestToKatakana(t *testing.T) {
	if got := ToKatakana("こんにちは、abc"); got != "コンニチハ、abc" {
		t.Errorf("ToKatakana = %q", got)
	}
}

func TestParseBasic(t *testing.T) {
	phrases, err := Parse("コンニチワ'/セ'カイ")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(phrases) != 2 {
		t.Fatalf("expected 2 phrases, got %d", len(phrases))
	}
	if phrases[0].Accent != 5 || len(phrases[0].Moras) != 5 {
		t.Errorf("phrase 0: accent=%d moras=%d", phrases[0].Accent, len(phrases[0].Moras))
	}
	if phrases[1].Accent != 1 || len(phrases[1].Moras) != 3 {
		t.Errorf("phrase 1: accent=%d moras=%d", phrases[1].Accent, len(phrases[1].Moras))
	}
	if phrases[0].PauseMora != nil {
		t.Error("'/' should not add a pause mora")
	}
	for _, m := range phrases[0].Moras {
		if m.Pitch != 0 || m.VowelLength != 0 {
			t.Errorf("parsed mora should have zero prosody: %+v", m)
		}
	}
}

func TestParsePauseAndInterrogative(t *testing.T) {
	phrases, err := Parse("ア'メ、_フル'？")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if phrases[0].PauseMora == nil || phrases[0].PauseMora.Vowel != "pau" {
		t.Error("expected pause mora after '、'")
	}
	if !phrases[1].IsInterrogative {
		t.Error("expected interrogative phrase")
	}
	if phrases[1].Moras[0].Vowel != "U" {
		t.Errorf("expected unvoiced vowel, got %s", phrases[1].Moras[0].Vowel)
	}
	if phrases[1].Accent != 2 {
		t.Errorf("accent = %d, want 2", phrases[1].Accent)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"trailing delimiter", "ア'/"},
		{"leading accent", "'ア"},
		{"double accent", "ア'イ'"},
		{"no accent", "アイ"},
		{"unknown char", "アX'"},
		{"misplaced interrogation", "ア？イ'"},
		{"dangling unvoice", "ア'_"},
		{"unvoice non vowel", "_ン'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			if err == nil {
				t.Fatalf("expected error for %q", tt.in)
			}
			if result.KindOf(err) != result.KindMalformedKana {
				t.Errorf("kind = %v, want MalformedKana", result.KindOf(err))
			}
			if result.CodeOf(err) != result.CodeParseKana {
				t.Errorf("code = %d, want %d", result.CodeOf(err), result.CodeParseKana)
			}
		})
	}
}

func TestCreateRoundTrip(t *testing.T) {
	inputs := []string{
		"コンニチワ'/セ'カイ",
		"ア'メ、_フル'？",
		"ヒョ'ー/_キ_シャ'、ガッコ'ー",
	}
	for _, in := range inputs {
		phrases, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", in, err)
		}
		if got := Create(phrases); got != in {
			t.Errorf("Create(Parse(%q)) = %q", in, got)
		}
		again, err := Parse(Create(phrases))
		if err != nil {
			t.Fatalf("reparse error: %v", err)
		}
		if !query.EqualAccentPhrases(phrases, again) {
			t.Errorf("reparse of %q not equal", in)
		}
	}
}

func TestPhonemes(t *testing.T) {
	if PhonemeID("pau") != 0 {
		t.Error("pau should be phoneme 0")
	}
	if PhonemeID("xx") != -1 {
		t.Error("unknown phoneme should be -1")
	}
	for _, snd := range moraTable {
		if snd.consonant != "" && PhonemeID(snd.consonant) < 0 {
			t.Errorf("consonant %q missing from phoneme table", snd.consonant)
		}
		if PhonemeID(snd.vowel) < 0 {
			t.Errorf("vowel %q missing from phoneme table", snd.vowel)
		}
	}
	if !IsVoiced("a") || IsVoiced("A") || IsVoiced("s") || !IsVoiced("m") {
		t.Error("unexpected voicing classification")
	}
}
