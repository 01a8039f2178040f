package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStripsDiacritics(t *testing.T) {
	ln := NewLanguageNormalizer(nil)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"fatha and shadda", "مُوَظَّف", "موظف"},
		{"tanween", "شكراً", "شكرا"},
		{"tatweel", "موظـــف", "موظف"},
		{"hamza alif forms", "أحمد إلى آخر", "احمد الي اخر"},
		{"taa marbuta", "إجازة سنوية", "اجازه سنويه"},
		{"alif maksura", "مستوى", "مستوي"},
		{"zero width joiner", "اجازه‍سنويه", "اجازهسنويه"},
		{"whitespace collapse", "اجازه   سنويه \n\n مدفوعه", "اجازه سنويه مدفوعه"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ln.Normalize(tt.input))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	ln := NewLanguageNormalizer(nil)

	inputs := []string{
		"مُوَظَّفٌ جديدٌ في الشَّرِكَة",
		"Annual   leave policy!!!",
		"إجازة أمومة لمدة ١٠ أسابيع",
		"mixed نص عربي and English",
	}
	for _, input := range inputs {
		once := ln.Normalize(input)
		assert.Equal(t, once, ln.Normalize(once), "normalization must be idempotent for %q", input)
	}
}

func TestTokenizePreservesDigitsAndDates(t *testing.T) {
	ln := NewLanguageNormalizer(nil)

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"western digits", "30 days leave", []string{"30", "days", "leave"}},
		{"arabic indic digits", "اجازه ٣٠ يوم", []string{"اجازه", "٣٠", "يوم"}},
		{"date token", "العقد ينتهي 2025/12/31 حسب", []string{"العقد", "ينتهي", "2025/12/31", "حسب"}},
		{"time token", "الدوام 8:30 صباحا", []string{"الدوام", "8:30", "صباحا"}},
		{"trailing period not kept", "ends 31. next", []string{"ends", "31", "next"}},
		{"lowercases words", "Annual LEAVE Policy", []string{"annual", "leave", "policy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ln.Tokenize(tt.input, false))
		})
	}
}

func TestTokenizeRemovesStopwords(t *testing.T) {
	ln := NewLanguageNormalizer(nil)

	tokens := ln.Tokenize("ما هي مده الاجازه في النظام", true)
	assert.NotContains(t, tokens, "في")
	assert.NotContains(t, tokens, "ما")
	assert.Contains(t, tokens, "الاجازه")

	tokens = ln.Tokenize("what is the notice period for termination", true)
	assert.NotContains(t, tokens, "the")
	assert.NotContains(t, tokens, "what")
	assert.Contains(t, tokens, "termination")
}

func TestStem(t *testing.T) {
	ln := NewLanguageNormalizer(nil)

	tests := []struct {
		input    string
		expected string
	}{
		{"والموظفين", "موظف"},
		{"بالاجازات", "اجاز"},
		{"الراتب", "راتب"},
		{"termination", "termination"}, // non-Arabic passes through
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ln.Stem(tt.input), "stem of %q", tt.input)
	}

	// Short tokens are left alone rather than stemmed into nothing.
	short := ln.Stem("الى")
	assert.NotEmpty(t, short)
}

func TestDetectLanguage(t *testing.T) {
	ln := NewLanguageNormalizer(nil)

	assert.Equal(t, LanguageArabic, ln.DetectLanguage("ما هي مدة الإجازة السنوية المدفوعة"))
	assert.Equal(t, LanguageEnglish, ln.DetectLanguage("how many days of annual leave do I get"))
	assert.Equal(t, LanguageMixed, ln.DetectLanguage("ما هو ال annual leave balance الخاص بي خلال السنه"))
	assert.Equal(t, LanguageEnglish, ln.DetectLanguage("12345 !!!"))
}

func TestDetectDirection(t *testing.T) {
	ln := NewLanguageNormalizer(nil)

	assert.Equal(t, DirectionRTL, ln.DetectDirection("هذا نص عربي بالكامل"))
	assert.Equal(t, DirectionLTR, ln.DetectDirection("this is english text"))
	assert.Equal(t, DirectionRTL, ln.DetectDirection("سؤال عن salary بالعربي غالبا"))
	assert.Equal(t, DirectionLTR, ln.DetectDirection(""))
}

func TestAnalyzeSentiment(t *testing.T) {
	ln := NewLanguageNormalizer(nil)

	positive := ln.AnalyzeSentiment("شكرا جزيلا الخدمة ممتازة")
	assert.Equal(t, SentimentPositive, positive.Label)
	assert.Greater(t, positive.Confidence, 0.0)
	assert.Contains(t, positive.DetectedLanguages, LanguageArabic)

	negative := ln.AnalyzeSentiment("this is a terrible and unfair decision")
	assert.Equal(t, SentimentNegative, negative.Label)
	assert.Contains(t, negative.DetectedLanguages, LanguageEnglish)

	neutral := ln.AnalyzeSentiment("the meeting is at noon")
	assert.Equal(t, SentimentNeutral, neutral.Label)

	empty := ln.AnalyzeSentiment("")
	assert.Equal(t, SentimentNeutral, empty.Label)
	assert.Empty(t, empty.DetectedLanguages)
}
