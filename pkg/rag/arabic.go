package rag

import (
	"strings"
	"unicode"
)

// LanguageNormalizer provides Arabic-aware text normalization, tokenization,
// light stemming, and direction/sentiment detection. All methods are pure
// transforms: malformed input never panics and empty input yields empty output.
type LanguageNormalizer struct {
	config *NormalizerConfig
}

// NormalizerConfig holds configuration for the language normalizer.
type NormalizerConfig struct {
	RemoveStopwords  bool     `json:"remove_stopwords"`
	ExtraStopwords   []string `json:"extra_stopwords,omitempty"`
	CollapseRuns     bool     `json:"collapse_runs"`
	StripZeroWidth   bool     `json:"strip_zero_width"`
	FoldTaaMarbuta   bool     `json:"fold_taa_marbuta"`
	FoldAlifMaksura  bool     `json:"fold_alif_maksura"`
	MinStemLength    int      `json:"min_stem_length"`
}

// NewLanguageNormalizer creates a normalizer with the given configuration.
func NewLanguageNormalizer(config *NormalizerConfig) *LanguageNormalizer {
	if config == nil {
		config = getDefaultNormalizerConfig()
	}
	return &LanguageNormalizer{config: config}
}

func getDefaultNormalizerConfig() *NormalizerConfig {
	return &NormalizerConfig{
		RemoveStopwords: false,
		CollapseRuns:    true,
		StripZeroWidth:  true,
		FoldTaaMarbuta:  true,
		FoldAlifMaksura: true,
		MinStemLength:    4,
	}
}

// TextDirection is the dominant writing direction of a text.
type TextDirection string

const (
	DirectionRTL TextDirection = "rtl"
	DirectionLTR TextDirection = "ltr"
)

// Sentiment labels.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// SentimentResult is the outcome of sentiment classification. For
// mixed-language input DetectedLanguages lists every language observed.
type SentimentResult struct {
	Label             SentimentLabel `json:"label"`
	Confidence        float64        `json:"confidence"`
	DetectedLanguages []string       `json:"detected_languages"`
}

// Normalize strips diacritics, unifies letter variants (hamza-bearing alif
// forms to bare alif, taa marbuta and alif maksura to their base forms),
// removes tatweel and zero-width characters, and collapses whitespace and
// punctuation runs. It is idempotent: Normalize(Normalize(x)) == Normalize(x).
func (ln *LanguageNormalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))

	var prev rune
	var prevWasSpace bool
	for _, r := range text {
		r = ln.foldRune(r)
		if r == 0 {
			continue
		}

		if unicode.IsSpace(r) {
			if prevWasSpace {
				continue
			}
			b.WriteRune(' ')
			prevWasSpace = true
			prev = ' '
			continue
		}
		prevWasSpace = false

		// Collapse runs of the same punctuation character.
		if ln.config.CollapseRuns && isPunct(r) && r == prev {
			continue
		}

		b.WriteRune(r)
		prev = r
	}

	return strings.TrimSpace(b.String())
}

// foldRune maps a rune to its normalized form, or 0 to drop it.
func (ln *LanguageNormalizer) foldRune(r rune) rune {
	switch {
	// Arabic diacritics: tanween, harakat, shadda, sukun, superscript alef.
	case r >= 0x064B && r <= 0x065F, r == 0x0670, r >= 0x0610 && r <= 0x061A, r >= 0x06D6 && r <= 0x06ED:
		return 0
	// Tatweel.
	case r == 0x0640:
		return 0
	// Zero-width characters and BOM.
	case ln.config.StripZeroWidth && (r == 0x200B || r == 0x200C || r == 0x200D || r == 0x200E || r == 0x200F || r == 0xFEFF):
		return 0
	// Hamza-bearing alif forms and alif with madda to bare alif.
	case r == 'أ' || r == 'إ' || r == 'آ':
		return 'ا'
	case ln.config.FoldTaaMarbuta && r == 'ة':
		return 'ه'
	case ln.config.FoldAlifMaksura && r == 'ى':
		return 'ي'
	}
	return r
}

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// Tokenize splits text on word boundaries, preserving embedded numerals in
// both Western and Arabic-Indic digit forms as well as date-like tokens
// (digit groups joined by / - . :). Word tokens are lowercased. When
// removeStopwords is set, tokens in the fixed stop-word set are dropped.
func (ln *LanguageNormalizer) Tokenize(text string, removeStopwords bool) []string {
	if text == "" {
		return nil
	}

	var tokens []string
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case isWordRune(r):
			j := i + 1
			for j < len(runes) && isWordRune(runes[j]) {
				j++
			}
			tokens = append(tokens, strings.ToLower(string(runes[i:j])))
			i = j
		case isDigitRune(r):
			j := i + 1
			for j < len(runes) {
				if isDigitRune(runes[j]) {
					j++
					continue
				}
				// Keep date/time separators only between digits.
				if (runes[j] == '/' || runes[j] == '-' || runes[j] == '.' || runes[j] == ':') &&
					j+1 < len(runes) && isDigitRune(runes[j+1]) {
					j += 2
					continue
				}
				break
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		default:
			i++
		}
	}

	if !removeStopwords {
		return tokens
	}

	filtered := tokens[:0]
	for _, tok := range tokens {
		if ln.isStopword(tok) {
			continue
		}
		filtered = append(filtered, tok)
	}
	return filtered
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isDigitRune(r rune) bool {
	if r >= '0' && r <= '9' {
		return true
	}
	// Arabic-Indic and extended Arabic-Indic digits.
	if r >= 0x0660 && r <= 0x0669 {
		return true
	}
	if r >= 0x06F0 && r <= 0x06F9 {
		return true
	}
	return false
}

func (ln *LanguageNormalizer) isStopword(token string) bool {
	lower := strings.ToLower(token)
	if _, ok := arabicStopwords[lower]; ok {
		return true
	}
	if _, ok := englishStopwords[lower]; ok {
		return true
	}
	for _, extra := range ln.config.ExtraStopwords {
		if lower == extra {
			return true
		}
	}
	return false
}

// Stem maps an inflected token to a shared root key sufficient for
// lexical-index grouping. It is a light prefix/suffix stripper, not a true
// morphological analyzer. Non-Arabic tokens pass through unchanged.
func (ln *LanguageNormalizer) Stem(token string) string {
	if token == "" {
		return ""
	}
	if !isArabicWord(token) {
		return token
	}

	stem := ln.Normalize(token)
	minLen := ln.config.MinStemLength
	if minLen <= 0 {
		minLen = 4
	}

	prefixes := []string{"وال", "بال", "كال", "فال", "لل", "ال", "و", "ف", "ب", "ل"}
	for _, p := range prefixes {
		if strings.HasPrefix(stem, p) && len([]rune(stem))-len([]rune(p)) >= minLen-1 {
			stem = strings.TrimPrefix(stem, p)
			break
		}
	}

	suffixes := []string{"يات", "هما", "كما", "ات", "ان", "ون", "ين", "ها", "هم", "هن", "كم", "نا", "يه", "ه", "ي", "ا"}
	for _, s := range suffixes {
		if strings.HasSuffix(stem, s) && len([]rune(stem))-len([]rune(s)) >= minLen-1 {
			stem = strings.TrimSuffix(stem, s)
			break
		}
	}

	return stem
}

// StemAll stems every token.
func (ln *LanguageNormalizer) StemAll(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = ln.Stem(t)
	}
	return out
}

// DetectDirection classifies a text as rtl or ltr using per-token script
// detection with a majority vote on mixed input. Empty and script-free input
// defaults to ltr.
func (ln *LanguageNormalizer) DetectDirection(text string) TextDirection {
	rtl, ltr := 0, 0
	for _, tok := range ln.Tokenize(text, false) {
		if isArabicWord(tok) {
			rtl++
		} else if hasLatinLetter(tok) {
			ltr++
		}
	}
	if rtl > ltr {
		return DirectionRTL
	}
	return DirectionLTR
}

// DetectLanguage classifies text as ar, en, or mixed by script composition.
func (ln *LanguageNormalizer) DetectLanguage(text string) string {
	arabic, latin := 0, 0
	for _, r := range text {
		switch {
		case isArabicRune(r):
			arabic++
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			latin++
		}
	}
	total := arabic + latin
	if total == 0 {
		return LanguageEnglish
	}
	arShare := float64(arabic) / float64(total)
	switch {
	case arShare >= 0.8:
		return LanguageArabic
	case arShare <= 0.2:
		return LanguageEnglish
	}
	return LanguageMixed
}

// AnalyzeSentiment classifies text as positive, negative, or neutral with a
// confidence score. Mixed-language input lists every detected language.
func (ln *LanguageNormalizer) AnalyzeSentiment(text string) SentimentResult {
	result := SentimentResult{Label: SentimentNeutral}
	if text == "" {
		result.DetectedLanguages = []string{}
		return result
	}

	langSet := map[string]bool{}
	tokens := ln.Tokenize(ln.Normalize(text), false)
	var pos, neg int
	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		if isArabicWord(tok) {
			langSet[LanguageArabic] = true
		} else if hasLatinLetter(tok) {
			langSet[LanguageEnglish] = true
		}
		stem := ln.Stem(lower)
		if positiveLexicon[lower] || positiveLexicon[stem] {
			pos++
		}
		if negativeLexicon[lower] || negativeLexicon[stem] {
			neg++
		}
	}

	for lang := range langSet {
		result.DetectedLanguages = append(result.DetectedLanguages, lang)
	}
	if len(result.DetectedLanguages) == 0 {
		result.DetectedLanguages = []string{}
	}

	matched := pos + neg
	if matched == 0 {
		return result
	}
	if pos > neg {
		result.Label = SentimentPositive
	} else if neg > pos {
		result.Label = SentimentNegative
	}
	result.Confidence = float64(absInt(pos-neg)) / float64(matched)
	if result.Label == SentimentNeutral {
		result.Confidence = 0.5
	}
	return result
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func isArabicRune(r rune) bool {
	return (r >= 0x0600 && r <= 0x06FF) || (r >= 0x0750 && r <= 0x077F) || (r >= 0x08A0 && r <= 0x08FF)
}

func isArabicWord(token string) bool {
	arabic, other := 0, 0
	for _, r := range token {
		if isArabicRune(r) {
			arabic++
		} else if unicode.IsLetter(r) {
			other++
		}
	}
	return arabic > 0 && arabic >= other
}

func hasLatinLetter(token string) bool {
	for _, r := range token {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

// arabicStopwords is a fixed functional-word set for optional removal during
// tokenization. Entries are stored in normalized form.
var arabicStopwords = map[string]struct{}{
	"من": {}, "في": {}, "علي": {}, "على": {}, "الي": {}, "إلى": {}, "عن": {},
	"ان": {}, "أن": {}, "ما": {}, "لا": {}, "لم": {}, "لن": {}, "قد": {},
	"هذا": {}, "هذه": {}, "ذلك": {}, "تلك": {}, "التي": {}, "الذي": {},
	"و": {}, "او": {}, "أو": {}, "ثم": {}, "كان": {}, "كانت": {}, "يكون": {},
	"هو": {}, "هي": {}, "هم": {}, "مع": {}, "كل": {}, "بعض": {}, "غير": {},
	"بين": {}, "حتي": {}, "حتى": {}, "اذا": {}, "إذا": {}, "هل": {}, "عند": {},
}

var englishStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "this": {}, "that": {},
	"it": {}, "as": {}, "by": {}, "from": {}, "what": {}, "which": {},
	"who": {}, "how": {}, "do": {}, "does": {}, "not": {}, "no": {},
}

// Small bilingual sentiment lexicons. Keys are lowercase/normalized.
var positiveLexicon = map[string]bool{
	"جيد": true, "ممتاز": true, "رائع": true, "شكرا": true, "سعيد": true,
	"موافق": true, "نجاح": true, "مفيد": true, "افضل": true, "حسن": true,
	"good": true, "great": true, "excellent": true, "happy": true,
	"thanks": true, "helpful": true, "best": true, "success": true,
}

var negativeLexicon = map[string]bool{
	"سيء": true, "سيئ": true, "ظلم": true, "مشكله": true, "مشكل": true,
	"غاضب": true, "رفض": true, "فشل": true, "خطا": true, "اسوا": true,
	"bad": true, "terrible": true, "angry": true, "problem": true,
	"unfair": true, "fail": true, "worst": true, "wrong": true,
}
