package rag

import (
	"log/slog"
	"strings"
)

// QueryExpander widens lexical recall by appending bilingual HR synonyms for
// recognized query terms. Expansion feeds only the lexical leg; the vector
// leg embeds the unexpanded normalized query.
type QueryExpander struct {
	synonyms map[string][]string
	maxTerms int
	logger   *slog.Logger
}

// NewQueryExpander creates an expander over the built-in HR synonym sets.
// maxTerms caps how many synonyms are appended; <= 0 means 6.
func NewQueryExpander(maxTerms int) *QueryExpander {
	if maxTerms <= 0 {
		maxTerms = 6
	}
	return &QueryExpander{
		synonyms: hrSynonyms,
		maxTerms: maxTerms,
		logger:   slog.Default().With("component", "query-expander"),
	}
}

// Expand returns the lexical search text: the normalized query followed by
// synonyms of any recognized tokens or stems, deduplicated against terms
// already present.
func (qx *QueryExpander) Expand(analysis *QueryAnalysis) string {
	present := map[string]bool{}
	for _, token := range analysis.Tokens {
		present[token] = true
	}
	for _, stem := range analysis.Stems {
		present[stem] = true
	}

	var added []string
	for _, term := range append(append([]string{}, analysis.Stems...), analysis.Tokens...) {
		for _, synonym := range qx.synonyms[term] {
			if present[synonym] {
				continue
			}
			present[synonym] = true
			added = append(added, synonym)
			if len(added) >= qx.maxTerms {
				break
			}
		}
		if len(added) >= qx.maxTerms {
			break
		}
	}

	if len(added) == 0 {
		return analysis.NormalizedQuery
	}
	return analysis.NormalizedQuery + " " + strings.Join(added, " ")
}

// hrSynonyms groups interchangeable HR terms across both languages. Keys are
// post-normalization forms (hamza unified, taa marbuta folded).
var hrSynonyms = map[string][]string{
	"اجازه":       {"عطله", "leave", "vacation"},
	"اجاز":        {"عطله", "leave", "vacation"},
	"عطله":        {"اجازه", "holiday"},
	"راتب":        {"اجر", "salary", "wage"},
	"اجر":         {"راتب", "salary"},
	"فصل":         {"انهاء", "termination", "dismissal"},
	"انهاء":       {"فصل", "termination"},
	"استقاله":     {"resignation", "استقال"},
	"عقد":         {"contract", "اتفاقيه"},
	"مكافاه":      {"bonus", "علاوه"},
	"تعويض":       {"compensation", "بدل"},
	"تامين":       {"insurance", "طبي"},
	"leave":       {"vacation", "اجازه", "holiday"},
	"vacation":    {"leave", "اجازه"},
	"salary":      {"wage", "راتب", "pay"},
	"wage":        {"salary", "اجر"},
	"termination": {"dismissal", "فصل", "انهاء"},
	"dismissal":   {"termination", "فصل"},
	"resignation": {"استقاله", "resign"},
	"contract":    {"عقد", "agreement"},
	"bonus":       {"مكافاه", "incentive"},
	"overtime":    {"اضافي", "extra"},
	"insurance":   {"تامين", "medical"},
	"gratuity":    {"مكافاه", "تقاعد"},
	"probation":   {"تجربه", "trial"},
	"notice":      {"اشعار"},
}
