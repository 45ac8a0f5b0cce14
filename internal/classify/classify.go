// Package classify turns raw comment text plus an optional LLM analysis
// into the normalized values stored on a response comment. Classification
// never fails: when the LLM is unavailable or returns garbage, keyword and
// length heuristics fill in every field.
package classify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/skawano/lecfeed/internal/llm"
)

// Canonical category buckets.
const (
	CategoryContent    = "content"
	CategoryMaterials  = "materials"
	CategoryOperations = "operations"
	CategoryInstructor = "instructor"
	CategoryOther      = "other"
)

// Canonical sentiment values.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Canonical importance levels.
const (
	ImportanceHigh   = "high"
	ImportanceMedium = "medium"
	ImportanceLow    = "low"
)

// CategoryLabels maps canonical categories to their Japanese display labels.
var CategoryLabels = map[string]string{
	CategoryContent:    "講義内容",
	CategoryMaterials:  "講義資料",
	CategoryOperations: "運営",
	CategoryInstructor: "講師",
	CategoryOther:      "その他",
}

// improvementThreshold marks comments whose importance score demands a
// follow-up action.
const improvementThreshold = 0.7

// lengthScoreDivisor converts comment length in runes into the fallback
// importance score.
const lengthScoreDivisor = 400.0

// Analyzer is the slice of the LLM client that classification needs.
type Analyzer interface {
	Analyze(ctx context.Context, commentText string, meta llm.Context) (*llm.Result, error)
}

// Result holds the fully resolved classification of a single comment.
// Every field is populated; there are no nullable outcomes.
type Result struct {
	Category          string
	Sentiment         string
	ImportanceLevel   string
	ImportanceScore   float64
	ImprovementNeeded bool
	IsSafe            bool
	RiskLevel         string
	Summary           string
	Tags              []string
	Warnings          []string
	Skipped           bool
}

type Classifier struct {
	analyzer Analyzer
	ngWords  []string
}

func New(analyzer Analyzer, ngWords []string) *Classifier {
	return &Classifier{analyzer: analyzer, ngWords: ngWords}
}

// Classify analyzes a single comment. Required-question comments set skipLLM
// and are stored with heuristic values only. The returned result is always
// usable; LLM failures are downgraded to warnings.
func (c *Classifier) Classify(ctx context.Context, text string, meta llm.Context, skipLLM bool) Result {
	text = strings.TrimSpace(text)

	if skipLLM {
		score := lengthScore(text)
		return Result{
			Category:          CategoryOther,
			Sentiment:         SentimentNeutral,
			ImportanceLevel:   levelFromScore(score),
			ImportanceScore:   score,
			ImprovementNeeded: score > improvementThreshold,
			IsSafe:            !c.containsNGWord(text),
			Skipped:           true,
		}
	}

	analysis := &llm.Result{}
	var warnings []string
	if c.analyzer != nil {
		got, err := c.analyzer.Analyze(ctx, text, meta)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("llm analysis failed: %v", err))
		} else if got != nil {
			analysis = got
			warnings = append(warnings, got.Warnings...)
		}
	}

	score := c.resolveImportanceScore(text, analysis)

	return Result{
		Category:          c.resolveCategory(text, analysis.Category),
		Sentiment:         c.resolveSentiment(text, analysis.Sentiment),
		ImportanceLevel:   resolveImportanceLevel(analysis.ImportanceLevel, score),
		ImportanceScore:   score,
		ImprovementNeeded: score > improvementThreshold,
		IsSafe:            c.resolveSafety(text, analysis),
		RiskLevel:         strings.ToLower(strings.TrimSpace(analysis.RiskLevel)),
		Summary:           strings.TrimSpace(analysis.Summary),
		Tags:              analysis.Tags,
		Warnings:          warnings,
	}
}

// importanceOrdinals maps LLM importance labels to fixed scores.
var importanceOrdinals = map[string]float64{
	"critical":  1.0,
	"very_high": 1.0,
	"high":      0.8,
	"medium":    0.6,
	"low":       0.4,
	"minor":     0.2,
}

func (c *Classifier) resolveImportanceScore(text string, analysis *llm.Result) float64 {
	if analysis.ImportanceScore != nil {
		return round3(clamp01(*analysis.ImportanceScore))
	}
	if level := strings.ToLower(strings.TrimSpace(analysis.ImportanceLevel)); level != "" {
		if score, ok := importanceOrdinals[level]; ok {
			return score
		}
	}
	return lengthScore(text)
}

func lengthScore(text string) float64 {
	return round3(math.Min(float64(len([]rune(text)))/lengthScoreDivisor, 1.0))
}

func resolveImportanceLevel(raw string, score float64) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical", "very_high", "high":
		return ImportanceHigh
	case "medium", "moderate":
		return ImportanceMedium
	case "low", "minor":
		return ImportanceLow
	}
	return levelFromScore(score)
}

func levelFromScore(score float64) string {
	switch {
	case score > 0.7:
		return ImportanceHigh
	case score > 0.4:
		return ImportanceMedium
	default:
		return ImportanceLow
	}
}

// unsafeRiskLevels lists risk labels that mark a comment unsafe regardless of
// the is_safe flag.
var unsafeRiskLevels = map[string]bool{
	"high":     true,
	"critical": true,
	"severe":   true,
	"危険":       true,
}

func (c *Classifier) resolveSafety(text string, analysis *llm.Result) bool {
	if c.containsNGWord(text) {
		return false
	}
	if analysis.IsSafe != nil && !*analysis.IsSafe {
		return false
	}
	if unsafeRiskLevels[strings.ToLower(strings.TrimSpace(analysis.RiskLevel))] {
		return false
	}
	return true
}

func (c *Classifier) containsNGWord(text string) bool {
	for _, word := range c.ngWords {
		if word != "" && strings.Contains(text, word) {
			return true
		}
	}
	return false
}

func (c *Classifier) resolveCategory(text, llmCategory string) string {
	if category := matchCategory(llmCategory); category != "" {
		return category
	}
	if category := matchCategory(text); category != "" {
		return category
	}
	return CategoryOther
}

// categoryKeywords folds free-form category labels and raw comment text onto
// the canonical buckets. Order matters: the first bucket with a hit wins, so
// the more specific buckets come before content.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{CategoryMaterials, []string{"materials", "material", "資料", "教材", "スライド", "テキスト"}},
	{CategoryInstructor, []string{"instructor", "teacher", "講師", "先生", "話し方", "説明"}},
	{CategoryOperations, []string{"operations", "operation", "運営", "音声", "接続", "アナウンス", "案内", "事務"}},
	{CategoryContent, []string{"content", "講義内容", "内容", "カリキュラム", "演習"}},
}

func matchCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	for _, bucket := range categoryKeywords {
		if s == bucket.category {
			return bucket.category
		}
		for _, word := range bucket.words {
			if strings.Contains(s, word) {
				return bucket.category
			}
		}
	}
	if s == CategoryOther || strings.Contains(s, "その他") {
		return CategoryOther
	}
	return ""
}

func (c *Classifier) resolveSentiment(text, llmSentiment string) string {
	if strings.TrimSpace(llmSentiment) != "" {
		return NormalizeSentiment(llmSentiment)
	}
	return sentimentFromKeywords(text)
}

// NormalizeSentiment folds an LLM sentiment label onto the canonical
// positive/negative/neutral values. It accepts English tokens and the
// Japanese display labels in any case, is idempotent, and treats anything
// unrecognized as neutral.
func NormalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case SentimentPositive, "pos", "ポジティブ", "肯定的", "良い":
		return SentimentPositive
	case SentimentNegative, "neg", "ネガティブ", "否定的", "悪い":
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

var (
	positiveWords = []string{"良かった", "良い", "分かりやすかった", "わかりやすかった", "助かり", "満足", "楽し", "ありがとう", "素晴らし", "勉強になり"}
	negativeWords = []string{"悪かった", "悪い", "分かりにく", "わかりにく", "不満", "難しすぎ", "改善", "残念", "聞き取りにく", "困っ"}
)

func sentimentFromKeywords(text string) string {
	var positive, negative int
	for _, word := range positiveWords {
		positive += strings.Count(text, word)
	}
	for _, word := range negativeWords {
		negative += strings.Count(text, word)
	}
	switch {
	case positive > negative:
		return SentimentPositive
	case negative > positive:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
