// Package summary recomputes the per-batch aggregates served to the
// dashboard: score means, NPS, comment histograms and score distributions.
// Everything here is derived data and safe to recompute at any time.
package summary

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/skawano/lecfeed/internal/database"
)

// allAttributes is the student-attribute scope summaries are computed for.
const allAttributes = "ALL"

// Histogram analysis types stored in comment_summaries.
const (
	AnalysisSentiment  = "sentiment"
	AnalysisCategory   = "category"
	AnalysisImportance = "importance"
)

type Aggregator struct {
	db       *database.DB
	npsScale int
}

// New returns an aggregator for the given NPS scale (10 or 5).
func New(db *database.DB, npsScale int) *Aggregator {
	if npsScale != 5 {
		npsScale = 10
	}
	return &Aggregator{db: db, npsScale: npsScale}
}

// Recompute rebuilds every aggregate for one batch from its stored responses
// and comments. Running it twice in a row leaves the database unchanged.
func (a *Aggregator) Recompute(ctx context.Context, batchID int64) (*database.SurveySummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	responses, err := a.db.GetResponsesForBatch(batchID)
	if err != nil {
		return nil, fmt.Errorf("loading responses: %w", err)
	}
	comments, err := a.db.GetCommentsForBatch(batchID)
	if err != nil {
		return nil, fmt.Errorf("loading comments: %w", err)
	}

	summary := &database.SurveySummary{
		BatchID:          batchID,
		StudentAttribute: allAttributes,
		Scores:           scoreMeans(responses),
		ResponseCount:    len(responses),
	}
	a.applyNPS(summary, responses)

	histograms := commentHistograms(comments)
	summary.CommentsCount = len(comments)
	summary.ImportantCommentsCount = histograms[AnalysisImportance]["medium"] + histograms[AnalysisImportance]["high"]

	if err := a.db.UpsertSurveySummary(summary); err != nil {
		return nil, fmt.Errorf("storing survey summary: %w", err)
	}
	if err := a.db.ReplaceCommentSummaries(batchID, allAttributes, histogramRows(batchID, histograms)); err != nil {
		return nil, fmt.Errorf("storing comment summaries: %w", err)
	}
	if err := a.db.ReplaceScoreDistributions(batchID, allAttributes, distributionRows(batchID, responses)); err != nil {
		return nil, fmt.Errorf("storing score distributions: %w", err)
	}
	return summary, nil
}

// scoreMeans averages each rated dimension independently: a respondent who
// skipped one question still counts toward the others. Dimensions nobody
// answered stay nil.
func scoreMeans(responses []database.SurveyResponse) map[string]*float64 {
	means := make(map[string]*float64, len(database.ScoreKeys))
	for _, key := range database.ScoreKeys {
		var sum, count int
		for i := range responses {
			if v := responses[i].Scores.ByKey(key); v != nil {
				sum += *v
				count++
			}
		}
		if count == 0 {
			means[key] = nil
			continue
		}
		mean := round2(float64(sum) / float64(count))
		means[key] = &mean
	}
	return means
}

func (a *Aggregator) applyNPS(summary *database.SurveySummary, responses []database.SurveyResponse) {
	for i := range responses {
		v := responses[i].Recommend
		if v == nil {
			continue
		}
		summary.NPSTotal++
		switch a.classifyRecommend(*v) {
		case 1:
			summary.NPSPromoters++
		case 0:
			summary.NPSPassives++
		case -1:
			summary.NPSDetractors++
		}
	}
	if summary.NPSTotal == 0 {
		summary.NPSScore = 0.0
		return
	}
	summary.NPSScore = round1(float64(summary.NPSPromoters-summary.NPSDetractors) * 100 / float64(summary.NPSTotal))
}

// classifyRecommend buckets one recommend answer: 1 promoter, 0 passive,
// -1 detractor. The 10 scale uses 9-10/7-8/0-6; the 5 scale uses 5/3-4/1-2.
func (a *Aggregator) classifyRecommend(v int) int {
	if a.npsScale == 5 {
		switch {
		case v >= 5:
			return 1
		case v >= 3:
			return 0
		default:
			return -1
		}
	}
	switch {
	case v >= 9:
		return 1
	case v >= 7:
		return 0
	default:
		return -1
	}
}

func commentHistograms(comments []database.ResponseComment) map[string]map[string]int {
	histograms := map[string]map[string]int{
		AnalysisSentiment:  {},
		AnalysisCategory:   {},
		AnalysisImportance: {},
	}
	for i := range comments {
		histograms[AnalysisSentiment][comments[i].Sentiment]++
		histograms[AnalysisCategory][comments[i].Category]++
		histograms[AnalysisImportance][comments[i].ImportanceLevel]++
	}
	return histograms
}

func histogramRows(batchID int64, histograms map[string]map[string]int) []database.CommentSummary {
	var rows []database.CommentSummary
	for _, analysisType := range []string{AnalysisSentiment, AnalysisCategory, AnalysisImportance} {
		labels := make([]string, 0, len(histograms[analysisType]))
		for label := range histograms[analysisType] {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			rows = append(rows, database.CommentSummary{
				BatchID:          batchID,
				StudentAttribute: allAttributes,
				AnalysisType:     analysisType,
				Label:            label,
				Count:            histograms[analysisType][label],
			})
		}
	}
	return rows
}

func distributionRows(batchID int64, responses []database.SurveyResponse) []database.ScoreDistribution {
	var rows []database.ScoreDistribution
	for _, key := range database.ScoreKeys {
		counts := map[int]int{}
		for i := range responses {
			if v := responses[i].Scores.ByKey(key); v != nil {
				counts[*v]++
			}
		}
		values := make([]int, 0, len(counts))
		for v := range counts {
			values = append(values, v)
		}
		sort.Ints(values)
		for _, v := range values {
			rows = append(rows, database.ScoreDistribution{
				BatchID:          batchID,
				StudentAttribute: allAttributes,
				QuestionKey:      key,
				ScoreValue:       v,
				Count:            counts[v],
			})
		}
	}
	return rows
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
