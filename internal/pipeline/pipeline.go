// Package pipeline turns a stored survey file into persisted responses and
// classified comments for one batch.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/skawano/lecfeed/internal/classify"
	"github.com/skawano/lecfeed/internal/database"
	"github.com/skawano/lecfeed/internal/ingest"
	"github.com/skawano/lecfeed/internal/llm"
)

// Counts reports what one processing run produced. ProcessedComments can be
// lower than TotalComments when individual comment inserts fail.
type Counts struct {
	TotalResponses    int
	TotalComments     int
	ProcessedComments int
}

type Processor struct {
	db         *database.DB
	classifier *classify.Classifier
	parser     *ingest.Parser
}

func New(db *database.DB, classifier *classify.Classifier, parser *ingest.Parser) *Processor {
	return &Processor{db: db, classifier: classifier, parser: parser}
}

// Process parses the uploaded file and writes the batch's responses and
// comments. Re-running for the same batch replaces its previous rows, so a
// redelivered job converges to the same state. A *ingest.ValidationError
// return means the file itself is bad and retrying is pointless.
func (p *Processor) Process(ctx context.Context, batch *database.Batch, data []byte) (Counts, error) {
	var counts Counts

	survey, err := p.parser.Parse(data)
	if err != nil {
		return counts, err
	}

	if err := p.db.DeleteBatchData(batch.ID); err != nil {
		return counts, fmt.Errorf("clearing previous batch data: %w", err)
	}

	log.Printf("processing batch %d: %d rows, %d comment columns",
		batch.ID, len(survey.Rows), len(survey.CommentColumns))

	for _, row := range survey.Rows {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		responseID, err := p.db.InsertResponse(&database.SurveyResponse{
			BatchID:          batch.ID,
			AccountID:        row.AccountID,
			StudentAttribute: row.StudentAttribute,
			Scores:           row.Scores,
			Recommend:        row.Recommend,
		})
		if err != nil {
			return counts, fmt.Errorf("inserting response: %w", err)
		}
		counts.TotalResponses++

		for _, comment := range row.Comments {
			counts.TotalComments++

			result := p.classifier.Classify(ctx, comment.Text, llm.Context{
				CourseName:   batch.CourseName,
				QuestionText: comment.Column.Label,
			}, comment.Column.Required)

			for _, warning := range result.Warnings {
				log.Printf("batch %d comment warning: %s", batch.ID, warning)
			}

			if _, err := p.db.InsertComment(commentRow(batch.ID, responseID, comment, result)); err != nil {
				// One bad comment must not sink the batch.
				log.Printf("batch %d: storing comment failed: %v", batch.ID, err)
				continue
			}
			counts.ProcessedComments++
		}
	}

	return counts, nil
}

func commentRow(batchID, responseID int64, comment ingest.Comment, result classify.Result) *database.ResponseComment {
	row := &database.ResponseComment{
		BatchID:         batchID,
		ResponseID:      &responseID,
		QuestionLabel:   comment.Column.Label,
		CommentText:     comment.Text,
		Category:        result.Category,
		Sentiment:       result.Sentiment,
		ImportanceLevel: result.ImportanceLevel,
		ImportanceScore: result.ImportanceScore,
		IsSafe:          result.IsSafe,
		Warnings:        result.Warnings,
	}
	if result.RiskLevel != "" {
		row.RiskLevel = &result.RiskLevel
	}
	if result.Summary != "" {
		row.Summary = &result.Summary
	}
	return row
}
