package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/skawano/lecfeed/internal/classify"
	"github.com/skawano/lecfeed/internal/database"
	"github.com/skawano/lecfeed/internal/ingest"
	"github.com/skawano/lecfeed/internal/llm"
)

type stubAnalyzer struct {
	result *llm.Result
	err    error
	calls  int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, text string, meta llm.Context) (*llm.Result, error) {
	s.calls++
	return s.result, s.err
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertTestBatch(t *testing.T, db *database.DB) *database.Batch {
	t.Helper()
	id, err := db.InsertBatch(&database.Batch{
		CourseName:    "統計学入門",
		LectureDate:   "2026-01-10",
		LectureNumber: 1,
		BatchType:     database.BatchTypePreliminary,
		Status:        database.StatusQueued,
	})
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	batch, err := db.GetBatch(id)
	if err != nil || batch == nil {
		t.Fatalf("GetBatch: %v", err)
	}
	return batch
}

const testCSV = "アカウントID,本日の総合的な満足度を５段階で教えてください。,親しいご友人にこの講義の受講をお薦めしますか？,（任意）感想,【必須】今後受講したい講座\n" +
	"u001,5,9,講義資料が分かりやすかったです,機械学習\n" +
	"u002,3,6,,統計の応用\n" +
	"u003,4,8,音声が聞き取りにくい時間がありました,\n"

func newTestProcessor(db *database.DB, analyzer classify.Analyzer) *Processor {
	return New(db, classify.New(analyzer, []string{"不適切"}), ingest.NewParser("", ""))
}

func TestProcessStoresResponsesAndComments(t *testing.T) {
	db := openTestDB(t)
	batch := insertTestBatch(t, db)
	analyzer := &stubAnalyzer{result: &llm.Result{Category: "運営", Sentiment: "negative", ImportanceLevel: "high"}}

	counts, err := newTestProcessor(db, analyzer).Process(context.Background(), batch, []byte(testCSV))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if counts.TotalResponses != 3 {
		t.Errorf("TotalResponses = %d, want 3", counts.TotalResponses)
	}
	if counts.TotalComments != 4 {
		t.Errorf("TotalComments = %d, want 4", counts.TotalComments)
	}
	if counts.ProcessedComments != 4 {
		t.Errorf("ProcessedComments = %d, want 4", counts.ProcessedComments)
	}

	// Required-column comments skip the LLM: only the two optional comments
	// should have triggered calls.
	if analyzer.calls != 2 {
		t.Errorf("expected 2 LLM calls, got %d", analyzer.calls)
	}

	responses, err := db.GetResponsesForBatch(batch.ID)
	if err != nil {
		t.Fatalf("GetResponsesForBatch: %v", err)
	}
	if len(responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(responses))
	}
	if responses[0].Recommend == nil || *responses[0].Recommend != 9 {
		t.Errorf("unexpected recommend %v", responses[0].Recommend)
	}

	comments, err := db.GetCommentsForBatch(batch.ID)
	if err != nil {
		t.Fatalf("GetCommentsForBatch: %v", err)
	}
	if len(comments) != 4 {
		t.Fatalf("expected 4 comments, got %d", len(comments))
	}
	for _, c := range comments {
		if c.Category == "" || c.Sentiment == "" || c.ImportanceLevel == "" {
			t.Errorf("comment %d missing classification: %+v", c.ID, c)
		}
		if c.ResponseID == nil {
			t.Errorf("comment %d not linked to a response", c.ID)
		}
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	batch := insertTestBatch(t, db)
	processor := newTestProcessor(db, &stubAnalyzer{result: &llm.Result{}})

	first, err := processor.Process(context.Background(), batch, []byte(testCSV))
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := processor.Process(context.Background(), batch, []byte(testCSV))
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if first != second {
		t.Errorf("counts changed between runs: %+v vs %+v", first, second)
	}

	responses, _ := db.GetResponsesForBatch(batch.ID)
	if len(responses) != 3 {
		t.Errorf("expected 3 responses after rerun, got %d", len(responses))
	}
	comments, _ := db.GetCommentsForBatch(batch.ID)
	if len(comments) != 4 {
		t.Errorf("expected 4 comments after rerun, got %d", len(comments))
	}
}

func TestProcessPropagatesValidationError(t *testing.T) {
	db := openTestDB(t)
	batch := insertTestBatch(t, db)
	processor := newTestProcessor(db, &stubAnalyzer{result: &llm.Result{}})

	_, err := processor.Process(context.Background(), batch, []byte("アカウントID\nu001\n"))
	var verr *ingest.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected *ingest.ValidationError, got %v", err)
	}
}

func TestProcessSurvivesLLMFailures(t *testing.T) {
	db := openTestDB(t)
	batch := insertTestBatch(t, db)
	processor := newTestProcessor(db, &stubAnalyzer{err: errors.New("llm unavailable")})

	counts, err := processor.Process(context.Background(), batch, []byte(testCSV))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if counts.ProcessedComments != 4 {
		t.Errorf("expected all comments stored despite LLM failures, got %d", counts.ProcessedComments)
	}

	comments, _ := db.GetCommentsForBatch(batch.ID)
	var warned int
	for _, c := range comments {
		if len(c.Warnings) > 0 {
			warned++
		}
	}
	if warned != 2 {
		t.Errorf("expected 2 comments with warnings, got %d", warned)
	}
}

func TestProcessHonorsContextCancellation(t *testing.T) {
	db := openTestDB(t)
	batch := insertTestBatch(t, db)
	processor := newTestProcessor(db, &stubAnalyzer{result: &llm.Result{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := processor.Process(ctx, batch, []byte(testCSV)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
