package database

import (
	"database/sql"
	"fmt"
)

// maxErrorMessageLen bounds the error text stored on a failed batch.
const maxErrorMessageLen = 300

// DuplicateBatchError reports an upload conflicting with an existing
// (course, date, lecture number) triple.
type DuplicateBatchError struct {
	ExistingID int64
}

func (e *DuplicateBatchError) Error() string {
	return fmt.Sprintf("a batch for this course, date and lecture number already exists (id=%d)", e.ExistingID)
}

const batchColumns = `id, course_name, lecture_date, lecture_number, batch_type, status,
	storage_uri, original_filename, job_id, total_responses, total_comments,
	processed_comments, error_message, uploaded_at, started_at, completed_at`

// InsertBatch inserts a new batch in QUEUED state. A conflicting
// (course_name, lecture_date, lecture_number) returns *DuplicateBatchError
// identifying the existing row.
func (db *DB) InsertBatch(b *Batch) (int64, error) {
	batchType := b.BatchType
	if batchType == "" {
		batchType = BatchTypePreliminary
	}
	result, err := db.conn.Exec(
		`INSERT INTO survey_batches
		(course_name, lecture_date, lecture_number, batch_type, status, storage_uri, original_filename, job_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.CourseName, b.LectureDate, b.LectureNumber, batchType, StatusQueued,
		b.StorageURI, b.OriginalFilename, b.JobID,
	)
	if err != nil {
		var existing int64
		lookupErr := db.conn.QueryRow(
			`SELECT id FROM survey_batches
			WHERE course_name = ? AND lecture_date = ? AND lecture_number = ?`,
			b.CourseName, b.LectureDate, b.LectureNumber,
		).Scan(&existing)
		if lookupErr == nil {
			return 0, &DuplicateBatchError{ExistingID: existing}
		}
		return 0, fmt.Errorf("inserting batch: %w", err)
	}
	return result.LastInsertId()
}

// GetBatch returns a single batch by ID, or nil when it does not exist.
func (db *DB) GetBatch(id int64) (*Batch, error) {
	row := db.conn.QueryRow(
		`SELECT `+batchColumns+` FROM survey_batches WHERE id = ?`, id,
	)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// MarkBatchProcessing transitions a batch to PROCESSING and stamps
// started_at. Committed on its own so status pollers never see a stale
// QUEUED once work has begun.
func (db *DB) MarkBatchProcessing(id int64) error {
	_, err := db.conn.Exec(
		`UPDATE survey_batches
		SET status = ?, started_at = datetime('now'), error_message = NULL
		WHERE id = ?`,
		StatusProcessing, id,
	)
	return err
}

// MarkBatchCompleted transitions a batch to COMPLETED with final counts.
func (db *DB) MarkBatchCompleted(id int64, totalResponses, totalComments, processedComments int) error {
	_, err := db.conn.Exec(
		`UPDATE survey_batches
		SET status = ?, total_responses = ?, total_comments = ?, processed_comments = ?,
		    completed_at = datetime('now')
		WHERE id = ?`,
		StatusCompleted, totalResponses, totalComments, processedComments, id,
	)
	return err
}

// MarkBatchFailed transitions a batch to FAILED with a truncated,
// human-readable error message.
func (db *DB) MarkBatchFailed(id int64, message string) error {
	if runes := []rune(message); len(runes) > maxErrorMessageLen {
		message = string(runes[:maxErrorMessageLen])
	}
	_, err := db.conn.Exec(
		`UPDATE survey_batches
		SET status = ?, error_message = ?, completed_at = datetime('now')
		WHERE id = ?`,
		StatusFailed, message, id,
	)
	return err
}

// SetBatchJobID records the queue handle assigned to a batch.
func (db *DB) SetBatchJobID(id int64, jobID string) error {
	_, err := db.conn.Exec(
		"UPDATE survey_batches SET job_id = ? WHERE id = ?", jobID, id,
	)
	return err
}

// DeleteBatch removes a batch and, via foreign keys, all of its derived
// rows. Deleting the stored blob is the caller's responsibility.
func (db *DB) DeleteBatch(id int64) error {
	_, err := db.conn.Exec("DELETE FROM survey_batches WHERE id = ?", id)
	return err
}

// ListBatchesForCourse returns all batches for a course, newest upload first.
func (db *DB) ListBatchesForCourse(courseName string) ([]Batch, error) {
	rows, err := db.conn.Query(
		`SELECT `+batchColumns+` FROM survey_batches
		WHERE course_name = ? ORDER BY uploaded_at DESC, id DESC`, courseName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

// ListRecentBatches returns the most recently uploaded batches across all
// courses, newest first.
func (db *DB) ListRecentBatches(limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(
		`SELECT `+batchColumns+` FROM survey_batches
		ORDER BY uploaded_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

// EffectiveBatches picks the representative batch per lecture number for a
// course: confirmed batches win, and among candidates of the winning type
// the most recently uploaded one is chosen.
func (db *DB) EffectiveBatches(courseName string) (map[int]Batch, error) {
	batches, err := db.ListBatchesForCourse(courseName)
	if err != nil {
		return nil, err
	}

	chosen := make(map[int]Batch)
	for _, b := range batches {
		current, ok := chosen[b.LectureNumber]
		if !ok {
			chosen[b.LectureNumber] = b
			continue
		}
		if preferBatch(b, current) {
			chosen[b.LectureNumber] = b
		}
	}
	return chosen, nil
}

// preferBatch reports whether candidate should replace current as the
// effective batch for a lecture.
func preferBatch(candidate, current Batch) bool {
	candidateConfirmed := candidate.BatchType == BatchTypeConfirmed
	currentConfirmed := current.BatchType == BatchTypeConfirmed
	if candidateConfirmed != currentConfirmed {
		return candidateConfirmed
	}
	if candidate.UploadedAt != current.UploadedAt {
		return candidate.UploadedAt > current.UploadedAt
	}
	return candidate.ID > current.ID
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	err := db.conn.QueryRow(
		`SELECT
			COUNT(*),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			COUNT(DISTINCT course_name)
		FROM survey_batches`, StatusCompleted, StatusFailed,
	).Scan(&s.TotalBatches, nullableInt(&s.CompletedBatches), nullableInt(&s.FailedBatches), &s.Courses)
	if err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM survey_responses").Scan(&s.TotalResponses); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM response_comments").Scan(&s.TotalComments); err != nil {
		return nil, err
	}
	return &s, nil
}

// nullableInt scans a SUM() that may be NULL into an int.
func nullableInt(dst *int) *nullIntScanner {
	return &nullIntScanner{dst: dst}
}

type nullIntScanner struct {
	dst *int
}

func (n *nullIntScanner) Scan(value any) error {
	if value == nil {
		*n.dst = 0
		return nil
	}
	switch v := value.(type) {
	case int64:
		*n.dst = int(v)
	case float64:
		*n.dst = int(v)
	default:
		return fmt.Errorf("unexpected SUM type %T", value)
	}
	return nil
}

func scanBatches(rows *sql.Rows) ([]Batch, error) {
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*Batch, error) {
	var b Batch
	if err := row.Scan(&b.ID, &b.CourseName, &b.LectureDate, &b.LectureNumber,
		&b.BatchType, &b.Status, &b.StorageURI, &b.OriginalFilename, &b.JobID,
		&b.TotalResponses, &b.TotalComments, &b.ProcessedComments,
		&b.ErrorMessage, &b.UploadedAt, &b.StartedAt, &b.CompletedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
