package database

import "database/sql"

const responseColumns = `id, batch_id, account_id, student_attribute,
	score_overall_satisfaction, score_content_volume, score_content_understanding,
	score_content_announcement, score_instructor_overall, score_instructor_time,
	score_instructor_qa, score_instructor_speaking, score_self_preparation,
	score_self_motivation, score_self_future, score_recommend`

// InsertResponse inserts one structured survey row and returns its ID.
func (db *DB) InsertResponse(r *SurveyResponse) (int64, error) {
	attr := r.StudentAttribute
	if attr == "" {
		attr = "ALL"
	}
	result, err := db.conn.Exec(
		`INSERT INTO survey_responses
		(batch_id, account_id, student_attribute,
		 score_overall_satisfaction, score_content_volume, score_content_understanding,
		 score_content_announcement, score_instructor_overall, score_instructor_time,
		 score_instructor_qa, score_instructor_speaking, score_self_preparation,
		 score_self_motivation, score_self_future, score_recommend)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.BatchID, r.AccountID, attr,
		r.Scores.OverallSatisfaction, r.Scores.ContentVolume, r.Scores.ContentUnderstanding,
		r.Scores.ContentAnnouncement, r.Scores.InstructorOverall, r.Scores.InstructorTime,
		r.Scores.InstructorQA, r.Scores.InstructorSpeaking, r.Scores.SelfPreparation,
		r.Scores.SelfMotivation, r.Scores.SelfFuture, r.Recommend,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetResponsesForBatch returns all structured rows of one batch.
func (db *DB) GetResponsesForBatch(batchID int64) ([]SurveyResponse, error) {
	rows, err := db.conn.Query(
		`SELECT `+responseColumns+` FROM survey_responses WHERE batch_id = ? ORDER BY id`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResponses(rows)
}

// DeleteBatchData removes all responses and comments of a batch. Used by
// the pipeline so a redelivered job re-runs from a clean slate.
func (db *DB) DeleteBatchData(batchID int64) error {
	if _, err := db.conn.Exec("DELETE FROM response_comments WHERE batch_id = ?", batchID); err != nil {
		return err
	}
	_, err := db.conn.Exec("DELETE FROM survey_responses WHERE batch_id = ?", batchID)
	return err
}

func scanResponses(rows *sql.Rows) ([]SurveyResponse, error) {
	var responses []SurveyResponse
	for rows.Next() {
		var r SurveyResponse
		if err := rows.Scan(&r.ID, &r.BatchID, &r.AccountID, &r.StudentAttribute,
			&r.Scores.OverallSatisfaction, &r.Scores.ContentVolume, &r.Scores.ContentUnderstanding,
			&r.Scores.ContentAnnouncement, &r.Scores.InstructorOverall, &r.Scores.InstructorTime,
			&r.Scores.InstructorQA, &r.Scores.InstructorSpeaking, &r.Scores.SelfPreparation,
			&r.Scores.SelfMotivation, &r.Scores.SelfFuture, &r.Recommend); err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}
