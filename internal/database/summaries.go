package database

import "database/sql"

// UpsertSurveySummary inserts or replaces the aggregate row for
// (batch_id, student_attribute). Recomputation is authoritative, so a
// conflicting row is overwritten wholesale.
func (db *DB) UpsertSurveySummary(s *SurveySummary) error {
	attr := s.StudentAttribute
	if attr == "" {
		attr = "ALL"
	}
	args := []any{s.BatchID, attr}
	for _, key := range ScoreKeys {
		args = append(args, s.Scores[key])
	}
	args = append(args, s.ResponseCount, s.NPSScore, s.NPSPromoters, s.NPSPassives,
		s.NPSDetractors, s.NPSTotal, s.CommentsCount, s.ImportantCommentsCount)

	_, err := db.conn.Exec(
		`INSERT INTO survey_summaries
		(batch_id, student_attribute,
		 score_overall_satisfaction, score_content_volume, score_content_understanding,
		 score_content_announcement, score_instructor_overall, score_instructor_time,
		 score_instructor_qa, score_instructor_speaking, score_self_preparation,
		 score_self_motivation, score_self_future,
		 response_count, nps_score, nps_promoters, nps_passives, nps_detractors,
		 nps_total, comments_count, important_comments_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (batch_id, student_attribute) DO UPDATE SET
		 score_overall_satisfaction = excluded.score_overall_satisfaction,
		 score_content_volume = excluded.score_content_volume,
		 score_content_understanding = excluded.score_content_understanding,
		 score_content_announcement = excluded.score_content_announcement,
		 score_instructor_overall = excluded.score_instructor_overall,
		 score_instructor_time = excluded.score_instructor_time,
		 score_instructor_qa = excluded.score_instructor_qa,
		 score_instructor_speaking = excluded.score_instructor_speaking,
		 score_self_preparation = excluded.score_self_preparation,
		 score_self_motivation = excluded.score_self_motivation,
		 score_self_future = excluded.score_self_future,
		 response_count = excluded.response_count,
		 nps_score = excluded.nps_score,
		 nps_promoters = excluded.nps_promoters,
		 nps_passives = excluded.nps_passives,
		 nps_detractors = excluded.nps_detractors,
		 nps_total = excluded.nps_total,
		 comments_count = excluded.comments_count,
		 important_comments_count = excluded.important_comments_count,
		 updated_at = excluded.updated_at`,
		args...,
	)
	return err
}

// GetSurveySummary returns the aggregate row for a batch and attribute
// segment, or nil when no recomputation has run yet.
func (db *DB) GetSurveySummary(batchID int64, studentAttribute string) (*SurveySummary, error) {
	if studentAttribute == "" {
		studentAttribute = "ALL"
	}
	row := db.conn.QueryRow(
		`SELECT id, batch_id, student_attribute,
		 score_overall_satisfaction, score_content_volume, score_content_understanding,
		 score_content_announcement, score_instructor_overall, score_instructor_time,
		 score_instructor_qa, score_instructor_speaking, score_self_preparation,
		 score_self_motivation, score_self_future,
		 response_count, nps_score, nps_promoters, nps_passives, nps_detractors,
		 nps_total, comments_count, important_comments_count, updated_at
		FROM survey_summaries WHERE batch_id = ? AND student_attribute = ?`,
		batchID, studentAttribute,
	)

	var s SurveySummary
	scores := make([]*float64, len(ScoreKeys))
	dest := []any{&s.ID, &s.BatchID, &s.StudentAttribute}
	for i := range scores {
		dest = append(dest, &scores[i])
	}
	dest = append(dest, &s.ResponseCount, &s.NPSScore, &s.NPSPromoters, &s.NPSPassives,
		&s.NPSDetractors, &s.NPSTotal, &s.CommentsCount, &s.ImportantCommentsCount, &s.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	s.Scores = make(map[string]*float64, len(ScoreKeys))
	for i, key := range ScoreKeys {
		s.Scores[key] = scores[i]
	}
	return &s, nil
}

// ReplaceCommentSummaries atomically replaces the comment histogram rows of
// one (batch, attribute) segment.
func (db *DB) ReplaceCommentSummaries(batchID int64, studentAttribute string, rows []CommentSummary) error {
	if studentAttribute == "" {
		studentAttribute = "ALL"
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM comment_summaries WHERE batch_id = ? AND student_attribute = ?",
		batchID, studentAttribute,
	); err != nil {
		return err
	}

	for _, r := range rows {
		if _, err := tx.Exec(
			`INSERT INTO comment_summaries (batch_id, student_attribute, analysis_type, label, count)
			VALUES (?, ?, ?, ?, ?)`,
			batchID, studentAttribute, r.AnalysisType, r.Label, r.Count,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetCommentSummaries returns the comment histogram of a batch segment.
func (db *DB) GetCommentSummaries(batchID int64, studentAttribute string) ([]CommentSummary, error) {
	if studentAttribute == "" {
		studentAttribute = "ALL"
	}
	rows, err := db.conn.Query(
		`SELECT batch_id, student_attribute, analysis_type, label, count
		FROM comment_summaries WHERE batch_id = ? AND student_attribute = ?
		ORDER BY analysis_type, label`,
		batchID, studentAttribute,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []CommentSummary
	for rows.Next() {
		var s CommentSummary
		if err := rows.Scan(&s.BatchID, &s.StudentAttribute, &s.AnalysisType, &s.Label, &s.Count); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// ReplaceScoreDistributions atomically replaces the per-question score
// histograms of one (batch, attribute) segment.
func (db *DB) ReplaceScoreDistributions(batchID int64, studentAttribute string, rows []ScoreDistribution) error {
	if studentAttribute == "" {
		studentAttribute = "ALL"
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM score_distributions WHERE batch_id = ? AND student_attribute = ?",
		batchID, studentAttribute,
	); err != nil {
		return err
	}

	for _, r := range rows {
		if _, err := tx.Exec(
			`INSERT INTO score_distributions (batch_id, student_attribute, question_key, score_value, count)
			VALUES (?, ?, ?, ?, ?)`,
			batchID, studentAttribute, r.QuestionKey, r.ScoreValue, r.Count,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetScoreDistributions returns the score histograms of a batch segment.
func (db *DB) GetScoreDistributions(batchID int64, studentAttribute string) ([]ScoreDistribution, error) {
	if studentAttribute == "" {
		studentAttribute = "ALL"
	}
	rows, err := db.conn.Query(
		`SELECT batch_id, student_attribute, question_key, score_value, count
		FROM score_distributions WHERE batch_id = ? AND student_attribute = ?
		ORDER BY question_key, score_value`,
		batchID, studentAttribute,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dists []ScoreDistribution
	for rows.Next() {
		var d ScoreDistribution
		if err := rows.Scan(&d.BatchID, &d.StudentAttribute, &d.QuestionKey, &d.ScoreValue, &d.Count); err != nil {
			return nil, err
		}
		dists = append(dists, d)
	}
	return dists, rows.Err()
}
