package database

import (
	"database/sql"
	"encoding/json"
)

const commentColumns = `id, batch_id, response_id, question_label, comment_text,
	category, sentiment, importance_level, importance_score, risk_level, summary,
	is_safe, analysis_version, warnings, created_at`

// InsertComment inserts one classified comment and returns its ID.
func (db *DB) InsertComment(c *ResponseComment) (int64, error) {
	version := c.AnalysisVersion
	if version == "" {
		version = "preliminary"
	}

	var warningsJSON *string
	if len(c.Warnings) > 0 {
		data, err := json.Marshal(c.Warnings)
		if err != nil {
			return 0, err
		}
		s := string(data)
		warningsJSON = &s
	}

	isSafe := 0
	if c.IsSafe {
		isSafe = 1
	}

	result, err := db.conn.Exec(
		`INSERT INTO response_comments
		(batch_id, response_id, question_label, comment_text, category, sentiment,
		 importance_level, importance_score, risk_level, summary, is_safe,
		 analysis_version, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.BatchID, c.ResponseID, c.QuestionLabel, c.CommentText, c.Category,
		c.Sentiment, c.ImportanceLevel, c.ImportanceScore, c.RiskLevel, c.Summary,
		isSafe, version, warningsJSON,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetCommentsForBatch returns all comments of one batch in insertion order.
func (db *DB) GetCommentsForBatch(batchID int64) ([]ResponseComment, error) {
	rows, err := db.conn.Query(
		`SELECT `+commentColumns+` FROM response_comments WHERE batch_id = ? ORDER BY id`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanComments(rows)
}

// GetUnsafeCommentsForBatch returns comments flagged unsafe, most important first.
func (db *DB) GetUnsafeCommentsForBatch(batchID int64) ([]ResponseComment, error) {
	rows, err := db.conn.Query(
		`SELECT `+commentColumns+` FROM response_comments
		WHERE batch_id = ? AND is_safe = 0 ORDER BY importance_score DESC, id`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanComments(rows)
}

func scanComments(rows *sql.Rows) ([]ResponseComment, error) {
	var comments []ResponseComment
	for rows.Next() {
		var c ResponseComment
		var isSafe int
		var warningsJSON *string
		if err := rows.Scan(&c.ID, &c.BatchID, &c.ResponseID, &c.QuestionLabel,
			&c.CommentText, &c.Category, &c.Sentiment, &c.ImportanceLevel,
			&c.ImportanceScore, &c.RiskLevel, &c.Summary, &isSafe,
			&c.AnalysisVersion, &warningsJSON, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.IsSafe = isSafe != 0
		if warningsJSON != nil {
			if err := json.Unmarshal([]byte(*warningsJSON), &c.Warnings); err != nil {
				c.Warnings = nil
			}
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
