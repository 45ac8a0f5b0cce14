package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS survey_batches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    course_name TEXT NOT NULL,
    lecture_date TEXT NOT NULL,
    lecture_number INTEGER NOT NULL,
    batch_type TEXT NOT NULL DEFAULT 'preliminary',
    status TEXT NOT NULL DEFAULT 'QUEUED',
    storage_uri TEXT,
    original_filename TEXT,
    job_id TEXT,
    total_responses INTEGER NOT NULL DEFAULT 0,
    total_comments INTEGER NOT NULL DEFAULT 0,
    processed_comments INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    uploaded_at TEXT NOT NULL DEFAULT (datetime('now')),
    started_at TEXT,
    completed_at TEXT,
    UNIQUE (course_name, lecture_date, lecture_number)
);

CREATE TABLE IF NOT EXISTS survey_responses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id INTEGER NOT NULL REFERENCES survey_batches(id) ON DELETE CASCADE,
    account_id TEXT,
    student_attribute TEXT NOT NULL DEFAULT 'ALL',
    score_overall_satisfaction INTEGER,
    score_content_volume INTEGER,
    score_content_understanding INTEGER,
    score_content_announcement INTEGER,
    score_instructor_overall INTEGER,
    score_instructor_time INTEGER,
    score_instructor_qa INTEGER,
    score_instructor_speaking INTEGER,
    score_self_preparation INTEGER,
    score_self_motivation INTEGER,
    score_self_future INTEGER,
    score_recommend INTEGER
);

CREATE TABLE IF NOT EXISTS response_comments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id INTEGER NOT NULL REFERENCES survey_batches(id) ON DELETE CASCADE,
    response_id INTEGER REFERENCES survey_responses(id) ON DELETE SET NULL,
    question_label TEXT NOT NULL,
    comment_text TEXT NOT NULL,
    category TEXT NOT NULL,
    sentiment TEXT NOT NULL,
    importance_level TEXT NOT NULL,
    importance_score REAL NOT NULL DEFAULT 0,
    risk_level TEXT,
    summary TEXT,
    is_safe INTEGER NOT NULL DEFAULT 1,
    analysis_version TEXT NOT NULL DEFAULT 'preliminary',
    warnings TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    CHECK (comment_text <> '')
);

CREATE TABLE IF NOT EXISTS survey_summaries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id INTEGER NOT NULL REFERENCES survey_batches(id) ON DELETE CASCADE,
    student_attribute TEXT NOT NULL DEFAULT 'ALL',
    score_overall_satisfaction REAL,
    score_content_volume REAL,
    score_content_understanding REAL,
    score_content_announcement REAL,
    score_instructor_overall REAL,
    score_instructor_time REAL,
    score_instructor_qa REAL,
    score_instructor_speaking REAL,
    score_self_preparation REAL,
    score_self_motivation REAL,
    score_self_future REAL,
    response_count INTEGER NOT NULL DEFAULT 0,
    nps_score REAL NOT NULL DEFAULT 0,
    nps_promoters INTEGER NOT NULL DEFAULT 0,
    nps_passives INTEGER NOT NULL DEFAULT 0,
    nps_detractors INTEGER NOT NULL DEFAULT 0,
    nps_total INTEGER NOT NULL DEFAULT 0,
    comments_count INTEGER NOT NULL DEFAULT 0,
    important_comments_count INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (batch_id, student_attribute)
);

CREATE TABLE IF NOT EXISTS comment_summaries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id INTEGER NOT NULL REFERENCES survey_batches(id) ON DELETE CASCADE,
    student_attribute TEXT NOT NULL DEFAULT 'ALL',
    analysis_type TEXT NOT NULL,
    label TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    UNIQUE (batch_id, student_attribute, analysis_type, label)
);

CREATE TABLE IF NOT EXISTS score_distributions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id INTEGER NOT NULL REFERENCES survey_batches(id) ON DELETE CASCADE,
    student_attribute TEXT NOT NULL DEFAULT 'ALL',
    question_key TEXT NOT NULL,
    score_value INTEGER NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    UNIQUE (batch_id, student_attribute, question_key, score_value)
);

CREATE INDEX IF NOT EXISTS idx_batches_course ON survey_batches(course_name);
CREATE INDEX IF NOT EXISTS idx_responses_batch ON survey_responses(batch_id);
CREATE INDEX IF NOT EXISTS idx_comments_batch ON response_comments(batch_id);
CREATE INDEX IF NOT EXISTS idx_survey_summaries_batch ON survey_summaries(batch_id);
CREATE INDEX IF NOT EXISTS idx_comment_summaries_batch ON comment_summaries(batch_id);
CREATE INDEX IF NOT EXISTS idx_score_distributions_batch ON score_distributions(batch_id);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
