// Package ingest parses uploaded survey CSV files into structured rows and
// free-text comments. Validation failures are reported as *ValidationError
// so callers can distinguish a bad file from an infrastructure problem.
package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/skawano/lecfeed/internal/database"
)

// Default column prefixes. Columns starting with the optional prefix are
// analyzed by the LLM; required-prefix columns are stored as comments but
// skip the LLM.
const (
	DefaultOptionalPrefix = "（任意）"
	DefaultRequiredPrefix = "【必須】"
)

// ValidationError marks a file that fails structural validation. It is
// permanent: retrying the same upload cannot succeed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid survey file: " + e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// CommentColumn is a free-text column detected in the header row.
type CommentColumn struct {
	Label    string
	Required bool
}

// Comment is one non-blank free-text cell.
type Comment struct {
	Column CommentColumn
	Text   string
}

// Row is one parsed survey response.
type Row struct {
	AccountID        *string
	StudentAttribute string
	Scores           database.ScoreSet
	Recommend        *int
	Comments         []Comment
}

// Survey is a fully parsed upload.
type Survey struct {
	Columns        []string
	CommentColumns []CommentColumn
	Rows           []Row
}

// Parser validates and parses survey files. The prefixes default to the
// standard survey-tool markers when left empty.
type Parser struct {
	optionalPrefix string
	requiredPrefix string
}

func NewParser(optionalPrefix, requiredPrefix string) *Parser {
	if optionalPrefix == "" {
		optionalPrefix = DefaultOptionalPrefix
	}
	if requiredPrefix == "" {
		requiredPrefix = DefaultRequiredPrefix
	}
	return &Parser{optionalPrefix: optionalPrefix, requiredPrefix: requiredPrefix}
}

// Validate checks the header row without materializing the data rows. It is
// the cheap pre-check run before a batch row is created.
func (p *Parser) Validate(data []byte) error {
	_, _, err := p.readAll(data)
	return err
}

// Parse validates and parses the whole file.
func (p *Parser) Parse(data []byte) (*Survey, error) {
	header, records, err := p.readAll(data)
	if err != nil {
		return nil, err
	}

	commentColumns := p.commentColumns(header)
	survey := &Survey{
		Columns:        header,
		CommentColumns: commentColumns,
		Rows:           make([]Row, 0, len(records)),
	}

	for _, record := range records {
		survey.Rows = append(survey.Rows, p.parseRow(header, record, commentColumns))
	}
	return survey, nil
}

func (p *Parser) readAll(data []byte) ([]string, [][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, validationErrorf("uploaded file is empty")
	}
	if !utf8.Valid(data) {
		return nil, nil, validationErrorf("file must be UTF-8 encoded")
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1 // ragged rows are padded later

	rawHeader, err := reader.Read()
	if err == io.EOF {
		return nil, nil, validationErrorf("header row is missing")
	}
	if err != nil {
		return nil, nil, validationErrorf("malformed CSV: %v", err)
	}

	header := make([]string, len(rawHeader))
	seen := make(map[string]bool, len(rawHeader))
	analyzable := false
	for i, name := range rawHeader {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, nil, validationErrorf("header contains an empty column name")
		}
		if seen[name] {
			return nil, nil, validationErrorf("header contains duplicate column %q", name)
		}
		seen[name] = true
		header[i] = name
		if strings.HasPrefix(name, p.optionalPrefix) || strings.HasPrefix(name, p.requiredPrefix) {
			analyzable = true
		}
	}
	if !analyzable {
		return nil, nil, validationErrorf("file must contain at least one column whose header starts with %q or %q", p.optionalPrefix, p.requiredPrefix)
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, validationErrorf("malformed CSV: %v", err)
		}
		records = append(records, record)
	}
	return header, records, nil
}

func (p *Parser) commentColumns(header []string) []CommentColumn {
	var columns []CommentColumn
	for _, name := range header {
		switch {
		case strings.HasPrefix(name, p.optionalPrefix):
			columns = append(columns, CommentColumn{Label: name})
		case strings.HasPrefix(name, p.requiredPrefix):
			columns = append(columns, CommentColumn{Label: name, Required: true})
		}
	}
	return columns
}

var accountIDHeaders = []string{"アカウントID", "account_id", "アカウント ID"}

var studentAttributeHeaders = []string{"受講生の属性", "受講生属性", "student_attribute"}

// recommendHeader feeds the NPS calculation and is kept apart from the
// 1-5 rating dimensions.
const recommendHeader = "親しいご友人にこの講義の受講をお薦めしますか？"

// scoreHeaders maps the survey tool's fixed Japanese rating headers onto
// ScoreSet fields. Multi-line headers keep their embedded newline; the CSV
// quoting preserves it.
var scoreHeaders = map[string]func(*database.ScoreSet, int){
	"本日の総合的な満足度を５段階で教えてください。": func(s *database.ScoreSet, v int) { s.OverallSatisfaction = &v },
	"本日の講義内容について５段階で教えてください。\n学習量は適切だった":     func(s *database.ScoreSet, v int) { s.ContentVolume = &v },
	"本日の講義内容について５段階で教えてください。\n講義内容が十分に理解できた": func(s *database.ScoreSet, v int) { s.ContentUnderstanding = &v },
	"本日の講義内容について５段階で教えてください。\n運営側のアナウンスが適切だった": func(s *database.ScoreSet, v int) { s.ContentAnnouncement = &v },
	"本日の講師の総合的な満足度を５段階で教えてください。":              func(s *database.ScoreSet, v int) { s.InstructorOverall = &v },
	"本日の講師について５段階で教えてください。\n授業時間を効率的に使っていた":   func(s *database.ScoreSet, v int) { s.InstructorTime = &v },
	"本日の講師について５段階で教えてください。\n質問に丁寧に対応してくれた":    func(s *database.ScoreSet, v int) { s.InstructorQA = &v },
	"本日の講師について５段階で教えてください。\n話し方や声の大きさが適切だった":  func(s *database.ScoreSet, v int) { s.InstructorSpeaking = &v },
	"ご自身について５段階で教えてください。\n事前に予習をした":           func(s *database.ScoreSet, v int) { s.SelfPreparation = &v },
	"ご自身について５段階で教えてください。\n意欲をもって講義に臨んだ":        func(s *database.ScoreSet, v int) { s.SelfMotivation = &v },
	"ご自身について５段階で教えてください。\n今回学んだことを学習や研究に生かせる": func(s *database.ScoreSet, v int) { s.SelfFuture = &v },
}

func (p *Parser) parseRow(header []string, record []string, commentColumns []CommentColumn) Row {
	cells := make(map[string]string, len(header))
	for i, name := range header {
		if i < len(record) {
			cells[name] = strings.TrimSpace(record[i])
		} else {
			cells[name] = "" // short rows are padded with blanks
		}
	}

	var row Row
	for _, key := range accountIDHeaders {
		if v := cells[key]; v != "" {
			row.AccountID = &v
			break
		}
	}
	for _, key := range studentAttributeHeaders {
		if v := cells[key]; v != "" {
			row.StudentAttribute = v
			break
		}
	}

	for name, assign := range scoreHeaders {
		if v, ok := parseScore(cells[name]); ok {
			assign(&row.Scores, v)
		}
	}
	if v, ok := parseScore(cells[recommendHeader]); ok {
		row.Recommend = &v
	}

	for _, column := range commentColumns {
		if text := cells[column.Label]; text != "" {
			row.Comments = append(row.Comments, Comment{Column: column, Text: text})
		}
	}
	return row
}

// parseScore accepts plain unsigned integers only; anything else (blank,
// signed, decimal, free text) is treated as an unanswered question.
func parseScore(cell string) (int, bool) {
	if cell == "" {
		return 0, false
	}
	for _, r := range cell {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(cell)
	if err != nil {
		return 0, false
	}
	return v, true
}
