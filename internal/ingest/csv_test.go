package ingest

import (
	"errors"
	"strings"
	"testing"
)

const sampleCSV = "アカウントID,受講生の属性,本日の総合的な満足度を５段階で教えてください。,\"ご自身について５段階で教えてください。\n事前に予習をした\",親しいご友人にこの講義の受講をお薦めしますか？,（任意）本日の講義で学んだことを教えてください,【必須】今後受講したい講座\n" +
	"u001,社会人,5,4,9,統計の基礎が理解できた,機械学習入門\n" +
	"u002,学生,3,,7,,\n" +
	"u003,,abc,2,10,  資料が見やすかった  \n"

func TestParseSample(t *testing.T) {
	survey, err := NewParser("", "").Parse([]byte(sampleCSV))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(survey.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(survey.Rows))
	}
	if len(survey.CommentColumns) != 2 {
		t.Fatalf("expected 2 comment columns, got %d", len(survey.CommentColumns))
	}
	if survey.CommentColumns[0].Required {
		t.Error("optional-prefix column must not be required")
	}
	if !survey.CommentColumns[1].Required {
		t.Error("required-prefix column must be required")
	}

	first := survey.Rows[0]
	if first.AccountID == nil || *first.AccountID != "u001" {
		t.Errorf("unexpected account id %v", first.AccountID)
	}
	if first.StudentAttribute != "社会人" {
		t.Errorf("unexpected attribute %q", first.StudentAttribute)
	}
	if first.Scores.OverallSatisfaction == nil || *first.Scores.OverallSatisfaction != 5 {
		t.Errorf("unexpected overall satisfaction %v", first.Scores.OverallSatisfaction)
	}
	if first.Scores.SelfPreparation == nil || *first.Scores.SelfPreparation != 4 {
		t.Errorf("unexpected self preparation %v", first.Scores.SelfPreparation)
	}
	if first.Recommend == nil || *first.Recommend != 9 {
		t.Errorf("unexpected recommend %v", first.Recommend)
	}
	if len(first.Comments) != 2 {
		t.Fatalf("expected 2 comments on first row, got %d", len(first.Comments))
	}
	if first.Comments[0].Text != "統計の基礎が理解できた" || first.Comments[0].Column.Required {
		t.Errorf("unexpected first comment %+v", first.Comments[0])
	}

	second := survey.Rows[1]
	if second.Scores.SelfPreparation != nil {
		t.Error("blank score cell must stay nil")
	}
	if len(second.Comments) != 0 {
		t.Errorf("blank comment cells must be skipped, got %v", second.Comments)
	}

	// Third row is short one field; the trailing comment column is padded.
	third := survey.Rows[2]
	if third.Scores.OverallSatisfaction != nil {
		t.Error("non-numeric score cell must stay nil")
	}
	if len(third.Comments) != 1 || third.Comments[0].Text != "資料が見やすかった" {
		t.Errorf("expected single trimmed comment, got %v", third.Comments)
	}
	if third.StudentAttribute != "" {
		t.Errorf("expected empty attribute, got %q", third.StudentAttribute)
	}
}

func TestParseStripsBOM(t *testing.T) {
	data := append([]byte("\xef\xbb\xbf"), []byte("（任意）感想\nとても良かった\n")...)
	survey, err := NewParser("", "").Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if survey.Columns[0] != "（任意）感想" {
		t.Errorf("BOM not stripped from first header: %q", survey.Columns[0])
	}
	if len(survey.Rows) != 1 || survey.Rows[0].Comments[0].Text != "とても良かった" {
		t.Errorf("unexpected rows %+v", survey.Rows)
	}
}

func TestValidateRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty file", ""},
		{"whitespace only", "  \n  "},
		{"not utf8", "（任意）感想\n\xff\xfe\x00"},
		{"empty header name", "アカウントID,,（任意）感想\n"},
		{"duplicate headers", "（任意）感想,（任意）感想\n"},
		{"duplicate after trim", "（任意）感想, （任意）感想 \n"},
		{"no analyzable column", "アカウントID,受講生の属性\nu001,学生\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewParser("", "").Validate([]byte(tt.data))
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected *ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestValidateAcceptsRequiredOnlyColumns(t *testing.T) {
	if err := NewParser("", "").Validate([]byte("【必須】今後の要望\n特になし\n")); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseCustomPrefixes(t *testing.T) {
	parser := NewParser("(opt)", "[req]")
	survey, err := parser.Parse([]byte("(opt)feedback,[req]next\ngood,more exercises\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(survey.CommentColumns) != 2 {
		t.Fatalf("expected 2 comment columns, got %d", len(survey.CommentColumns))
	}
	if survey.CommentColumns[0].Required || !survey.CommentColumns[1].Required {
		t.Errorf("prefix classification wrong: %+v", survey.CommentColumns)
	}
}

func TestParseToleratesRaggedRows(t *testing.T) {
	data := "アカウントID,（任意）感想\nu001,良かった,余分\nu002\n"
	survey, err := NewParser("", "").Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(survey.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(survey.Rows))
	}
	if len(survey.Rows[0].Comments) != 1 {
		t.Errorf("long row: expected 1 comment, got %v", survey.Rows[0].Comments)
	}
	if len(survey.Rows[1].Comments) != 0 {
		t.Errorf("short row: expected no comments, got %v", survey.Rows[1].Comments)
	}
}

func TestParseScoreRejectsNonDigits(t *testing.T) {
	tests := []struct {
		cell string
		ok   bool
	}{
		{"5", true},
		{"10", true},
		{"", false},
		{"-3", false},
		{"3.5", false},
		{"五", false},
	}
	for _, tt := range tests {
		if _, ok := parseScore(tt.cell); ok != tt.ok {
			t.Errorf("parseScore(%q) ok=%v, want %v", tt.cell, ok, tt.ok)
		}
	}
}

func TestValidateRejectsMangledQuoting(t *testing.T) {
	data := "（任意）感想\n\"unterminated\n"
	err := NewParser("", "").Validate([]byte(data))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected *ValidationError for broken quoting, got %v", err)
	}
	if verr != nil && !strings.Contains(verr.Error(), "malformed") {
		t.Errorf("unexpected message %q", verr.Error())
	}
}
