package database

// Batch lifecycle statuses.
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Batch types. Confirmed batches win over preliminary ones when a lecture
// has been uploaded more than once.
const (
	BatchTypePreliminary = "preliminary"
	BatchTypeConfirmed   = "confirmed"
)

// Batch is one uploaded survey file's processing unit, scoped to one
// course/date/lecture-number.
type Batch struct {
	ID                int64
	CourseName        string
	LectureDate       string // ISO date
	LectureNumber     int
	BatchType         string
	Status            string
	StorageURI        *string
	OriginalFilename  *string
	JobID             *string
	TotalResponses    int
	TotalComments     int
	ProcessedComments int
	ErrorMessage      *string
	UploadedAt        string
	StartedAt         *string
	CompletedAt       *string
}

// ScoreSet holds the structured 1-5 ratings of one survey row. Nil means
// the respondent left that question blank.
type ScoreSet struct {
	OverallSatisfaction  *int
	ContentVolume        *int
	ContentUnderstanding *int
	ContentAnnouncement  *int
	InstructorOverall    *int
	InstructorTime       *int
	InstructorQA         *int
	InstructorSpeaking   *int
	SelfPreparation      *int
	SelfMotivation       *int
	SelfFuture           *int
}

// ScoreKeys lists the rated dimensions in storage order. The recommend
// score feeds NPS and is kept separately on SurveyResponse.
var ScoreKeys = []string{
	"score_overall_satisfaction",
	"score_content_volume",
	"score_content_understanding",
	"score_content_announcement",
	"score_instructor_overall",
	"score_instructor_time",
	"score_instructor_qa",
	"score_instructor_speaking",
	"score_self_preparation",
	"score_self_motivation",
	"score_self_future",
}

// ByKey returns a pointer to the score for one of ScoreKeys, nil for
// unknown keys.
func (s *ScoreSet) ByKey(key string) *int {
	switch key {
	case "score_overall_satisfaction":
		return s.OverallSatisfaction
	case "score_content_volume":
		return s.ContentVolume
	case "score_content_understanding":
		return s.ContentUnderstanding
	case "score_content_announcement":
		return s.ContentAnnouncement
	case "score_instructor_overall":
		return s.InstructorOverall
	case "score_instructor_time":
		return s.InstructorTime
	case "score_instructor_qa":
		return s.InstructorQA
	case "score_instructor_speaking":
		return s.InstructorSpeaking
	case "score_self_preparation":
		return s.SelfPreparation
	case "score_self_motivation":
		return s.SelfMotivation
	case "score_self_future":
		return s.SelfFuture
	}
	return nil
}

// SurveyResponse is one structured survey row.
type SurveyResponse struct {
	ID               int64
	BatchID          int64
	AccountID        *string
	StudentAttribute string
	Scores           ScoreSet
	Recommend        *int
}

// ResponseComment is one free-text comment extracted from one CSV cell,
// with its classification. Rows are insert-only; a re-analysis pass writes
// new rows under a different AnalysisVersion.
type ResponseComment struct {
	ID              int64
	BatchID         int64
	ResponseID      *int64
	QuestionLabel   string
	CommentText     string
	Category        string
	Sentiment       string
	ImportanceLevel string
	ImportanceScore float64
	RiskLevel       *string
	Summary         *string
	IsSafe          bool
	AnalysisVersion string
	Warnings        []string
	CreatedAt       *string
}

// SurveySummary is the per-batch aggregate consumed by the dashboard.
// Derived data: recomputable at any time from SurveyResponse rows.
type SurveySummary struct {
	ID                     int64
	BatchID                int64
	StudentAttribute       string
	Scores                 map[string]*float64 // keyed by ScoreKeys
	ResponseCount          int
	NPSScore               float64
	NPSPromoters           int
	NPSPassives            int
	NPSDetractors          int
	NPSTotal               int
	CommentsCount          int
	ImportantCommentsCount int
	UpdatedAt              *string
}

// CommentSummary is one histogram bucket: (analysis_type, label) -> count.
type CommentSummary struct {
	BatchID          int64
	StudentAttribute string
	AnalysisType     string // "sentiment", "category", or "importance"
	Label            string
	Count            int
}

// ScoreDistribution is one (question, score value) -> count bucket.
type ScoreDistribution struct {
	BatchID          int64
	StudentAttribute string
	QuestionKey      string
	ScoreValue       int
	Count            int
}

// Stats contains aggregate database statistics for the status command.
type Stats struct {
	TotalBatches     int
	CompletedBatches int
	FailedBatches    int
	TotalResponses   int
	TotalComments    int
	Courses          int
}
