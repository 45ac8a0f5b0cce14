// Package server exposes the HTTP API for uploading survey files and
// reading back batch status, summaries and the HTML dashboard.
package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/skawano/lecfeed/internal/database"
	"github.com/skawano/lecfeed/internal/ingest"
	"github.com/skawano/lecfeed/internal/jobs"
	"github.com/skawano/lecfeed/internal/storage"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New()

// maxUploadBytes caps the accepted survey file size.
const maxUploadBytes = 32 << 20

// JobQueue schedules background processing for an uploaded batch.
type JobQueue interface {
	Enqueue(batchID int64) (string, error)
}

// Server handles the upload API and the dashboard.
type Server struct {
	db     *database.DB
	store  storage.Store
	queue  JobQueue
	parser *ingest.Parser
	pages  map[string]*template.Template
	mux    *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, store storage.Store, queue JobQueue, parser *ingest.Parser) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	pageNames := []string{"dashboard.html", "batch.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, store: store, queue: queue, parser: parser, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/uploads", s.handleUpload)
	s.mux.HandleFunc("/api/uploads/", s.handleUploadByID)
	s.mux.HandleFunc("/api/batches/", s.handleBatchSummary)
	s.mux.HandleFunc("/api/courses/", s.handleCourseOverview)
	s.mux.HandleFunc("/dashboard", s.handleDashboard)
	s.mux.HandleFunc("/dashboard/", s.handleBatchPage)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// userID returns the caller identity asserted by the front proxy, for log
// correlation only.
func userID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-Id")); id != "" {
		return id
	}
	return "anonymous"
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request: "+err.Error())
		return
	}

	courseName := strings.TrimSpace(r.FormValue("course_name"))
	lectureDate := strings.TrimSpace(r.FormValue("lecture_date"))
	lectureNumber, numErr := strconv.Atoi(strings.TrimSpace(r.FormValue("lecture_number")))
	batchType := strings.TrimSpace(r.FormValue("batch_type"))

	switch {
	case courseName == "":
		writeError(w, http.StatusBadRequest, "course_name is required")
		return
	case lectureDate == "":
		writeError(w, http.StatusBadRequest, "lecture_date is required")
		return
	case numErr != nil || lectureNumber < 1:
		writeError(w, http.StatusBadRequest, "lecture_number must be a positive integer")
		return
	}
	if _, err := time.Parse("2006-01-02", lectureDate); err != nil {
		writeError(w, http.StatusBadRequest, "lecture_date must be YYYY-MM-DD")
		return
	}
	switch batchType {
	case "":
		batchType = database.BatchTypePreliminary
	case database.BatchTypePreliminary, database.BatchTypeConfirmed:
	default:
		writeError(w, http.StatusBadRequest, "batch_type must be preliminary or confirmed")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading uploaded file: "+err.Error())
		return
	}

	if err := s.parser.Validate(data); err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "validating file: "+err.Error())
		return
	}

	path := storage.BuildPath(courseName, lectureDate, lectureNumber, header.Filename)
	uri, err := s.store.Save(r.Context(), path, data, "text/csv")
	if err != nil {
		log.Printf("upload by %s: storing file failed: %v", userID(r), err)
		writeError(w, http.StatusInternalServerError, "storing uploaded file failed")
		return
	}

	filename := header.Filename
	batchID, err := s.db.InsertBatch(&database.Batch{
		CourseName:       courseName,
		LectureDate:      lectureDate,
		LectureNumber:    lectureNumber,
		BatchType:        batchType,
		StorageURI:       &uri,
		OriginalFilename: &filename,
	})
	if err != nil {
		// The blob has no owner row; remove it again.
		if delErr := s.store.Delete(r.Context(), uri); delErr != nil {
			log.Printf("removing orphaned upload %s: %v", uri, delErr)
		}
		var dup *database.DuplicateBatchError
		if errors.As(err, &dup) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":       dup.Error(),
				"existing_id": dup.ExistingID,
			})
			return
		}
		log.Printf("upload by %s: inserting batch failed: %v", userID(r), err)
		writeError(w, http.StatusInternalServerError, "recording upload failed")
		return
	}

	jobID, err := s.queue.Enqueue(batchID)
	if err != nil {
		log.Printf("upload by %s: enqueue for batch %d failed: %v", userID(r), batchID, err)
		// No worker will ever pick this batch up; roll the upload back so a
		// retry does not collide with an orphaned QUEUED row.
		if delErr := s.db.DeleteBatch(batchID); delErr != nil {
			log.Printf("removing unqueued batch %d: %v", batchID, delErr)
		}
		if delErr := s.store.Delete(r.Context(), uri); delErr != nil {
			log.Printf("removing orphaned upload %s: %v", uri, delErr)
		}
		writeError(w, http.StatusServiceUnavailable, "processing queue is full, try again later")
		return
	}

	log.Printf("upload by %s: batch %d (%s %s #%d) queued as job %s",
		userID(r), batchID, courseName, lectureDate, lectureNumber, jobID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"file_id":    batchID,
		"status_url": fmt.Sprintf("/api/uploads/%d/status", batchID),
		"message":    "upload accepted, analysis queued",
	})
}

// handleUploadByID serves GET /api/uploads/{id}/status and
// DELETE /api/uploads/{id}.
func (s *Server) handleUploadByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/uploads/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload id")
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "status":
		s.serveUploadStatus(w, id)
	case r.Method == http.MethodDelete && len(parts) == 1:
		s.deleteUpload(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) serveUploadStatus(w http.ResponseWriter, id int64) {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading batch failed")
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "unknown upload id")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file_id":            batch.ID,
		"status":             batch.Status,
		"batch_type":         batch.BatchType,
		"course_name":        batch.CourseName,
		"lecture_date":       batch.LectureDate,
		"lecture_number":     batch.LectureNumber,
		"total_responses":    batch.TotalResponses,
		"total_comments":     batch.TotalComments,
		"processed_comments": batch.ProcessedComments,
		"error_message":      batch.ErrorMessage,
		"uploaded_at":        batch.UploadedAt,
		"started_at":         batch.StartedAt,
		"completed_at":       batch.CompletedAt,
	})
}

func (s *Server) deleteUpload(w http.ResponseWriter, r *http.Request, id int64) {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading batch failed")
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "unknown upload id")
		return
	}

	if err := s.db.DeleteBatch(id); err != nil {
		writeError(w, http.StatusInternalServerError, "deleting batch failed")
		return
	}
	if batch.StorageURI != nil && *batch.StorageURI != "" {
		if err := s.store.Delete(r.Context(), *batch.StorageURI); err != nil {
			log.Printf("delete by %s: removing blob for batch %d failed: %v", userID(r), id, err)
		}
	}

	log.Printf("delete by %s: batch %d removed", userID(r), id)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleBatchSummary serves GET /api/batches/{id}/summary.
func (s *Server) handleBatchSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/batches/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "summary" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	payload, status, err := s.summaryPayload(id)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) summaryPayload(id int64) (map[string]any, int, error) {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("loading batch failed")
	}
	if batch == nil {
		return nil, http.StatusNotFound, fmt.Errorf("unknown batch id")
	}

	stored, err := s.db.GetSurveySummary(id, "ALL")
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("loading summary failed")
	}
	if stored == nil {
		return nil, http.StatusNotFound, fmt.Errorf("summary not computed yet")
	}

	histogramRows, err := s.db.GetCommentSummaries(id, "ALL")
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("loading comment summaries failed")
	}
	histograms := map[string]map[string]int{}
	for _, row := range histogramRows {
		if histograms[row.AnalysisType] == nil {
			histograms[row.AnalysisType] = map[string]int{}
		}
		histograms[row.AnalysisType][row.Label] = row.Count
	}

	distributions, err := s.db.GetScoreDistributions(id, "ALL")
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("loading score distributions failed")
	}

	return map[string]any{
		"batch_id":                 batch.ID,
		"batch_type":               batch.BatchType,
		"status":                   batch.Status,
		"course_name":              batch.CourseName,
		"lecture_date":             batch.LectureDate,
		"lecture_number":           batch.LectureNumber,
		"response_count":           stored.ResponseCount,
		"scores":                   stored.Scores,
		"nps_score":                stored.NPSScore,
		"nps_promoters":            stored.NPSPromoters,
		"nps_passives":             stored.NPSPassives,
		"nps_detractors":           stored.NPSDetractors,
		"nps_total":                stored.NPSTotal,
		"comments_count":           stored.CommentsCount,
		"important_comments_count": stored.ImportantCommentsCount,
		"histograms":               histograms,
		"score_distributions":      distributions,
	}, http.StatusOK, nil
}

// handleCourseOverview serves GET /api/courses/{course}/overview: the
// effective batch per lecture number with its summary when available.
func (s *Server) handleCourseOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/courses/")
	course, suffix, ok := strings.Cut(strings.Trim(rest, "/"), "/")
	if !ok || suffix != "overview" || course == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	effective, err := s.db.EffectiveBatches(course)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading batches failed")
		return
	}
	if len(effective) == 0 {
		writeError(w, http.StatusNotFound, "no batches for course")
		return
	}

	lectures := make([]map[string]any, 0, len(effective))
	for number := range effective {
		batch := effective[number]
		entry := map[string]any{
			"lecture_number": number,
			"batch_id":       batch.ID,
			"batch_type":     batch.BatchType,
			"lecture_date":   batch.LectureDate,
			"status":         batch.Status,
		}
		if stored, err := s.db.GetSurveySummary(batch.ID, "ALL"); err == nil && stored != nil {
			entry["nps_score"] = stored.NPSScore
			entry["response_count"] = stored.ResponseCount
			entry["comments_count"] = stored.CommentsCount
			entry["scores"] = stored.Scores
		}
		lectures = append(lectures, entry)
	}
	sortLectures(lectures)

	writeJSON(w, http.StatusOK, map[string]any{
		"course_name": course,
		"lectures":    lectures,
	})
}

func sortLectures(lectures []map[string]any) {
	for i := 1; i < len(lectures); i++ {
		for j := i; j > 0 && lectures[j-1]["lecture_number"].(int) > lectures[j]["lecture_number"].(int); j-- {
			lectures[j-1], lectures[j] = lectures[j], lectures[j-1]
		}
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	batches, err := s.db.ListRecentBatches(50)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "dashboard.html", map[string]any{
		"Batches": batches,
	})
}

func (s *Server) handleBatchPage(w http.ResponseWriter, r *http.Request) {
	idText := strings.Trim(strings.TrimPrefix(r.URL.Path, "/dashboard/"), "/")
	if idText == "" {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	batch, err := s.db.GetBatch(id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if batch == nil {
		http.NotFound(w, r)
		return
	}

	report := s.composeReport(batch)
	s.render(w, "batch.html", map[string]any{
		"Batch":  batch,
		"Report": report,
	})
}

// composeReport builds the per-batch analysis report as markdown; the
// template pipes it through goldmark.
func (s *Server) composeReport(batch *database.Batch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s 第%d回 (%s)\n\n", batch.CourseName, batch.LectureNumber, batch.LectureDate)
	fmt.Fprintf(&b, "- Status: %s\n- Responses: %d\n- Comments: %d/%d processed\n\n",
		batch.Status, batch.TotalResponses, batch.ProcessedComments, batch.TotalComments)

	stored, err := s.db.GetSurveySummary(batch.ID, "ALL")
	if err != nil || stored == nil {
		b.WriteString("Summary has not been computed yet.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "### NPS\n\n**%.1f** (promoters %d / passives %d / detractors %d of %d)\n\n",
		stored.NPSScore, stored.NPSPromoters, stored.NPSPassives, stored.NPSDetractors, stored.NPSTotal)

	b.WriteString("### Score means\n\n| Dimension | Mean |\n| --- | --- |\n")
	for _, key := range database.ScoreKeys {
		if v := stored.Scores[key]; v != nil {
			fmt.Fprintf(&b, "| %s | %.2f |\n", strings.TrimPrefix(key, "score_"), *v)
		}
	}
	b.WriteString("\n")

	if rows, err := s.db.GetCommentSummaries(batch.ID, "ALL"); err == nil && len(rows) > 0 {
		b.WriteString("### Comments\n\n")
		fmt.Fprintf(&b, "%d comments, %d flagged important.\n\n", stored.CommentsCount, stored.ImportantCommentsCount)
		b.WriteString("| Type | Label | Count |\n| --- | --- | --- |\n")
		for _, row := range rows {
			fmt.Fprintf(&b, "| %s | %s | %d |\n", row.AnalysisType, row.Label, row.Count)
		}
		b.WriteString("\n")
	}

	if unsafe, err := s.db.GetUnsafeCommentsForBatch(batch.ID); err == nil && len(unsafe) > 0 {
		fmt.Fprintf(&b, "### Flagged comments\n\n%d comments require review.\n", len(unsafe))
	}

	return b.String()
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, store storage.Store, runner *jobs.Runner, parser *ingest.Parser, port int) error {
	srv, err := New(db, store, runner, parser)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
