// File: internal/server/handlers.go
package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/toxicity-log-service/internal/ingest"
	"github.com/smartdevs17/toxicity-log-service/internal/models"
	"github.com/smartdevs17/toxicity-log-service/internal/report"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
)

const (
	logsPath       = "/logs"
	csvFilename    = "toxicity_logs.csv"
	backupFilename = "toxicity_logs.db"
	maxPageSize    = 1000
)

// statusForError maps an application error code to an HTTP status
func statusForError(err error) int {
	switch utils.ErrorCode(err) {
	case utils.ErrCodeValidation:
		return http.StatusBadRequest
	case utils.ErrCodeAuth:
		return http.StatusUnauthorized
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	case utils.ErrCodeNotSupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// messageForError returns the client-facing message. Store failures are
// reported generically.
func messageForError(err error) string {
	if appErr, ok := asAppError(err); ok {
		switch appErr.Code {
		case utils.ErrCodeValidation, utils.ErrCodeAuth, utils.ErrCodeNotFound, utils.ErrCodeNotSupported:
			return appErr.Message
		}
	}
	return "internal server error"
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.writeError(w, r, statusForError(err), messageForError(err), err)
}

// homeHandler is the liveness probe
func (s *HTTPServer) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Toxicity Logger API is running")
}

// healthHandler reports service and storage health
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.storage.GetHealth()

	status := http.StatusOK
	state := "healthy"
	if !health.Healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("storage", health.Healthy)
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":        state,
		"timestamp":     time.Now().UTC(),
		"version":       s.config.Version,
		"storage":       health,
		"admin_enabled": s.gate.Enabled(),
	})
}

// ingestHandler records one classification event from the classifier
func (s *HTTPServer) ingestHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	record, err := ingest.ParseRequest(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || isBodyTooLarge(err) {
			s.recordRejected("too_large")
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large", err)
			return
		}
		// Classifiers only tell 200 from 500, so bad payloads answer 500 with
		// the validation details in the body.
		s.recordRejected("invalid")
		s.writeError(w, r, http.StatusInternalServerError, messageForError(err), err)
		return
	}

	id, err := s.storage.InsertRecord(r.Context(), record)
	if err != nil {
		s.recordRejected("store")
		s.fail(w, r, err)
		return
	}

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordIngested(record.Prediction, "api", record.Confidence)
	}

	s.requestLogger(r).WithFields(logrus.Fields{
		"id":         id,
		"prediction": record.Prediction,
		"confidence": record.Confidence,
	}).Debug("Logged classification")

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Logged successfully",
		"id":      id,
	})
}

// isBodyTooLarge catches the size error after it was wrapped as a validation
// error by the body decoders.
func isBodyTooLarge(err error) bool {
	appErr, ok := asAppError(err)
	return ok && appErr.Details == "http: request body too large"
}

func (s *HTTPServer) recordRejected(reason string) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordIngestionRejected(reason)
	}
}

// parseRecordQuery reads order, limit and offset from the query string
func parseRecordQuery(values url.Values) (models.RecordQuery, error) {
	query := models.RecordQuery{OrderBy: models.RecordOrder(values.Get("order"))}
	if !query.OrderBy.Valid() {
		return query, utils.NewAppError(utils.ErrCodeValidation, "Invalid query parameter", "unknown order "+strconv.Quote(values.Get("order")))
	}

	var err error
	if query.Limit, err = intParam(values, "limit"); err != nil {
		return query, err
	}
	if query.Offset, err = intParam(values, "offset"); err != nil {
		return query, err
	}
	if query.Limit > maxPageSize {
		query.Limit = maxPageSize
	}
	return query, nil
}

func intParam(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "Invalid query parameter", name+" must be a non-negative integer")
	}
	return n, nil
}

// logsHandler serves the admin view and its alternate representations
func (s *HTTPServer) logsHandler(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	switch download := values.Get("download"); download {
	case "":
	case "csv":
		s.exportCSV(w, r, values)
		return
	case "db":
		s.exportDatabase(w, r)
		return
	default:
		s.writeError(w, r, http.StatusBadRequest, "unknown download format", nil)
		return
	}

	switch format := values.Get("format"); format {
	case "", "html":
		s.renderLogs(w, r, values)
	case "json":
		s.listJSON(w, r, values)
	case "summary":
		s.summaryJSON(w, r)
	default:
		s.writeError(w, r, http.StatusBadRequest, "unknown format", nil)
	}
}

func (s *HTTPServer) listJSON(w http.ResponseWriter, r *http.Request, values url.Values) {
	query, err := parseRecordQuery(values)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	records, err := s.storage.QueryRecords(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	total, err := s.storage.CountRecords(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
		"total":   total,
		"limit":   query.Limit,
		"offset":  query.Offset,
	})
}

func (s *HTTPServer) summaryJSON(w http.ResponseWriter, r *http.Request) {
	counts, err := s.storage.CountByPrediction(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report.SummaryFromCounts(counts))
}

// statsHandler returns storage statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.GetStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// attachmentWriter defers the download headers until the first byte, so a
// failure before any output can still be reported as an error response.
type attachmentWriter struct {
	w           http.ResponseWriter
	contentType string
	filename    string
	written     bool
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	if !a.written {
		a.written = true
		h := a.w.Header()
		h.Set("Content-Type", a.contentType)
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", a.filename))
		a.w.WriteHeader(http.StatusOK)
	}
	return a.w.Write(p)
}

func (s *HTTPServer) recordExport(format string, err error) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordExport(format, status)
}

func (s *HTTPServer) exportCSV(w http.ResponseWriter, r *http.Request, values url.Values) {
	query, err := parseRecordQuery(values)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// Exports always contain every record.
	query.Limit, query.Offset = 0, 0

	records, err := s.storage.QueryRecords(r.Context(), query)
	if err != nil {
		s.recordExport("csv", err)
		s.fail(w, r, err)
		return
	}

	out := &attachmentWriter{w: w, contentType: "text/csv; charset=utf-8", filename: csvFilename}
	err = report.WriteCSV(out, records)
	s.recordExport("csv", err)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("CSV export interrupted")
	}
}

func (s *HTTPServer) exportDatabase(w http.ResponseWriter, r *http.Request) {
	out := &attachmentWriter{w: w, contentType: "application/octet-stream", filename: backupFilename}
	err := s.storage.Backup(r.Context(), out)
	s.recordExport("db", err)
	if err == nil {
		return
	}
	if out.written {
		s.requestLogger(r).WithError(err).Error("Database export interrupted")
		return
	}
	s.fail(w, r, err)
}

func (s *HTTPServer) renderLogs(w http.ResponseWriter, r *http.Request, values url.Values) {
	query, err := parseRecordQuery(values)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	ctx := r.Context()
	records, err := s.storage.QueryRecords(ctx, query)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	counts, err := s.storage.CountByPrediction(ctx)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	s.renderPage(w, r, http.StatusOK, "logs", newLogsPage(query, report.BuildRows(records), report.SummaryFromCounts(counts)))
}

// logsFormHandler handles the admin page forms: delete one, delete all, add
func (s *HTTPServer) logsFormHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, utils.NewAppError(utils.ErrCodeValidation, "Invalid form body", err.Error()))
		return
	}

	switch {
	case r.PostForm.Has("delete_id"):
		s.deleteByID(w, r, r.PostForm.Get("delete_id"))
	case r.PostForm.Has("delete_all"):
		s.deleteAll(w, r)
	case r.PostForm.Has("comment"):
		s.addFromForm(w, r)
	default:
		s.renderError(w, r, utils.NewAppError(utils.ErrCodeValidation, "Invalid form body", "no action in form"))
	}
}

// deleteHandler deletes the record named in the path
func (s *HTTPServer) deleteHandler(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, mux.Vars(r)["id"])
}

// deleteAllHandler deletes every record
func (s *HTTPServer) deleteAllHandler(w http.ResponseWriter, r *http.Request) {
	s.deleteAll(w, r)
}

func (s *HTTPServer) deleteByID(w http.ResponseWriter, r *http.Request, raw string) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.renderError(w, r, utils.NewAppError(utils.ErrCodeValidation, "Invalid record id", strconv.Quote(raw)))
		return
	}

	deleted, err := s.storage.DeleteRecord(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	if deleted && s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordDeleted("single", 1)
	}
	s.requestLogger(r).WithFields(logrus.Fields{
		"id":      id,
		"deleted": deleted,
	}).Info("Delete record requested")

	http.Redirect(w, r, logsPath, http.StatusSeeOther)
}

func (s *HTTPServer) deleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.storage.DeleteAllRecords(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordDeleted("all", n)
	}

	http.Redirect(w, r, logsPath, http.StatusSeeOther)
}

func (s *HTTPServer) addFromForm(w http.ResponseWriter, r *http.Request) {
	record, err := ingest.FromForm(r.PostForm).Validate()
	if err != nil {
		s.recordRejected("invalid")
		s.renderError(w, r, err)
		return
	}

	if _, err := s.storage.InsertRecord(r.Context(), record); err != nil {
		s.recordRejected("store")
		s.renderError(w, r, err)
		return
	}

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordIngested(record.Prediction, "form", record.Confidence)
	}

	http.Redirect(w, r, logsPath, http.StatusSeeOther)
}
