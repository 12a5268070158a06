// File: internal/server/templates.go
package server

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strconv"

	"github.com/smartdevs17/toxicity-log-service/internal/models"
	"github.com/smartdevs17/toxicity-log-service/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

func parseTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// logsPage is the data behind the admin log view
type logsPage struct {
	Rows        []report.Row
	Summary     report.Summary
	ChartLabels []string
	ChartCounts []int64
	Order       string
	Limit       int
	PrevURL     string
	NextURL     string
}

func newLogsPage(query models.RecordQuery, rows []report.Row, summary report.Summary) *logsPage {
	page := &logsPage{
		Rows:        rows,
		Summary:     summary,
		ChartLabels: make([]string, 0, len(summary.Labels)),
		ChartCounts: make([]int64, 0, len(summary.Labels)),
		Order:       string(query.OrderBy),
		Limit:       query.Limit,
	}
	for _, lc := range summary.Labels {
		page.ChartLabels = append(page.ChartLabels, lc.Label)
		page.ChartCounts = append(page.ChartCounts, lc.Count)
	}

	if query.Limit > 0 {
		if query.Offset > 0 {
			prev := query.Offset - query.Limit
			if prev < 0 {
				prev = 0
			}
			page.PrevURL = pageURL(query, prev)
		}
		if len(rows) == query.Limit {
			page.NextURL = pageURL(query, query.Offset+query.Limit)
		}
	}
	return page
}

func pageURL(query models.RecordQuery, offset int) string {
	u := logsPath + "?limit=" + strconv.Itoa(query.Limit) + "&offset=" + strconv.Itoa(offset)
	if query.OrderBy != "" {
		u += "&order=" + string(query.OrderBy)
	}
	return u
}

// renderPage executes a template into a buffer so that a template failure
// still produces a clean error response.
func (s *HTTPServer) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name+".html", data); err != nil {
		s.requestLogger(r).WithError(err).Error("Failed to render template")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		s.requestLogger(r).WithError(err).Debug("Failed to write page")
	}
}

// renderError shows an error page for browser-facing admin routes
func (s *HTTPServer) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	message := messageForError(err)

	details := ""
	if appErr, ok := asAppError(err); ok && status == http.StatusBadRequest {
		details = appErr.Details
	}

	s.requestLogger(r).WithError(err).WithField("status", status).Error("Admin request failed")
	s.renderPage(w, r, status, "error", map[string]interface{}{
		"Status":  status,
		"Message": message,
		"Details": details,
	})
}
