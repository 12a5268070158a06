// Package report shapes stored classification records for display and export.
package report

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/smartdevs17/toxicity-log-service/internal/models"
)

const (
	// TimestampLayout is used for timestamps in the tabular view.
	TimestampLayout = "2006-01-02 15:04:05"
	// CSVTimestampLayout keeps the full stored precision in exports.
	CSVTimestampLayout = time.RFC3339Nano
)

// CSVHeader is the header row of CSV exports, one entry per column.
var CSVHeader = []string{"id", "comment", "transliterated", "prediction", "confidence", "timestamp"}

// Row is a record formatted for display.
type Row struct {
	ID             int64  `json:"id"`
	Comment        string `json:"comment"`
	Transliterated string `json:"transliterated"`
	Prediction     string `json:"prediction"`
	Confidence     string `json:"confidence"`
	Timestamp      string `json:"timestamp"`
}

// LabelCount is the number of records carrying one prediction label.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Summary counts records per prediction label. Labels are compared exactly,
// so "Toxic" and "toxic" are counted separately.
type Summary struct {
	Total  int64        `json:"total"`
	Labels []LabelCount `json:"labels"`
}

// Counts returns the summary as a label to count map.
func (s Summary) Counts() map[string]int64 {
	m := make(map[string]int64, len(s.Labels))
	for _, lc := range s.Labels {
		m[lc.Label] = lc.Count
	}
	return m
}

// FormatConfidence renders a confidence with two decimals.
func FormatConfidence(c float64) string {
	return strconv.FormatFloat(c, 'f', 2, 64)
}

// FormatTimestamp renders a timestamp in UTC, or "" when unknown.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

func formatCSVTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(CSVTimestampLayout)
}

// BuildRows formats records for the tabular view.
func BuildRows(records []*models.LogRecord) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{
			ID:             r.ID,
			Comment:        r.Comment,
			Transliterated: r.Transliterated,
			Prediction:     r.Prediction,
			Confidence:     FormatConfidence(r.Confidence),
			Timestamp:      FormatTimestamp(r.Timestamp),
		})
	}
	return rows
}

// Summarize groups records by prediction.
func Summarize(records []*models.LogRecord) Summary {
	counts := make(map[string]int64)
	for _, r := range records {
		counts[r.Prediction]++
	}
	return SummaryFromCounts(counts)
}

// SummaryFromCounts builds a summary from per-label counts, labels sorted.
func SummaryFromCounts(counts map[string]int64) Summary {
	s := Summary{Labels: make([]LabelCount, 0, len(counts))}
	for label, n := range counts {
		s.Labels = append(s.Labels, LabelCount{Label: label, Count: n})
		s.Total += n
	}
	sort.Slice(s.Labels, func(i, j int) bool { return s.Labels[i].Label < s.Labels[j].Label })
	return s
}

// WriteCSV writes a header row followed by one row per record. Confidence and
// timestamp keep their stored precision. Field bytes are written verbatim,
// including carriage returns inside quoted fields.
func WriteCSV(w io.Writer, records []*models.LogRecord) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	for _, r := range records {
		if err := cw.Write([]string{
			strconv.FormatInt(r.ID, 10),
			r.Comment,
			r.Transliterated,
			r.Prediction,
			strconv.FormatFloat(r.Confidence, 'f', -1, 64),
			formatCSVTimestamp(r.Timestamp),
		}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
