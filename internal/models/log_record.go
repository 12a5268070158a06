package models

import "time"

// Prediction labels emitted by the classifier.
const (
	PredictionToxic    = "Toxic"
	PredictionNonToxic = "Non-Toxic"
)

// LogRecord is one persisted classification event.
type LogRecord struct {
	ID             int64     `json:"id" db:"id"`
	Comment        string    `json:"comment" db:"comment"`
	Transliterated string    `json:"transliterated" db:"transliterated"`
	Prediction     string    `json:"prediction" db:"prediction"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}

// RecordOrder selects the ordering of a record query.
type RecordOrder string

const (
	OrderByID            RecordOrder = "id"
	OrderByIDDesc        RecordOrder = "id_desc"
	OrderByTimestampDesc RecordOrder = "timestamp_desc"
)

// Valid reports whether o is a known ordering. The empty value means OrderByID.
func (o RecordOrder) Valid() bool {
	switch o {
	case "", OrderByID, OrderByIDDesc, OrderByTimestampDesc:
		return true
	}
	return false
}

// RecordQuery for listing records
type RecordQuery struct {
	OrderBy RecordOrder `json:"order_by,omitempty"`
	Limit   int         `json:"limit,omitempty"`
	Offset  int         `json:"offset,omitempty"`
}
