// Package ingest turns classifier payloads into validated log records.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smartdevs17/toxicity-log-service/internal/models"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
	"github.com/spf13/cast"
)

// MaxPredictionLength matches the width of the prediction column.
const MaxPredictionLength = 64

// Payload is the loosely typed body sent by the classifier. Values are kept
// as decoded so that coercion errors can be reported per field.
type Payload struct {
	Comment        interface{}
	Transliterated interface{}
	Prediction     interface{}
	Confidence     interface{}
	Timestamp      interface{}
}

// DecodeJSON reads a JSON object payload. "translated" is accepted as an
// alias of "transliterated".
func DecodeJSON(r io.Reader) (*Payload, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid JSON body", err.Error())
	}
	if body == nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid JSON body", "body must be a JSON object")
	}

	p := &Payload{
		Comment:        body["comment"],
		Transliterated: body["transliterated"],
		Prediction:     body["prediction"],
		Confidence:     body["confidence"],
		Timestamp:      body["timestamp"],
	}
	if p.Transliterated == nil {
		p.Transliterated = body["translated"]
	}
	return p, nil
}

// FromForm builds a payload from submitted form values.
func FromForm(values url.Values) *Payload {
	p := &Payload{}
	if values.Has("comment") {
		p.Comment = values.Get("comment")
	}
	switch {
	case values.Has("transliterated"):
		p.Transliterated = values.Get("transliterated")
	case values.Has("translated"):
		p.Transliterated = values.Get("translated")
	}
	if values.Has("prediction") {
		p.Prediction = values.Get("prediction")
	}
	if values.Has("confidence") {
		p.Confidence = values.Get("confidence")
	}
	if values.Has("timestamp") {
		p.Timestamp = values.Get("timestamp")
	}
	return p
}

// ParseRequest decodes a JSON or form request body into a validated record.
func ParseRequest(r *http.Request) (*models.LogRecord, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil && err != http.ErrNotMultipart {
			return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid form body", err.Error())
		}
		return FromForm(r.PostForm).Validate()
	default:
		// The classifier does not always set a content type; treat it as JSON.
		p, err := DecodeJSON(r.Body)
		if err != nil {
			return nil, err
		}
		return p.Validate()
	}
}

// Validate coerces the payload into a record. Comment and prediction are
// required; confidence must be a fraction in [0,1].
func (p *Payload) Validate() (*models.LogRecord, error) {
	comment, err := textField("comment", p.Comment)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(comment) == "" {
		return nil, validationError("comment is required")
	}

	transliterated, err := textField("transliterated", p.Transliterated)
	if err != nil {
		return nil, err
	}

	prediction, err := textField("prediction", p.Prediction)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(prediction) == "" {
		return nil, validationError("prediction is required")
	}
	if utf8.RuneCountInString(prediction) > MaxPredictionLength {
		return nil, validationError(fmt.Sprintf("prediction must be at most %d characters", MaxPredictionLength))
	}

	confidence, err := ParseConfidence(p.Confidence)
	if err != nil {
		return nil, err
	}

	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return nil, err
	}

	return &models.LogRecord{
		Comment:        comment,
		Transliterated: transliterated,
		Prediction:     prediction,
		Confidence:     confidence,
		Timestamp:      ts,
	}, nil
}

// ParseConfidence coerces a number or numeric string to a float in [0,1].
// A missing value is 0.
func ParseConfidence(v interface{}) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case bool:
		return 0, validationError("confidence must be a number")
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return 0, nil
		}
		v = t
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, validationError("confidence must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, validationError("confidence must be a finite number")
	}
	if f < 0 || f > 1 {
		return 0, validationError("confidence must be between 0 and 1")
	}
	return f, nil
}

func textField(name string, v interface{}) (string, error) {
	switch v.(type) {
	case nil:
		return "", nil
	case map[string]interface{}, []interface{}:
		return "", validationError(name + " must be a string")
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", validationError(name + " must be a string")
	}
	return s, nil
}

func parseTimestamp(v interface{}) (time.Time, error) {
	s, ok := v.(string)
	if v == nil || (ok && strings.TrimSpace(s) == "") {
		return time.Time{}, nil
	}
	if !ok {
		return time.Time{}, validationError("timestamp must be a string")
	}

	ts, err := cast.ToTimeInDefaultLocationE(strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, validationError("timestamp is not a recognized date")
	}
	return ts.UTC(), nil
}

func validationError(details string) error {
	return utils.NewAppError(utils.ErrCodeValidation, "Invalid log payload", details)
}
