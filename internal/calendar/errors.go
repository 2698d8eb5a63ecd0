package calendar

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord reports a provider record that cannot be coerced
	// into a RaceEvent (missing or non-numeric round, bad timestamp text...).
	ErrMalformedRecord = errors.New("malformed record")

	// ErrAmbiguousTimestamp reports a timestamp without zone information.
	ErrAmbiguousTimestamp = errors.New("ambiguous timestamp")
)

// RecordError carries the context of a normalization failure.
type RecordError struct {
	Index  int    // position in the input slice
	Season string // raw season text, possibly empty
	Round  string // raw round text, possibly empty
	Field  string
	Value  string
	Err    error
}

func (e *RecordError) Error() string {
	msg := fmt.Sprintf("record %d", e.Index)
	if e.Season != "" {
		msg += " season " + e.Season
	}
	if e.Round != "" {
		msg += " round " + e.Round
	}
	if e.Field != "" {
		msg += " field " + e.Field
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" (%q)", e.Value)
	}
	return msg + ": " + e.Err.Error()
}

func (e *RecordError) Unwrap() error { return e.Err }
