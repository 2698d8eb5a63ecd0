package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedSeason is returned for seasons outside the provider range.
	ErrUnsupportedSeason = errors.New("unsupported season")

	// ErrProviderUnavailable is returned when the provider cannot be reached
	// and no cached copy of the season exists.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// SeasonError attaches the requested season to a provider failure.
type SeasonError struct {
	Season int
	Err    error
}

func (e *SeasonError) Error() string {
	return fmt.Sprintf("season %d: %v", e.Season, e.Err)
}

func (e *SeasonError) Unwrap() error { return e.Err }
