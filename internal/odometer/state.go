package odometer

import (
	"strconv"
	"strings"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
)

// State of an odometer reading
type State string

const (
	StateIdle       State = "idle"
	StateAnalyzing  State = "analyzing"
	StateDivergence State = "divergence"
	StateMatch      State = "match"
	StateSaved      State = "saved"
	StateError      State = "error"
)

// DeriveState computes the reconciliation state from the raw reading fields.
// A saved reading is frozen. Without an AI value there is nothing to
// reconcile and the reading is idle.
func DeriveState(manual int, ai *int, saved bool) State {
	switch {
	case saved:
		return StateSaved
	case ai == nil:
		return StateIdle
	case manual == *ai:
		return StateMatch
	default:
		return StateDivergence
	}
}

// maxMileageDigits keeps parsed values inside int range on every platform.
const maxMileageDigits = 9

// ParseMileage reads a user-typed mileage, keeping digits only, so
// "12.500 km" is 12500. An empty value is 0.
func ParseMileage(s string) (int, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return 0, nil
	}
	if len(digits) > maxMileageDigits {
		return 0, apperrors.NewValidationError("value", "mileage is too large")
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, apperrors.NewValidationError("value", "mileage must be a number")
	}
	return n, nil
}
