// Package fiscal converts the legacy calendar week-ending encodings used by
// CALDAR_RECORD.
//
// The legacy key ACC_WKEND_N stores a week ending as YYMMDD (241228). The
// replacement ACC_WKEND2_N stores it as YYYYMMDD (20241228). Two-digit years
// at or above PivotYY belong to the 1900s, the rest to the 2000s, so only
// dates inside [WindowStart, WindowEnd] survive a round trip.
package fiscal

import (
	"errors"
	"fmt"
	"time"
)

const (
	// PivotYY is the first two-digit year read as 19YY.
	PivotYY = 50

	// WindowStart and WindowEnd bound the four-digit years a YYMMDD value can name.
	WindowStart = 1900 + PivotYY
	WindowEnd   = 2000 + PivotYY - 1

	maxYYMMDD   = 991231
	maxYYYYMMDD = 99991231
)

var (
	// ErrOutOfRange is returned for values that cannot hold the encoding at all.
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidDate is returned when the digits do not name a calendar day.
	ErrInvalidDate = errors.New("not a calendar date")

	// ErrOutsideWindow is returned when a YYYYMMDD year has no YYMMDD form.
	ErrOutsideWindow = errors.New("year outside the two-digit window")
)

// ExpandYYMMDD converts a legacy YYMMDD week ending to YYYYMMDD.
func ExpandYYMMDD(v int) (int, error) {
	if v < 0 || v > maxYYMMDD {
		return 0, fmt.Errorf("expand %d: %w", v, ErrOutOfRange)
	}

	yy, mmdd := v/10000, v%10000
	century := 2000
	if yy >= PivotYY {
		century = 1900
	}

	expanded := (century+yy)*10000 + mmdd
	if _, err := ToDate(expanded); err != nil {
		return 0, fmt.Errorf("expand %06d: %w", v, ErrInvalidDate)
	}
	return expanded, nil
}

// CompactYYYYMMDD converts a YYYYMMDD week ending back to YYMMDD.
func CompactYYYYMMDD(v int) (int, error) {
	if v < 0 || v > maxYYYYMMDD {
		return 0, fmt.Errorf("compact %d: %w", v, ErrOutOfRange)
	}
	if _, err := ToDate(v); err != nil {
		return 0, fmt.Errorf("compact %08d: %w", v, err)
	}

	year := v / 10000
	if year < WindowStart || year > WindowEnd {
		return 0, fmt.Errorf("compact %08d: %w", v, ErrOutsideWindow)
	}
	return v % 1000000, nil
}

// ToDate parses a YYYYMMDD integer into a UTC date.
func ToDate(v int) (time.Time, error) {
	year, month, day := v/10000, (v/100)%100, v%100
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, ErrInvalidDate
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalises 0231 to 0303; a normalised date is not the input.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// FromDate formats a date as a YYYYMMDD integer.
func FromDate(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
