// Package reltime resolves the relative time expressions used by request
// endpoints: absolute instants, signed offsets against the opposite endpoint,
// and the keywords first, last and now.
package reltime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/futsim/futsim/internal/ohlc"
)

// Unit is an offset unit.
type Unit string

const (
	UnitMinutes Unit = "m"
	UnitHours   Unit = "h"
	UnitDays    Unit = "d"
	UnitWeeks   Unit = "w"
	UnitMonths  Unit = "mo"
	UnitYears   Unit = "y"
)

// Keyword is a special time expression.
type Keyword string

const (
	KeywordFirst Keyword = "first"
	KeywordLast  Keyword = "last"
	KeywordNow   Keyword = "now"
)

// Side names the request endpoint a relative time belongs to. The first
// keyword is only valid on the from side, last and now only on the to side.
type Side int

const (
	SideFrom Side = iota
	SideTo
)

var (
	ErrInvalidExpression = errors.New("invalid relative time: exactly one of date, offset and keyword must be set")
	ErrTwoOffsets        = errors.New("offsets on both endpoints cannot be resolved")
	ErrKeywordSide       = errors.New("keyword is not allowed on this endpoint")
)

// Time is exactly one of an absolute instant, a signed offset with a unit, or
// a keyword.
type Time struct {
	Date       *Timestamp `json:"date,omitempty"`
	Offset     *int       `json:"offset,omitempty"`
	OffsetUnit *Unit      `json:"offsetUnit,omitempty"`
	Keyword    *Keyword   `json:"keyword,omitempty"`
}

// Absolute wraps an instant.
func Absolute(t time.Time) Time {
	stamp := Timestamp{t}
	return Time{Date: &stamp}
}

// WithKeyword wraps a keyword.
func WithKeyword(keyword Keyword) Time {
	return Time{Keyword: &keyword}
}

// WithOffset wraps a signed offset.
func WithOffset(offset int, unit Unit) Time {
	return Time{Offset: &offset, OffsetUnit: &unit}
}

// Resolve evaluates the expression using the other endpoint as context. The
// now keyword truncates wall clock to the hour; first and last take the
// minimum and maximum timestamp across the archives' requested time frame.
func (r Time) Resolve(other Time, side Side, timeFrame ohlc.TimeFrame, archives []*ohlc.Archive, now func() time.Time) (time.Time, error) {
	switch {
	case r.Date != nil && r.Offset == nil && r.OffsetUnit == nil && r.Keyword == nil:
		return r.Date.Time, nil
	case r.Date == nil && r.Offset != nil && r.OffsetUnit != nil && r.Keyword == nil:
		base, err := other.fixed(timeFrame, archives, now)
		if err != nil {
			return time.Time{}, err
		}
		return applyOffset(base, *r.Offset, *r.OffsetUnit)
	case r.Date == nil && r.Offset == nil && r.OffsetUnit == nil && r.Keyword != nil:
		return resolveKeyword(*r.Keyword, side, timeFrame, archives, now)
	default:
		return time.Time{}, ErrInvalidExpression
	}
}

// fixed evaluates the expression without offset support, for use as the
// context of the opposite endpoint. Side restrictions do not apply to the
// context endpoint.
func (r Time) fixed(timeFrame ohlc.TimeFrame, archives []*ohlc.Archive, now func() time.Time) (time.Time, error) {
	switch {
	case r.Date != nil && r.Keyword == nil:
		return r.Date.Time, nil
	case r.Date == nil && r.Keyword != nil:
		return resolveKeyword(*r.Keyword, keywordSide(*r.Keyword), timeFrame, archives, now)
	default:
		return time.Time{}, ErrTwoOffsets
	}
}

func keywordSide(keyword Keyword) Side {
	if keyword == KeywordFirst {
		return SideFrom
	}
	return SideTo
}

func resolveKeyword(keyword Keyword, side Side, timeFrame ohlc.TimeFrame, archives []*ohlc.Archive, now func() time.Time) (time.Time, error) {
	switch keyword {
	case KeywordNow:
		if side != SideTo {
			return time.Time{}, fmt.Errorf("%w: %q", ErrKeywordSide, keyword)
		}
		return now().Truncate(time.Hour), nil
	case KeywordFirst:
		if side != SideFrom {
			return time.Time{}, fmt.Errorf("%w: %q", ErrKeywordSide, keyword)
		}
		return firstLast(true, timeFrame, archives)
	case KeywordLast:
		if side != SideTo {
			return time.Time{}, fmt.Errorf("%w: %q", ErrKeywordSide, keyword)
		}
		return firstLast(false, timeFrame, archives)
	default:
		return time.Time{}, fmt.Errorf("unknown keyword %q", keyword)
	}
}

func firstLast(first bool, timeFrame ohlc.TimeFrame, archives []*ohlc.Archive) (time.Time, error) {
	var result time.Time
	found := false
	for _, archive := range archives {
		records := archive.Data(timeFrame).AdjustedFallback()
		if len(records) == 0 {
			return time.Time{}, errors.New("no records available")
		}
		candidate := records[len(records)-1].Time
		if first {
			candidate = records[0].Time
		}
		if !found {
			result = candidate
			found = true
			continue
		}
		if first && candidate.Before(result) {
			result = candidate
		} else if !first && candidate.After(result) {
			result = candidate
		}
	}
	if !found {
		return time.Time{}, errors.New("no archives available")
	}
	return result, nil
}

func applyOffset(base time.Time, offset int, unit Unit) (time.Time, error) {
	switch unit {
	case UnitMinutes:
		return base.Add(time.Duration(offset) * time.Minute), nil
	case UnitHours:
		return base.Add(time.Duration(offset) * time.Hour), nil
	case UnitDays:
		return base.AddDate(0, 0, offset), nil
	case UnitWeeks:
		return base.AddDate(0, 0, 7*offset), nil
	case UnitMonths:
		return addMonths(base, offset), nil
	case UnitYears:
		return addMonths(base, 12*offset), nil
	default:
		return time.Time{}, fmt.Errorf("unknown offset unit %q", unit)
	}
}

// addMonths performs calendar month arithmetic with the day of month clamped
// to the target month's length, so Jan 31 plus one month is Feb 28/29 rather
// than an overflow into March.
func addMonths(t time.Time, months int) time.Time {
	year := t.Year()
	month := int(t.Month()) - 1 + months
	year += month / 12
	month %= 12
	if month < 0 {
		month += 12
		year--
	}
	targetMonth := time.Month(month + 1)
	day := t.Day()
	if last := daysIn(year, targetMonth); day > last {
		day = last
	}
	return time.Date(year, targetMonth, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Timestamp is a wall-clock instant without a zone, serialized as
// "2006-01-02T15:04:05" with a date-only fallback.
type Timestamp struct {
	time.Time
}

const (
	timestampLayout = "2006-01-02T15:04:05"
	dateLayout      = "2006-01-02"
)

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	for _, layout := range []string{timestampLayout, "2006-01-02 15:04", dateLayout} {
		if parsed, err := time.Parse(layout, value); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unable to parse timestamp %q", value)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(timestampLayout))
}
