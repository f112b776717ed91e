// Package globex parses and compares CME Globex futures codes such as "ESU24".
package globex

import (
	"regexp"
	"strconv"
)

var codePattern = regexp.MustCompile(`^([A-Z0-9]{2,})([FGHJKMNQUVXZ])([0-9]{2})$`)

// Code is a parsed Globex futures code. Symbol retains the original string,
// Month is the single delivery month letter and Year is the full four-digit year.
type Code struct {
	Symbol string
	Root   string
	Month  string
	Year   int
}

// Split breaks a symbol into (root, month letter, two-digit year string)
// without interpreting the year. Returns false for anything that is not a
// well-formed Globex code.
func Split(symbol string) (root, month, year string, ok bool) {
	captures := codePattern.FindStringSubmatch(symbol)
	if captures == nil {
		return "", "", "", false
	}
	return captures[1], captures[2], captures[3], true
}

// Parse interprets a symbol as a Globex code. Two-digit years below 70 map to
// the 2000s, the rest to the 1900s.
func Parse(symbol string) (Code, bool) {
	root, month, yearString, ok := Split(symbol)
	if !ok {
		return Code{}, false
	}
	year, err := strconv.Atoi(yearString)
	if err != nil {
		return Code{}, false
	}
	if year < 70 {
		year += 2000
	} else {
		year += 1900
	}
	code := Code{
		Symbol: symbol,
		Root:   root,
		Month:  month,
		Year:   year,
	}
	return code, true
}

// Compare orders codes by year, then by month letter. The month letters
// F through Z happen to sort chronologically within a year.
func (c Code) Compare(other Code) int {
	if c.Year != other.Year {
		if c.Year < other.Year {
			return -1
		}
		return 1
	}
	if c.Month != other.Month {
		if c.Month < other.Month {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether c expires before other.
func (c Code) Less(other Code) bool {
	return c.Compare(other) < 0
}
