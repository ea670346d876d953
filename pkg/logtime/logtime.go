// Package logtime extracts timestamps from log lines that carry them in one of
// several textual formats, most of which omit the year.
package logtime

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNoTimestamp means no recognizable timestamp was found. Lenient callers
	// treat it as "not found" and move on.
	ErrNoTimestamp = errors.New("no timestamp found")

	// ErrMalformedTimestamp means a line that must carry a syslog timestamp does not.
	ErrMalformedTimestamp = errors.New("malformed timestamp")
)

// Format selects which timestamp encodings Parse accepts.
type Format int

const (
	// FormatAny tries syslog, then ISO date-time, then bare time of day.
	FormatAny Format = iota

	// FormatSyslog accepts only "Mon dd hh:mm:ss". A miss is a hard failure.
	FormatSyslog

	// FormatReconfig accepts only "yy/mm/dd hh:mm:ss" as written by reconfiguration logs.
	FormatReconfig
)

func (f Format) String() string {
	switch f {
	case FormatAny:
		return "any"
	case FormatSyslog:
		return "syslog"
	case FormatReconfig:
		return "reconfig"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

var (
	syslogRe   = regexp.MustCompile(`\b(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})\b`)
	isoRe      = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})[ T](\d{2}):(\d{2}):(\d{2})\b`)
	clockRe    = regexp.MustCompile(`\b(\d{1,2}):(\d{2}):(\d{2})\b`)
	reconfigRe = regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{2})\s+(\d{2}):(\d{2}):(\d{2})\b`)

	months = map[string]time.Month{
		"Jan": time.January, "Feb": time.February, "Mar": time.March,
		"Apr": time.April, "May": time.May, "Jun": time.June,
		"Jul": time.July, "Aug": time.August, "Sep": time.September,
		"Oct": time.October, "Nov": time.November, "Dec": time.December,
	}
)

// Parser turns log text into timestamps. The zero value parses in time.Local
// and takes the year and date from the wall clock.
//
// Syslog timestamps carry no year. Year is substituted as-is, so a window
// that spans New Year gets the wrong year for the older lines.
type Parser struct {
	// Year is substituted into syslog timestamps. Zero means the current year.
	Year int

	// Now supplies the current time. Nil means time.Now.
	Now func() time.Time

	// Location is the zone every parsed timestamp is placed in. Nil means time.Local.
	Location *time.Location
}

// NewParser returns a parser pinned to the given year.
func NewParser(year int) *Parser {
	return &Parser{Year: year}
}

func (p *Parser) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().In(p.location())
	}
	return time.Now().In(p.location())
}

func (p *Parser) location() *time.Location {
	if p != nil && p.Location != nil {
		return p.Location
	}
	return time.Local
}

func (p *Parser) year() int {
	if p != nil && p.Year != 0 {
		return p.Year
	}
	return p.now().Year()
}

// Parse extracts the first timestamp in line accepted by format.
func (p *Parser) Parse(line string, format Format) (time.Time, error) {
	switch format {
	case FormatSyslog:
		if t, ok := p.parseSyslog(line); ok {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("%w: expected \"Mon dd hh:mm:ss\" in %q", ErrMalformedTimestamp, clip(line))

	case FormatReconfig:
		if t, ok := p.parseReconfig(line); ok {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("%w: expected \"yy/mm/dd hh:mm:ss\" in %q", ErrNoTimestamp, clip(line))

	case FormatAny:
		if t, ok := p.parseSyslog(line); ok {
			return t, nil
		}
		if t, ok := p.parseISO(line); ok {
			return t, nil
		}
		if t, ok := p.parseClock(line); ok {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("%w in %q", ErrNoTimestamp, clip(line))
	}
	return time.Time{}, fmt.Errorf("unknown timestamp format %v", format)
}

// ParseBound parses a user-supplied window bound such as "2016-05-29 18:00:00",
// "May 29 18:00:00" or "18:00:00".
func (p *Parser) ParseBound(s string) (time.Time, error) {
	t, err := p.Parse(s, FormatAny)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t, nil
}

func (p *Parser) parseSyslog(line string) (time.Time, bool) {
	for _, m := range syslogRe.FindAllStringSubmatch(line, -1) {
		month := months[m[1]]
		if t, ok := p.build(p.year(), int(month), parseDigits(m[2]), m[3], m[4], m[5]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p *Parser) parseISO(line string) (time.Time, bool) {
	for _, m := range isoRe.FindAllStringSubmatch(line, -1) {
		if t, ok := p.build(parseDigits(m[1]), parseDigits(m[2]), parseDigits(m[3]), m[4], m[5], m[6]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p *Parser) parseClock(line string) (time.Time, bool) {
	today := p.now()
	for _, m := range clockRe.FindAllStringSubmatch(line, -1) {
		if t, ok := p.build(today.Year(), int(today.Month()), today.Day(), m[1], m[2], m[3]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p *Parser) parseReconfig(line string) (time.Time, bool) {
	for _, m := range reconfigRe.FindAllStringSubmatch(line, -1) {
		if t, ok := p.build(2000+parseDigits(m[1]), parseDigits(m[2]), parseDigits(m[3]), m[4], m[5], m[6]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// build validates every field before constructing the time so that
// time.Date never normalizes an impossible value into a plausible one.
func (p *Parser) build(year, month, day int, hh, mm, ss string) (time.Time, bool) {
	hour, min, sec := parseDigits(hh), parseDigits(mm), parseDigits(ss)
	if month < 1 || month > 12 || day < 1 || hour < 0 || hour > 23 ||
		min < 0 || min > 59 || sec < 0 || sec > 59 {
		return time.Time{}, false
	}
	if day > daysIn(time.Month(month), year) {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, p.location()), true
}

func daysIn(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// parseDigits parses a short decimal string. Returns -1 on error.
func parseDigits(s string) int {
	if s == "" {
		return -1
	}
	n := 0
	for i := 0; i < len(s); i++ {
		d := s[i] - '0'
		if d > 9 {
			return -1
		}
		n = n*10 + int(d)
	}
	return n
}

func clip(line string) string {
	const max = 80
	if len(line) > max {
		return line[:max] + "..."
	}
	return line
}
