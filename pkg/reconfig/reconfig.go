// Package reconfig extracts phase timings from a database reconfiguration log.
//
// The log is read forward once. Each milestone is searched for after the
// previous one, so the start line, estimates, phase boundaries and end line
// must appear in that order.
package reconfig

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"github.com/supporttools/restime/pkg/logtime"
	"github.com/supporttools/restime/pkg/scanner"
)

// ErrPatternNotFound is returned when a milestone is missing from the log.
var ErrPatternNotFound = errors.New("reconfig pattern not found")

var (
	systemTimeRe    = regexp.MustCompile(`System Time \(Reconfiguration\):`)
	estRedistRe     = regexp.MustCompile(`(?P<hours>\d+\.\d+) hours \(for offline reconfig\)\.`)
	estDeletionRe   = regexp.MustCompile(`The estimated table deletion time will be:`)
	estDelHoursRe   = regexp.MustCompile(`(?P<hours>\d+\.\d+) hours\.`)
	hashMapBeginRe  = regexp.MustCompile(`Hash Map Calculation Phase Begins`)
	hashMapEndRe    = regexp.MustCompile(`Hash Map Calculation Phase Ends`)
	redistBeginRe   = regexp.MustCompile(`Table Redistribution Phase Begins`)
	redistEndRe     = regexp.MustCompile(`Table Redistribution Phase Ends`)
	deletionBeginRe = regexp.MustCompile(`Old Table Deletion Phase Begins`)
	deletionEndRe   = regexp.MustCompile(`Old Table Deletion Phase Ends`)
)

// Phase is one timed reconfiguration phase.
type Phase struct {
	Name  string    `json:"name"`
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

// Duration is End - Begin.
func (p Phase) Duration() time.Duration {
	return p.End.Sub(p.Begin)
}

// Report holds the timings found in one reconfiguration log.
type Report struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Estimates printed by the reconfig utility, in hours.
	EstimatedRedistributionHours float64 `json:"estimated_redistribution_hours"`
	EstimatedDeletionHours       float64 `json:"estimated_deletion_hours"`

	HashMap        Phase `json:"hash_map"`
	Redistribution Phase `json:"redistribution"`
	Deletion       Phase `json:"deletion"`
}

// Total is the elapsed time from the start line to the end line.
func (r Report) Total() time.Duration {
	return r.End.Sub(r.Start)
}

// RedistributionPlusDeletion is the combined length of the two data-moving phases.
func (r Report) RedistributionPlusDeletion() time.Duration {
	return r.Redistribution.Duration() + r.Deletion.Duration()
}

// Phases returns the timed phases in log order.
func (r Report) Phases() []Phase {
	return []Phase{r.HashMap, r.Redistribution, r.Deletion}
}

type analyzer struct {
	cur    *scanner.Cursor
	parser *logtime.Parser
}

// Analyze reads a reconfiguration log and returns its timings. Timestamps are
// "yy/mm/dd hh:mm:ss"; a nil parser uses local time.
func Analyze(r io.Reader, parser *logtime.Parser) (Report, error) {
	if parser == nil {
		parser = &logtime.Parser{}
	}
	a := &analyzer{cur: scanner.NewCursor(r), parser: parser}

	var (
		rep Report
		err error
	)
	if rep.Start, err = a.timeOf("reconfiguration start", systemTimeRe); err != nil {
		return Report{}, err
	}
	if rep.EstimatedRedistributionHours, err = a.hours("estimated redistribution time", estRedistRe); err != nil {
		return Report{}, err
	}
	if rep.EstimatedDeletionHours, err = a.hoursNextLine("estimated deletion time", estDeletionRe, estDelHoursRe); err != nil {
		return Report{}, err
	}

	phases := []struct {
		phase      *Phase
		name       string
		begin, end *regexp.Regexp
	}{
		{&rep.HashMap, "hash map calculation", hashMapBeginRe, hashMapEndRe},
		{&rep.Redistribution, "table redistribution", redistBeginRe, redistEndRe},
		{&rep.Deletion, "old table deletion", deletionBeginRe, deletionEndRe},
	}
	for _, p := range phases {
		p.phase.Name = p.name
		if p.phase.Begin, err = a.timeOf(p.name+" begin", p.begin); err != nil {
			return Report{}, err
		}
		if p.phase.End, err = a.timeOf(p.name+" end", p.end); err != nil {
			return Report{}, err
		}
	}

	if rep.End, err = a.timeOf("reconfiguration end", systemTimeRe); err != nil {
		return Report{}, err
	}
	return rep, nil
}

// find advances to the next line matching re.
func (a *analyzer) find(name string, re *regexp.Regexp) (string, []string, error) {
	for a.cur.Next() {
		line := a.cur.Text()
		if m := re.FindStringSubmatch(line); m != nil {
			return line, m, nil
		}
	}
	if err := a.cur.Err(); err != nil {
		return "", nil, fmt.Errorf("reading reconfig log: %w", err)
	}
	return "", nil, fmt.Errorf("%w: %s (%q)", ErrPatternNotFound, name, re.String())
}

func (a *analyzer) timeOf(name string, re *regexp.Regexp) (time.Time, error) {
	line, _, err := a.find(name, re)
	if err != nil {
		return time.Time{}, err
	}
	t, err := a.parser.Parse(line, logtime.FormatReconfig)
	if err != nil {
		return time.Time{}, &scanner.LineError{Line: a.cur.Line(), Content: line, Err: fmt.Errorf("%s: %w", name, err)}
	}
	return t, nil
}

func (a *analyzer) hours(name string, re *regexp.Regexp) (float64, error) {
	line, m, err := a.find(name, re)
	if err != nil {
		return 0, err
	}
	return a.parseHours(name, line, re, m)
}

// hoursNextLine finds marker, then reads the hours value from the line after it.
func (a *analyzer) hoursNextLine(name string, marker, value *regexp.Regexp) (float64, error) {
	if _, _, err := a.find(name, marker); err != nil {
		return 0, err
	}
	if !a.cur.Next() {
		return 0, fmt.Errorf("%w: %s (log ends after %q)", ErrPatternNotFound, name, marker.String())
	}
	line := a.cur.Text()
	m := value.FindStringSubmatch(line)
	if m == nil {
		return 0, &scanner.LineError{Line: a.cur.Line(), Content: line,
			Err: fmt.Errorf("%w: %s hours on the line after %q", ErrPatternNotFound, name, marker.String())}
	}
	return a.parseHours(name, line, value, m)
}

func (a *analyzer) parseHours(name, line string, re *regexp.Regexp, m []string) (float64, error) {
	h, err := strconv.ParseFloat(m[re.SubexpIndex("hours")], 64)
	if err != nil {
		return 0, &scanner.LineError{Line: a.cur.Line(), Content: line, Err: fmt.Errorf("%s: %w", name, err)}
	}
	return h, nil
}
