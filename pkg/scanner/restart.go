package scanner

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/supporttools/restime/pkg/classifier"
	"github.com/supporttools/restime/pkg/logtime"
	"github.com/supporttools/restime/pkg/markers"
	"github.com/supporttools/restime/pkg/types"
)

// Options controls a restart scan.
type Options struct {
	// Window bounds the scan. The zero window is unbounded.
	Window types.ScanWindow

	// Kinds selects which records are surfaced. Nil surfaces every kind.
	Kinds types.KindSet

	// Format selects the timestamp encodings accepted on each line.
	Format logtime.Format

	// Strict fails the scan with logtime.ErrMalformedTimestamp on a line
	// inside the window that carries no timestamp of Format, instead of
	// skipping it.
	Strict bool

	// Parser extracts timestamps. Nil uses a zero Parser.
	Parser *logtime.Parser

	// Table classifies lines. Nil uses the built-in restart markers.
	Table *markers.Table

	// ColdReason is the reason text that marks a cold restart.
	ColdReason string
}

func (o *Options) applyDefaults() {
	if o.Parser == nil {
		o.Parser = &logtime.Parser{}
	}
	if o.Table == nil {
		o.Table = markers.MustTable(markers.DefaultRestartPatterns)
	}
	if o.ColdReason == "" {
		o.ColdReason = types.DefaultColdReason
	}
}

// RestartScanner yields restart records from a log stream, in the style of
// bufio.Scanner:
//
//	s := scanner.NewRestartScanner(f, opts)
//	for s.Scan() {
//		rec := s.Record()
//	}
//	if err := s.Err(); err != nil { ... }
//
// Records of kinds outside Options.Kinds still drive the state machine but
// are not returned.
type RestartScanner struct {
	cur  *Cursor
	opts Options
	cls  *classifier.Classifier

	inWindow   bool
	sawTrigger bool
	done       bool
	record     types.RestartRecord
	err        error
	suppressed int
}

// NewRestartScanner returns a scanner reading r.
func NewRestartScanner(r io.Reader, opts Options) *RestartScanner {
	opts.applyDefaults()
	return &RestartScanner{
		cur:  NewCursor(r),
		opts: opts,
		cls:  classifier.New(opts.ColdReason),
	}
}

// Scan advances to the next surfaced record. It returns false when the
// window closes, input ends, or an error occurs.
func (s *RestartScanner) Scan() bool {
	if s.done {
		return false
	}

	for s.cur.Next() {
		line := s.cur.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		ts, err := s.opts.Parser.Parse(line, s.opts.Format)
		if err != nil {
			// Strictness applies inside the window only. An unterminated last
			// line may still be being written and is left for the next pass.
			inWindow := s.inWindow || s.opts.Window.Begin.IsZero()
			if s.opts.Strict && inWindow && !s.cur.Partial() {
				if !errors.Is(err, logtime.ErrMalformedTimestamp) {
					err = fmt.Errorf("%w: %w", logtime.ErrMalformedTimestamp, err)
				}
				return s.fail(err)
			}
			continue
		}

		if !s.inWindow {
			if s.opts.Window.Before(ts) {
				continue
			}
			s.inWindow = true
		}

		if s.opts.Window.After(ts) {
			// A restart still open at the window end is discarded.
			s.cls.Reset()
			s.done = true
			return false
		}

		m, ok := s.opts.Table.Match(line)
		if !ok {
			continue
		}
		if m.Kind == markers.TriggerWarmForcedCold || m.Kind == markers.TriggerDown {
			s.sawTrigger = true
		}

		rec, err := s.cls.Step(m, ts)
		if err != nil {
			return s.fail(err)
		}
		if rec == nil {
			continue
		}
		if !s.opts.Kinds.Has(rec.Kind) {
			s.suppressed++
			continue
		}

		s.record = *rec
		return true
	}

	s.done = true
	if err := s.cur.Err(); err != nil {
		s.err = err
		return false
	}
	if !s.inWindow {
		s.err = ErrStartTimeNotFound
		return false
	}
	if err := s.cls.Finish(); err != nil {
		s.err = fmt.Errorf("at end of input: %w", err)
	}
	return false
}

func (s *RestartScanner) fail(err error) bool {
	s.done = true
	s.cls.Reset()
	s.err = &LineError{Line: s.cur.Line(), Content: s.cur.Text(), Err: err}
	return false
}

// Record returns the record found by the last successful Scan.
func (s *RestartScanner) Record() types.RestartRecord {
	return s.record
}

// Err returns the error that stopped the scan, or nil if it ended cleanly.
func (s *RestartScanner) Err() error {
	return s.err
}

// Suppressed returns how many completed records were filtered out by kind.
func (s *RestartScanner) Suppressed() int {
	return s.suppressed
}

// SawTrigger reports whether any restart trigger was seen inside the window.
func (s *RestartScanner) SawTrigger() bool {
	return s.sawTrigger
}

// ScanAll drains a scanner into a slice. Records found before a failure are
// returned along with the error.
func ScanAll(r io.Reader, opts Options) ([]types.RestartRecord, error) {
	s := NewRestartScanner(r, opts)
	var records []types.RestartRecord
	for s.Scan() {
		records = append(records, s.Record())
	}
	return records, s.Err()
}

// IsFatal reports whether err should not be retried: the log itself is malformed.
func IsFatal(err error) bool {
	return errors.Is(err, logtime.ErrMalformedTimestamp)
}
