// Package scanner makes a single forward pass over a log stream, feeding
// matched markers to the restart classifier and emitting one record per
// completed restart.
package scanner

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// maxLineSize bounds a single log line. Longer lines fail the scan.
const maxLineSize = 1024 * 1024

var (
	// ErrStartTimeNotFound means the input ended before any line reached the window start.
	ErrStartTimeNotFound = errors.New("start time not found")

	// ErrRestartNotFound means the input ended without any restart trigger.
	ErrRestartNotFound = errors.New("restart not found")

	// ErrLogLag means the live follow failed on both of its attempts.
	ErrLogLag = errors.New("restart not found in log after retry")
)

// LineError ties a scan failure to the line that caused it.
type LineError struct {
	Line    int
	Content string
	Err     error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Cursor is a forward-only iterator over the lines of a reader. It cannot be
// rewound; reopen the source to start over.
type Cursor struct {
	sc      *bufio.Scanner
	line    int
	text    string
	partial bool
}

// NewCursor returns a cursor positioned before the first line of r.
func NewCursor(r io.Reader) *Cursor {
	c := &Cursor{sc: bufio.NewScanner(r)}
	c.sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	c.sc.Split(c.splitLines)
	return c
}

// splitLines is bufio.ScanLines, noting whether the token ended without a newline.
func (c *Cursor) splitLines(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	if token != nil {
		c.partial = atEOF && bytes.IndexByte(data[:advance], '\n') < 0
	}
	return advance, token, err
}

// Next advances to the next line. It returns false at end of input or on a read error.
func (c *Cursor) Next() bool {
	if !c.sc.Scan() {
		c.text = ""
		return false
	}
	c.line++
	c.text = c.sc.Text()
	return true
}

// Text returns the current line without its newline.
func (c *Cursor) Text() string {
	return c.text
}

// Partial reports whether the current line is the last one and has no
// trailing newline, as when a writer has not finished flushing it.
func (c *Cursor) Partial() bool {
	return c.partial
}

// Line returns the 1-based number of the current line.
func (c *Cursor) Line() int {
	return c.line
}

// Err returns the first read error, if any.
func (c *Cursor) Err() error {
	if err := c.sc.Err(); err != nil {
		return fmt.Errorf("reading line %d: %w", c.line+1, err)
	}
	return nil
}
