// Package array measures vdisk reconstruction and copyback times from a
// storage array event dump.
//
// Event dumps list the newest event first. For each vdisk the first sighting
// of a marker is therefore the most recent one, and reading stops tracking a
// vdisk once its reconstruction start has been seen.
package array

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/supporttools/restime/pkg/logtime"
	"github.com/supporttools/restime/pkg/markers"
	"github.com/supporttools/restime/pkg/scanner"
)

var (
	// ErrVDiskNotFound means no event mentioned a requested vdisk.
	ErrVDiskNotFound = errors.New("no events found for vdisk")

	// ErrReconstructIncomplete means one end of the reconstruction is missing.
	ErrReconstructIncomplete = errors.New("reconstruction start or completion not found")

	// ErrCopybackIncomplete means one end of the copyback is missing.
	ErrCopybackIncomplete = errors.New("copyback start or completion not found")
)

var (
	vdiskRe = regexp.MustCompile(`vdisk: (vd\d+)`)
	diskRe  = regexp.MustCompile(`enclosure: (\d+), slot: (\d+)`)
)

// Disk locates a drive in the array.
type Disk struct {
	Enclosure int `json:"enclosure"`
	Slot      int `json:"slot"`
}

func (d Disk) String() string {
	return fmt.Sprintf("%d.%d", d.Enclosure, d.Slot)
}

// Result holds the timings for one vdisk.
type Result struct {
	VDisk string `json:"vdisk"`

	// Disk is the drive named by the reconstruction start event.
	Disk Disk `json:"disk"`

	ReconstructStart time.Time     `json:"reconstruct_start"`
	ReconstructEnd   time.Time     `json:"reconstruct_end"`
	Reconstruct      time.Duration `json:"reconstruct"`

	CopybackStart time.Time     `json:"copyback_start"`
	CopybackEnd   time.Time     `json:"copyback_end"`
	Copyback      time.Duration `json:"copyback"`

	// Err is set when an event is missing. The dump may not reach back far
	// enough, or the operation may still be running.
	Err error `json:"-"`
}

// Options configures Analyze.
type Options struct {
	// VDisks limits the analysis. Empty means every vdisk seen.
	VDisks []string

	// ClockOffset is added to every event time to bring the array clock to local time.
	ClockOffset time.Duration

	Parser *logtime.Parser

	// Table classifies event lines. Nil means the default array markers.
	Table *markers.Table
}

// Analysis is the outcome of reading one event dump.
type Analysis struct {
	Results []Result

	// Skipped counts marker lines with no vdisk or no timestamp.
	Skipped int
}

type tracker struct {
	result Result
	done   bool
}

// Analyze reads an event dump, newest event first.
func Analyze(r io.Reader, opts Options) (Analysis, error) {
	table := opts.Table
	if table == nil {
		t, err := markers.ArrayTable(nil)
		if err != nil {
			return Analysis{}, err
		}
		table = t
	}
	parser := opts.Parser
	if parser == nil {
		parser = &logtime.Parser{}
	}

	wanted := make(map[string]bool, len(opts.VDisks))
	for _, v := range opts.VDisks {
		wanted[v] = true
	}

	var (
		out      Analysis
		trackers = make(map[string]*tracker)
	)
	cur := scanner.NewCursor(r)
	for cur.Next() {
		line := cur.Text()
		m, ok := table.Match(line)
		if !ok {
			continue
		}

		vm := vdiskRe.FindStringSubmatch(line)
		if vm == nil {
			out.Skipped++
			continue
		}
		vdisk := vm[1]
		if len(wanted) > 0 && !wanted[vdisk] {
			continue
		}

		ts, err := parser.Parse(line, logtime.FormatAny)
		if err != nil {
			out.Skipped++
			continue
		}
		ts = ts.Add(opts.ClockOffset)

		tr, ok := trackers[vdisk]
		if !ok {
			tr = &tracker{result: Result{VDisk: vdisk}}
			trackers[vdisk] = tr
		}
		if tr.done {
			continue
		}
		res := &tr.result

		switch m.Kind {
		case markers.CopybackComplete:
			if res.CopybackEnd.IsZero() {
				res.CopybackEnd = ts
			}
		case markers.CopybackStart:
			if res.CopybackStart.IsZero() {
				res.CopybackStart = ts
			}
		case markers.ReconstructComplete:
			if res.ReconstructEnd.IsZero() {
				res.ReconstructEnd = ts
			}
		case markers.ReconstructStart:
			res.ReconstructStart = ts
			if dm := diskRe.FindStringSubmatch(line); dm != nil {
				res.Disk.Enclosure, _ = strconv.Atoi(dm[1])
				res.Disk.Slot, _ = strconv.Atoi(dm[2])
			}
			tr.done = true
		}
	}
	if err := cur.Err(); err != nil {
		return out, fmt.Errorf("reading array events: %w", err)
	}

	names := opts.VDisks
	if len(names) == 0 {
		for name := range trackers {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		tr, ok := trackers[name]
		if !ok {
			out.Results = append(out.Results, Result{VDisk: name, Err: ErrVDiskNotFound})
			continue
		}
		out.Results = append(out.Results, finish(tr.result))
	}
	return out, nil
}

func finish(res Result) Result {
	var errs []error
	if res.ReconstructStart.IsZero() || res.ReconstructEnd.IsZero() {
		errs = append(errs, ErrReconstructIncomplete)
	} else {
		res.Reconstruct = res.ReconstructEnd.Sub(res.ReconstructStart)
	}
	if res.CopybackStart.IsZero() || res.CopybackEnd.IsZero() {
		errs = append(errs, ErrCopybackIncomplete)
	} else {
		res.Copyback = res.CopybackEnd.Sub(res.CopybackStart)
	}
	res.Err = errors.Join(errs...)
	return res
}
