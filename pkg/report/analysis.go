package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/supporttools/restime/pkg/array"
	"github.com/supporttools/restime/pkg/reconfig"
)

type jsonPhase struct {
	Name            string    `json:"name"`
	Begin           time.Time `json:"begin"`
	End             time.Time `json:"end"`
	DurationSeconds float64   `json:"duration_seconds"`
	Duration        string    `json:"duration"`
}

type jsonReconfig struct {
	Header
	ReconfigStart                time.Time   `json:"reconfig_start"`
	ReconfigEnd                  time.Time   `json:"reconfig_end"`
	EstimatedRedistributionHours float64     `json:"estimated_redistribution_hours"`
	EstimatedDeletionHours       float64     `json:"estimated_deletion_hours"`
	Phases                       []jsonPhase `json:"phases"`
	RedistributionPlusDeletion   string      `json:"redistribution_plus_deletion"`
	Total                        string      `json:"total"`
	TotalSeconds                 float64     `json:"total_seconds"`
}

// WriteReconfig renders a reconfiguration report.
func WriteReconfig(w io.Writer, format Format, header Header, rep reconfig.Report) error {
	if format == FormatJSON {
		doc := jsonReconfig{
			Header:                       header,
			ReconfigStart:                rep.Start,
			ReconfigEnd:                  rep.End,
			EstimatedRedistributionHours: rep.EstimatedRedistributionHours,
			EstimatedDeletionHours:       rep.EstimatedDeletionHours,
			RedistributionPlusDeletion:   FormatElapsed(rep.RedistributionPlusDeletion()),
			Total:                        FormatElapsed(rep.Total()),
			TotalSeconds:                 rep.Total().Seconds(),
		}
		for _, p := range rep.Phases() {
			doc.Phases = append(doc.Phases, jsonPhase{
				Name:            p.Name,
				Begin:           p.Begin,
				End:             p.End,
				DurationSeconds: p.Duration().Seconds(),
				Duration:        FormatElapsed(p.Duration()),
			})
		}
		return encodeJSON(w, doc)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(label, value string) {
		fmt.Fprintf(tw, "%s:\t%s\n", label, value)
	}
	row("Reconfig start time", rep.Start.Format(time.DateTime))
	row("Estimated table redistribution time", fmt.Sprintf("%.2f hrs", rep.EstimatedRedistributionHours))
	row("Estimated old table deletion time", fmt.Sprintf("%.2f hrs", rep.EstimatedDeletionHours))
	for _, p := range rep.Phases() {
		row(p.Name+" begin time", p.Begin.Format(time.DateTime))
		row(p.Name+" end time", p.End.Format(time.DateTime))
		row(p.Name+" duration", FormatElapsed(p.Duration()))
	}
	row("Reconfig end time", rep.End.Format(time.DateTime))
	row("Redistribution + table deletion duration", FormatElapsed(rep.RedistributionPlusDeletion()))
	row("Total reconfig time", FormatElapsed(rep.Total()))
	return tw.Flush()
}

type jsonArrayResult struct {
	VDisk              string     `json:"vdisk"`
	Disk               string     `json:"disk,omitempty"`
	ReconstructStart   *time.Time `json:"reconstruct_start,omitempty"`
	ReconstructEnd     *time.Time `json:"reconstruct_end,omitempty"`
	ReconstructSeconds float64    `json:"reconstruct_seconds,omitempty"`
	CopybackStart      *time.Time `json:"copyback_start,omitempty"`
	CopybackEnd        *time.Time `json:"copyback_end,omitempty"`
	CopybackSeconds    float64    `json:"copyback_seconds,omitempty"`
	Error              string     `json:"error,omitempty"`
}

type jsonArray struct {
	Header
	Results []jsonArrayResult `json:"results"`
	Skipped int               `json:"skipped"`
}

// WriteArray renders reconstruction and copyback timings per vdisk.
func WriteArray(w io.Writer, format Format, header Header, a array.Analysis) error {
	if format == FormatJSON {
		doc := jsonArray{Header: header, Results: []jsonArrayResult{}, Skipped: a.Skipped}
		for _, r := range a.Results {
			jr := jsonArrayResult{
				VDisk:              r.VDisk,
				ReconstructStart:   optionalTime(r.ReconstructStart),
				ReconstructEnd:     optionalTime(r.ReconstructEnd),
				ReconstructSeconds: r.Reconstruct.Seconds(),
				CopybackStart:      optionalTime(r.CopybackStart),
				CopybackEnd:        optionalTime(r.CopybackEnd),
				CopybackSeconds:    r.Copyback.Seconds(),
			}
			if !r.ReconstructStart.IsZero() {
				jr.Disk = r.Disk.String()
			}
			if r.Err != nil {
				jr.Error = r.Err.Error()
			}
			doc.Results = append(doc.Results, jr)
		}
		return encodeJSON(w, doc)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VDISK\tDISK\tRECONSTRUCT\tCOPYBACK\tERROR")
	for _, r := range a.Results {
		disk, rec, cb, msg := "-", "-", "-", ""
		if !r.ReconstructStart.IsZero() {
			disk = r.Disk.String()
		}
		if r.Reconstruct > 0 {
			rec = FormatElapsed(r.Reconstruct)
		}
		if r.Copyback > 0 {
			cb = FormatElapsed(r.Copyback)
		}
		if r.Err != nil {
			msg = strings.ReplaceAll(r.Err.Error(), "\n", "; ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.VDisk, disk, rec, cb, msg)
	}
	return tw.Flush()
}

func encodeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
