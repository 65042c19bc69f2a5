package main

import (
	"fmt"
	"io"
	"strings"

	"spool/internal/api"
)

// progressRenderer draws job progress for the fetch command. Interactive
// terminals get an in-place line; everything else gets one line per stage
// change so piped output stays readable.
type progressRenderer struct {
	out         io.Writer
	interactive bool

	lastWidth   int
	lastStage   string
	lastPercent float64
}

func newProgressRenderer(out io.Writer) *progressRenderer {
	return &progressRenderer{out: out, interactive: shouldColorize(out), lastPercent: -1}
}

func (p *progressRenderer) Update(record api.JobRecord) {
	stage := record.Progress.Stage
	percent := record.Progress.Percent

	if !p.interactive {
		if stage == p.lastStage && percent < p.lastPercent+10 {
			return
		}
		p.lastStage = stage
		p.lastPercent = percent
		fmt.Fprintf(p.out, "%3.0f%%  %s\n", percent, stage)
		return
	}

	line := fmt.Sprintf("%3.0f%%  %s", percent, stage)
	padding := ""
	if width := len(line); width < p.lastWidth {
		padding = strings.Repeat(" ", p.lastWidth-width)
	}
	p.lastWidth = len(line)
	fmt.Fprintf(p.out, "\r%s%s", line, padding)
}

// Finish terminates the in-place line so later output starts on a fresh row.
func (p *progressRenderer) Finish() {
	if p.interactive && p.lastWidth > 0 {
		fmt.Fprintln(p.out)
	}
}
