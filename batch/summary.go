package batch

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"lconvert/job"
)

// PrintHeader writes the batch size and output location before the run.
func PrintHeader(w io.Writer, plan *Plan) {
	fmt.Fprintf(w, "Total files      :  %d\n", len(plan.Jobs))
	fmt.Fprintf(w, "Output directory : '%s'\n", plan.Output)
}

// PrintRejected writes one framed block per input that got no job.
func PrintRejected(w io.Writer, plan *Plan) {
	for _, err := range plan.Rejected {
		fmt.Fprintf(w, "┌ Skipping input file: %v\n\n", err)
	}
}

// PrintSummary writes the elapsed time to out, then one framed block per
// failed job and the error count to errOut.
func PrintSummary(out, errOut io.Writer, s *Summary) {
	fmt.Fprintf(out, "\nDone in %s!\n\n", s.Elapsed.Round(100*time.Millisecond))

	failed := s.Failed()
	for _, r := range failed {
		fmt.Fprintf(errOut, "┌ Error while trying to process input file: '%s'\n", r.Job.InputPath)
		fmt.Fprintln(errOut, describe(r.Outcome))
		fmt.Fprintln(errOut)
	}
	if len(failed) > 0 {
		fmt.Fprintf(errOut, "%d/%d files finished with errors!\n", len(failed), len(s.Results))
	}
}

// describe renders why a job failed: the start or kill error, followed by
// the framed stderr text when there is any.
func describe(o job.Outcome) string {
	var b strings.Builder
	switch {
	case o.StartErr != nil:
		fmt.Fprintf(&b, "Failed to execute ffmpeg: %v", o.StartErr)
	case errors.Is(o.Killed, job.ErrTimeout):
		fmt.Fprintf(&b, "ffmpeg was killed: %v", o.Killed)
	case o.Killed != nil:
		fmt.Fprintf(&b, "ffmpeg was stopped: %v", o.Killed)
	}
	if o.Stderr != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(frameStderr(o.Stderr))
	}
	return b.String()
}

// frameStderr surrounds stderr with rules sized to its longest line.
func frameStderr(stderr string) string {
	longest := 0
	for _, line := range strings.Split(stderr, "\n") {
		longest = max(longest, utf8.RuneCountInString(line))
	}
	width := max(longest-3, 0)
	return rule(" Begin ffmpeg stderr ", width) + "\n" +
		strings.TrimRight(stderr, " \t\r\n") + "\n" +
		rule(" End ffmpeg stderr ", width)
}

// rule centers label in a run of dashes width wide, between two '+'.
func rule(label string, width int) string {
	pad := width - utf8.RuneCountInString(label)
	if pad <= 0 {
		return "+" + label + "+"
	}
	left := pad / 2
	return "+" + strings.Repeat("-", left) + label + strings.Repeat("-", pad-left) + "+"
}
