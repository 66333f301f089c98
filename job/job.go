package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrTimeout marks a job whose process was killed after the per-job timeout.
var ErrTimeout = errors.New("conversion timed out")

// Job describes one input-to-output conversion. It is built before any
// process starts and not modified once the batch runs.
type Job struct {
	ID            string   `json:"id"`
	InputPath     string   `json:"inputPath"`
	OutputPath    string   `json:"outputPath"`
	AllowOverride bool     `json:"allowOverride"`
	Duration      *float64 `json:"duration,omitempty"` // seconds, nil when probing failed
	Options       []string `json:"options,omitempty"`
}

func New(input, output string, allowOverride bool, options []string) *Job {
	return &Job{
		ID:            shortuuid.New(),
		InputPath:     input,
		OutputPath:    output,
		AllowOverride: allowOverride,
		Options:       options,
	}
}

// HasDuration reports whether the input duration is known.
func (j *Job) HasDuration() bool { return j.Duration != nil }

// Name is the input file name, used as the job's display label.
func (j *Job) Name() string { return filepath.Base(j.InputPath) }

// Outcome is the final result of one job.
type Outcome struct {
	StartErr error  // the process could not be started
	Killed   error  // ErrTimeout or the batch context's error
	Stderr   string // diagnostic output with trailing whitespace removed
	ExitCode int
	Elapsed  time.Duration
}

// Failed reports whether the job counts as errored. Any diagnostic output
// fails a job, even with a zero exit status: ffmpeg runs with
// "-loglevel error", so it only writes there when something went wrong.
func (o Outcome) Failed() bool {
	return o.StartErr != nil || o.Killed != nil || o.Stderr != ""
}

// Err returns the job's error, or nil when it succeeded.
func (o Outcome) Err(j *Job) error {
	if !o.Failed() {
		return nil
	}
	cause := o.StartErr
	if cause == nil {
		cause = o.Killed
	}
	return &Error{Input: j.InputPath, Cause: cause, Stderr: o.Stderr}
}

// Error is a failed job: either a start/kill error or the captured
// diagnostic output of the process.
type Error struct {
	Input  string
	Cause  error
	Stderr string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Input, e.Cause)
	}
	return fmt.Sprintf("%s: ffmpeg reported errors", e.Input)
}

func (e *Error) Unwrap() error { return e.Cause }

// Process is one started conversion.
type Process interface {
	// Progress is the process's progress stream. It must be read to EOF
	// before calling Wait.
	Progress() io.Reader
	// Wait blocks until the process exits and returns everything it wrote
	// to its diagnostic stream.
	Wait() (stderr string, err error)
}

// Starter spawns the external process for a job. Cancelling ctx must kill
// the process.
type Starter interface {
	Start(ctx context.Context, j *Job) (Process, error)
}

// Observer receives job lifecycle events. All calls come from the
// supervisor's controlling goroutine, one at a time.
type Observer interface {
	Started(j *Job)
	Progress(j *Job, line string)
	Tick(j *Job)
	Finished(j *Job, o Outcome)
}

type nopObserver struct{}

func (nopObserver) Started(*Job)           {}
func (nopObserver) Progress(*Job, string)  {}
func (nopObserver) Tick(*Job)              {}
func (nopObserver) Finished(*Job, Outcome) {}
