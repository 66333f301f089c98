package batch

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"lconvert/job"
	"lconvert/progress"
)

// Report is the YAML document written by --report.
type Report struct {
	Started  time.Time         `yaml:"started"`
	Elapsed  string            `yaml:"elapsed"`
	Output   string            `yaml:"output"`
	Progress progress.Snapshot `yaml:"progress"`
	Skipped  int               `yaml:"skipped"`
	Rejected []string          `yaml:"rejected,omitempty"`
	Jobs     []ReportJob       `yaml:"jobs"`
}

type ReportJob struct {
	ID       string     `yaml:"id"`
	Input    string     `yaml:"input"`
	Output   string     `yaml:"output"`
	Duration *float64   `yaml:"duration,omitempty"`
	Status   job.Status `yaml:"status"`
	Elapsed  string     `yaml:"elapsed"`
	ExitCode int        `yaml:"exit_code"`
	Error    string     `yaml:"error,omitempty"`
	Stderr   string     `yaml:"stderr,omitempty"`
}

func NewReport(s *Summary) *Report {
	r := &Report{
		Started:  s.Started,
		Elapsed:  s.Elapsed.String(),
		Output:   s.Plan.Output,
		Progress: s.Progress,
		Skipped:  s.Plan.Skipped,
	}
	for _, err := range s.Plan.Rejected {
		r.Rejected = append(r.Rejected, err.Error())
	}
	for _, res := range s.Results {
		j, o := res.Job, res.Outcome
		rj := ReportJob{
			ID:       j.ID,
			Input:    j.InputPath,
			Output:   j.OutputPath,
			Duration: j.Duration,
			Status:   job.StatusSucceeded,
			Elapsed:  o.Elapsed.String(),
			ExitCode: o.ExitCode,
			Stderr:   o.Stderr,
		}
		if err := o.Err(j); err != nil {
			rj.Status = job.StatusFailed
			rj.Error = err.Error()
		}
		r.Jobs = append(r.Jobs, rj)
	}
	return r
}

// WriteReport writes the YAML report for s to path.
func WriteReport(fs afero.Fs, path string, s *Summary) error {
	data, err := yaml.Marshal(NewReport(s))
	if err != nil {
		return fmt.Errorf("could not encode report: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}
	return nil
}
