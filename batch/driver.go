// Package batch turns command-line inputs into conversion jobs, runs them
// and reports the results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"lconvert/config"
	"lconvert/ffmpeg"
	"lconvert/job"
	"lconvert/pattern"
	"lconvert/progress"
)

// Runner is the wrapped conversion tool.
type Runner interface {
	job.Starter
	Probe(ctx context.Context, input string) (float64, error)
	CommandLine(j *job.Job) string
}

type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

// Plan is the job list for one batch.
type Plan struct {
	Jobs []*job.Job
	// Rejected holds one error per input that could not be given an output.
	Rejected []error
	// Skipped counts inputs whose extension is not mapped.
	Skipped int
	// Output is the longest path shared by all outputs.
	Output string
}

// Result is one finished job.
type Result struct {
	Job     *job.Job
	Outcome job.Outcome
}

type Summary struct {
	Plan     *Plan
	Results  []Result // completion order
	Started  time.Time
	Elapsed  time.Duration
	Progress progress.Snapshot
}

// Failed returns the errored results in completion order.
func (s *Summary) Failed() []Result {
	var failed []Result
	for _, r := range s.Results {
		if r.Outcome.Failed() {
			failed = append(failed, r)
		}
	}
	return failed
}

type Driver struct {
	cfg    *config.Config
	fs     afero.Fs
	runner Runner
	log    Logger
	base   string
}

// NewDriver creates a driver resolving relative paths against the working
// directory.
func NewDriver(cfg *config.Config, fs afero.Fs, runner Runner, log Logger) (*Driver, error) {
	base, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("could not determine working directory: %w", err)
	}
	return &Driver{cfg: cfg, fs: fs, runner: runner, log: log, base: base}, nil
}

// input is one file found while expanding the command-line inputs. tree is
// the chain of directory names from the expanded input directory down.
type input struct {
	path string
	tree string
}

// Plan expands inputs, resolves every output path and probes durations.
// Inputs that cannot be resolved are collected in Plan.Rejected; the
// returned error is always fatal.
func (d *Driver) Plan(ctx context.Context, inputs []string) (*Plan, error) {
	pat, err := pattern.Parse(d.cfg.Output)
	if err != nil {
		return nil, err
	}
	options, err := ffmpeg.BuildOptions(d.cfg.Options, d.cfg.TrailingOptions)
	if err != nil {
		return nil, err
	}
	files, err := d.walk(inputs)
	if err != nil {
		return nil, err
	}

	resolver := pattern.NewResolver(d.fs, pat, pattern.Options{
		ExtensionMap:  d.cfg.ExtensionMap,
		CaseSensitive: d.cfg.CaseSensitive,
		AllowOverride: d.cfg.AllowOverride,
		DisableAppend: d.cfg.DisablePatternAppend,
		Base:          d.base,
	})

	plan := &Plan{}
	var rejected error
	for _, f := range files {
		out, err := resolver.Resolve(f.path, f.tree)
		if errors.Is(err, pattern.ErrUnmapped) {
			d.log.Debug("Skipping %s: extension not mapped", f.path)
			plan.Skipped++
			continue
		}
		if err != nil {
			rejected = multierr.Append(rejected, err)
			continue
		}
		plan.Jobs = append(plan.Jobs, job.New(f.path, out, d.cfg.AllowOverride, options))
	}
	plan.Rejected = multierr.Errors(rejected)
	plan.Output = pattern.CommonPath(resolver.Assigned())

	d.probe(ctx, plan.Jobs)
	return plan, nil
}

// walk expands directories depth-first with an explicit stack, visiting
// entries in name order. Symlinked directories found inside an input
// directory are not descended into; symlinked files are converted.
func (d *Driver) walk(inputs []string) ([]input, error) {
	type item struct {
		path   string
		tree   string
		nested bool
	}
	stack := make([]item, 0, len(inputs))
	for i := len(inputs) - 1; i >= 0; i-- {
		p := inputs[i]
		if !filepath.IsAbs(p) {
			p = filepath.Join(d.base, p)
		}
		stack = append(stack, item{path: filepath.Clean(p)})
	}

	var files []input
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		info, err := d.fs.Stat(it.path)
		if err != nil {
			return nil, fmt.Errorf("could not read input '%s': %w", it.path, err)
		}
		if !info.IsDir() {
			files = append(files, input{path: it.path, tree: it.tree})
			continue
		}
		if it.nested && d.isSymlink(it.path) {
			d.log.Debug("Skipping symlinked directory %s", it.path)
			continue
		}

		entries, err := afero.ReadDir(d.fs, it.path)
		if err != nil {
			return nil, fmt.Errorf("could not read input directory '%s': %w", it.path, err)
		}
		tree := it.tree
		if name := filepath.Base(it.path); name != string(filepath.Separator) {
			tree = filepath.Join(tree, name)
		}
		for i := len(entries) - 1; i >= 0; i-- {
			stack = append(stack, item{path: filepath.Join(it.path, entries[i].Name()), tree: tree, nested: true})
		}
	}
	return files, nil
}

func (d *Driver) isSymlink(path string) bool {
	lstater, ok := d.fs.(afero.Lstater)
	if !ok {
		return false
	}
	info, _, err := lstater.LstatIfPossible(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// probe fills in job durations, at most MaxConcurrency probes at a time.
// A failed probe only leaves the duration unknown.
func (d *Driver) probe(ctx context.Context, jobs []*job.Job) {
	p := pool.New().WithMaxGoroutines(max(d.cfg.MaxConcurrency, 1))
	for _, j := range jobs {
		p.Go(func() {
			dur, err := d.runner.Probe(ctx, j.InputPath)
			if err != nil {
				d.log.Debug("Could not probe %s, progress will not be tracked: %v", j.InputPath, err)
				return
			}
			j.Duration = &dur
		})
	}
	p.Wait()
}

// Execute creates the output directories and runs every job of plan,
// reporting progress to tracker. It returns an error only if an output
// directory cannot be created.
func (d *Driver) Execute(ctx context.Context, plan *Plan, tracker *progress.Tracker) (*Summary, error) {
	for _, j := range plan.Jobs {
		dir := filepath.Dir(j.OutputPath)
		if err := d.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create output directory '%s': %w", dir, err)
		}
	}

	s := &Summary{Plan: plan, Started: time.Now()}
	sup := job.NewSupervisor(d.cfg, d.runner, tracker, d.log)
	for j, o := range sup.Run(ctx, plan.Jobs) {
		s.Results = append(s.Results, Result{Job: j, Outcome: o})
	}
	tracker.Close()

	s.Elapsed = time.Since(s.Started)
	s.Progress = tracker.Snapshot()
	return s, nil
}

// PrintPlan writes the planned conversions without running anything.
func (d *Driver) PrintPlan(w io.Writer, plan *Plan) {
	for _, j := range plan.Jobs {
		fmt.Fprintf(w, "'%s' -> '%s'\n", j.InputPath, j.OutputPath)
		fmt.Fprintf(w, "    %s\n", d.runner.CommandLine(j))
	}
	fmt.Fprintf(w, "\n%d files would be converted", len(plan.Jobs))
	if plan.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", plan.Skipped)
	}
	fmt.Fprintln(w)
}
