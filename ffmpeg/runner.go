package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lconvert/config"
	"lconvert/job"
)

var (
	ErrFFmpegNotFound  = errors.New("ffmpeg binary not found or not in PATH")
	ErrFFprobeNotFound = errors.New("ffprobe binary not found or not in PATH")
)

// waitDelay bounds how long Wait keeps reading pipes after a killed
// process, in case it left children holding them open.
const waitDelay = 5 * time.Second

type Logger interface {
	Debug(format string, args ...interface{})
	Warn(format string, args ...interface{})
}

// Runner probes inputs with ffprobe and starts ffmpeg conversions. It
// implements job.Starter.
type Runner struct {
	cfg     *config.Config
	ffmpeg  string
	ffprobe string
	gate    *ResourceGate
	log     Logger
}

func NewRunner(cfg *config.Config, log Logger) (*Runner, error) {
	ffmpeg, err := exec.LookPath(cfg.FFmpegBin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFFmpegNotFound, cfg.FFmpegBin)
	}
	ffprobe, err := exec.LookPath(cfg.FFprobeBin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFFprobeNotFound, cfg.FFprobeBin)
	}
	log.Debug("Using %s and %s", ffmpeg, ffprobe)

	return &Runner{
		cfg:     cfg,
		ffmpeg:  ffmpeg,
		ffprobe: ffprobe,
		gate:    NewResourceGate(cfg, log),
		log:     log,
	}, nil
}

// Probe returns the duration of input in seconds.
func (r *Runner) Probe(ctx context.Context, input string) (float64, error) {
	cmd := exec.CommandContext(ctx, r.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for '%s': %w", input, err)
	}
	text := strings.TrimSpace(string(out))
	d, err := strconv.ParseFloat(text, 64)
	if err != nil || d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("ffprobe reported no usable duration for '%s': %q", input, text)
	}
	return d, nil
}

// Args returns the full ffmpeg argument list for j. The framing options
// around the user's options are fixed: progress goes to stdout as key=value
// lines and only errors are written to stderr.
func Args(j *job.Job) []string {
	overwrite := "-n"
	if j.AllowOverride {
		overwrite = "-y"
	}
	args := []string{
		"-hide_banner", overwrite,
		"-loglevel", "error",
		"-progress", "-", "-nostats",
		"-i", j.InputPath,
	}
	args = append(args, j.Options...)
	return append(args, j.OutputPath)
}

// CommandLine renders the command Start would run, quoted for a POSIX shell.
func (r *Runner) CommandLine(j *job.Job) string {
	return QuoteArgs(append([]string{r.ffmpeg}, Args(j)...))
}

// Start checks system resources and spawns ffmpeg for j. Cancelling ctx
// kills the process.
func (r *Runner) Start(ctx context.Context, j *job.Job) (job.Process, error) {
	if err := r.gate.Check(filepath.Dir(j.OutputPath)); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, r.ffmpeg, Args(j)...)
	cmd.WaitDelay = waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	p := &process{cmd: cmd, stdout: stdout}
	cmd.Stderr = &p.stderr

	r.log.Debug("Executing for job %s: %s", j.ID, QuoteArgs(cmd.Args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start ffmpeg: %w", err)
	}
	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr bytes.Buffer
}

func (p *process) Progress() io.Reader { return p.stdout }

func (p *process) Wait() (string, error) {
	err := p.cmd.Wait()
	return p.stderr.String(), err
}
