package progress

import (
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"lconvert/job"
)

const nameWidth = 32

// BarDisplay draws one bar per running job plus an overall bar that stays
// at the bottom. Jobs with an unknown length get a spinner.
type BarDisplay struct {
	p       *mpb.Progress
	overall *mpb.Bar
	bars    map[string]*mpb.Bar

	succeeded atomic.Int64
	errored   atomic.Int64
	total     atomic.Int64
}

func NewBarDisplay(w io.Writer) *BarDisplay {
	return &BarDisplay{
		p:    mpb.New(mpb.WithOutput(w), mpb.WithWidth(48)),
		bars: make(map[string]*mpb.Bar),
	}
}

func (d *BarDisplay) Begin(s Snapshot) {
	d.total.Store(int64(s.TotalJobs))
	d.overall = d.p.New(s.TotalBound, mpb.BarStyle(),
		mpb.BarPriority(math.MaxInt),
		mpb.PrependDecorators(
			decor.Name("Total", decor.WCSyncSpaceR),
			decor.Any(d.counts, decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
		),
	)
}

// counts runs on the render goroutine.
func (d *BarDisplay) counts(decor.Statistics) string {
	return fmt.Sprintf("err %d / ok %d / total %d", d.errored.Load(), d.succeeded.Load(), d.total.Load())
}

func (d *BarDisplay) JobStarted(j *job.Job, bound int64) {
	name := decor.Name(truncate(j.Name(), nameWidth), decor.WCSyncSpaceR)
	if !j.HasDuration() {
		d.bars[j.ID] = d.p.New(0, mpb.SpinnerStyle(),
			mpb.PrependDecorators(name),
			mpb.AppendDecorators(decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace)),
		)
		return
	}
	d.bars[j.ID] = d.p.New(bound, mpb.BarStyle(),
		mpb.PrependDecorators(name),
		mpb.AppendDecorators(
			decor.CountersNoUnit("%d / %d s", decor.WCSyncSpace),
			decor.Percentage(decor.WCSyncSpace),
		),
	)
}

func (d *BarDisplay) JobProgress(j *job.Job, position int64) {
	if bar, ok := d.bars[j.ID]; ok {
		bar.SetCurrent(position)
	}
}

func (d *BarDisplay) JobFinished(j *job.Job, _ job.Outcome) {
	if bar, ok := d.bars[j.ID]; ok {
		bar.Abort(true)
		delete(d.bars, j.ID)
	}
}

func (d *BarDisplay) Overall(s Snapshot) {
	d.succeeded.Store(int64(s.Succeeded))
	d.errored.Store(int64(s.Errored))
	if d.overall != nil {
		d.overall.SetCurrent(s.Position)
	}
}

func (d *BarDisplay) Wait() {
	for id, bar := range d.bars {
		bar.Abort(true)
		delete(d.bars, id)
	}
	if d.overall != nil {
		d.overall.SetTotal(-1, true)
	}
	d.p.Wait()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

type Logger interface {
	Info(format string, args ...interface{})
	Success(format string, args ...interface{})
	Warn(format string, args ...interface{})
}

// LogDisplay reports job starts and completions as log lines, for runs
// without a terminal or with verbose logging.
type LogDisplay struct {
	log  Logger
	last Snapshot
}

func NewLogDisplay(log Logger) *LogDisplay {
	return &LogDisplay{log: log}
}

func (d *LogDisplay) Begin(s Snapshot) {
	d.last = s
	d.log.Info("Converting %d files (%d seconds of media)", s.TotalJobs, s.TotalBound)
}

func (d *LogDisplay) JobStarted(j *job.Job, _ int64) {
	d.log.Info("Started %s", j.InputPath)
}

func (d *LogDisplay) JobProgress(*job.Job, int64) {}

func (d *LogDisplay) JobFinished(j *job.Job, o job.Outcome) {
	done := d.last.Succeeded + d.last.Errored + 1
	if o.Failed() {
		d.log.Warn("[%d/%d] Failed %s", done, d.last.TotalJobs, j.InputPath)
		return
	}
	d.log.Success("[%d/%d] Finished %s in %s", done, d.last.TotalJobs, j.InputPath, o.Elapsed.Round(100*time.Millisecond))
}

func (d *LogDisplay) Overall(s Snapshot) { d.last = s }

func (d *LogDisplay) Wait() {}
