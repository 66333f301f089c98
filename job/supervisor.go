package job

import (
	"bufio"
	"context"
	"errors"
	"io"
	"iter"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lconvert/config"
)

// progressKey is the only progress line key the supervisor forwards.
const progressKey = "out_time_ms"

// TickInterval paces liveness ticks for jobs without a known duration.
const TickInterval = 250 * time.Millisecond

type Logger interface {
	Debug(format string, args ...interface{})
}

// Supervisor runs a queue of jobs with at most cfg.MaxConcurrency processes
// alive at once.
type Supervisor struct {
	cfg      *config.Config
	starter  Starter
	observer Observer
	log      Logger
}

func NewSupervisor(cfg *config.Config, starter Starter, observer Observer, log Logger) *Supervisor {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Supervisor{
		cfg:      cfg,
		starter:  starter,
		observer: observer,
		log:      log,
	}
}

// slot is one running job.
type slot struct {
	job     *Job
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	sample  *rate.Sometimes // progress debug lines, at most one per second
}

type event struct {
	slot    *slot
	line    string
	done    bool
	outcome Outcome
}

// Run starts queued jobs in order and yields every job exactly once, in
// completion order, with its outcome. Completions that arrive together are
// yielded in the order their jobs were started.
//
// Cancelling ctx kills running processes; jobs still queued are yielded
// without being started, with the context error as their outcome. Stopping
// the iteration early kills and reaps every running process before the
// iterator returns.
func (s *Supervisor) Run(ctx context.Context, queue []*Job) iter.Seq2[*Job, Outcome] {
	return func(yield func(*Job, Outcome) bool) {
		ctx, cancel := context.WithCancel(ctx)
		events := make(chan event)
		var wg sync.WaitGroup
		defer func() {
			cancel()
			go func() {
				wg.Wait()
				close(events)
			}()
			for range events {
			}
		}()

		limit := max(s.cfg.MaxConcurrency, 1)
		pending := queue
		var active []*slot

		ticker := time.NewTicker(TickInterval)
		defer ticker.Stop()

		for len(pending) > 0 || len(active) > 0 {
			for len(active) < limit && len(pending) > 0 {
				if err := ctx.Err(); err != nil {
					for _, j := range pending {
						if !s.finish(yield, j, Outcome{Killed: err}) {
							return
						}
					}
					pending = nil
					break
				}

				j := pending[0]
				pending = pending[1:]
				sl, err := s.start(ctx, j, events, &wg)
				if err != nil {
					s.log.Debug("Job %s could not be started: %v", j.ID, err)
					if !s.finish(yield, j, Outcome{StartErr: err}) {
						return
					}
					continue
				}
				active = append(active, sl)
			}
			if len(active) == 0 {
				continue
			}

			select {
			case ev := <-events:
				done := s.collect(ev, events)
				if len(done) == 0 {
					continue
				}
				var finished []*slot
				remaining := make([]*slot, 0, len(active))
				for _, sl := range active {
					if _, ok := done[sl]; ok {
						finished = append(finished, sl)
					} else {
						remaining = append(remaining, sl)
					}
				}
				active = remaining
				for _, sl := range finished {
					sl.cancel()
					if !s.finish(yield, sl.job, done[sl]) {
						return
					}
				}
			case <-ticker.C:
				for _, sl := range active {
					if !sl.job.HasDuration() {
						s.observer.Tick(sl.job)
					}
				}
			}
		}
	}
}

func (s *Supervisor) start(ctx context.Context, j *Job, events chan<- event, wg *sync.WaitGroup) (*slot, error) {
	var jobCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}

	proc, err := s.starter.Start(jobCtx, j)
	if err != nil {
		cancel()
		return nil, err
	}

	sl := &slot{
		job:     j,
		ctx:     jobCtx,
		cancel:  cancel,
		started: time.Now(),
		sample:  &rate.Sometimes{Interval: time.Second},
	}
	s.log.Debug("Job %s started: %s -> %s", j.ID, j.InputPath, j.OutputPath)
	s.observer.Started(j)

	wg.Add(1)
	go func() {
		defer wg.Done()
		watch(sl, proc, events)
	}()
	return sl, nil
}

// watch drains the process's progress stream, waits for it to exit and
// posts the completion. It runs on its own goroutine and touches nothing
// but its own slot and pipes.
func watch(sl *slot, proc Process, events chan<- event) {
	progress := proc.Progress()
	scanner := bufio.NewScanner(progress)
	for scanner.Scan() {
		line := scanner.Text()
		if key, _, ok := strings.Cut(line, "="); ok && strings.TrimSpace(key) == progressKey {
			events <- event{slot: sl, line: line}
		}
	}
	// A line too long for the scanner stops it early; keep draining so the
	// process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, progress)

	stderr, err := proc.Wait()
	o := Outcome{
		Stderr:   strings.TrimRight(stderr, " \t\r\n"),
		ExitCode: exitCode(err),
		Elapsed:  time.Since(sl.started),
	}
	if err != nil {
		switch ctxErr := sl.ctx.Err(); {
		case errors.Is(ctxErr, context.DeadlineExceeded):
			o.Killed = ErrTimeout
		case ctxErr != nil:
			o.Killed = ctxErr
		}
	}
	events <- event{slot: sl, done: true, outcome: o}
}

// collect handles ev and every event already waiting behind it, and returns
// the completions among them.
func (s *Supervisor) collect(ev event, events <-chan event) map[*slot]Outcome {
	done := make(map[*slot]Outcome)
	for {
		if ev.done {
			done[ev.slot] = ev.outcome
		} else {
			s.progress(ev)
		}
		select {
		case ev = <-events:
		default:
			return done
		}
	}
}

func (s *Supervisor) progress(ev event) {
	j := ev.slot.job
	if !j.HasDuration() {
		s.observer.Tick(j)
		return
	}
	ev.slot.sample.Do(func() {
		s.log.Debug("Job %s progress: %s", j.ID, ev.line)
	})
	s.observer.Progress(j, ev.line)
}

func (s *Supervisor) finish(yield func(*Job, Outcome) bool, j *Job, o Outcome) bool {
	if o.Failed() {
		s.log.Debug("Job %s finished with errors after %s", j.ID, o.Elapsed)
	} else {
		s.log.Debug("Job %s completed successfully in %s", j.ID, o.Elapsed)
	}
	s.observer.Finished(j, o)
	return yield(j, o)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
