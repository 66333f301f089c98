// Package progress aggregates per-job and batch-wide conversion progress
// from ffmpeg's -progress stream.
package progress

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"lconvert/job"
)

const progressKey = "out_time_ms"

// Snapshot is the batch-wide progress. Position and TotalBound are seconds
// of media.
type Snapshot struct {
	TotalBound int64 `json:"totalBound" yaml:"total_bound"`
	Position   int64 `json:"position" yaml:"position"`
	Succeeded  int   `json:"succeeded" yaml:"succeeded"`
	Errored    int   `json:"errored" yaml:"errored"`
	TotalJobs  int   `json:"totalJobs" yaml:"total_jobs"`
}

// Done reports whether every job has finished.
func (s Snapshot) Done() bool { return s.Succeeded+s.Errored == s.TotalJobs }

// JobStatus is the externally visible state of one job.
type JobStatus struct {
	ID           string     `json:"id"`
	Input        string     `json:"input"`
	Output       string     `json:"output"`
	Status       job.Status `json:"status"`
	KnownLength  bool       `json:"knownLength"`
	Position     int64      `json:"position"`
	Bound        int64      `json:"bound"`
	Error        string     `json:"error,omitempty"`
	LastActivity time.Time  `json:"lastActivity,omitzero"`
}

// Display renders tracker updates. Calls come from the tracker's caller,
// one at a time.
type Display interface {
	Begin(s Snapshot)
	JobStarted(j *job.Job, bound int64)
	JobProgress(j *job.Job, position int64)
	JobFinished(j *job.Job, o job.Outcome)
	Overall(s Snapshot)
	// Wait flushes the display once the batch is over.
	Wait()
}

type jobProgress struct {
	known    bool
	position int64
	bound    int64
}

// Tracker implements job.Observer. Only the supervisor's controlling
// goroutine mutates it; the mutex lets snapshot readers in.
type Tracker struct {
	display Display

	mu       sync.RWMutex
	agg      Snapshot
	active   map[string]*jobProgress
	statuses map[string]*JobStatus
	order    []string
}

// NewTracker computes the overall bound for jobs and hands the initial
// snapshot to display. display may be nil.
func NewTracker(jobs []*job.Job, display Display) *Tracker {
	if display == nil {
		display = nopDisplay{}
	}
	t := &Tracker{
		display:  display,
		active:   make(map[string]*jobProgress),
		statuses: make(map[string]*JobStatus, len(jobs)),
	}
	for _, j := range jobs {
		b := Bound(j)
		t.agg.TotalBound += b
		t.statuses[j.ID] = &JobStatus{
			ID:          j.ID,
			Input:       j.InputPath,
			Output:      j.OutputPath,
			Status:      job.StatusQueued,
			KnownLength: j.HasDuration(),
			Bound:       b,
		}
		t.order = append(t.order, j.ID)
	}
	t.agg.TotalJobs = len(jobs)
	display.Begin(t.agg)
	return t
}

// Bound is the job's progress bound: its duration in whole seconds, or 1
// when the duration is unknown.
func Bound(j *job.Job) int64 {
	if !j.HasDuration() {
		return 1
	}
	return int64(math.Floor(*j.Duration))
}

// ParseProgressLine returns the whole seconds reported by an out_time_ms
// line. Other keys, "N/A" and negative or malformed values are rejected.
func ParseProgressLine(line string) (int64, bool) {
	key, value, ok := strings.Cut(line, "=")
	if !ok || strings.TrimSpace(key) != progressKey {
		return 0, false
	}
	us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	return us / 1_000_000, true
}

func (t *Tracker) Started(j *job.Job) {
	b := Bound(j)
	t.mu.Lock()
	t.active[j.ID] = &jobProgress{known: j.HasDuration(), bound: b}
	if st, ok := t.statuses[j.ID]; ok {
		st.Status = job.StatusRunning
		st.LastActivity = time.Now()
	}
	t.mu.Unlock()
	t.display.JobStarted(j, b)
}

func (t *Tracker) Progress(j *job.Job, line string) {
	secs, ok := ParseProgressLine(line)
	if !ok {
		return
	}
	t.mu.Lock()
	p, ok := t.active[j.ID]
	if !ok || !p.known {
		t.mu.Unlock()
		return
	}
	t.advance(j.ID, p, min(secs, p.bound))
	pos, snap := p.position, t.agg
	t.mu.Unlock()

	t.display.JobProgress(j, pos)
	t.display.Overall(snap)
}

// Tick records liveness of a job whose length is unknown.
func (t *Tracker) Tick(j *job.Job) {
	t.mu.Lock()
	if st, ok := t.statuses[j.ID]; ok {
		st.LastActivity = time.Now()
	}
	t.mu.Unlock()
}

// Finished forces the job to its bound, so the overall position reaches the
// overall bound once every job is done, and counts the outcome. Jobs that
// never started are accepted too.
func (t *Tracker) Finished(j *job.Job, o job.Outcome) {
	t.mu.Lock()
	p, ok := t.active[j.ID]
	if !ok {
		p = &jobProgress{known: j.HasDuration(), bound: Bound(j)}
	}
	t.advance(j.ID, p, p.bound)
	delete(t.active, j.ID)

	status := job.StatusSucceeded
	if o.Failed() {
		status = job.StatusFailed
		t.agg.Errored++
	} else {
		t.agg.Succeeded++
	}
	if st, ok := t.statuses[j.ID]; ok {
		st.Status = status
		st.LastActivity = time.Now()
		if err := o.Err(j); err != nil {
			st.Error = err.Error()
		}
	}
	snap := t.agg
	t.mu.Unlock()

	t.display.JobFinished(j, o)
	t.display.Overall(snap)
}

// advance moves p forward to pos. A job's position never moves back, so the
// overall position stays within its bound.
func (t *Tracker) advance(id string, p *jobProgress, pos int64) {
	if pos <= p.position {
		return
	}
	t.agg.Position += pos - p.position
	p.position = pos
	if st, ok := t.statuses[id]; ok {
		st.Position = pos
	}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.agg
}

// Jobs returns the status of every job in queue order.
func (t *Tracker) Jobs() []JobStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]JobStatus, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.statuses[id])
	}
	return out
}

func (t *Tracker) Job(id string) (JobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.statuses[id]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

// Close waits for the display to flush.
func (t *Tracker) Close() { t.display.Wait() }

type nopDisplay struct{}

func (nopDisplay) Begin(Snapshot)                    {}
func (nopDisplay) JobStarted(*job.Job, int64)        {}
func (nopDisplay) JobProgress(*job.Job, int64)       {}
func (nopDisplay) JobFinished(*job.Job, job.Outcome) {}
func (nopDisplay) Overall(Snapshot)                  {}
func (nopDisplay) Wait()                             {}
