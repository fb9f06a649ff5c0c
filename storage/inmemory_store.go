package storage

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxJobSize matches the default of beanstalkd.
	DefaultMaxJobSize = 65535

	// A reserving client is warned this long before one of its jobs expires.
	deadlineMargin = time.Second

	// Waiting reservers recheck delays, deadlines and pauses this often.
	pollInterval = 50 * time.Millisecond

	// Jobs with a priority below this are counted as urgent.
	urgentPriority = 1024
)

type Options struct {
	MaxJobSize int

	// Now replaces time.Now, tests use it to move time forward.
	Now func() time.Time
}

type tube struct {
	name string
	refs int

	pauseDelay time.Duration
	pauseUntil time.Time

	totalJobs int
	cmdDelete int
	cmdPause  int
}

type InmemoryStore struct {
	maxJobSize int
	now        func() time.Time
	started    time.Time

	mu       sync.Mutex
	nextID   uint64
	jobs     map[uint64]*Job
	tubes    map[string]*tube
	waiting  int
	timeouts int
	total    int

	// wake is closed and replaced whenever a job may have become ready.
	wake chan struct{}

	// stop will be closed when Close() is called
	stop chan struct{}
	once sync.Once
}

func NewInmemoryStore(options Options) *InmemoryStore {
	if options.MaxJobSize <= 0 {
		options.MaxJobSize = DefaultMaxJobSize
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	i := &InmemoryStore{
		maxJobSize: options.MaxJobSize,
		now:        options.Now,
		started:    options.Now(),
		jobs:       make(map[uint64]*Job),
		tubes:      make(map[string]*tube),
		wake:       make(chan struct{}),
		stop:       make(chan struct{}),
	}
	i.tube(DefaultTube)

	return i
}

// MaxJobSize is the largest body Put accepts.
func (i *InmemoryStore) MaxJobSize() int {
	return i.maxJobSize
}

func (i *InmemoryStore) Close() error {
	i.once.Do(func() {
		close(i.stop)
	})

	return nil
}

func (i *InmemoryStore) Put(tubeName string, pri uint32, delay, ttr time.Duration, body []byte) (uint64, error) {
	if len(body) > i.maxJobSize {
		return 0, ErrJobTooBig
	}
	if ttr < time.Second {
		ttr = time.Second
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return 0, ErrClosed
	}

	now := i.now()
	i.nextID++

	job := &Job{
		ID:       i.nextID,
		Tube:     tubeName,
		Priority: pri,
		Delay:    delay,
		TTR:      ttr,
		Body:     body,
		State:    Ready,
		Created:  now,
	}

	if delay > 0 {
		job.State = Delayed
		job.ReadyAt = now.Add(delay)
	}

	i.jobs[job.ID] = job
	i.tube(tubeName).totalJobs++
	i.total++

	if job.State == Ready {
		i.broadcast()
	}

	return job.ID, nil
}

func (i *InmemoryStore) Reserve(ctx context.Context, owner string, tubes []string, timeout time.Duration) (Job, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		i.mu.Lock()
		if !i.isRunning() {
			i.mu.Unlock()
			return Job{}, ErrClosed
		}

		now := i.now()
		i.tick(now)

		if i.deadlineSoon(owner, now) {
			i.mu.Unlock()
			return Job{}, ErrDeadlineSoon
		}

		if job := i.nextReady(tubes, now); job != nil {
			i.reserve(job, owner, now)
			snapshot := *job
			i.mu.Unlock()
			return snapshot, nil
		}

		if timeout == 0 {
			i.mu.Unlock()
			return Job{}, ErrTimedOut
		}

		wake := i.wake
		i.waiting++
		i.mu.Unlock()

		var err error
		select {
		case <-wake:
		case <-ticker.C:
		case <-expired:
			err = ErrTimedOut
		case <-ctx.Done():
			err = ctx.Err()
		case <-i.stop:
			err = ErrClosed
		}

		i.mu.Lock()
		i.waiting--
		i.mu.Unlock()

		if err != nil {
			return Job{}, err
		}
	}
}

func (i *InmemoryStore) ReserveJob(owner string, id uint64) (Job, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	i.tick(now)

	job, ok := i.jobs[id]
	if !ok || job.State == Reserved {
		return Job{}, ErrNotFound
	}

	i.reserve(job, owner, now)
	return *job, nil
}

func (i *InmemoryStore) Delete(owner string, id uint64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.tick(i.now())

	job, ok := i.jobs[id]
	if !ok || (job.State == Reserved && job.Owner != owner) {
		return ErrNotFound
	}

	delete(i.jobs, id)
	i.tube(job.Tube).cmdDelete++
	i.forgetIfUnused(job.Tube)

	return nil
}

func (i *InmemoryStore) Release(owner string, id uint64, pri uint32, delay time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	i.tick(now)

	job, err := i.reservedBy(owner, id)
	if err != nil {
		return err
	}

	job.Priority = pri
	job.Owner = ""
	job.Deadline = time.Time{}
	job.Releases++

	if delay > 0 {
		job.State = Delayed
		job.Delay = delay
		job.ReadyAt = now.Add(delay)
		return nil
	}

	job.State = Ready
	i.broadcast()

	return nil
}

func (i *InmemoryStore) Bury(owner string, id uint64, pri uint32) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.tick(i.now())

	job, err := i.reservedBy(owner, id)
	if err != nil {
		return err
	}

	job.State = Buried
	job.Priority = pri
	job.Owner = ""
	job.Deadline = time.Time{}
	job.Buries++

	return nil
}

func (i *InmemoryStore) Touch(owner string, id uint64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	i.tick(now)

	job, err := i.reservedBy(owner, id)
	if err != nil {
		return err
	}

	job.Deadline = now.Add(job.TTR)

	return nil
}

func (i *InmemoryStore) Peek(id uint64) (Job, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.tick(i.now())

	job, ok := i.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}

	return *job, nil
}

// PeekState returns the next ready job of tube (by priority), the delayed job
// that becomes ready first, or the oldest buried job.
func (i *InmemoryStore) PeekState(tubeName string, state JobState) (Job, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.tick(i.now())

	var best *Job
	for _, job := range i.jobs {
		if job.Tube != tubeName || job.State != state {
			continue
		}

		if best == nil || before(job, best) {
			best = job
		}
	}

	if best == nil {
		return Job{}, ErrNotFound
	}

	return *best, nil
}

func (i *InmemoryStore) Kick(tubeName string, bound int) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.tick(i.now())

	candidates := i.jobsIn(tubeName, Buried)
	if len(candidates) == 0 {
		candidates = i.jobsIn(tubeName, Delayed)
	}

	sort.Slice(candidates, func(a, b int) bool {
		return before(candidates[a], candidates[b])
	})

	if bound < 0 {
		bound = 0
	}
	if bound < len(candidates) {
		candidates = candidates[:bound]
	}

	for _, job := range candidates {
		i.kick(job)
	}

	if len(candidates) > 0 {
		i.broadcast()
	}

	return len(candidates), nil
}

func (i *InmemoryStore) KickJob(id uint64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.tick(i.now())

	job, ok := i.jobs[id]
	if !ok || (job.State != Buried && job.State != Delayed) {
		return ErrNotFound
	}

	i.kick(job)
	i.broadcast()

	return nil
}

func (i *InmemoryStore) PauseTube(tubeName string, delay time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	t, ok := i.tubes[tubeName]
	if !ok {
		return ErrNotFound
	}

	t.pauseDelay = delay
	t.pauseUntil = i.now().Add(delay)
	t.cmdPause++

	return nil
}

func (i *InmemoryStore) AcquireTube(tubeName string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.tube(tubeName).refs++
}

func (i *InmemoryStore) ReleaseTube(tubeName string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if t, ok := i.tubes[tubeName]; ok && t.refs > 0 {
		t.refs--
		i.forgetIfUnused(tubeName)
	}
}

func (i *InmemoryStore) ReleaseAll(owner string) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	released := 0
	for _, job := range i.jobs {
		if job.State == Reserved && job.Owner == owner {
			job.State = Ready
			job.Owner = ""
			job.Deadline = time.Time{}
			released++
		}
	}

	if released > 0 {
		i.broadcast()
	}

	return released
}

func (i *InmemoryStore) Tubes() []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	names := make([]string, 0, len(i.tubes))
	for name := range i.tubes {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (i *InmemoryStore) StatsJob(id uint64) (map[string]interface{}, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	i.tick(now)

	job, ok := i.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	timeLeft := time.Duration(0)
	switch job.State {
	case Delayed:
		timeLeft = job.ReadyAt.Sub(now)
	case Reserved:
		timeLeft = job.Deadline.Sub(now)
	}

	return map[string]interface{}{
		"id":        job.ID,
		"tube":      job.Tube,
		"state":     string(job.State),
		"pri":       job.Priority,
		"age":       int(now.Sub(job.Created) / time.Second),
		"delay":     int(job.Delay / time.Second),
		"ttr":       int(job.TTR / time.Second),
		"time-left": int(timeLeft / time.Second),
		"reserves":  job.Reserves,
		"timeouts":  job.Timeouts,
		"releases":  job.Releases,
		"buries":    job.Buries,
		"kicks":     job.Kicks,
	}, nil
}

func (i *InmemoryStore) StatsTube(tubeName string) (map[string]interface{}, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	i.tick(now)

	t, ok := i.tubes[tubeName]
	if !ok {
		return nil, ErrNotFound
	}

	counts := i.countJobs(tubeName)

	pauseLeft := time.Duration(0)
	if now.Before(t.pauseUntil) {
		pauseLeft = t.pauseUntil.Sub(now)
	}

	return map[string]interface{}{
		"name":                  t.name,
		"current-jobs-urgent":   counts.urgent,
		"current-jobs-ready":    counts.ready,
		"current-jobs-reserved": counts.reserved,
		"current-jobs-delayed":  counts.delayed,
		"current-jobs-buried":   counts.buried,
		"total-jobs":            t.totalJobs,
		"current-using":         t.refs,
		"cmd-delete":            t.cmdDelete,
		"cmd-pause-tube":        t.cmdPause,
		"pause":                 int(t.pauseDelay / time.Second),
		"pause-time-left":       int(pauseLeft / time.Second),
	}, nil
}

func (i *InmemoryStore) Stats() map[string]interface{} {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	i.tick(now)

	counts := i.countJobs("")
	hostname, _ := os.Hostname()

	return map[string]interface{}{
		"current-jobs-urgent":   counts.urgent,
		"current-jobs-ready":    counts.ready,
		"current-jobs-reserved": counts.reserved,
		"current-jobs-delayed":  counts.delayed,
		"current-jobs-buried":   counts.buried,
		"current-tubes":         len(i.tubes),
		"current-waiting":       i.waiting,
		"total-jobs":            i.total,
		"job-timeouts":          i.timeouts,
		"max-job-size":          i.maxJobSize,
		"uptime":                int(now.Sub(i.started) / time.Second),
		"pid":                   os.Getpid(),
		"hostname":              hostname,
	}
}

// tick moves delayed jobs whose delay has passed to ready, and gives back
// reserved jobs whose ttr has run out. Callers hold mu.
func (i *InmemoryStore) tick(now time.Time) {
	changed := false

	for _, job := range i.jobs {
		switch job.State {
		case Delayed:
			if !now.Before(job.ReadyAt) {
				job.State = Ready
				job.ReadyAt = time.Time{}
				changed = true
			}

		case Reserved:
			if !now.Before(job.Deadline) {
				job.State = Ready
				job.Owner = ""
				job.Deadline = time.Time{}
				job.Timeouts++
				i.timeouts++
				changed = true
			}
		}
	}

	if changed {
		i.broadcast()
	}
}

func (i *InmemoryStore) deadlineSoon(owner string, now time.Time) bool {
	for _, job := range i.jobs {
		if job.State == Reserved && job.Owner == owner && job.Deadline.Sub(now) <= deadlineMargin {
			return true
		}
	}
	return false
}

func (i *InmemoryStore) nextReady(tubes []string, now time.Time) *Job {
	watched := make(map[string]bool, len(tubes))
	for _, name := range tubes {
		if t, ok := i.tubes[name]; ok && !now.Before(t.pauseUntil) {
			watched[name] = true
		}
	}

	var best *Job
	for _, job := range i.jobs {
		if job.State != Ready || !watched[job.Tube] {
			continue
		}

		if best == nil || before(job, best) {
			best = job
		}
	}

	return best
}

func (i *InmemoryStore) reserve(job *Job, owner string, now time.Time) {
	job.State = Reserved
	job.Owner = owner
	job.Deadline = now.Add(job.TTR)
	job.ReadyAt = time.Time{}
	job.Reserves++
}

func (i *InmemoryStore) kick(job *Job) {
	job.State = Ready
	job.ReadyAt = time.Time{}
	job.Kicks++
}

func (i *InmemoryStore) reservedBy(owner string, id uint64) (*Job, error) {
	job, ok := i.jobs[id]
	if !ok || job.State != Reserved || job.Owner != owner {
		return nil, ErrNotFound
	}
	return job, nil
}

func (i *InmemoryStore) jobsIn(tubeName string, state JobState) []*Job {
	var jobs []*Job
	for _, job := range i.jobs {
		if job.Tube == tubeName && job.State == state {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

type jobCounts struct {
	urgent, ready, reserved, delayed, buried int
}

// countJobs counts the jobs of one tube, or of every tube when tubeName is
// empty.
func (i *InmemoryStore) countJobs(tubeName string) jobCounts {
	var c jobCounts
	for _, job := range i.jobs {
		if tubeName != "" && job.Tube != tubeName {
			continue
		}

		switch job.State {
		case Ready:
			c.ready++
			if job.Priority < urgentPriority {
				c.urgent++
			}
		case Reserved:
			c.reserved++
		case Delayed:
			c.delayed++
		case Buried:
			c.buried++
		}
	}
	return c
}

// tube returns the named tube, creating it if needed. Callers hold mu.
func (i *InmemoryStore) tube(name string) *tube {
	t, ok := i.tubes[name]
	if !ok {
		t = &tube{name: name}
		i.tubes[name] = t
	}
	return t
}

func (i *InmemoryStore) forgetIfUnused(name string) {
	if name == DefaultTube {
		return
	}

	t, ok := i.tubes[name]
	if !ok || t.refs > 0 {
		return
	}

	for _, job := range i.jobs {
		if job.Tube == name {
			return
		}
	}

	delete(i.tubes, name)
}

func (i *InmemoryStore) broadcast() {
	close(i.wake)
	i.wake = make(chan struct{})
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

// before orders jobs the way they are handed out: delayed jobs by the time
// they become ready, everything else by priority, ties by age.
func before(a, b *Job) bool {
	if a.State == Delayed && b.State == Delayed && !a.ReadyAt.Equal(b.ReadyAt) {
		return a.ReadyAt.Before(b.ReadyAt)
	}
	if a.State != Delayed && a.State != Buried && a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

var _ Store = (*InmemoryStore)(nil)
