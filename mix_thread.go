package mixer

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// WakeReason is why a Timer's SleepUntil returned.
type WakeReason int

const (
	// WakeDeadline means the requested time arrived.
	WakeDeadline WakeReason = iota

	// WakeEvent means Notify was called; pending tasks want to run.
	WakeEvent

	// WakeShutdown means Shutdown was called; the loop must exit.
	WakeShutdown
)

// Timer is the blocking primitive under a MixThread's loop. SystemTimer
// implements it against real time; tests substitute a manual clock.
type Timer interface {
	// SleepUntil blocks until the monotonic deadline arrives, Notify is
	// called, or Shutdown is called, and reports which happened first.
	// A deadline in the past returns immediately with WakeDeadline.
	SleepUntil(monoDeadline int64) WakeReason

	// Notify wakes a concurrent SleepUntil with WakeEvent. Notifications
	// are sticky: if none is sleeping, the next SleepUntil returns
	// immediately.
	Notify()

	// Shutdown permanently wakes the sleeper with WakeShutdown.
	Shutdown()
}

// SystemTimer implements Timer with real monotonic time.
type SystemTimer struct {
	event    chan struct{}
	shutdown chan struct{}
	once     sync.Once
	origin   time.Time
}

// NewSystemTimer returns a Timer whose monotonic timeline is nanoseconds
// since its creation.
func NewSystemTimer() *SystemTimer {
	return &SystemTimer{
		event:    make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		origin:   time.Now(),
	}
}

// Now returns the timer's monotonic time in nanoseconds.
func (t *SystemTimer) Now() int64 { return int64(time.Since(t.origin)) }

func (t *SystemTimer) SleepUntil(monoDeadline int64) WakeReason {
	d := time.Duration(monoDeadline - t.Now())
	if d < 0 {
		d = 0
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-t.shutdown:
		return WakeShutdown
	case <-t.event:
		return WakeEvent
	case <-tm.C:
		return WakeDeadline
	}
}

func (t *SystemTimer) Notify() {
	select {
	case t.event <- struct{}{}:
	default:
	}
}

func (t *SystemTimer) Shutdown() {
	t.once.Do(func() { close(t.shutdown) })
}

// ConsumerJob describes one period of work handed to a consumer.
type ConsumerJob struct {
	// MonoDeadline is the monotonic time this period began; the job's
	// output must be ready one period later.
	MonoDeadline int64

	// StartRef is MonoDeadline on the consumer's reference clock.
	StartRef int64

	// Period is the job length on the consumer's reference clock, so
	// consecutive job windows abut exactly even when the clock runs off
	// monotonic rate.
	Period time.Duration
}

// ConsumerJobStatus is a consumer's response to RunMixJob.
type ConsumerJobStatus struct {
	// Running means the consumer produced (or actively padded) audio and
	// wants the next periodic job.
	Running bool

	// HasNextStart, valid when not Running, means the consumer is idle
	// until NextStartRef on its reference clock. An idle thread sleeps
	// until the earliest such start.
	HasNextStart bool
	NextStartRef int64
}

// Consumer is a unit of periodic mix work owned by a MixThread, typically
// wrapping a MixStage plus an output sink.
type Consumer interface {
	Name() string

	// ReferenceClock converts between thread deadlines and the
	// consumer's reference timeline.
	ReferenceClock() Clock

	// DownstreamConsumerCount orders execution within a period: larger
	// counts (further from the output) run first, so data flows through
	// the graph within a single period.
	DownstreamConsumerCount() int

	// RunMixJob produces audio for [job.StartRef, job.StartRef+job.Period).
	RunMixJob(job ConsumerJob) ConsumerJobStatus
}

// MixThreadConfig configures a MixThread.
type MixThreadConfig struct {
	Name string

	// Period is the mix job cadence.
	Period time.Duration

	// CPUBudget is the compute time allotted per period. A wakeup so late
	// that less than the budget remains before the next deadline is
	// recorded as a late wakeup.
	CPUBudget time.Duration

	// Timer drives the loop. Defaults to a NewSystemTimer.
	Timer Timer

	// MonoNow reads the monotonic clock. Defaults to the system timer's.
	MonoNow func() int64
}

func (c *MixThreadConfig) validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("%w: non-positive period %v", ErrInvalidConfig, c.Period)
	}
	if c.CPUBudget <= 0 || c.CPUBudget > c.Period {
		return fmt.Errorf("%w: cpu budget %v outside (0, %v]", ErrInvalidConfig, c.CPUBudget, c.Period)
	}
	if c.Timer == nil {
		st := NewSystemTimer()
		c.Timer = st
		if c.MonoNow == nil {
			c.MonoNow = st.Now
		}
	}
	if c.MonoNow == nil {
		return fmt.Errorf("%w: custom timer requires MonoNow", ErrInvalidConfig)
	}
	return nil
}

// noDeadline sleeps "forever"; any event still wakes the loop.
const noDeadline = int64(1) << 62

// MixThread periodically runs mix jobs for a set of consumers on a single
// dedicated goroutine. All consumer and graph mutation happens via tasks
// posted to the thread, so mix-path state needs no locks.
type MixThread struct {
	name    string
	period  time.Duration
	budget  time.Duration
	timer   Timer
	monoNow func() int64

	mu    sync.Mutex
	tasks []func()

	// Owned by the loop goroutine.
	consumers []Consumer
	deadline  int64
	running   bool

	underflows  uint64
	lateWakeups uint64

	done chan struct{}
}

// NewMixThread creates a thread and starts its loop goroutine.
func NewMixThread(cfg MixThreadConfig) (*MixThread, error) {
	t, err := NewMixThreadWithoutLoop(cfg)
	if err != nil {
		return nil, err
	}
	go t.RunLoop()
	return t, nil
}

// NewMixThreadWithoutLoop creates a thread whose loop the caller drives,
// for tests and offline rendering.
func NewMixThreadWithoutLoop(cfg MixThreadConfig) (*MixThread, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &MixThread{
		name:     cfg.Name,
		period:   cfg.Period,
		budget:   cfg.CPUBudget,
		timer:    cfg.Timer,
		monoNow:  cfg.MonoNow,
		deadline: noDeadline,
		done:     make(chan struct{}),
	}, nil
}

// Name identifies the thread in logs.
func (t *MixThread) Name() string { return t.name }

// Period returns the job cadence.
func (t *MixThread) Period() time.Duration { return t.period }

// Underflows reports how many whole periods have been skipped.
func (t *MixThread) Underflows() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.underflows
}

// LateWakeups reports wakeups that left less than the CPU budget.
func (t *MixThread) LateWakeups() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lateWakeups
}

// MixThreadMetrics is a snapshot of a thread's health counters.
type MixThreadMetrics struct {
	Underflows  uint64
	LateWakeups uint64
}

// Metrics returns a consistent snapshot of the thread's counters.
func (t *MixThread) Metrics() MixThreadMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return MixThreadMetrics{Underflows: t.underflows, LateWakeups: t.lateWakeups}
}

// PostTask schedules fn on the thread's goroutine and wakes it.
func (t *MixThread) PostTask(fn func()) {
	t.mu.Lock()
	t.tasks = append(t.tasks, fn)
	t.mu.Unlock()
	t.timer.Notify()
}

// AddConsumer attaches c, starting periodic jobs from the current time if
// the thread was idle.
func (t *MixThread) AddConsumer(c Consumer) {
	t.PostTask(func() {
		t.consumers = append(t.consumers, c)
		t.sortConsumers()
	})
}

// RemoveConsumer detaches c. Its jobs stop after the current period.
// Removing a consumer that was never added is a programming error.
func (t *MixThread) RemoveConsumer(c Consumer) {
	t.PostTask(func() {
		for i, have := range t.consumers {
			if have == c {
				t.consumers = append(t.consumers[:i], t.consumers[i+1:]...)
				return
			}
		}
		panic(fmt.Sprintf("mixer: thread %q removing unknown consumer %q", t.name, c.Name()))
	})
}

// Shutdown stops the loop and waits for it to exit.
func (t *MixThread) Shutdown() {
	t.timer.Shutdown()
	<-t.done
}

func (t *MixThread) sortConsumers() {
	sort.SliceStable(t.consumers, func(i, j int) bool {
		return t.consumers[i].DownstreamConsumerCount() > t.consumers[j].DownstreamConsumerCount()
	})
}

// RunLoop is the thread body: sleep, drain tasks, run the period's jobs,
// repeat. It exits when the timer reports shutdown.
func (t *MixThread) RunLoop() {
	defer close(t.done)
	for {
		reason := t.timer.SleepUntil(t.deadline)
		t.drainTasks()
		if reason == WakeShutdown {
			return
		}
		now := t.monoNow()
		if reason == WakeEvent && now < t.deadline {
			// Woken for tasks only; the period is not due yet. Tasks may
			// have added the first consumer, which starts jobs now.
			if t.deadline == noDeadline && len(t.consumers) > 0 {
				t.deadline = now
			} else {
				continue
			}
		}
		t.deadline = t.RunMixJobs(now, t.deadline)
	}
}

func (t *MixThread) drainTasks() {
	for {
		t.mu.Lock()
		tasks := t.tasks
		t.tasks = nil
		t.mu.Unlock()
		if len(tasks) == 0 {
			return
		}
		for _, fn := range tasks {
			fn()
		}
	}
}

// RunMixJobs executes one wakeup's worth of work: it classifies lateness
// against periodDeadline, runs every consumer's job for the resulting
// period, and returns the next wakeup time.
func (t *MixThread) RunMixJobs(now, periodDeadline int64) int64 {
	if len(t.consumers) == 0 {
		return noDeadline
	}
	if periodDeadline == noDeadline {
		periodDeadline = now
	}

	period := int64(t.period)

	// A wakeup a whole period (or more) late cannot produce that audio in
	// time. Skip forward to the last period boundary at or before now and
	// record each skipped period as an underflow.
	if now >= periodDeadline+period {
		skipped := (now - periodDeadline) / period
		periodDeadline += skipped * period
		t.mu.Lock()
		t.underflows += uint64(skipped)
		t.mu.Unlock()
		if skipped >= underflowChaseLimit {
			log.Printf("mixer: thread %q skipped %d periods", t.name, skipped)
		}
	}

	// Late enough that less than the CPU budget remains before the next
	// deadline means this job may itself underflow.
	if now-periodDeadline > period-int64(t.budget) {
		t.mu.Lock()
		t.lateWakeups++
		t.mu.Unlock()
	}

	anyRunning := false
	haveNextStart := false
	var earliestStartMono int64

	for _, c := range t.consumers {
		clock := c.ReferenceClock()
		startRef := clock.ReferenceTimeFromMonotonicTime(periodDeadline)
		endRef := clock.ReferenceTimeFromMonotonicTime(periodDeadline + period)
		status := c.RunMixJob(ConsumerJob{
			MonoDeadline: periodDeadline,
			StartRef:     startRef,
			Period:       time.Duration(endRef - startRef),
		})
		switch {
		case status.Running:
			anyRunning = true
		case status.HasNextStart:
			startMono := clock.MonotonicTimeFromReferenceTime(status.NextStartRef)
			if !haveNextStart || startMono < earliestStartMono {
				haveNextStart = true
				earliestStartMono = startMono
			}
		}
	}

	if anyRunning {
		return periodDeadline + period
	}
	if haveNextStart {
		return wakeForScheduledStart(periodDeadline, earliestStartMono)
	}
	return noDeadline
}

// wakeForScheduledStart returns when to wake for a start scheduled at
// startMono. Reference clocks may run up to 1000 ppm fast relative to the
// monotonic estimate, so the wait is shortened by that worst case to
// avoid waking after the start has passed.
func wakeForScheduledStart(now, startMono int64) int64 {
	delta := startMono - now
	if delta <= 0 {
		return now
	}
	return now + delta*1000/1001
}
