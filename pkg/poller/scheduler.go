package poller

import (
	"sync"
	"time"
)

// Scheduler runs a function repeatedly.
type Scheduler interface {
	// Every calls fn every d until the returned handle is cancelled.
	Every(d time.Duration, fn func()) Handle
}

// Handle cancels a scheduled job. Cancel must not block, so a job can cancel
// itself, and it is safe to call more than once.
type Handle interface {
	Cancel()
}

// TickerScheduler runs each job on its own goroutine driven by a time.Ticker.
type TickerScheduler struct{}

func (TickerScheduler) Every(d time.Duration, fn func()) Handle {
	h := &tickerHandle{stopCh: make(chan struct{})}
	go h.run(d, fn)
	return h
}

type tickerHandle struct {
	stopCh chan struct{}
	once   sync.Once
}

func (h *tickerHandle) Cancel() {
	h.once.Do(func() { close(h.stopCh) })
}

func (h *tickerHandle) run(d time.Duration, fn func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A cancel that raced the tick wins.
			select {
			case <-h.stopCh:
				return
			default:
			}
			fn()
		case <-h.stopCh:
			return
		}
	}
}

// ManualScheduler only runs jobs when Fire is called. Tests use it to drive
// a Controller without waiting on real time.
type ManualScheduler struct {
	mu   sync.Mutex
	jobs []*manualJob
}

type manualJob struct {
	sched    *ManualScheduler
	interval time.Duration
	fn       func()
	canceled bool
}

func (j *manualJob) Cancel() {
	j.sched.mu.Lock()
	defer j.sched.mu.Unlock()
	j.canceled = true
}

func (s *ManualScheduler) Every(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &manualJob{sched: s, interval: d, fn: fn}
	s.jobs = append(s.jobs, j)
	return j
}

// Fire runs every live job once, in scheduling order. Jobs scheduled while
// firing wait for the next call.
func (s *ManualScheduler) Fire() {
	s.mu.Lock()
	var live []*manualJob
	for _, j := range s.jobs {
		if !j.canceled {
			live = append(live, j)
		}
	}
	s.mu.Unlock()

	for _, j := range live {
		s.mu.Lock()
		canceled := j.canceled
		s.mu.Unlock()
		if !canceled {
			j.fn()
		}
	}
}

// Active returns the intervals of the jobs that have not been cancelled.
func (s *ManualScheduler) Active() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []time.Duration
	for _, j := range s.jobs {
		if !j.canceled {
			out = append(out, j.interval)
		}
	}
	return out
}
