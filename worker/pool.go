package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
)

// Translator executes a Job. engine.Engine implements it.
type Translator interface {
	Translate(ctx context.Context, job Job) ([]byte, *openfhir.Result, error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(ctx context.Context, job Job) ([]byte, *openfhir.Result, error)

// Translate calls f.
func (f TranslatorFunc) Translate(ctx context.Context, job Job) ([]byte, *openfhir.Result, error) {
	return f(ctx, job)
}

// ErrNoTranslator is reported for jobs run without a translator.
var ErrNoTranslator = errors.New("no translator configured")

// tally counts the jobs a pool has seen.
type tally struct {
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	nanos     atomic.Uint64
}

func (t *tally) record(r *JobResult) {
	t.completed.Add(1)
	if r.Error != nil {
		t.failed.Add(1)
	}
	t.nanos.Add(uint64(r.Duration))
}

// Pool translates submitted jobs on a fixed number of goroutines. Results
// arrive on Results in completion order.
type Pool struct {
	workers    int
	translator Translator

	// mu guards sends on queue against its close.
	mu    sync.RWMutex
	queue chan Job
	out   chan *JobResult
	quit  chan struct{}

	stop    context.Context
	halt    context.CancelFunc
	running sync.WaitGroup
	closed  atomic.Bool

	counts tally
}

// NewPool starts a pool of workers goroutines, runtime.NumCPU() when
// workers <= 0.
func NewPool(translator Translator, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	stop, halt := context.WithCancel(context.Background())
	p := &Pool{
		workers:    workers,
		translator: translator,
		queue:      make(chan Job, 2*workers),
		out:        make(chan *JobResult, 2*workers),
		quit:       make(chan struct{}),
		stop:       stop,
		halt:       halt,
	}
	p.running.Add(workers)
	for range workers {
		go p.loop()
	}
	return p
}

// Submit queues job, waiting for room. It reports false once the pool is
// closed.
func (p *Pool) Submit(job Job) bool {
	return p.enqueue(job, true)
}

// SubmitAsync is Submit that gives up when the queue is full.
func (p *Pool) SubmitAsync(job Job) bool {
	return p.enqueue(job, false)
}

func (p *Pool) enqueue(job Job, wait bool) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return false
	}
	if !wait {
		select {
		case p.queue <- job:
			p.counts.submitted.Add(1)
			return true
		default:
			return false
		}
	}
	select {
	case p.queue <- job:
		p.counts.submitted.Add(1)
		return true
	case <-p.quit:
		return false
	}
}

// shutdown stops intake once; drop also stops the workers. Blocked
// submitters are released before the queue is closed.
func (p *Pool) shutdown(drop bool) bool {
	if p.closed.Swap(true) {
		return false
	}
	close(p.quit)
	if drop {
		p.halt()
	}
	p.mu.Lock()
	close(p.queue)
	p.mu.Unlock()
	return true
}

// Results delivers translated jobs. It is closed by Close and CloseAndWait.
func (p *Pool) Results() <-chan *JobResult {
	return p.out
}

// Close stops the pool, dropping queued jobs and unread results.
func (p *Pool) Close() {
	if p.shutdown(true) {
		p.collect(func(*JobResult) {})
	}
}

// CloseAndWait stops accepting jobs, lets the queued ones finish and
// returns every result not yet read from Results.
func (p *Pool) CloseAndWait() *BatchResult {
	if !p.shutdown(false) {
		return &BatchResult{}
	}

	results := make([]*JobResult, 0, p.counts.submitted.Load())
	p.collect(func(r *JobResult) { results = append(results, r) })
	p.halt()

	return &BatchResult{
		Results:       results,
		TotalJobs:     int(p.counts.submitted.Load()),
		CompletedJobs: int(p.counts.completed.Load()),
		FailedJobs:    int(p.counts.failed.Load()),
		TotalDuration: int64(p.counts.nanos.Load()),
	}
}

// collect hands every remaining result to fn until the workers are gone,
// then closes Results.
func (p *Pool) collect(fn func(*JobResult)) {
	finished := make(chan struct{})
	go func() {
		p.running.Wait()
		close(finished)
	}()
	for {
		select {
		case r := <-p.out:
			fn(r)
		case <-finished:
			close(p.out)
			for r := range p.out {
				fn(r)
			}
			return
		}
	}
}

// PoolStats is a snapshot of a pool's counters.
type PoolStats struct {
	Workers       int
	JobsSubmitted uint64
	JobsCompleted uint64
	JobsFailed    uint64
	AvgDuration   time.Duration
}

// Stats returns the current counters of p.
func (p *Pool) Stats() PoolStats {
	s := PoolStats{
		Workers:       p.workers,
		JobsSubmitted: p.counts.submitted.Load(),
		JobsCompleted: p.counts.completed.Load(),
		JobsFailed:    p.counts.failed.Load(),
	}
	if s.JobsCompleted > 0 {
		s.AvgDuration = time.Duration(p.counts.nanos.Load() / s.JobsCompleted)
	}
	return s
}

func (p *Pool) loop() {
	defer p.running.Done()
	for job := range p.queue {
		r := run(p.stop, p.translator, job)
		p.counts.record(r)
		select {
		case p.out <- r:
		case <-p.stop.Done():
			return
		}
	}
}

// run translates one job, timing it. A done ctx fails the job without
// calling t.
func run(ctx context.Context, t Translator, job Job) *JobResult {
	started := time.Now()
	r := &JobResult{ID: job.ID}
	switch {
	case t == nil:
		r.Error = ErrNoTranslator
	case ctx.Err() != nil:
		r.Error = ctx.Err()
	default:
		r.Output, r.Result, r.Error = t.Translate(ctx, job)
	}
	r.Duration = time.Since(started).Nanoseconds()
	return r
}
