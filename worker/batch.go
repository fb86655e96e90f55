package worker

import (
	"context"
	"runtime"
	"sync"
)

// Batch translates a fixed set of jobs and returns their results in
// submission order.
type Batch struct {
	translator Translator
	workers    int
}

// NewBatch creates a batch runner. If workers <= 0, it defaults to
// runtime.NumCPU().
func NewBatch(translator Translator, workers int) *Batch {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Batch{
		translator: translator,
		workers:    workers,
	}
}

// Run translates jobs. Jobs not started before ctx is done are reported
// with ctx's error.
func (b *Batch) Run(ctx context.Context, jobs []Job) *BatchResult {
	if len(jobs) == 0 {
		return &BatchResult{Results: make([]*JobResult, 0)}
	}

	// small batches are not worth the goroutines
	if len(jobs) <= 2 || b.workers == 1 {
		return b.runSequential(ctx, jobs)
	}
	return b.runParallel(ctx, jobs)
}

func (b *Batch) runSequential(ctx context.Context, jobs []Job) *BatchResult {
	results := make([]*JobResult, len(jobs))
	for i, job := range jobs {
		results[i] = run(ctx, b.translator, job)
	}
	return summarize(results)
}

func (b *Batch) runParallel(ctx context.Context, jobs []Job) *BatchResult {
	numWorkers := b.workers
	if numWorkers > len(jobs) {
		numWorkers = len(jobs)
	}

	queue := make(chan int, len(jobs))
	for i := range jobs {
		queue <- i
	}
	close(queue)

	results := make([]*JobResult, len(jobs))
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for i := range queue {
				results[i] = run(ctx, b.translator, jobs[i])
			}
		}()
	}
	wg.Wait()

	return summarize(results)
}

func summarize(results []*JobResult) *BatchResult {
	br := &BatchResult{Results: results, TotalJobs: len(results)}
	for _, r := range results {
		br.CompletedJobs++
		br.TotalDuration += r.Duration
		if r.Error != nil {
			br.FailedJobs++
		}
	}
	return br
}
