// Package downloader runs media downloads through a bounded pool of
// workers and reassembles the results in submission order.
package downloader

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"igcollector/pkg/gateway"
	"igcollector/pkg/logger"
	"igcollector/pkg/retry"
)

// Job is one media item to fetch. Seq fixes the item's position in the
// reassembled result set.
type Job struct {
	Seq int
	Ref gateway.MediaRef
}

// Result is the outcome of one download job
type Result struct {
	Seq      int
	Ref      gateway.MediaRef
	Data     []byte
	Err      error
	Duration time.Duration
}

// Pool downloads batches of media with bounded concurrency. Each worker
// waits a randomized delay in [delayMin, delayMax] before every fetch.
type Pool struct {
	workers  int
	delayMin time.Duration
	delayMax time.Duration
	log      logger.Logger
}

// NewPool creates a download pool with the given worker count and
// per-item pacing window.
func NewPool(workers int, delayMin, delayMax time.Duration, log logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pool{workers: workers, delayMin: delayMin, delayMax: delayMax, log: log}
}

// Run fetches every job through the session and returns one result per
// job, ordered by Seq. Individual download failures are carried in the
// result rather than aborting the batch; context cancellation stops the
// remaining jobs.
func (p *Pool) Run(ctx context.Context, sess gateway.Session, jobs []Job) []Result {
	if len(jobs) == 0 {
		return nil
	}

	jobQueue := make(chan Job, len(jobs))
	resultQueue := make(chan Result, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, sess, jobQueue, resultQueue, &wg)
	}

	for _, job := range jobs {
		jobQueue <- job
	}
	close(jobQueue)

	wg.Wait()
	close(resultQueue)

	results := make([]Result, 0, len(jobs))
	for res := range resultQueue {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Seq < results[j].Seq
	})

	return results
}

func (p *Pool) worker(ctx context.Context, id int, sess gateway.Session, jobs <-chan Job, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range jobs {
		if err := ctx.Err(); err != nil {
			results <- Result{Seq: job.Seq, Ref: job.Ref, Err: err}
			continue
		}
		if err := p.pace(ctx); err != nil {
			results <- Result{Seq: job.Seq, Ref: job.Ref, Err: err}
			continue
		}

		start := time.Now()
		data, err := sess.Download(ctx, job.Ref)
		duration := time.Since(start)

		if err != nil {
			p.log.WarnWithFields("download failed", map[string]interface{}{
				"worker_id": id,
				"media_id":  job.Ref.ID,
				"error":     err.Error(),
			})
		} else {
			p.log.DebugWithFields("download completed", map[string]interface{}{
				"worker_id":   id,
				"media_id":    job.Ref.ID,
				"size":        len(data),
				"duration_ms": duration.Milliseconds(),
			})
		}

		results <- Result{
			Seq:      job.Seq,
			Ref:      job.Ref,
			Data:     data,
			Err:      err,
			Duration: duration,
		}
	}
}

// pace sleeps a random interval before a fetch, honoring cancellation
func (p *Pool) pace(ctx context.Context) error {
	if p.delayMax <= p.delayMin {
		return retry.Wait(ctx, p.delayMin)
	}
	delay := p.delayMin + time.Duration(rand.Int63n(int64(p.delayMax-p.delayMin)))
	return retry.Wait(ctx, delay)
}
