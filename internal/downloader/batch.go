package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go-cdse-download/internal/models"
)

// DefaultWorkers is the parallel worker count used when none is configured.
const DefaultWorkers = 4

// Job is one product to download.
type Job struct {
	Product    models.Product
	URL        string
	TargetPath string
}

// Result is the outcome of one job. Err is nil for successes and skips.
type Result struct {
	Product models.Product
	Path    string
	Skipped bool
	Err     error
}

// BatchResult collects per-job outcomes. A batch never aborts because some
// of its jobs failed; callers inspect Failed() afterwards.
type BatchResult struct {
	Results []Result
}

// Succeeded counts completed and skipped jobs.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts jobs that ended in an error.
func (b BatchResult) Failed() int {
	return len(b.Results) - b.Succeeded()
}

// jobOptions overlays the job's own checksum metadata onto the shared batch
// options so each product verifies against its own digests.
func jobOptions(opts FetchOptions, job Job) FetchOptions {
	if len(job.Product.Checksums) > 0 {
		opts.Checksums = job.Product.Checksums
	}
	return opts
}

// DownloadAll runs jobs one after another, continuing past failures. Each
// job gets the per-file progress callback from opts.
func (d *Downloader) DownloadAll(ctx context.Context, jobs []Job, opts FetchOptions) BatchResult {
	batch := BatchResult{Results: make([]Result, 0, len(jobs))}
	for i, job := range jobs {
		log.Infof("[%d/%d] Downloading %s", i+1, len(jobs), job.Product.Name)
		path, skipped, err := d.DownloadFile(ctx, job.TargetPath, job.URL, jobOptions(opts, job))
		if err != nil {
			err = fmt.Errorf("product %s: %w", job.Product.Name, err)
			log.WithError(err).Errorf("Download failed for %s, continuing with remaining products", job.Product.Name)
		}
		batch.Results = append(batch.Results, Result{Product: job.Product, Path: path, Skipped: skipped, Err: err})
	}
	return batch
}

// AggregateProgressFunc reports batch completion in whole files.
type AggregateProgressFunc func(completed, total int)

// DownloadAllParallel runs jobs through a worker pool. Per-file progress is
// disabled; onProgress (optional) fires after every finished job with the
// aggregate count. workers below 1 is a validation error.
func (d *Downloader) DownloadAllParallel(ctx context.Context, jobs []Job, opts FetchOptions, workers int, onProgress AggregateProgressFunc) (BatchResult, error) {
	if workers < 1 {
		return BatchResult{}, fmt.Errorf("%w: worker count must be at least 1, got %d", models.ErrValidation, workers)
	}
	if workers > len(jobs) && len(jobs) > 0 {
		workers = len(jobs)
	}

	// Individual progress callbacks would interleave across workers.
	workerOpts := opts
	workerOpts.Progress = nil

	jobCh := make(chan Job, len(jobs))
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		results   []Result
		completed int64
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for job := range jobCh {
				log.Debugf("[Worker-%d] Downloading %s", id, job.Product.Name)
				path, skipped, err := d.DownloadFile(ctx, job.TargetPath, job.URL, jobOptions(workerOpts, job))
				if err != nil {
					err = fmt.Errorf("product %s: %w", job.Product.Name, err)
					log.WithError(err).Errorf("[Worker-%d] Download failed for %s", id, job.Product.Name)
				}
				mu.Lock()
				results = append(results, Result{Product: job.Product, Path: path, Skipped: skipped, Err: err})
				mu.Unlock()

				done := atomic.AddInt64(&completed, 1)
				if onProgress != nil {
					onProgress(int(done), len(jobs))
				}
			}
		}(w)
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()

	return BatchResult{Results: results}, nil
}

// QuicklookJob is one preview to fetch.
type QuicklookJob struct {
	Product models.Product
	URLs    []string
	Dir     string
}

// QuicklookResult is the outcome of one preview fetch. Available is false
// when every host soft-failed.
type QuicklookResult struct {
	Product   models.Product
	Path      string
	Available bool
	Err       error
}

// DownloadQuicklooks fetches previews through a worker pool, continuing
// past failures like the archive batch does.
func (d *Downloader) DownloadQuicklooks(ctx context.Context, jobs []QuicklookJob, workers int) ([]QuicklookResult, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: worker count must be at least 1, got %d", models.ErrValidation, workers)
	}

	jobCh := make(chan QuicklookJob, len(jobs))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []QuicklookResult
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				path, ok, err := d.DownloadQuicklook(ctx, job.Dir, job.Product.Name, job.URLs)
				if errors.Is(err, ErrQuicklookUnavailable) {
					log.Infof("No quicklook available for %s", job.Product.Name)
				} else if err != nil {
					log.WithError(err).Errorf("Quicklook failed for %s", job.Product.Name)
				}
				mu.Lock()
				results = append(results, QuicklookResult{Product: job.Product, Path: path, Available: ok, Err: err})
				mu.Unlock()
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()

	return results, nil
}
