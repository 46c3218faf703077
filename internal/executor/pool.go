package executor

import "sync"

// Job is one schedulable unit of work: all trials of a single task.
type Job func() error

// RunPool runs jobs with at most limit executing concurrently, blocking on a
// semaphore for a free slot before launching each one. It waits for every job
// to finish and returns the errors that occurred, in completion order.
func RunPool(limit int, jobs []Job) []error {
	if limit < 1 {
		limit = 1
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	slots := make(chan struct{}, limit)

	for _, job := range jobs {
		wg.Add(1)
		slots <- struct{}{}
		go func(run Job) {
			defer wg.Done()
			defer func() { <-slots }()
			if err := run(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(job)
	}
	wg.Wait()
	return errs
}
