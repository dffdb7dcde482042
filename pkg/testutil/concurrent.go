package testutil

import (
	"sync"

	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
)

// ConcurrentResult summarizes a RunConcurrent call.
type ConcurrentResult struct {
	Successes int
	// ByCode counts failures per domain error code; plain errors count
	// under CodeInternal.
	ByCode map[dErrors.Code]int
	Errs   []error
}

// Failures returns the number of calls that returned an error.
func (r *ConcurrentResult) Failures() int {
	return len(r.Errs)
}

// RunConcurrent calls fn from n goroutines released together, and waits for
// all of them.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	res := &ConcurrentResult{ByCode: make(map[dErrors.Code]int)}
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := fn(i)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				res.Successes++
				return
			}
			res.ByCode[dErrors.CodeOf(err)]++
			res.Errs = append(res.Errs, err)
		}()
	}
	close(start)
	wg.Wait()
	return res
}
