package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Parallel result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ParallelResult is the settled outcome of one task in a batch.
type ParallelResult struct {
	Agent    string        `json:"agent"`
	Status   string        `json:"status"`
	Result   *Result       `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Succeeded reports whether the task succeeded.
func (p ParallelResult) Succeeded() bool { return p.Status == StatusSuccess }

// Executor is anything that can run one request.
type Executor interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// ExecuteParallel starts every request at once and waits for all of them to
// settle. Each failure, including a panic, becomes an error result for that
// agent without affecting the others. Results are in request order. A
// cancelled ctx makes unfinished tasks settle as errors.
func ExecuteParallel(ctx context.Context, exec Executor, reqs []Request) []ParallelResult {
	results := make([]ParallelResult, len(reqs))
	var wg sync.WaitGroup
	wg.Add(len(reqs))
	for i, req := range reqs {
		go func(i int, req Request) {
			defer wg.Done()
			results[i] = runOne(ctx, exec, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

func runOne(ctx context.Context, exec Executor, req Request) (pr ParallelResult) {
	start := time.Now()
	pr.Agent = req.Agent
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("agent %s panicked: %v", req.Agent, p)
			pr = ParallelResult{Agent: req.Agent, Status: StatusError, Error: err.Error(), Err: err}
		}
		pr.Duration = time.Since(start)
	}()

	res, err := exec.Run(ctx, req)
	if err != nil {
		return ParallelResult{Agent: req.Agent, Status: StatusError, Error: err.Error(), Err: err}
	}
	return ParallelResult{Agent: req.Agent, Status: StatusSuccess, Result: &res}
}
