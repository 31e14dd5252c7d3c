package agent

import (
	"bufio"
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execFunc func(ctx context.Context, req Request) (Result, error)

func (f execFunc) Run(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

func TestExecuteParallel_FailureIsolated(t *testing.T) {
	release := make(chan struct{})
	exec := execFunc(func(ctx context.Context, req Request) (Result, error) {
		switch req.Agent {
		case "security-auditor":
			return Result{}, errors.New("provider exploded")
		case "code-reviewer":
			panic("nil map")
		case "test-writer":
			<-release
		}
		return Result{Text: "done " + req.Agent}, nil
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()

	results := ExecuteParallel(context.Background(), exec, []Request{
		{Agent: "test-writer"},
		{Agent: "security-auditor"},
		{Agent: "code-reviewer"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, "test-writer", results[0].Agent)
	assert.True(t, results[0].Succeeded())
	assert.Equal(t, "done test-writer", results[0].Result.Text)
	assert.GreaterOrEqual(t, results[0].Duration, 10*time.Millisecond)

	assert.Equal(t, StatusError, results[1].Status)
	assert.Equal(t, "provider exploded", results[1].Error)
	assert.Nil(t, results[1].Result)

	assert.Equal(t, StatusError, results[2].Status)
	assert.Contains(t, results[2].Error, "panicked")
}

func TestExecuteParallel_RunsConcurrently(t *testing.T) {
	started := make(chan struct{}, 3)
	gate := make(chan struct{})
	exec := execFunc(func(ctx context.Context, req Request) (Result, error) {
		started <- struct{}{}
		<-gate
		return Result{Text: req.Agent}, nil
	})

	done := make(chan []ParallelResult)
	go func() {
		done <- ExecuteParallel(context.Background(), exec, []Request{{Agent: "a"}, {Agent: "b"}, {Agent: "c"}})
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("tasks did not start together")
		}
	}
	close(gate)
	results := <-done
	for _, r := range results {
		assert.True(t, r.Succeeded())
	}
}

func TestExecuteParallel_CancelledContextSettles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := execFunc(func(ctx context.Context, req Request) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})

	results := ExecuteParallel(ctx, exec, []Request{{Agent: "a"}, {Agent: "b"}})
	for _, r := range results {
		assert.Equal(t, StatusError, r.Status)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestExecuteParallel_WithRunner(t *testing.T) {
	p := FuncProvider{ProviderName: "p", Fn: func(_ context.Context, req Request) (Result, error) {
		if req.Agent == "bad" {
			return Result{}, &ProviderError{Kind: KindOther, Msg: "nope"}
		}
		return Result{Text: req.Task}, nil
	}}
	r, err := NewRunner(p, fastConfig())
	require.NoError(t, err)

	results := ExecuteParallel(context.Background(), r, []Request{{Agent: "good", Task: "t"}, {Agent: "bad"}})
	assert.True(t, results[0].Succeeded())
	assert.Equal(t, "t", results[0].Result.Text)
	var execErr *ExecutionError
	assert.ErrorAs(t, results[1].Err, &execErr)
}

func TestCommandProvider(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	p := &CommandProvider{
		Command: "sh",
		Args:    []string{"-c", `cat; echo; echo '{"type":"result","result":"all done","num_turns":2,"total_cost_usd":0.25}'`},
	}
	events, err := p.Stream(context.Background(), Request{Agent: "a", Task: "hello"})
	require.NoError(t, err)

	res, err := Collect(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, "all done", res.Text)
	assert.Equal(t, 2, res.Turns)
	assert.Equal(t, 0.25, res.CostUSD)
}

func TestCommandProvider_ExitFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	p := &CommandProvider{Command: "sh", Args: []string{"-c", "echo 'API error 529 overloaded' >&2; exit 1"}}
	events, err := p.Stream(context.Background(), Request{Agent: "a"})
	require.NoError(t, err)

	_, err = Collect(context.Background(), events)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestCommandProvider_OversizedLine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	prev := maxLineBytes
	maxLineBytes = 1024
	t.Cleanup(func() { maxLineBytes = prev })

	p := &CommandProvider{Command: "sh", Args: []string{"-c", "cat >/dev/null; printf '%02000d\\n' 0; exec sleep 30"}}
	events, err := p.Stream(context.Background(), Request{Agent: "a"})
	require.NoError(t, err)

	start := time.Now()
	_, err = Collect(context.Background(), events)
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindOther, pe.Kind)
	assert.ErrorIs(t, err, bufio.ErrTooLong)
	assert.False(t, IsTransient(err))
	assert.Less(t, time.Since(start), 20*time.Second)
}

func TestClassifyMessage(t *testing.T) {
	assert.Equal(t, KindRateLimited, classifyMessage("429 Too Many Requests"))
	assert.Equal(t, KindConnectionReset, classifyMessage("read: connection reset by peer"))
	assert.Equal(t, KindTimeout, classifyMessage("request timed out"))
	assert.Equal(t, KindOther, classifyMessage("invalid api key"))
}
