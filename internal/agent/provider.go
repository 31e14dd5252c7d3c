// Package agent invokes agents through an execution provider with retry,
// rate limiting, per-invocation deadlines, circuit breaking and parallel
// fan-out.
package agent

import (
	"context"
	"strings"
)

// Request is a single agent invocation.
type Request struct {
	Agent        string   `json:"agent"`
	Task         string   `json:"task"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	AllowedTools []string `json:"allowedTools,omitempty"`
	Model        string   `json:"model,omitempty"`
	MaxTurns     int      `json:"maxTurns,omitempty"`
	Cwd          string   `json:"cwd,omitempty"`
}

// Result is the final outcome of a successful invocation.
type Result struct {
	Text    string  `json:"text"`
	CostUSD float64 `json:"costUSD,omitempty"`
	Turns   int     `json:"turns,omitempty"`
}

// EventType tags provider events.
type EventType string

const (
	EventText   EventType = "text"
	EventTool   EventType = "tool"
	EventResult EventType = "result"
	EventError  EventType = "error"
)

// Event is one item of a provider stream. A stream ends with exactly one
// EventResult or EventError.
type Event struct {
	Type   EventType
	Text   string
	Result *Result
	Err    error
}

// Provider runs agents. Implementations must close the channel when done.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

// Collect drains a stream and returns its final result. Text events seen
// before a result without text are used as the result text.
func Collect(ctx context.Context, events <-chan Event) (Result, error) {
	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return Result{}, &ProviderError{Kind: KindOther, Msg: "stream ended without a result"}
			}
			switch ev.Type {
			case EventText:
				text.WriteString(ev.Text)
			case EventResult:
				if ev.Result == nil {
					return Result{Text: text.String()}, nil
				}
				res := *ev.Result
				if res.Text == "" {
					res.Text = text.String()
				}
				return res, nil
			case EventError:
				if ev.Err == nil {
					return Result{}, &ProviderError{Kind: KindOther, Msg: "provider reported an error"}
				}
				return Result{}, ev.Err
			}
		}
	}
}

// FuncProvider adapts a function to Provider, emitting a single result or
// error event.
type FuncProvider struct {
	ProviderName string
	Fn           func(ctx context.Context, req Request) (Result, error)
}

// Name implements Provider.
func (p FuncProvider) Name() string { return p.ProviderName }

// Stream implements Provider.
func (p FuncProvider) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	ch := make(chan Event, 1)
	go func() {
		defer close(ch)
		res, err := p.Fn(ctx, req)
		if err != nil {
			ch <- Event{Type: EventError, Err: err}
			return
		}
		ch <- Event{Type: EventResult, Result: &res}
	}()
	return ch, nil
}
