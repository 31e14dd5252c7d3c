package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandProvider runs an external agent CLI per request. The prompt is
// written to stdin and each stdout line becomes a text event. A stdout line
// holding a JSON object with a "type":"result" field is taken as the final
// result.
type CommandProvider struct {
	Command string
	Args    []string
	Env     []string
}

// Name implements Provider.
func (p *CommandProvider) Name() string {
	return "command:" + p.Command
}

// maxLineBytes caps a single stdout line from the agent.
var maxLineBytes = 8 * 1024 * 1024

type resultLine struct {
	Type    string  `json:"type"`
	Result  string  `json:"result"`
	CostUSD float64 `json:"total_cost_usd"`
	Turns   int     `json:"num_turns"`
	IsError bool    `json:"is_error"`
}

// Stream implements Provider.
func (p *CommandProvider) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if p.Command == "" {
		return nil, ErrNoProvider
	}
	args := append([]string{}, p.Args...)
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprint(req.MaxTurns))
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(req.AllowedTools, ","))
	}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}

	cmd := exec.CommandContext(ctx, p.Command, args...)
	cmd.Dir = req.Cwd
	if len(p.Env) > 0 {
		cmd.Env = append(cmd.Environ(), p.Env...)
	}
	cmd.Stdin = strings.NewReader(req.Task)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, &ProviderError{Kind: KindOther, Msg: "starting agent command", Err: err}
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		var final *Result
		var failed *ProviderError
		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, min(64*1024, maxLineBytes)), maxLineBytes)
		for sc.Scan() {
			line := sc.Text()
			var rl resultLine
			if strings.HasPrefix(strings.TrimSpace(line), "{") && json.Unmarshal([]byte(line), &rl) == nil && rl.Type == "result" {
				if rl.IsError {
					failed = &ProviderError{Kind: classifyMessage(rl.Result), Msg: rl.Result}
					continue
				}
				final = &Result{Text: rl.Result, CostUSD: rl.CostUSD, Turns: rl.Turns}
				continue
			}
			if !send(Event{Type: EventText, Text: line + "\n"}) {
				_ = cmd.Wait()
				return
			}
		}
		if err := sc.Err(); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			send(Event{Type: EventError, Err: &ProviderError{Kind: KindOther, Msg: "reading agent output", Err: err}})
			return
		}

		if err := cmd.Wait(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			kind := classifyMessage(msg)
			var exitErr *exec.ExitError
			if ctx.Err() != nil {
				send(Event{Type: EventError, Err: ctx.Err()})
				return
			}
			if !errors.As(err, &exitErr) {
				kind = KindOther
			}
			send(Event{Type: EventError, Err: &ProviderError{Kind: kind, Msg: msg, Err: err}})
			return
		}
		if failed != nil {
			send(Event{Type: EventError, Err: failed})
			return
		}
		send(Event{Type: EventResult, Result: final})
	}()
	return events, nil
}

// classifyMessage guesses a failure kind from provider output.
func classifyMessage(msg string) ErrorKind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "rate limit") || strings.Contains(m, "429"):
		return KindRateLimited
	case strings.Contains(m, "overloaded") || strings.Contains(m, "500") || strings.Contains(m, "502") ||
		strings.Contains(m, "503") || strings.Contains(m, "529"):
		return KindServerError
	case strings.Contains(m, "econnreset") || strings.Contains(m, "connection reset"):
		return KindConnectionReset
	case strings.Contains(m, "timeout") || strings.Contains(m, "timed out"):
		return KindTimeout
	}
	return KindOther
}
