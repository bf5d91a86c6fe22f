package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/veris-ai/veris/internal/llm"
)

// Executor runs a named tool with JSON arguments. *Registry satisfies it;
// tests substitute scripted implementations.
type Executor interface {
	Execute(ctx context.Context, name string, argsJSON string) (string, error)
}

// Default result allowance in tokens when the caller's completion budget
// is unknown.
const defaultResultTokens = 500

// RoundConfig bounds one round of tool execution.
type RoundConfig struct {
	MaxConcurrent  int           // parallel executions (default 4)
	PerToolTimeout time.Duration // deadline per tool call (default 30s)
	MaxTokens      int           // the model's completion budget; sizes the per-result allowance
	Logger         *slog.Logger
}

func (c *RoundConfig) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.PerToolTimeout <= 0 {
		c.PerToolTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result is the outcome of one tool call within a round.
type Result struct {
	ToolCallID string
	Name       string
	Success    bool
	Content    string
	Err        string
	Started    time.Time
	Elapsed    time.Duration
}

// ExecuteRound runs every call in calls against exec, at most
// cfg.MaxConcurrent at a time, each under cfg.PerToolTimeout. A single
// tool's failure or timeout produces a failed Result for that call only;
// sibling calls are unaffected. Results come back in input order
// regardless of completion order, with oversized content truncated to
// the per-result allowance.
func ExecuteRound(ctx context.Context, exec Executor, calls []llm.ToolCall, cfg RoundConfig) []Result {
	cfg.applyDefaults()

	results := make([]Result, len(calls))
	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	var wg sync.WaitGroup

	for i, call := range calls {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting; fail the remaining calls.
			results[i] = Result{
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Err:        err.Error(),
			}
			continue
		}

		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = runOne(ctx, exec, call, cfg)
		}(i, call)
	}
	wg.Wait()

	return results
}

func runOne(ctx context.Context, exec Executor, call llm.ToolCall, cfg RoundConfig) Result {
	toolCtx, cancel := context.WithTimeout(ctx, cfg.PerToolTimeout)
	defer cancel()

	start := time.Now()
	content, err := exec.Execute(toolCtx, call.Function.Name, call.Function.Arguments)
	elapsed := time.Since(start)

	res := Result{ToolCallID: call.ID, Name: call.Function.Name, Started: start, Elapsed: elapsed}
	if err != nil {
		cfg.Logger.Warn("tool call failed",
			"tool", call.Function.Name,
			"elapsed", elapsed,
			"error", err)
		res.Err = err.Error()
		return res
	}

	res.Success = true
	res.Content = truncateResult(content, cfg.MaxTokens)
	cfg.Logger.Debug("tool call complete",
		"tool", call.Function.Name,
		"elapsed", elapsed,
		"result_len", len(res.Content))
	return res
}

// truncateResult caps a tool result so a single oversized result cannot
// blow the next model call's input budget. The allowance is 20% of the
// completion budget, falling back to defaultResultTokens when unknown.
func truncateResult(content string, maxTokens int) string {
	reserved := defaultResultTokens
	if maxTokens > 0 {
		reserved = maxTokens / 5
	}
	if estimateTokens(content) <= reserved {
		return content
	}
	limit := reserved * 2
	if limit > len(content) {
		limit = len(content)
	}
	// Back off to a rune boundary so multibyte content never yields an
	// invalid UTF-8 tool message.
	for limit > 0 && limit < len(content) && !utf8.RuneStart(content[limit]) {
		limit--
	}
	return fmt.Sprintf("%s\n[result truncated: %d of %d characters shown]",
		content[:limit], limit, len(content))
}

// estimateTokens approximates token count from byte length. Exactness is
// not required, only monotonic consistency.
func estimateTokens(s string) int {
	return len(s) / 4
}

// Messages converts round results to tool-role messages, one per result,
// preserving input order. Failed calls become error text so the model can
// recover in the next round.
func Messages(results []Result) []llm.Message {
	msgs := make([]llm.Message, len(results))
	for i, r := range results {
		content := r.Content
		if !r.Success {
			content = "Error: " + r.Err
		}
		msgs[i] = llm.Message{
			Role:       llm.RoleTool,
			Content:    content,
			Name:       r.Name,
			ToolCallID: r.ToolCallID,
		}
	}
	return msgs
}
