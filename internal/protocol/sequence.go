package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/prodline/prodline/internal/model"
)

// RunSequence executes one command sequence over the session. Each command
// gets its own timeout and retry budget; a command failure is recorded, not
// fatal to the sequence. A cancelled context aborts the remaining commands,
// recording them as failed, so callers still get a complete aggregate.
func RunSequence(ctx context.Context, s Session, seq model.CommandSequence) model.SequenceResult {
	started := time.Now()
	result := model.SequenceResult{
		Results: make([]model.CommandResult, 0, len(seq)),
		Total:   len(seq),
	}

	for _, cmd := range seq {
		if err := ctx.Err(); err != nil {
			result.Results = append(result.Results, model.CommandResult{
				Send: cmd.Send,
				Err:  err,
			})
			continue
		}

		cr := runCommand(ctx, s, cmd)
		if cr.Success {
			result.Succeeded++
		} else {
			slog.DebugContext(ctx, "command failed",
				"send", cmd.Send,
				"response", cr.Response,
				"attempts", cr.Attempts,
				"critical", cr.Critical,
				"error", cr.Err,
			)
		}
		if cr.Critical {
			result.Critical = true
		}
		result.Results = append(result.Results, cr)
	}

	result.Duration = time.Since(started)
	return result
}

func runCommand(ctx context.Context, s Session, cmd model.Command) model.CommandResult {
	started := time.Now()
	result := model.CommandResult{Send: cmd.Send}

	var expect *regexp.Regexp
	if cmd.Expect != "" {
		var err error
		expect, err = regexp.Compile(cmd.Expect)
		if err != nil {
			result.Err = fmt.Errorf("invalid expect pattern %q: %w", cmd.Expect, err)
			result.Critical = cmd.Critical
			result.Duration = time.Since(started)
			return result
		}
	}

	for attempt := 0; attempt <= cmd.Retries; attempt++ {
		result.Attempts = attempt + 1

		response, err := s.Exchange(ctx, cmd.Send, cmd.Timeout)
		result.Response = response
		result.Err = err
		if err == nil && (expect == nil || expect.MatchString(response)) {
			result.Success = true
			break
		}
		if err == nil {
			result.Err = fmt.Errorf("response %q does not match %q", response, cmd.Expect)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if !result.Success && cmd.Critical {
		result.Critical = true
	}
	result.Duration = time.Since(started)
	return result
}
