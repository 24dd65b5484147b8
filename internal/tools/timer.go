package tools

import (
	"context"
	"math"
	"strconv"
	"time"

	"toolsandbox/internal/toolerr"
)

// MaxTimerSeconds bounds the timer tool.
const MaxTimerSeconds = 5

// TimerTool waits for a short duration. The wait is a timer raced against
// the context, so cancellation returns immediately.
type TimerTool struct{}

func NewTimerTool() *TimerTool { return &TimerTool{} }

func (t *TimerTool) Name() string { return "timer" }

func (t *TimerTool) Description() string {
	return "Wait for the given number of seconds (at most 5) before returning."
}

func (t *TimerTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"seconds": map[string]any{"type": "number", "minimum": 0, "maximum": MaxTimerSeconds},
	}, "seconds")
}

type timerInput struct {
	Seconds *float64 `mapstructure:"seconds"`
}

func (t *TimerTool) Execute(ctx context.Context, args map[string]any) (Output, error) {
	var in timerInput
	if err := decodeArgs(args, &in); err != nil {
		return Output{}, err
	}
	if in.Seconds == nil {
		return Output{}, toolerr.Validation("seconds is required")
	}
	seconds := *in.Seconds
	if seconds < 0 || seconds > MaxTimerSeconds || math.IsNaN(seconds) {
		return Output{}, toolerr.Validation("seconds must be between 0 and %d", MaxTimerSeconds)
	}
	d := time.Duration(seconds * float64(time.Second))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return Output{Text: "waited " + strconv.FormatFloat(seconds, 'f', -1, 64) + "s"}, nil
	case <-ctx.Done():
		return Output{}, toolerr.Timeout("timer cancelled")
	}
}
