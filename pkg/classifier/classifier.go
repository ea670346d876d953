// Package classifier turns a sequence of matched log markers into restart
// records. It is a small state machine:
//
//	Idle -> AwaitingReason -> AwaitingCompletion -> Idle
//
// A down restart skips AwaitingReason.
package classifier

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/supporttools/restime/pkg/markers"
	"github.com/supporttools/restime/pkg/types"
)

var (
	// ErrReasonNotFound means a restart trigger was never followed by its reason line.
	ErrReasonNotFound = errors.New("restart reason not found")

	// ErrCompletionNotFound means a restart never reached its completion marker.
	ErrCompletionNotFound = errors.New("end of restart not found")

	// ErrOverlappingTrigger means a second trigger arrived before the first restart completed.
	ErrOverlappingTrigger = errors.New("restart triggered again before completion")
)

// State is the position of the classifier within one restart.
type State int

const (
	Idle State = iota
	AwaitingReason
	AwaitingCompletion
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingReason:
		return "awaiting-reason"
	case AwaitingCompletion:
		return "awaiting-completion"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Classifier tracks one restart at a time. It is not safe for concurrent use.
type Classifier struct {
	coldReason string

	state State
	kind  types.RestartKind
	start time.Time
}

// New returns an idle classifier. A reason equal to coldReason marks a cold restart.
func New(coldReason string) *Classifier {
	if coldReason == "" {
		coldReason = types.DefaultColdReason
	}
	return &Classifier{coldReason: strings.TrimSpace(coldReason)}
}

// State returns the current state.
func (c *Classifier) State() State {
	return c.state
}

// Pending reports whether a restart has started but not completed.
func (c *Classifier) Pending() bool {
	return c.state != Idle
}

// Started returns the start time of the restart in progress.
func (c *Classifier) Started() (time.Time, bool) {
	if c.state == Idle {
		return time.Time{}, false
	}
	return c.start, true
}

// Reset discards any restart in progress.
func (c *Classifier) Reset() {
	c.state = Idle
	c.kind = types.Warm
	c.start = time.Time{}
}

// Step feeds one matched marker stamped with its line's time. It returns a
// record when the marker completes a restart.
func (c *Classifier) Step(m markers.Match, ts time.Time) (*types.RestartRecord, error) {
	switch c.state {
	case Idle:
		switch m.Kind {
		case markers.TriggerWarmForcedCold:
			c.state = AwaitingReason
			c.kind = types.Warm
			c.start = ts
		case markers.TriggerDown:
			c.state = AwaitingCompletion
			c.kind = types.Down
			c.start = ts
		}
		return nil, nil

	case AwaitingReason:
		switch m.Kind {
		case markers.TriggerWarmForcedCold, markers.TriggerDown:
			return nil, c.overlap(ts)
		case markers.ReasonLine:
			if strings.TrimSpace(m.Group("reason")) == c.coldReason {
				c.kind = types.Cold
			} else {
				c.kind = types.Warm
			}
			c.state = AwaitingCompletion
		case markers.CompletionUp:
			start := c.start
			c.Reset()
			return nil, fmt.Errorf("restart started %s completed with no reason line: %w",
				start.Format(time.DateTime), ErrReasonNotFound)
		}
		return nil, nil

	case AwaitingCompletion:
		switch m.Kind {
		case markers.TriggerWarmForcedCold, markers.TriggerDown:
			return nil, c.overlap(ts)
		case markers.PhaseForce:
			if c.kind == types.Warm {
				c.kind = types.Forced
			}
		case markers.CompletionUp:
			rec, err := types.NewRestartRecord(c.kind, c.start, ts)
			c.Reset()
			if err != nil {
				return nil, err
			}
			return &rec, nil
		}
		return nil, nil
	}

	return nil, fmt.Errorf("classifier in unknown state %v", c.state)
}

// Finish is called at end of input. It fails if a restart is still open.
func (c *Classifier) Finish() error {
	state, start := c.state, c.start
	c.Reset()

	switch state {
	case AwaitingReason:
		return fmt.Errorf("restart started %s: %w", start.Format(time.DateTime), ErrReasonNotFound)
	case AwaitingCompletion:
		return fmt.Errorf("restart started %s: %w", start.Format(time.DateTime), ErrCompletionNotFound)
	}
	return nil
}

func (c *Classifier) overlap(ts time.Time) error {
	start := c.start
	c.Reset()
	return fmt.Errorf("restart started %s, new trigger at %s: %w",
		start.Format(time.DateTime), ts.Format(time.DateTime), ErrOverlappingTrigger)
}
