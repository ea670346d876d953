package driver

import (
	"context"
	"fmt"
	"regexp"

	"github.com/supporttools/restime/pkg/types"
)

// State is the database state reported by the status command.
type State struct {
	// ProcessUp is set when the parallel database extension is running.
	ProcessUp bool

	// DataUp is set when logons are enabled.
	DataUp bool

	// Halted is set when the database is fully down.
	Halted bool
}

// Up reports whether both the process layer and the data layer are up.
func (s State) Up() bool {
	return s.ProcessUp && s.DataUp
}

func (s State) String() string {
	switch {
	case s.Up():
		return "up"
	case s.Halted:
		return "halted"
	case s.ProcessUp:
		return "starting"
	}
	return "down"
}

// Prober queries the current database state.
type Prober interface {
	Probe(ctx context.Context) (State, error)
}

// commandProber runs the status command and applies regexes to its output.
type commandProber struct {
	runner    CommandRunner
	argv      []string
	processUp *regexp.Regexp
	dataUp    *regexp.Regexp
	halted    *regexp.Regexp
}

// NewCommandProber builds a prober that runs argv through runner.
func NewCommandProber(runner CommandRunner, argv []string, probe types.ProbeConfig) (Prober, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("status command is required")
	}
	probe.ApplyDefaults()

	p := &commandProber{runner: runner, argv: argv}
	for _, c := range []struct {
		name  string
		expr  string
		field **regexp.Regexp
	}{
		{"processUp", probe.ProcessUp, &p.processUp},
		{"dataUp", probe.DataUp, &p.dataUp},
		{"halted", probe.Halted, &p.halted},
	} {
		re, err := regexp.Compile("(?m)" + c.expr)
		if err != nil {
			return nil, fmt.Errorf("invalid %s probe pattern %q: %w", c.name, c.expr, err)
		}
		*c.field = re
	}
	return p, nil
}

func (p *commandProber) Probe(ctx context.Context) (State, error) {
	out, err := p.runner.Run(ctx, p.argv)
	if err != nil {
		return State{}, fmt.Errorf("status probe failed: %w", err)
	}
	return State{
		ProcessUp: p.processUp.MatchString(out),
		DataUp:    p.dataUp.MatchString(out),
		Halted:    p.halted.MatchString(out),
	}, nil
}
