// Package markers classifies log lines against an ordered table of literal
// marker phrases. The table is data: each entry pairs a regular expression
// with the kind of marker it signals, and the first entry that matches wins.
package markers

import (
	"fmt"
	"regexp"
	"strings"
)

const maxRegexLength = 1000

// Kind identifies what a matched log line signals.
type Kind int

const (
	// None means no marker matched.
	None Kind = iota

	// TriggerWarmForcedCold starts a warm, forced or cold restart.
	TriggerWarmForcedCold

	// TriggerDown starts the system after a force-down.
	TriggerDown

	// ReasonLine states why a triggered restart is happening.
	ReasonLine

	// PhaseForce appears only during a forced reset phase.
	PhaseForce

	// CompletionUp means the system is serving logons again.
	CompletionUp

	// CompletionDown means the system has halted.
	CompletionDown

	// ReconstructStart marks a vdisk reconstruction starting.
	ReconstructStart

	// ReconstructComplete marks a vdisk reconstruction finishing.
	ReconstructComplete

	// CopybackStart marks a disk copyback starting on its destination disk.
	CopybackStart

	// CopybackComplete marks a disk copyback finishing.
	CopybackComplete
)

var kindNames = map[Kind]string{
	None:                  "none",
	TriggerWarmForcedCold: "trigger",
	TriggerDown:           "trigger-down",
	ReasonLine:            "reason",
	PhaseForce:            "phase-force",
	CompletionUp:          "completion-up",
	CompletionDown:        "completion-down",
	ReconstructStart:      "reconstruct-start",
	ReconstructComplete:   "reconstruct-complete",
	CopybackStart:         "copyback-start",
	CopybackComplete:      "copyback-complete",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a configuration name such as "completion-up" to a Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s && k != None {
			return k, nil
		}
	}
	return None, fmt.Errorf("unknown marker kind %q", s)
}

// Pattern is one entry of a marker table.
type Pattern struct {
	Name  string
	Kind  Kind
	Regex string

	compiled *regexp.Regexp
}

// Match is the result of classifying one line.
type Match struct {
	Kind    Kind
	Pattern string

	// Groups holds the named capture groups of the matching pattern.
	Groups map[string]string
}

// Group returns a named capture group, or "" if the pattern has none by that name.
func (m Match) Group(name string) string {
	return m.Groups[name]
}

// Table is an ordered, compiled set of marker patterns. It is safe for
// concurrent use once built.
type Table struct {
	patterns []Pattern
}

// NewTable compiles patterns in order. Every pattern needs a name, a kind
// and a regex that passes the safety checks.
func NewTable(patterns []Pattern) (*Table, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("marker table needs at least one pattern")
	}

	seen := make(map[string]bool, len(patterns))
	compiled := make([]Pattern, 0, len(patterns))
	for i, p := range patterns {
		if p.Name == "" {
			return nil, fmt.Errorf("pattern %d: name is required", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate pattern name %q", p.Name)
		}
		seen[p.Name] = true

		if p.Kind == None {
			return nil, fmt.Errorf("pattern %q: kind is required", p.Name)
		}
		if err := validateRegexSafety(p.Regex); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p.Name, err)
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: invalid regex: %w", p.Name, err)
		}
		if p.Kind == ReasonLine && re.SubexpIndex("reason") < 0 {
			return nil, fmt.Errorf("pattern %q: reason patterns need a (?P<reason>...) group", p.Name)
		}
		p.compiled = re
		compiled = append(compiled, p)
	}

	return &Table{patterns: compiled}, nil
}

// MustTable is like NewTable but panics on error. It is meant for the built-in tables.
func MustTable(patterns []Pattern) *Table {
	t, err := NewTable(patterns)
	if err != nil {
		panic(err)
	}
	return t
}

// Match returns the first pattern in table order that matches line.
func (t *Table) Match(line string) (Match, bool) {
	for i := range t.patterns {
		p := &t.patterns[i]
		sub := p.compiled.FindStringSubmatch(line)
		if sub == nil {
			continue
		}
		m := Match{Kind: p.Kind, Pattern: p.Name}
		for j, name := range p.compiled.SubexpNames() {
			if name == "" || j >= len(sub) {
				continue
			}
			if m.Groups == nil {
				m.Groups = make(map[string]string)
			}
			m.Groups[name] = sub[j]
		}
		return m, true
	}
	return Match{Kind: None}, false
}

// Patterns returns a copy of the table's patterns in order.
func (t *Table) Patterns() []Pattern {
	out := make([]Pattern, len(t.patterns))
	copy(out, t.patterns)
	return out
}

// Len returns the number of patterns.
func (t *Table) Len() int {
	return len(t.patterns)
}

// validateRegexSafety rejects overly long patterns and nested quantifiers.
func validateRegexSafety(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("regex is required")
	}
	if len(pattern) > maxRegexLength {
		return fmt.Errorf("regex pattern exceeds maximum length of %d characters", maxRegexLength)
	}

	dangerousPatterns := []string{
		`\(\.\*\)\+`,    // (.*)+
		`\(\.\+\)\+`,    // (.+)+
		`\(\.\*\)\*`,    // (.*)*
		`\(\.\+\)\*`,    // (.+)*
		`\([^)]*\+\)\+`, // (x+)+
		`\([^)]*\*\)\+`, // (x*)+
	}
	for _, dangerous := range dangerousPatterns {
		if matched, _ := regexp.MatchString(dangerous, pattern); matched {
			return fmt.Errorf("regex pattern contains nested quantifiers that could backtrack badly")
		}
	}
	return nil
}
