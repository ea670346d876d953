package markers

import (
	"fmt"
	"regexp"

	"github.com/supporttools/restime/pkg/types"
)

// literal builds a regex matching phrase exactly.
func literal(phrase string) string {
	return regexp.QuoteMeta(phrase)
}

// DefaultRestartPatterns are the database log phrases that delimit a restart,
// in priority order.
var DefaultRestartPatterns = []Pattern{
	{Name: "force-restart", Kind: TriggerWarmForcedCold, Regex: literal("#Force a TPA restart.")},
	{Name: "tpa-start", Kind: TriggerDown, Regex: literal(`#TPA START: "recond -S"`)},
	{Name: "restart-reason", Kind: ReasonLine, Regex: `Restart reason is:\s*(?P<reason>[\w\s]*)`},
	{Name: "reset-start", Kind: PhaseForce, Regex: literal(`#RESET START: "recond -L"`)},
	{Name: "logons-enabled", Kind: CompletionUp, Regex: literal("Logons are enabled")},
	{Name: "pde-down", Kind: CompletionDown, Regex: literal("PDE state: DOWN/HARDSTOP")},
}

// DefaultArrayPatterns are the storage array event phrases for reconstruction
// and copyback, in priority order.
var DefaultArrayPatterns = []Pattern{
	{Name: "reconstruct-started", Kind: ReconstructStart, Regex: literal("Vdisk reconstruction started.")},
	{Name: "reconstruct-completed", Kind: ReconstructComplete, Regex: literal("Reconstruction of a vdisk completed.")},
	{Name: "copyback-started", Kind: CopybackStart, Regex: literal("A disk copyback operation started. The indicated disk is the destination disk.")},
	{Name: "copyback-completed", Kind: CopybackComplete, Regex: literal("A disk copyback operation completed. (")},
}

// GetDefaultPatterns returns a copy of the given default table.
func GetDefaultPatterns(defaults []Pattern) []Pattern {
	patterns := make([]Pattern, len(defaults))
	copy(patterns, defaults)
	return patterns
}

// MergeWithDefaults applies configured overrides to defaults. An override
// whose name matches a default replaces that default's regex in place, so
// table priority is kept. Any other override is appended and must name its kind.
func MergeWithDefaults(defaults []Pattern, overrides []types.MarkerConfig) ([]Pattern, error) {
	merged := GetDefaultPatterns(defaults)

	index := make(map[string]int, len(merged))
	for i, p := range merged {
		index[p.Name] = i
	}

	for _, o := range overrides {
		var kind Kind
		if o.Kind != "" {
			k, err := ParseKind(o.Kind)
			if err != nil {
				return nil, fmt.Errorf("marker %q: %w", o.Name, err)
			}
			kind = k
		}

		if i, ok := index[o.Name]; ok {
			merged[i].Regex = o.Regex
			if kind != None {
				merged[i].Kind = kind
			}
			continue
		}

		if kind == None {
			return nil, fmt.Errorf("marker %q: kind is required for a new pattern", o.Name)
		}
		index[o.Name] = len(merged)
		merged = append(merged, Pattern{Name: o.Name, Kind: kind, Regex: o.Regex})
	}

	return merged, nil
}

// RestartTable compiles the restart marker table with overrides applied.
func RestartTable(overrides []types.MarkerConfig) (*Table, error) {
	return buildTable(DefaultRestartPatterns, overrides, isRestartKind)
}

// ArrayTable compiles the storage array marker table with overrides applied.
func ArrayTable(overrides []types.MarkerConfig) (*Table, error) {
	return buildTable(DefaultArrayPatterns, overrides, isArrayKind)
}

func buildTable(defaults []Pattern, overrides []types.MarkerConfig, belongs func(Kind) bool) (*Table, error) {
	names := make(map[string]bool, len(defaults))
	for _, p := range defaults {
		names[p.Name] = true
	}

	var own []types.MarkerConfig
	for _, o := range overrides {
		if names[o.Name] {
			own = append(own, o)
			continue
		}
		if k, err := ParseKind(o.Kind); err == nil && belongs(k) {
			own = append(own, o)
		}
	}

	patterns, err := MergeWithDefaults(defaults, own)
	if err != nil {
		return nil, err
	}
	return NewTable(patterns)
}

func isRestartKind(k Kind) bool {
	return k >= TriggerWarmForcedCold && k <= CompletionDown
}

func isArrayKind(k Kind) bool {
	return k >= ReconstructStart && k <= CopybackComplete
}

// CheckOverrides reports overrides that neither table would use: a new name
// without a known kind.
func CheckOverrides(overrides []types.MarkerConfig) error {
	known := make(map[string]bool)
	for _, p := range DefaultRestartPatterns {
		known[p.Name] = true
	}
	for _, p := range DefaultArrayPatterns {
		known[p.Name] = true
	}

	for _, o := range overrides {
		if known[o.Name] {
			continue
		}
		if _, err := ParseKind(o.Kind); err != nil {
			return fmt.Errorf("marker %q: %w", o.Name, err)
		}
	}
	return nil
}
