// Package redact scrubs sensitive material from text destined for the
// audit journal and incident reports. Failure reasons and git error
// output routinely echo tokens, credentials embedded in remote URLs,
// and internal addresses; the scrubber runs before anything is persisted.
package redact

import "sort"

// RedactionConfig controls what the Scrubber redacts.
type RedactionConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RedactIPs      string   `yaml:"redact_ips"` // "private_only" | "all" | "none"
	CustomPatterns []string `yaml:"custom_patterns"`
	Placeholder    string   `yaml:"placeholder"`
}

// DefaultConfig returns a RedactionConfig with sensible defaults.
// Redaction is enabled by default: incident reports are the artifacts
// most likely to be shared outside the team that produced them.
func DefaultConfig() RedactionConfig {
	return RedactionConfig{
		Enabled:     true,
		RedactIPs:   "private_only",
		Placeholder: "[REDACTED]",
	}
}

// Scrubber applies a sorted set of redaction rules to strings.
type Scrubber struct {
	rules       []rule
	placeholder string
}

// New compiles a Scrubber from the given config. If cfg.Enabled is false,
// the returned Scrubber is a passthrough.
func New(cfg RedactionConfig) *Scrubber {
	if !cfg.Enabled {
		return &Scrubber{placeholder: cfg.Placeholder}
	}

	placeholder := cfg.Placeholder
	if placeholder == "" {
		placeholder = "[REDACTED]"
	}

	var rules []rule
	rules = append(rules, builtinRules(placeholder)...)
	rules = append(rules, ipRules(cfg.RedactIPs, placeholder)...)
	rules = append(rules, customRules(cfg.CustomPatterns, placeholder)...)

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].priority < rules[j].priority
	})

	return &Scrubber{
		rules:       rules,
		placeholder: placeholder,
	}
}

// Scrub applies all compiled rules sequentially and returns the result.
func (s *Scrubber) Scrub(input string) string {
	if len(s.rules) == 0 {
		return input
	}

	result := input
	for _, rule := range s.rules {
		if rule.replace != nil {
			result = rule.pattern.ReplaceAllStringFunc(result, rule.replace)
		} else {
			result = rule.pattern.ReplaceAllString(result, s.placeholder)
		}
	}
	return result
}
