package syncache

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk shape of a strategy rules document:
//
//	fallback: network_first
//	rules:
//	  - prefix: /assets/
//	    strategy: cache_first
//	  - prefix: /session
//	    strategy: stale_while_revalidate
//	  - prefix: /jobs
//	    strategy: network_first
type rulesFile struct {
	Fallback string `yaml:"fallback"`
	Rules    []struct {
		Prefix   string `yaml:"prefix"`
		Strategy string `yaml:"strategy"`
		FreshFor string `yaml:"fresh_for"`
	} `yaml:"rules"`
}

// RulesFromYAML reads a rules document. Strategy names follow
// ParseStrategy; fresh_for accepts time.ParseDuration strings.
func RulesFromYAML(r io.Reader) (*Rules, error) {
	var doc rulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("syncache: decode rules: %w", err)
	}

	fallback, err := ParseStrategy(doc.Fallback)
	if err != nil {
		return nil, fmt.Errorf("syncache: rules fallback: %w", err)
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for i, rr := range doc.Rules {
		strat, err := ParseStrategy(rr.Strategy)
		if err != nil {
			return nil, fmt.Errorf("syncache: rule %d (%q): %w", i, rr.Prefix, err)
		}
		var fresh time.Duration
		if rr.FreshFor != "" {
			fresh, err = time.ParseDuration(rr.FreshFor)
			if err != nil {
				return nil, fmt.Errorf("syncache: rule %d (%q): fresh_for: %w", i, rr.Prefix, err)
			}
		}
		rules = append(rules, Rule{Prefix: rr.Prefix, Strategy: strat, FreshFor: fresh})
	}
	return NewRules(fallback, rules...)
}

// RulesFromFile is RulesFromYAML over a file path.
func RulesFromFile(path string) (*Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("syncache: open rules file: %w", err)
	}
	defer f.Close()
	return RulesFromYAML(f)
}
