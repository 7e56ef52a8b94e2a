package syncache

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// StrategyKind selects how a resource class resolves reads. Assigned per
// class at registration time, never changed at runtime.
type StrategyKind uint8

const (
	// CacheFirst serves the cached entry when present (and fresh, if the
	// rule sets FreshFor); the network is only consulted on a miss.
	// Suited to static assets.
	CacheFirst StrategyKind = iota + 1
	// NetworkFirst attempts the network within a bounded timeout and
	// falls back to any cached entry. Suited to mutable list/detail
	// endpoints.
	NetworkFirst
	// StaleWhileRevalidate returns the cached entry immediately and
	// refreshes it in the background for subsequent callers. Suited to
	// identity/session endpoints.
	StaleWhileRevalidate
)

func (s StrategyKind) valid() bool {
	return s >= CacheFirst && s <= StaleWhileRevalidate
}

func (s StrategyKind) String() string {
	switch s {
	case CacheFirst:
		return "cache_first"
	case NetworkFirst:
		return "network_first"
	case StaleWhileRevalidate:
		return "stale_while_revalidate"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a rule-file name to its StrategyKind.
func ParseStrategy(s string) (StrategyKind, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "cache_first", "cache-first":
		return CacheFirst, nil
	case "network_first", "network-first":
		return NetworkFirst, nil
	case "stale_while_revalidate", "stale-while-revalidate", "swr":
		return StaleWhileRevalidate, nil
	default:
		return 0, fmt.Errorf("syncache: unknown strategy %q", s)
	}
}

// Rule binds a resource-class key prefix to a strategy.
type Rule struct {
	Prefix   string
	Strategy StrategyKind

	// FreshFor bounds how long a CacheFirst entry counts as fresh.
	// Zero means fresh for the whole generation. Ignored by the other
	// strategies (NetworkFirst falls back to any age,
	// StaleWhileRevalidate serves any age by design).
	FreshFor time.Duration
}

// Rules is the router's static configuration: longest-prefix match over
// normalized keys with a fallback strategy. Immutable after construction.
type Rules struct {
	rules    []Rule // sorted by prefix length, longest first
	fallback StrategyKind
}

func NewRules(fallback StrategyKind, rules ...Rule) (*Rules, error) {
	if !fallback.valid() {
		return nil, fmt.Errorf("syncache: invalid fallback strategy %d", fallback)
	}
	rs := make([]Rule, len(rules))
	copy(rs, rules)
	for i, r := range rs {
		if r.Prefix == "" {
			return nil, fmt.Errorf("syncache: rule %d: empty prefix", i)
		}
		if !r.Strategy.valid() {
			return nil, fmt.Errorf("syncache: rule %d (%q): invalid strategy", i, r.Prefix)
		}
		if r.FreshFor < 0 {
			return nil, fmt.Errorf("syncache: rule %d (%q): negative FreshFor", i, r.Prefix)
		}
	}
	sort.SliceStable(rs, func(i, j int) bool { return len(rs[i].Prefix) > len(rs[j].Prefix) })
	return &Rules{rules: rs, fallback: fallback}, nil
}

// resolve returns the strategy and freshness window for a normalized key.
func (r *Rules) resolve(key string) (StrategyKind, time.Duration) {
	for _, rule := range r.rules {
		if strings.HasPrefix(key, rule.Prefix) {
			return rule.Strategy, rule.FreshFor
		}
	}
	return r.fallback, 0
}
