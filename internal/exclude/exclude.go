package exclude

import (
	"context"
	"fmt"
	"regexp"

	"github.com/NamanBalaji/duld/internal/logger"
	httpPkg "github.com/NamanBalaji/duld/pkg/http"
)

// RuleSet is an ordered list of compiled exclusion patterns.
type RuleSet []*regexp.Regexp

// dynamicRule is one entry of the list served by the dynamic endpoint.
type dynamicRule struct {
	ID     int    `json:"id"`
	Regexp string `json:"regexp"`
}

// Compile turns patterns into a RuleSet. Each pattern matches case-insensitively
// at the start of a name. Empty patterns and patterns that fail to compile are dropped.
func Compile(patterns []string) RuleSet {
	rules := make(RuleSet, 0, len(patterns))

	for _, p := range patterns {
		if p == "" {
			continue
		}

		re, err := regexp.Compile(`(?i)^(?:` + p + `)`)
		if err != nil {
			logger.Debugf("Dropping invalid exclude pattern %q: %v", p, err)
			continue
		}

		rules = append(rules, re)
	}

	return rules
}

// Match reports whether any rule matches name.
func (rs RuleSet) Match(name string) bool {
	for _, re := range rs {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// ShouldExclude reports whether name is matched by any rule in rules.
func ShouldExclude(name string, rules RuleSet) bool {
	return rules.Match(name)
}

// Filter assembles the rule set of one job from the static patterns and the optional endpoint.
type Filter struct {
	static     RuleSet
	dynamicURL string
	client     *httpPkg.Client
}

// NewFilter creates a Filter. An empty dynamicURL disables the remote list.
func NewFilter(static []string, dynamicURL string, client *httpPkg.Client) *Filter {
	if client == nil {
		client = httpPkg.NewClient()
	}

	return &Filter{
		static:     Compile(static),
		dynamicURL: dynamicURL,
		client:     client,
	}
}

// FetchRules returns the static rules followed by the ones currently served
// by the dynamic endpoint. A failed fetch is returned as an error.
func (f *Filter) FetchRules(ctx context.Context) (RuleSet, error) {
	rules := make(RuleSet, 0, len(f.static))
	rules = append(rules, f.static...)

	if f.dynamicURL == "" {
		return rules, nil
	}

	var payload []dynamicRule
	if err := f.client.GetJSON(ctx, f.dynamicURL, nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch exclude rules from %s: %w", f.dynamicURL, err)
	}

	patterns := make([]string, 0, len(payload))
	for _, r := range payload {
		patterns = append(patterns, r.Regexp)
	}

	return append(rules, Compile(patterns)...), nil
}
