package policy

import "path/filepath"

// RuleSource is a strategy contributing rules to policy resolution,
// per spec.md §9's "Dynamic rule discovery" redesign note: local
// file parsing and directory-service queries are both RuleSource
// implementations behind one ordered-fallback interface.
type RuleSource interface {
	Name() string
	// Rules returns every rule this source can contribute for user.
	// A source that cannot answer (e.g. socket unreachable) returns
	// an empty slice and a non-nil error; the Resolver treats that as
	// "this source contributed nothing," not a fatal failure.
	Rules(user string) ([]Rule, error)
}

// Resolver aggregates rules from an ordered list of RuleSources into
// the effective policy for a user, per spec.md §3: "a user's
// effective policy is the ordered union of locally parsed rules and
// directory-service rules."
type Resolver struct {
	sources []RuleSource
	// IsMember resolves "%group" principal entries; nil means no
	// group membership ever matches (safe default).
	IsMember func(user, group string) bool
}

// NewResolver builds a Resolver over sources, consulted in the order
// given when aggregating.
func NewResolver(sources ...RuleSource) *Resolver {
	return &Resolver{sources: sources}
}

// Check evaluates (user, host, runas, argv) against the union of all
// sources' rules and returns the first matching rule's decision.
// Matching order follows source declaration order, then rule order
// within each source — this is what makes Policy monotonicity
// (spec.md §8 property 1) hold: appending a rule can only add a match,
// never remove an earlier one, and removing a rule can only remove a
// match, never fabricate one.
func (r *Resolver) Check(user, host, runas string, argv []string) Result {
	if len(argv) == 0 {
		return Result{Decision: NotFound}
	}
	for _, src := range r.sources {
		rules, err := src.Rules(user)
		if err != nil {
			continue
		}
		for i := range rules {
			rule := &rules[i]
			if r.ruleMatches(rule, user, host, runas, argv) {
				return Result{
					Decision:     Allow,
					RequiresAuth: !rule.NOPASSWD,
					MatchedRule:  rule,
				}
			}
		}
	}
	return Result{Decision: NotFound}
}

// ListRules returns the full aggregated rule set for user, across all
// sources in order, for the `-l`/`rules` surface.
func (r *Resolver) ListRules(user string) []Rule {
	var all []Rule
	for _, src := range r.sources {
		rules, err := src.Rules(user)
		if err != nil {
			continue
		}
		all = append(all, rules...)
	}
	return all
}

func (r *Resolver) ruleMatches(rule *Rule, user, host, runas string, argv []string) bool {
	if !r.matchesPrincipal(rule.Users, user) {
		return false
	}
	if !matchesExact(rule.Hosts, host) {
		return false
	}
	if !r.matchesPrincipal(rule.RunasUsers, runas) {
		return false
	}
	return matchesCommand(rule.Commands, argv)
}

// matchesPrincipal compares a user/runas-user entry list; entries
// prefixed with "%" denote a group reference resolved via the
// Resolver's IsMember callback (spec.md §4.2: "group matches prefixed
// with %").
func (r *Resolver) matchesPrincipal(entries []string, name string) bool {
	for _, e := range entries {
		if e == "ALL" || e == name {
			return true
		}
		if group, ok := groupName(e); ok && r.IsMember != nil && r.IsMember(name, group) {
			return true
		}
	}
	return false
}

func groupName(entry string) (string, bool) {
	if len(entry) > 1 && entry[0] == '%' {
		return entry[1:], true
	}
	return "", false
}

func matchesExact(entries []string, name string) bool {
	for _, e := range entries {
		if e == "ALL" || e == name {
			return true
		}
	}
	return false
}

func matchesCommand(entries []string, argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	for _, e := range entries {
		if e == "ALL" {
			return true
		}
		pattern := e
		if idx := indexArgSplit(e); idx >= 0 {
			pattern = e[:idx]
		}
		ok, err := filepath.Match(pattern, argv[0])
		if err == nil && ok {
			return true
		}
		if pattern == argv[0] {
			return true
		}
	}
	return false
}

// indexArgSplit finds the first whitespace separating a command path
// from its required argument pattern in a Cmnd entry (e.g.
// "/usr/bin/systemctl restart *"); returns -1 if there is none.
func indexArgSplit(cmd string) int {
	for i, r := range cmd {
		if r == ' ' || r == '\t' {
			return i
		}
	}
	return -1
}
