package walker

// Matcher decides whether a relative path is eligible for a profile,
// per spec.md §4.2: "inclusion is default; exclusion wins on
// conflict." Grounded on the original Rust implementation's
// include_matcher/exclude_matcher combination
// (original_source/cuba-lib/src/core/backup.rs): included defaults to
// true and is only overridden by a match against the include set;
// excluded defaults to false and is set by a match against the
// exclude set; final eligibility is included && !excluded. This is an
// OR-across-patterns-per-set combination, not bamsammich-beam's
// internal/filter.Chain ordered first-match-wins Rule list — beam's
// regex-conversion engine (pattern.go, adapted in this package) is
// reused, but not its combining rule.
type Matcher struct {
	includes []*compiledPattern
	excludes []*compiledPattern
}

// NewMatcher compiles includes and excludes glob sets.
func NewMatcher(includes, excludes []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range includes {
		cp, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		m.includes = append(m.includes, cp)
	}
	for _, p := range excludes {
		cp, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		m.excludes = append(m.excludes, cp)
	}
	return m, nil
}

// Match reports whether relPath is eligible: included defaults to
// true when no include patterns are configured, becomes conditional
// on matching at least one include pattern once any are configured,
// and is always overridden to false by a match against any exclude
// pattern.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	included := true
	if len(m.includes) > 0 {
		included = false
		for _, p := range m.includes {
			if p.match(relPath, isDir) {
				included = true
				break
			}
		}
	}

	excluded := false
	for _, p := range m.excludes {
		if p.match(relPath, isDir) {
			excluded = true
			break
		}
	}

	return included && !excluded
}
