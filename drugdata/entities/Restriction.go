package entities

import "sort"

// RestrictionAliasSet holds normalized product and ingredient names that are
// restricted by policy
type RestrictionAliasSet map[string]struct{}

func (s RestrictionAliasSet) Add(name string) {
	if name != "" {
		s[name] = struct{}{}
	}
}

func (s RestrictionAliasSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// ScheduleIndex maps a drug code to its normalized schedule names. Each name
// keeps the first source spelling seen for it.
type ScheduleIndex map[string]map[string]string

// Names returns the normalized schedule names of code, or nil
func (s ScheduleIndex) Names(code string) []string {
	set := s[code]
	if len(set) == 0 {
		return nil
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Labels returns the source spellings of the schedule names of code, in the
// order of Names
func (s ScheduleIndex) Labels(code string) []string {
	names := s.Names(code)
	if names == nil {
		return nil
	}
	labels := make([]string, len(names))
	for i, name := range names {
		labels[i] = s[code][name]
	}
	return labels
}
