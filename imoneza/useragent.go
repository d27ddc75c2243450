package imoneza

import "strings"

// UserAgentList is the set of user agents that bypass access control.
// Matching is exact, including case.
type UserAgentList map[string]struct{}

// ParseUserAgents splits a newline-separated list. Carriage returns are
// stripped and blank lines ignored; other whitespace is significant.
func ParseUserAgents(raw string) UserAgentList {
	list := make(UserAgentList)

	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r", ""), "\n") {
		if line == "" {
			continue
		}

		list[line] = struct{}{}
	}

	return list
}

// Contains reports whether ua exactly matches an entry. An empty agent
// never matches.
func (l UserAgentList) Contains(ua string) bool {
	if ua == "" {
		return false
	}

	_, ok := l[ua]

	return ok
}
