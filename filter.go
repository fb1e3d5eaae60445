package main

import "strings"

// Filter holds the active record predicates. Zero values mean "no
// condition"; set conditions are ANDed.
type Filter struct {
	Text      string // free text across every field
	User      string // exact, case-insensitive
	Partition string // substring, case-insensitive
	State     string // substring, case-insensitive
}

// Empty reports whether no condition is set.
func (f Filter) Empty() bool {
	return f.Text == "" && f.User == "" && f.Partition == "" && f.State == ""
}

// ApplyJobs returns the jobs matching every set condition. Predicates run
// cheapest first; the result is independent of evaluation order.
func (f Filter) ApplyJobs(jobs []JobRecord) []JobRecord {
	if f.Empty() {
		return jobs
	}
	out := make([]JobRecord, 0, len(jobs))
	for _, j := range jobs {
		if f.User != "" && !strings.EqualFold(j.User, f.User) {
			continue
		}
		if f.Partition != "" && !containsFold(j.Partition, f.Partition) {
			continue
		}
		if f.State != "" && !containsFold(j.State, f.State) {
			continue
		}
		if f.Text != "" && !matchesAnyField(j.Fields(), f.Text) {
			continue
		}
		out = append(out, j)
	}
	return out
}

// ApplyNodes returns the nodes matching every set condition. The user
// condition never applies to nodes.
func (f Filter) ApplyNodes(nodes []NodeRecord) []NodeRecord {
	if f.Partition == "" && f.State == "" && f.Text == "" {
		return nodes
	}
	out := make([]NodeRecord, 0, len(nodes))
	for _, n := range nodes {
		if f.Partition != "" && !containsFold(n.Partition, f.Partition) {
			continue
		}
		if f.State != "" && !containsFold(n.State, f.State) {
			continue
		}
		if f.Text != "" && !matchesAnyField(n.Fields(), f.Text) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func matchesAnyField(fields []string, text string) bool {
	needle := strings.ToLower(text)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}
