package main

import (
	"sort"
	"strconv"
	"strings"
)

// columnKind selects the comparator for a table column.
type columnKind int

const (
	kindLexical  columnKind = iota // case-insensitive string compare
	kindNumeric                    // plain number
	kindMemory                     // number with optional K/M/G/T suffix
	kindDuration                   // slurm elapsed/limit time string
)

// jobColumn describes one jobs-table column: header, comparator kind, and
// the record value it sorts on (which may differ from the rendered cell).
type jobColumn struct {
	Title string
	Kind  columnKind
	Key   func(JobRecord) string
}

type nodeColumn struct {
	Title string
	Kind  columnKind
	Key   func(NodeRecord) string
}

// Column order matches the rendered tables so the number-key shortcuts line
// up with what is on screen.
var jobColumns = []jobColumn{
	{"ID", kindNumeric, func(j JobRecord) string { return j.JobID }},
	{"User", kindLexical, func(j JobRecord) string { return j.User }},
	{"State", kindLexical, func(j JobRecord) string { return j.State }},
	{"Time", kindDuration, func(j JobRecord) string { return j.TimeUsed }},
	{"Name", kindLexical, func(j JobRecord) string { return j.Name }},
	{"GPUs", kindNumeric, func(j JobRecord) string { return j.GPUCount }},
	{"CPUs", kindNumeric, func(j JobRecord) string { return j.CPUCount() }},
	{"Mem", kindMemory, func(j JobRecord) string { return j.Memory() }},
	{"Nodes", kindNumeric, func(j JobRecord) string { return j.NodeCount() }},
	{"Limit", kindDuration, func(j JobRecord) string { return j.TimeLimit }},
	{"Partition", kindLexical, func(j JobRecord) string { return j.Partition }},
	{"Nodelist(Reason)", kindLexical, func(j JobRecord) string { return j.NodeListOrReason() }},
}

var nodeColumns = []nodeColumn{
	{"Node", kindLexical, func(n NodeRecord) string { return n.Name }},
	{"Partition", kindLexical, func(n NodeRecord) string { return n.Partition }},
	{"State", kindLexical, func(n NodeRecord) string { return n.State }},
	{"CPUs", kindNumeric, func(n NodeRecord) string { return n.CPUs }},
	{"Mem", kindNumeric, func(n NodeRecord) string { return n.Memory }},
	{"GPUs", kindNumeric, func(n NodeRecord) string { return n.GPUTotal() }},
	{"Used", kindNumeric, func(n NodeRecord) string { return n.GPUUsed() }},
	{"Free", kindNumeric, func(n NodeRecord) string { return n.GPUAvail() }},
	{"GRES", kindLexical, func(n NodeRecord) string { return n.Gres }},
	{"Avail", kindLexical, func(n NodeRecord) string { return n.Avail }},
}

// sortState tracks the active sort column and direction. Selecting the
// current column again flips the direction; selecting a new column resets
// it to the column's natural default (largest first for quantities).
type sortState struct {
	Column     int // -1 when unsorted
	Descending bool
}

func newSortState() sortState {
	return sortState{Column: -1}
}

func (s *sortState) Select(col int, kind columnKind) {
	if s.Column == col {
		s.Descending = !s.Descending
		return
	}
	s.Column = col
	s.Descending = kind == kindNumeric || kind == kindMemory || kind == kindDuration
}

// memoryMultipliers map a trailing unit letter to KiB-relative scale, the
// convention slurm's mem= values use.
var memoryMultipliers = map[byte]float64{
	'K': 1,
	'M': 1024,
	'G': 1024 * 1024,
	'T': 1024 * 1024 * 1024,
}

// sortValue parses a cell into a comparable number. ok=false marks values
// with no numeric interpretation; those sort after every numeric value
// regardless of direction.
func sortValue(raw string, kind columnKind) (float64, bool) {
	s := strings.TrimSpace(raw)
	switch kind {
	case kindNumeric:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	case kindMemory:
		if s == "" {
			return 0, false
		}
		mult := 1.0
		last := s[len(s)-1]
		if m, ok := memoryMultipliers[last&^0x20]; ok && len(s) > 1 {
			mult = m
			s = s[:len(s)-1]
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return v * mult, true
	case kindDuration:
		secs := parseTimeToSeconds(s)
		if secs == UnknownSeconds {
			return 0, false
		}
		return float64(secs), true
	default:
		return 0, false
	}
}

// lessValues orders two cells under a column kind and direction. Numeric
// values come before non-numeric in both directions; ties and the
// non-numeric group fall back to a case-insensitive lexical compare.
func lessValues(a, b string, kind columnKind, descending bool) bool {
	if kind == kindLexical {
		al, bl := strings.ToLower(a), strings.ToLower(b)
		if descending {
			return al > bl
		}
		return al < bl
	}
	av, aok := sortValue(a, kind)
	bv, bok := sortValue(b, kind)
	switch {
	case aok && bok:
		if av != bv {
			if descending {
				return av > bv
			}
			return av < bv
		}
		return strings.ToLower(a) < strings.ToLower(b)
	case aok:
		return true
	case bok:
		return false
	default:
		return strings.ToLower(a) < strings.ToLower(b)
	}
}

// sortJobs stably sorts jobs in place by the state's active column. A
// column index outside the table is a no-op.
func sortJobs(jobs []JobRecord, s sortState) {
	if s.Column < 0 || s.Column >= len(jobColumns) {
		return
	}
	col := jobColumns[s.Column]
	sort.SliceStable(jobs, func(i, j int) bool {
		return lessValues(col.Key(jobs[i]), col.Key(jobs[j]), col.Kind, s.Descending)
	})
}

func sortNodes(nodes []NodeRecord, s sortState) {
	if s.Column < 0 || s.Column >= len(nodeColumns) {
		return
	}
	col := nodeColumns[s.Column]
	sort.SliceStable(nodes, func(i, j int) bool {
		return lessValues(col.Key(nodes[i]), col.Key(nodes[j]), col.Kind, s.Descending)
	})
}
