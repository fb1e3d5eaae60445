package main

import (
	"regexp"
	"strconv"
	"strings"
)

// JobRecord is one row of squeue output. Raw fields are never mutated after
// parse; everything displayed on top of them is derived per refresh cycle.
// Enhanced reports which squeue schema produced the record: the fixed-width
// -O format with TRES, or the basic pipe -o fallback (older slurm), which
// carries CPUs/Mem directly instead.
type JobRecord struct {
	JobID     string
	Partition string
	Name      string
	User      string
	State     string
	TRES      string
	TimeUsed  string
	TimeLimit string
	ReqNodes  string
	NodeList  string
	Reason    string

	// Fallback-schema resource columns.
	CPUs string
	Mem  string

	Enhanced bool

	// Enrichment computed by the client from TRES.
	GPUCount string
	GPUType  string
}

// IsActive reports whether the job is in a state worth polling output for.
func (j JobRecord) IsActive() bool {
	state := strings.ToUpper(strings.TrimRight(strings.TrimSpace(j.State), "*+~#"))
	return state == "RUNNING" || state == "PENDING"
}

// CPUCount returns the cpu allocation: extracted from TRES in the enhanced
// schema, taken verbatim from the CPUS column in the fallback schema.
func (j JobRecord) CPUCount() string {
	if j.Enhanced {
		return extractCpusFromTres(j.TRES)
	}
	return j.CPUs
}

// Memory returns the memory allocation analogous to CPUCount.
func (j JobRecord) Memory() string {
	if j.Enhanced {
		return extractMemFromTres(j.TRES)
	}
	return j.Mem
}

// NodeCount counts allocated nodes, treating a pending reason as zero nodes.
func (j JobRecord) NodeCount() string {
	return countNodesFromNodelist(j.NodeList)
}

// NodeListOrReason is the combined display field for the nodelist column.
func (j JobRecord) NodeListOrReason() string {
	return combineNodelistReason(j.NodeList, j.Reason)
}

// Fields returns every raw and derived value for free-text matching.
func (j JobRecord) Fields() []string {
	return []string{
		j.JobID, j.Partition, j.Name, j.User, j.State, j.TRES,
		j.TimeUsed, j.TimeLimit, j.ReqNodes, j.NodeList, j.Reason,
		j.CPUs, j.Mem, j.GPUCount, j.GPUType,
	}
}

// NodeRecord is one sinfo row. A node listed under two partitions appears
// twice; no aggregation happens at parse time.
type NodeRecord struct {
	Name      string
	Partition string
	State     string
	Avail     string
	CPUs      string
	Memory    string // MB, as sinfo reports it

	// Enhanced-format extras; empty under the plain -o fallback.
	AllocMem  string
	Gres      string
	GresUsed  string
	CPUsState string // alloc/idle/other/total

	Enhanced bool
}

// GPUTotal returns the node's GPU inventory count from GRES.
func (n NodeRecord) GPUTotal() string {
	return parseNodeGpuInfo(n.Gres)
}

// GPUUsed returns the allocated GPU count, or "-" when the schema lacks
// GresUsed.
func (n NodeRecord) GPUUsed() string {
	if !n.Enhanced {
		return "-"
	}
	return parseNodeGpuInfo(n.GresUsed)
}

// GPUAvail returns total minus used, or "-" when used is unknown.
func (n NodeRecord) GPUAvail() string {
	if !n.Enhanced {
		return "-"
	}
	total, err1 := strconv.Atoi(n.GPUTotal())
	used, err2 := strconv.Atoi(n.GPUUsed())
	if err1 != nil || err2 != nil || used > total {
		return "-"
	}
	return strconv.Itoa(total - used)
}

// CPUAllocDisplay renders "alloc/total" from the CPUsState composite.
func (n NodeRecord) CPUAllocDisplay() string {
	parts := strings.Split(n.CPUsState, "/")
	if len(parts) != 4 {
		return n.CPUs
	}
	return parts[0] + "/" + parts[3]
}

// Fields returns every raw value for free-text matching.
func (n NodeRecord) Fields() []string {
	return []string{
		n.Name, n.Partition, n.State, n.Avail, n.CPUs, n.Memory,
		n.AllocMem, n.Gres, n.GresUsed, n.CPUsState,
	}
}

// Fixed column widths of the enhanced squeue -O format. The trailing
// ReqNodes/NodeList/Reason columns are free width and space separated.
var squeueFixedWidths = []int{10, 12, 36, 10, 10, 50, 12, 14}

const squeueFieldCount = 11

// parseSqueueLine splits one fixed-width squeue -O line into exactly 11
// fields, padding missing trailing fields with "". The remainder after the
// fixed columns is split into at most 3 tokens so a NodeList with embedded
// spaces survives as long as a Reason follows it.
func parseSqueueLine(line string) []string {
	parts := make([]string, 0, squeueFieldCount)
	pos := 0
	for _, width := range squeueFixedWidths {
		if pos >= len(line) {
			parts = append(parts, "")
			continue
		}
		end := pos + width
		if end > len(line) {
			end = len(line)
		}
		parts = append(parts, strings.TrimSpace(line[pos:end]))
		pos += width
	}

	remaining := strings.TrimSpace(line[min(pos, len(line)):])
	parts = append(parts, splitWhitespaceN(remaining, 3)...)
	for len(parts) < squeueFieldCount {
		parts = append(parts, "")
	}
	return parts[:squeueFieldCount]
}

// splitWhitespaceN splits s on whitespace runs into at most n tokens; the
// final token keeps any embedded whitespace verbatim.
func splitWhitespaceN(s string, n int) []string {
	var out []string
	s = strings.TrimSpace(s)
	for len(out) < n-1 && s != "" {
		idx := strings.IndexAny(s, " \t")
		if idx < 0 {
			break
		}
		out = append(out, s[:idx])
		s = strings.TrimLeft(s[idx:], " \t")
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// parseEnhancedJobs parses the fixed-width squeue -O listing. Rows that are
// too short to carry the core columns are skipped, never fatal.
func parseEnhancedJobs(output string) []JobRecord {
	var jobs []JobRecord
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		p := parseSqueueLine(line)
		if p[0] == "" {
			continue
		}
		jobs = append(jobs, JobRecord{
			JobID:     p[0],
			Partition: p[1],
			Name:      p[2],
			User:      p[3],
			State:     p[4],
			TRES:      p[5],
			TimeUsed:  p[6],
			TimeLimit: p[7],
			ReqNodes:  p[8],
			NodeList:  p[9],
			Reason:    p[10],
			Enhanced:  true,
		})
	}
	return jobs
}

// parseBasicJobs parses the pipe-separated fallback format
// %i|%u|%T|%M|%D|%P|%j|%R|%C|%m used when -O is unavailable.
func parseBasicJobs(output string) []JobRecord {
	var jobs []JobRecord
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 8 {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		job := JobRecord{
			JobID:     parts[0],
			User:      parts[1],
			State:     parts[2],
			TimeUsed:  parts[3],
			ReqNodes:  parts[4],
			Partition: parts[5],
			Name:      parts[6],
			NodeList:  parts[7],
		}
		if len(parts) > 8 {
			job.CPUs = parts[8]
		}
		if len(parts) > 9 {
			job.Mem = parts[9]
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// parseNodes parses pipe-delimited sinfo -N output. The enhanced -O variant
// carries AllocMem/Gres/GresUsed/CPUsState; the plain -o fallback stops at
// GRES. Malformed rows are skipped.
func parseNodes(output string, enhanced bool) []NodeRecord {
	minFields := 7
	if enhanced {
		minFields = 10
	}
	var nodes []NodeRecord
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < minFields {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		node := NodeRecord{
			Name:      parts[0],
			Partition: parts[1],
			State:     parts[2],
			Avail:     parts[3],
			CPUs:      parts[4],
			Memory:    parts[5],
			Enhanced:  enhanced,
		}
		if enhanced {
			node.AllocMem = parts[6]
			node.Gres = parts[7]
			node.GresUsed = parts[8]
			node.CPUsState = parts[9]
		} else {
			node.Gres = parts[6]
		}
		nodes = append(nodes, node)
	}
	return nodes
}

var (
	gpuCountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`gres/gpu:[\w\d]+:(\d+)`), // gres/gpu:h100:4
		regexp.MustCompile(`gres/gpu=(\d+)`),         // gres/gpu=2
		regexp.MustCompile(`gres/gpu:(\d+)`),         // gres/gpu:4
	}
	gpuTypePattern  = regexp.MustCompile(`gres/gpu:([\w\d]+):\d+`)
	nodeGpuPatterns = []*regexp.Regexp{
		regexp.MustCompile(`gpu:[\w\d]+:(\d+)`), // gpu:h100:8
		regexp.MustCompile(`gpu:(\d+)`),         // gpu:8
	}
	cpuPattern         = regexp.MustCompile(`cpu=(\d+)`)
	memPattern         = regexp.MustCompile(`mem=([0-9]+[KMGT]?)`)
	gresSuffixPattern  = regexp.MustCompile(`\([^)]*\)`) // (IDX:0-7), (S:0-1)
	canonicalGpuTypes  = []string{"H100", "A100", "V100"}
	pendingReasonWords = []string{
		"Dependency",
		"Resources",
		"Priority",
		"QOSMaxJobsPerUserLimit",
		"AssocMaxJobsLimit",
	}
)

// parseGpuCountFromTres extracts the GPU count from a job TRES string.
// Patterns are tried in declaration order; first match wins.
func parseGpuCountFromTres(tres string) string {
	if tres == "" || tres == "N/A" {
		return "0"
	}
	for _, pattern := range gpuCountPatterns {
		if m := pattern.FindStringSubmatch(tres); m != nil {
			return m[1]
		}
	}
	return "0"
}

// parseGpuTypeFromTres extracts the GPU type from a job TRES string,
// normalizing known model substrings to canonical uppercase tokens. When the
// TRES allocates GPUs without naming a type, assumedType (a configuration
// value) is reported.
func parseGpuTypeFromTres(tres, assumedType string) string {
	if tres == "" || tres == "N/A" {
		return ""
	}
	if m := gpuTypePattern.FindStringSubmatch(tres); m != nil {
		gpuType := strings.ToUpper(m[1])
		for _, canonical := range canonicalGpuTypes {
			if strings.Contains(strings.ToLower(gpuType), strings.ToLower(canonical)) {
				return canonical
			}
		}
		return gpuType
	}
	if parseGpuCountFromTres(tres) != "0" {
		return assumedType
	}
	return ""
}

// parseNodeGpuInfo extracts the GPU count from a node GRES string. The
// literal "(null)" must be recognized before parenthetical suffixes like
// (IDX:0-7) are stripped.
func parseNodeGpuInfo(gres string) string {
	if gres == "" || gres == "(null)" || gres == "-" || gres == "N/A" {
		return "0"
	}
	gres = gresSuffixPattern.ReplaceAllString(gres, "")
	for _, pattern := range nodeGpuPatterns {
		if m := pattern.FindStringSubmatch(gres); m != nil {
			return m[1]
		}
	}
	return "0"
}

// extractCpusFromTres pulls the cpu=N value out of a TRES string.
func extractCpusFromTres(tres string) string {
	if tres == "" || tres == "N/A" {
		return ""
	}
	if m := cpuPattern.FindStringSubmatch(tres); m != nil {
		return m[1]
	}
	return ""
}

// extractMemFromTres pulls the mem=N[KMGT] value out of a TRES string.
func extractMemFromTres(tres string) string {
	if tres == "" || tres == "N/A" {
		return ""
	}
	if m := memPattern.FindStringSubmatch(tres); m != nil {
		return m[1]
	}
	return ""
}

// containsPendingReason reports whether s carries a scheduler pending-reason
// keyword rather than hostnames.
func containsPendingReason(s string) bool {
	for _, reason := range pendingReasonWords {
		if strings.Contains(s, reason) {
			return true
		}
	}
	return false
}

// countNodesFromNodelist counts comma-separated hostnames. A pending reason
// in place of a nodelist counts as zero nodes.
func countNodesFromNodelist(nodelist string) string {
	if strings.TrimSpace(nodelist) == "" {
		return "0"
	}
	if containsPendingReason(nodelist) {
		return "0"
	}
	count := 0
	for _, name := range strings.Split(nodelist, ",") {
		if strings.TrimSpace(name) != "" {
			count++
		}
	}
	return strconv.Itoa(count)
}

// combineNodelistReason merges the NodeList and Reason columns into one
// display value: real nodes win, then a meaningful reason, then whatever the
// nodelist holds (even if it is itself a reason keyword), then empty.
func combineNodelistReason(nodelist, reason string) string {
	if strings.TrimSpace(nodelist) != "" && !containsPendingReason(nodelist) {
		return nodelist
	}
	if strings.TrimSpace(reason) != "" && reason != "None" {
		return reason
	}
	if strings.TrimSpace(nodelist) != "" {
		return nodelist
	}
	return ""
}

// UnknownSeconds is the sentinel for unparsable or unbounded durations.
const UnknownSeconds = -1

// parseTimeToSeconds converts slurm time strings (D-HH:MM:SS, HH:MM:SS,
// MM:SS) to seconds. UNLIMITED, INVALID, Partition_Limit, empty, and
// anything unparsable map to UnknownSeconds.
func parseTimeToSeconds(timeStr string) int {
	switch timeStr {
	case "", "UNLIMITED", "INVALID", "Partition_Limit":
		return UnknownSeconds
	}

	days := 0
	timePart := timeStr
	if idx := strings.Index(timeStr, "-"); idx >= 0 {
		d, err := strconv.Atoi(timeStr[:idx])
		if err != nil {
			return UnknownSeconds
		}
		days = d
		timePart = timeStr[idx+1:]
	}

	parts := strings.Split(timePart, ":")
	var hours, minutes, seconds int
	var err error
	switch len(parts) {
	case 3:
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return UnknownSeconds
		}
		if minutes, err = strconv.Atoi(parts[1]); err != nil {
			return UnknownSeconds
		}
		if seconds, err = strconv.Atoi(parts[2]); err != nil {
			return UnknownSeconds
		}
	case 2:
		if minutes, err = strconv.Atoi(parts[0]); err != nil {
			return UnknownSeconds
		}
		if seconds, err = strconv.Atoi(parts[1]); err != nil {
			return UnknownSeconds
		}
	default:
		return UnknownSeconds
	}

	return days*86400 + hours*3600 + minutes*60 + seconds
}

// calculateTimeRatio returns used/limit, or -1 when either side is unknown
// or the limit is unbounded.
func calculateTimeRatio(timeUsed, timeLimit string) float64 {
	used := parseTimeToSeconds(timeUsed)
	limit := parseTimeToSeconds(timeLimit)
	if used < 0 || limit <= 0 {
		return -1.0
	}
	return float64(used) / float64(limit)
}

// Time-ratio classification thresholds for the TimeUsed column.
const (
	timeRatioCritical = 0.95
	timeRatioWarning  = 0.80
)

type timeRatioClass int

const (
	ratioUnknown timeRatioClass = iota
	ratioNormal
	ratioWarning
	ratioCritical
)

// classifyTimeRatio buckets a ratio for display coloring. -1 means the ratio
// could not be computed and the value renders plain.
func classifyTimeRatio(ratio float64) timeRatioClass {
	switch {
	case ratio < 0:
		return ratioUnknown
	case ratio >= timeRatioCritical:
		return ratioCritical
	case ratio >= timeRatioWarning:
		return ratioWarning
	default:
		return ratioNormal
	}
}
