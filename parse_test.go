package main

import (
	"fmt"
	"reflect"
	"testing"
)

func enhancedLine(id, partition, name, user, state, tres, used, limit, tail string) string {
	return fmt.Sprintf("%-10s%-12s%-36s%-10s%-10s%-50s%-12s%-14s%s",
		id, partition, name, user, state, tres, used, limit, tail)
}

func TestParseSqueueLine(t *testing.T) {
	line := enhancedLine(
		"12345", "h100", "train-resnet-50", "alice", "RUNNING",
		"billing=8,cpu=16,gres/gpu:h100:4,mem=64G,node=1",
		"2:15:30", "1-00:00:00",
		"1 dgx-h100-01 None",
	)

	got := parseSqueueLine(line)
	want := []string{
		"12345", "h100", "train-resnet-50", "alice", "RUNNING",
		"billing=8,cpu=16,gres/gpu:h100:4,mem=64G,node=1",
		"2:15:30", "1-00:00:00",
		"1", "dgx-h100-01", "None",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseSqueueLine = %#v, want %#v", got, want)
	}
}

func TestParseSqueueLineReasonKeepsSpaces(t *testing.T) {
	line := enhancedLine(
		"99", "cpu", "short", "bob", "PENDING",
		"cpu=4,mem=8G", "0:00", "1:00:00",
		"2  (Nodes required for job are DOWN, DRAINED)",
	)

	got := parseSqueueLine(line)
	if got[8] != "2" {
		t.Errorf("ReqNodes = %q, want %q", got[8], "2")
	}
	if got[9] != "(Nodes" {
		t.Errorf("NodeList token = %q, want %q", got[9], "(Nodes")
	}
	if got[10] != "required for job are DOWN, DRAINED)" {
		t.Errorf("Reason = %q, want embedded spaces preserved", got[10])
	}
}

func TestParseSqueueLineShortLine(t *testing.T) {
	got := parseSqueueLine("123")
	if len(got) != squeueFieldCount {
		t.Fatalf("field count = %d, want %d", len(got), squeueFieldCount)
	}
	if got[0] != "123" {
		t.Errorf("JobID = %q, want %q", got[0], "123")
	}
	for i := 1; i < squeueFieldCount; i++ {
		if got[i] != "" {
			t.Errorf("field %d = %q, want empty padding", i, got[i])
		}
	}
}

func TestSplitWhitespaceN(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want []string
	}{
		{"a b c", 3, []string{"a", "b", "c"}},
		{"a   b   c d e", 3, []string{"a", "b", "c d e"}},
		{"one", 3, []string{"one"}},
		{"", 3, nil},
		{"  x  y  ", 2, []string{"x", "y"}},
	}
	for _, tt := range tests {
		got := splitWhitespaceN(tt.in, tt.n)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitWhitespaceN(%q, %d) = %#v, want %#v", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestParseEnhancedJobs(t *testing.T) {
	output := enhancedLine("12345", "h100", "train", "alice", "RUNNING",
		"cpu=16,gres/gpu:h100:4,mem=64G", "2:15:30", "1-00:00:00", "1 dgx-h100-01 None") + "\n" +
		"\n" +
		enhancedLine("12346", "a100", "infer", "bob", "PENDING",
			"cpu=8,gres/gpu:a100:2,mem=32G", "0:00", "12:00:00", "1  (Resources) Resources") + "\n"

	jobs := parseEnhancedJobs(output)
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[0].JobID != "12345" || jobs[0].User != "alice" || !jobs[0].Enhanced {
		t.Errorf("first job = %+v", jobs[0])
	}
	if jobs[1].State != "PENDING" || jobs[1].Reason != "Resources" {
		t.Errorf("second job = %+v", jobs[1])
	}
}

func TestParseBasicJobs(t *testing.T) {
	output := "12345|alice|RUNNING|2:15:30|1|h100|train|dgx-h100-01|16|64G\n" +
		"bad|row\n" +
		"12346|bob|PENDING|0:00|1|cpu|prep|(Resources)\n"

	jobs := parseBasicJobs(output)
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	j := jobs[0]
	if j.Enhanced {
		t.Error("basic rows must not claim the enhanced schema")
	}
	if j.CPUs != "16" || j.Mem != "64G" {
		t.Errorf("CPUs/Mem = %q/%q, want 16/64G", j.CPUs, j.Mem)
	}
	if j.CPUCount() != "16" || j.Memory() != "64G" {
		t.Errorf("derived CPU/Mem = %q/%q", j.CPUCount(), j.Memory())
	}
	if jobs[1].CPUs != "" {
		t.Errorf("missing CPUs column should stay empty, got %q", jobs[1].CPUs)
	}
}

func TestParseNodes(t *testing.T) {
	wide := "dgx-h100-01|h100|mixed|up|224|2064384|1032192|gpu:h100:8|gpu:h100:4(IDX:0-3)|112/104/8/224\n" +
		"short|row\n"
	nodes := parseNodes(wide, true)
	if len(nodes) != 1 {
		t.Fatalf("len(nodes) = %d, want 1", len(nodes))
	}
	n := nodes[0]
	if n.GPUTotal() != "8" || n.GPUUsed() != "4" || n.GPUAvail() != "4" {
		t.Errorf("gpu total/used/avail = %s/%s/%s, want 8/4/4", n.GPUTotal(), n.GPUUsed(), n.GPUAvail())
	}
	if n.CPUAllocDisplay() != "112/224" {
		t.Errorf("CPUAllocDisplay = %q, want 112/224", n.CPUAllocDisplay())
	}

	basic := "cpu-worker-01|cpu|idle|up|128|515072|(null)\n"
	nodes = parseNodes(basic, false)
	if len(nodes) != 1 {
		t.Fatalf("len(nodes) = %d, want 1", len(nodes))
	}
	n = nodes[0]
	if n.GPUUsed() != "-" || n.GPUAvail() != "-" {
		t.Errorf("fallback gpu used/avail = %s/%s, want -/-", n.GPUUsed(), n.GPUAvail())
	}
	if n.CPUAllocDisplay() != "128" {
		t.Errorf("fallback CPUAllocDisplay = %q, want raw CPUs", n.CPUAllocDisplay())
	}
}

func TestParseGpuCountFromTres(t *testing.T) {
	tests := []struct {
		tres string
		want string
	}{
		{"billing=8,cpu=16,gres/gpu:h100:4,mem=64G,node=1", "4"},
		{"cpu=8,gres/gpu=2,mem=32G", "2"},
		{"cpu=8,gres/gpu:3,mem=32G", "3"},
		{"cpu=32,mem=128G,node=1", "0"},
		{"", "0"},
		{"N/A", "0"},
	}
	for _, tt := range tests {
		if got := parseGpuCountFromTres(tt.tres); got != tt.want {
			t.Errorf("parseGpuCountFromTres(%q) = %q, want %q", tt.tres, got, tt.want)
		}
	}
}

func TestParseGpuTypeFromTres(t *testing.T) {
	tests := []struct {
		tres string
		want string
	}{
		{"gres/gpu:h100:4", "H100"},
		{"gres/gpu:a100_80gb:2", "A100"},
		{"gres/gpu:v100:1", "V100"},
		{"gres/gpu:rtx3090:2", "RTX3090"},
		{"gres/gpu=2", "H100"}, // count without type falls back to the assumed type
		{"cpu=32,mem=128G", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseGpuTypeFromTres(tt.tres, "H100"); got != tt.want {
			t.Errorf("parseGpuTypeFromTres(%q) = %q, want %q", tt.tres, got, tt.want)
		}
	}
}

func TestParseNodeGpuInfo(t *testing.T) {
	tests := []struct {
		gres string
		want string
	}{
		{"gpu:h100:8", "8"},
		{"gpu:8", "8"},
		{"gpu:h100:4(IDX:0-3)", "4"},
		{"gpu:a100:2(S:0-1)", "2"},
		{"(null)", "0"},
		{"-", "0"},
		{"N/A", "0"},
		{"", "0"},
	}
	for _, tt := range tests {
		if got := parseNodeGpuInfo(tt.gres); got != tt.want {
			t.Errorf("parseNodeGpuInfo(%q) = %q, want %q", tt.gres, got, tt.want)
		}
	}
}

func TestExtractResourcesFromTres(t *testing.T) {
	tres := "billing=8,cpu=16,gres/gpu:h100:4,mem=512000M,node=1"
	if got := extractCpusFromTres(tres); got != "16" {
		t.Errorf("cpus = %q, want 16", got)
	}
	if got := extractMemFromTres(tres); got != "512000M" {
		t.Errorf("mem = %q, want 512000M", got)
	}
	if got := extractCpusFromTres(""); got != "" {
		t.Errorf("cpus of empty = %q, want empty", got)
	}
	if got := extractMemFromTres("cpu=4"); got != "" {
		t.Errorf("mem without mem= = %q, want empty", got)
	}
}

func TestCountNodesFromNodelist(t *testing.T) {
	tests := []struct {
		nodelist string
		want     string
	}{
		{"", "0"},
		{"Resources", "0"},
		{"(Priority)", "0"},
		{"dgx-h100-01", "1"},
		{"a,b,c", "3"},
		{"a,,b", "2"},
	}
	for _, tt := range tests {
		if got := countNodesFromNodelist(tt.nodelist); got != tt.want {
			t.Errorf("countNodesFromNodelist(%q) = %q, want %q", tt.nodelist, got, tt.want)
		}
	}
}

func TestCombineNodelistReason(t *testing.T) {
	tests := []struct {
		nodelist, reason, want string
	}{
		{"dgx-h100-01", "None", "dgx-h100-01"},
		{"", "Resources", "Resources"},
		{"", "None", ""},
		{"", "", ""},
		// A nodelist that is itself a reason keyword with no separate
		// reason comes back verbatim.
		{"(Resources)", "", "(Resources)"},
		{"(Priority)", "Priority", "Priority"},
	}
	for _, tt := range tests {
		if got := combineNodelistReason(tt.nodelist, tt.reason); got != tt.want {
			t.Errorf("combineNodelistReason(%q, %q) = %q, want %q", tt.nodelist, tt.reason, got, tt.want)
		}
	}
}

func TestParseTimeToSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"2:15:30", 8130},
		{"1-00:00:00", 86400},
		{"2-01:02:03", 176523},
		{"30:00", 1800},
		{"0:00", 0},
		{"UNLIMITED", -1},
		{"INVALID", -1},
		{"Partition_Limit", -1},
		{"", -1},
		{"abc", -1},
		{"1:2:3:4", -1},
		{"x-00:00:00", -1},
	}
	for _, tt := range tests {
		if got := parseTimeToSeconds(tt.in); got != tt.want {
			t.Errorf("parseTimeToSeconds(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCalculateTimeRatio(t *testing.T) {
	if got := calculateTimeRatio("30:00", "01:00:00"); got != 0.5 {
		t.Errorf("ratio = %v, want 0.5", got)
	}
	if got := calculateTimeRatio("30:00", "UNLIMITED"); got != -1.0 {
		t.Errorf("ratio with unlimited limit = %v, want -1", got)
	}
	if got := calculateTimeRatio("garbage", "01:00:00"); got != -1.0 {
		t.Errorf("ratio with bad used = %v, want -1", got)
	}
	if got := calculateTimeRatio("10:00", "0:00"); got != -1.0 {
		t.Errorf("ratio with zero limit = %v, want -1", got)
	}
}

func TestClassifyTimeRatio(t *testing.T) {
	tests := []struct {
		ratio float64
		want  timeRatioClass
	}{
		{-1.0, ratioUnknown},
		{0.0, ratioNormal},
		{0.79, ratioNormal},
		{0.80, ratioWarning},
		{0.94, ratioWarning},
		{0.95, ratioCritical},
		{1.2, ratioCritical},
	}
	for _, tt := range tests {
		if got := classifyTimeRatio(tt.ratio); got != tt.want {
			t.Errorf("classifyTimeRatio(%v) = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}

func TestJobRecordIsActive(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{"RUNNING", true},
		{"RUNNING*", true},
		{"PENDING", true},
		{"pending", true},
		{"COMPLETED", false},
		{"FAILED", false},
		{"", false},
	}
	for _, tt := range tests {
		j := JobRecord{State: tt.state}
		if got := j.IsActive(); got != tt.want {
			t.Errorf("IsActive(%q) = %v, want %v", tt.state, got, tt.want)
		}
	}
}
