package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	c, err := NewClient(true, "H100")
	if err != nil {
		t.Fatal(err)
	}
	m := NewModel(c, defaultConfig(), nil)

	jobs, _ := c.ListJobs()
	nodes, _ := c.ListNodes()
	m, _ = updateModel(t, m, listsMsg{jobs: jobs, nodes: nodes})
	return m
}

func updateModel(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return nm, cmd
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestClampInterval(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 1},
		{-5, 1},
		{1, 1},
		{5, 5},
		{60, 60},
		{500, 60},
	}
	for _, tt := range tests {
		if got := clampInterval(tt.in); got != tt.want {
			t.Errorf("clampInterval(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSortKeyToColumn(t *testing.T) {
	tests := []struct {
		key  string
		want int
	}{
		{"1", 0},
		{"5", 4},
		{"9", 8},
		{"0", 9},
	}
	for _, tt := range tests {
		if got := sortKeyToColumn(tt.key); got != tt.want {
			t.Errorf("sortKeyToColumn(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}
}

func TestListsMsgSwapsSnapshot(t *testing.T) {
	m := newTestModel(t)
	if len(m.jobs) != 3 || len(m.nodes) != 3 {
		t.Fatalf("snapshot = %d jobs / %d nodes, want 3/3", len(m.jobs), len(m.nodes))
	}
	if m.refreshing {
		t.Error("refreshing flag should clear once lists land")
	}
	if m.lastRefresh.IsZero() {
		t.Error("lastRefresh not stamped")
	}
	if m.selectedID != "12345" {
		t.Errorf("selectedID = %q, want first row 12345", m.selectedID)
	}
}

func TestListsMsgErrorKeepsSnapshot(t *testing.T) {
	m := newTestModel(t)
	before := len(m.jobs)

	m, _ = updateModel(t, m, listsMsg{err: errors.New("squeue failed")})
	if len(m.jobs) != before {
		t.Errorf("error refresh replaced snapshot: %d jobs, want %d", len(m.jobs), before)
	}
	if m.err == nil {
		t.Error("refresh error not surfaced")
	}
	if m.startupFailed {
		t.Error("a failure after a good refresh is not a startup failure")
	}
}

func TestListsMsgFirstErrorIsStartupFailure(t *testing.T) {
	c, _ := NewClient(true, "H100")
	m := NewModel(c, defaultConfig(), nil)

	m, _ = updateModel(t, m, listsMsg{err: errors.New("squeue failed")})
	if !m.startupFailed {
		t.Error("error before any successful refresh should flag startup failure")
	}
}

func TestStartupRefreshExclusive(t *testing.T) {
	c, _ := NewClient(true, "H100")
	m := NewModel(c, defaultConfig(), nil)
	if !m.refreshing {
		t.Fatal("the startup fetch must be counted as in flight from construction")
	}

	// Ticks and refresh-now requests landing before the startup lists
	// arrive are dropped, not allowed to start a second squeue/sinfo pair.
	m, cmd := updateModel(t, m, tickMsg{})
	if !m.refreshing {
		t.Error("tick during the startup window cleared the in-flight guard")
	}
	if cmd == nil {
		t.Error("tick must still re-arm the timer")
	}
	m, _ = updateModel(t, m, refreshNowMsg{})
	if !m.refreshing {
		t.Error("refresh-now during the startup window cleared the in-flight guard")
	}

	jobs, _ := c.ListJobs()
	nodes, _ := c.ListNodes()
	m, _ = updateModel(t, m, listsMsg{jobs: jobs, nodes: nodes})
	if m.refreshing {
		t.Error("guard must clear once the startup lists land")
	}
}

func TestTickWhileRefreshing(t *testing.T) {
	m := newTestModel(t)
	m.refreshing = true

	m, cmd := updateModel(t, m, tickMsg{})
	if !m.refreshing {
		t.Error("in-flight refresh flag must survive a dropped tick")
	}
	if cmd == nil {
		t.Error("tick must always re-arm the timer")
	}
}

func TestTickStartsRefresh(t *testing.T) {
	m := newTestModel(t)

	m, cmd := updateModel(t, m, tickMsg{})
	if !m.refreshing {
		t.Error("idle tick should start a refresh")
	}
	if cmd == nil {
		t.Error("expected fetch + re-armed timer commands")
	}
}

func TestStaleDetailDropped(t *testing.T) {
	m := newTestModel(t)

	m, _ = updateModel(t, m, detailMsg{gen: m.selGen - 1, jobID: "12345", detail: "stale"})
	if m.rawDetail != "" {
		t.Errorf("stale detail applied: %q", m.rawDetail)
	}

	m, cmd := updateModel(t, m, detailMsg{gen: m.selGen, jobID: "12345", detail: detailFixture})
	if m.rawDetail != detailFixture {
		t.Error("current-generation detail not applied")
	}
	if !m.outputBusy || cmd == nil {
		t.Error("fresh detail should trigger the first output read")
	}
}

func TestStaleScriptAndOutputDropped(t *testing.T) {
	m := newTestModel(t)

	m, _ = updateModel(t, m, scriptMsg{gen: m.selGen - 1, jobID: "12345", script: "#!/bin/bash"})
	if m.script != "" {
		t.Errorf("stale script applied: %q", m.script)
	}

	m.outputBusy = true
	m, _ = updateModel(t, m, outputMsg{gen: m.selGen - 1, jobID: "12345", stdout: "old"})
	if m.outputBusy {
		t.Error("stale output must still clear the busy flag")
	}
	if m.stdoutTail != "" {
		t.Errorf("stale output applied: %q", m.stdoutTail)
	}
}

func TestSelectionChangeResetsDetail(t *testing.T) {
	m := newTestModel(t)
	m.rawDetail = detailFixture
	m.script = "#!/bin/bash"
	genBefore := m.selGen

	m, _ = updateModel(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if m.selectedID == "12345" {
		t.Fatal("cursor did not move off the first row")
	}
	if m.selGen <= genBefore {
		t.Error("selection change must bump the generation")
	}
	if m.rawDetail != "" || m.script != "" {
		t.Error("previous job's detail/script must be cleared")
	}
}

func TestRealtimeGating(t *testing.T) {
	m := newTestModel(t)

	// Off by default: the tick re-arms but fetches nothing.
	m, _ = updateModel(t, m, outputTickMsg{})
	if m.outputBusy {
		t.Error("realtime off: output tick must not fetch")
	}

	m.realtime = true
	m, cmd := updateModel(t, m, outputTickMsg{})
	if !m.outputBusy || cmd == nil {
		t.Error("realtime on with an active selection: output tick should fetch")
	}

	// A busy fetch is never doubled up.
	m, _ = updateModel(t, m, outputTickMsg{})
	if !m.outputBusy {
		t.Error("busy flag lost")
	}
}

func TestRealtimeSkipsFinishedJobs(t *testing.T) {
	m := newTestModel(t)
	jobs := []JobRecord{{JobID: "900", User: "alice", State: "COMPLETED", Name: "done"}}
	m, _ = updateModel(t, m, listsMsg{jobs: jobs, nodes: m.nodes})

	m.realtime = true
	m, _ = updateModel(t, m, outputTickMsg{})
	if m.outputBusy {
		t.Error("finished job must not be polled for output")
	}
}

func TestTwoStepCancel(t *testing.T) {
	m := newTestModel(t)

	m, cmd := updateModel(t, m, keyPress('c'))
	if m.cancelArmedID != "12345" {
		t.Fatalf("cancelArmedID = %q, want 12345", m.cancelArmedID)
	}
	if cmd != nil {
		t.Error("first press must only arm, not cancel")
	}

	// Any other key aborts.
	m, _ = updateModel(t, m, keyPress('j'))
	if m.cancelArmedID != "" {
		t.Error("abort did not disarm")
	}
	if m.statusMsg != "Cancel aborted" {
		t.Errorf("status = %q, want abort notice", m.statusMsg)
	}

	// Arm again and confirm.
	m, _ = updateModel(t, m, keyPress('c'))
	m, cmd = updateModel(t, m, keyPress('c'))
	if m.cancelArmedID != "" {
		t.Error("confirm did not disarm")
	}
	if cmd == nil {
		t.Error("confirm must issue the cancel command")
	}
	if !strings.Contains(m.statusMsg, "12345") {
		t.Errorf("status = %q, want the job id", m.statusMsg)
	}
}

func TestCancelIgnoredOnNodesView(t *testing.T) {
	m := newTestModel(t)
	m, _ = updateModel(t, m, keyPress('n'))
	if m.activeView != viewNodes {
		t.Fatal("view did not switch")
	}

	m, _ = updateModel(t, m, keyPress('c'))
	if m.cancelArmedID != "" {
		t.Error("cancel must not arm on the nodes view")
	}
}

func TestIntervalAdjustClamped(t *testing.T) {
	m := newTestModel(t)

	m.interval = maxRefreshInterval
	m, _ = updateModel(t, m, keyPress('+'))
	if m.interval != maxRefreshInterval {
		t.Errorf("interval = %v, want clamped at %v", m.interval, maxRefreshInterval)
	}

	m.interval = minRefreshInterval
	m, _ = updateModel(t, m, keyPress('-'))
	if m.interval != minRefreshInterval {
		t.Errorf("interval = %v, want clamped at %v", m.interval, minRefreshInterval)
	}

	m.interval = 5
	m, _ = updateModel(t, m, keyPress('+'))
	if m.interval != 6 {
		t.Errorf("interval = %v, want 6", m.interval)
	}
}

func TestStateFilterCycles(t *testing.T) {
	m := newTestModel(t)

	m, _ = updateModel(t, m, keyPress('g'))
	if m.filter.State != "RUNNING" {
		t.Errorf("first press: state filter = %q, want RUNNING", m.filter.State)
	}
	m, _ = updateModel(t, m, keyPress('g'))
	if m.filter.State != "PENDING" {
		t.Errorf("second press: state filter = %q, want PENDING", m.filter.State)
	}
	m, _ = updateModel(t, m, keyPress('g'))
	if m.filter.State != "" {
		t.Errorf("third press: state filter = %q, want cleared", m.filter.State)
	}
}

func TestSearchApplyAndRevert(t *testing.T) {
	m := newTestModel(t)

	m, _ = updateModel(t, m, keyPress('/'))
	if !m.searchInput.Focused() {
		t.Fatal("search input not focused")
	}

	for _, r := range "alice" {
		m, _ = updateModel(t, m, keyPress(r))
	}
	m, _ = updateModel(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.filter.Text != "alice" {
		t.Errorf("filter text = %q, want alice", m.filter.Text)
	}
	if len(m.filteredJobs) != 1 || m.filteredJobs[0].User != "alice" {
		t.Errorf("filtered to %d jobs, want alice's single job", len(m.filteredJobs))
	}

	// Esc abandons a half-typed query and restores the applied one.
	m, _ = updateModel(t, m, keyPress('/'))
	for _, r := range "zzz" {
		m, _ = updateModel(t, m, keyPress(r))
	}
	m, _ = updateModel(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.filter.Text != "alice" {
		t.Errorf("esc changed the applied filter to %q", m.filter.Text)
	}
	if m.searchInput.Value() != "alice" {
		t.Errorf("search box = %q, want reverted to alice", m.searchInput.Value())
	}
}

func TestSortKeyReordersRows(t *testing.T) {
	m := newTestModel(t)

	// Key "6" selects column 5 (GPUs), numeric, so it starts descending.
	m, _ = updateModel(t, m, keyPress('6'))
	if m.jobSort.Column != 5 || !m.jobSort.Descending {
		t.Fatalf("jobSort = %+v, want column 5 descending", m.jobSort)
	}
	if m.filteredJobs[0].JobID != "12345" {
		t.Errorf("top job = %s, want the 4-gpu job 12345", m.filteredJobs[0].JobID)
	}

	m, _ = updateModel(t, m, keyPress('6'))
	if m.jobSort.Descending {
		t.Error("same key must toggle to ascending")
	}
}

func TestCancelDoneTriggersRefresh(t *testing.T) {
	m := newTestModel(t)

	m, cmd := updateModel(t, m, cancelDoneMsg{jobID: "12345", ok: true, message: "Cancelled job 12345"})
	if cmd == nil {
		t.Error("cancel completion should schedule an immediate refresh")
	}
	if !strings.Contains(m.statusMsg, "12345") {
		t.Errorf("status = %q", m.statusMsg)
	}

	m, _ = updateModel(t, m, cancelDoneMsg{jobID: "7", ok: false, message: "Invalid job id"})
	if !strings.HasPrefix(m.statusMsg, "Cancel failed:") {
		t.Errorf("status = %q, want failure prefix", m.statusMsg)
	}
}

func TestOverlayDismissal(t *testing.T) {
	m := newTestModel(t)
	m.script = "#!/bin/bash\nsrun hostname"

	m, _ = updateModel(t, m, keyPress('v'))
	if !m.inScriptOverlay {
		t.Fatal("script overlay did not open")
	}
	m, _ = updateModel(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.inScriptOverlay {
		t.Error("esc did not close the overlay")
	}

	m, _ = updateModel(t, m, keyPress('o'))
	if !m.inOutputOverlay {
		t.Fatal("output overlay did not open")
	}
	if !m.outputBusy {
		t.Error("opening the output overlay should fetch the full tail")
	}
	m, _ = updateModel(t, m, keyPress('q'))
	if m.inOutputOverlay {
		t.Error("q did not close the overlay")
	}
}

func TestGpustatMsgStoresTextAndRearms(t *testing.T) {
	c, _ := NewClient(true, "H100")
	feed, err := NewGpustatFeed("http://gpustat.internal:48109/")
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()

	m := NewModel(c, defaultConfig(), feed)
	m, cmd := updateModel(t, m, gpustatMsg("node-01 [0] H100 | 45'C"))
	if !strings.Contains(m.gpustatText, "node-01") {
		t.Errorf("gpustat text = %q", m.gpustatText)
	}
	if cmd == nil {
		t.Error("gpustat frame should re-arm the feed wait")
	}
}
