package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"

	"github.com/aymanbagabas/go-osc52/v2"
)

const (
	version = "v0.3.0"

	outputRefreshInterval = 2 * time.Second
	minRefreshInterval    = 1.0
	maxRefreshInterval    = 60.0

	panelGap         = 2
	panelChromeWidth = 8
	minTableWidth    = 40
	sideColumnWidth  = 46
	envDebugLog      = "SLURM_MONITOR_DEBUG"
)

type view int

const (
	viewJobs view = iota
	viewNodes
)

func (v view) String() string {
	if v == viewNodes {
		return "Nodes"
	}
	return "Jobs"
}

// KeyMap defines the keybindings
type KeyMap struct {
	Quit         key.Binding
	Refresh      key.Binding
	Search       key.Binding
	SwitchView   key.Binding
	CancelJob    key.Binding
	CopyID       key.Binding
	Realtime     key.Binding
	ViewScript   key.Binding
	ViewOutput   key.Binding
	StateFilter  key.Binding
	IntervalUp   key.Binding
	IntervalDown key.Binding
	SaveSettings key.Binding
	Sort         key.Binding
	Up           key.Binding
	Down         key.Binding
	ToggleHelp   key.Binding
}

var keys = KeyMap{
	Quit:         key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Refresh:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Search:       key.NewBinding(key.WithKeys("/", "f"), key.WithHelp("/", "search")),
	SwitchView:   key.NewBinding(key.WithKeys("n", "tab"), key.WithHelp("n", "jobs/nodes")),
	CancelJob:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel (press twice)")),
	CopyID:       key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy id")),
	Realtime:     key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "realtime output")),
	ViewScript:   key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "script")),
	ViewOutput:   key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "output")),
	StateFilter:  key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "state filter")),
	IntervalUp:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+/-", "interval")),
	IntervalDown: key.NewBinding(key.WithKeys("-", "_")),
	SaveSettings: key.NewBinding(key.WithKeys("S"), key.WithHelp("S", "save settings")),
	Sort:         key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9", "0"), key.WithHelp("1-0", "sort column")),
	Up:           key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:         key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	ToggleHelp:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit, k.Search, k.Refresh, k.SwitchView, k.ViewScript, k.ViewOutput, k.CancelJob, k.ToggleHelp}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.SwitchView, k.Sort},
		{k.Search, k.StateFilter, k.Refresh, k.IntervalUp},
		{k.ViewScript, k.ViewOutput, k.Realtime, k.CancelJob, k.CopyID, k.SaveSettings, k.Quit},
	}
}

type tickMsg time.Time
type outputTickMsg time.Time

type listsMsg struct {
	jobs  []JobRecord
	nodes []NodeRecord
	err   error
}

type detailMsg struct {
	gen    int
	jobID  string
	detail string
}

type scriptMsg struct {
	gen    int
	jobID  string
	script string
}

type outputMsg struct {
	gen            int
	jobID          string
	stdout, stderr string
}

type cancelDoneMsg struct {
	jobID   string
	ok      bool
	message string
}

type gpustatMsg string
type refreshNowMsg struct{}

// Model is the main application model
type Model struct {
	client *Client
	cfg    Config
	feed   *GpustatFeed

	jobsTable   table.Model
	nodesTable  table.Model
	searchInput textinput.Model
	help        help.Model

	activeView view

	jobs          []JobRecord
	nodes         []NodeRecord
	filteredJobs  []JobRecord
	filteredNodes []NodeRecord

	filter   Filter
	jobSort  sortState
	nodeSort sortState

	// Selection. The generation counter increments on every selection
	// change; async results carrying an older generation are dropped.
	selectedID string
	selGen     int
	rawDetail  string
	script     string
	stdoutTail string
	stderrTail string

	// Refresh guards: a tick that lands while the matching fetch is in
	// flight is dropped, never queued.
	refreshing    bool
	outputBusy    bool
	realtime      bool
	interval      float64
	lastRefresh   time.Time
	startupFailed bool

	// Two-step cancel: armed for one specific job id at a time.
	cancelArmedID string

	inScriptOverlay bool
	inOutputOverlay bool
	overlayView     viewport.Model

	gpustatText string

	err           error
	statusMsg     string
	statusExpiry  time.Time
	width, height int

	tableHeight   int
	tableWidth    int
	sideWidth     int
	hideSide      bool
	detailsHeight int
	gpustatHeight int
}

func NewModel(client *Client, cfg Config, feed *GpustatFeed) Model {
	jt := table.New(table.WithFocused(true), table.WithHeight(10))
	nt := table.New(table.WithFocused(false), table.WithHeight(10))
	for _, t := range []*table.Model{&jt, &nt} {
		s := table.DefaultStyles()
		s.Header = tableHeaderStyle
		s.Selected = tableSelectedStyle
		t.SetStyles(s)
	}

	ti := textinput.New()
	ti.Placeholder = "Search"
	ti.CharLimit = 60
	ti.Width = 20
	ti.Prompt = ""
	ti.PromptStyle = lipgloss.NewStyle().Foreground(subtle)
	ti.TextStyle = lipgloss.NewStyle().Foreground(textStrong)
	ti.PlaceholderStyle = lipgloss.NewStyle().Foreground(subtle)
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(highlight)

	m := Model{
		client:      client,
		cfg:         cfg,
		feed:        feed,
		jobsTable:   jt,
		nodesTable:  nt,
		searchInput: ti,
		help:        help.New(),
		activeView:  viewJobs,
		interval:    clampInterval(cfg.RefreshInterval),
		// The startup fetch Init dispatches counts as in flight, so ticks
		// and refresh-now requests during it are dropped like any other.
		refreshing: true,
		jobSort:    newSortState(),
		nodeSort:   newSortState(),
		filter: Filter{
			User:      cfg.UserFilter,
			Partition: cfg.PartitionFilter,
			State:     cfg.StateFilter,
		},
	}

	width, height := detectTerminalSize()
	m.applyWindowSize(width, height)
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.fetchListsCmd(),
		m.tickCmd(),
		m.outputTickCmd(),
		initialWindowSizeCmd(),
	}
	if m.feed != nil {
		m.feed.Start()
		cmds = append(cmds, waitGpustatCmd(m.feed))
	}
	return tea.Batch(cmds...)
}

func clampInterval(v float64) float64 {
	if v < minRefreshInterval {
		return minRefreshInterval
	}
	if v > maxRefreshInterval {
		return maxRefreshInterval
	}
	return v
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if m.statusMsg != "" && time.Now().After(m.statusExpiry) {
		m.statusMsg = ""
	}

	switch msg := msg.(type) {
	case tickMsg:
		cmds = append(cmds, m.tickCmd())
		if !m.refreshing {
			m.refreshing = true
			cmds = append(cmds, m.fetchListsCmd())
		}
		return m, tea.Batch(cmds...)

	case outputTickMsg:
		cmds = append(cmds, m.outputTickCmd())
		if m.realtime && !m.outputBusy {
			if job := m.selectedJob(); job != nil && job.IsActive() {
				m.outputBusy = true
				cmds = append(cmds, m.outputCmd(m.selGen, job.JobID, m.rawDetail))
			}
		}
		return m, tea.Batch(cmds...)

	case refreshNowMsg:
		if !m.refreshing {
			m.refreshing = true
			cmds = append(cmds, m.fetchListsCmd())
		}
		return m, tea.Batch(cmds...)

	case listsMsg:
		m.refreshing = false
		if msg.err != nil {
			// Keep the last good snapshot on screen; just surface the error.
			m.err = msg.err
			if m.lastRefresh.IsZero() {
				m.startupFailed = true
			}
			return m, nil
		}
		m.err = nil
		m.startupFailed = false
		m.jobs = msg.jobs
		m.nodes = msg.nodes
		m.lastRefresh = time.Now()
		m.rebuildRows()
		cmds = append(cmds, m.syncSelection()...)
		return m, tea.Batch(cmds...)

	case detailMsg:
		if msg.gen != m.selGen {
			return m, nil
		}
		m.rawDetail = msg.detail
		// First output read reuses the detail we just fetched.
		if !m.outputBusy {
			m.outputBusy = true
			cmds = append(cmds, m.outputCmd(msg.gen, msg.jobID, msg.detail))
		}
		return m, tea.Batch(cmds...)

	case scriptMsg:
		if msg.gen != m.selGen {
			return m, nil
		}
		m.script = msg.script
		if m.inScriptOverlay {
			m.configureOverlay(m.script)
		}
		return m, nil

	case outputMsg:
		m.outputBusy = false
		if msg.gen != m.selGen {
			return m, nil
		}
		m.stdoutTail = msg.stdout
		m.stderrTail = msg.stderr
		if m.inOutputOverlay {
			m.configureOverlay(m.outputOverlayContent())
		}
		return m, nil

	case cancelDoneMsg:
		if msg.ok {
			m.setStatus(msg.message)
		} else {
			m.setStatus("Cancel failed: " + msg.message)
		}
		cmds = append(cmds, func() tea.Msg { return refreshNowMsg{} })
		return m, tea.Batch(cmds...)

	case gpustatMsg:
		m.gpustatText = string(msg)
		if m.feed != nil {
			cmds = append(cmds, waitGpustatCmd(m.feed))
		}
		return m, tea.Batch(cmds...)

	case tea.WindowSizeMsg:
		width, height := msg.Width, msg.Height
		if width <= 0 || height <= 0 {
			width, height = m.width, m.height
			if width <= 0 || height <= 0 {
				width, height = detectTerminalSize()
			}
		}
		m.applyWindowSize(width, height)
		if m.inScriptOverlay {
			m.configureOverlay(m.script)
		} else if m.inOutputOverlay {
			m.configureOverlay(m.outputOverlayContent())
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	// An armed cancel consumes the next key: the same key confirms, any
	// other key aborts.
	if m.cancelArmedID != "" {
		armed := m.cancelArmedID
		m.cancelArmedID = ""
		if key.Matches(msg, keys.CancelJob) {
			m.setStatus("Cancelling " + armed + "...")
			return m, m.cancelCmd(armed)
		}
		m.setStatus("Cancel aborted")
		return m, nil
	}

	if m.inScriptOverlay || m.inOutputOverlay {
		switch msg.String() {
		case "esc", "q":
			m.inScriptOverlay = false
			m.inOutputOverlay = false
			return m, nil
		case "y":
			if m.inScriptOverlay && strings.TrimSpace(m.script) != "" {
				m.setStatus("Script copied")
				return m, osc52CopyCmd(m.script)
			}
		}
		m.overlayView, cmd = m.overlayView.Update(msg)
		return m, cmd
	}

	if m.searchInput.Focused() {
		switch msg.String() {
		case "enter":
			m.searchInput.Blur()
			m.filter.Text = strings.TrimSpace(m.searchInput.Value())
			m.rebuildRows()
			cmds = append(cmds, m.syncSelection()...)
			return m, tea.Batch(cmds...)
		case "esc":
			m.searchInput.Blur()
			m.searchInput.SetValue(m.filter.Text)
			return m, nil
		default:
			m.searchInput, cmd = m.searchInput.Update(msg)
			return m, cmd
		}
	}

	switch {
	case key.Matches(msg, keys.Quit):
		if m.feed != nil {
			m.feed.Close()
		}
		return m, tea.Quit

	case key.Matches(msg, keys.ToggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		m.applyWindowSize(m.width, m.height)
		return m, nil

	case key.Matches(msg, keys.Refresh):
		return m, func() tea.Msg { return refreshNowMsg{} }

	case key.Matches(msg, keys.Search):
		m.searchInput.Focus()
		return m, nil

	case key.Matches(msg, keys.SwitchView):
		if m.activeView == viewJobs {
			m.activeView = viewNodes
			m.jobsTable.Blur()
			m.nodesTable.Focus()
		} else {
			m.activeView = viewJobs
			m.nodesTable.Blur()
			m.jobsTable.Focus()
		}
		m.applyWindowSize(m.width, m.height)
		cmds = append(cmds, m.syncSelection()...)
		return m, tea.Batch(cmds...)

	case key.Matches(msg, keys.StateFilter):
		switch m.filter.State {
		case "":
			m.filter.State = "RUNNING"
		case "RUNNING":
			m.filter.State = "PENDING"
		default:
			m.filter.State = ""
		}
		m.rebuildRows()
		cmds = append(cmds, m.syncSelection()...)
		return m, tea.Batch(cmds...)

	case key.Matches(msg, keys.Realtime):
		m.realtime = !m.realtime
		if m.realtime {
			m.setStatus("Realtime output on")
		} else {
			m.setStatus("Realtime output off")
		}
		return m, nil

	case key.Matches(msg, keys.IntervalUp):
		m.interval = clampInterval(m.interval + 1)
		m.setStatus(fmt.Sprintf("Refresh every %.0fs", m.interval))
		return m, nil

	case key.Matches(msg, keys.IntervalDown):
		m.interval = clampInterval(m.interval - 1)
		m.setStatus(fmt.Sprintf("Refresh every %.0fs", m.interval))
		return m, nil

	case key.Matches(msg, keys.SaveSettings):
		cfg := m.cfg
		cfg.RefreshInterval = m.interval
		cfg.UserFilter = m.filter.User
		cfg.PartitionFilter = m.filter.Partition
		cfg.StateFilter = m.filter.State
		if err := SaveConfig(cfg, ""); err != nil {
			m.setStatus("Save failed: " + err.Error())
		} else {
			m.cfg = cfg
			m.setStatus("Settings saved")
		}
		return m, nil

	case key.Matches(msg, keys.CopyID):
		if id := m.selectedRowID(); id != "" {
			m.setStatus("Copied " + id)
			return m, osc52CopyCmd(id)
		}
		return m, nil

	case key.Matches(msg, keys.CancelJob):
		if m.activeView != viewJobs {
			return m, nil
		}
		if job := m.selectedJob(); job != nil {
			m.cancelArmedID = job.JobID
		}
		return m, nil

	case key.Matches(msg, keys.ViewScript):
		if m.activeView == viewJobs && m.selectedID != "" {
			m.inScriptOverlay = true
			m.configureOverlay(m.script)
		}
		return m, nil

	case key.Matches(msg, keys.ViewOutput):
		if m.activeView == viewJobs && m.selectedID != "" {
			m.inOutputOverlay = true
			m.configureOverlay(m.outputOverlayContent())
			if !m.outputBusy {
				m.outputBusy = true
				cmds = append(cmds, m.outputFullCmd(m.selGen, m.selectedID, m.rawDetail))
			}
		}
		return m, tea.Batch(cmds...)

	case key.Matches(msg, keys.Sort):
		col := sortKeyToColumn(msg.String())
		if m.activeView == viewJobs {
			if col < len(jobColumns) {
				m.jobSort.Select(col, jobColumns[col].Kind)
			}
		} else {
			if col < len(nodeColumns) {
				m.nodeSort.Select(col, nodeColumns[col].Kind)
			}
		}
		m.rebuildRows()
		cmds = append(cmds, m.syncSelection()...)
		return m, tea.Batch(cmds...)
	}

	// Let the active table handle navigation, then track selection.
	if m.activeView == viewJobs {
		m.jobsTable, cmd = m.jobsTable.Update(msg)
	} else {
		m.nodesTable, cmd = m.nodesTable.Update(msg)
	}
	cmds = append(cmds, cmd)
	cmds = append(cmds, m.syncSelection()...)
	return m, tea.Batch(cmds...)
}

// sortKeyToColumn maps the number row to a column index, with 0 meaning the
// tenth column.
func sortKeyToColumn(k string) int {
	if k == "0" {
		return 9
	}
	return int(k[0] - '1')
}

func (m *Model) setStatus(s string) {
	m.statusMsg = s
	m.statusExpiry = time.Now().Add(3 * time.Second)
}

func (m *Model) selectedRowID() string {
	var row table.Row
	if m.activeView == viewJobs {
		row = m.jobsTable.SelectedRow()
	} else {
		row = m.nodesTable.SelectedRow()
	}
	if len(row) == 0 {
		return ""
	}
	return strings.TrimSpace(row[0])
}

func (m *Model) selectedJob() *JobRecord {
	row := m.jobsTable.SelectedRow()
	if len(row) == 0 {
		return nil
	}
	id := strings.TrimSpace(row[0])
	for i := range m.filteredJobs {
		if m.filteredJobs[i].JobID == id {
			return &m.filteredJobs[i]
		}
	}
	return nil
}

// syncSelection detects a changed job selection, bumps the generation and
// kicks off the detail/script loads for the new id.
func (m *Model) syncSelection() []tea.Cmd {
	if m.activeView != viewJobs {
		return nil
	}
	row := m.jobsTable.SelectedRow()
	if len(row) == 0 {
		if m.selectedID != "" {
			m.selectedID = ""
			m.selGen++
			m.rawDetail, m.script, m.stdoutTail, m.stderrTail = "", "", "", ""
		}
		return nil
	}
	id := strings.TrimSpace(row[0])
	if id == m.selectedID {
		return nil
	}
	m.selectedID = id
	m.selGen++
	m.rawDetail, m.script, m.stdoutTail, m.stderrTail = "", "", "", ""
	return []tea.Cmd{
		m.detailCmd(m.selGen, id),
		m.scriptCmd(m.selGen, id),
	}
}

// --- Commands ---

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(time.Duration(m.interval*float64(time.Second)), func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) outputTickCmd() tea.Cmd {
	return tea.Tick(outputRefreshInterval, func(t time.Time) tea.Msg {
		return outputTickMsg(t)
	})
}

// fetchListsCmd loads jobs and nodes concurrently so both views swap in
// together.
func (m Model) fetchListsCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		var (
			jobs    []JobRecord
			nodes   []NodeRecord
			jobsErr error
			nodeErr error
			wg      sync.WaitGroup
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			jobs, jobsErr = client.ListJobs()
		}()
		go func() {
			defer wg.Done()
			nodes, nodeErr = client.ListNodes()
		}()
		wg.Wait()
		if jobsErr != nil {
			return listsMsg{err: jobsErr}
		}
		if nodeErr != nil {
			return listsMsg{err: nodeErr}
		}
		return listsMsg{jobs: jobs, nodes: nodes}
	}
}

func (m Model) detailCmd(gen int, id string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		return detailMsg{gen: gen, jobID: id, detail: client.JobDetail(id)}
	}
}

func (m Model) scriptCmd(gen int, id string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		return scriptMsg{gen: gen, jobID: id, script: client.JobScript(id)}
	}
}

func (m Model) outputCmd(gen int, id, detail string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		stdout, stderr := client.JobOutput(id, false, detail)
		return outputMsg{gen: gen, jobID: id, stdout: stdout, stderr: stderr}
	}
}

func (m Model) outputFullCmd(gen int, id, detail string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		stdout, stderr := client.JobOutput(id, true, detail)
		return outputMsg{gen: gen, jobID: id, stdout: stdout, stderr: stderr}
	}
}

func (m Model) cancelCmd(id string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ok, message := client.CancelJob(id)
		return cancelDoneMsg{jobID: id, ok: ok, message: message}
	}
}

func waitGpustatCmd(feed *GpustatFeed) tea.Cmd {
	return func() tea.Msg {
		text, ok := <-feed.Messages()
		if !ok {
			return nil
		}
		return gpustatMsg(text)
	}
}

func osc52CopyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		seq := osc52.New(text).Limit(100 * 1024)

		termName := strings.ToLower(os.Getenv("TERM"))
		if tmux := os.Getenv("TMUX"); tmux != "" || strings.HasPrefix(termName, "tmux") {
			seq = seq.Tmux()
		} else if strings.HasPrefix(termName, "screen") {
			seq = seq.Screen()
		}

		_, _ = seq.WriteTo(os.Stdout)
		return nil
	}
}

func initialWindowSizeCmd() tea.Cmd {
	return func() tea.Msg {
		width, height := detectTerminalSize()
		return tea.WindowSizeMsg{Width: width, Height: height}
	}
}

func detectTerminalSize() (int, int) {
	width, height, err := term.GetSize(os.Stdout.Fd())
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

// --- Rows ---

// rebuildRows applies the filter and active sort to the raw snapshots and
// pushes the result into the tables.
func (m *Model) rebuildRows() {
	m.filteredJobs = m.filter.ApplyJobs(m.jobs)
	sortJobs(m.filteredJobs, m.jobSort)

	m.filteredNodes = m.filter.ApplyNodes(m.nodes)
	sortNodes(m.filteredNodes, m.nodeSort)

	prevID := m.selectedID

	jobRows := make([]table.Row, 0, len(m.filteredJobs))
	ncols := len(m.jobsTable.Columns())
	for _, j := range m.filteredJobs {
		full := jobRowCells(j)
		if ncols > 0 && ncols < len(full) {
			full = full[:ncols]
		}
		jobRows = append(jobRows, full)
	}
	m.jobsTable.SetRows(jobRows)

	nodeRows := make([]table.Row, 0, len(m.filteredNodes))
	ncols = len(m.nodesTable.Columns())
	for _, n := range m.filteredNodes {
		full := nodeRowCells(n)
		if ncols > 0 && ncols < len(full) {
			full = full[:ncols]
		}
		nodeRows = append(nodeRows, full)
	}
	m.nodesTable.SetRows(nodeRows)

	// Keep the cursor on the previously selected job when it survived the
	// refresh.
	if prevID != "" {
		for i, row := range jobRows {
			if len(row) > 0 && strings.TrimSpace(row[0]) == prevID {
				m.jobsTable.SetCursor(i)
				break
			}
		}
	}
}

func jobRowCells(j JobRecord) table.Row {
	gpu := j.GPUCount
	if j.GPUCount != "0" && j.GPUType != "" {
		gpu = j.GPUCount + " " + j.GPUType
	}
	return table.Row{
		j.JobID,
		truncateCell(j.User, 10),
		truncateCell(j.State, 10),
		truncateCell(j.TimeUsed, 11),
		truncateCell(j.Name, 28),
		truncateCell(gpu, 8),
		truncateCell(j.CPUCount(), 5),
		truncateCell(j.Memory(), 7),
		truncateCell(j.NodeCount(), 5),
		truncateCell(j.TimeLimit, 11),
		truncateCell(j.Partition, 10),
		truncateCell(j.NodeListOrReason(), 24),
	}
}

func nodeRowCells(n NodeRecord) table.Row {
	return table.Row{
		truncateCell(n.Name, 16),
		truncateCell(n.Partition, 10),
		truncateCell(n.State, 10),
		truncateCell(n.CPUAllocDisplay(), 9),
		truncateCell(humanMemoryMB(n.Memory), 8),
		n.GPUTotal(),
		n.GPUUsed(),
		n.GPUAvail(),
		truncateCell(n.Gres, 18),
		truncateCell(n.Avail, 6),
	}
}

// humanMemoryMB renders sinfo's MiB count as a human size.
func humanMemoryMB(mb string) string {
	v, err := strconv.ParseUint(strings.TrimSpace(mb), 10, 64)
	if err != nil {
		return mb
	}
	return strings.ReplaceAll(humanize.IBytes(v*1024*1024), " ", "")
}

func truncateCell(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	if max <= 1 {
		return runewidth.Truncate(s, max, "")
	}
	return runewidth.Truncate(s, max, "…")
}

// --- Layout ---

func (m *Model) applyWindowSize(width, height int) {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	m.width = width
	m.height = height
	m.help.Width = width - 2

	headerHeight := lipgloss.Height(m.renderHeader())
	helpHeight := lipgloss.Height(m.help.View(keys))
	statusHeight := 1

	available := height - headerHeight - helpHeight - statusHeight
	if available < 5 {
		available = 5
	}

	m.hideSide = width < minTableWidth+sideColumnWidth+panelGap
	m.sideWidth = sideColumnWidth
	if m.hideSide {
		m.tableWidth = width - panelChromeWidth
	} else {
		m.tableWidth = width - sideColumnWidth - panelGap - panelChromeWidth
	}
	if m.tableWidth < 20 {
		m.tableWidth = 20
	}

	m.tableHeight = available - 3
	if m.tableHeight < 3 {
		m.tableHeight = 3
	}
	m.detailsHeight = available / 2
	m.gpustatHeight = available - m.detailsHeight

	// Rebuild columns before rows so a shrinking column set never leaves
	// rows with more cells than columns.
	m.jobsTable.SetRows([]table.Row{})
	m.jobsTable.SetColumns(m.responsiveJobColumns())
	m.jobsTable.SetWidth(m.tableWidth)
	m.jobsTable.SetHeight(m.tableHeight)

	m.nodesTable.SetRows([]table.Row{})
	m.nodesTable.SetColumns(m.responsiveNodeColumns())
	m.nodesTable.SetWidth(m.tableWidth)
	m.nodesTable.SetHeight(m.tableHeight)

	m.rebuildRows()
}

func (m Model) responsiveJobColumns() []table.Column {
	widths := []int{8, 10, 10, 11, 28, 8, 5, 7, 5, 11, 10, 24}
	return fitColumns(jobColumnTitles(), widths, m.tableWidth, 5)
}

func (m Model) responsiveNodeColumns() []table.Column {
	widths := []int{16, 10, 10, 9, 8, 5, 5, 5, 18, 6}
	return fitColumns(nodeColumnTitles(), widths, m.tableWidth, 4)
}

func jobColumnTitles() []string {
	titles := make([]string, len(jobColumns))
	for i, c := range jobColumns {
		titles[i] = c.Title
	}
	return titles
}

func nodeColumnTitles() []string {
	titles := make([]string, len(nodeColumns))
	for i, c := range nodeColumns {
		titles[i] = c.Title
	}
	return titles
}

// fitColumns keeps a prefix of the column set that fits the width; at least
// minCols survive no matter how narrow the window gets.
func fitColumns(titles []string, widths []int, totalWidth, minCols int) []table.Column {
	cols := make([]table.Column, 0, len(titles))
	used := 0
	for i, title := range titles {
		w := widths[i]
		if len(cols) >= minCols && used+w+2 > totalWidth {
			break
		}
		cols = append(cols, table.Column{Title: title, Width: w})
		used += w + 2
	}
	return cols
}

// --- View ---

func (m Model) View() string {
	if m.inScriptOverlay {
		return m.renderOverlay(fmt.Sprintf("Script %s", m.selectedID))
	}
	if m.inOutputOverlay {
		return m.renderOverlay(fmt.Sprintf("Output %s", m.selectedID))
	}

	header := m.renderHeader()
	tablePanel := m.renderTablePanel()

	mainView := tablePanel
	if !m.hideSide {
		side := m.renderSideColumn()
		gap := lipgloss.NewStyle().Width(panelGap).Render(" ")
		mainView = lipgloss.JoinHorizontal(lipgloss.Top, tablePanel, gap, side)
	}

	sections := []string{header, mainView, m.renderStatusLine(), m.help.View(keys)}

	fullView := lipgloss.JoinVertical(lipgloss.Left, sections...)
	fullView = clampViewHeight(fullView, m.height)
	fullView = clampViewWidth(fullView, m.width)
	return lipgloss.Place(m.width, m.height, lipgloss.Left, lipgloss.Top, fullView)
}

func (m Model) renderHeader() string {
	required := []string{
		metaPillStyle.Render("smon " + version),
		metaMutedPillStyle.Render("View " + m.activeView.String()),
		filterBoxStyle.Render(m.searchInput.View()),
	}
	if m.client != nil && m.client.Mock() {
		required = append(required, metaMutedPillStyle.Copy().Background(accentOrange).Foreground(textOnAccent).Render("Mock"))
	}
	if m.err != nil {
		required = append(required, metaAlertPillStyle.Render("Error "+shortenText(m.err.Error(), 40)))
	}

	optional := []string{}
	if m.filter.User != "" {
		optional = append(optional, metaMutedPillStyle.Render("User "+m.filter.User))
	}
	if m.filter.Partition != "" {
		optional = append(optional, metaMutedPillStyle.Render("Part "+m.filter.Partition))
	}
	state := m.filter.State
	if state == "" {
		state = "All"
	}
	optional = append(optional, metaMutedPillStyle.Render("State "+state))
	optional = append(optional, metaMutedPillStyle.Render(fmt.Sprintf("Every %.0fs", m.interval)))
	if m.realtime {
		optional = append(optional, metaMutedPillStyle.Copy().Background(accentGreen).Foreground(textOnAccent).Render("Live"))
	}
	if job := m.selectedJob(); job != nil {
		switch classifyTimeRatio(calculateTimeRatio(job.TimeUsed, job.TimeLimit)) {
		case ratioCritical:
			optional = append(optional, timeRatioCriticalStyle.Render("Limit!"))
		case ratioWarning:
			optional = append(optional, timeRatioWarningStyle.Render("Limit soon"))
		}
	}
	if !m.lastRefresh.IsZero() {
		optional = append(optional, metaMutedPillStyle.Render("Updated "+m.lastRefresh.Format("15:04:05")))
	}

	parts := append([]string{}, required...)
	parts = append(parts, optional...)
	for len(parts) > 0 && lipgloss.Width(joinWithGap(parts, 1)) > m.width {
		parts = parts[:len(parts)-1]
	}
	return lipgloss.NewStyle().MaxWidth(m.width).Render(joinWithGap(parts, 1))
}

func (m Model) renderTablePanel() string {
	var title string
	var body string
	if m.activeView == viewJobs {
		title = panelTitleStyle.Render(fmt.Sprintf("Jobs (%d)", len(m.filteredJobs)))
		body = m.jobsTable.View()
	} else {
		title = panelTitleStyle.Render(fmt.Sprintf("Nodes (%d)", len(m.filteredNodes)))
		body = m.nodesTable.View()
	}
	if m.activeView == viewJobs {
		title += sortTagJobs(m.jobSort)
	} else {
		title += sortTagNodes(m.nodeSort)
	}

	style := listStyle.Copy().Padding(0, 1)
	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(body))
}

func sortTagJobs(s sortState) string {
	if s.Column < 0 || s.Column >= len(jobColumns) {
		return ""
	}
	return focusTagStyle.Render(sortCaption(jobColumns[s.Column].Title, s.Descending))
}

func sortTagNodes(s sortState) string {
	if s.Column < 0 || s.Column >= len(nodeColumns) {
		return ""
	}
	return focusTagStyle.Render(sortCaption(nodeColumns[s.Column].Title, s.Descending))
}

func sortCaption(title string, descending bool) string {
	arrow := "↑"
	if descending {
		arrow = "↓"
	}
	return title + " " + arrow
}

func (m Model) renderSideColumn() string {
	details := m.renderDetailsPanel()
	gpustat := m.renderGpustatPanel()
	return lipgloss.JoinVertical(lipgloss.Left, details, gpustat)
}

func (m Model) renderDetailsPanel() string {
	title := panelTitleStyle.Render("Details")

	contentWidth := m.sideWidth - 4
	contentHeight := m.detailsHeight - 3
	if contentHeight < 3 {
		contentHeight = 3
	}

	var body string
	switch {
	case m.activeView == viewNodes:
		body = m.renderNodeDetails(contentWidth)
	case m.selectedID == "":
		body = placeholderStyle.Render("Select a job to inspect it.")
	case m.rawDetail == "":
		body = placeholderStyle.Render("Loading details...")
	default:
		body = renderDetailLines(m.rawDetail, contentWidth, contentHeight)
	}

	style := detailsStyle.Copy().Padding(0, 1).Width(m.sideWidth - 2).Height(contentHeight)
	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(body))
}

func (m Model) renderNodeDetails(width int) string {
	row := m.nodesTable.SelectedRow()
	if len(row) == 0 {
		return placeholderStyle.Render("Select a node.")
	}
	name := strings.TrimSpace(row[0])
	for _, n := range m.filteredNodes {
		if truncateCell(n.Name, 16) != name && n.Name != name {
			continue
		}
		lines := []string{
			"Node      " + n.Name,
			"Partition " + n.Partition,
			"State     " + renderNodeState(n.State),
			"CPUs      " + n.CPUAllocDisplay(),
			"Memory    " + humanMemoryMB(n.Memory),
			"GRES      " + n.Gres,
		}
		if n.Enhanced {
			lines = append(lines,
				"GPU used  "+n.GPUUsed()+"/"+n.GPUTotal(),
				"Alloc mem "+humanMemoryMB(n.AllocMem),
			)
		}
		for i := range lines {
			lines[i] = truncateCell(lines[i], width)
		}
		return strings.Join(lines, "\n")
	}
	return placeholderStyle.Render("Select a node.")
}

// renderDetailLines shows the scontrol key=value dump as aligned rows.
func renderDetailLines(detail string, width, height int) string {
	rows := parseDetailRows(detail)
	if len(rows) == 0 {
		return truncateCell(detail, width)
	}
	var lines []string
	for _, kv := range rows {
		if len(lines) >= height {
			break
		}
		val := kv[1]
		if kv[0] == "JobState" {
			val = jobStateStyle(val).Render(val)
		}
		line := detailKeyStyle.Render(padRight(kv[0], 14)) + " " + val
		lines = append(lines, truncateCell(line, width))
	}
	return strings.Join(lines, "\n")
}

// parseDetailRows splits scontrol "Key=Value Key=Value" text into pairs,
// one pair per whitespace-separated token with an equals sign.
func parseDetailRows(text string) [][2]string {
	if strings.HasPrefix(text, "Failed") {
		return [][2]string{{"Error", text}}
	}
	var rows [][2]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, field := range strings.Fields(line) {
			parts := strings.SplitN(field, "=", 2)
			if len(parts) != 2 {
				continue
			}
			val := parts[1]
			if val == "" {
				val = "(empty)"
			}
			rows = append(rows, [2]string{parts[0], val})
		}
	}
	return rows
}

func renderNodeState(state string) string {
	return nodeStateStyle(state).Render(state)
}

func padRight(s string, width int) string {
	if runewidth.StringWidth(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-runewidth.StringWidth(s))
}

func (m Model) renderGpustatPanel() string {
	title := panelTitleStyle.Render("GPU Status")
	contentHeight := m.gpustatHeight - 3
	if contentHeight < 3 {
		contentHeight = 3
	}

	body := m.gpustatText
	if m.feed == nil {
		body = placeholderStyle.Render("gpustat-web not configured")
	} else if body == "" {
		body = placeholderStyle.Render("Connecting to gpustat-web...")
	}
	body = clampViewHeight(body, contentHeight)
	body = clampViewWidth(body, m.sideWidth-4)

	style := detailsStyle.Copy().Padding(0, 1).Width(m.sideWidth - 2).Height(contentHeight)
	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(body))
}

func (m Model) renderStatusLine() string {
	if m.cancelArmedID != "" {
		return lipgloss.NewStyle().MaxWidth(m.width).Render(
			cancelWarnStyle.Render(fmt.Sprintf("Press 'c' again to cancel job %s, any other key aborts", m.cancelArmedID)),
		)
	}
	if m.statusMsg != "" {
		return lipgloss.NewStyle().MaxWidth(m.width).Render(copyStatusStyle.Render(m.statusMsg))
	}
	if m.startupFailed {
		return lipgloss.NewStyle().MaxWidth(m.width).Render(
			filterHintStyle.Render("No data yet: check that slurm tools are on PATH, or run with --mock"),
		)
	}
	return lipgloss.NewStyle().MaxWidth(m.width).Render(filterHintStyle.Render("Press '/' to search, 'n' for nodes, '?' for all keys"))
}

func (m *Model) configureOverlay(content string) {
	helpH := lipgloss.Height(m.help.View(keys))
	h := m.height - helpH - 4
	if h < 5 {
		h = 5
	}
	w := m.width - panelChromeWidth
	if w < 10 {
		w = 10
	}
	m.overlayView = viewport.New(w, h)
	if strings.TrimSpace(content) == "" {
		content = placeholderStyle.Render("(loading)")
	}
	m.overlayView.SetContent(content)
	m.overlayView.GotoTop()
}

func (m Model) outputOverlayContent() string {
	var b strings.Builder
	b.WriteString(panelTitleStyle.Render("stdout"))
	b.WriteString("\n")
	if strings.TrimSpace(m.stdoutTail) == "" {
		b.WriteString(placeholderStyle.Render("(no stdout)"))
	} else {
		b.WriteString(m.stdoutTail)
	}
	b.WriteString("\n\n")
	b.WriteString(panelTitleStyle.Render("stderr"))
	b.WriteString("\n")
	if strings.TrimSpace(m.stderrTail) == "" {
		b.WriteString(placeholderStyle.Render("(no stderr)"))
	} else {
		b.WriteString(m.stderrTail)
	}
	return b.String()
}

func (m Model) renderOverlay(titleText string) string {
	title := metaPillStyle.Copy().
		Foreground(textStrong).
		BorderForeground(panelBorder).
		Render(titleText)
	hint := metaMutedPillStyle.Render("Esc/q close")

	top := joinWithGap([]string{title, hint}, 1)
	top = lipgloss.NewStyle().MaxWidth(m.width).Render(top)

	panel := detailsStyle.Copy().Padding(0, 1).Width(m.width - 2).Render(m.overlayView.View())

	view := lipgloss.JoinVertical(lipgloss.Left, top, panel, m.help.View(keys))
	view = clampViewHeight(view, m.height)
	view = clampViewWidth(view, m.width)
	return lipgloss.Place(m.width, m.height, lipgloss.Left, lipgloss.Top, view)
}

// --- misc helpers ---

func joinWithGap(parts []string, gap int) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	if len(filtered) == 0 {
		return ""
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	if gap <= 0 {
		return lipgloss.JoinHorizontal(lipgloss.Left, filtered...)
	}
	spacer := lipgloss.NewStyle().Width(gap).Render(" ")
	row := filtered[0]
	for _, part := range filtered[1:] {
		row = lipgloss.JoinHorizontal(lipgloss.Left, row, spacer, part)
	}
	return row
}

func shortenText(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func clampViewWidth(view string, width int) string {
	if width <= 0 {
		return view
	}
	lines := strings.Split(strings.ReplaceAll(view, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = truncate.String(line, uint(width))
		}
	}
	return strings.Join(lines, "\n")
}

func clampViewHeight(view string, height int) string {
	if height <= 0 {
		return ""
	}
	lines := strings.Split(strings.ReplaceAll(view, "\r\n", "\n"), "\n")
	if len(lines) <= height {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:height], "\n")
}

// --- CLI ---

func newRootCmd() *cobra.Command {
	var (
		flagRefresh   float64
		flagUser      string
		flagMe        bool
		flagPartition string
		flagGpustat   string
		flagMock      bool
	)

	cmd := &cobra.Command{
		Use:     "slurm-monitor",
		Short:   "Interactive terminal dashboard for Slurm clusters",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig("")
			if cmd.Flags().Changed("refresh") {
				cfg.RefreshInterval = flagRefresh
			}
			if flagMe {
				cfg.UserFilter = CurrentUser()
			} else if flagUser != "" {
				cfg.UserFilter = flagUser
			}
			if flagPartition != "" {
				cfg.PartitionFilter = flagPartition
			}
			if flagGpustat != "" {
				cfg.GpustatURL = flagGpustat
			}

			client, err := NewClient(flagMock, cfg.AssumedGPUType)
			if err != nil {
				return err
			}

			var feed *GpustatFeed
			if cfg.GpustatURL != "" {
				feed, err = NewGpustatFeed(cfg.GpustatURL)
				if err != nil {
					return err
				}
			}

			if os.Getenv(envDebugLog) != "" {
				f, err := tea.LogToFile("slurm-monitor.log", "smon")
				if err == nil {
					defer f.Close()
				}
			}

			p := tea.NewProgram(NewModel(client, cfg, feed), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().Float64Var(&flagRefresh, "refresh", 5.0, "refresh interval in seconds")
	cmd.Flags().StringVar(&flagUser, "user", "", "show only jobs of this user")
	cmd.Flags().BoolVar(&flagMe, "me", false, "show only your own jobs")
	cmd.Flags().StringVarP(&flagPartition, "partition", "p", "", "show only this partition")
	cmd.Flags().StringVar(&flagGpustat, "gpustat-web", "", "gpustat-web URL for the GPU status pane")
	cmd.Flags().BoolVar(&flagMock, "mock", false, "use sample data instead of slurm tools")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
