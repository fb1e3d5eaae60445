package main

import (
	"fmt"
	"os"
	"os/user"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ToolError is returned when an external slurm tool exits non-zero or times
// out. Listing operations propagate it so the caller can decide whether to
// keep showing stale data; advisory operations convert it to display text.
type ToolError struct {
	Tool    string
	Stderr  string
	Timeout bool
}

func (e *ToolError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = "unknown error"
	}
	if e.Timeout {
		return fmt.Sprintf("%s timed out: %s", e.Tool, detail)
	}
	return fmt.Sprintf("%s failed: %s", e.Tool, detail)
}

func newToolError(tool string, exitCode int, stderr string) *ToolError {
	return &ToolError{Tool: tool, Stderr: stderr, Timeout: exitCode == TimeoutExitCode}
}

// Enhanced squeue -O format. The trailing ReqNodes/NodeList/Reason columns
// carry no width so nodelists and reasons are never truncated; the parser
// splits that remainder on whitespace runs instead.
const squeueEnhancedFormat = "JobID:10,Partition:12,NAME:36,USERNAME:10,STATE:10,TRES:50,TimeUsed:12,TimeLimit:14,ReqNodes,NodeList,Reason"

const (
	squeueBasicFormat = "%i|%u|%T|%M|%D|%P|%j|%R|%C|%m"
	sinfoWideFormat   = "NodeList:|,Partition:|,StateLong:|,Available:|,CPUs:|,Memory:|,AllocMem:|,Gres:|,GresUsed:|,CPUsState:|"
	sinfoBasicFormat  = "%N|%P|%t|%a|%c|%m|%G"
)

const (
	listTimeout   = 10 * time.Second
	detailTimeout = 10 * time.Second
	scriptTimeout = 15 * time.Second
	tailTimeout   = 5 * time.Second
	cancelTimeout = 10 * time.Second
)

const noScriptSentinel = "(No script stored by controller)"

// Lines of output shown per stream.
const (
	outputPreviewLines = 20
	outputFullLines    = 100
)

// Client wraps the slurm command-line tools into high-level listing and
// inspection operations. All state is resolved at construction; methods are
// safe for concurrent use.
type Client struct {
	squeue   string
	sinfo    string
	scontrol string
	scancel  string

	mock           bool
	assumedGPUType string
}

// NewClient resolves the slurm tools on PATH. A missing squeue is an error
// unless mock mode is requested explicitly; sample data never appears by
// accident.
func NewClient(mock bool, assumedGPUType string) (*Client, error) {
	c := &Client{
		squeue:         Which("squeue"),
		sinfo:          Which("sinfo"),
		scontrol:       Which("scontrol"),
		scancel:        Which("scancel"),
		mock:           mock,
		assumedGPUType: assumedGPUType,
	}
	if mock {
		return c, nil
	}
	if c.squeue == "" {
		return nil, errors.New("squeue not found in PATH; run with --mock to use sample data")
	}
	return c, nil
}

// Mock reports whether the client serves fixture data.
func (c *Client) Mock() bool { return c.mock }

// ListJobs fetches the job queue, preferring the enhanced fixed-width format
// and falling back to the basic pipe format on older schedulers. Enhanced
// records get their derived GPU fields filled in.
func (c *Client) ListJobs() ([]JobRecord, error) {
	if c.mock {
		return c.mockJobs(), nil
	}

	cmd := fmt.Sprintf("%s -h -O '%s' --states=all", c.squeue, squeueEnhancedFormat)
	code, out, stderr := RunShell(cmd, listTimeout)
	enhanced := true
	if code != 0 {
		cmd = fmt.Sprintf("%s -h -o '%s' --states=all", c.squeue, squeueBasicFormat)
		code, out, stderr = RunShell(cmd, listTimeout)
		enhanced = false
		if code != 0 {
			return nil, newToolError("squeue", code, stderr)
		}
	}

	var jobs []JobRecord
	if enhanced {
		jobs = parseEnhancedJobs(out)
	} else {
		jobs = parseBasicJobs(out)
	}
	for i := range jobs {
		if jobs[i].Enhanced {
			jobs[i].GPUCount = parseGpuCountFromTres(jobs[i].TRES)
			jobs[i].GPUType = parseGpuTypeFromTres(jobs[i].TRES, c.assumedGPUType)
		}
	}
	return jobs, nil
}

// ListNodes fetches the node inventory, one row per node per partition.
func (c *Client) ListNodes() ([]NodeRecord, error) {
	if c.mock {
		return c.mockNodes(), nil
	}
	if c.sinfo == "" {
		return nil, &ToolError{Tool: "sinfo", Stderr: "sinfo not found in PATH"}
	}

	cmd := fmt.Sprintf("%s -N -h -O '%s'", c.sinfo, sinfoWideFormat)
	code, out, _ := RunShell(cmd, listTimeout)
	if code == 0 {
		return parseNodes(out, true), nil
	}

	cmd = fmt.Sprintf("%s -N -h -o '%s'", c.sinfo, sinfoBasicFormat)
	code, out, stderr := RunShell(cmd, listTimeout)
	if code != 0 {
		return nil, newToolError("sinfo", code, stderr)
	}
	return parseNodes(out, false), nil
}

// JobDetail returns the scontrol key=value dump for a job. Detail is
// advisory: failures come back as display text, never as an error.
func (c *Client) JobDetail(jobID string) string {
	if c.mock {
		return fmt.Sprintf("JobId=%s JobName=mock-job\n   UserId=alice(1000) State=RUNNING\n   NumNodes=1 NumCPUs=8 mem=16G\n   StdOut=/tmp/mock-%s.out\n   StdErr=/tmp/mock-%s.err", jobID, jobID, jobID)
	}
	if c.scontrol == "" {
		return "scontrol not available; cannot fetch job detail"
	}
	cmd := fmt.Sprintf("%s show job %s", c.scontrol, shellQuote(jobID))
	code, out, stderr := RunShell(cmd, detailTimeout)
	if code != 0 {
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = "unknown error"
		}
		return "Failed to get job detail: " + detail
	}
	return strings.TrimSpace(out)
}

// JobScript fetches the stored batch script. A controller with no script on
// file yields a sentinel string, never an error.
func (c *Client) JobScript(jobID string) string {
	if c.mock {
		return "#!/bin/bash\n#SBATCH --job-name=mock-job\n#SBATCH --gres=gpu:4\nsrun python train.py"
	}
	if c.scontrol == "" {
		return "scontrol not available; cannot fetch job script"
	}
	cmd := fmt.Sprintf("%s write batch_script %s -", c.scontrol, shellQuote(jobID))
	code, out, _ := RunShell(cmd, scriptTimeout)
	if code == 0 && strings.TrimSpace(out) != "" {
		return strings.TrimRight(out, "\n")
	}
	return noScriptSentinel
}

var (
	stdoutPathRe = regexp.MustCompile(`StdOut=(\S+)`)
	stderrPathRe = regexp.MustCompile(`StdErr=(\S+)`)
)

// JobOutputPaths extracts the StdOut=/StdErr= paths from job detail text.
// Pass a pre-fetched detail to avoid a duplicate scontrol round trip; an
// empty detail triggers a fetch. Missing markers yield empty strings.
func (c *Client) JobOutputPaths(jobID, detail string) (string, string) {
	if detail == "" {
		detail = c.JobDetail(jobID)
	}
	stdout := ""
	if m := stdoutPathRe.FindStringSubmatch(detail); m != nil {
		stdout = m[1]
	}
	stderr := ""
	if m := stderrPathRe.FindStringSubmatch(detail); m != nil {
		stderr = m[1]
	}
	return stdout, stderr
}

// JobOutput reads the tail of the job's stdout and stderr files. Both reads
// run concurrently. Empty and /dev/null paths yield empty content without a
// read attempt; unreadable files yield a descriptive string in place of
// content.
func (c *Client) JobOutput(jobID string, full bool, detail string) (string, string) {
	if c.mock {
		return mockJobOutput(jobID)
	}
	stdoutPath, stderrPath := c.JobOutputPaths(jobID, detail)

	lines := outputPreviewLines
	if full {
		lines = outputFullLines
	}

	var stdoutContent, stderrContent string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		stdoutContent = c.readOutputFile(stdoutPath, lines)
	}()
	go func() {
		defer wg.Done()
		stderrContent = c.readOutputFile(stderrPath, lines)
	}()
	wg.Wait()
	return stdoutContent, stderrContent
}

func (c *Client) readOutputFile(path string, lines int) string {
	if path == "" || path == "/dev/null" {
		return ""
	}
	code, out, stderr := RunShell(fmt.Sprintf("tail -n %d %s", lines, shellQuote(path)), tailTimeout)
	if code != 0 {
		return fmt.Sprintf("Could not read file: %s", strings.TrimSpace(stderr))
	}
	return out
}

// CancelJob requests cancellation. Success iff scancel exits zero; the
// message is either a confirmation or the captured stderr.
func (c *Client) CancelJob(jobID string) (bool, string) {
	if c.mock {
		return true, fmt.Sprintf("Job %s cancelled successfully (mock)", jobID)
	}
	if c.scancel == "" {
		return false, "scancel command not found"
	}
	code, _, stderr := RunShell(fmt.Sprintf("%s %s", c.scancel, shellQuote(jobID)), cancelTimeout)
	if code == 0 {
		return true, fmt.Sprintf("Job %s cancelled successfully", jobID)
	}
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = "Unknown error"
	}
	return false, msg
}

// shellQuote single-quotes a value for safe interpolation into a command
// line handed to the shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// CurrentUser returns the login name for the --me convenience filter.
func CurrentUser() string {
	u, err := user.Current()
	if err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func (c *Client) mockJobs() []JobRecord {
	jobs := []JobRecord{
		{
			JobID:     "12345",
			Partition: "h100",
			Name:      "train-resnet-50",
			User:      "alice",
			State:     "RUNNING",
			TRES:      "billing=8,cpu=16,gres/gpu:h100:4,mem=64G,node=1",
			TimeUsed:  "2:15:30",
			TimeLimit: "1-00:00:00",
			ReqNodes:  "1",
			NodeList:  "dgx-h100-01",
			Enhanced:  true,
		},
		{
			JobID:     "12346",
			Partition: "a100",
			Name:      "inference-bert-large",
			User:      "bob",
			State:     "PENDING",
			TRES:      "billing=2,cpu=8,gres/gpu:a100:2,mem=32G,node=1",
			TimeUsed:  "0:00",
			TimeLimit: "12:00:00",
			ReqNodes:  "1",
			NodeList:  "",
			Reason:    "Resources",
			Enhanced:  true,
		},
		{
			JobID:     "12347",
			Partition: "cpu",
			Name:      "data-preprocessing",
			User:      "charlie",
			State:     "RUNNING",
			TRES:      "billing=4,cpu=32,mem=128G,node=1",
			TimeUsed:  "5:45:12",
			TimeLimit: "6:00:00",
			ReqNodes:  "1",
			NodeList:  "cpu-worker-01",
			Enhanced:  true,
		},
	}
	for i := range jobs {
		jobs[i].GPUCount = parseGpuCountFromTres(jobs[i].TRES)
		jobs[i].GPUType = parseGpuTypeFromTres(jobs[i].TRES, c.assumedGPUType)
	}
	return jobs
}

func (c *Client) mockNodes() []NodeRecord {
	return []NodeRecord{
		{
			Name:      "dgx-h100-01",
			Partition: "h100",
			State:     "mixed",
			Avail:     "up",
			CPUs:      "224",
			Memory:    "2064384",
			AllocMem:  "1032192",
			Gres:      "gpu:h100:8",
			GresUsed:  "gpu:h100:4(IDX:0-3)",
			CPUsState: "112/104/8/224",
			Enhanced:  true,
		},
		{
			Name:      "dgx-h100-02",
			Partition: "h100",
			State:     "idle",
			Avail:     "up",
			CPUs:      "224",
			Memory:    "2064384",
			AllocMem:  "0",
			Gres:      "gpu:h100:8",
			GresUsed:  "gpu:h100:0",
			CPUsState: "0/224/0/224",
			Enhanced:  true,
		},
		{
			Name:      "cpu-worker-01",
			Partition: "cpu",
			State:     "allocated",
			Avail:     "up",
			CPUs:      "128",
			Memory:    "515072",
			AllocMem:  "480000",
			Gres:      "(null)",
			GresUsed:  "(null)",
			CPUsState: "128/0/0/128",
			Enhanced:  true,
		},
	}
}

func mockJobOutput(jobID string) (string, string) {
	stdout := fmt.Sprintf("[job %s] epoch 12/90  loss 0.482  lr 3.0e-4\n[job %s] epoch 12/90  step 1840  428 img/s\n[job %s] checkpoint written to ckpt/epoch12.pt\n", jobID, jobID, jobID)
	stderr := "UserWarning: torch.cuda.amp autocast is enabled\n"
	return stdout, stderr
}
