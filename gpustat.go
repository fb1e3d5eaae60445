package main

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// gpustatIdleTimeout is how long the feed waits for a frame before nudging
// the server with another query.
const gpustatIdleTimeout = 10 * time.Second

// GpustatFeed streams rendered GPU status text from a gpustat-web instance.
// It owns one websocket at a time and reconnects forever with exponential
// backoff; every update (including connection errors) arrives on Messages.
type GpustatFeed struct {
	wsURL string
	msgs  chan string
	done  chan struct{}
	once  sync.Once
}

// NewGpustatFeed builds a feed for the given gpustat-web HTTP URL.
func NewGpustatFeed(rawURL string) (*GpustatFeed, error) {
	wsURL, err := httpToWsURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &GpustatFeed{
		wsURL: wsURL,
		msgs:  make(chan string, 4),
		done:  make(chan struct{}),
	}, nil
}

// httpToWsURL derives the websocket endpoint from the HTTP URL: same host,
// ws/wss scheme, fixed /ws path.
func httpToWsURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid gpustat-web url")
	}
	if u.Host == "" {
		return "", errors.Errorf("gpustat-web url has no host: %q", rawURL)
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// Messages yields rendered feed text. The channel never closes while the
// feed runs; Close ends delivery.
func (f *GpustatFeed) Messages() <-chan string { return f.msgs }

// Start launches the connection loop.
func (f *GpustatFeed) Start() {
	go f.run()
}

// Close stops the feed. Safe to call more than once.
func (f *GpustatFeed) Close() {
	f.once.Do(func() { close(f.done) })
}

func (f *GpustatFeed) run() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-f.done:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
		if err != nil {
			delay := bo.NextBackOff()
			f.deliver(fmt.Sprintf("%s\nRetrying in %.0fs...",
				gpustatErrorStyle.Render(fmt.Sprintf("Connection error: %v", err)),
				delay.Seconds()))
			select {
			case <-time.After(delay):
				continue
			case <-f.done:
				return
			}
		}

		bo.Reset()
		f.serve(conn)
		conn.Close()
	}
}

// serve pumps one established connection until it fails or the feed closes.
func (f *GpustatFeed) serve(conn *websocket.Conn) {
	var writeMu sync.Mutex
	query := func() error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, []byte(`{"message": "query"}`))
	}
	if err := query(); err != nil {
		return
	}

	// Idle nudge: if no frame arrives within the timeout, re-send the
	// query rather than tearing the connection down.
	idle := time.AfterFunc(gpustatIdleTimeout, func() { query() })
	defer idle.Stop()

	closed := make(chan struct{})
	go func() {
		select {
		case <-f.done:
			conn.Close()
		case <-closed:
		}
	}()
	defer close(closed)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
			default:
				f.deliver(gpustatErrorStyle.Render(fmt.Sprintf("Connection lost: %v", err)))
			}
			return
		}
		idle.Reset(gpustatIdleTimeout)
		f.deliver(renderGpustatHTML(string(data)))
	}
}

func (f *GpustatFeed) deliver(msg string) {
	select {
	case f.msgs <- msg:
	case <-f.done:
	default:
		// Drop when the UI lags; the next frame supersedes this one anyway.
	}
}

var (
	scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	preTagRe    = regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`)
	spanTagRe   = regexp.MustCompile(`(?is)<span[^>]*class="([^"]*)"[^>]*>(.*?)</span>`)
	anyTagRe    = regexp.MustCompile(`<[^>]+>`)
)

// gpustat-web emits ansi2html spans; map the classes it uses back to
// terminal styles. A span may carry several classes (e.g. bold + color),
// so they compose in declaration order.
var gpustatClassStyles = []struct {
	class string
	apply func(lipgloss.Style) lipgloss.Style
}{
	{"ansi31", func(s lipgloss.Style) lipgloss.Style { return s.Foreground(lipgloss.Color("1")) }},
	{"ansi32", func(s lipgloss.Style) lipgloss.Style { return s.Foreground(lipgloss.Color("2")) }},
	{"ansi33", func(s lipgloss.Style) lipgloss.Style { return s.Foreground(lipgloss.Color("3")) }},
	{"ansi34", func(s lipgloss.Style) lipgloss.Style { return s.Foreground(lipgloss.Color("4")) }},
	{"ansi35", func(s lipgloss.Style) lipgloss.Style { return s.Foreground(lipgloss.Color("5")) }},
	{"ansi36", func(s lipgloss.Style) lipgloss.Style { return s.Foreground(lipgloss.Color("6")) }},
	{"ansi1", func(s lipgloss.Style) lipgloss.Style { return s.Bold(true) }},
	{"ansi2", func(s lipgloss.Style) lipgloss.Style { return s.Faint(true) }},
}

var gpustatErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

// renderGpustatHTML converts a gpustat-web HTML frame into styled terminal
// text: drop script/style blocks, keep the first <pre>, turn ansi-class
// spans into colored text, strip what remains, unescape entities, and trim
// blank lines at both edges.
func renderGpustatHTML(raw string) string {
	s := scriptTagRe.ReplaceAllString(raw, "")
	s = styleTagRe.ReplaceAllString(s, "")
	if m := preTagRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = spanTagRe.ReplaceAllStringFunc(s, func(span string) string {
		m := spanTagRe.FindStringSubmatch(span)
		if m == nil {
			return span
		}
		classes, content := m[1], m[2]
		style := lipgloss.NewStyle()
		matched := false
		for _, cs := range gpustatClassStyles {
			if strings.Contains(classes, cs.class) {
				style = cs.apply(style)
				matched = true
			}
		}
		if !matched {
			return content
		}
		return style.Render(content)
	})
	s = anyTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t\r")
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
