package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

type LineStatus string

const (
	StatusPending   LineStatus = "pending"
	StatusActive    LineStatus = "active"
	StatusSuccess   LineStatus = "success"
	StatusError     LineStatus = "error"
	StatusCancelled LineStatus = "cancelled"
)

type ChapterLine struct {
	ID          int
	Name        string
	Status      LineStatus
	Message     string
	Percent     float64
	Determinate bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Chapter string
	Error   error
	Time    time.Time
}

// Manager redraws one line per chapter plus an overall bar on a ticker. When
// the writer is not a terminal it prints each chapter once when it finishes.
type Manager struct {
	mu          sync.RWMutex
	out         io.Writer
	interactive bool
	lines       []*ChapterLine
	overall     float64
	title       string
	errors      []ErrorReport
	numLines    int
	displayTick time.Duration
	doneCh      chan struct{}
	displayWg   sync.WaitGroup
	stopOnce    sync.Once
}

func NewManager(title string) *Manager {
	return &Manager{
		out:         os.Stdout,
		interactive: term.IsTerminal(int(os.Stdout.Fd())),
		title:       title,
		displayTick: 300 * time.Millisecond,
		doneCh:      make(chan struct{}),
	}
}

// NewPlainManager writes to w without cursor control.
func NewPlainManager(title string, w io.Writer) *Manager {
	m := NewManager(title)
	m.out = w
	m.interactive = false
	return m
}

func (m *Manager) Register(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.lines = append(m.lines, &ChapterLine{
		ID:          len(m.lines),
		Name:        name,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
	})
	return len(m.lines) - 1
}

func (m *Manager) line(id int) *ChapterLine {
	if id < 0 || id >= len(m.lines) {
		return nil
	}
	return m.lines[id]
}

func (m *Manager) Start(id int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.line(id); l != nil {
		l.Status = StatusActive
		l.Message = message
		l.StartTime = time.Now()
		l.LastUpdated = l.StartTime
	}
}

func (m *Manager) SetMessage(id int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.line(id); l != nil {
		l.Message = message
		l.LastUpdated = time.Now()
	}
}

func (m *Manager) SetProgress(id int, percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.line(id); l != nil {
		l.Determinate = true
		l.Percent = percent
		l.LastUpdated = time.Now()
	}
}

func (m *Manager) SetOverall(percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overall = percent
}

func (m *Manager) Complete(id int, message string) {
	m.finish(id, StatusSuccess, message, nil)
}

func (m *Manager) ReportError(id int, err error) {
	m.finish(id, StatusError, "", err)
}

func (m *Manager) Cancel(id int) {
	m.finish(id, StatusCancelled, "Cancelled", nil)
}

func (m *Manager) finish(id int, status LineStatus, message string, err error) {
	m.mu.Lock()
	l := m.line(id)
	if l == nil || isFinal(l.Status) {
		m.mu.Unlock()
		return
	}
	l.Status = status
	l.LastUpdated = time.Now()
	if status == StatusSuccess {
		l.Percent = 100
	}
	if message != "" {
		l.Message = message
	}
	if err != nil {
		l.Error = err
		l.Message = "Failed"
		m.errors = append(m.errors, ErrorReport{Chapter: l.Name, Error: err, Time: l.LastUpdated})
	}
	var plain string
	if !m.interactive {
		plain = m.renderLine(l)
	}
	m.mu.Unlock()
	if plain != "" {
		fmt.Fprintln(m.out, plain)
	}
}

func isFinal(s LineStatus) bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

func (m *Manager) statusIndicator(status LineStatus) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusCancelled:
		return warningStyle.Render(StyleSymbols["warning"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) renderLine(l *ChapterLine) string {
	elapsed := time.Since(l.StartTime).Round(time.Second)
	if isFinal(l.Status) {
		elapsed = l.LastUpdated.Sub(l.StartTime).Round(time.Second)
	}
	var message string
	switch l.Status {
	case StatusSuccess:
		message = successStyle.Render(l.Name + " " + StyleSymbols["arrow"] + " " + l.Message)
	case StatusError:
		message = errorStyle.Render(l.Name + " " + StyleSymbols["arrow"] + " " + l.Message)
	case StatusCancelled:
		message = warningStyle.Render(l.Name + " " + StyleSymbols["arrow"] + " " + l.Message)
	case StatusPending:
		return fmt.Sprintf("%s%s %s", indent(1), m.statusIndicator(l.Status), pendingStyle.Render(l.Name+" waiting..."))
	default:
		message = pendingStyle.Render(l.Name + " " + StyleSymbols["arrow"] + " " + l.Message)
	}
	return fmt.Sprintf("%s%s %s %s", indent(1), m.statusIndicator(l.Status), debugStyle.Render(elapsed.String()), message)
}

func (m *Manager) updateDisplay() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.interactive {
		return
	}
	available := getTerminalHeight() - 3

	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}

	var active, pending, done []*ChapterLine
	for _, l := range m.lines {
		switch {
		case isFinal(l.Status):
			done = append(done, l)
		case l.Status == StatusPending:
			pending = append(pending, l)
		default:
			active = append(active, l)
		}
	}

	var rows []string
	rows = append(rows, fmt.Sprintf("%s%s %s", indent(1), headerStyle.Render(m.title), PrintProgressBar(m.overall, 30)))
	for _, l := range active {
		rows = append(rows, m.renderLine(l))
		if l.Determinate {
			rows = append(rows, indent(3)+PrintProgressBar(l.Percent, 30))
		}
	}
	// finished chapters are dropped first when the screen is short
	keepDone := max(0, available-len(rows)-len(pending))
	if len(done) > keepDone {
		if keepDone > 0 {
			rows = append(rows, indent(1)+infoStyle.Render(fmt.Sprintf("%d chapters finished ...", len(done)-keepDone+1)))
			done = done[len(done)-keepDone+1:]
		} else {
			done = nil
		}
	}
	for _, l := range done {
		rows = append(rows, m.renderLine(l))
	}
	for _, l := range pending {
		rows = append(rows, m.renderLine(l))
	}
	if len(rows) > available && available > 0 {
		rows = rows[:available]
	}
	fmt.Fprintln(m.out, strings.Join(rows, "\n"))
	m.numLines = len(rows)
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	m.stopOnce.Do(func() {
		close(m.doneCh)
	})
	m.displayWg.Wait()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, indent(1)+errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			indent(2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(err.Chapter))
		fmt.Fprintf(m.out, "%s%s\n", indent(3), errorStyle.Render(fmt.Sprintf("Error: %v", err.Error)))
	}
}

func (m *Manager) ShowSummary() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var success, failures, cancelled int
	for _, l := range m.lines {
		switch l.Status {
		case StatusSuccess:
			success++
		case StatusError:
			failures++
		case StatusCancelled:
			cancelled++
		}
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, indent(1)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.lines))))
	if failures > 0 {
		fmt.Fprintln(m.out, indent(1)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.lines))))
	}
	if cancelled > 0 {
		fmt.Fprintln(m.out, indent(1)+warningStyle.Render(fmt.Sprintf("Cancelled %d of %d", cancelled, len(m.lines))))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}

func indent(level int) string {
	return strings.Repeat(" ", 2*level)
}
