// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 nephostat authors

package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mkndaq/nephostat/pkg/acoem"
)

// instrumentAPI is the part of a session the monitor uses
type instrumentAPI interface {
	Dialect() acoem.Dialect
	GetOperatingState(ctx context.Context) (acoem.OperatingState, error)
	SetOperatingState(ctx context.Context, state acoem.OperatingState) error
	GetParameterValues(ctx context.Context, ids []acoem.ParameterID) (map[acoem.ParameterID]acoem.ParamValue, error)
	GetLoggingConfiguration(ctx context.Context) ([]acoem.ParameterID, error)
	GetDateTime(ctx context.Context) (time.Time, error)
}

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// TUI model
type monitorModel struct {
	session  instrumentAPI
	name     string
	connInfo string
	interval time.Duration
	timeout  time.Duration
	started  time.Time

	stats    *acoem.Statistics
	eventLog []eventLogEntry
	maxLog   int

	params    []acoem.ParameterID
	values    map[acoem.ParameterID]acoem.ParamValue
	state     acoem.OperatingState
	hasState  bool
	clock     time.Time
	lastPoll  time.Time
	polling   bool
	switching bool

	paramInput  textinput.Model
	inputActive bool
	spinner     spinner.Model

	width    int
	height   int
	quitting bool
}

// Messages
type monitorTickMsg time.Time

type pollResultMsg struct {
	state    acoem.OperatingState
	stateErr error
	values   map[acoem.ParameterID]acoem.ParamValue
	valueErr error
	clock    time.Time
	clockErr error
}

type loggingConfigMsg struct {
	ids []acoem.ParameterID
	err error
}

type stateChangedMsg struct {
	state   acoem.OperatingState
	elapsed time.Duration
	err     error
}

func initialMonitorModel(session instrumentAPI, stats *acoem.Statistics, name, connInfo string, params []acoem.ParameterID, interval, timeout time.Duration) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "1001"
	ti.CharLimit = 12
	ti.Width = 14
	ti.Prompt = "Parameter ID: "

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return monitorModel{
		session:    session,
		name:       name,
		connInfo:   connInfo,
		interval:   interval,
		timeout:    timeout,
		started:    time.Now(),
		stats:      stats,
		eventLog:   make([]eventLogEntry, 0),
		maxLog:     100,
		params:     params,
		values:     make(map[acoem.ParameterID]acoem.ParamValue),
		paramInput: ti,
		spinner:    sp,
		width:      80,
		height:     24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	cmds := []tea.Cmd{monitorTickCmd(m.interval), m.spinner.Tick, tea.EnterAltScreen}
	if len(m.params) == 0 && m.session.Dialect() == acoem.DialectBinary {
		cmds = append(cmds, m.loggingConfigCmd())
	} else {
		cmds = append(cmds, m.pollCmd())
	}
	return tea.Batch(cmds...)
}

func monitorTickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) pollCmd() tea.Cmd {
	session, params, timeout := m.session, append([]acoem.ParameterID(nil), m.params...), m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*timeout)
		defer cancel()

		var res pollResultMsg
		res.state, res.stateErr = session.GetOperatingState(ctx)
		if len(params) > 0 {
			res.values, res.valueErr = session.GetParameterValues(ctx, params)
		}
		res.clock, res.clockErr = session.GetDateTime(ctx)
		return res
	}
}

func (m monitorModel) loggingConfigCmd() tea.Cmd {
	session, timeout := m.session, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ids, err := session.GetLoggingConfiguration(ctx)
		return loggingConfigMsg{ids: ids, err: err}
	}
}

func (m monitorModel) setStateCmd(state acoem.OperatingState) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		start := time.Now()
		err := session.SetOperatingState(context.Background(), state)
		return stateChangedMsg{state: state, elapsed: time.Since(start), err: err}
	}
}

// loggedParameters strips the leading field count from a logging
// configuration answer when it matches the number of IDs that follow
func loggedParameters(ids []acoem.ParameterID) []acoem.ParameterID {
	if len(ids) > 1 && int(ids[0]) == len(ids)-1 {
		return ids[1:]
	}
	return ids
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case monitorTickMsg:
		cmds := []tea.Cmd{monitorTickCmd(m.interval)}
		if !m.polling && !m.switching {
			m.polling = true
			cmds = append(cmds, m.pollCmd())
		}
		return m, tea.Batch(cmds...)

	case loggingConfigMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("logging configuration: %v", msg.err), true)
		} else {
			m.params = loggedParameters(msg.ids)
			m.addLogEntry(fmt.Sprintf("Watching %d logged parameters", len(m.params)), false)
		}
		m.polling = true
		return m, m.pollCmd()

	case pollResultMsg:
		m.polling = false
		m.lastPoll = time.Now()
		if msg.stateErr != nil {
			m.addLogEntry(fmt.Sprintf("state: %v", msg.stateErr), true)
		} else {
			if m.hasState && msg.state != m.state {
				m.addLogEntry(fmt.Sprintf("State changed: %s -> %s", m.state, msg.state), false)
			}
			m.state = msg.state
			m.hasState = true
		}
		if msg.valueErr != nil {
			m.addLogEntry(fmt.Sprintf("values: %v", msg.valueErr), true)
		} else {
			for id, v := range msg.values {
				m.values[id] = v
			}
		}
		if msg.clockErr != nil {
			m.addLogEntry(fmt.Sprintf("clock: %v", msg.clockErr), true)
		} else {
			m.clock = msg.clock
		}

	case stateChangedMsg:
		m.switching = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("switch to %s failed: %v", msg.state, msg.err), true)
		} else {
			m.state = msg.state
			m.hasState = true
			m.addLogEntry(fmt.Sprintf("Switched to %s after %s", msg.state, msg.elapsed.Round(time.Millisecond)), false)
		}
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.inputActive {
		switch msg.String() {
		case "esc":
			m.inputActive = false
			m.paramInput.Blur()
			m.paramInput.SetValue("")
			return m, nil
		case "enter":
			m.inputActive = false
			m.paramInput.Blur()
			value := m.paramInput.Value()
			m.paramInput.SetValue("")
			id, err := parseParameterID(value)
			if err != nil {
				m.addLogEntry(err.Error(), true)
				return m, nil
			}
			m.addParam(id)
			if !m.polling {
				m.polling = true
				return m, m.pollCmd()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.paramInput, cmd = m.paramInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "a":
		m.inputActive = true
		return m, m.paramInput.Focus()
	case "r":
		m.stats.Reset()
		m.addLogEntry("Statistics reset", false)
	case "n", "z", "s":
		if m.switching {
			return m, nil
		}
		if m.session.Dialect() != acoem.DialectBinary {
			m.addLogEntry("state changes need the binary protocol", true)
			return m, nil
		}
		state := map[string]acoem.OperatingState{"n": acoem.StateNormal, "z": acoem.StateZeroCheck, "s": acoem.StateSpanCheck}[msg.String()]
		m.switching = true
		m.addLogEntry(fmt.Sprintf("Requesting %s", state), false)
		return m, m.setStateCmd(state)
	}
	return m, nil
}

func (m *monitorModel) addParam(id acoem.ParameterID) {
	for _, p := range m.params {
		if p == id {
			return
		}
	}
	m.params = append(m.params, id)
	sort.Slice(m.params, func(i, j int) bool { return m.params[i] < m.params[j] })
	m.addLogEntry(fmt.Sprintf("Watching %s", acoem.FormatParameter(id)), false)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLog {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLog:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("NEPHOSTAT - " + strings.ToUpper(m.name)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s | up %s | n/z/s: normal/zero/span  a: add parameter  r: reset  q: quit",
		m.connInfo, m.session.Dialect(), acoem.FormatInterval(uint32(time.Since(m.started).Seconds())))))
	s.WriteString("\n\n")

	// Instrument
	status := strings.Builder{}
	stateText := "-"
	if m.hasState {
		stateText = m.state.String()
	}
	stateRender := valueStyle.Render(stateText)
	if m.hasState && m.state != acoem.StateNormal {
		stateRender = warningStyle.Render(stateText)
	}
	status.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("State:"), stateRender))
	if m.switching {
		status.WriteString(" " + m.spinner.View() + headerStyle.Render("switching"))
	} else if m.polling {
		status.WriteString(" " + m.spinner.View())
	}
	status.WriteString("\n")

	clockText := "-"
	if !m.clock.IsZero() {
		offset := m.clock.Sub(time.Now().UTC()).Round(time.Second)
		clockText = fmt.Sprintf("%s (offset %s)", m.clock.Format(time.DateTime), offset)
	}
	status.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Clock:"), valueStyle.Render(clockText)))
	s.WriteString(boxStyle.Render(status.String()))
	s.WriteString("\n\n")

	// Statistics
	snap := m.stats.Snapshot()
	var successPercent float64
	if snap.TotalExchanges > 0 {
		successPercent = float64(snap.SuccessfulExchanges) * 100.0 / float64(snap.TotalExchanges)
	}
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Exchanges:"), valueStyle.Render(fmt.Sprintf("%d", snap.TotalExchanges)),
		labelStyle.Render("OK:"), valueStyle.Render(fmt.Sprintf("%d (%.1f%%)", snap.SuccessfulExchanges, successPercent)),
		labelStyle.Render("Errors:"), func() string {
			errs := snap.TotalExchanges - snap.SuccessfulExchanges
			if errs > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", errs))
			}
			return valueStyle.Render("0")
		}(),
	))
	if snap.TotalExchanges > snap.SuccessfulExchanges {
		statsContent.WriteString(fmt.Sprintf("%s %d   %s %d   %s %d   %s %d\n",
			headerStyle.Render("timeouts"), snap.Timeouts,
			headerStyle.Render("connection"), snap.ConnectionErrors,
			headerStyle.Render("decode"), snap.DecodeErrors,
			headerStyle.Render("other"), snap.OtherErrors,
		))
	}
	var avg time.Duration
	if snap.SuccessfulExchanges > 0 {
		avg = snap.TotalLatency / time.Duration(snap.SuccessfulExchanges)
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		labelStyle.Render("Latency avg:"), valueStyle.Render(avg.Round(time.Millisecond).String()),
		labelStyle.Render("max:"), valueStyle.Render(snap.MaxLatency.Round(time.Millisecond).String()),
		labelStyle.Render("Bytes tx/rx:"), valueStyle.Render(fmt.Sprintf("%d/%d", snap.BytesSent, snap.BytesReceived)),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Values
	if len(m.params) > 0 {
		s.WriteString(labelStyle.Render("Parameters:"))
		s.WriteString("\n")
		values := strings.Builder{}
		for i, id := range m.params {
			text := "-"
			if v, ok := m.values[id]; ok {
				switch {
				case v.IsText:
					text = v.Text
				case id.IsFloat():
					text = fmt.Sprintf("%g", v.Float32())
				default:
					text = fmt.Sprintf("%d", v.Word)
				}
			}
			values.WriteString(fmt.Sprintf("%s %s", labelStyle.Render(fmt.Sprintf("%-22s", acoem.FormatParameter(id))), valueStyle.Render(text)))
			if i < len(m.params)-1 {
				values.WriteString("\n")
			}
		}
		s.WriteString(boxStyle.Render(values.String()))
		s.WriteString("\n\n")
	}

	if m.inputActive {
		s.WriteString(m.paramInput.View())
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 20 - len(m.params)
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(logContent.String()))

	return s.String()
}
