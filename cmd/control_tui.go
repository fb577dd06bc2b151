// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/exio"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	controlLogLines  = 8
	controlListWidth = 34
)

// Focus states
const (
	focusPinList = iota
	focusCommandInput
	focusCount
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// pinItem is one logical pin as last reported by the device
type pinItem struct {
	index       int
	caps        board.Capability
	level       bool
	analogue    uint16
	hasAnalogue bool
}

// Implement list.Item interface
func (p pinItem) Title() string {
	return fmt.Sprintf("Pin %-2d %s", p.index, p.caps)
}

func (p pinItem) Description() string {
	if p.hasAnalogue {
		return fmt.Sprintf("analogue %d, digital %s", p.analogue, levelName(p.level))
	}
	if p.caps.Has(board.DigitalInput) || p.caps.Has(board.DigitalOutput) {
		return "digital " + levelName(p.level)
	}
	return "unused"
}

func (p pinItem) FilterValue() string { return fmt.Sprintf("%d", p.index) }

func levelName(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	connMgr  *connectionManager
	connInfo string
	address  uint8

	// Device layout, read once per connection
	version       string
	caps          []byte
	analogueIndex map[int]int // pin to analogue snapshot offset

	// Latest snapshots
	digital  []byte
	analogue []uint16
	lastPoll time.Time
	polls    int

	pinList  list.Model
	cmdInput textinput.Model

	eventLog      []eventLogEntry
	maxLogEntries int
	focusedField  int

	width          int
	height         int
	quitting       bool
	connectionLost bool
	pollFailing    bool
	pollErrors     int
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type pinLayoutMsg struct {
	caps        []byte
	analogueMap []byte
	version     string
}

type snapshotMsg struct {
	at       time.Time
	digital  []byte
	analogue []uint16
}

type pollErrorMsg struct {
	err error
}

type commandResultMsg struct {
	cmd  []byte
	resp []byte
	err  error
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connMgr *connectionManager, connInfo string, address uint8) controlModel {
	ti := textinput.New()
	ti.Placeholder = "wrd 9 1"
	ti.CharLimit = 40
	ti.Width = 30

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	pinList := list.New([]list.Item{}, delegate, controlListWidth, 10)
	pinList.Title = "Pins"
	pinList.SetShowStatusBar(false)
	pinList.SetShowHelp(false)
	pinList.SetFilteringEnabled(false)

	return controlModel{
		connMgr:       connMgr,
		connInfo:      connInfo,
		address:       address,
		analogueIndex: make(map[int]int),
		pinList:       pinList,
		cmdInput:      ti,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		focusedField:  focusPinList,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionRelease && msg.Button == tea.MouseButtonLeft {
			m.pinList, _ = m.pinList.Update(msg)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		return m, controlTickCmd()

	case pinLayoutMsg:
		m.applyLayout(msg)

	case snapshotMsg:
		if m.pollFailing {
			m.pollFailing = false
			m.addLogEntry("Polling resumed", false)
		}
		m.digital = msg.digital
		m.analogue = msg.analogue
		m.lastPoll = msg.at
		m.polls++
		m.updatePinList()

	case pollErrorMsg:
		m.pollErrors++
		if !m.pollFailing {
			m.pollFailing = true
			m.addLogEntry(fmt.Sprintf("Poll failed: %v", msg.err), true)
		}

	case commandResultMsg:
		m.logCommandResult(msg)

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.caps = nil
		m.addLogEntry("Reconnected - reading device layout", false)
	}

	var cmd tea.Cmd
	if m.focusedField == focusCommandInput {
		m.cmdInput, cmd = m.cmdInput.Update(msg)
	} else {
		m.pinList, cmd = m.pinList.Update(msg)
	}
	return m, cmd
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField == focusPinList {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		return m.handleEnter()
	}

	var cmd tea.Cmd
	if m.focusedField == focusCommandInput {
		m.cmdInput, cmd = m.cmdInput.Update(msg)
	} else {
		m.pinList, cmd = m.pinList.Update(msg)
	}
	return m, cmd
}

func (m *controlModel) cycleFocus(delta int) *controlModel {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount
	if m.focusedField == focusCommandInput {
		m.cmdInput.Focus()
	} else {
		m.cmdInput.Blur()
	}
	return m
}

func (m *controlModel) handleEnter() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	if m.focusedField == focusCommandInput {
		return m.sendCommandLine()
	}
	return m.toggleSelectedOutput()
}

// sendCommandLine parses the command input with the send syntax.
func (m *controlModel) sendCommandLine() (tea.Model, tea.Cmd) {
	fields := strings.Fields(m.cmdInput.Value())
	if len(fields) == 0 {
		return m, nil
	}
	frame, err := buildCommand(fields[0], fields[1:])
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}
	m.cmdInput.Reset()
	return m, m.transactCmd(frame)
}

// toggleSelectedOutput drives the selected pin to the opposite of its last
// reported level.
func (m *controlModel) toggleSelectedOutput() (tea.Model, tea.Cmd) {
	item, ok := m.pinList.SelectedItem().(pinItem)
	if !ok {
		return m, nil
	}
	if !item.caps.Has(board.DigitalOutput) {
		m.addLogEntry(fmt.Sprintf("Pin %d is not a digital output", item.index), true)
		return m, nil
	}
	return m, m.transactCmd(exio.NewWriteDigital(uint8(item.index), !item.level))
}

func (m *controlModel) transactCmd(frame []byte) tea.Cmd {
	cm := m.connMgr
	return func() tea.Msg {
		resp, err := cm.transact(frame)
		return commandResultMsg{cmd: frame, resp: resp, err: err}
	}
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
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

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	s.WriteString(titleStyle.Render("IOX CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s | q=quit Tab=switch Enter=toggle/send",
		connStatus, busAddressString(m.address))))
	s.WriteString("\n\n")

	if m.caps == nil {
		s.WriteString(warningStyle.Render("Reading device layout..."))
		s.WriteString("\n\n")
		s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))
		return s.String()
	}

	listStyle := boxStyle.Width(controlListWidth)
	if m.focusedField == focusPinList {
		listStyle = focusedBoxStyle.Width(controlListWidth)
	}
	pinPanel := listStyle.Render(m.pinList.View())

	rightWidth := m.width - controlListWidth - 6
	if rightWidth < 20 {
		rightWidth = 20
	}
	devicePanel := boxStyle.Width(rightWidth).Render(m.renderDevicePanel(statsLabelStyle, statsValueStyle, errorStyle))

	cmdStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusCommandInput {
		cmdStyle = focusedBoxStyle.Width(rightWidth)
	}
	cmdPanel := cmdStyle.Render(statsLabelStyle.Render("Command: ") + m.cmdInput.View())

	right := lipgloss.JoinVertical(lipgloss.Left, devicePanel, cmdPanel)
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, pinPanel, " ", right))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderDevicePanel(statsLabelStyle, statsValueStyle, errorStyle lipgloss.Style) string {
	var analogue, pwm int
	for _, c := range m.caps {
		if board.Capability(c).Has(board.AnalogueInput) {
			analogue++
		}
		if board.Capability(c).Has(board.PWMOutput) {
			pwm++
		}
	}

	var s strings.Builder
	fmt.Fprintf(&s, "%s %s\n", statsLabelStyle.Render("Version:"), statsValueStyle.Render(m.version))
	fmt.Fprintf(&s, "%s %s\n", statsLabelStyle.Render("Pins:"),
		statsValueStyle.Render(fmt.Sprintf("%d (%d analogue, %d PWM)", len(m.caps), analogue, pwm)))

	age := "never"
	if !m.lastPoll.IsZero() {
		age = fmt.Sprintf("%s ago", time.Since(m.lastPoll).Round(100*time.Millisecond))
	}
	fmt.Fprintf(&s, "%s %s  %s %s", statsLabelStyle.Render("Polls:"), statsValueStyle.Render(fmt.Sprintf("%d", m.polls)),
		statsLabelStyle.Render("Last:"), statsValueStyle.Render(age))
	if m.pollErrors > 0 {
		fmt.Fprintf(&s, "  %s %s", statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.pollErrors)))
	}
	return s.String()
}

func (m controlModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	startIdx := len(m.eventLog) - controlLogLines
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) applyLayout(msg pinLayoutMsg) {
	m.caps = msg.caps
	m.version = msg.version
	m.analogueIndex = make(map[int]int, len(msg.analogueMap))
	for offset, pin := range msg.analogueMap {
		m.analogueIndex[int(pin)] = offset
	}
	m.addLogEntry(fmt.Sprintf("Device version %s, %d pins", msg.version, len(msg.caps)), false)
	m.updatePinList()
}

func (m *controlModel) updatePinList() {
	items := make([]list.Item, len(m.caps))
	for i, c := range m.caps {
		item := pinItem{
			index: i,
			caps:  board.Capability(c),
			level: exio.DigitalBit(m.digital, i),
		}
		if offset, ok := m.analogueIndex[i]; ok && offset < len(m.analogue) {
			item.hasAnalogue = true
			item.analogue = m.analogue[offset]
		}
		items[i] = item
	}
	m.pinList.SetItems(items)
}

func (m *controlModel) logCommandResult(msg commandResultMsg) {
	command := strings.TrimSpace(exio.FormatCommand(msg.cmd))
	if msg.err != nil {
		m.addLogEntry(fmt.Sprintf("%s: %v", command, msg.err), true)
		return
	}
	resp := strings.TrimSpace(exio.FormatResponse(msg.cmd[0], msg.resp))
	resp = strings.ReplaceAll(resp, "\n", "; ")
	isNak := len(msg.resp) > 0 && msg.resp[0] == exio.RespNak
	m.addLogEntry(fmt.Sprintf("%s -> %s", command, resp), isNak)
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m *controlModel) updateListSize() {
	height := m.height - controlLogLines - 8
	if height < 6 {
		height = 6
	}
	m.pinList.SetSize(controlListWidth-2, height)
}
