package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	csound "github.com/jamestiotio/csound"
	"github.com/jamestiotio/csound/bridge"
	"github.com/jamestiotio/csound/render"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const logTail = 12

type interactiveModel struct {
	err      error
	filename string
	orcFile  string

	b    *bridge.Bridge
	inst *bridge.Instance

	events chan csound.Message
	state  csound.PlayState
	logs   []string

	input       textinput.Model
	inputActive bool
}

func newInteractiveModel(filename, orcFile string) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "i1 0 1"
	ti.Prompt = "score> "
	ti.Width = 40
	return &interactiveModel{
		filename: filename,
		orcFile:  orcFile,
		events:   make(chan csound.Message, 64),
		state:    csound.PlayStateStopped,
		input:    ti,
	}
}

type initializedMsg struct {
	err  error
	b    *bridge.Bridge
	inst *bridge.Instance
}

type engineMsg csound.Message

type opErrMsg struct{ err error }

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.initialize, m.waitForEvent)
}

func (m *interactiveModel) initialize() tea.Msg {
	ctx := context.Background()

	image, err := os.ReadFile(m.filename)
	if err != nil {
		return initializedMsg{err: err}
	}

	b := bridge.New(bridge.Options{Logger: zap.NewNop()})
	inst, err := b.Initialize(ctx, render.Config{
		WasmImage:   image,
		AutoConnect: true,
	})
	if err != nil {
		return initializedMsg{err: err}
	}

	events := m.events
	inst.AddListener(func(msg csound.Message) {
		select {
		case events <- msg:
		default: // drop when the UI falls behind
		}
	})

	if m.orcFile != "" {
		orc, err := os.ReadFile(m.orcFile)
		if err != nil {
			inst.TerminateInstance(ctx)
			return initializedMsg{err: err}
		}
		if err := inst.CompileOrc(ctx, string(orc)); err != nil {
			inst.TerminateInstance(ctx)
			return initializedMsg{err: err}
		}
	}

	return initializedMsg{b: b, inst: inst}
}

func (m *interactiveModel) waitForEvent() tea.Msg {
	return engineMsg(<-m.events)
}

func (m *interactiveModel) lifecycle(fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(context.Background()); err != nil {
			return opErrMsg{err: err}
		}
		return nil
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.inputActive {
			switch msg.String() {
			case "enter":
				line := m.input.Value()
				m.input.SetValue("")
				m.input.Blur()
				m.inputActive = false
				if line != "" && m.inst != nil {
					inst := m.inst
					return m, m.lifecycle(func(ctx context.Context) error {
						return inst.ReadScore(ctx, line)
					})
				}
				return m, nil
			case "esc":
				m.input.Blur()
				m.inputActive = false
				return m, nil
			}
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			ctx := context.Background()
			if m.inst != nil {
				m.inst.TerminateInstance(ctx)
			}
			if m.b != nil {
				m.b.Close(ctx)
			}
			return m, tea.Quit

		case "s":
			if m.inst != nil {
				inst := m.inst
				return m, m.lifecycle(inst.Start)
			}

		case "t":
			if m.inst != nil {
				inst := m.inst
				return m, m.lifecycle(func(ctx context.Context) error {
					_, err := inst.Stop(ctx)
					return err
				})
			}

		case "p":
			if m.inst == nil {
				return m, nil
			}
			inst := m.inst
			if m.state == csound.PlayStatePaused {
				return m, m.lifecycle(inst.Resume)
			}
			return m, m.lifecycle(inst.Pause)

		case "i":
			m.inputActive = true
			m.input.Focus()
			return m, textinput.Blink
		}

	case initializedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.b = msg.b
		m.inst = msg.inst

	case engineMsg:
		switch msg.Kind {
		case csound.KindPlayState:
			m.state = msg.PlayState
		case csound.KindLog:
			m.logs = append(m.logs, msg.Text)
			if len(m.logs) > logTail {
				m.logs = m.logs[len(m.logs)-logTail:]
			}
		}
		return m, m.waitForEvent

	case opErrMsg:
		m.err = msg.err
	}

	return m, nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Csound"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}

	if m.inst == nil {
		b.WriteString("Loading engine...\n")
		return b.String()
	}

	b.WriteString("Instance: ")
	b.WriteString(m.inst.ContextUID())
	b.WriteString("\nState:    ")
	b.WriteString(stateStyle.Render(string(m.state)))
	b.WriteString("\n\n")

	for _, line := range m.logs {
		b.WriteString(logStyle.Render(line))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.inputActive {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter send score • esc cancel"))
	} else {
		b.WriteString(helpStyle.Render("s start • t stop • p pause/resume • i score • q quit"))
	}
	return b.String()
}

func runInteractive(filename, orcFile string) error {
	p := tea.NewProgram(newInteractiveModel(filename, orcFile), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
