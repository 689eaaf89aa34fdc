package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
	"github.com/wippyai/wasm-interp/wasi/preview1"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB"))

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	currentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1).
			Width(32)
)

// continueBatch bounds how many instructions one "continue" key press
// executes before the view refreshes.
const continueBatch = 100_000

// context lines shown around the current instruction
const listingRadius = 4

type keyMap struct {
	Step     key.Binding
	Step10   key.Binding
	Continue key.Binding
	Restart  key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Step, k.Step10, k.Continue, k.Restart, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Step:     key.NewBinding(key.WithKeys("s", " ", "enter"), key.WithHelp("s", "step")),
	Step10:   key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "step 10")),
	Continue: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "continue")),
	Restart:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "restart when finished")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type stepperModel struct {
	ctx      context.Context
	inst     *interp.Instance
	wasi     *preview1.WASI
	help     help.Model
	funcName string
	args     []interp.Value
	results  []interp.Value
	err      error
	done     bool
}

func newStepperModel(ctx context.Context, inst *interp.Instance, funcName string, args []interp.Value, wasi *preview1.WASI) *stepperModel {
	return &stepperModel{
		ctx:      ctx,
		inst:     inst,
		wasi:     wasi,
		help:     help.New(),
		funcName: funcName,
		args:     args,
	}
}

type begunMsg struct{ err error }

func (m *stepperModel) Init() tea.Cmd {
	return m.begin
}

func (m *stepperModel) begin() tea.Msg {
	return begunMsg{err: m.inst.Begin(m.funcName, m.args...)}
}

func (m *stepperModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case begunMsg:
		m.results, m.err, m.done = nil, msg.err, msg.err != nil

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Restart):
			// Begin refuses while an invocation is in flight
			if m.done {
				return m, m.begin
			}
		case key.Matches(msg, keys.Step):
			m.advance(1)
		case key.Matches(msg, keys.Step10):
			m.advance(10)
		case key.Matches(msg, keys.Continue):
			m.advance(continueBatch)
		}
	}
	return m, nil
}

// advance executes up to n instructions, stopping early when the
// invocation returns or traps.
func (m *stepperModel) advance(n int) {
	for ; n > 0 && !m.done; n-- {
		done, err := m.inst.Step(m.ctx)
		if err != nil {
			m.err, m.done = err, true
			return
		}
		if done {
			m.done = true
			m.results, m.err = m.inst.Finish()
		}
	}
}

func (m *stepperModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Stepper"))
	b.WriteString(" ")
	b.WriteString(funcStyle.Render(m.funcName))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  steps: %d", m.inst.Stats().Steps)))
	b.WriteString("\n\n")

	b.WriteString(m.listing())
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		paneStyle.Render(m.stackPane()),
		paneStyle.Render(m.labelPane()),
		paneStyle.Render(m.framePane()),
	))
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(describeError(m.err)))
		b.WriteString("\n")
	case m.done:
		vals := make([]string, len(m.results))
		for i, v := range m.results {
			vals[i] = v.String()
		}
		b.WriteString(resultStyle.Render("returned [" + strings.Join(vals, ", ") + "]"))
		b.WriteString("\n")
	}

	if m.wasi != nil {
		if out := m.wasi.Stdout(); len(out) > 0 {
			b.WriteString(headerStyle.Render("stdout"))
			b.WriteString("\n")
			b.WriteString(string(out))
			if !strings.HasSuffix(string(out), "\n") {
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(keys))
	return b.String()
}

// listing renders the body of the current function around the next
// instruction.
func (m *stepperModel) listing() string {
	_, frame, ok := m.inst.Current()
	if !ok {
		return dimStyle.Render("(no instruction pending)") + "\n"
	}
	body := frame.Func.Body
	from := max(frame.PC-listingRadius, 0)
	to := min(frame.PC+listingRadius+1, len(body))

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s (func %d)", frame.Func.Name, frame.Func.Index)))
	b.WriteString("\n")
	for pc := from; pc < to; pc++ {
		line := fmt.Sprintf("%5d  %s", pc, body[pc])
		if pc == frame.PC {
			b.WriteString(currentStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *stepperModel) stackPane() string {
	lines := []string{headerStyle.Render("operand stack")}
	stack := m.inst.Stack()
	if len(stack) == 0 {
		lines = append(lines, dimStyle.Render("(empty)"))
	}
	for i := len(stack) - 1; i >= 0; i-- {
		lines = append(lines, fmt.Sprintf("%3d  %s", i, stack[i]))
	}
	return strings.Join(lines, "\n")
}

func (m *stepperModel) labelPane() string {
	lines := []string{headerStyle.Render("labels")}
	frames := m.inst.Frames()
	if len(frames) == 0 {
		return strings.Join(append(lines, dimStyle.Render("(none)")), "\n")
	}
	labels := frames[len(frames)-1].Labels()
	for i := len(labels) - 1; i >= 0; i-- {
		l := labels[i]
		lines = append(lines, fmt.Sprintf("%d  %-5s h=%d arity=%d -> %d",
			len(labels)-1-i, l.Kind, l.Height, l.Arity(), l.Target()))
	}
	return strings.Join(lines, "\n")
}

func (m *stepperModel) framePane() string {
	lines := []string{headerStyle.Render("frames")}
	frames := m.inst.Frames()
	if len(frames) == 0 {
		lines = append(lines, dimStyle.Render("(none)"))
	}
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		lines = append(lines, fmt.Sprintf("%s @%d", funcStyle.Render(f.Func.Name), f.PC))
		for n, v := range f.Locals {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("  local %d = %s", n, v)))
		}
	}
	return strings.Join(lines, "\n")
}

func describeError(err error) string {
	var exit *preview1.ExitError
	if errors.As(err, &exit) {
		return fmt.Sprintf("guest exited with status %d", exit.Code)
	}
	if kind, ok := errors.TrapKind(err); ok {
		return fmt.Sprintf("trap (%s): %v", kind, err)
	}
	return "error: " + err.Error()
}

func runInteractive(ctx context.Context, inst *interp.Instance, funcName string, args []interp.Value, wasi *preview1.WASI) error {
	m := newStepperModel(ctx, inst, funcName, args, wasi)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	return m.err
}
