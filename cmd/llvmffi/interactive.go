package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/llvm-ffi/call"
	"github.com/wippyai/llvm-ffi/engine"
	"github.com/wippyai/llvm-ffi/llvm"
	"github.com/wippyai/llvm-ffi/metrics"
	"github.com/wippyai/llvm-ffi/registry"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateBrowse modelState = iota
	stateFilter
	stateDetail
	stateProbe
)

type tab int

const (
	tabRoutines tab = iota
	tabReleases
)

// entry is one row of either table.
type entry struct {
	name   string
	detail string
}

type interactiveModel struct {
	err      error
	cfg      *Config
	rec      *metrics.Recorder
	eng      *engine.WazeroEngine
	lib      *engine.Library
	adapter  *call.Adapter
	report   *probeReport
	filter   textinput.Model
	routines []entry
	releases []entry
	selected int
	tab      tab
	state    modelState
	loading  bool
}

func newInteractiveModel(cfg *Config, rec *metrics.Recorder) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "filter"
	ti.Width = 40

	m := &interactiveModel{
		cfg:     cfg,
		rec:     rec,
		filter:  ti,
		state:   stateBrowse,
		loading: cfg.Wasm != "",
	}
	for _, r := range registry.Routines.All() {
		m.routines = append(m.routines, entry{name: r.Name, detail: routineDetail(r)})
	}
	for _, d := range registry.Releases.All() {
		m.releases = append(m.releases, entry{name: d.Kind, detail: disposalText(d)})
	}
	return m
}

type loadedMsg struct {
	err error
	eng *engine.WazeroEngine
	lib *engine.Library
}

type probeMsg struct {
	err    error
	report *probeReport
}

func (m *interactiveModel) Init() tea.Cmd {
	if m.cfg.Wasm == "" {
		return nil
	}
	return m.loadLibrary
}

func (m *interactiveModel) loadLibrary() tea.Msg {
	ctx := context.Background()

	data, err := os.ReadFile(m.cfg.Wasm)
	if err != nil {
		return loadedMsg{err: err}
	}
	eng, err := engine.NewWazeroEngineWithConfig(ctx, m.cfg.engineConfig())
	if err != nil {
		return loadedMsg{err: err}
	}
	lib, err := eng.Load(ctx, data)
	if err != nil {
		eng.Close(ctx)
		return loadedMsg{err: err}
	}
	return loadedMsg{eng: eng, lib: lib}
}

func (m *interactiveModel) runProbe() tea.Msg {
	report, err := probe(context.Background(), llvm.New(m.adapter))
	return probeMsg{report: report, err: err}
}

func (m *interactiveModel) close() {
	ctx := context.Background()
	if m.adapter != nil {
		_ = m.adapter.Close()
	}
	if m.lib != nil {
		_ = m.lib.Close(ctx)
	}
	if m.eng != nil {
		_ = m.eng.Close(ctx)
	}
}

func (m *interactiveModel) visible() []entry {
	all := m.routines
	if m.tab == tabReleases {
		all = m.releases
	}
	q := strings.ToLower(m.filter.Value())
	if q == "" {
		return all
	}
	var out []entry
	for _, e := range all {
		if strings.Contains(strings.ToLower(e.name), q) {
			out = append(out, e)
		}
	}
	return out
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateFilter {
			switch msg.String() {
			case "enter", "esc":
				m.filter.Blur()
				m.state = stateBrowse
				m.selected = 0
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.selected = 0
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			m.close()
			return m, tea.Quit

		case "up", "k":
			if m.state == stateBrowse && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateBrowse && m.selected < len(m.visible())-1 {
				m.selected++
			}

		case "tab":
			if m.state == stateBrowse {
				m.tab = (m.tab + 1) % 2
				m.selected = 0
			}

		case "/":
			if m.state == stateBrowse {
				m.state = stateFilter
				return m, m.filter.Focus()
			}

		case "p":
			if m.state == stateBrowse && m.adapter != nil {
				m.state = stateProbe
				m.report = nil
				m.err = nil
				return m, m.runProbe
			}

		case "enter":
			switch m.state {
			case stateBrowse:
				if len(m.visible()) > 0 {
					m.state = stateDetail
				}
			case stateDetail, stateProbe:
				m.state = stateBrowse
			}

		case "esc":
			if m.state == stateDetail || m.state == stateProbe {
				m.state = stateBrowse
				m.err = nil
			}
		}

	case loadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.eng = msg.eng
		m.lib = msg.lib
		m.adapter = newAdapter(msg.lib, m.rec)

	case probeMsg:
		m.report = msg.report
		m.err = msg.err
	}

	return m, nil
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateProbe {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("LLVM-C Boundary"))
	b.WriteString(" ")
	switch {
	case m.loading:
		b.WriteString("loading " + m.cfg.Wasm + "...")
	case m.lib != nil:
		b.WriteString(m.cfg.Wasm)
	default:
		b.WriteString("tables only")
	}
	b.WriteString("\n\n")

	switch m.state {
	case stateBrowse, stateFilter:
		if m.tab == tabRoutines {
			b.WriteString(selectedStyle.Render(" routines ") + "  releases\n\n")
		} else {
			b.WriteString(" routines  " + selectedStyle.Render(" releases ") + "\n\n")
		}
		for i, e := range m.visible() {
			line := funcStyle.Render(e.name)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + e.name))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if m.state == stateFilter || m.filter.Value() != "" {
			b.WriteString(m.filter.View())
			b.WriteString("\n")
		}
		help := "↑/↓ select • enter details • tab switch table • / filter • q quit"
		if m.adapter != nil {
			help = "↑/↓ select • enter details • tab switch table • / filter • p probe • q quit"
		}
		b.WriteString(helpStyle.Render(help))

	case stateDetail:
		e := m.visible()[m.selected]
		b.WriteString(funcStyle.Render(e.name))
		b.WriteString("\n\n")
		b.WriteString(typeStyle.Render(e.detail))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter/esc back • q quit"))

	case stateProbe:
		switch {
		case m.err != nil:
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		case m.report == nil:
			b.WriteString("probing...")
		default:
			var out strings.Builder
			m.report.print(&out)
			b.WriteString(resultStyle.Render(out.String()))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter/esc back • q quit"))
	}

	return b.String()
}

func routineDetail(r registry.Routine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", signature(r))
	for _, p := range r.Params {
		fmt.Fprintf(&b, "  %-16s %s", p.Name, paramType(p))
		if p.Dealloc != "" {
			fmt.Fprintf(&b, " via %s", p.Dealloc)
		}
		if p.Nullable {
			b.WriteString(" nullable")
		}
		if p.Message {
			b.WriteString(" (failure message)")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "  %-16s %s\n", "result", resultType(r.Result))
	fmt.Fprintf(&b, "  %-16s %s", "status", r.Status.String())
	return b.String()
}

func runInteractive(cfg *Config, rec *metrics.Recorder) error {
	p := tea.NewProgram(newInteractiveModel(cfg, rec), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
