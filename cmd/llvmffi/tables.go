package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/llvm-ffi/registry"
)

// tables is the audit view of both static tables.
type tables struct {
	Routines []registry.Routine  `yaml:"routines"`
	Releases []registry.Disposal `yaml:"releases"`
}

func currentTables() tables {
	return tables{
		Routines: registry.Routines.All(),
		Releases: registry.Releases.All(),
	}
}

func writeDump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(currentTables()); err != nil {
		return fmt.Errorf("encode tables: %w", err)
	}
	return enc.Close()
}

func dumpTo(path string, stdout io.Writer) error {
	if path == "-" {
		return writeDump(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dump: %w", err)
	}
	if err := writeDump(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func signature(r registry.Routine) string {
	params := make([]string, len(r.Params))
	for i, p := range r.Params {
		params[i] = p.Name + " " + paramType(p)
	}
	return r.Name + "(" + strings.Join(params, ", ") + ")"
}

func paramType(p registry.Param) string {
	switch p.Kind {
	case registry.ParamHandle, registry.ParamOutHandle, registry.ParamHandleArray:
		s := p.Kind.String() + "<" + p.Handle + ">"
		if p.Ownership != registry.OwnNone {
			s += " " + p.Ownership.String()
		}
		return s
	case registry.ParamString, registry.ParamBytes, registry.ParamOutString:
		return p.Kind.String() + " " + p.Policy.String()
	default:
		return p.Kind.String()
	}
}

func resultType(res registry.Result) string {
	switch res.Shape {
	case registry.ShapeHandle:
		return "handle<" + res.Handle + "> " + res.Ownership.String()
	case registry.ShapeString:
		s := "string " + res.Policy.String()
		if res.Dealloc != "" {
			s += " via " + res.Dealloc
		}
		return s
	default:
		return res.Shape.String()
	}
}

func disposalText(d registry.Disposal) string {
	switch {
	case d.Implicit():
		return "implicit, owned by " + d.Owner
	case d.String:
		return d.Routine + " (string)"
	default:
		return d.Routine
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
)

func newTable(styled bool) *table.Table {
	t := table.New().StyleFunc(func(row, _ int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		return cellStyle
	})
	if styled {
		return t.Border(lipgloss.RoundedBorder()).BorderStyle(borderStyle)
	}
	return t.Border(lipgloss.HiddenBorder())
}

func printTables(w io.Writer, styled bool) {
	routines := newTable(styled).Headers("ROUTINE", "RESULT", "STATUS")
	for _, r := range registry.Routines.All() {
		routines.Row(signature(r), resultType(r.Result), r.Status.String())
	}

	releases := newTable(styled).Headers("KIND", "RELEASE")
	for _, d := range registry.Releases.All() {
		releases.Row(d.Kind, disposalText(d))
	}

	fmt.Fprintf(w, "Routines (%d):\n%s\n\n", registry.Routines.Len(), routines.String())
	fmt.Fprintf(w, "Releases (%d):\n%s\n", registry.Releases.Len(), releases.String())
}
