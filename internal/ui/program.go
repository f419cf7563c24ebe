package ui

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

// runOnceModel is a Bubble Tea model that renders once and exits.
type runOnceModel struct {
	content string
}

func (m runOnceModel) Init() tea.Cmd {
	return tea.Quit
}

func (m runOnceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m, nil
}

func (m runOnceModel) View() string {
	return m.content
}

// RenderOnce renders content through Bubble Tea and exits. When stdout is
// not a terminal the content is printed as-is.
func RenderOnce(content string) error {
	if !IsTerminal() {
		_, err := fmt.Fprintln(os.Stdout, content)
		return err
	}
	p := tea.NewProgram(runOnceModel{content: content}, tea.WithOutput(os.Stdout), tea.WithInput(nil))
	_, err := p.Run()
	return err
}

// Printer writes UI components to a writer.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a Printer. If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// SetWidth overrides the terminal width.
func (p *Printer) SetWidth(width int) *Printer {
	p.width = width
	return p
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, fields ...Field) {
	p.Println(NewHeader(title, command, fields...).SetWidth(p.width).Render())
	p.Println("")
}

// PrintResult prints a result box
func (p *Printer) PrintResult(r *Result) {
	p.Println(r.SetWidth(p.width).Render())
}
