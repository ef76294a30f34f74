package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"nbscenes/internal/notebook"
	"nbscenes/internal/scenes"
)

var (
	accent = lipgloss.Color("#8BC34A")
	muted  = lipgloss.Color("#6B7280")

	titleStyle  = lipgloss.NewStyle().Bold(true)
	activeStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	sceneStyle  = lipgloss.NewStyle()
	initStyle   = lipgloss.NewStyle().Foreground(muted).Italic(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(muted)

	headerCellStyle = lipgloss.NewStyle().Foreground(muted).PaddingRight(1)
	cellStyle       = lipgloss.NewStyle().PaddingRight(1)
)

// printTable writes rows as aligned columns. Only the column separators of a
// hidden border are drawn, so the output stays plain when piped.
func printTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCellStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

// printScenes writes the scene list of the session's notebook, marking the
// active scene with "*" and the init scene with "(init)".
func printScenes(w io.Writer, s *notebookSession) {
	fmt.Fprintln(w, titleStyle.Render(s.ctrl.NotebookTitle()))
	active := s.ctrl.ActiveScene(s.view)
	initScene := s.ctrl.InitScene()
	for _, name := range s.ctrl.Scenes() {
		marker, style := " ", sceneStyle
		if name == active {
			marker, style = "*", activeStyle
		}
		line := fmt.Sprintf("%s %s", marker, style.Render(name))
		if name == initScene {
			line += " " + initStyle.Render("(init)")
		}
		if n := sceneSize(s.view, name); n > 0 {
			line += " " + mutedStyle.Render(fmt.Sprintf("[%d cells]", n))
		}
		fmt.Fprintln(w, line)
	}
}

func sceneSize(view *notebook.View, name string) int {
	key := scenes.SceneTag(name)
	n := 0
	for _, c := range view.Cells() {
		if notebook.Flag(c.Metadata(), key) {
			n++
		}
	}
	return n
}

// notebookMarkdown lays the notebook out as markdown: markdown cells as is,
// code cells fenced and headed by their index and scene membership.
func notebookMarkdown(s *notebookSession) string {
	active := s.ctrl.ActiveScene(s.view)
	key := scenes.SceneTag(active)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", s.doc.Name())
	fmt.Fprintf(&sb, "Active scene: **%s**\n\n", active)
	for i, c := range s.view.Cells() {
		switch c.Type() {
		case notebook.CellMarkdown:
			sb.WriteString(c.Model().Source())
			sb.WriteString("\n\n")
		case notebook.CellCode:
			label := fmt.Sprintf("`[%d]`", i)
			if notebook.Flag(c.Metadata(), key) {
				label += " in scene"
			}
			sb.WriteString(label + "\n\n")
			sb.WriteString("```python\n")
			sb.WriteString(c.Model().Source())
			sb.WriteString("\n```\n\n")
		default:
			fmt.Fprintf(&sb, "`[%d]` %s cell\n\n", i, c.Type())
		}
	}
	return sb.String()
}

func renderMarkdown(md, style string, width int) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create renderer: %w", err)
	}
	return r.Render(md)
}
