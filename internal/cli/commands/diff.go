package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/remodel-labs/remodel/internal/engine"
)

var (
	diffHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	diffAddStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	diffDelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	diffCtxStyle    = lipgloss.NewStyle().Faint(true)
)

// renderDiffs prints a unified diff per changed file.
func renderDiffs(w io.Writer, diffs []engine.FileDiff) {
	for _, d := range diffs {
		header := d.Path
		if d.NewPath != "" {
			header = d.Path + " -> " + d.NewPath
		}
		fmt.Fprintln(w, diffHeaderStyle.Render("--- "+header))
		if d.Old == d.New {
			fmt.Fprintln(w, diffCtxStyle.Render("  (file moves, content unchanged)"))
			continue
		}
		for _, line := range diffLines(d.Old, d.New) {
			fmt.Fprintln(w, line)
		}
	}
}

// diffLines computes a line diff via the longest common subsequence and
// renders changed lines with one line of surrounding context.
func diffLines(oldText, newText string) []string {
	oldLines := strings.Split(oldText, "\n")
	newLines := strings.Split(newText, "\n")

	n, m := len(oldLines), len(newLines)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if oldLines[i] == newLines[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	type entry struct {
		kind byte // ' ', '-', '+'
		text string
	}
	var entries []entry
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case oldLines[i] == newLines[j]:
			entries = append(entries, entry{' ', oldLines[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			entries = append(entries, entry{'-', oldLines[i]})
			i++
		default:
			entries = append(entries, entry{'+', newLines[j]})
			j++
		}
	}
	for ; i < n; i++ {
		entries = append(entries, entry{'-', oldLines[i]})
	}
	for ; j < m; j++ {
		entries = append(entries, entry{'+', newLines[j]})
	}

	keep := make([]bool, len(entries))
	for idx, e := range entries {
		if e.kind == ' ' {
			continue
		}
		for c := idx - 1; c <= idx+1; c++ {
			if c >= 0 && c < len(entries) {
				keep[c] = true
			}
		}
	}

	var out []string
	skipping := false
	for idx, e := range entries {
		if !keep[idx] {
			if !skipping {
				out = append(out, diffCtxStyle.Render("  ..."))
				skipping = true
			}
			continue
		}
		skipping = false
		switch e.kind {
		case '-':
			out = append(out, diffDelStyle.Render("- "+e.text))
		case '+':
			out = append(out, diffAddStyle.Render("+ "+e.text))
		default:
			out = append(out, diffCtxStyle.Render("  "+e.text))
		}
	}
	return out
}
