package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/pep299/legal-doc-analyzer/internal/analysis"
)

// analysisMarkdown lays an analysis out as a markdown report
func analysisMarkdown(a *analysis.Analysis) string {
	var b strings.Builder

	b.WriteString("# Document analysis\n\n")
	fmt.Fprintf(&b, "**Complexity:** %d/10\n\n", a.ComplexityRating)
	b.WriteString("## Summary\n\n")
	b.WriteString(strings.TrimSpace(a.Summary))
	b.WriteString("\n\n")

	writeSection(&b, "Red flags", a.RedFlagDetection)
	writeSection(&b, "Key figures", a.FiguresExtraction)
	writeSection(&b, "Loopholes", a.Loopholes)

	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if len(items) == 0 {
		b.WriteString("_None found._\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

// renderMarkdown renders the report for the terminal
func renderMarkdown(a *analysis.Analysis) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}

	out, err := renderer.Render(analysisMarkdown(a))
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return out, nil
}
