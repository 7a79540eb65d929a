package report

import (
	"fmt"
	"strings"
)

func heading(b *strings.Builder, level int, title string) {
	fmt.Fprintf(b, "%s %s\n\n", strings.Repeat("#", level), title)
}

// table writes a GitHub-flavoured markdown table followed by a blank line.
func table(b *strings.Builder, headers []string, rows [][]string) {
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	b.WriteString("|")
	for range headers {
		b.WriteString("--------|")
	}
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	b.WriteString("\n")
}

func list(b *strings.Builder, items []string) {
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
	b.WriteString("\n")
}

func price(v float64) string { return fmt.Sprintf("%.8g", v) }
