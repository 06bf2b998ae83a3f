package output

import (
	"fmt"
	"strings"
)

// MarkdownFormatter renders service status as a markdown table.
type MarkdownFormatter struct{}

// FormatServices renders the rows as a markdown table.
func (f *MarkdownFormatter) FormatServices(rows []ServiceRow) (string, error) {
	var b strings.Builder

	b.WriteString("| ID | Name | Version | Health |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", row.ID, row.Name, row.Version, row.Health)
	}

	return strings.TrimRight(b.String(), "\n"), nil
}
