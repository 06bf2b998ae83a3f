package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// TableFormatter renders service status as an ASCII table.
type TableFormatter struct{}

// FormatServices renders the rows as a table with a health summary footer.
func (f *TableFormatter) FormatServices(rows []ServiceRow) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Name", "Version", "Health"})

	healthy := 0
	for _, row := range rows {
		if row.Health == "healthy" {
			healthy++
		}
		t.AppendRow(table.Row{row.ID, row.Name, row.Version, row.Health})
	}

	if len(rows) > 0 {
		t.AppendFooter(table.Row{
			"",
			"",
			"",
			fmt.Sprintf("%d/%d healthy", healthy, len(rows)),
		})
	}

	return t.Render(), nil
}
