package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() []ServiceRow {
	return []ServiceRow{
		{ID: "users", Name: "User Service", Version: "1.4.2", Health: "healthy"},
		{ID: "orders", Name: "Order Service", Health: "unhealthy"},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{" markdown ", FormatMarkdown, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestTableFormatter(t *testing.T) {
	rendered, err := (&TableFormatter{}).FormatServices(sampleRows())
	require.NoError(t, err)

	assert.Contains(t, rendered, "users")
	assert.Contains(t, rendered, "User Service")
	assert.Contains(t, rendered, "1/2 healthy")
}

func TestJSONFormatter(t *testing.T) {
	rendered, err := (&JSONFormatter{Indent: true}).FormatServices(sampleRows())
	require.NoError(t, err)

	assert.Contains(t, rendered, `"id": "users"`)
	assert.Contains(t, rendered, `"health": "unhealthy"`)
}

func TestMarkdownFormatter(t *testing.T) {
	rendered, err := (&MarkdownFormatter{}).FormatServices(sampleRows())
	require.NoError(t, err)

	assert.Contains(t, rendered, "| ID | Name | Version | Health |")
	assert.Contains(t, rendered, "| orders | Order Service |  | unhealthy |")
}
