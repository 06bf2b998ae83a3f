package output

import (
	"encoding/json"
)

// JSONFormatter renders service status as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatServices renders the rows as a JSON array.
func (f *JSONFormatter) FormatServices(rows []ServiceRow) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(rows, "", "  ")
	} else {
		data, err = json.Marshal(rows)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
